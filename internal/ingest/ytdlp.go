package ingest

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"path"
	"strings"
)

// directExtensions are served by ffmpeg without resolution.
var directExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true, ".m3u8": true,
}

// ResolveURL maps a user-supplied URL to something ffmpeg can open. Direct
// media links pass through; page URLs (YouTube and similar) go through
// yt-dlp.
func ResolveURL(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("unsupported url %q", raw)
	}
	if directExtensions[strings.ToLower(path.Ext(u.Path))] {
		return raw, nil
	}
	return resolveWithYTDLP(ctx, raw)
}

func resolveWithYTDLP(ctx context.Context, pageURL string) (string, error) {
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"--get-url",
		"--format", "best[height<=1080][vcodec!=none]",
		"--no-playlist",
		pageURL,
	)

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w", err)
	}

	// yt-dlp may return multiple lines (video + audio URLs); use only the first
	first, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	first = strings.TrimSpace(first)
	if first == "" {
		return "", fmt.Errorf("yt-dlp returned empty URL")
	}
	return first, nil
}
