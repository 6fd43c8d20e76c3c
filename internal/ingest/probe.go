package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/your-org/deepguard/internal/analysis"
)

// MediaInfo describes the first video stream of a source.
type MediaInfo struct {
	FrameCount int     `json:"frame_count"`
	FPS        float64 `json:"fps"`
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Codec      string  `json:"codec"`
}

type probeOutput struct {
	Streams []struct {
		CodecName     string `json:"codec_name"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
		Duration      string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe on source. Sources without a decodable video stream,
// frames or frame rate fail with analysis.ErrInvalidMedia.
func Probe(ctx context.Context, source string) (*MediaInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=codec_name,width,height,r_frame_rate,avg_frame_rate,nb_frames,nb_read_packets,duration:format=duration",
		"-of", "json",
		source,
	)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: ffprobe: %s", analysis.ErrInvalidMedia, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("run ffprobe: %w", err)
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (*MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe output: %v", analysis.ErrInvalidMedia, err)
	}
	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("%w: no video stream", analysis.ErrInvalidMedia)
	}
	s := out.Streams[0]

	fps, err := parseRate(s.RFrameRate)
	if err != nil {
		if fps, err = parseRate(s.AvgFrameRate); err != nil {
			return nil, fmt.Errorf("%w: unreadable frame rate %q", analysis.ErrInvalidMedia, s.RFrameRate)
		}
	}

	duration := parseFloat(s.Duration)
	if duration == 0 {
		duration = parseFloat(out.Format.Duration)
	}

	count := parseInt(s.NbFrames)
	if count == 0 {
		count = parseInt(s.NbReadPackets)
	}
	if count == 0 && duration > 0 {
		count = int(math.Round(duration * fps))
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: no frames", analysis.ErrInvalidMedia)
	}
	if duration == 0 {
		duration = float64(count) / fps
	}

	return &MediaInfo{
		FrameCount: count,
		FPS:        fps,
		Duration:   duration,
		Width:      s.Width,
		Height:     s.Height,
		Codec:      s.CodecName,
	}, nil
}

// parseRate parses ffprobe rationals such as "30000/1001" or "25".
func parseRate(r string) (float64, error) {
	num, den, found := strings.Cut(r, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("parse rate %q: %w", r, err)
	}
	d := 1.0
	if found {
		if d, err = strconv.ParseFloat(den, 64); err != nil {
			return 0, fmt.Errorf("parse rate %q: %w", r, err)
		}
	}
	if d == 0 || n <= 0 {
		return 0, fmt.Errorf("invalid rate %q", r)
	}
	return n / d, nil
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
