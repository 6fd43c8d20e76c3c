package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/deepguard/internal/analysis"
	"github.com/your-org/deepguard/internal/ingest"
	"github.com/your-org/deepguard/internal/jobs"
	"github.com/your-org/deepguard/internal/observability"
	"github.com/your-org/deepguard/internal/report"
	"github.com/your-org/deepguard/pkg/dto"
)

const maxFramesLimit = 60

type ProbeFunc func(ctx context.Context, source string) (*ingest.MediaInfo, error)

type VideoHandler struct {
	analyzer VideoAnalyzer
	open     jobs.OpenFunc
	probe    ProbeFunc
	resolve  func(ctx context.Context, raw string) (string, error)
	limits   Limits
	opts     analysis.Options
	// Optional history.
	Store AnalysisStore
}

func NewVideoHandler(analyzer VideoAnalyzer, open jobs.OpenFunc, probe ProbeFunc, limits Limits, opts analysis.Options) *VideoHandler {
	return &VideoHandler{
		analyzer: analyzer,
		open:     open,
		probe:    probe,
		resolve:  ingest.ResolveURL,
		limits:   limits,
		opts:     opts,
	}
}

// source returns a path or URL ffmpeg can read for the request's `file`
// upload or `url` form field.
func (h *VideoHandler) source(c *gin.Context) (string, string, func(), error) {
	if fh, ferr := c.FormFile("file"); ferr == nil {
		path, cleanup, err := saveVideo(fh, h.limits.MaxVideoBytes)
		if err != nil {
			return "", "", nil, err
		}
		return path, fh.Filename, cleanup, nil
	}

	raw := c.PostForm("url")
	if raw == "" {
		return "", "", nil, badRequest("file or url is required")
	}
	if err := validURL(raw); err != nil {
		return "", "", nil, err
	}
	resolved, err := h.resolve(c.Request.Context(), raw)
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %w", analysis.ErrInvalidMedia, err)
	}
	return resolved, raw, func() {}, nil
}

func parseMaxFrames(c *gin.Context, def int) (int, error) {
	raw := c.Query("max_frames")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxFramesLimit {
		return 0, badRequest("max_frames must be between 1 and %d", maxFramesLimit)
	}
	return n, nil
}

// Predict analyzes a video synchronously within the request timeout.
func (h *VideoHandler) Predict(c *gin.Context) {
	maxFrames, err := parseMaxFrames(c, h.opts.MaxFrames)
	if err != nil {
		respondError(c, err)
		return
	}

	src, name, cleanup, err := h.source(c)
	if err != nil {
		respondError(c, err)
		return
	}
	defer cleanup()

	ctx := c.Request.Context()
	if h.limits.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.limits.RequestTimeout)
		defer cancel()
	}

	video, err := h.open(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", analysis.ErrCancelled, ctx.Err())
		} else if !errors.Is(err, analysis.ErrInvalidMedia) {
			err = fmt.Errorf("%w: %w", analysis.ErrInvalidMedia, err)
		}
		respondError(c, err)
		return
	}
	defer video.Close()

	opts := h.opts
	opts.MaxFrames = maxFrames
	verdict, err := h.analyzer.AnalyzeVideo(ctx, video, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := report.Video(verdict)
	resp.Filename = name
	if v, ok := video.(interface{ Info() ingest.MediaInfo }); ok {
		info := v.Info()
		resp.VideoMetadata.Width, resp.VideoMetadata.Height, resp.VideoMetadata.Codec = info.Width, info.Height, info.Codec
	}
	observability.Predictions.WithLabelValues("video", resp.Verdict).Inc()

	if h.Store != nil {
		id := uuid.New()
		rec, err := report.VideoRecord(id, resp)
		if err == nil {
			err = h.Store.CreateAnalysis(c.Request.Context(), rec)
		}
		if err != nil {
			slog.Warn("store analysis", "error", err)
		} else {
			resp.AnalysisID = &id
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Info probes a video without analyzing it.
func (h *VideoHandler) Info(c *gin.Context) {
	src, name, cleanup, err := h.source(c)
	if err != nil {
		respondError(c, err)
		return
	}
	defer cleanup()

	info, err := h.probe(c.Request.Context(), src)
	if err != nil {
		if !errors.Is(err, analysis.ErrInvalidMedia) && c.Request.Context().Err() == nil {
			err = fmt.Errorf("%w: %w", analysis.ErrInvalidMedia, err)
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"filename": name,
		"video_metadata": dto.VideoMetadata{
			FrameCount: info.FrameCount,
			FPS:        info.FPS,
			Duration:   info.Duration,
			Width:      info.Width,
			Height:     info.Height,
			Codec:      info.Codec,
		},
	})
}
