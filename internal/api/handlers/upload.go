package handlers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/deepguard/internal/analysis"
	"github.com/your-org/deepguard/internal/observability"
	"github.com/your-org/deepguard/internal/storage"
	"github.com/your-org/deepguard/internal/vision"
)

var (
	ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}
	VideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".webm"}
)

const (
	minImageSide = 50
	maxImageSide = 4096
)

// Limits bounds what clients may upload.
type Limits struct {
	MaxImageBytes  int64
	MaxVideoBytes  int64
	MaxBatch       int
	RequestTimeout time.Duration
}

type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// respondError maps an error to its status and the {"error": ...} body.
func respondError(c *gin.Context, err error) {
	var re *requestError
	switch {
	case errors.As(err, &re):
		c.JSON(re.status, gin.H{"error": re.msg})
	case errors.Is(err, analysis.ErrCancelled), errors.Is(err, context.DeadlineExceeded):
		observability.AnalysisErrors.WithLabelValues("cancelled").Inc()
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "analysis cancelled"})
	case errors.Is(err, analysis.ErrInvalidMedia):
		observability.AnalysisErrors.WithLabelValues("invalid_media").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, analysis.ErrNoFace):
		observability.AnalysisErrors.WithLabelValues("no_face").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		observability.AnalysisErrors.WithLabelValues("internal").Inc()
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func checkExtension(name string, allowed []string) error {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range allowed {
		if ext == a {
			return nil
		}
	}
	return badRequest("unsupported file format %q, allowed: %s", ext, strings.Join(allowed, ", "))
}

func tooLarge(maxBytes int64) error {
	return &requestError{
		status: http.StatusRequestEntityTooLarge,
		msg:    fmt.Sprintf("file too large, max %d MB", maxBytes>>20),
	}
}

// readImage validates and decodes an uploaded image.
func readImage(fh *multipart.FileHeader, maxBytes int64) (image.Image, []byte, error) {
	if err := checkExtension(fh.Filename, ImageExtensions); err != nil {
		return nil, nil, err
	}
	if ct := fh.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, nil, &requestError{status: http.StatusUnsupportedMediaType, msg: "file must be an image"}
	}
	if fh.Size > maxBytes {
		return nil, nil, tooLarge(maxBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, nil, tooLarge(maxBytes)
	}

	img, _, err := vision.DecodeImage(data)
	if err != nil {
		return nil, nil, badRequest("cannot decode image: %v", err)
	}
	b := img.Bounds()
	if b.Dx() < minImageSide || b.Dy() < minImageSide {
		return nil, nil, badRequest("image too small, min %dx%d", minImageSide, minImageSide)
	}
	if b.Dx() > maxImageSide || b.Dy() > maxImageSide {
		return nil, nil, badRequest("image too large, max %dx%d", maxImageSide, maxImageSide)
	}
	return img, data, nil
}

// saveVideo copies an uploaded video to a temp file. The returned cleanup
// removes it.
func saveVideo(fh *multipart.FileHeader, maxBytes int64) (string, func(), error) {
	if err := checkExtension(fh.Filename, VideoExtensions); err != nil {
		return "", nil, err
	}
	if fh.Size > maxBytes {
		return "", nil, tooLarge(maxBytes)
	}

	src, err := fh.Open()
	if err != nil {
		return "", nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "upload-*"+strings.ToLower(filepath.Ext(fh.Filename)))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(dst.Name()) }

	n, err := io.Copy(dst, io.LimitReader(src, maxBytes+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("save upload: %w", err)
	}
	if n > maxBytes {
		cleanup()
		return "", nil, tooLarge(maxBytes)
	}
	return dst.Name(), cleanup, nil
}

// validURL accepts only remote http(s) sources for user supplied URLs.
func validURL(raw string) error {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return badRequest("url must be http or https")
	}
	return nil
}
