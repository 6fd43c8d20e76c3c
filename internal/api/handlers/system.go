package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/deepguard/internal/config"
)

// Checker is one readiness dependency.
type Checker struct {
	Name string
	Ping func(ctx context.Context) error
}

type SystemHandler struct {
	checks []Checker
	cfg    *config.Config
}

func NewSystemHandler(cfg *config.Config, checks ...Checker) *SystemHandler {
	return &SystemHandler{checks: checks, cfg: cfg}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	for _, chk := range h.checks {
		if err := chk.Ping(ctx); err != nil {
			checks[chk.Name] = err.Error()
			healthy = false
		} else {
			checks[chk.Name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}

// Info describes the loaded model and the request limits.
func (h *SystemHandler) Info(c *gin.Context) {
	m, v, e, s := h.cfg.Model, h.cfg.Video, h.cfg.Explain, h.cfg.Server
	c.JSON(http.StatusOK, gin.H{
		"model": gin.H{
			"name":       m.Name,
			"input_size": m.InputSize,
			"classes":    []string{"real", "fake"},
		},
		"face_detection": gin.H{
			"threshold":     m.DetectionThreshold,
			"min_face_size": m.MinFaceSize,
			"margin":        m.FaceMargin,
		},
		"explainability": gin.H{
			"method":           "gradcam",
			"region_threshold": e.RegionThreshold,
			"min_region_area":  e.MinRegionArea,
			"max_regions":      e.MaxRegions,
		},
		"video": gin.H{
			"default_max_frames": v.MaxFrames,
			"max_frames_limit":   maxFramesLimit,
			"top_k":              v.TopK,
		},
		"limits": gin.H{
			"max_image_mb":    s.MaxImageMB,
			"max_video_mb":    s.MaxVideoMB,
			"max_batch":       s.MaxBatch,
			"request_timeout": s.RequestTimeout.String(),
		},
		"supported_formats": gin.H{
			"image": ImageExtensions,
			"video": VideoExtensions,
		},
		"features": gin.H{
			"history":    h.cfg.Database.Enabled(),
			"async_jobs": h.cfg.NATS.Enabled() && h.cfg.Database.Enabled(),
			"archive":    h.cfg.MinIO.Enabled(),
		},
	})
}
