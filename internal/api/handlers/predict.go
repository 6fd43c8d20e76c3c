package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/deepguard/internal/analysis"
	"github.com/your-org/deepguard/internal/observability"
	"github.com/your-org/deepguard/internal/report"
	"github.com/your-org/deepguard/internal/storage"
	"github.com/your-org/deepguard/internal/vision"
	"github.com/your-org/deepguard/pkg/dto"
)

const maxSimilarResults = 50

type PredictHandler struct {
	analyzer ImageAnalyzer
	limits   Limits
	// Optional history and archive.
	Store   AnalysisStore
	Objects ObjectStore
}

func NewPredictHandler(analyzer ImageAnalyzer, limits Limits) *PredictHandler {
	return &PredictHandler{analyzer: analyzer, limits: limits}
}

// Predict classifies one uploaded image and explains the prediction.
func (h *PredictHandler) Predict(c *gin.Context) {
	start := time.Now()
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	img, data, err := readImage(fh, h.limits.MaxImageBytes)
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.analyzer.AnalyzeImage(c.Request.Context(), img, analysis.ImageOptions{
		CropFace: queryBool(c, "crop_face"),
		Explain:  true,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := report.Image(res, time.Since(start))
	resp.Filename = fh.Filename
	observability.Predictions.WithLabelValues("image", resp.Label).Inc()

	if id, ok := h.archive(c.Request.Context(), resp, res, fh.Filename, data, fh.Header.Get("Content-Type")); ok {
		resp.AnalysisID = &id
	}
	c.JSON(http.StatusOK, resp)
}

// archive stores the upload, heatmap and history row. Failures are logged
// and never fail the prediction.
func (h *PredictHandler) archive(ctx context.Context, resp dto.PredictionResponse, res *analysis.ImageResult, filename string, data []byte, contentType string) (uuid.UUID, bool) {
	if h.Store == nil {
		return uuid.Nil, false
	}
	id := uuid.New()
	rec, err := report.ImageRecord(id, resp, res.Classification)
	if err != nil {
		slog.Warn("build analysis record", "error", err)
		return uuid.Nil, false
	}

	if h.Objects != nil {
		key := storage.UploadKey(id.String(), filename)
		if err := h.Objects.PutObject(ctx, key, data, contentType); err != nil {
			slog.Warn("archive upload", "key", key, "error", err)
		} else {
			rec.MediaKey = key
		}
		if res.Attention != nil {
			key := storage.HeatmapKey(id.String())
			if err := h.Objects.PutObject(ctx, key, res.Attention.Overlay, "image/png"); err != nil {
				slog.Warn("archive heatmap", "key", key, "error", err)
			} else {
				rec.HeatmapKey = key
			}
		}
	}

	if err := h.Store.CreateAnalysis(ctx, rec); err != nil {
		slog.Warn("store analysis", "error", err)
		return uuid.Nil, false
	}
	return id, true
}

// Batch classifies up to MaxBatch images without explainability. Each item
// carries its own result or error.
func (h *PredictHandler) Batch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "files are required"})
		return
	}
	if len(files) > h.limits.MaxBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many files, max " + strconv.Itoa(h.limits.MaxBatch)})
		return
	}

	cropFace := queryBool(c, "crop_face")
	out := dto.BatchResponse{Results: make([]dto.BatchItem, 0, len(files)), Total: len(files)}
	for _, fh := range files {
		item := dto.BatchItem{Filename: fh.Filename}
		start := time.Now()

		img, _, err := readImage(fh, h.limits.MaxImageBytes)
		if err == nil {
			var res *analysis.ImageResult
			res, err = h.analyzer.AnalyzeImage(c.Request.Context(), img, analysis.ImageOptions{CropFace: cropFace})
			if err == nil {
				resp := report.Image(res, time.Since(start))
				item.Result = &resp
				out.Succeeded++
				observability.Predictions.WithLabelValues("image", resp.Label).Inc()
			}
		}
		if err != nil {
			if c.Request.Context().Err() != nil {
				respondError(c, analysis.ErrCancelled)
				return
			}
			item.Error = err.Error()
		}
		out.Results = append(out.Results, item)
	}
	c.JSON(http.StatusOK, out)
}

// Similar finds stored analyses whose face features are closest to the
// uploaded image.
func (h *PredictHandler) Similar(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store not configured"})
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	img, _, err := readImage(fh, h.limits.MaxImageBytes)
	if err != nil {
		respondError(c, err)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "5"))
	if err != nil || limit < 1 {
		limit = 5
	}
	limit = min(limit, maxSimilarResults)
	threshold, err := strconv.ParseFloat(c.DefaultQuery("threshold", "0.5"), 64)
	if err != nil || threshold < -1 || threshold > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be in [-1, 1]"})
		return
	}

	start := time.Now()
	res, err := h.analyzer.AnalyzeImage(c.Request.Context(), img, analysis.ImageOptions{CropFace: queryBool(c, "crop_face")})
	if err != nil {
		respondError(c, err)
		return
	}
	emb := vision.Embedding(res.Classification.Activations)
	if len(emb) != storage.EmbeddingDim {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "model embedding has unexpected size"})
		return
	}

	matches, err := h.Store.SearchSimilar(c.Request.Context(), emb, threshold, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	out := dto.SimilarResponse{
		Query:   report.Image(res, time.Since(start)),
		Matches: make([]dto.SimilarAnalysis, len(matches)),
	}
	out.Query.Filename = fh.Filename
	for i, m := range matches {
		out.Matches[i] = dto.SimilarAnalysis{
			AnalysisID: m.AnalysisID,
			Kind:       string(m.Kind),
			Label:      m.Label,
			Confidence: m.Confidence,
			Similarity: m.Similarity,
			CreatedAt:  m.CreatedAt.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, out)
}

func queryBool(c *gin.Context, name string) bool {
	v := c.Query(name)
	if v == "" {
		v = c.PostForm(name)
	}
	b, _ := strconv.ParseBool(v)
	return b
}
