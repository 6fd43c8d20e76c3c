package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/deepguard/internal/models"
	"github.com/your-org/deepguard/internal/storage"
	"github.com/your-org/deepguard/pkg/dto"
)

type AnalysisHandler struct {
	store   AnalysisStore
	objects ObjectStore
}

func NewAnalysisHandler(store AnalysisStore, objects ObjectStore) *AnalysisHandler {
	return &AnalysisHandler{store: store, objects: objects}
}

func toAnalysisResponse(a models.Analysis) dto.AnalysisResponse {
	resp := dto.AnalysisResponse{
		ID:             a.ID,
		Kind:           string(a.Kind),
		Filename:       a.Filename,
		Label:          a.Label,
		IsDeepfake:     a.IsDeepfake,
		Confidence:     a.Confidence,
		FramesAnalyzed: a.FramesAnalyzed,
		FramesWithFace: a.FramesWithFace,
		Result:         a.Result,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
	}
	if a.HeatmapKey != "" {
		resp.HeatmapURL = "/v1/analyses/" + a.ID.String() + "/heatmap"
	}
	return resp
}

func (h *AnalysisHandler) List(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store not configured"})
		return
	}
	var q dto.AnalysisQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit < 0 || q.Offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit and offset must not be negative"})
		return
	}

	analyses, total, err := h.store.ListAnalyses(c.Request.Context(), storage.AnalysisFilter{
		Kind:   q.Kind,
		Label:  q.Label,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.AnalysisListResponse{Analyses: make([]dto.AnalysisResponse, 0, len(analyses)), Total: total}
	for _, a := range analyses {
		resp.Analyses = append(resp.Analyses, toAnalysisResponse(a))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AnalysisHandler) load(c *gin.Context) (*models.Analysis, bool) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store not configured"})
		return nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid analysis id"})
		return nil, false
	}
	a, err := h.store.GetAnalysis(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return a, true
}

func (h *AnalysisHandler) Get(c *gin.Context) {
	a, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toAnalysisResponse(*a))
}

// Heatmap streams the archived attention overlay of an image analysis.
func (h *AnalysisHandler) Heatmap(c *gin.Context) {
	a, ok := h.load(c)
	if !ok {
		return
	}
	if a.HeatmapKey == "" || h.objects == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "heatmap not found"})
		return
	}

	data, err := h.objects.GetObject(c.Request.Context(), a.HeatmapKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "heatmap not found"})
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}
