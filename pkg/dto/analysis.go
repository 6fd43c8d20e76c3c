package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

type AnalysisResponse struct {
	ID             uuid.UUID       `json:"id"`
	Kind           string          `json:"kind"`
	Filename       string          `json:"filename,omitempty"`
	Label          *string         `json:"label"`
	IsDeepfake     *bool           `json:"is_deepfake"`
	Confidence     *float64        `json:"confidence"`
	FramesAnalyzed int             `json:"frames_analyzed,omitempty"`
	FramesWithFace int             `json:"frames_with_face,omitempty"`
	MediaURL       string          `json:"media_url,omitempty"`
	HeatmapURL     string          `json:"heatmap_url,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	CreatedAt      string          `json:"created_at"`
}

type AnalysisListResponse struct {
	Analyses []AnalysisResponse `json:"analyses"`
	Total    int                `json:"total"`
}

type AnalysisQuery struct {
	Kind   string `form:"kind"`
	Label  string `form:"label"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}
