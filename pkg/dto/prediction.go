package dto

import "github.com/google/uuid"

type Probabilities struct {
	Real float64 `json:"real"`
	Fake float64 `json:"fake"`
}

type AttentionStats struct {
	MeanActivation         float64 `json:"mean_activation"`
	MaxActivation          float64 `json:"max_activation"`
	StdActivation          float64 `json:"std_activation"`
	HighAttentionRatio     float64 `json:"high_attention_ratio"`
	VeryHighAttentionRatio float64 `json:"very_high_attention_ratio"`
}

type Region struct {
	ID             int     `json:"id"`
	XPercent       float64 `json:"x_percent"`
	YPercent       float64 `json:"y_percent"`
	WidthPercent   float64 `json:"width_percent"`
	HeightPercent  float64 `json:"height_percent"`
	CenterXPercent float64 `json:"center_x_percent"`
	CenterYPercent float64 `json:"center_y_percent"`
	Area           int     `json:"area"`
	Intensity      float64 `json:"intensity"`
}

type GradCAM struct {
	HeatmapBase64     string         `json:"heatmap_overlay_base64"`
	AttentionStats    AttentionStats `json:"attention_stats"`
	SuspiciousRegions []Region       `json:"suspicious_regions"`
}

type ConfidenceInterpretation struct {
	Level       string  `json:"level"`
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Color       string  `json:"color"`
	Percentage  float64 `json:"percentage"`
}

type Explanation struct {
	Summary        string   `json:"summary"`
	KeyPoints      []string `json:"key_points"`
	Recommendation string   `json:"recommendation"`
}

type Explainability struct {
	GradCAM                  *GradCAM                 `json:"gradcam"`
	ConfidenceInterpretation ConfidenceInterpretation `json:"confidence_interpretation"`
	Explanation              *Explanation             `json:"explanation,omitempty"`
	Error                    string                   `json:"error,omitempty"`
}

type PredictionResponse struct {
	AnalysisID     *uuid.UUID      `json:"analysis_id,omitempty"`
	Filename       string          `json:"filename,omitempty"`
	IsDeepfake     bool            `json:"is_deepfake"`
	Label          string          `json:"label"`
	Confidence     float64         `json:"confidence"`
	Probabilities  Probabilities   `json:"probabilities"`
	FaceCropped    bool            `json:"face_cropped"`
	Explainability *Explainability `json:"explainability,omitempty"`
	ProcessingTime float64         `json:"processing_time"`
}

type BatchItem struct {
	Filename string              `json:"filename"`
	Result   *PredictionResponse `json:"result,omitempty"`
	Error    string              `json:"error,omitempty"`
}

type BatchResponse struct {
	Results   []BatchItem `json:"results"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
}

type SimilarAnalysis struct {
	AnalysisID uuid.UUID `json:"analysis_id"`
	Kind       string    `json:"kind"`
	Label      *string   `json:"label"`
	Confidence *float64  `json:"confidence"`
	Similarity float64   `json:"similarity"`
	CreatedAt  string    `json:"created_at"`
}

type SimilarResponse struct {
	Query   PredictionResponse `json:"query"`
	Matches []SimilarAnalysis  `json:"matches"`
}
