package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AnalysisKind string

const (
	KindImage AnalysisKind = "image"
	KindVideo AnalysisKind = "video"
)

// Analysis is one stored prediction. Label, IsDeepfake, Confidence and
// ProbabilityFake are nil for indeterminate video verdicts.
type Analysis struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Kind            AnalysisKind    `json:"kind" db:"kind"`
	Filename        string          `json:"filename" db:"filename"`
	Label           *string         `json:"label" db:"label"`
	IsDeepfake      *bool           `json:"is_deepfake" db:"is_deepfake"`
	Confidence      *float64        `json:"confidence" db:"confidence"`
	ProbabilityFake *float64        `json:"probability_fake" db:"probability_fake"`
	FramesAnalyzed  int             `json:"frames_analyzed" db:"frames_analyzed"`
	FramesWithFace  int             `json:"frames_with_face" db:"frames_with_face"`
	MediaKey        string          `json:"media_key,omitempty" db:"media_key"`
	HeatmapKey      string          `json:"heatmap_key,omitempty" db:"heatmap_key"`
	Embedding       []float32       `json:"-" db:"embedding"`
	Result          json.RawMessage `json:"result" db:"result"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// SimilarMatch is a stored analysis ranked by embedding cosine similarity.
type SimilarMatch struct {
	AnalysisID uuid.UUID    `json:"analysis_id"`
	Kind       AnalysisKind `json:"kind"`
	Label      *string      `json:"label"`
	Confidence *float64     `json:"confidence"`
	Similarity float64      `json:"similarity"`
	CreatedAt  time.Time    `json:"created_at"`
}
