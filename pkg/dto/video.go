package dto

import "github.com/google/uuid"

// TimelineFrame is one sampled frame. Label, Confidence and ProbabilityFake
// are null when no face was analyzed.
type TimelineFrame struct {
	Index              int      `json:"index"`
	SourceFrame        int      `json:"source_frame"`
	Timestamp          float64  `json:"timestamp"`
	TimestampFormatted string   `json:"timestamp_formatted"`
	FaceDetected       bool     `json:"face_detected"`
	Label              *string  `json:"label"`
	Confidence         *float64 `json:"confidence"`
	ProbabilityFake    *float64 `json:"probability_fake"`
	Thumbnail          string   `json:"thumbnail,omitempty"`
	Error              string   `json:"error,omitempty"`
}

type SuspiciousFrame struct {
	TimelineFrame
	GradCAM *GradCAM `json:"gradcam,omitempty"`
}

type Segment struct {
	Label         string  `json:"label"`
	StartIndex    int     `json:"start_index"`
	EndIndex      int     `json:"end_index"`
	FrameCount    int     `json:"frame_count"`
	Start         string  `json:"start"`
	End           string  `json:"end"`
	StartSeconds  float64 `json:"start_seconds"`
	EndSeconds    float64 `json:"end_seconds"`
	AvgConfidence float64 `json:"avg_confidence"`
	Suspicious    bool    `json:"suspicious"`
}

type TemporalAnalysis struct {
	Segments                []Segment `json:"segments"`
	TotalSegments           int       `json:"total_segments"`
	HasSuspiciousSegments   bool      `json:"has_suspicious_segments"`
	SuspiciousSegmentsCount int       `json:"suspicious_segments_count"`
	SuspiciousSegments      []Segment `json:"suspicious_segments"`
	ConsistencyScore        float64   `json:"consistency_score"`
}

type AnalysisStats struct {
	FramesExtracted     int     `json:"frames_extracted"`
	FramesWithFaces     int     `json:"frames_with_faces"`
	FakeFrames          int     `json:"fake_frames"`
	RealFrames          int     `json:"real_frames"`
	FakePercentage      float64 `json:"fake_percentage"`
	AvgFakeConfidence   float64 `json:"avg_fake_confidence"`
	AvgRealConfidence   float64 `json:"avg_real_confidence"`
	MeanFrameConfidence float64 `json:"mean_frame_confidence"`
	FakeScore           float64 `json:"fake_score"`
	RealScore           float64 `json:"real_score"`
	ProcessingTime      float64 `json:"processing_time"`
}

type VideoMetadata struct {
	FrameCount int     `json:"frame_count"`
	FPS        float64 `json:"fps"`
	Duration   float64 `json:"duration"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Codec      string  `json:"codec,omitempty"`
}

type Interpretation struct {
	Summary         string   `json:"summary"`
	KeyPoints       []string `json:"key_points"`
	ConfidenceLevel string   `json:"confidence_level"`
	ConfidenceColor string   `json:"confidence_color"`
	Recommendation  string   `json:"recommendation"`
}

// VideoResponse carries a verdict. IsDeepfake and Confidence are null when
// Indeterminate is true.
type VideoResponse struct {
	AnalysisID       *uuid.UUID        `json:"analysis_id,omitempty"`
	Filename         string            `json:"filename,omitempty"`
	Verdict          string            `json:"verdict"`
	IsDeepfake       *bool             `json:"is_deepfake"`
	Confidence       *float64          `json:"confidence"`
	Indeterminate    bool              `json:"indeterminate"`
	FramesAnalyzed   int               `json:"frames_analyzed"`
	FramesWithFace   int               `json:"frames_with_face"`
	Timeline         []TimelineFrame   `json:"timeline"`
	SuspiciousFrames []SuspiciousFrame `json:"suspicious_frames"`
	TemporalAnalysis TemporalAnalysis  `json:"temporal_analysis"`
	AnalysisStats    AnalysisStats     `json:"analysis_stats"`
	Interpretation   Interpretation    `json:"interpretation"`
	VideoMetadata    VideoMetadata     `json:"video_metadata"`
}
