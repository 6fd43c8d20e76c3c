package analysis

import (
	"fmt"
	"time"

	"github.com/your-org/deepguard/internal/explain"
	"github.com/your-org/deepguard/internal/vision"
)

// FrameResult is the classification of the face found in a frame.
type FrameResult struct {
	Label           vision.Label
	Confidence      float64 // probability mass on Label
	ProbabilityFake float64
}

// FrameRecord is the outcome for one sampled frame. Result is nil exactly
// when FaceDetected is false.
type FrameRecord struct {
	FrameIndex   int // position in the sampled sequence
	SampleIndex  int // frame index in the source video
	Timestamp    float64
	FaceDetected bool
	Result       *FrameResult
	Thumbnail    []byte
	Error        string // set when the frame failed rather than had no face
}

func (r FrameRecord) IsFake() bool {
	return r.Result != nil && r.Result.Label == vision.LabelFake
}

// Segment is a maximal run of face-bearing frames with the same label.
// StartIndex and EndIndex address the face-bearing subsequence.
type Segment struct {
	Label         vision.Label
	StartIndex    int
	EndIndex      int
	FrameCount    int
	StartFrame    int // FrameIndex of the first frame
	EndFrame      int
	StartTime     float64
	EndTime       float64
	AvgConfidence float64
	Suspicious    bool
}

type Outcome string

const (
	OutcomeReal          Outcome = "real"
	OutcomeFake          Outcome = "fake"
	OutcomeIndeterminate Outcome = "indeterminate"
)

// SuspiciousFrame is a frame ranked among those most pulling toward fake.
type SuspiciousFrame struct {
	FrameRecord
	Attention *explain.Result
}

type VideoStats struct {
	FramesExtracted     int
	FramesWithFace      int
	FakeFrames          int
	RealFrames          int
	FakePercentage      float64
	AvgFakeConfidence   float64
	AvgRealConfidence   float64
	MeanFrameConfidence float64
	ProcessingTime      time.Duration
}

type MediaInfo struct {
	FrameCount int
	FPS        float64
	Duration   float64
}

// VideoVerdict is the aggregate result of one video analysis. Confidence
// is zero and meaningless for an indeterminate outcome.
type VideoVerdict struct {
	Outcome          Outcome
	Confidence       float64
	FakeScore        float64
	RealScore        float64
	FramesAnalyzed   int
	FramesWithFace   int
	Frames           []FrameRecord
	Segments         []Segment
	SuspiciousFrames []SuspiciousFrame
	ConsistencyScore float64
	Stats            VideoStats
	Media            MediaInfo
}

func (v *VideoVerdict) IsDeepfake() bool    { return v.Outcome == OutcomeFake }
func (v *VideoVerdict) Indeterminate() bool { return v.Outcome == OutcomeIndeterminate }

// SuspiciousSegments returns the fake segments of at least two frames.
func (v *VideoVerdict) SuspiciousSegments() []Segment {
	var out []Segment
	for _, s := range v.Segments {
		if s.Suspicious {
			out = append(out, s)
		}
	}
	return out
}

// FormatTimestamp renders seconds as MM:SS.
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
