// Package report shapes analysis results into the public JSON contract.
package report

import (
	"encoding/base64"
	"math"
	"time"

	"github.com/your-org/deepguard/internal/analysis"
	"github.com/your-org/deepguard/internal/explain"
	"github.com/your-org/deepguard/internal/vision"
	"github.com/your-org/deepguard/pkg/dto"
)

// Image builds the response for a single image prediction.
func Image(res *analysis.ImageResult, elapsed time.Duration) dto.PredictionResponse {
	cls := res.Classification
	out := dto.PredictionResponse{
		IsDeepfake:     cls.Label == vision.LabelFake,
		Label:          string(cls.Label),
		Confidence:     cls.Confidence(),
		Probabilities:  dto.Probabilities{Real: cls.ProbReal, Fake: cls.ProbFake},
		FaceCropped:    res.FaceCropped,
		ProcessingTime: elapsed.Seconds(),
	}

	if res.Attention == nil && res.ExplainErr == nil {
		return out
	}

	ex := &dto.Explainability{
		ConfidenceInterpretation: InterpretConfidence(cls.Confidence()),
	}
	if res.ExplainErr != nil {
		ex.Error = res.ExplainErr.Error()
	} else {
		ex.GradCAM = GradCAM(res.Attention)
		ex.Explanation = explainImage(out.IsDeepfake, out.Confidence, res.Attention)
	}
	out.Explainability = ex
	return out
}

func GradCAM(r *explain.Result) *dto.GradCAM {
	if r == nil {
		return nil
	}
	regions := make([]dto.Region, len(r.Regions))
	for i, reg := range r.Regions {
		regions[i] = dto.Region(reg)
	}
	return &dto.GradCAM{
		HeatmapBase64: base64.StdEncoding.EncodeToString(r.Overlay),
		AttentionStats: dto.AttentionStats{
			MeanActivation:         r.Stats.Mean,
			MaxActivation:          r.Stats.Max,
			StdActivation:          r.Stats.Std,
			HighAttentionRatio:     r.Stats.HighRatio,
			VeryHighAttentionRatio: r.Stats.VeryHighRatio,
		},
		SuspiciousRegions: regions,
	}
}

// Video builds the response for a video verdict. Indeterminate verdicts get
// null is_deepfake and confidence.
func Video(v *analysis.VideoVerdict) dto.VideoResponse {
	out := dto.VideoResponse{
		Verdict:          string(v.Outcome),
		Indeterminate:    v.Indeterminate(),
		FramesAnalyzed:   v.FramesAnalyzed,
		FramesWithFace:   v.FramesWithFace,
		Timeline:         make([]dto.TimelineFrame, len(v.Frames)),
		SuspiciousFrames: make([]dto.SuspiciousFrame, len(v.SuspiciousFrames)),
		TemporalAnalysis: temporal(v),
		AnalysisStats: dto.AnalysisStats{
			FramesExtracted:     v.Stats.FramesExtracted,
			FramesWithFaces:     v.Stats.FramesWithFace,
			FakeFrames:          v.Stats.FakeFrames,
			RealFrames:          v.Stats.RealFrames,
			FakePercentage:      round(v.Stats.FakePercentage, 1),
			AvgFakeConfidence:   round(v.Stats.AvgFakeConfidence, 4),
			AvgRealConfidence:   round(v.Stats.AvgRealConfidence, 4),
			MeanFrameConfidence: round(v.Stats.MeanFrameConfidence, 4),
			FakeScore:           round(v.FakeScore, 4),
			RealScore:           round(v.RealScore, 4),
			ProcessingTime:      round(v.Stats.ProcessingTime.Seconds(), 2),
		},
		VideoMetadata: dto.VideoMetadata{
			FrameCount: v.Media.FrameCount,
			FPS:        round(v.Media.FPS, 3),
			Duration:   round(v.Media.Duration, 2),
		},
	}

	if !v.Indeterminate() {
		isFake := v.IsDeepfake()
		conf := v.Confidence
		out.IsDeepfake = &isFake
		out.Confidence = &conf
	}

	for i, r := range v.Frames {
		out.Timeline[i] = timelineFrame(r)
	}
	for i, sf := range v.SuspiciousFrames {
		out.SuspiciousFrames[i] = dto.SuspiciousFrame{
			TimelineFrame: timelineFrame(sf.FrameRecord),
			GradCAM:       GradCAM(sf.Attention),
		}
	}

	out.Interpretation = interpretVideo(v, out.TemporalAnalysis)
	return out
}

func timelineFrame(r analysis.FrameRecord) dto.TimelineFrame {
	tf := dto.TimelineFrame{
		Index:              r.FrameIndex,
		SourceFrame:        r.SampleIndex,
		Timestamp:          round(r.Timestamp, 3),
		TimestampFormatted: analysis.FormatTimestamp(r.Timestamp),
		FaceDetected:       r.FaceDetected,
		Error:              r.Error,
	}
	if r.Result != nil {
		label := string(r.Result.Label)
		conf := r.Result.Confidence
		pf := r.Result.ProbabilityFake
		tf.Label, tf.Confidence, tf.ProbabilityFake = &label, &conf, &pf
	}
	if len(r.Thumbnail) > 0 {
		tf.Thumbnail = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(r.Thumbnail)
	}
	return tf
}

func temporal(v *analysis.VideoVerdict) dto.TemporalAnalysis {
	ta := dto.TemporalAnalysis{
		Segments:           make([]dto.Segment, len(v.Segments)),
		TotalSegments:      len(v.Segments),
		SuspiciousSegments: []dto.Segment{},
		ConsistencyScore:   round(v.ConsistencyScore, 3),
	}
	for i, s := range v.Segments {
		seg := dto.Segment{
			Label:         string(s.Label),
			StartIndex:    s.StartIndex,
			EndIndex:      s.EndIndex,
			FrameCount:    s.FrameCount,
			Start:         analysis.FormatTimestamp(s.StartTime),
			End:           analysis.FormatTimestamp(s.EndTime),
			StartSeconds:  round(s.StartTime, 3),
			EndSeconds:    round(s.EndTime, 3),
			AvgConfidence: round(s.AvgConfidence, 3),
			Suspicious:    s.Suspicious,
		}
		ta.Segments[i] = seg
		if s.Suspicious {
			ta.SuspiciousSegments = append(ta.SuspiciousSegments, seg)
		}
	}
	ta.SuspiciousSegmentsCount = len(ta.SuspiciousSegments)
	ta.HasSuspiciousSegments = ta.SuspiciousSegmentsCount > 0
	return ta
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
