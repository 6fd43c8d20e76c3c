package report

import (
	"fmt"

	"github.com/your-org/deepguard/internal/analysis"
	"github.com/your-org/deepguard/internal/explain"
	"github.com/your-org/deepguard/pkg/dto"
)

const (
	colorStrong    = "#10B981"
	colorGood      = "#34D399"
	colorModerate  = "#F59E0B"
	colorWeak      = "#EF4444"
	colorUncertain = "#6B7280"
)

// InterpretConfidence buckets a single prediction confidence.
func InterpretConfidence(c float64) dto.ConfidenceInterpretation {
	ci := dto.ConfidenceInterpretation{Percentage: round(c*100, 1)}
	switch {
	case c >= 0.95:
		ci.Level, ci.Label, ci.Color = "very_high", "Very high confidence", colorStrong
		ci.Description = "The model is very certain of its prediction"
	case c >= 0.85:
		ci.Level, ci.Label, ci.Color = "high", "High confidence", colorGood
		ci.Description = "The model is confident in its prediction"
	case c >= 0.70:
		ci.Level, ci.Label, ci.Color = "moderate", "Moderate confidence", colorModerate
		ci.Description = "The model leans toward this prediction with some uncertainty"
	case c >= 0.55:
		ci.Level, ci.Label, ci.Color = "low", "Low confidence", colorWeak
		ci.Description = "The model is unsure; treat the result with caution"
	default:
		ci.Level, ci.Label, ci.Color = "uncertain", "Very uncertain", colorUncertain
		ci.Description = "The model cannot decide reliably"
	}
	return ci
}

func explainImage(isFake bool, conf float64, att *explain.Result) *dto.Explanation {
	var points []string
	if isFake {
		if att.Stats.HighRatio > 0.3 {
			points = append(points, "Widespread anomalies detected across the face")
		}
		if len(att.Regions) > 2 {
			points = append(points, fmt.Sprintf("%d suspicious regions identified", len(att.Regions)))
		}
		if att.Stats.Max > 0.9 {
			points = append(points, "Strong concentration of artifacts in some areas")
		}
		if len(points) == 0 {
			points = append(points, "Subtle manipulation patterns detected")
		}
	} else {
		if att.Stats.Mean < 0.3 {
			points = append(points, "No significant anomaly detected")
		}
		if att.Stats.Std < 0.2 {
			points = append(points, "Facial texture is consistent and natural")
		}
		if len(points) == 0 {
			points = append(points, "The image shows authentic characteristics")
		}
	}

	return &dto.Explanation{
		Summary:        fmt.Sprintf("%s with %.1f%% confidence", pick(isFake, "Deepfake detected", "Authentic image"), conf*100),
		KeyPoints:      points,
		Recommendation: imageRecommendation(isFake, conf),
	}
}

func imageRecommendation(isFake bool, conf float64) string {
	switch {
	case isFake && conf >= 0.9:
		return "This image shows strong indicators of manipulation. We recommend not treating it as authentic."
	case isFake && conf >= 0.7:
		return "This image shows signs of manipulation. Further verification is advised."
	case isFake:
		return "Anomalies were detected but the result is uncertain. A manual review is recommended."
	case conf >= 0.9:
		return "This image appears authentic. No sign of manipulation detected."
	case conf >= 0.7:
		return "This image is probably authentic, but further verification may help."
	default:
		return "The model leans toward authenticity with low confidence. Further analysis is recommended."
	}
}

func interpretVideo(v *analysis.VideoVerdict, ta dto.TemporalAnalysis) dto.Interpretation {
	if v.Indeterminate() {
		return dto.Interpretation{
			Summary:         "Indeterminate: no face could be analyzed",
			KeyPoints:       []string{fmt.Sprintf("No usable face was found in %d sampled frames.", v.FramesAnalyzed)},
			ConfidenceLevel: "undetermined",
			ConfidenceColor: colorUncertain,
			Recommendation:  "Provide a video where a face is clearly visible, or review it manually.",
		}
	}

	isFake := v.IsDeepfake()
	total := float64(v.Stats.FramesWithFace)
	fakeShare := float64(v.Stats.FakeFrames) / total
	realShare := float64(v.Stats.RealFrames) / total

	var points []string
	if isFake {
		switch {
		case fakeShare > 0.8:
			points = append(points, "Consistent manipulation detected throughout the entire video.")
		case fakeShare > 0.5:
			points = append(points, "Manipulation detected in the majority of analyzed frames.")
		default:
			points = append(points, "Signs of manipulation detected in certain portions of the video.")
		}
		if ta.HasSuspiciousSegments {
			points = append(points, fmt.Sprintf("Suspicious segments identified: %d", ta.SuspiciousSegmentsCount))
		}
	} else {
		if realShare > 0.9 {
			points = append(points, "No signs of manipulation detected.")
		} else {
			points = append(points, "The video appears authentic despite a few ambiguous frames.")
		}
	}
	if v.FramesWithFace < v.FramesAnalyzed {
		points = append(points, fmt.Sprintf("A face was analyzed in %d of %d sampled frames.", v.FramesWithFace, v.FramesAnalyzed))
	}

	level, color := videoConfidenceLevel(v.Confidence)
	return dto.Interpretation{
		Summary:         fmt.Sprintf("%s with %.1f%% confidence", pick(isFake, "Deepfake detected", "Authentic video"), v.Confidence*100),
		KeyPoints:       points,
		ConfidenceLevel: level,
		ConfidenceColor: color,
		Recommendation:  videoRecommendation(isFake, v.Confidence, fakeShare),
	}
}

func videoConfidenceLevel(c float64) (string, string) {
	switch {
	case c >= 0.9:
		return "very_high", colorStrong
	case c >= 0.75:
		return "high", colorGood
	case c >= 0.6:
		return "moderate", colorModerate
	default:
		return "low", colorWeak
	}
}

func videoRecommendation(isFake bool, conf, fakeShare float64) string {
	switch {
	case isFake && conf >= 0.85 && fakeShare > 0.7:
		return "This video shows strong indicators of manipulation. We strongly recommend not considering it authentic."
	case isFake && conf >= 0.7:
		return "Significant signs of manipulation have been detected. A thorough manual review is recommended."
	case isFake:
		return "Anomalies have been detected, but the result is uncertain. An expert review is recommended."
	case conf >= 0.85:
		return "This video appears authentic. No signs of manipulation detected."
	case conf >= 0.7:
		return "The video appears likely authentic, but a few frames show minor ambiguities."
	default:
		return "The model leans toward authenticity but with limited confidence. Further analysis may be helpful."
	}
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
