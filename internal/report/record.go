package report

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/your-org/deepguard/internal/models"
	"github.com/your-org/deepguard/internal/vision"
	"github.com/your-org/deepguard/pkg/dto"
)

// ImageRecord converts an image response into a history row. The overlay
// is archived separately, so the stored result drops it.
func ImageRecord(id uuid.UUID, resp dto.PredictionResponse, cls *vision.Classification) (*models.Analysis, error) {
	stored := resp
	if ex := resp.Explainability; ex != nil && ex.GradCAM != nil {
		exCopy := *ex
		gc := *ex.GradCAM
		gc.HeatmapBase64 = ""
		exCopy.GradCAM = &gc
		stored.Explainability = &exCopy
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	label := resp.Label
	isFake := resp.IsDeepfake
	conf := resp.Confidence
	pf := resp.Probabilities.Fake
	a := &models.Analysis{
		ID:              id,
		Kind:            models.KindImage,
		Filename:        resp.Filename,
		Label:           &label,
		IsDeepfake:      &isFake,
		Confidence:      &conf,
		ProbabilityFake: &pf,
		Result:          raw,
	}
	if cls != nil {
		a.Embedding = vision.Embedding(cls.Activations)
	}
	return a, nil
}

// VideoRecord converts a video response into a history row. Indeterminate
// verdicts keep null label and confidence.
func VideoRecord(id uuid.UUID, resp dto.VideoResponse) (*models.Analysis, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	a := &models.Analysis{
		ID:             id,
		Kind:           models.KindVideo,
		Filename:       resp.Filename,
		IsDeepfake:     resp.IsDeepfake,
		Confidence:     resp.Confidence,
		FramesAnalyzed: resp.FramesAnalyzed,
		FramesWithFace: resp.FramesWithFace,
		Result:         raw,
	}
	if !resp.Indeterminate {
		label := resp.Verdict
		a.Label = &label
	}
	return a, nil
}
