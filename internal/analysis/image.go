package analysis

import (
	"context"
	"fmt"
	"image"

	"github.com/your-org/deepguard/internal/explain"
	"github.com/your-org/deepguard/internal/vision"
)

type ImageOptions struct {
	CropFace bool
	Explain  bool
}

type ImageResult struct {
	Classification *vision.Classification
	Attention      *explain.Result
	// ExplainErr is set when classification succeeded but the attention
	// map could not be produced.
	ExplainErr  error
	FaceCropped bool
	Subject     image.Image
}

// AnalyzeImage classifies a still image, optionally on its best face crop,
// and explains the prediction.
func (a *Analyzer) AnalyzeImage(ctx context.Context, img image.Image, opts ImageOptions) (*ImageResult, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidMedia)
	}

	res := &ImageResult{Subject: img}
	if opts.CropFace {
		face, err := a.locator.Locate(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("locate face: %w", err)
		}
		if face == nil {
			return nil, ErrNoFace
		}
		res.Subject = face
		res.FaceCropped = true
	}

	cls, err := a.classify(ctx, res.Subject)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return nil, err
	}
	res.Classification = cls

	if opts.Explain {
		att, err := a.explainer.Explain(res.Subject, cls.Activations, cls.Gradients)
		if err != nil {
			a.logger.Warn("explain image", "error", err)
			res.ExplainErr = err
		} else {
			res.Attention = att
		}
	}
	return res, nil
}
