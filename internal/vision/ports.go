package vision

import (
	"context"
	"image"
	"math"
)

type Label string

const (
	LabelReal Label = "real"
	LabelFake Label = "fake"
)

// FeatureMap is a dense channels x height x width tensor.
type FeatureMap struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

func (f FeatureMap) At(c, y, x int) float32 {
	return f.Data[(c*f.Height+y)*f.Width+x]
}

// Plane returns the slice backing channel c.
func (f FeatureMap) Plane(c int) []float32 {
	n := f.Height * f.Width
	return f.Data[c*n : (c+1)*n]
}

func (f FeatureMap) Valid() bool {
	return f.Channels > 0 && f.Height > 0 && f.Width > 0 &&
		len(f.Data) == f.Channels*f.Height*f.Width
}

// Classification is the outcome of one forward/backward pass. Activations
// and Gradients come from the final spatial stage, with gradients taken
// for the score of Label.
type Classification struct {
	Label       Label
	ProbReal    float64
	ProbFake    float64
	Activations FeatureMap
	Gradients   FeatureMap
}

// Confidence is the probability mass on the predicted label.
func (c *Classification) Confidence() float64 {
	if c.Label == LabelFake {
		return c.ProbFake
	}
	return c.ProbReal
}

// Classifier labels a single face crop.
type Classifier interface {
	Classify(ctx context.Context, face image.Image) (*Classification, error)
}

// FaceLocator returns the single best face crop in frame, or nil when the
// frame has no usable face.
type FaceLocator interface {
	Locate(ctx context.Context, frame image.Image) (image.Image, error)
}

// Embedding global-average-pools the activations into an L2-normalized
// feature vector.
func Embedding(act FeatureMap) []float32 {
	if !act.Valid() {
		return nil
	}
	n := float32(act.Height * act.Width)
	out := make([]float32, act.Channels)
	for c := 0; c < act.Channels; c++ {
		var sum float32
		for _, v := range act.Plane(c) {
			sum += v
		}
		out[c] = sum / n
	}
	normalize(out)
	return out
}

// normalize performs L2 normalization in-place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
