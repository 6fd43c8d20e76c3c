// Package explain turns classifier activations and gradients into a
// Grad-CAM attention map, a rendered overlay, summary statistics and the
// most attended regions of the image.
package explain

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/your-org/deepguard/internal/config"
	"github.com/your-org/deepguard/internal/vision"
)

var ErrShapeMismatch = errors.New("activation and gradient shapes differ")

type Options struct {
	RegionThreshold float64
	MinRegionArea   int
	MaxRegions      int
	Alpha           float64
}

func DefaultOptions() Options {
	return Options{RegionThreshold: 0.6, MinRegionArea: 100, MaxRegions: 5, Alpha: 0.5}
}

func OptionsFromConfig(c config.ExplainConfig) Options {
	return Options{
		RegionThreshold: c.RegionThreshold,
		MinRegionArea:   c.MinRegionArea,
		MaxRegions:      c.MaxRegions,
		Alpha:           c.OverlayAlpha,
	}
}

// AttentionMap holds normalized attention in [0, 1], row-major.
type AttentionMap struct {
	Width  int
	Height int
	Values []float64
}

func (m *AttentionMap) At(x, y int) float64 { return m.Values[y*m.Width+x] }

type Stats struct {
	Mean          float64 `json:"mean_activation"`
	Max           float64 `json:"max_activation"`
	Std           float64 `json:"std_activation"`
	HighRatio     float64 `json:"high_attention_ratio"`
	VeryHighRatio float64 `json:"very_high_attention_ratio"`
}

type Result struct {
	Map     *AttentionMap
	Overlay []byte // PNG
	Stats   Stats
	Regions []Region
}

type Explainer struct {
	opts Options
}

func New(opts Options) *Explainer {
	return &Explainer{opts: opts}
}

// Explain renders the attention of one classification over img.
func (e *Explainer) Explain(img image.Image, act, grad vision.FeatureMap) (*Result, error) {
	raw, err := CAM(act, grad)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	m := &AttentionMap{
		Width:  b.Dx(),
		Height: b.Dy(),
		Values: resizeBilinear(raw, act.Width, act.Height, b.Dx(), b.Dy()),
	}
	normalizeMax(m.Values)

	overlay, err := encodePNG(Overlay(img, m, e.opts.Alpha))
	if err != nil {
		return nil, err
	}

	return &Result{
		Map:     m,
		Overlay: overlay,
		Stats:   ComputeStats(m),
		Regions: FindRegions(m, e.opts.RegionThreshold, e.opts.MinRegionArea, e.opts.MaxRegions),
	}, nil
}

// CAM computes ReLU(sum_c w_c * A_c) with w_c the spatial mean of the
// gradient of channel c. The result has act.Height x act.Width cells.
func CAM(act, grad vision.FeatureMap) ([]float64, error) {
	if !act.Valid() || !grad.Valid() {
		return nil, fmt.Errorf("invalid feature map %dx%dx%d", act.Channels, act.Height, act.Width)
	}
	if act.Channels != grad.Channels || act.Height != grad.Height || act.Width != grad.Width {
		return nil, ErrShapeMismatch
	}

	plane := act.Height * act.Width
	cam := make([]float64, plane)
	for c := 0; c < act.Channels; c++ {
		var w float64
		for _, g := range grad.Plane(c) {
			w += float64(g)
		}
		w /= float64(plane)
		if w == 0 {
			continue
		}
		for i, a := range act.Plane(c) {
			cam[i] += w * float64(a)
		}
	}
	for i, v := range cam {
		if v < 0 {
			cam[i] = 0
		}
	}
	return cam, nil
}

// resizeBilinear samples src (sw x sh) at pixel centers of a dw x dh grid.
func resizeBilinear(src []float64, sw, sh, dw, dh int) []float64 {
	dst := make([]float64, dw*dh)
	if sw == 0 || sh == 0 {
		return dst
	}
	scaleX := float64(sw) / float64(dw)
	scaleY := float64(sh) / float64(dh)

	for y := 0; y < dh; y++ {
		fy := (float64(y)+0.5)*scaleY - 0.5
		y0, y1, ty := neighbours(fy, sh)
		for x := 0; x < dw; x++ {
			fx := (float64(x)+0.5)*scaleX - 0.5
			x0, x1, tx := neighbours(fx, sw)

			top := src[y0*sw+x0]*(1-tx) + src[y0*sw+x1]*tx
			bot := src[y1*sw+x0]*(1-tx) + src[y1*sw+x1]*tx
			dst[y*dw+x] = top*(1-ty) + bot*ty
		}
	}
	return dst
}

func neighbours(f float64, n int) (int, int, float64) {
	if f <= 0 {
		return 0, 0, 0
	}
	i0 := int(f)
	if i0 >= n-1 {
		return n - 1, n - 1, 0
	}
	return i0, i0 + 1, f - float64(i0)
}

// normalizeMax scales v so its maximum is 1. All-zero input is left as is.
func normalizeMax(v []float64) {
	if len(v) == 0 {
		return
	}
	hi := floats.Max(v)
	if hi <= 0 {
		return
	}
	floats.Scale(1/hi, v)
}

func ComputeStats(m *AttentionMap) Stats {
	if len(m.Values) == 0 {
		return Stats{}
	}
	mean, std := stat.PopMeanStdDev(m.Values, nil)

	var high, veryHigh int
	for _, v := range m.Values {
		if v > 0.5 {
			high++
		}
		if v > 0.75 {
			veryHigh++
		}
	}

	s := Stats{
		Mean:          mean,
		Std:           std,
		HighRatio:     float64(high) / float64(len(m.Values)),
		VeryHighRatio: float64(veryHigh) / float64(len(m.Values)),
	}
	if floats.Max(m.Values) > 0 {
		s.Max = 1
	}
	return s
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode overlay: %w", err)
	}
	return buf.Bytes(), nil
}
