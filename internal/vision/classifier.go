package vision

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/deepguard/internal/observability"
)

// ClassifierConfig describes the exported deepfake classifier graph.
type ClassifierConfig struct {
	InputSize       int
	FeatureChannels int
	FeatureSize     int
}

// ONNXClassifier runs a ConvNeXt deepfake classifier exported with three
// outputs: logits [1,2] (real, fake), activations [1,C,h,w] of the last
// stage and gradients [1,2,C,h,w] of each class score w.r.t. those
// activations.
type ONNXClassifier struct {
	mu          sync.Mutex
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	logits      *ort.Tensor[float32]
	activations *ort.Tensor[float32]
	gradients   *ort.Tensor[float32]
	cfg         ClassifierConfig
}

// NewClassifier loads the classifier model. opts may be nil.
func NewClassifier(modelPath string, cfg ClassifierConfig, opts *ort.SessionOptions) (*ONNXClassifier, error) {
	s := int64(cfg.InputSize)
	c, f := int64(cfg.FeatureChannels), int64(cfg.FeatureSize)

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, s, s))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	cls := &ONNXClassifier{input: input, cfg: cfg}

	if cls.logits, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 2)); err != nil {
		cls.Close()
		return nil, fmt.Errorf("create logits tensor: %w", err)
	}
	if cls.activations, err = ort.NewEmptyTensor[float32](ort.NewShape(1, c, f, f)); err != nil {
		cls.Close()
		return nil, fmt.Errorf("create activations tensor: %w", err)
	}
	if cls.gradients, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 2, c, f, f)); err != nil {
		cls.Close()
		return nil, fmt.Errorf("create gradients tensor: %w", err)
	}

	cls.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"logits", "activations", "gradients"},
		[]ort.Value{input},
		[]ort.Value{cls.logits, cls.activations, cls.gradients},
		opts,
	)
	if err != nil {
		cls.Close()
		return nil, fmt.Errorf("create classifier session: %w", err)
	}

	return cls, nil
}

// Classify runs one face crop through the model. Sessions share their
// bound tensors, so runs are serialized.
func (m *ONNXClassifier) Classify(ctx context.Context, face image.Image) (*Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data := imageToFloat32CHW(face, m.cfg.InputSize, m.cfg.InputSize, imagenetMean, imagenetStd)

	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.input.GetData(), data)

	start := time.Now()
	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("run classifier: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("classify").Observe(time.Since(start).Seconds())

	logits := m.logits.GetData()
	pReal, pFake := softmax2(float64(logits[0]), float64(logits[1]))

	out := &Classification{Label: LabelReal, ProbReal: pReal, ProbFake: pFake}
	classIdx := 0
	if pFake > pReal {
		out.Label = LabelFake
		classIdx = 1
	}

	c, f := m.cfg.FeatureChannels, m.cfg.FeatureSize
	n := c * f * f
	out.Activations = FeatureMap{Channels: c, Height: f, Width: f, Data: make([]float32, n)}
	copy(out.Activations.Data, m.activations.GetData())

	out.Gradients = FeatureMap{Channels: c, Height: f, Width: f, Data: make([]float32, n)}
	copy(out.Gradients.Data, m.gradients.GetData()[classIdx*n:(classIdx+1)*n])

	return out, nil
}

func (m *ONNXClassifier) InputSize() int { return m.cfg.InputSize }

func (m *ONNXClassifier) Close() {
	if m.session != nil {
		m.session.Destroy()
	}
	for _, t := range []*ort.Tensor[float32]{m.input, m.logits, m.activations, m.gradients} {
		if t != nil {
			t.Destroy()
		}
	}
}

func softmax2(a, b float64) (float64, float64) {
	hi := math.Max(a, b)
	ea, eb := math.Exp(a-hi), math.Exp(b-hi)
	sum := ea + eb
	return ea / sum, eb / sum
}
