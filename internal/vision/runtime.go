package vision

import (
	"fmt"
	"log/slog"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/deepguard/internal/config"
)

// InitRuntime loads the ONNX Runtime shared library. An empty libPath uses
// the platform default name.
func InitRuntime(libPath string) error {
	if libPath == "" {
		libPath = defaultLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

func ShutdownRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("destroy onnx runtime", "error", err)
	}
}

func defaultLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// Models holds the process-wide inference sessions. They are loaded once
// and only read afterwards.
type Models struct {
	Classifier *ONNXClassifier
	Locator    *FaceDetector
}

func LoadModels(cfg config.ModelConfig) (*Models, error) {
	slog.Info("loading classifier model", "path", cfg.ClassifierPath())
	cls, err := NewClassifier(cfg.ClassifierPath(), ClassifierConfig{
		InputSize:       cfg.InputSize,
		FeatureChannels: cfg.FeatureChannels,
		FeatureSize:     cfg.FeatureSize,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("load classifier: %w", err)
	}

	slog.Info("loading detection model", "path", cfg.DetectorPath())
	det, err := NewFaceDetector(cfg.DetectorPath(), LocatorConfig{
		Threshold:   float32(cfg.DetectionThreshold),
		MinFaceSize: cfg.MinFaceSize,
		Margin:      cfg.FaceMargin,
	}, nil)
	if err != nil {
		cls.Close()
		return nil, fmt.Errorf("load detector: %w", err)
	}

	return &Models{Classifier: cls, Locator: det}, nil
}

func (m *Models) Close() {
	if m.Classifier != nil {
		m.Classifier.Close()
	}
	if m.Locator != nil {
		m.Locator.Close()
	}
}
