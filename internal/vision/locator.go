package vision

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/deepguard/internal/observability"
)

// Detection represents a detected face.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2 (pixel coordinates)
	Confidence float32
}

func (d Detection) Width() float32  { return d.BBox[2] - d.BBox[0] }
func (d Detection) Height() float32 { return d.BBox[3] - d.BBox[1] }

// LocatorConfig tunes face selection.
type LocatorConfig struct {
	Threshold   float32
	MinFaceSize int
	Margin      float64
}

// FaceDetector runs RetinaFace (det_10g) and reduces its output to the
// single most confident face.
type FaceDetector struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	cfg     LocatorConfig
	inputW  int
	inputH  int
}

// stride configuration for RetinaFace det_10g
var strides = []int{8, 16, 32}

// anchorsPerStride is the number of anchors per pixel at each stride
const anchorsPerStride = 2

// det_10g output names: scores, bboxes, landmarks per stride. Landmarks are
// bound but unused.
var detectorOutputs = []struct {
	name string
	cols int64
}{
	{"448", 1}, {"471", 1}, {"494", 1},
	{"451", 4}, {"474", 4}, {"497", 4},
	{"454", 10}, {"477", 10}, {"500", 10},
}

// NewFaceDetector loads the RetinaFace ONNX model. opts may be nil.
func NewFaceDetector(modelPath string, cfg LocatorConfig, opts *ort.SessionOptions) (*FaceDetector, error) {
	d := &FaceDetector{cfg: cfg, inputW: 640, inputH: 640}

	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(d.inputH), int64(d.inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	names := make([]string, len(detectorOutputs))
	values := make([]ort.Value, len(detectorOutputs))
	for i, spec := range detectorOutputs {
		stride := int64(strides[i%len(strides)])
		rows := (int64(d.inputW) / stride) * (int64(d.inputH) / stride) * anchorsPerStride
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, spec.cols))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		d.outputs = append(d.outputs, t)
		names[i] = spec.name
		values[i] = t
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{d.input}, values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Locate implements FaceLocator.
func (d *FaceDetector) Locate(ctx context.Context, frame image.Image) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := frame.Bounds()
	dets, err := d.Detect(frame)
	if err != nil {
		return nil, err
	}

	best, ok := selectFace(dets, float32(d.cfg.MinFaceSize))
	if !ok {
		return nil, nil
	}
	shifted := best.BBox
	shifted[0] += float32(b.Min.X)
	shifted[2] += float32(b.Min.X)
	shifted[1] += float32(b.Min.Y)
	shifted[3] += float32(b.Min.Y)
	return cropFace(frame, shifted, d.cfg.Margin), nil
}

// Detect returns all faces above the threshold after NMS, in frame-relative
// pixel coordinates.
func (d *FaceDetector) Detect(frame image.Image) ([]Detection, error) {
	b := frame.Bounds()
	data := imageToFloat32CHW(frame, d.inputW, d.inputH,
		[3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128})

	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.input.GetData(), data)
	start := time.Now()
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	return nms(d.decode(b.Dx(), b.Dy()), 0.4), nil
}

// decode turns anchor-relative RetinaFace distances at strides 8, 16, 32
// into boxes scaled to origW x origH.
func (d *FaceDetector) decode(origW, origH int) []Detection {
	var out []Detection
	sx := float32(origW) / float32(d.inputW)
	sy := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputs[si].GetData()
		boxes := d.outputs[si+len(strides)].GetData()
		st := float32(stride)
		cols := d.inputW / stride

		for idx, score := range scores {
			if score < d.cfg.Threshold {
				continue
			}
			cell := idx / anchorsPerStride
			ax := float32(cell%cols) * st
			ay := float32(cell/cols) * st
			box := boxes[idx*4 : idx*4+4]

			out = append(out, Detection{
				BBox: [4]float32{
					clampF((ax-box[0]*st)*sx, 0, float32(origW)),
					clampF((ay-box[1]*st)*sy, 0, float32(origH)),
					clampF((ax+box[2]*st)*sx, 0, float32(origW)),
					clampF((ay+box[3]*st)*sy, 0, float32(origH)),
				},
				Confidence: score,
			})
		}
	}
	return out
}

func (d *FaceDetector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, t := range d.outputs {
		if t != nil {
			t.Destroy()
		}
	}
}

// selectFace picks the highest-confidence detection whose sides are both at
// least minSize pixels.
func selectFace(dets []Detection, minSize float32) (Detection, bool) {
	var best Detection
	found := false
	for _, det := range dets {
		if det.Width() < minSize || det.Height() < minSize {
			continue
		}
		if !found || det.Confidence > best.Confidence {
			best, found = det, true
		}
	}
	return best, found
}

// nms performs Non-Maximum Suppression on detections.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	suppressed := make([]bool, len(detections))
	var result []Detection
	for i := range detections {
		if suppressed[i] {
			continue
		}
		result = append(result, detections[i])
		for j := i + 1; j < len(detections); j++ {
			if !suppressed[j] && iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	w := math.Max(0, math.Min(float64(a[2]), float64(b[2]))-math.Max(float64(a[0]), float64(b[0])))
	h := math.Max(0, math.Min(float64(a[3]), float64(b[3]))-math.Max(float64(a[1]), float64(b[1])))
	inter := float32(w * h)

	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
