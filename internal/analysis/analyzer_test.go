package analysis

import (
	"context"
	"errors"
	"image"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/your-org/deepguard/internal/vision"
)

// taggedImage carries the source frame index through the stubs.
type taggedImage struct {
	*image.RGBA
	index int
}

func newTagged(index int) taggedImage {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := range img.Pix {
		img.Pix[i] = uint8(index)
	}
	return taggedImage{RGBA: img, index: index}
}

type stubMedia struct {
	count       int
	fps         float64
	failFrames  map[int]bool
	prefetchErr error

	mu         sync.Mutex
	prefetched []int
}

func (m *stubMedia) FrameCount() int { return m.count }
func (m *stubMedia) FPS() float64    { return m.fps }

func (m *stubMedia) Frame(_ context.Context, index int) (image.Image, error) {
	if m.failFrames[index] {
		return nil, errors.New("corrupt frame")
	}
	return newTagged(index), nil
}

func (m *stubMedia) Prefetch(_ context.Context, indices []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefetched = append([]int(nil), indices...)
	return m.prefetchErr
}

// frameScript scripts the locator and classifier for one source frame.
type frameScript struct {
	noFace bool
	locErr error
	clsErr error
	panics bool
	label  vision.Label
	conf   float64
}

type stubLocator struct {
	script map[int]frameScript
}

func (l *stubLocator) Locate(_ context.Context, frame image.Image) (image.Image, error) {
	s := l.script[frame.(taggedImage).index]
	if s.locErr != nil {
		return nil, s.locErr
	}
	if s.noFace {
		return nil, nil
	}
	return frame, nil
}

type stubClassifier struct {
	script map[int]frameScript
	delay  func() time.Duration
	onCall func(n int32)
	calls  atomic.Int32
}

func (c *stubClassifier) Classify(ctx context.Context, face image.Image) (*vision.Classification, error) {
	n := c.calls.Add(1)
	if c.onCall != nil {
		c.onCall(n)
	}
	if c.delay != nil {
		time.Sleep(c.delay())
	}
	s := c.script[face.(taggedImage).index]
	if s.panics {
		panic("output tensor shape mismatch")
	}
	if s.clsErr != nil {
		return nil, s.clsErr
	}
	out := &vision.Classification{Label: s.label}
	if s.label == vision.LabelFake {
		out.ProbFake, out.ProbReal = s.conf, 1-s.conf
	} else {
		out.ProbReal, out.ProbFake = s.conf, 1-s.conf
	}
	fm := vision.FeatureMap{Channels: 1, Height: 2, Width: 2, Data: []float32{1, 0, 0, 0}}
	out.Activations, out.Gradients = fm, vision.FeatureMap{Channels: 1, Height: 2, Width: 2, Data: []float32{1, 1, 1, 1}}
	return out, nil
}

func newTestAnalyzer(script map[int]frameScript) (*Analyzer, *stubClassifier) {
	cls := &stubClassifier{script: script}
	return NewAnalyzer(cls, &stubLocator{script: script}, nil, nil), cls
}

// uniformScript scripts frames 0..n-1 (used with media of n frames so that
// the sampled index equals the position).
func uniformScript(n int, s frameScript) map[int]frameScript {
	out := make(map[int]frameScript, n)
	for i := 0; i < n; i++ {
		out[i] = s
	}
	return out
}

func testOptions() Options {
	return Options{MaxFrames: 10, Workers: 1, TopK: 5}
}

func TestAnalyzeVideoAllReal(t *testing.T) {
	a, _ := newTestAnalyzer(uniformScript(10, frameScript{label: vision.LabelReal, conf: 0.9}))
	media := &stubMedia{count: 10, fps: 5}

	v, err := a.AnalyzeVideo(context.Background(), media, testOptions())
	require.NoError(t, err)

	require.False(t, v.IsDeepfake())
	require.False(t, v.Indeterminate())
	require.Equal(t, 1.0, v.Confidence)
	require.InDelta(t, 0.9, v.Stats.MeanFrameConfidence, 1e-9)
	require.Equal(t, 10, v.FramesAnalyzed)
	require.Equal(t, 10, v.FramesWithFace)
	require.Empty(t, v.SuspiciousSegments())
	require.Len(t, v.Segments, 1)
	require.Equal(t, 1.0, v.ConsistencyScore)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, media.prefetched)
	require.InDelta(t, 2.0, v.Media.Duration, 1e-9)
}

func TestAnalyzeVideoNoFaces(t *testing.T) {
	a, cls := newTestAnalyzer(uniformScript(10, frameScript{noFace: true}))

	v, err := a.AnalyzeVideo(context.Background(), &stubMedia{count: 10, fps: 25}, testOptions())
	require.NoError(t, err)

	require.True(t, v.Indeterminate())
	require.False(t, v.IsDeepfake())
	require.Zero(t, v.FramesWithFace)
	require.Equal(t, 10, v.FramesAnalyzed)
	require.Empty(t, v.SuspiciousFrames)
	require.Empty(t, v.Segments)
	require.Zero(t, cls.calls.Load())
}

func TestAnalyzeVideoSingleFakeSpike(t *testing.T) {
	script := uniformScript(10, frameScript{label: vision.LabelReal, conf: 0.6})
	script[6] = frameScript{label: vision.LabelFake, conf: 0.99}
	a, _ := newTestAnalyzer(script)

	v, err := a.AnalyzeVideo(context.Background(), &stubMedia{count: 10, fps: 25}, testOptions())
	require.NoError(t, err)

	require.InDelta(t, 0.99, v.FakeScore, 1e-9)
	require.InDelta(t, 5.4, v.RealScore, 1e-9)
	require.False(t, v.IsDeepfake())
	require.Len(t, v.SuspiciousFrames, 5)
	require.Equal(t, 6, v.SuspiciousFrames[0].FrameIndex)
	require.Empty(t, v.SuspiciousSegments())
	// Remaining picks are the earliest of the tied real frames.
	require.Equal(t, 0, v.SuspiciousFrames[1].FrameIndex)
	require.Equal(t, 1, v.SuspiciousFrames[2].FrameIndex)
}

func TestAnalyzeVideoMixedSegments(t *testing.T) {
	labels := []vision.Label{vision.LabelReal, vision.LabelReal, vision.LabelFake, vision.LabelFake, vision.LabelFake, vision.LabelReal}
	script := map[int]frameScript{}
	for i, l := range labels {
		conf := 0.8
		if l == vision.LabelFake {
			conf = 0.9
		}
		script[i] = frameScript{label: l, conf: conf}
	}
	a, _ := newTestAnalyzer(script)

	v, err := a.AnalyzeVideo(context.Background(), &stubMedia{count: 6, fps: 2}, testOptions())
	require.NoError(t, err)

	require.Len(t, v.Segments, 3)
	susp := v.SuspiciousSegments()
	require.Len(t, susp, 1)
	require.Equal(t, 2, susp[0].StartIndex)
	require.Equal(t, 4, susp[0].EndIndex)
	require.True(t, v.IsDeepfake())
	require.InDelta(t, 2.7/5.1, v.Confidence, 1e-9)
}

func TestAnalyzeVideoDegradesFailingFrames(t *testing.T) {
	script := uniformScript(6, frameScript{label: vision.LabelFake, conf: 0.9})
	script[1] = frameScript{locErr: errors.New("detector exploded")}
	script[3] = frameScript{clsErr: errors.New("gpu fault")}
	a, _ := newTestAnalyzer(script)
	media := &stubMedia{count: 6, fps: 10, failFrames: map[int]bool{5: true}}

	v, err := a.AnalyzeVideo(context.Background(), media, testOptions())
	require.NoError(t, err)

	require.Equal(t, 6, v.FramesAnalyzed)
	require.Equal(t, 3, v.FramesWithFace)
	for _, i := range []int{1, 3, 5} {
		require.False(t, v.Frames[i].FaceDetected)
		require.Nil(t, v.Frames[i].Result)
		require.NotEmpty(t, v.Frames[i].Error)
	}
	require.Contains(t, v.Frames[3].Error, ErrClassifier.Error())
	require.True(t, v.IsDeepfake())
}

func TestAnalyzeVideoRecoversPanickingFrame(t *testing.T) {
	script := uniformScript(5, frameScript{label: vision.LabelReal, conf: 0.8})
	script[2] = frameScript{panics: true}
	a, _ := newTestAnalyzer(script)
	opts := testOptions()
	opts.Workers = 3

	v, err := a.AnalyzeVideo(context.Background(), &stubMedia{count: 5, fps: 10}, opts)
	require.NoError(t, err)

	require.Equal(t, 5, v.FramesAnalyzed)
	require.Equal(t, 4, v.FramesWithFace)
	require.False(t, v.Frames[2].FaceDetected)
	require.Nil(t, v.Frames[2].Result)
	require.Contains(t, v.Frames[2].Error, "panicked")
	require.False(t, v.IsDeepfake())
}

func TestAnalyzeVideoRejectsBrokenClassification(t *testing.T) {
	script := uniformScript(2, frameScript{label: vision.LabelReal, conf: 0.3}) // label disagrees
	a, _ := newTestAnalyzer(script)

	v, err := a.AnalyzeVideo(context.Background(), &stubMedia{count: 2, fps: 1}, testOptions())
	require.NoError(t, err)
	require.True(t, v.Indeterminate())
	require.Contains(t, v.Frames[0].Error, "disagrees")
}

func TestAnalyzeVideoInvalidMedia(t *testing.T) {
	a, _ := newTestAnalyzer(nil)

	_, err := a.AnalyzeVideo(context.Background(), &stubMedia{count: 10, fps: 0}, testOptions())
	require.ErrorIs(t, err, ErrInvalidMedia)

	_, err = a.AnalyzeVideo(context.Background(), &stubMedia{count: 0, fps: 30}, testOptions())
	require.ErrorIs(t, err, ErrInvalidMedia)

	_, err = a.AnalyzeVideo(context.Background(), &stubMedia{count: 10, fps: 30, prefetchErr: errors.New("moov atom not found")}, testOptions())
	require.ErrorIs(t, err, ErrInvalidMedia)
}

func TestAnalyzeVideoCancelledBetweenFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, cls := newTestAnalyzer(uniformScript(20, frameScript{label: vision.LabelFake, conf: 0.9}))
	cls.onCall = func(n int32) {
		if n == 3 {
			cancel()
		}
	}

	opts := testOptions()
	opts.MaxFrames = 20
	v, err := a.AnalyzeVideo(ctx, &stubMedia{count: 20, fps: 25}, opts)
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, v)
	require.Less(t, cls.calls.Load(), int32(20))
}

func TestAnalyzeVideoAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a, cls := newTestAnalyzer(uniformScript(5, frameScript{label: vision.LabelReal, conf: 0.9}))
	_, err := a.AnalyzeVideo(ctx, &stubMedia{count: 5, fps: 25}, testOptions())
	require.ErrorIs(t, err, ErrCancelled)
	require.Zero(t, cls.calls.Load())
}

func TestAnalyzeVideoParallelKeepsOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	script := map[int]frameScript{}
	labels := make([]vision.Label, 30)
	for i := range labels {
		labels[i] = vision.LabelReal
		if rng.Intn(2) == 0 {
			labels[i] = vision.LabelFake
		}
		script[i] = frameScript{label: labels[i], conf: 0.75}
	}

	a, cls := newTestAnalyzer(script)
	var mu sync.Mutex
	delays := rand.New(rand.NewSource(9))
	cls.delay = func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return time.Duration(delays.Intn(3)) * time.Millisecond
	}

	var (
		progress  atomic.Int32
		badTotals atomic.Int32
	)
	opts := Options{MaxFrames: 30, Workers: 8, TopK: 5, Progress: func(done, total int) {
		if total != 30 || done < 1 || done > 30 {
			badTotals.Add(1)
		}
		progress.Add(1)
	}}

	v, err := a.AnalyzeVideo(context.Background(), &stubMedia{count: 30, fps: 30}, opts)
	require.NoError(t, err)
	require.Equal(t, int32(30), progress.Load())
	require.Zero(t, badTotals.Load())

	for i, r := range v.Frames {
		require.Equal(t, i, r.FrameIndex)
		require.Equal(t, labels[i], r.Result.Label)
	}
	require.Equal(t, Segments(v.Frames), v.Segments)
}

func TestAnalyzeVideoRecordInvariantProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 30; trial++ {
		n := 1 + rng.Intn(25)
		script := map[int]frameScript{}
		for i := 0; i < n; i++ {
			switch rng.Intn(4) {
			case 0:
				script[i] = frameScript{noFace: true}
			case 1:
				script[i] = frameScript{locErr: errors.New("boom")}
			case 2:
				script[i] = frameScript{label: vision.LabelFake, conf: 0.5 + rng.Float64()/2}
			default:
				script[i] = frameScript{label: vision.LabelReal, conf: 0.5 + rng.Float64()/2}
			}
		}
		a, _ := newTestAnalyzer(script)
		v, err := a.AnalyzeVideo(context.Background(), &stubMedia{count: n, fps: 24}, Options{MaxFrames: n, Workers: 3})
		require.NoError(t, err)

		faces := 0
		for _, r := range v.Frames {
			require.Equal(t, r.FaceDetected, r.Result != nil)
			if r.FaceDetected {
				faces++
			}
		}
		require.Equal(t, faces, v.FramesWithFace)
		require.LessOrEqual(t, v.FramesWithFace, v.FramesAnalyzed)
		require.Equal(t, faces == 0, v.Indeterminate())
	}
}

func TestAnalyzeVideoThumbnailsAndAttention(t *testing.T) {
	script := uniformScript(4, frameScript{label: vision.LabelFake, conf: 0.9})
	script[2] = frameScript{noFace: true}
	a, _ := newTestAnalyzer(script)

	opts := Options{MaxFrames: 4, Workers: 2, Thumbnails: true, ThumbnailSize: 16, SuspiciousThumbnailSize: 32, TopK: 5, ExplainSuspicious: true}
	v, err := a.AnalyzeVideo(context.Background(), &stubMedia{count: 4, fps: 1}, opts)
	require.NoError(t, err)

	require.NotEmpty(t, v.Frames[0].Thumbnail)
	require.Empty(t, v.Frames[2].Thumbnail)
	require.Len(t, v.SuspiciousFrames, 3)
	for _, sf := range v.SuspiciousFrames {
		require.NotNil(t, sf.Attention)
		require.NotEmpty(t, sf.Thumbnail)
	}
	big, _, err := vision.DecodeImage(v.SuspiciousFrames[0].Thumbnail)
	require.NoError(t, err)
	require.Equal(t, 32, big.Bounds().Dx())
	small, _, err := vision.DecodeImage(v.Frames[0].Thumbnail)
	require.NoError(t, err)
	require.Equal(t, 16, small.Bounds().Dx())
}

func TestAnalyzeImage(t *testing.T) {
	script := map[int]frameScript{7: {label: vision.LabelFake, conf: 0.93}}
	a, _ := newTestAnalyzer(script)

	res, err := a.AnalyzeImage(context.Background(), newTagged(7), ImageOptions{Explain: true})
	require.NoError(t, err)
	require.Equal(t, vision.LabelFake, res.Classification.Label)
	require.InDelta(t, 0.93, res.Classification.Confidence(), 1e-9)
	require.NotNil(t, res.Attention)
	require.Equal(t, 32, res.Attention.Map.Width)
	require.False(t, res.FaceCropped)
}

func TestAnalyzeImageNoFace(t *testing.T) {
	a, _ := newTestAnalyzer(map[int]frameScript{1: {noFace: true}})
	_, err := a.AnalyzeImage(context.Background(), newTagged(1), ImageOptions{CropFace: true})
	require.ErrorIs(t, err, ErrNoFace)
}

func TestAnalyzeImageClassifierError(t *testing.T) {
	a, _ := newTestAnalyzer(map[int]frameScript{1: {clsErr: errors.New("oom")}})
	_, err := a.AnalyzeImage(context.Background(), newTagged(1), ImageOptions{})
	require.ErrorIs(t, err, ErrClassifier)
}

func TestAnalyzeImageEmpty(t *testing.T) {
	a, _ := newTestAnalyzer(nil)
	_, err := a.AnalyzeImage(context.Background(), image.NewRGBA(image.Rect(0, 0, 0, 0)), ImageOptions{})
	require.ErrorIs(t, err, ErrInvalidMedia)
}
