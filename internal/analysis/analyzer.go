package analysis

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/deepguard/internal/config"
	"github.com/your-org/deepguard/internal/explain"
	"github.com/your-org/deepguard/internal/observability"
	"github.com/your-org/deepguard/internal/vision"
)

// Media is a decoded video addressed by frame index.
type Media interface {
	FrameCount() int
	FPS() float64
	Frame(ctx context.Context, index int) (image.Image, error)
}

// Prefetcher is implemented by media that can decode a known set of frames
// in one pass. Analyzer calls it once before the per-frame loop.
type Prefetcher interface {
	Prefetch(ctx context.Context, indices []int) error
}

type Options struct {
	MaxFrames               int
	Workers                 int
	Thumbnails              bool
	ThumbnailSize           int
	SuspiciousThumbnailSize int
	TopK                    int
	ExplainSuspicious       bool
	// Progress is called after every finished frame, possibly from several
	// goroutines at once.
	Progress func(done, total int)
}

func DefaultOptions() Options {
	return Options{
		MaxFrames:               20,
		Workers:                 4,
		Thumbnails:              true,
		ThumbnailSize:           200,
		SuspiciousThumbnailSize: 300,
		TopK:                    5,
	}
}

// OptionsFromConfig maps the video section of the configuration.
func OptionsFromConfig(v config.VideoConfig) Options {
	return Options{
		MaxFrames:               v.MaxFrames,
		Workers:                 v.Workers,
		Thumbnails:              v.ThumbnailsEnabled(),
		ThumbnailSize:           v.ThumbnailSize,
		SuspiciousThumbnailSize: v.SuspiciousThumbnailSize,
		TopK:                    v.TopK,
		ExplainSuspicious:       v.ExplainSuspicious,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxFrames <= 0 {
		o.MaxFrames = d.MaxFrames
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.ThumbnailSize <= 0 {
		o.ThumbnailSize = d.ThumbnailSize
	}
	if o.TopK <= 0 {
		o.TopK = d.TopK
	}
	return o
}

// Analyzer runs face location, classification and attention over images
// and sampled video frames. The classifier and locator are shared by all
// requests and must be safe for concurrent use.
type Analyzer struct {
	classifier vision.Classifier
	locator    vision.FaceLocator
	explainer  *explain.Explainer
	logger     *slog.Logger
}

func NewAnalyzer(classifier vision.Classifier, locator vision.FaceLocator, explainer *explain.Explainer, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if explainer == nil {
		explainer = explain.New(explain.DefaultOptions())
	}
	return &Analyzer{
		classifier: classifier,
		locator:    locator,
		explainer:  explainer,
		logger:     logger,
	}
}

type frameOutcome struct {
	record FrameRecord
	face   image.Image
	cls    *vision.Classification
}

// AnalyzeVideo samples media, analyzes each sampled frame and aggregates a
// verdict. Per-frame failures degrade that frame only. ErrInvalidMedia and
// ErrCancelled abort the whole analysis.
func (a *Analyzer) AnalyzeVideo(ctx context.Context, media Media, opts Options) (*VideoVerdict, error) {
	start := time.Now()
	opts = opts.withDefaults()

	samples, err := Sample(media.FrameCount(), media.FPS(), opts.MaxFrames)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	if p, ok := media.(Prefetcher); ok {
		indices := make([]int, len(samples))
		for i, s := range samples {
			indices[i] = s.Index
		}
		if err := p.Prefetch(ctx, indices); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			}
			return nil, fmt.Errorf("%w: %w", ErrInvalidMedia, err)
		}
	}

	observability.ActiveAnalyses.Inc()
	defer observability.ActiveAnalyses.Dec()

	outcomes := make([]frameOutcome, len(samples))
	var (
		g    errgroup.Group
		done atomic.Int32
	)
	g.SetLimit(opts.Workers)

	for i, s := range samples {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcomes[i] = a.analyzeFrame(ctx, media, s, opts)
			if opts.Progress != nil {
				opts.Progress(int(done.Add(1)), len(samples))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	records := make([]FrameRecord, len(outcomes))
	for i, o := range outcomes {
		records[i] = o.record
	}

	vote := WeightedVote(records)
	v := &VideoVerdict{
		Outcome:        vote.Outcome,
		Confidence:     vote.Confidence,
		FakeScore:      vote.FakeScore,
		RealScore:      vote.RealScore,
		FramesAnalyzed: len(records),
		Frames:         records,
		Stats:          computeStats(records),
		Media: MediaInfo{
			FrameCount: media.FrameCount(),
			FPS:        media.FPS(),
			Duration:   float64(media.FrameCount()) / media.FPS(),
		},
	}
	v.FramesWithFace = v.Stats.FramesWithFace

	if !v.Indeterminate() {
		v.Segments = Segments(records)
		v.ConsistencyScore = Consistency(records)
		for _, pos := range RankSuspicious(records, opts.TopK) {
			v.SuspiciousFrames = append(v.SuspiciousFrames, a.suspiciousFrame(ctx, media, outcomes[pos], opts))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	v.Stats.ProcessingTime = time.Since(start)
	return v, nil
}

func (a *Analyzer) analyzeFrame(ctx context.Context, media Media, s SampledFrame, opts Options) (out frameOutcome) {
	rec := FrameRecord{FrameIndex: s.Position, SampleIndex: s.Index, Timestamp: s.Timestamp}

	// A panicking model adapter only costs this frame.
	defer func() {
		if p := recover(); p != nil {
			failed := FrameRecord{FrameIndex: s.Position, SampleIndex: s.Index, Timestamp: s.Timestamp}
			a.frameFailed(ctx, &failed, fmt.Errorf("frame analysis panicked: %v", p))
			out = frameOutcome{record: failed}
		}
	}()

	img, err := media.Frame(ctx, s.Index)
	if err != nil {
		a.frameFailed(ctx, &rec, fmt.Errorf("decode frame: %w", err))
		return frameOutcome{record: rec}
	}

	face, err := a.locator.Locate(ctx, img)
	if err != nil {
		a.frameFailed(ctx, &rec, fmt.Errorf("locate face: %w", err))
		return frameOutcome{record: rec}
	}
	if face == nil {
		observability.FramesAnalyzed.WithLabelValues("no_face").Inc()
		return frameOutcome{record: rec}
	}

	cls, err := a.classify(ctx, face)
	if err != nil {
		a.frameFailed(ctx, &rec, err)
		return frameOutcome{record: rec}
	}

	observability.FramesAnalyzed.WithLabelValues("face").Inc()
	rec.FaceDetected = true
	rec.Result = &FrameResult{
		Label:           cls.Label,
		Confidence:      cls.Confidence(),
		ProbabilityFake: cls.ProbFake,
	}
	if opts.Thumbnails {
		if thumb, err := vision.Thumbnail(img, opts.ThumbnailSize); err == nil {
			rec.Thumbnail = thumb
		}
	}

	out = frameOutcome{record: rec}
	if opts.ExplainSuspicious {
		out.face, out.cls = face, cls
	}
	return out
}

func (a *Analyzer) frameFailed(ctx context.Context, rec *FrameRecord, err error) {
	rec.Error = err.Error()
	if ctx.Err() != nil {
		return
	}
	observability.FramesAnalyzed.WithLabelValues("error").Inc()
	a.logger.Warn("frame analysis failed",
		"frame", rec.FrameIndex,
		"source_index", rec.SampleIndex,
		"error", err,
	)
}

func (a *Analyzer) suspiciousFrame(ctx context.Context, media Media, o frameOutcome, opts Options) SuspiciousFrame {
	sf := SuspiciousFrame{FrameRecord: o.record}

	if opts.Thumbnails && opts.SuspiciousThumbnailSize > 0 && ctx.Err() == nil {
		if img, err := media.Frame(ctx, o.record.SampleIndex); err == nil {
			if thumb, err := vision.Thumbnail(img, opts.SuspiciousThumbnailSize); err == nil {
				sf.Thumbnail = thumb
			}
		}
	}

	if o.face != nil && o.cls != nil {
		res, err := a.explainer.Explain(o.face, o.cls.Activations, o.cls.Gradients)
		if err != nil {
			a.logger.Warn("explain suspicious frame", "frame", o.record.FrameIndex, "error", err)
		} else {
			sf.Attention = res
		}
	}
	return sf
}

// classify calls the classifier and checks the port contract.
func (a *Analyzer) classify(ctx context.Context, face image.Image) (*vision.Classification, error) {
	cls, err := a.classifier.Classify(ctx, face)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassifier, err)
	}
	if err := checkClassification(cls); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassifier, err)
	}
	return cls, nil
}

const probTolerance = 1e-3

func checkClassification(c *vision.Classification) error {
	if c == nil {
		return errors.New("empty classification")
	}
	if math.IsNaN(c.ProbReal) || math.IsNaN(c.ProbFake) ||
		c.ProbReal < 0 || c.ProbFake < 0 ||
		math.Abs(c.ProbReal+c.ProbFake-1) > probTolerance {
		return fmt.Errorf("probabilities %v/%v do not form a distribution", c.ProbReal, c.ProbFake)
	}
	wantFake := c.ProbFake > c.ProbReal
	if (c.Label == vision.LabelFake) != wantFake || (c.Label != vision.LabelFake && c.Label != vision.LabelReal) {
		return fmt.Errorf("label %q disagrees with probabilities", c.Label)
	}
	return nil
}
