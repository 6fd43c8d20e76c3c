package jobs

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/your-org/deepguard/internal/analysis"
	"github.com/your-org/deepguard/internal/models"
	"github.com/your-org/deepguard/internal/storage"
	"github.com/your-org/deepguard/internal/vision"
)

type stubStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*models.Job
	history  []models.JobStatus
	progress []float64
	stored   *models.Analysis
	// afterGet runs once GetJob has returned its snapshot.
	afterGet func(id uuid.UUID)
}

func newStubStore(ids ...uuid.UUID) *stubStore {
	s := &stubStore{jobs: map[uuid.UUID]*models.Job{}}
	for _, id := range ids {
		s.jobs[id] = &models.Job{ID: id, Status: models.JobQueued}
	}
	return s
}

func (s *stubStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	cp := *j
	hook := s.afterGet
	s.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return &cp, nil
}

// cancelQueued mirrors the API cancelling a job that has not started.
func (s *stubStore) cancelQueued(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j := s.jobs[id]; !j.Status.Terminal() {
		j.Status = models.JobCancelled
	}
}

func (s *stubStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	if j.Status.Terminal() {
		return nil
	}
	j.Status, j.Error = status, errMsg
	s.history = append(s.history, status)
	return nil
}

func (s *stubStore) UpdateJobProgress(_ context.Context, _ uuid.UUID, p float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, p)
	return nil
}

func (s *stubStore) CompleteJob(_ context.Context, id uuid.UUID, a *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[id].Status.Terminal() {
		return storage.ErrJobFinished
	}
	s.jobs[id].Status = models.JobDone
	s.history = append(s.history, models.JobDone)
	s.stored = a
	return nil
}

func (s *stubStore) job(id uuid.UUID) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

type stubMedia struct {
	mu    sync.Mutex
	paths []string
}

func (m *stubMedia) Download(_ context.Context, _ string, path string) error {
	m.mu.Lock()
	m.paths = append(m.paths, path)
	m.mu.Unlock()
	return os.WriteFile(path, []byte("video"), 0o600)
}

type stubPublisher struct {
	mu     sync.Mutex
	events []models.JobEvent
}

func (p *stubPublisher) PublishEvent(_ context.Context, ev models.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *stubPublisher) types() []models.JobEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.JobEventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type analyzeFunc func(ctx context.Context, media analysis.Media, opts analysis.Options) (*analysis.VideoVerdict, error)

func (f analyzeFunc) AnalyzeVideo(ctx context.Context, media analysis.Media, opts analysis.Options) (*analysis.VideoVerdict, error) {
	return f(ctx, media, opts)
}

type stubVideo struct{ closed bool }

func (v *stubVideo) FrameCount() int { return 10 }
func (v *stubVideo) FPS() float64    { return 5 }

func (v *stubVideo) Close() error {
	v.closed = true
	return nil
}

func (v *stubVideo) Frame(context.Context, int) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
}

func openStub(v *stubVideo) OpenFunc {
	return func(context.Context, string) (Video, error) { return v, nil }
}

func blockUntilDone(ctx context.Context, _ analysis.Media, _ analysis.Options) (*analysis.VideoVerdict, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", analysis.ErrCancelled, ctx.Err())
}

func realVerdict() *analysis.VideoVerdict {
	return &analysis.VideoVerdict{
		Outcome:        analysis.OutcomeReal,
		Confidence:     1,
		FramesAnalyzed: 1,
		FramesWithFace: 1,
		Frames: []analysis.FrameRecord{{
			FaceDetected: true,
			Result:       &analysis.FrameResult{Label: vision.LabelReal, Confidence: 0.9, ProbabilityFake: 0.1},
		}},
		Stats: analysis.VideoStats{FramesExtracted: 1, FramesWithFace: 1, RealFrames: 1},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunCompletesUploadedJob(t *testing.T) {
	id := uuid.New()
	store := newStubStore(id)
	media := &stubMedia{}
	pub := &stubPublisher{}
	video := &stubVideo{}

	analyzer := analyzeFunc(func(_ context.Context, m analysis.Media, opts analysis.Options) (*analysis.VideoVerdict, error) {
		require.Equal(t, 7, opts.MaxFrames)
		opts.Progress(1, 2)
		opts.Progress(2, 2)
		return realVerdict(), nil
	})

	r := NewRunner(store, media, pub, analyzer, openStub(video), Config{TempDir: t.TempDir()}, quietLogger())
	err := r.Run(context.Background(), models.JobTask{JobID: id, Filename: "clip.mp4", MediaKey: "jobs/x/clip.mp4", MaxFrames: 7})
	require.NoError(t, err)

	require.Equal(t, models.JobDone, store.job(id).Status)
	require.Equal(t, []models.JobStatus{models.JobRunning, models.JobDone}, store.history)
	require.Equal(t, []float64{0.5, 1}, store.progress)
	require.NotNil(t, store.stored)
	require.Equal(t, "jobs/x/clip.mp4", store.stored.MediaKey)
	require.Equal(t, "real", *store.stored.Label)

	require.Equal(t, []models.JobEventType{models.EventStatus, models.EventProgress, models.EventProgress, models.EventResult}, pub.types())
	require.True(t, video.closed)

	require.Len(t, media.paths, 1)
	require.Equal(t, ".mp4", media.paths[0][len(media.paths[0])-4:])
	_, statErr := os.Stat(media.paths[0])
	require.True(t, os.IsNotExist(statErr), "temp media must be removed")
	require.False(t, r.Running(id))
}

func TestRunCancelledByControl(t *testing.T) {
	id := uuid.New()
	store := newStubStore(id)
	r := NewRunner(store, &stubMedia{}, &stubPublisher{}, analyzeFunc(blockUntilDone), openStub(&stubVideo{}), Config{}, quietLogger())
	r.resolve = func(_ context.Context, raw string) (string, error) { return raw, nil }

	done := make(chan error, 1)
	go func() {
		done <- r.Run(context.Background(), models.JobTask{JobID: id, URL: "https://example.com/v.mp4"})
	}()

	require.Eventually(t, func() bool { return r.Running(id) }, time.Second, 5*time.Millisecond)
	r.HandleCommand(models.ControlCommand{Action: models.ControlCancel, JobID: id})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not stop")
	}
	require.Equal(t, models.JobCancelled, store.job(id).Status)
	require.False(t, r.Cancel(id))
}

func TestRunCancelWhileJobLooksQueued(t *testing.T) {
	id := uuid.New()
	store := newStubStore(id)
	pub := &stubPublisher{}
	analyzer := analyzeFunc(func(context.Context, analysis.Media, analysis.Options) (*analysis.VideoVerdict, error) {
		return realVerdict(), nil
	})
	r := NewRunner(store, &stubMedia{}, pub, analyzer, openStub(&stubVideo{}), Config{}, quietLogger())
	r.resolve = func(_ context.Context, raw string) (string, error) { return raw, nil }

	// The worker read "queued"; the API then cancels the job and publishes
	// the control command before the worker marks it running.
	store.afterGet = func(id uuid.UUID) {
		store.cancelQueued(id)
		r.HandleCommand(models.ControlCommand{Action: models.ControlCancel, JobID: id})
	}

	require.NoError(t, r.Run(context.Background(), models.JobTask{JobID: id, URL: "https://x/y.mp4"}))
	require.Equal(t, models.JobCancelled, store.job(id).Status)
	require.Nil(t, store.stored)
	require.NotContains(t, pub.types(), models.EventResult)
}

func TestRunKeepsCancelledStatusWhenControlIsLost(t *testing.T) {
	id := uuid.New()
	store := newStubStore(id)
	pub := &stubPublisher{}
	analyzer := analyzeFunc(func(context.Context, analysis.Media, analysis.Options) (*analysis.VideoVerdict, error) {
		store.cancelQueued(id)
		return realVerdict(), nil
	})
	r := NewRunner(store, &stubMedia{}, pub, analyzer, openStub(&stubVideo{}), Config{}, quietLogger())
	r.resolve = func(_ context.Context, raw string) (string, error) { return raw, nil }

	require.NoError(t, r.Run(context.Background(), models.JobTask{JobID: id, URL: "https://x/y.mp4"}))
	require.Equal(t, models.JobCancelled, store.job(id).Status)
	require.Nil(t, store.stored)
	require.NotContains(t, pub.types(), models.EventResult)
}

func TestRunTimesOut(t *testing.T) {
	id := uuid.New()
	store := newStubStore(id)
	r := NewRunner(store, &stubMedia{}, nil, analyzeFunc(blockUntilDone), openStub(&stubVideo{}),
		Config{Timeout: 20 * time.Millisecond, TempDir: t.TempDir()}, quietLogger())

	require.NoError(t, r.Run(context.Background(), models.JobTask{JobID: id, Filename: "a.mov", MediaKey: "k"}))
	job := store.job(id)
	require.Equal(t, models.JobFailed, job.Status)
	require.Equal(t, "analysis timed out", job.Error)
}

func TestRunSkipsFinishedJob(t *testing.T) {
	id := uuid.New()
	store := newStubStore(id)
	store.jobs[id].Status = models.JobCancelled

	called := false
	analyzer := analyzeFunc(func(context.Context, analysis.Media, analysis.Options) (*analysis.VideoVerdict, error) {
		called = true
		return realVerdict(), nil
	})
	r := NewRunner(store, &stubMedia{}, nil, analyzer, openStub(&stubVideo{}), Config{}, quietLogger())
	require.NoError(t, r.Run(context.Background(), models.JobTask{JobID: id, URL: "https://x/y.mp4"}))
	require.False(t, called)
	require.Empty(t, store.history)
}

func TestRunBadURLFails(t *testing.T) {
	id := uuid.New()
	store := newStubStore(id)
	r := NewRunner(store, &stubMedia{}, nil, analyzeFunc(blockUntilDone), openStub(&stubVideo{}), Config{}, quietLogger())
	r.resolve = func(context.Context, string) (string, error) { return "", errors.New("yt-dlp failed") }

	require.NoError(t, r.Run(context.Background(), models.JobTask{JobID: id, URL: "https://x/page"}))
	job := store.job(id)
	require.Equal(t, models.JobFailed, job.Status)
	require.Contains(t, job.Error, "yt-dlp failed")
}

func TestRunWorkerShutdownRequeues(t *testing.T) {
	id := uuid.New()
	store := newStubStore(id)
	ctx, cancel := context.WithCancel(context.Background())
	analyzer := analyzeFunc(func(c context.Context, m analysis.Media, o analysis.Options) (*analysis.VideoVerdict, error) {
		cancel()
		return blockUntilDone(c, m, o)
	})
	r := NewRunner(store, &stubMedia{}, nil, analyzer, openStub(&stubVideo{}), Config{}, quietLogger())
	r.resolve = func(_ context.Context, raw string) (string, error) { return raw, nil }

	err := r.Run(ctx, models.JobTask{JobID: id, URL: "https://x/y.mp4"})
	require.Error(t, err)
	require.Equal(t, models.JobRunning, store.job(id).Status)
}

type stubSweeper struct {
	mu      sync.Mutex
	keys    []string
	calls   int
	cutoff  time.Time
	deleted []string
}

func (o *stubSweeper) ListOlderThan(_ context.Context, _ string, cutoff time.Time) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.cutoff = cutoff
	return append([]string(nil), o.keys...), nil
}

func (o *stubSweeper) DeleteObjects(_ context.Context, keys []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, keys...)
	return nil
}

func TestRunRetentionSweepsUntilCancelled(t *testing.T) {
	o := &stubSweeper{}
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		RunRetention(ctx, o, newStubStore(), "jobs/", time.Hour, 5*time.Millisecond, quietLogger())
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.calls >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-stopped

	o.mu.Lock()
	defer o.mu.Unlock()
	require.WithinDuration(t, time.Now().Add(-time.Hour), o.cutoff, time.Minute)
}

func TestRetentionKeepsMediaOfLiveJobs(t *testing.T) {
	queued, running, done, unknown := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	store := newStubStore(queued, running, done)
	store.jobs[running].Status = models.JobRunning
	store.jobs[done].Status = models.JobDone

	o := &stubSweeper{keys: []string{
		"jobs/" + queued.String() + "/a.mp4",
		"jobs/" + running.String() + "/b.mp4",
		"jobs/" + done.String() + "/c.mp4",
		"jobs/" + unknown.String() + "/d.mp4",
		"jobs/stray.bin",
	}}

	purgeOnce(context.Background(), o, store, "jobs/", time.Hour, quietLogger())
	require.ElementsMatch(t, []string{
		"jobs/" + done.String() + "/c.mp4",
		"jobs/" + unknown.String() + "/d.mp4",
		"jobs/stray.bin",
	}, o.deleted)
}
