// Package jobs runs queued video analyses on the worker.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/deepguard/internal/analysis"
	"github.com/your-org/deepguard/internal/ingest"
	"github.com/your-org/deepguard/internal/models"
	"github.com/your-org/deepguard/internal/observability"
	"github.com/your-org/deepguard/internal/report"
	"github.com/your-org/deepguard/internal/storage"
	"github.com/your-org/deepguard/pkg/dto"
)

type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg string) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress float64) error
	CompleteJob(ctx context.Context, id uuid.UUID, a *models.Analysis) error
}

type MediaStore interface {
	Download(ctx context.Context, key, path string) error
}

type Publisher interface {
	PublishEvent(ctx context.Context, ev models.JobEvent) error
}

type VideoAnalyzer interface {
	AnalyzeVideo(ctx context.Context, media analysis.Media, opts analysis.Options) (*analysis.VideoVerdict, error)
}

// Video is an opened media source.
type Video interface {
	analysis.Media
	Close() error
}

type OpenFunc func(ctx context.Context, source string) (Video, error)

// OpenFFmpeg opens sources with ffprobe/ffmpeg.
func OpenFFmpeg(ctx context.Context, source string) (Video, error) {
	v, err := ingest.Open(ctx, source)
	if err != nil {
		return nil, err
	}
	return v, nil
}

var errCancelRequested = errors.New("cancelled by request")

type Config struct {
	Options analysis.Options
	Timeout time.Duration
	TempDir string
}

// Runner executes JobTasks. It tracks running jobs so that control
// commands can cancel them.
type Runner struct {
	store    Store
	media    MediaStore
	events   Publisher
	analyzer VideoAnalyzer
	open     OpenFunc
	resolve  func(ctx context.Context, raw string) (string, error)
	cfg      Config
	logger   *slog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelCauseFunc
}

func NewRunner(store Store, media MediaStore, events Publisher, analyzer VideoAnalyzer, open OpenFunc, cfg Config, logger *slog.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Runner{
		store:    store,
		media:    media,
		events:   events,
		analyzer: analyzer,
		open:     open,
		resolve:  ingest.ResolveURL,
		cfg:      cfg,
		logger:   logger,
		active:   make(map[uuid.UUID]context.CancelCauseFunc),
	}
}

// HandleCommand processes a job control command.
func (r *Runner) HandleCommand(cmd models.ControlCommand) {
	switch cmd.Action {
	case models.ControlCancel:
		if r.Cancel(cmd.JobID) {
			r.logger.Info("job cancel requested", "job_id", cmd.JobID)
		}
	default:
		r.logger.Warn("unknown control action", "action", cmd.Action)
	}
}

// Cancel stops a running job. It reports whether the job runs here.
func (r *Runner) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.active[id]
	if ok {
		cancel(errCancelRequested)
	}
	return ok
}

func (r *Runner) Running(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// HandleMessage is the queue handler for jobs.video. Malformed tasks are
// acknowledged and dropped.
func (r *Runner) HandleMessage(ctx context.Context, msg jetstream.Msg) error {
	var task models.JobTask
	if err := json.Unmarshal(msg.Data(), &task); err != nil {
		r.logger.Error("invalid job task", "error", err)
		return nil
	}
	return r.Run(ctx, task)
}

// Run executes one job to a terminal state. It returns an error only when
// the worker itself is shutting down, so that the task is redelivered.
func (r *Runner) Run(ctx context.Context, task models.JobTask) error {
	log := r.logger.With("job_id", task.JobID)

	// Registered before the status read, so a cancel issued while the job
	// still looks queued reaches this run.
	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	r.mu.Lock()
	r.active[task.JobID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, task.JobID)
		r.mu.Unlock()
	}()

	job, err := r.store.GetJob(ctx, task.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status.Terminal() {
		log.Info("skipping finished job", "status", job.Status)
		return nil
	}

	r.setStatus(ctx, task.JobID, models.JobRunning, "")
	log.Info("job started", "filename", task.Filename)

	timed, stop := context.WithTimeout(jobCtx, r.cfg.Timeout)
	defer stop()

	resp, err := r.analyze(timed, task)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return fmt.Errorf("worker stopping: %w", ctx.Err())
	case errors.Is(context.Cause(jobCtx), errCancelRequested):
		r.finish(ctx, task.JobID, models.JobCancelled, "cancelled")
		log.Info("job cancelled")
		return nil
	case errors.Is(timed.Err(), context.DeadlineExceeded):
		r.finish(ctx, task.JobID, models.JobFailed, "analysis timed out")
		log.Warn("job timed out", "timeout", r.cfg.Timeout)
		return nil
	default:
		r.finish(ctx, task.JobID, models.JobFailed, err.Error())
		log.Error("job failed", "error", err)
		return nil
	}

	if errors.Is(context.Cause(jobCtx), errCancelRequested) {
		r.finish(ctx, task.JobID, models.JobCancelled, "cancelled")
		log.Info("job cancelled")
		return nil
	}

	rec, err := report.VideoRecord(uuid.New(), *resp)
	if err != nil {
		r.finish(ctx, task.JobID, models.JobFailed, err.Error())
		return nil
	}
	rec.MediaKey = task.MediaKey
	err = r.store.CompleteJob(ctx, task.JobID, rec)
	switch {
	case errors.Is(err, storage.ErrJobFinished):
		log.Info("job finished before its result was stored, result discarded")
		return nil
	case err != nil:
		r.finish(ctx, task.JobID, models.JobFailed, err.Error())
		log.Error("store job result", "error", err)
		return nil
	}

	observability.JobsProcessed.WithLabelValues(string(models.JobDone)).Inc()
	observability.Predictions.WithLabelValues("video", resp.Verdict).Inc()
	r.publish(ctx, models.JobEvent{
		Type:     models.EventResult,
		JobID:    task.JobID,
		Status:   models.JobDone,
		Progress: 1,
		Result:   rec.Result,
	})
	log.Info("job done", "verdict", resp.Verdict, "analysis_id", rec.ID)
	return nil
}

func (r *Runner) analyze(ctx context.Context, task models.JobTask) (*dto.VideoResponse, error) {
	source, cleanup, err := r.fetch(ctx, task)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	video, err := r.open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer video.Close()

	opts := r.cfg.Options
	if task.MaxFrames > 0 {
		opts.MaxFrames = task.MaxFrames
	}
	opts.Progress = func(done, total int) {
		if ctx.Err() != nil {
			return
		}
		p := float64(done) / float64(total)
		if err := r.store.UpdateJobProgress(ctx, task.JobID, p); err != nil {
			r.logger.Warn("update job progress", "job_id", task.JobID, "error", err)
		}
		r.publish(ctx, models.JobEvent{
			Type:     models.EventProgress,
			JobID:    task.JobID,
			Status:   models.JobRunning,
			Progress: p,
			Done:     done,
			Total:    total,
		})
	}

	verdict, err := r.analyzer.AnalyzeVideo(ctx, video, opts)
	if err != nil {
		return nil, err
	}
	resp := report.Video(verdict)
	resp.Filename = task.Filename
	return &resp, nil
}

// fetch makes the task media readable by ffmpeg: uploads are downloaded to
// a temp file, URLs are resolved.
func (r *Runner) fetch(ctx context.Context, task models.JobTask) (string, func(), error) {
	if task.MediaKey == "" {
		source, err := r.resolve(ctx, task.URL)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", analysis.ErrInvalidMedia, err)
		}
		return source, func() {}, nil
	}
	if r.media == nil {
		return "", nil, errors.New("object storage is not configured")
	}

	dir, err := os.MkdirTemp(r.cfg.TempDir, "job-")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	path := filepath.Join(dir, "media"+filepath.Ext(task.Filename))
	if err := r.media.Download(ctx, task.MediaKey, path); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

func (r *Runner) setStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, msg string) {
	if err := r.store.UpdateJobStatus(ctx, id, status, msg); err != nil {
		r.logger.Warn("update job status", "job_id", id, "status", status, "error", err)
	}
	r.publish(ctx, models.JobEvent{Type: models.EventStatus, JobID: id, Status: status, Error: msg})
}

func (r *Runner) finish(ctx context.Context, id uuid.UUID, status models.JobStatus, msg string) {
	observability.JobsProcessed.WithLabelValues(string(status)).Inc()
	r.setStatus(ctx, id, status, msg)
}

func (r *Runner) publish(ctx context.Context, ev models.JobEvent) {
	if r.events == nil {
		return
	}
	ev.Timestamp = time.Now()
	if err := r.events.PublishEvent(ctx, ev); err != nil {
		r.logger.Warn("publish job event", "job_id", ev.JobID, "type", ev.Type, "error", err)
	}
}
