package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/deepguard/internal/models"
	"github.com/your-org/deepguard/internal/storage"
)

type ObjectSweeper interface {
	ListOlderThan(ctx context.Context, prefix string, cutoff time.Time) ([]string, error)
	DeleteObjects(ctx context.Context, keys []string) error
}

type JobLookup interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// RunRetention deletes job media under prefix older than maxAge every
// interval until ctx is done. Keys are laid out as <prefix><job id>/<name>;
// media of jobs that are still queued or running is kept regardless of age.
func RunRetention(ctx context.Context, objects ObjectSweeper, lookup JobLookup, prefix string, maxAge, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		purgeOnce(ctx, objects, lookup, prefix, maxAge, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func purgeOnce(ctx context.Context, objects ObjectSweeper, lookup JobLookup, prefix string, maxAge time.Duration, logger *slog.Logger) {
	keys, err := objects.ListOlderThan(ctx, prefix, time.Now().Add(-maxAge))
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("retention sweep failed", "prefix", prefix, "error", err)
		}
		return
	}

	live := make(map[uuid.UUID]bool)
	var expired []string
	for _, key := range keys {
		id, ok := jobIDFromKey(prefix, key)
		if ok {
			alive, seen := live[id]
			if !seen {
				alive = jobAlive(ctx, lookup, id, logger)
				live[id] = alive
			}
			if alive {
				continue
			}
		}
		expired = append(expired, key)
	}
	if len(expired) == 0 {
		return
	}

	if err := objects.DeleteObjects(ctx, expired); err != nil {
		if ctx.Err() == nil {
			logger.Warn("retention sweep failed", "prefix", prefix, "error", err)
		}
		return
	}
	logger.Info("retention sweep", "prefix", prefix, "deleted", len(expired), "kept", len(keys)-len(expired))
}

func jobIDFromKey(prefix, key string) (uuid.UUID, bool) {
	first, _, _ := strings.Cut(strings.TrimPrefix(key, prefix), "/")
	id, err := uuid.Parse(first)
	return id, err == nil
}

// jobAlive errs on the side of keeping media when the lookup fails.
func jobAlive(ctx context.Context, lookup JobLookup, id uuid.UUID, logger *slog.Logger) bool {
	job, err := lookup.GetJob(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return false
	case err != nil:
		logger.Warn("retention job lookup", "job_id", id, "error", err)
		return true
	}
	return !job.Status.Terminal()
}
