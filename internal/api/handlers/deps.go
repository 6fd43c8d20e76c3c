package handlers

import (
	"context"
	"image"
	"io"

	"github.com/google/uuid"

	"github.com/your-org/deepguard/internal/analysis"
	"github.com/your-org/deepguard/internal/models"
	"github.com/your-org/deepguard/internal/storage"
)

// The handlers depend on these narrow views of the analyzer and stores.
// Optional dependencies are nil interfaces when the backing service is
// not configured.

type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, img image.Image, opts analysis.ImageOptions) (*analysis.ImageResult, error)
}

type VideoAnalyzer interface {
	AnalyzeVideo(ctx context.Context, media analysis.Media, opts analysis.Options) (*analysis.VideoVerdict, error)
}

type AnalysisStore interface {
	CreateAnalysis(ctx context.Context, a *models.Analysis) error
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
	ListAnalyses(ctx context.Context, f storage.AnalysisFilter) ([]models.Analysis, int, error)
	SearchSimilar(ctx context.Context, embedding []float32, threshold float64, limit int) ([]models.SimilarMatch, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, j *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg string) error
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
}

type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	PutStream(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type JobQueue interface {
	PublishJob(ctx context.Context, task models.JobTask) error
	PublishControl(cmd models.ControlCommand) error
}
