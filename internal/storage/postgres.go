package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
	"github.com/pressly/goose/v3"

	"github.com/your-org/deepguard/internal/config"
	"github.com/your-org/deepguard/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	ErrNotFound    = errors.New("not found")
	ErrJobFinished = errors.New("job already finished")
)

// EmbeddingDim is the width of analyses.embedding. Embeddings of any other
// width are not stored.
const EmbeddingDim = 1024

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded goose migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	for _, r := range results {
		slog.Info("applied migration", "source", r.Source.Path, "duration", r.Duration)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Analyses ---

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) CreateAnalysis(ctx context.Context, a *models.Analysis) error {
	return insertAnalysis(ctx, s.pool, a)
}

func insertAnalysis(ctx context.Context, q querier, a *models.Analysis) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Result == nil {
		a.Result = []byte("{}")
	}
	var vec *pgvector.Vector
	if len(a.Embedding) == EmbeddingDim {
		v := pgvector.NewVector(a.Embedding)
		vec = &v
	}
	err := q.QueryRow(ctx,
		`INSERT INTO analyses (id, kind, filename, label, is_deepfake, confidence, probability_fake,
		   frames_analyzed, frames_with_face, media_key, heatmap_key, embedding, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING created_at`,
		a.ID, a.Kind, a.Filename, a.Label, a.IsDeepfake, a.Confidence, a.ProbabilityFake,
		a.FramesAnalyzed, a.FramesWithFace, a.MediaKey, a.HeatmapKey, vec, a.Result,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create analysis: %w", err)
	}
	return nil
}

const analysisColumns = `id, kind, filename, label, is_deepfake, confidence, probability_fake,
	frames_analyzed, frames_with_face, media_key, heatmap_key, created_at`

func scanAnalysis(row pgx.Row, a *models.Analysis, extra ...any) error {
	dest := []any{&a.ID, &a.Kind, &a.Filename, &a.Label, &a.IsDeepfake, &a.Confidence, &a.ProbabilityFake,
		&a.FramesAnalyzed, &a.FramesWithFace, &a.MediaKey, &a.HeatmapKey, &a.CreatedAt}
	return row.Scan(append(dest, extra...)...)
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	a := &models.Analysis{}
	err := scanAnalysis(s.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+`, result FROM analyses WHERE id = $1`, id), a, &a.Result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

type AnalysisFilter struct {
	Kind   string
	Label  string
	Limit  int
	Offset int
}

// ListAnalyses returns a page of analyses, newest first, and the total
// count matching the filter. Results bodies are omitted.
func (s *PostgresStore) ListAnalyses(ctx context.Context, f AnalysisFilter) ([]models.Analysis, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}

	where := "WHERE TRUE"
	var args []any
	if f.Kind != "" {
		args = append(args, f.Kind)
		where += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if f.Label != "" {
		args = append(args, f.Label)
		where += fmt.Sprintf(" AND label = $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM analyses "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM analyses %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		analysisColumns, where, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	analyses := []models.Analysis{}
	for rows.Next() {
		var a models.Analysis
		if err := scanAnalysis(rows, &a); err != nil {
			return nil, 0, fmt.Errorf("scan analysis: %w", err)
		}
		analyses = append(analyses, a)
	}
	return analyses, total, rows.Err()
}

// SearchSimilar finds the stored analyses whose embedding is closest to
// the given one by cosine distance.
func (s *PostgresStore) SearchSimilar(ctx context.Context, embedding []float32, threshold float64, limit int) ([]models.SimilarMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	if limit > 50 {
		limit = 50
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, label, confidence, 1 - (embedding <=> $1) AS similarity, created_at
		FROM analyses
		WHERE embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3`, vec, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()

	matches := []models.SimilarMatch{}
	for rows.Next() {
		var m models.SimilarMatch
		if err := rows.Scan(&m.AnalysisID, &m.Kind, &m.Label, &m.Confidence, &m.Similarity, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan similar match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, j *models.Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.Status == "" {
		j.Status = models.JobQueued
	}
	return s.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, status, source) VALUES ($1, $2, $3) RETURNING created_at, updated_at`,
		j.ID, j.Status, j.Source,
	).Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j := &models.Job{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, source, progress, error, analysis_id, created_at, updated_at FROM jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.Status, &j.Source, &j.Progress, &j.Error, &j.AnalysisID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// UpdateJobStatus moves a job to status. Terminal jobs are never updated,
// so a late progress write cannot resurrect a cancelled job.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error = $2, updated_at = now()
		 WHERE id = $3 AND status NOT IN ('done', 'failed', 'cancelled')`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress = $1, updated_at = now() WHERE id = $2 AND status = 'running'`,
		progress, id)
	return err
}

// CompleteJob stores the analysis and marks the job done in one transaction.
// A job that reached a terminal state meanwhile is left untouched, the
// analysis is rolled back and ErrJobFinished is returned.
func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, a *models.Analysis) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := insertAnalysis(ctx, tx, a); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET status = 'done', progress = 1, analysis_id = $1, updated_at = now()
		 WHERE id = $2 AND status NOT IN ('done', 'failed', 'cancelled')`,
		a.ID, id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobFinished
	}
	return tx.Commit(ctx)
}
