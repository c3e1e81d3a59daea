package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/aliexpress-credential-scraper/internal/credential-api/events"
	"github.com/maltedev/aliexpress-credential-scraper/internal/database"
	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
)

// Runner executes a batch of store targets. The production runner is the
// scrape orchestrator.
type Runner interface {
	Run(ctx context.Context, storeIDs []string) ([]models.ScrapeResult, error)
}

type Manager struct {
	db        *database.DB
	runner    Runner
	repo      *database.CredentialRepository
	publisher *events.Publisher
	logger    *slog.Logger
}

func NewManager(db *database.DB, runner Runner, publisher *events.Publisher, logger *slog.Logger) *Manager {
	return &Manager{
		db:        db,
		runner:    runner,
		repo:      database.NewCredentialRepository(db),
		publisher: publisher,
		logger:    logger.With("component", "job_manager"),
	}
}

// Job is one requested batch of stores.
type Job struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	TargetsTotal   int        `json:"targets_total"`
	TargetsDone    int        `json:"targets_done"`
	TargetsFailed  int        `json:"targets_failed"`
	ImagesCaptured int        `json:"images_captured"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// JobTarget is one store within a job.
type JobTarget struct {
	JobID   string `json:"job_id"`
	StoreID string `json:"store_id"`
	Status  string `json:"status"`
	Images  int    `json:"images"`
	Error   string `json:"error,omitempty"`
}

// Stats aggregates job and corpus counters for the stats endpoint.
type Stats struct {
	TotalJobs     int             `json:"total_jobs"`
	PendingJobs   int             `json:"pending_jobs"`
	RunningJobs   int             `json:"running_jobs"`
	CompletedJobs int             `json:"completed_jobs"`
	FailedJobs    int             `json:"failed_jobs"`
	Corpus        *database.Stats `json:"corpus,omitempty"`
}

// CreateJob records a batch and its targets; the worker picks it up.
func (m *Manager) CreateJob(ctx context.Context, storeIDs []string) (*Job, error) {
	if len(storeIDs) == 0 {
		return nil, fmt.Errorf("at least one store ID is required")
	}

	job := &Job{
		ID:           uuid.New().String(),
		Status:       "pending",
		TargetsTotal: len(storeIDs),
		CreatedAt:    time.Now(),
	}

	err := m.db.Transaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO scrape_job (id, status, targets_total, created_at)
			VALUES ($1, $2, $3, $4)`,
			job.ID, job.Status, job.TargetsTotal, job.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}

		for _, storeID := range storeIDs {
			_, err := tx.Exec(ctx, `
				INSERT INTO scrape_job_target (job_id, store_id, status)
				VALUES ($1, $2, 'pending')
				ON CONFLICT (job_id, store_id) DO NOTHING`,
				job.ID, storeID)
			if err != nil {
				return fmt.Errorf("failed to insert job target: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "targets", len(storeIDs))
	return job, nil
}

// GetJob retrieves a job by ID
func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	query := `
		SELECT id, status, targets_total, targets_done, targets_failed,
		       images_captured, created_at, started_at, completed_at, error
		FROM scrape_job
		WHERE id = $1`

	job := &Job{}
	err := m.db.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.Status, &job.TargetsTotal, &job.TargetsDone, &job.TargetsFailed,
		&job.ImagesCaptured, &job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.Error,
	)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListJobs lists recent jobs, newest first.
func (m *Manager) ListJobs(ctx context.Context) ([]*Job, error) {
	query := `
		SELECT id, status, targets_total, targets_done, targets_failed,
		       images_captured, created_at, started_at, completed_at
		FROM scrape_job
		ORDER BY created_at DESC
		LIMIT 100`

	rows, err := m.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var list []*Job
	for rows.Next() {
		job := &Job{}
		err := rows.Scan(
			&job.ID, &job.Status, &job.TargetsTotal, &job.TargetsDone, &job.TargetsFailed,
			&job.ImagesCaptured, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
		)
		if err != nil {
			continue
		}
		list = append(list, job)
	}

	return list, nil
}

// GetJobTargets retrieves the per-store status of one job.
func (m *Manager) GetJobTargets(ctx context.Context, jobID string) ([]*JobTarget, error) {
	query := `
		SELECT job_id, store_id, status, images, COALESCE(error, '')
		FROM scrape_job_target
		WHERE job_id = $1
		ORDER BY store_id`

	rows, err := m.db.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job targets: %w", err)
	}
	defer rows.Close()

	var targets []*JobTarget
	for rows.Next() {
		t := &JobTarget{}
		if err := rows.Scan(&t.JobID, &t.StoreID, &t.Status, &t.Images, &t.Error); err != nil {
			continue
		}
		targets = append(targets, t)
	}

	return targets, nil
}

// GetStats retrieves job and corpus statistics.
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	query := `
		SELECT
			COUNT(*) as total_jobs,
			COUNT(CASE WHEN status = 'pending' THEN 1 END) as pending_jobs,
			COUNT(CASE WHEN status = 'running' THEN 1 END) as running_jobs,
			COUNT(CASE WHEN status = 'completed' THEN 1 END) as completed_jobs,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) as failed_jobs
		FROM scrape_job`

	err := m.db.QueryRow(ctx, query).Scan(
		&stats.TotalJobs, &stats.PendingJobs, &stats.RunningJobs,
		&stats.CompletedJobs, &stats.FailedJobs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	corpus, err := m.repo.GetStats(ctx)
	if err != nil {
		m.logger.Warn("corpus stats unavailable", "error", err)
	} else {
		stats.Corpus = corpus
	}

	return stats, nil
}

func (m *Manager) updateJobStatus(ctx context.Context, jobID, status string, jobErr error) error {
	var query string
	var args []interface{}

	now := time.Now()
	switch {
	case status == "running":
		query = `UPDATE scrape_job SET status = $1, started_at = $2 WHERE id = $3`
		args = []interface{}{status, now, jobID}
	case status == "completed":
		query = `UPDATE scrape_job SET status = $1, completed_at = $2 WHERE id = $3`
		args = []interface{}{status, now, jobID}
	case status == "failed" && jobErr != nil:
		query = `UPDATE scrape_job SET status = $1, completed_at = $2, error = $3 WHERE id = $4`
		args = []interface{}{status, now, jobErr.Error(), jobID}
	default:
		query = `UPDATE scrape_job SET status = $1 WHERE id = $2`
		args = []interface{}{status, jobID}
	}

	_, execErr := m.db.Exec(ctx, query, args...)
	return execErr
}

func (m *Manager) updateJobProgress(ctx context.Context, jobID string, done, failed, images int) error {
	query := `
		UPDATE scrape_job
		SET targets_done = $1, targets_failed = $2, images_captured = $3
		WHERE id = $4`
	_, err := m.db.Exec(ctx, query, done, failed, images, jobID)
	return err
}
