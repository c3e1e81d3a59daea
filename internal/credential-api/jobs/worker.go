package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/aliexpress-credential-scraper/internal/credential-api/events"
	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
)

// StartWorker polls for pending jobs and runs them one at a time. The
// browser is a single shared resource, so there is no job concurrency.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("job worker stopping")
			return
		case <-ticker.C:
			m.processNextJob(ctx)
		}
	}
}

func (m *Manager) processNextJob(ctx context.Context) {
	query := `
		SELECT id
		FROM scrape_job
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var jobID string
	if err := m.db.QueryRow(ctx, query).Scan(&jobID); err != nil {
		// no pending jobs
		return
	}

	m.logger.Info("processing job", "id", jobID)

	if err := m.updateJobStatus(ctx, jobID, "running", nil); err != nil {
		m.logger.Error("failed to update job status", "error", err)
		return
	}

	if err := m.processJob(ctx, jobID); err != nil {
		m.logger.Error("job failed", "id", jobID, "error", err)
		m.updateJobStatus(ctx, jobID, "failed", err)
		return
	}

	if err := m.updateJobStatus(ctx, jobID, "completed", nil); err != nil {
		m.logger.Error("failed to mark job as completed", "error", err)
	}

	m.logger.Info("job completed", "id", jobID)
}

func (m *Manager) processJob(ctx context.Context, jobID string) error {
	storeIDs, err := m.pendingTargets(ctx, jobID)
	if err != nil {
		return err
	}
	if len(storeIDs) == 0 {
		return nil
	}

	results, runErr := m.runner.Run(ctx, storeIDs)

	done, failed, images := 0, 0, 0
	for i := range results {
		res := &results[i]
		if res.Succeeded() {
			if err := m.saveSuccess(ctx, jobID, res); err != nil {
				m.logger.Error("failed to save result", "store_id", res.StoreID, "error", err)
				failed++
				continue
			}
			done++
			images += len(res.Images)
		} else {
			m.recordFailure(ctx, jobID, res)
			failed++
		}

		if err := m.updateJobProgress(ctx, jobID, done, failed, images); err != nil {
			m.logger.Error("failed to update progress", "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("batch aborted after %d targets: %w", len(results), runErr)
	}
	return nil
}

func (m *Manager) pendingTargets(ctx context.Context, jobID string) ([]string, error) {
	rows, err := m.db.Query(ctx, `
		SELECT store_id FROM scrape_job_target
		WHERE job_id = $1 AND status = 'pending'
		ORDER BY store_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job targets: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// saveSuccess persists the result, its images, and the capture event in
// one transaction.
func (m *Manager) saveSuccess(ctx context.Context, jobID string, res *models.ScrapeResult) error {
	payload := &events.CredentialCapturedPayload{
		StoreID:    res.StoreID,
		ImageCount: len(res.Images),
		SourceURL:  res.FinalURL,
	}
	for _, img := range res.Images {
		payload.ImageHashes = append(payload.ImageHashes, img.ContentHash)
	}
	for apiType := range res.Responses {
		payload.APITypes = append(payload.APITypes, apiType)
	}

	err := m.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := m.repo.SaveResultWithTx(ctx, tx, res); err != nil {
			return err
		}
		if err := m.publisher.CapturedWithTx(ctx, tx, payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE scrape_job_target
			SET status = 'completed', images = $1
			WHERE job_id = $2 AND store_id = $3`,
			len(res.Images), jobID, res.StoreID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save result for %s: %w", res.StoreID, err)
	}
	return nil
}

func (m *Manager) recordFailure(ctx context.Context, jobID string, res *models.ScrapeResult) {
	_, err := m.db.Exec(ctx, `
		UPDATE scrape_job_target
		SET status = 'failed', error = $1
		WHERE job_id = $2 AND store_id = $3`,
		res.Error, jobID, res.StoreID)
	if err != nil {
		m.logger.Error("failed to record target failure", "store_id", res.StoreID, "error", err)
	}

	if err := m.publisher.PublishScrapeFailed(ctx, &events.ScrapeFailedPayload{
		StoreID: res.StoreID,
		Error:   res.Error,
	}); err != nil {
		m.logger.Error("failed to publish failure event", "store_id", res.StoreID, "error", err)
	}
}
