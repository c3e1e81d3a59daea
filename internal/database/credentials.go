package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
)

var ErrNotFound = errors.New("not found")

// CredentialRepository persists scrape results and their extracted
// certificate images.
type CredentialRepository struct {
	db *DB
}

func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// SaveResultWithTx writes a scrape result, its images, and the outbox
// event describing it in a single transaction. Images conflict on
// (store_id, content_hash), so a rescrape of an unchanged store is a
// no-op at the image level.
func (r *CredentialRepository) SaveResultWithTx(ctx context.Context, tx pgx.Tx, res *models.ScrapeResult) error {
	networkJSON, err := json.Marshal(res.Responses)
	if err != nil {
		return fmt.Errorf("failed to marshal network data: %w", err)
	}

	resultQuery := `
		INSERT INTO scrape_result (
			store_id, status, url, final_url, status_code,
			network_data, error, scraped_at, duration_ms
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (store_id) DO UPDATE SET
			status = EXCLUDED.status,
			url = EXCLUDED.url,
			final_url = EXCLUDED.final_url,
			status_code = EXCLUDED.status_code,
			network_data = EXCLUDED.network_data,
			error = EXCLUDED.error,
			scraped_at = EXCLUDED.scraped_at,
			duration_ms = EXCLUDED.duration_ms`

	_, err = tx.Exec(ctx, resultQuery,
		res.StoreID, string(res.Status), res.URL, res.FinalURL, res.StatusCode,
		networkJSON, res.Error, res.ScrapedAt, res.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert scrape result: %w", err)
	}

	imageQuery := `
		INSERT INTO credential_image (
			store_id, content_hash, format, base64_data, json_path,
			source_url, api_name, api_version, extracted_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (store_id, content_hash) DO NOTHING`

	for _, img := range res.Images {
		_, err := tx.Exec(ctx, imageQuery,
			img.StoreID, img.ContentHash, string(img.Format), img.Base64Data,
			img.JSONPath, img.SourceURL, img.APIName, img.APIVersion, img.ExtractedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert image: %w", err)
		}
	}

	return nil
}

// GetResult loads one store's latest result including its images.
func (r *CredentialRepository) GetResult(ctx context.Context, storeID string) (*models.ScrapeResult, error) {
	query := `
		SELECT store_id, status, url, final_url, status_code,
		       network_data, error, scraped_at, duration_ms
		FROM scrape_result
		WHERE store_id = $1`

	res := &models.ScrapeResult{}
	var status string
	var networkJSON []byte
	var durationMs int64

	err := r.db.QueryRow(ctx, query, storeID).Scan(
		&res.StoreID, &status, &res.URL, &res.FinalURL, &res.StatusCode,
		&networkJSON, &res.Error, &res.ScrapedAt, &durationMs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}

	res.Status = models.ScrapeStatus(status)
	res.Duration = time.Duration(durationMs) * time.Millisecond
	if len(networkJSON) > 0 {
		if err := json.Unmarshal(networkJSON, &res.Responses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal network data: %w", err)
		}
	}

	images, err := r.GetImages(ctx, storeID)
	if err != nil {
		return nil, err
	}
	res.Images = images

	return res, nil
}

// GetImages loads the stored certificate images for one store.
func (r *CredentialRepository) GetImages(ctx context.Context, storeID string) ([]models.ExtractedImage, error) {
	query := `
		SELECT store_id, content_hash, format, base64_data, json_path,
		       source_url, api_name, api_version, extracted_at
		FROM credential_image
		WHERE store_id = $1
		ORDER BY extracted_at`

	rows, err := r.db.Query(ctx, query, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get images: %w", err)
	}
	defer rows.Close()

	var images []models.ExtractedImage
	for rows.Next() {
		var img models.ExtractedImage
		var format string
		err := rows.Scan(
			&img.StoreID, &img.ContentHash, &format, &img.Base64Data, &img.JSONPath,
			&img.SourceURL, &img.APIName, &img.APIVersion, &img.ExtractedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		img.Format = models.ImageFormat(format)
		images = append(images, img)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return images, nil
}

// ListResults returns recent results without image payloads, newest
// first.
func (r *CredentialRepository) ListResults(ctx context.Context, limit int) ([]*models.ScrapeResult, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT store_id, status, url, final_url, status_code,
		       error, scraped_at, duration_ms
		FROM scrape_result
		ORDER BY scraped_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []*models.ScrapeResult
	for rows.Next() {
		res := &models.ScrapeResult{}
		var status string
		var durationMs int64
		err := rows.Scan(
			&res.StoreID, &status, &res.URL, &res.FinalURL, &res.StatusCode,
			&res.Error, &res.ScrapedAt, &durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		res.Status = models.ScrapeStatus(status)
		res.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, res)
	}

	return results, rows.Err()
}

// Stats summarizes the stored corpus for the stats endpoint.
type Stats struct {
	TotalStores  int     `json:"total_stores"`
	Succeeded    int     `json:"succeeded"`
	Failed       int     `json:"failed"`
	TotalImages  int     `json:"total_images"`
	SuccessRate  float64 `json:"success_rate"`
}

func (r *CredentialRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	query := `
		SELECT
			COUNT(*) as total,
			COUNT(CASE WHEN status = 'success' THEN 1 END) as succeeded,
			COUNT(CASE WHEN status = 'error' THEN 1 END) as failed
		FROM scrape_result`

	err := r.db.QueryRow(ctx, query).Scan(&stats.TotalStores, &stats.Succeeded, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM credential_image`).Scan(&stats.TotalImages); err != nil {
		return nil, fmt.Errorf("failed to count images: %w", err)
	}

	if stats.TotalStores > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.TotalStores) * 100
	}

	return stats, nil
}
