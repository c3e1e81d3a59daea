package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the number of delivery attempts before an event
	// lands in dead letter.
	MaxRetryCount = 5

	// DefaultStream receives credential lifecycle events unless the
	// producer routes elsewhere.
	DefaultStream = "stream:credential_lifecycle"
)

// OutboxEvent is one row of the transactional outbox. Events are written
// in the same transaction as the result they describe, so a crash between
// scrape and publish can never lose an event.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx writes an event inside the caller's transaction, filling
// in ID, status, stream and timestamps where the caller left them empty.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, ev *OutboxEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Status == "" {
		ev.Status = OutboxStatusPending
	}
	if ev.TargetStream == "" {
		ev.TargetStream = DefaultStream
	}
	now := time.Now()
	ev.CreatedAt = now
	if ev.NextRetryAt == nil {
		ev.NextRetryAt = &now
	}

	const q = `
		INSERT INTO outbox_event
			(id, aggregate_type, aggregate_id, event_type, payload,
			 target_stream, status, retry_count, created_at, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err := tx.Exec(ctx, q,
		ev.ID, ev.AggregateType, ev.AggregateID, ev.EventType, ev.Payload,
		ev.TargetStream, ev.Status, ev.RetryCount, ev.CreatedAt, ev.NextRetryAt,
	); err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// GetPending returns events due for delivery, oldest first. Failed events
// show up again once their backoff has elapsed.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	const q = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
		       target_stream, status, retry_count, error_message,
		       created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE status IN ($1, $2) AND next_retry_at <= $3
		ORDER BY created_at ASC
		LIMIT $4`

	rows, err := r.db.pool.Query(ctx, q,
		OutboxStatusPending, OutboxStatusFailed, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		ev := &OutboxEvent{}
		if err := rows.Scan(
			&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.EventType, &ev.Payload,
			&ev.TargetStream, &ev.Status, &ev.RetryCount, &ev.ErrorMessage,
			&ev.CreatedAt, &ev.ProcessedAt, &ev.NextRetryAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE outbox_event SET status = $1, processed_at = $2 WHERE id = $3`,
		OutboxStatusProcessed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event not found: %s", id)
	}
	return nil
}

// MarkFailed records a delivery failure and schedules the retry, moving
// the event to dead letter once the retry budget runs out.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, deliveryErr error) error {
	var retries int
	if err := r.db.pool.QueryRow(ctx,
		`SELECT retry_count FROM outbox_event WHERE id = $1`, id).Scan(&retries); err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}
	retries++

	status := OutboxStatusFailed
	if retries >= MaxRetryCount {
		status = OutboxStatusDeadLetter
	}

	if _, err := r.db.pool.Exec(ctx,
		`UPDATE outbox_event
		 SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
		 WHERE id = $5`,
		status, retries, deliveryErr.Error(), calculateNextRetryTime(retries), id,
	); err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

// calculateNextRetryTime backs off exponentially, capped at 5 minutes.
func calculateNextRetryTime(retryCount int) time.Time {
	backoffSeconds := 1 << retryCount
	if backoffSeconds > 300 {
		backoffSeconds = 300
	}
	return time.Now().Add(time.Duration(backoffSeconds) * time.Second)
}
