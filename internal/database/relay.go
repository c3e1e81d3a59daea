package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the slice of the redis client the relay uses.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// OutboxRepo abstracts outbox access so the relay can be tested against
// an in-memory repo.
type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

// Relay drains the outbox table into Redis streams. Downstream consumers
// of credential events read the stream, never the table.
type Relay struct {
	db        *DB
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func NewRelay(db *DB, redisClient *redis.Client, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}

	return &Relay{
		db:        db,
		redis:     redisClient,
		outbox:    NewOutboxRepository(db),
		logger:    logger.With("component", "relay"),
		interval:  cfg.PollInterval,
		batchSize: cfg.BatchSize,
	}
}

// Start polls until the context dies. One bad event never stops the
// loop; it is marked failed and retried on a later tick.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.processEvents(ctx); err != nil {
		r.logger.Error("initial outbox drain failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.processEvents(ctx); err != nil {
				r.logger.Error("outbox drain failed", "error", err)
			}
		}
	}
}

func (r *Relay) processEvents(ctx context.Context) error {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	r.logger.Debug("draining outbox", "count", len(events))

	for _, ev := range events {
		if err := r.processEvent(ctx, ev); err != nil {
			r.logger.Error("event delivery failed",
				"event_id", ev.ID,
				"aggregate_id", ev.AggregateID,
				"error", err)
		}
	}
	return nil
}

func (r *Relay) processEvent(ctx context.Context, ev *OutboxEvent) error {
	if err := r.publishToRedis(ctx, ev); err != nil {
		if markErr := r.outbox.MarkFailed(ctx, ev.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed",
				"event_id", ev.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, ev.ID); err != nil {
		r.logger.Error("failed to mark event as processed",
			"event_id", ev.ID, "error", err)
		return err
	}

	r.logger.Info("event delivered",
		"event_id", ev.ID,
		"event_type", ev.EventType,
		"aggregate_id", ev.AggregateID,
		"target_stream", ev.TargetStream)
	return nil
}

func (r *Relay) publishToRedis(ctx context.Context, ev *OutboxEvent) error {
	values, err := streamValues(ev)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: ev.TargetStream,
		Values: values,
	}
	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// streamValues builds the stream entry. The full envelope rides in the
// data field; the rest are flat copies so consumers can filter without
// parsing JSON.
func streamValues(ev *OutboxEvent) (map[string]interface{}, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	envelope := map[string]interface{}{
		"id":             ev.ID.String(),
		"type":           ev.EventType,
		"aggregate_type": ev.AggregateType,
		"aggregate_id":   ev.AggregateID,
		"timestamp":      ev.CreatedAt.Format(time.RFC3339),
		"payload":        payload,
		"metadata": map[string]interface{}{
			"source":        "credential-scraper",
			"outbox_id":     ev.ID.String(),
			"retry_count":   ev.RetryCount,
			"target_stream": ev.TargetStream,
		},
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream data: %w", err)
	}

	return map[string]interface{}{
		"data":           string(data),
		"event_type":     ev.EventType,
		"aggregate_type": ev.AggregateType,
		"aggregate_id":   ev.AggregateID,
		"original_id":    ev.ID.String(),
		"timestamp":      fmt.Sprintf("%d", ev.CreatedAt.UnixNano()),
	}, nil
}

// GetPendingCount reports undelivered events, for the health endpoint.
func (r *Relay) GetPendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_event WHERE status IN ($1, $2)`,
		OutboxStatusPending, OutboxStatusFailed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending count: %w", err)
	}
	return count, nil
}

func (r *Relay) GetDeadLetterCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_event WHERE status = $1`,
		OutboxStatusDeadLetter).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get dead letter count: %w", err)
	}
	return count, nil
}
