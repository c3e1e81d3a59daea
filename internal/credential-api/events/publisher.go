package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/aliexpress-credential-scraper/internal/database"
)

type EventType string

const (
	// EventTypeCredentialCaptured is published when a store's
	// certificates were captured.
	EventTypeCredentialCaptured EventType = "CREDENTIAL_CAPTURED"
	// EventTypeScrapeFailed is published when all passes over a store
	// failed.
	EventTypeScrapeFailed EventType = "SCRAPE_FAILED"
)

// CredentialCapturedPayload describes a successful capture. Image data
// stays in the database; the event carries hashes so consumers can fetch
// exactly what changed.
type CredentialCapturedPayload struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	StoreID     string    `json:"store_id"`
	ImageCount  int       `json:"image_count"`
	ImageHashes []string  `json:"image_hashes,omitempty"`
	APITypes    []string  `json:"api_types,omitempty"`
	SourceURL   string    `json:"source_url"`
	Source      string    `json:"source"`
}

type ScrapeFailedPayload struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	StoreID   string    `json:"store_id"`
	Error     string    `json:"error"`
	Source    string    `json:"source"`
}

// Publisher writes events through the transactional outbox.
type Publisher struct {
	db     *database.DB
	outbox *database.OutboxRepository
	logger *slog.Logger
}

func NewPublisher(db *database.DB, logger *slog.Logger) *Publisher {
	return &Publisher{
		db:     db,
		outbox: database.NewOutboxRepository(db),
		logger: logger.With("component", "event_publisher"),
	}
}

// CapturedWithTx enqueues a CREDENTIAL_CAPTURED event inside the
// caller's transaction, usually the one that also saves the result.
func (p *Publisher) CapturedWithTx(ctx context.Context, tx pgx.Tx, payload *CredentialCapturedPayload) error {
	stampCaptured(payload)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: "store",
		AggregateID:   payload.StoreID,
		EventType:     string(EventTypeCredentialCaptured),
		Payload:       data,
	}

	if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"store_id", payload.StoreID,
		"outbox_id", event.ID,
	)
	return nil
}

// PublishCredentialCaptured enqueues a CREDENTIAL_CAPTURED event in its
// own transaction.
func (p *Publisher) PublishCredentialCaptured(ctx context.Context, payload *CredentialCapturedPayload) error {
	return p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.CapturedWithTx(ctx, tx, payload)
	})
}

// PublishScrapeFailed enqueues a SCRAPE_FAILED event.
func (p *Publisher) PublishScrapeFailed(ctx context.Context, payload *ScrapeFailedPayload) error {
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypeScrapeFailed)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	if payload.Source == "" {
		payload.Source = "scraper"
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: "store",
		AggregateID:   payload.StoreID,
		EventType:     string(EventTypeScrapeFailed),
		Payload:       data,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"store_id", payload.StoreID,
		"outbox_id", event.ID,
	)
	return nil
}

func stampCaptured(payload *CredentialCapturedPayload) {
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypeCredentialCaptured)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	if payload.Source == "" {
		payload.Source = "scraper"
	}
}
