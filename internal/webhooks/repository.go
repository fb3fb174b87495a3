package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/offroad-parts/checkout/internal/domain"
)

type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, &domain.PersistenceError{Op: "look up webhook event", Err: err}
	}
	return exists, nil
}

// Record inserts the dedup record. A record that already exists for the event id yields
// domain.ErrAlreadyExists; that is the backstop for concurrent deliveries of one event.
func (r *EventRepository) Record(ctx context.Context, rec *domain.WebhookEventRecord) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, event_type, order_id, processed_at)
		VALUES ($1, $2, $3, $4)
	`, rec.EventID, rec.EventType, sql.NullString{String: rec.OrderID, Valid: rec.OrderID != ""}, rec.ProcessedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("webhook event %s: %w", rec.EventID, domain.ErrAlreadyExists)
		}
		return &domain.PersistenceError{Op: "insert webhook event", Err: err}
	}
	return nil
}

func (r *EventRepository) Get(ctx context.Context, eventID string) (*domain.WebhookEventRecord, error) {
	var rec domain.WebhookEventRecord
	var orderID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT event_id, event_type, order_id, processed_at
		FROM webhook_events
		WHERE event_id = $1
	`, eventID).Scan(&rec.EventID, &rec.EventType, &orderID, &rec.ProcessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	rec.OrderID = orderID.String
	return &rec, nil
}
