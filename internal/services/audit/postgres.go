package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"restaurant-pos/internal/database"
	"restaurant-pos/internal/models"
)

// Repository stores order events in the order_events journal
type Repository struct {
	db *database.DB
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// InsertEvent stores ev. It reports false when the event id was already journaled.
func (r *Repository) InsertEvent(ctx context.Context, ev *models.OrderEvent) (bool, error) {
	details, err := json.Marshal(detailsOrEmpty(ev.Details))
	if err != nil {
		return false, fmt.Errorf("failed to encode event details: %w", err)
	}

	tag, err := r.db.Exec(ctx, database.InsertOrderEventSQL,
		ev.EventID, ev.OrderID, ev.Action, string(ev.OldStatus), string(ev.NewStatus),
		ev.UserID, details, ev.Timestamp)
	if err != nil {
		return false, fmt.Errorf("failed to insert order event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// EventsByOrder returns the journal of one order, oldest first
func (r *Repository) EventsByOrder(ctx context.Context, orderID string) ([]models.OrderEvent, error) {
	rows, err := r.db.Query(ctx, database.GetOrderEventsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order events: %w", err)
	}
	defer rows.Close()

	events := []models.OrderEvent{}
	for rows.Next() {
		var (
			ev                   models.OrderEvent
			oldStatus, newStatus string
			details              []byte
			occurredAt           time.Time
		)
		if err := rows.Scan(&ev.EventID, &ev.OrderID, &ev.Action, &oldStatus, &newStatus,
			&ev.UserID, &details, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan order event: %w", err)
		}
		ev.OldStatus = models.OrderStatus(oldStatus)
		ev.NewStatus = models.OrderStatus(newStatus)
		ev.Timestamp = occurredAt.UTC()
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("failed to decode event details: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func detailsOrEmpty(d map[string]interface{}) map[string]interface{} {
	if d == nil {
		return map[string]interface{}{}
	}
	return d
}
