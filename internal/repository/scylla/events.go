package scylla

import (
	"context"
	"fmt"

	"marketplace_back_end/internal/models"

	"github.com/gocql/gocql"
)

// EventLedger : la clé primaire (gateway, event_id) et INSERT IF NOT EXISTS
// garantissent qu'un événement n'est enregistré qu'une fois.
type EventLedger struct {
	session *gocql.Session
}

func NewEventLedger(session *gocql.Session) *EventLedger {
	return &EventLedger{session: session}
}

func (l *EventLedger) Seen(ctx context.Context, gateway, eventID string) (bool, error) {
	var id string
	err := l.session.Query(`SELECT event_id FROM webhook_events WHERE gateway = ? AND event_id = ?`, gateway, eventID).
		WithContext(ctx).Scan(&id)
	if err == gocql.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lecture registre événements: %w", err)
	}
	return true, nil
}

func (l *EventLedger) MarkProcessed(ctx context.Context, e models.ProcessedEvent) (bool, error) {
	applied, err := l.session.Query(`
		INSERT INTO webhook_events (gateway, event_id, type, order_id, outcome, processed_at)
		VALUES (?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		e.Gateway, e.EventID, e.Type, e.OrderID, e.Outcome, e.ProcessedAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("écriture registre événements: %w", err)
	}
	return applied, nil
}
