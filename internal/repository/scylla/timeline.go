package scylla

import (
	"context"
	"fmt"

	"marketplace_back_end/internal/models"

	"github.com/gocql/gocql"
)

// TimelineRepository n'expose que l'ajout et la lecture : le journal n'est jamais modifié.
type TimelineRepository struct {
	session *gocql.Session
}

func NewTimelineRepository(session *gocql.Session) *TimelineRepository {
	return &TimelineRepository{session: session}
}

func (r *TimelineRepository) Append(ctx context.Context, e models.TimelineEntry) error {
	id, err := parseUUID(e.OrderID)
	if err != nil {
		return err
	}
	return r.session.Query(`
		INSERT INTO order_timeline (order_id, entry_id, status, description, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, gocql.UUIDFromTime(e.CreatedAt), string(e.Status), e.Description, e.Actor, e.CreatedAt,
	).WithContext(ctx).Exec()
}

func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]models.TimelineEntry, error) {
	id, err := parseUUID(orderID)
	if err != nil {
		return nil, err
	}
	iter := r.session.Query(`
		SELECT status, description, actor, created_at FROM order_timeline WHERE order_id = ?`, id).
		WithContext(ctx).Iter()

	var out []models.TimelineEntry
	var status string
	e := models.TimelineEntry{OrderID: orderID}
	for iter.Scan(&status, &e.Description, &e.Actor, &e.CreatedAt) {
		e.Status = models.OrderStatus(status)
		out = append(out, e)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("lecture timeline: %w", err)
	}
	return out, nil
}
