package memory

import (
	"context"
	"sync"

	"marketplace_back_end/internal/models"
)

type TimelineRepository struct {
	mu      sync.RWMutex
	entries map[string][]models.TimelineEntry
}

func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{entries: make(map[string][]models.TimelineEntry)}
}

func (r *TimelineRepository) Append(_ context.Context, e models.TimelineEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.OrderID] = append(r.entries[e.OrderID], e)
	return nil
}

func (r *TimelineRepository) List(_ context.Context, orderID string) ([]models.TimelineEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.TimelineEntry(nil), r.entries[orderID]...), nil
}
