package memory

import (
	"context"
	"sync"

	"marketplace_back_end/internal/models"
)

type EventLedger struct {
	mu     sync.Mutex
	events map[string]models.ProcessedEvent
}

func NewEventLedger() *EventLedger {
	return &EventLedger{events: make(map[string]models.ProcessedEvent)}
}

func (l *EventLedger) Seen(_ context.Context, gateway, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.events[gateway+"|"+eventID]
	return ok, nil
}

func (l *EventLedger) MarkProcessed(_ context.Context, e models.ProcessedEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := e.Gateway + "|" + e.EventID
	if _, ok := l.events[key]; ok {
		return false, nil
	}
	l.events[key] = e
	return true, nil
}
