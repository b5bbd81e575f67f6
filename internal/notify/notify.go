// Package notify diffuse les événements de commande vers les canaux externes
// (email, websocket, Kafka). Un canal en échec est journalisé puis ignoré :
// une notification ne fait jamais échouer une transition de commande.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type EventType string

const (
	OrderCreated EventType = "order.created"
	OrderUpdated EventType = "order.updated"
)

// Event est le message publié pour chaque changement visible d'une commande.
type Event struct {
	ID          string          `json:"event_id"`
	Type        EventType       `json:"type"`
	Version     int             `json:"version"`
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerID     string          `json:"buyer_id"`
	BuyerEmail  string          `json:"-"`
	SellerIDs   []string        `json:"seller_ids"`
	Status      string          `json:"status"`
	Message     string          `json:"message"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Recipients retourne l'acheteur puis chaque vendeur distinct.
func (e Event) Recipients() []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range append([]string{e.BuyerID}, e.SellerIDs...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event)
}

// Sink est un canal de livraison.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Fanout envoie l'événement à chaque canal, l'un après l'autre.
type Fanout struct {
	sinks []Sink
	log   *zap.Logger
}

func NewFanout(log *zap.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{sinks: sinks, log: log}
}

func (f *Fanout) Dispatch(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Version == 0 {
		ev.Version = 1
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	for _, s := range f.sinks {
		if err := f.send(ctx, s, ev); err != nil {
			f.log.Warn("⚠️ Notification non délivrée",
				zap.String("sink", s.Name()),
				zap.String("order_id", ev.OrderID),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}
}

func (f *Fanout) send(ctx context.Context, s Sink, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic dans %s: %v", s.Name(), r)
		}
	}()
	return s.Send(ctx, ev)
}

// Async détache la diffusion de la requête en cours. Close attend les envois en vol.
type Async struct {
	next    Dispatcher
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsync(next Dispatcher, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Async{next: next, timeout: timeout}
}

func (a *Async) Dispatch(ctx context.Context, ev Event) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		// La requête HTTP peut être terminée avant la fin de l'envoi.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		a.next.Dispatch(sendCtx, ev)
	}()
}

func (a *Async) Close() {
	a.wg.Wait()
}

// Nop ignore tous les événements.
type Nop struct{}

func (Nop) Dispatch(context.Context, Event) {}
