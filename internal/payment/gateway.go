// Package payment adapte les passerelles de paiement (Stripe, Razorpay) à une
// interface commune. Les montants traversent la frontière en unités mineures :
// la conversion ×100 / ÷100 se fait ici et nulle part ailleurs.
package payment

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"marketplace_back_end/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSignature = errors.New("Signature invalide")
	ErrUnknownGateway   = errors.New("Passerelle de paiement inconnue")
	ErrMissingPaymentID = errors.New("Identifiant de paiement passerelle manquant")
)

// Intent est ce que le client reçoit pour finaliser le paiement côté front.
type Intent struct {
	Gateway      string          `json:"gateway"`
	Reference    string          `json:"reference"`
	ClientSecret string          `json:"client_secret,omitempty"`
	KeyID        string          `json:"key_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

type Refund struct {
	ID     string
	Amount decimal.Decimal
	Status string
}

type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventRefunded         EventKind = "refunded"
	EventUnknown          EventKind = "unknown"
)

// Event est un webhook vérifié et normalisé.
type Event struct {
	ID      string
	Gateway string
	Type    string
	Kind    EventKind
	// Reference est la clé posée sur la commande à la création (PaymentIntent ou order Razorpay).
	Reference string
	PaymentID string
	// OrderID vient des métadonnées, utilisé si la référence est inconnue.
	OrderID        string
	Amount         decimal.Decimal
	AmountRefunded decimal.Decimal
	Currency       string
	FailureReason  string
	Raw            []byte
}

type Gateway interface {
	Name() string
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (Intent, error)
	// Refund rembourse amount sur le paiement décrit par info.
	Refund(ctx context.Context, info models.PaymentInfo, amount decimal.Decimal) (Refund, error)
	// ParseWebhook vérifie la signature puis normalise l'événement.
	ParseWebhook(payload []byte, headers http.Header) (Event, error)
}

// Registry indexe les passerelles configurées par nom.
type Registry struct {
	gateways map[string]Gateway
	fallback string
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway)}
	for _, g := range gateways {
		if g == nil {
			continue
		}
		if r.fallback == "" {
			r.fallback = g.Name()
		}
		r.gateways[g.Name()] = g
	}
	return r
}

// Get retourne la passerelle demandée, ou la première enregistrée si name est vide.
func (r *Registry) Get(name string) (Gateway, error) {
	if name == "" {
		name = r.fallback
	}
	g, ok := r.gateways[name]
	if !ok {
		return nil, ErrUnknownGateway
	}
	return g, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for n := range r.gateways {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
