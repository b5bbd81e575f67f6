// Package paymenttest fournit une passerelle en mémoire pour les tests.
package paymenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/payment"

	"github.com/shopspring/decimal"
)

// SignatureHeader doit valoir ValidSignature pour que ParseWebhook accepte le corps.
const (
	SignatureHeader = "X-Test-Signature"
	ValidSignature  = "ok"
)

type RefundCall struct {
	Info   models.PaymentInfo
	Amount decimal.Decimal
}

// Gateway enregistre les appels. Son webhook est un payment.Event encodé en JSON.
type Gateway struct {
	mu      sync.Mutex
	name    string
	seq     int
	Intents []payment.Intent
	Refunds []RefundCall

	FailCreate error
	FailRefund error
	// OnRefund est appelé avant d'enregistrer chaque remboursement, hors verrou.
	OnRefund func()
}

func New(name string) *Gateway {
	return &Gateway{name: name}
}

func (g *Gateway) Name() string { return g.name }

func (g *Gateway) CreateIntent(_ context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCreate != nil {
		return payment.Intent{}, g.FailCreate
	}
	g.seq++
	in := payment.Intent{
		Gateway:      g.name,
		Reference:    fmt.Sprintf("%s_ref_%d", g.name, g.seq),
		ClientSecret: fmt.Sprintf("secret_%s", metadata["order_id"]),
		Amount:       amount,
		Currency:     currency,
	}
	g.Intents = append(g.Intents, in)
	return in, nil
}

func (g *Gateway) Refund(_ context.Context, info models.PaymentInfo, amount decimal.Decimal) (payment.Refund, error) {
	if g.OnRefund != nil {
		g.OnRefund()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailRefund != nil {
		return payment.Refund{}, g.FailRefund
	}
	g.Refunds = append(g.Refunds, RefundCall{Info: info, Amount: amount})
	return payment.Refund{ID: fmt.Sprintf("rf_%d", len(g.Refunds)), Amount: amount, Status: "succeeded"}, nil
}

func (g *Gateway) ParseWebhook(payload []byte, headers http.Header) (payment.Event, error) {
	if headers.Get(SignatureHeader) != ValidSignature {
		return payment.Event{}, payment.ErrInvalidSignature
	}
	var ev payment.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return payment.Event{}, err
	}
	ev.Gateway = g.name
	ev.Raw = payload
	if ev.Kind == "" {
		ev.Kind = payment.EventUnknown
	}
	return ev, nil
}

// VerifyPayment accepte ValidSignature, comme la vérification côté client Razorpay.
func (g *Gateway) VerifyPayment(orderID, paymentID, signature string) bool {
	return orderID != "" && paymentID != "" && signature == ValidSignature
}

// RefundCount est sûr sous concurrence.
func (g *Gateway) RefundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Refunds)
}

// LastIntent retourne la dernière intention créée.
func (g *Gateway) LastIntent() payment.Intent {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Intents) == 0 {
		return payment.Intent{}
	}
	return g.Intents[len(g.Intents)-1]
}

// Body encode ev comme le ferait la passerelle.
func Body(ev payment.Event) []byte {
	ev.Raw = nil
	data, _ := json.Marshal(ev)
	return data
}

func SignedHeaders() http.Header {
	h := http.Header{}
	h.Set(SignatureHeader, ValidSignature)
	return h
}
