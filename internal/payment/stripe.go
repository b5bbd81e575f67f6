package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/money"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/refund"
	"github.com/stripe/stripe-go/v83/webhook"
)

// Stripe suit le modèle push : le client confirme le PaymentIntent côté front,
// l'issue arrive uniquement par webhook.
type Stripe struct {
	webhookSecret string
	createIntent  func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	createRefund  func(*stripe.RefundParams) (*stripe.Refund, error)
}

func NewStripe(secretKey, webhookSecret string) *Stripe {
	stripe.Key = secretKey
	return &Stripe{
		webhookSecret: webhookSecret,
		createIntent:  paymentintent.New,
		createRefund:  refund.New,
	}
}

func (s *Stripe) Name() string { return models.GatewayStripe }

func (s *Stripe) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (Intent, error) {
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(money.ToMinor(amount)),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.createIntent(params)
	if err != nil {
		return Intent{}, fmt.Errorf("création PaymentIntent: %w", err)
	}
	return Intent{
		Gateway:      models.GatewayStripe,
		Reference:    pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       amount,
		Currency:     strings.ToLower(currency),
	}, nil
}

func (s *Stripe) Refund(ctx context.Context, info models.PaymentInfo, amount decimal.Decimal) (Refund, error) {
	if err := ctx.Err(); err != nil {
		return Refund{}, err
	}
	if info.Reference == "" {
		return Refund{}, ErrMissingPaymentID
	}
	r, err := s.createRefund(&stripe.RefundParams{
		PaymentIntent: stripe.String(info.Reference),
		Amount:        stripe.Int64(money.ToMinor(amount)),
		Reason:        stripe.String("requested_by_customer"),
	})
	if err != nil {
		return Refund{}, fmt.Errorf("remboursement Stripe: %w", err)
	}
	return Refund{ID: r.ID, Amount: money.FromMinor(r.Amount), Status: string(r.Status)}, nil
}

func (s *Stripe) ParseWebhook(payload []byte, headers http.Header) (Event, error) {
	ev, err := webhook.ConstructEvent(payload, headers.Get("Stripe-Signature"), s.webhookSecret)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: ev.ID, Gateway: models.GatewayStripe, Type: string(ev.Type), Kind: EventUnknown, Raw: payload}

	switch ev.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return Event{}, fmt.Errorf("décodage PaymentIntent: %w", err)
		}
		out.Kind = EventPaymentSucceeded
		if ev.Type == "payment_intent.payment_failed" {
			out.Kind = EventPaymentFailed
			if pi.LastPaymentError != nil {
				out.FailureReason = pi.LastPaymentError.Msg
			}
		}
		out.Reference = pi.ID
		out.PaymentID = pi.ID
		out.OrderID = pi.Metadata["order_id"]
		out.Amount = money.FromMinor(pi.Amount)
		out.Currency = string(pi.Currency)

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return Event{}, fmt.Errorf("décodage Charge: %w", err)
		}
		out.Kind = EventRefunded
		if ch.PaymentIntent != nil {
			out.Reference = ch.PaymentIntent.ID
			out.PaymentID = ch.PaymentIntent.ID
		}
		out.OrderID = ch.Metadata["order_id"]
		out.Amount = money.FromMinor(ch.Amount)
		out.AmountRefunded = money.FromMinor(ch.AmountRefunded)
		out.Currency = string(ch.Currency)
	}
	return out, nil
}
