package order

import (
	"context"
	"errors"
	"time"

	"marketplace_back_end/internal/money"
	"marketplace_back_end/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Transitions de paiement appliquées par la réconciliation. Chacune retourne
// la commande et changed=false quand l'état stocké rend l'événement sans effet
// (doublon, événement en retard, statut de paiement plus avancé).

type PaymentConfirmation struct {
	PaymentID string
	PaidAt    time.Time
}

// ConfirmPayment : paiement completed, pending → processing.
func (e *Engine) ConfirmPayment(ctx context.Context, orderID string, c PaymentConfirmation) (*models.Order, bool, error) {
	var ch change
	o, err := e.mutate(ctx, orderID, func(o *models.Order) error {
		if !o.Payment.Status.Supersedes(models.PaymentCompleted) {
			return errUnchanged
		}
		if o.Status == models.OrderCancelled || o.Status == models.OrderRefunded {
			e.log.Warn("⚠️ Paiement confirmé sur une commande close, ignoré",
				zap.String("order_id", o.ID), zap.String("status", string(o.Status)))
			return errUnchanged
		}

		paidAt := c.PaidAt
		if paidAt.IsZero() {
			paidAt = e.now()
		}
		o.Payment.Status = models.PaymentCompleted
		o.Payment.PaidAt = &paidAt
		if c.PaymentID != "" {
			o.Payment.GatewayPaymentID = c.PaymentID
		}

		ch = change{from: o.Status, to: o.Status, actor: models.SystemActor,
			desc: "Paiement confirmé (" + money.Format(o.Total, o.Currency) + ")"}
		if o.Status == models.OrderPending {
			o.Status = models.OrderProcessing
			ch.to = models.OrderProcessing
		}
		return nil
	})
	return e.finishPayment(ctx, o, ch, err)
}

// FailPayment : paiement failed et annulation de la commande avec libération du stock.
// Sans effet une fois le paiement capturé.
func (e *Engine) FailPayment(ctx context.Context, orderID, reason string) (*models.Order, bool, error) {
	var ch change
	o, err := e.mutate(ctx, orderID, func(o *models.Order) error {
		if !o.Payment.Status.Supersedes(models.PaymentFailed) {
			return errUnchanged
		}
		o.Payment.Status = models.PaymentFailed

		desc := "Paiement échoué"
		if reason != "" {
			desc += " : " + reason
		}
		ch = change{from: o.Status, to: o.Status, actor: models.SystemActor, desc: desc}

		if CanTransition(o.Status, models.OrderCancelled) == nil {
			now := e.now()
			o.Status = models.OrderCancelled
			o.CancelledAt = &now
			o.CancellationReason = "Paiement échoué"
			if !o.InventoryReleased {
				o.InventoryReleased = true
				ch.releaseStock = true
			}
			ch.to = models.OrderCancelled
			ch.reverse = o.Total.Sub(refundedSoFar(o))
			ch.reverseOrders = true
		}
		return nil
	})
	return e.finishPayment(ctx, o, ch, err)
}

// RecordRefund applique un remboursement annoncé par la passerelle. refunded est
// le cumul remboursé sur la transaction : égal au total, la commande passe à refunded,
// en dessous seul le paiement passe à partially_refunded.
func (e *Engine) RecordRefund(ctx context.Context, orderID string, refunded decimal.Decimal, reason string) (*models.Order, bool, error) {
	var ch change
	o, err := e.mutate(ctx, orderID, func(o *models.Order) error {
		if !o.Payment.Status.Settled() {
			e.log.Warn("⚠️ Remboursement sur un paiement non capturé, ignoré",
				zap.String("order_id", o.ID), zap.String("payment_status", string(o.Payment.Status)))
			return errUnchanged
		}
		prev := refundedSoFar(o)
		if !refunded.GreaterThan(o.Payment.AmountRefunded) {
			return errUnchanged
		}

		next := models.PaymentPartiallyRefunded
		full := refunded.GreaterThanOrEqual(o.Total)
		if full {
			next = models.PaymentRefunded
		}
		if o.Payment.Status != next && !o.Payment.Status.Supersedes(next) {
			return errUnchanged
		}

		now := e.now()
		o.Payment.Status = next
		o.Payment.AmountRefunded = refunded
		if o.RefundAmount == nil || refunded.GreaterThan(*o.RefundAmount) {
			o.RefundAmount = &refunded
		}
		o.RefundedAt = &now

		delta := decimal.Zero
		if refunded.GreaterThan(prev) {
			delta = refunded.Sub(prev)
		}
		ch = change{from: o.Status, to: o.Status, actor: models.SystemActor,
			desc: "Remboursement de " + money.Format(refunded, o.Currency) + " reçu"}
		// Une commande annulée a déjà été retirée des compteurs.
		if o.Status != models.OrderCancelled {
			ch.reverse = delta
		}

		if full && CanTransition(o.Status, models.OrderRefunded) == nil {
			o.Status = models.OrderRefunded
			o.RefundReason = firstNonEmpty(reason, "Remboursement passerelle")
			ch.to = models.OrderRefunded
		}
		return nil
	})
	return e.finishPayment(ctx, o, ch, err)
}

func (e *Engine) finishPayment(ctx context.Context, o *models.Order, ch change, err error) (*models.Order, bool, error) {
	if errors.Is(err, errUnchanged) {
		return o, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	e.afterChange(ctx, o, ch)
	return o, true, nil
}
