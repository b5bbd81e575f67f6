// Package webhook réconcilie les événements des passerelles de paiement avec
// l'état des commandes.
//
// Chaque événement vérifié est appliqué au plus une fois : son identifiant est
// inscrit dans le registre (gateway, event_id) après traitement. Deux livraisons
// simultanées du même événement restent sans danger, les transitions de
// paiement du moteur de commandes ne faisant jamais reculer un statut.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/metrics"
	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/order"
	"marketplace_back_end/internal/payment"
	"marketplace_back_end/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("marketplace_back_end/internal/webhook")

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeOrphan    Outcome = "order_not_found"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

type Result struct {
	EventID string  `json:"event_id"`
	Type    string  `json:"type"`
	OrderID string  `json:"order_id,omitempty"`
	Outcome Outcome `json:"outcome"`
}

// verifier est implémenté par les passerelles qui signent le retour du checkout client.
type verifier interface {
	VerifyPayment(gatewayOrderID, paymentID, signature string) bool
}

type Reconciler struct {
	gateways *payment.Registry
	ledger   repository.EventLedger
	payments repository.PaymentRepository
	orders   repository.OrderRepository
	engine   *order.Engine
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewReconciler(
	gateways *payment.Registry,
	ledger repository.EventLedger,
	payments repository.PaymentRepository,
	orders repository.OrderRepository,
	engine *order.Engine,
	m *metrics.Metrics,
	log *zap.Logger,
) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		gateways: gateways,
		ledger:   ledger,
		payments: payments,
		orders:   orders,
		engine:   engine,
		metrics:  m,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle vérifie puis applique un webhook. Une erreur de kind integrity signale
// une signature invalide (à rejeter sans nouvel essai); une erreur interne
// laisse l'événement hors du registre pour que la passerelle le renvoie.
func (r *Reconciler) Handle(ctx context.Context, gatewayName string, payload []byte, headers http.Header) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "webhook.Handle")
	span.SetAttributes(attribute.String("payment.gateway", gatewayName))
	defer func() {
		span.SetAttributes(attribute.String("webhook.outcome", string(res.Outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.PublicMessage(err))
		}
		span.End()
	}()

	gw, err := r.gateways.Get(gatewayName)
	if err != nil {
		return Result{Outcome: OutcomeRejected}, apperr.Wrap(apperr.KindNotFound, payment.ErrUnknownGateway.Error(), err)
	}

	ev, err := gw.ParseWebhook(payload, headers)
	if err != nil {
		r.metrics.WebhookEvent(gw.Name(), "unparsed", string(OutcomeRejected))
		if errors.Is(err, payment.ErrInvalidSignature) {
			r.log.Warn("❌ Webhook rejeté : signature invalide", zap.String("gateway", gw.Name()), zap.Error(err))
			return Result{Outcome: OutcomeRejected}, apperr.Wrap(apperr.KindIntegrity, payment.ErrInvalidSignature.Error(), err)
		}
		r.log.Warn("❌ Webhook illisible", zap.String("gateway", gw.Name()), zap.Error(err))
		return Result{Outcome: OutcomeRejected}, apperr.Wrap(apperr.KindValidation, "Payload webhook invalide", err)
	}
	if ev.ID == "" {
		return Result{Outcome: OutcomeRejected}, apperr.Validation("Identifiant d'événement manquant")
	}

	res = Result{EventID: ev.ID, Type: ev.Type}
	span.SetAttributes(attribute.String("webhook.event_id", ev.ID), attribute.String("webhook.type", ev.Type))
	r.log.Info("📥 Événement passerelle reçu",
		zap.String("gateway", ev.Gateway), zap.String("event_id", ev.ID), zap.String("type", ev.Type))

	seen, err := r.ledger.Seen(ctx, ev.Gateway, ev.ID)
	if err != nil {
		return r.fail(res, ev, apperr.Internal(fmt.Errorf("lecture registre webhook: %w", err)))
	}
	if seen {
		res.Outcome = OutcomeDuplicate
		r.metrics.WebhookEvent(ev.Gateway, ev.Type, string(res.Outcome))
		r.log.Info("🔁 Événement déjà traité", zap.String("gateway", ev.Gateway), zap.String("event_id", ev.ID))
		return res, nil
	}

	res, err = r.apply(ctx, ev, res)
	if err != nil {
		return r.fail(res, ev, err)
	}

	inserted, err := r.ledger.MarkProcessed(ctx, models.ProcessedEvent{
		Gateway:     ev.Gateway,
		EventID:     ev.ID,
		Type:        ev.Type,
		OrderID:     res.OrderID,
		Outcome:     string(res.Outcome),
		ProcessedAt: r.now(),
	})
	if err != nil {
		// L'effet est appliqué; un renvoi sera absorbé par la précédence des statuts.
		r.log.Error("❌ Registre webhook non écrit", zap.String("event_id", ev.ID), zap.Error(err))
	} else if !inserted {
		r.log.Debug("🔁 Événement traité en parallèle", zap.String("event_id", ev.ID))
	}

	r.metrics.WebhookEvent(ev.Gateway, ev.Type, string(res.Outcome))
	return res, nil
}

func (r *Reconciler) fail(res Result, ev payment.Event, err error) (Result, error) {
	res.Outcome = OutcomeFailed
	r.metrics.WebhookEvent(ev.Gateway, ev.Type, string(res.Outcome))
	r.log.Error("❌ Traitement webhook échoué",
		zap.String("gateway", ev.Gateway), zap.String("event_id", ev.ID), zap.Error(err))
	return res, err
}

func (r *Reconciler) apply(ctx context.Context, ev payment.Event, res Result) (Result, error) {
	if ev.Kind == payment.EventUnknown || ev.Kind == "" {
		r.log.Info("ℹ️ Événement ignoré", zap.String("gateway", ev.Gateway), zap.String("type", ev.Type))
		res.Outcome = OutcomeIgnored
		return res, nil
	}

	o, err := r.locate(ctx, ev)
	if errors.Is(err, repository.ErrNotFound) {
		r.log.Warn("⚠️ Aucune commande pour cet événement",
			zap.String("gateway", ev.Gateway),
			zap.String("event_id", ev.ID),
			zap.String("reference", ev.Reference),
			zap.String("order_id", ev.OrderID))
		res.Outcome = OutcomeOrphan
		return res, nil
	}
	if err != nil {
		return res, apperr.Internal(err)
	}
	res.OrderID = o.ID

	var changed bool
	switch ev.Kind {
	case payment.EventPaymentSucceeded:
		r.recordPayment(ctx, o, ev, models.PaymentCompleted, "")
		_, changed, err = r.engine.ConfirmPayment(ctx, o.ID, order.PaymentConfirmation{PaymentID: ev.PaymentID})

	case payment.EventPaymentFailed:
		r.recordPayment(ctx, o, ev, models.PaymentFailed, "")
		_, changed, err = r.engine.FailPayment(ctx, o.ID, ev.FailureReason)

	case payment.EventRefunded:
		refunded := ev.AmountRefunded
		if !refunded.IsPositive() {
			refunded = o.Total
		}
		var updated *models.Order
		updated, changed, err = r.engine.RecordRefund(ctx, o.ID, refunded, "")
		if err == nil && changed {
			r.recordPayment(ctx, updated, ev, updated.Payment.Status, "")
		}
	}
	if err != nil {
		return res, err
	}

	res.Outcome = OutcomeNoop
	if changed {
		res.Outcome = OutcomeApplied
	}
	r.log.Info("✅ Événement réconcilié",
		zap.String("event_id", ev.ID),
		zap.String("order_id", o.ID),
		zap.String("kind", string(ev.Kind)),
		zap.String("outcome", string(res.Outcome)))
	return res, nil
}

// locate cherche d'abord par référence passerelle, puis par l'order_id des métadonnées.
func (r *Reconciler) locate(ctx context.Context, ev payment.Event) (*models.Order, error) {
	if ev.Reference != "" {
		o, err := r.orders.FindByPaymentReference(ctx, ev.Gateway, ev.Reference)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if ev.OrderID == "" {
		return nil, repository.ErrNotFound
	}
	o, err := r.orders.Get(ctx, ev.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Payment.Gateway != ev.Gateway {
		return nil, repository.ErrNotFound
	}
	return o, nil
}

// recordPayment tient la table des transactions. Best effort : la commande reste la source de vérité.
func (r *Reconciler) recordPayment(ctx context.Context, o *models.Order, ev payment.Event, status models.PaymentStatus, signature string) {
	paymentID := ev.PaymentID
	if paymentID == "" {
		paymentID = ev.Reference
	}
	if paymentID == "" {
		return
	}

	now := r.now()
	amount := ev.Amount
	if !amount.IsPositive() {
		amount = o.Total
	}
	currency := ev.Currency
	if currency == "" {
		currency = o.Currency
	}
	p := &models.Payment{
		ID:               uuid.NewString(),
		OrderID:          o.ID,
		Gateway:          ev.Gateway,
		GatewayOrderID:   ev.Reference,
		GatewayPaymentID: paymentID,
		Signature:        signature,
		Amount:           amount,
		Currency:         currency,
		Status:           status,
		Raw:              string(ev.Raw),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := r.payments.Create(ctx, p)
	if errors.Is(err, repository.ErrAlreadyExists) {
		existing, gerr := r.payments.GetByGatewayPaymentID(ctx, ev.Gateway, paymentID)
		if gerr != nil || !existing.Status.Supersedes(status) {
			return
		}
		err = r.payments.UpdateStatus(ctx, ev.Gateway, paymentID, status)
	}
	if err != nil {
		r.log.Warn("⚠️ Transaction non enregistrée", zap.String("order_id", o.ID), zap.String("payment_id", paymentID), zap.Error(err))
	}
}

// VerifyRequest est le retour du checkout client (modèle pull).
type VerifyRequest struct {
	OrderID        string `json:"order_id" binding:"required"`
	GatewayOrderID string `json:"razorpay_order_id" binding:"required"`
	PaymentID      string `json:"razorpay_payment_id" binding:"required"`
	Signature      string `json:"razorpay_signature" binding:"required"`
}

// Verify contrôle la signature renvoyée au client puis applique la même
// transition qu'un webhook de succès. Une signature invalide est un refus définitif.
func (r *Reconciler) Verify(ctx context.Context, actor models.Identity, req VerifyRequest) (*models.Order, error) {
	o, err := r.orders.Get(ctx, req.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("Commande introuvable")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !actor.IsAdmin() && o.BuyerID != actor.UserID {
		return nil, apperr.Forbidden("Accès non autorisé à cette commande")
	}

	gw, err := r.gateways.Get(o.Payment.Gateway)
	if err != nil {
		return nil, apperr.External("Passerelle de paiement indisponible", err)
	}
	v, ok := gw.(verifier)
	if !ok {
		return nil, apperr.Validation("Vérification non supportée pour cette passerelle")
	}

	if o.Payment.Reference != req.GatewayOrderID || !v.VerifyPayment(req.GatewayOrderID, req.PaymentID, req.Signature) {
		r.metrics.WebhookEvent(gw.Name(), "client.verify", string(OutcomeRejected))
		r.log.Warn("❌ Vérification de paiement refusée",
			zap.String("order_id", o.ID), zap.String("payment_id", req.PaymentID))
		return nil, apperr.Wrap(apperr.KindIntegrity, payment.ErrInvalidSignature.Error(), payment.ErrInvalidSignature)
	}

	ev := payment.Event{
		ID:        "verify:" + req.PaymentID,
		Gateway:   gw.Name(),
		Type:      "client.verify",
		Kind:      payment.EventPaymentSucceeded,
		Reference: req.GatewayOrderID,
		PaymentID: req.PaymentID,
		OrderID:   o.ID,
	}
	r.recordPayment(ctx, o, ev, models.PaymentCompleted, req.Signature)

	updated, changed, err := r.engine.ConfirmPayment(ctx, o.ID, order.PaymentConfirmation{PaymentID: req.PaymentID})
	if err != nil {
		return nil, err
	}
	outcome := OutcomeNoop
	if changed {
		outcome = OutcomeApplied
	}
	if _, err := r.ledger.MarkProcessed(ctx, models.ProcessedEvent{
		Gateway: ev.Gateway, EventID: ev.ID, Type: ev.Type, OrderID: o.ID, Outcome: string(outcome), ProcessedAt: r.now(),
	}); err != nil {
		r.log.Warn("⚠️ Registre webhook non écrit", zap.String("event_id", ev.ID), zap.Error(err))
	}
	r.metrics.WebhookEvent(ev.Gateway, ev.Type, string(outcome))
	r.log.Info("💳 Paiement vérifié côté client", zap.String("order_id", o.ID), zap.String("payment_id", req.PaymentID))
	return updated, nil
}
