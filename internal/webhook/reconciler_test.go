package webhook_test

import (
	"context"
	"net/http"
	"testing"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/order/ordertest"
	"marketplace_back_end/internal/payment"
	"marketplace_back_end/internal/payment/paymenttest"
	"marketplace_back_end/internal/repository/memory"
	"marketplace_back_end/internal/webhook"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	*ordertest.Harness
	rec      *webhook.Reconciler
	ledger   *memory.EventLedger
	payments *memory.PaymentRepository
}

func newFixture(t *testing.T, gateway string, gws ...payment.Gateway) *fixture {
	t.Helper()
	h := ordertest.NewFor(t, gateway,
		ordertest.Product("p-a", "seller-1", "25.00", 5),
		ordertest.Product("p-b", "seller-2", "40.00", 5),
	)
	if len(gws) == 0 {
		gws = []payment.Gateway{h.Gateway}
	}
	f := &fixture{Harness: h, ledger: memory.NewEventLedger(), payments: memory.NewPaymentRepository()}
	f.rec = webhook.NewReconciler(payment.NewRegistry(gws...), f.ledger, f.payments, h.Orders, h.Engine, h.Metrics, h.Log)
	return f
}

func (f *fixture) deliver(t *testing.T, ev payment.Event) webhook.Result {
	t.Helper()
	res, err := f.rec.Handle(context.Background(), f.Gateway.Name(), paymenttest.Body(ev), paymenttest.SignedHeaders())
	require.NoError(t, err)
	return res
}

func (f *fixture) order(t *testing.T, id string) *models.Order {
	t.Helper()
	o, err := f.Orders.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

func TestDuplicateSuccessTransitionsOnce(t *testing.T) {
	f := newFixture(t, models.GatewayStripe)
	o := f.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 1))
	ref := o.Payment.Reference

	first := f.deliver(t, payment.Event{ID: "evt_1", Type: "payment_intent.succeeded", Kind: payment.EventPaymentSucceeded, Reference: ref, PaymentID: ref})
	assert.Equal(t, webhook.OutcomeApplied, first.Outcome)
	assert.Equal(t, o.ID, first.OrderID)

	// Même paiement, nouvel identifiant d'événement.
	second := f.deliver(t, payment.Event{ID: "evt_2", Type: "payment_intent.succeeded", Kind: payment.EventPaymentSucceeded, Reference: ref, PaymentID: ref})
	assert.Equal(t, webhook.OutcomeNoop, second.Outcome)

	// Même événement rejoué.
	replay := f.deliver(t, payment.Event{ID: "evt_1", Type: "payment_intent.succeeded", Kind: payment.EventPaymentSucceeded, Reference: ref, PaymentID: ref})
	assert.Equal(t, webhook.OutcomeDuplicate, replay.Outcome)

	got := f.order(t, o.ID)
	assert.Equal(t, models.OrderProcessing, got.Status)
	assert.Equal(t, models.PaymentCompleted, got.Payment.Status)

	timeline, err := f.Timeline.List(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Len(t, timeline, 2)

	p, err := f.payments.GetByGatewayPaymentID(context.Background(), models.GatewayStripe, ref)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, p.Status)
	assert.Equal(t, o.ID, p.OrderID)
}

func TestFailureRestoresStock(t *testing.T) {
	f := newFixture(t, models.GatewayStripe)
	o := f.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 2))

	stock, sold := f.Stock(t, "p-a")
	require.Equal(t, 3, stock)
	require.Equal(t, 2, sold)

	res := f.deliver(t, payment.Event{
		ID: "evt_fail", Type: "payment_intent.payment_failed", Kind: payment.EventPaymentFailed,
		Reference: o.Payment.Reference, FailureReason: "Carte refusée",
	})
	assert.Equal(t, webhook.OutcomeApplied, res.Outcome)

	got := f.order(t, o.ID)
	assert.Equal(t, models.OrderCancelled, got.Status)
	assert.Equal(t, models.PaymentFailed, got.Payment.Status)
	assert.Equal(t, "Paiement échoué", got.CancellationReason)

	stock, sold = f.Stock(t, "p-a")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, sold)

	// Un second échec ne rend pas le stock une deuxième fois.
	f.deliver(t, payment.Event{ID: "evt_fail_2", Type: "payment_intent.payment_failed", Kind: payment.EventPaymentFailed, Reference: o.Payment.Reference})
	stock, _ = f.Stock(t, "p-a")
	assert.Equal(t, 5, stock)

	// Un succès arrivé après l'annulation est ignoré.
	late := f.deliver(t, payment.Event{ID: "evt_late", Type: "payment_intent.succeeded", Kind: payment.EventPaymentSucceeded, Reference: o.Payment.Reference})
	assert.Equal(t, webhook.OutcomeNoop, late.Outcome)
	assert.Equal(t, models.OrderCancelled, f.order(t, o.ID).Status)
}

func TestRefundPartialThenFull(t *testing.T) {
	f := newFixture(t, models.GatewayStripe)
	o := f.Place(t, ordertest.Buyer("buyer-1"), item("p-b", 2))
	ref := o.Payment.Reference

	f.deliver(t, payment.Event{ID: "evt_ok", Type: "payment_intent.succeeded", Kind: payment.EventPaymentSucceeded, Reference: ref, PaymentID: ref})

	partial := f.deliver(t, payment.Event{
		ID: "evt_rf_1", Type: "charge.refunded", Kind: payment.EventRefunded,
		Reference: ref, PaymentID: ref, Amount: o.Total, AmountRefunded: decimal.RequireFromString("20.00"),
	})
	assert.Equal(t, webhook.OutcomeApplied, partial.Outcome)
	got := f.order(t, o.ID)
	assert.Equal(t, models.OrderProcessing, got.Status)
	assert.Equal(t, models.PaymentPartiallyRefunded, got.Payment.Status)

	full := f.deliver(t, payment.Event{
		ID: "evt_rf_2", Type: "charge.refunded", Kind: payment.EventRefunded,
		Reference: ref, PaymentID: ref, Amount: o.Total, AmountRefunded: o.Total,
	})
	assert.Equal(t, webhook.OutcomeApplied, full.Outcome)
	got = f.order(t, o.ID)
	assert.Equal(t, models.OrderRefunded, got.Status)
	assert.Equal(t, models.PaymentRefunded, got.Payment.Status)

	p, err := f.payments.GetByGatewayPaymentID(context.Background(), models.GatewayStripe, ref)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, p.Status)

	// Le remboursement ne remet rien en stock.
	stock, sold := f.Stock(t, "p-b")
	assert.Equal(t, 3, stock)
	assert.Equal(t, 2, sold)

	late := f.deliver(t, payment.Event{ID: "evt_ok_again", Type: "payment_intent.succeeded", Kind: payment.EventPaymentSucceeded, Reference: ref})
	assert.Equal(t, webhook.OutcomeNoop, late.Outcome)
	assert.Equal(t, models.PaymentRefunded, f.order(t, o.ID).Payment.Status)

	events := f.Notifier.Events()
	last := events[len(events)-1]
	assert.Equal(t, "refunded", last.Status)
	assert.Equal(t, []string{"buyer-1", "seller-2"}, last.Recipients())
}

func TestUnknownAndOrphanEventsAcknowledged(t *testing.T) {
	f := newFixture(t, models.GatewayStripe)
	ctx := context.Background()

	res := f.deliver(t, payment.Event{ID: "evt_x", Type: "customer.created"})
	assert.Equal(t, webhook.OutcomeIgnored, res.Outcome)
	seen, err := f.ledger.Seen(ctx, models.GatewayStripe, "evt_x")
	require.NoError(t, err)
	assert.True(t, seen)

	res = f.deliver(t, payment.Event{ID: "evt_y", Type: "payment_intent.succeeded", Kind: payment.EventPaymentSucceeded, Reference: "pi_inconnu"})
	assert.Equal(t, webhook.OutcomeOrphan, res.Outcome)
	seen, _ = f.ledger.Seen(ctx, models.GatewayStripe, "evt_y")
	assert.True(t, seen)
}

func TestMetadataFallback(t *testing.T) {
	f := newFixture(t, models.GatewayStripe)
	o := f.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 1))

	res := f.deliver(t, payment.Event{ID: "evt_meta", Type: "payment_intent.succeeded", Kind: payment.EventPaymentSucceeded, Reference: "pi_autre", OrderID: o.ID})
	assert.Equal(t, webhook.OutcomeApplied, res.Outcome)
	assert.Equal(t, models.OrderProcessing, f.order(t, o.ID).Status)
}

func TestInvalidSignatureRejected(t *testing.T) {
	f := newFixture(t, models.GatewayStripe)
	o := f.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 1))
	body := paymenttest.Body(payment.Event{ID: "evt_bad", Kind: payment.EventPaymentSucceeded, Reference: o.Payment.Reference})

	res, err := f.rec.Handle(context.Background(), models.GatewayStripe, body, http.Header{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err))
	assert.Equal(t, webhook.OutcomeRejected, res.Outcome)

	seen, _ := f.ledger.Seen(context.Background(), models.GatewayStripe, "evt_bad")
	assert.False(t, seen)
	assert.Equal(t, models.OrderPending, f.order(t, o.ID).Status)

	_, err = f.rec.Handle(context.Background(), "paypal", body, paymenttest.SignedHeaders())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRazorpayWebhookEndToEnd(t *testing.T) {
	const webhookSecret = "whsec_rzp"
	rzp := payment.NewRazorpay("rzp_key", "rzp_secret", webhookSecret)
	f := newFixture(t, models.GatewayRazorpay, rzp)

	// La commande est créée via la passerelle de test; seul le webhook passe par l'adaptateur réel.
	o := f.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 2))
	require.Equal(t, "razorpay_ref_1", o.Payment.Reference)

	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_9","order_id":"razorpay_ref_1","amount":6000,"currency":"EUR","status":"captured","notes":[]}}},"created_at":1760000000}`)
	headers := http.Header{}
	headers.Set("X-Razorpay-Signature", payment.Sign(webhookSecret, string(body)))
	headers.Set("X-Razorpay-Event-Id", "evt_rzp_1")

	res, err := f.rec.Handle(context.Background(), models.GatewayRazorpay, body, headers)
	require.NoError(t, err)
	assert.Equal(t, webhook.OutcomeApplied, res.Outcome)

	got := f.order(t, o.ID)
	assert.Equal(t, models.OrderProcessing, got.Status)
	assert.Equal(t, "pay_9", got.Payment.GatewayPaymentID)

	headers.Set("X-Razorpay-Signature", "deadbeef")
	_, err = f.rec.Handle(context.Background(), models.GatewayRazorpay, body, headers)
	assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err))
}

func TestVerifyPullModel(t *testing.T) {
	f := newFixture(t, models.GatewayRazorpay)
	ctx := context.Background()
	o := f.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 1))

	req := webhook.VerifyRequest{
		OrderID:        o.ID,
		GatewayOrderID: o.Payment.Reference,
		PaymentID:      "pay_1",
		Signature:      paymenttest.ValidSignature,
	}

	_, err := f.rec.Verify(ctx, ordertest.Buyer("buyer-2"), req)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	bad := req
	bad.Signature = "forged"
	_, err = f.rec.Verify(ctx, ordertest.Buyer("buyer-1"), bad)
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err))

	other := req
	other.GatewayOrderID = "order_autre"
	_, err = f.rec.Verify(ctx, ordertest.Buyer("buyer-1"), other)
	assert.Equal(t, apperr.KindIntegrity, apperr.KindOf(err))
	assert.Equal(t, models.OrderPending, f.order(t, o.ID).Status)

	got, err := f.rec.Verify(ctx, ordertest.Buyer("buyer-1"), req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderProcessing, got.Status)
	assert.Equal(t, "pay_1", got.Payment.GatewayPaymentID)

	// Le webhook qui suit converge sans effet supplémentaire.
	res := f.deliver(t, payment.Event{ID: "evt_after", Type: "payment.captured", Kind: payment.EventPaymentSucceeded, Reference: o.Payment.Reference, PaymentID: "pay_1"})
	assert.Equal(t, webhook.OutcomeNoop, res.Outcome)

	p, err := f.payments.GetByGatewayPaymentID(ctx, models.GatewayRazorpay, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, paymenttest.ValidSignature, p.Signature)
}

func item(id string, qty int) models.CartItem { return models.CartItem{ProductID: id, Quantity: qty} }
