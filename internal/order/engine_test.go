package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/discount"
	"marketplace_back_end/internal/inventory"
	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/notify"
	"marketplace_back_end/internal/order"
	"marketplace_back_end/internal/order/ordertest"
	"marketplace_back_end/internal/repository"
	"marketplace_back_end/internal/repository/memory"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func item(id string, qty int) models.CartItem { return models.CartItem{ProductID: id, Quantity: qty} }

func assertMoney(t *testing.T, want string, got decimal.Decimal, msg ...any) {
	t.Helper()
	assert.Equal(t, d(want).StringFixed(2), got.StringFixed(2), msg...)
}

func twoSellerHarness(t *testing.T) *ordertest.Harness {
	return ordertest.New(t,
		ordertest.Product("p-a", "seller-1", "20.00", 10),
		ordertest.Product("p-b", "seller-2", "15.50", 10),
	)
}

func TestPlaceOrderTotals(t *testing.T) {
	h := twoSellerHarness(t)
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 2), item("p-b", 1))

	assertMoney(t, "55.50", o.Subtotal)
	assertMoney(t, "0", o.ShippingCost, "livraison offerte au-delà de 50")
	assertMoney(t, "11.10", o.Tax)
	assertMoney(t, "66.60", o.Total)
	assert.True(t, o.Total.Equal(o.Subtotal.Add(o.Tax).Add(o.ShippingCost).Sub(o.Discount)))

	assert.Equal(t, models.OrderPending, o.Status)
	assert.Equal(t, models.PaymentPending, o.Payment.Status)
	assert.Equal(t, h.Gateway.LastIntent().Reference, o.Payment.Reference)
	assert.Regexp(t, `^ORD-\d{14}-[0-9A-F]{8}$`, o.Number)
	for _, it := range o.Items {
		assert.True(t, it.Reserved, it.ProductID)
	}

	found, err := h.Orders.FindByPaymentReference(context.Background(), models.GatewayStripe, o.Payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, o.ID, found.ID)
}

func TestPlaceOrderWithCoupon(t *testing.T) {
	h := twoSellerHarness(t)
	require.NoError(t, h.Discounts.CreateCoupon(context.Background(), &models.Coupon{
		Code: "WELCOME10", Type: models.DiscountPercentage, Amount: d("10"), IsActive: true, UsageLimit: 1,
	}))

	p, err := h.Engine.PlaceOrder(context.Background(), ordertest.Buyer("buyer-1"), order.PlaceOrderRequest{
		Items:           []models.CartItem{item("p-a", 2), item("p-b", 1)},
		ShippingAddress: ordertest.Address(),
		CouponCode:      "welcome10",
	})
	require.NoError(t, err)
	o := p.Order

	assertMoney(t, "5.55", o.Discount)
	assertMoney(t, "9.99", o.Tax)
	assertMoney(t, "59.94", o.Total)
	require.NotNil(t, o.Coupon)
	assert.Equal(t, "WELCOME10", o.Coupon.Code)

	c, err := h.Discounts.Get(context.Background(), "WELCOME10")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsageCount)

	// Limite atteinte : la commande suivante est refusée et ne touche pas au stock.
	_, err = h.Engine.PlaceOrder(context.Background(), ordertest.Buyer("buyer-2"), order.PlaceOrderRequest{
		Items:           []models.CartItem{item("p-a", 1)},
		ShippingAddress: ordertest.Address(),
		CouponCode:      "WELCOME10",
	})
	require.Error(t, err)
	stock, sold := h.Stock(t, "p-a")
	assert.Equal(t, 8, stock)
	assert.Equal(t, 2, sold)
}

func TestShippingCharged(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "10.00", 10))

	p, err := h.Engine.PlaceOrder(context.Background(), ordertest.Buyer("buyer-1"), order.PlaceOrderRequest{
		Items:           []models.CartItem{item("p-a", 1)},
		ShippingAddress: ordertest.Address(),
		ShippingMethod:  order.ShippingExpress,
	})
	require.NoError(t, err)
	assertMoney(t, "12.99", p.Order.ShippingCost)
	assertMoney(t, "2.00", p.Order.Tax)
	assertMoney(t, "24.99", p.Order.Total)
}

func TestStockRoundTripOnCancel(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "9.99", 5))
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 5))

	stock, sold := h.Stock(t, "p-a")
	assert.Equal(t, 0, stock)
	assert.Equal(t, 5, sold)

	cancelled, err := h.Engine.Cancel(context.Background(), ordertest.Admin(), o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, cancelled.Status)
	assert.True(t, cancelled.InventoryReleased)
	assert.NotNil(t, cancelled.CancelledAt)

	stock, sold = h.Stock(t, "p-a")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, sold)

	_, err = h.Engine.Cancel(context.Background(), ordertest.Admin(), o.ID, "")
	assert.ErrorIs(t, err, order.ErrStatusAlreadySet)
	stock, _ = h.Stock(t, "p-a")
	assert.Equal(t, 5, stock)
}

func TestConcurrentCancelReleasesOnce(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "9.99", 5))
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 3))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.Engine.Cancel(context.Background(), ordertest.Admin(), o.ID, "")
		}()
	}
	wg.Wait()

	stock, sold := h.Stock(t, "p-a")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, sold)
}

func TestInsufficientStockRejected(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "9.99", 2))

	_, err := h.Engine.PlaceOrder(context.Background(), ordertest.Buyer("buyer-1"), order.PlaceOrderRequest{
		Items:           []models.CartItem{item("p-a", 3)},
		ShippingAddress: ordertest.Address(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, apperr.KindBusinessRule, apperr.KindOf(err))

	stock, sold := h.Stock(t, "p-a")
	assert.Equal(t, 2, stock)
	assert.Equal(t, 0, sold)
}

func TestPlaceOrderValidation(t *testing.T) {
	h := twoSellerHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  order.PlaceOrderRequest
		kind apperr.Kind
	}{
		{name: "empty cart", req: order.PlaceOrderRequest{ShippingAddress: ordertest.Address()}, kind: apperr.KindValidation},
		{name: "missing address", req: order.PlaceOrderRequest{Items: []models.CartItem{item("p-a", 1)}}, kind: apperr.KindValidation},
		{name: "zero quantity", req: order.PlaceOrderRequest{Items: []models.CartItem{item("p-a", 0)}, ShippingAddress: ordertest.Address()}, kind: apperr.KindValidation},
		{name: "unknown product", req: order.PlaceOrderRequest{Items: []models.CartItem{item("nope", 1)}, ShippingAddress: ordertest.Address()}, kind: apperr.KindNotFound},
		{name: "unknown gateway", req: order.PlaceOrderRequest{Items: []models.CartItem{item("p-a", 1)}, ShippingAddress: ordertest.Address(), Gateway: "paypal"}, kind: apperr.KindValidation},
		{name: "unknown shipping", req: order.PlaceOrderRequest{Items: []models.CartItem{item("p-a", 1)}, ShippingAddress: ordertest.Address(), ShippingMethod: "drone"}, kind: apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Engine.PlaceOrder(ctx, ordertest.Buyer("buyer-1"), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	stock, _ := h.Stock(t, "p-a")
	assert.Equal(t, 10, stock)
}

func TestPaymentInitFailureCancels(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "30.00", 4))
	h.Gateway.FailCreate = errors.New("stripe indisponible")

	_, err := h.Engine.PlaceOrder(context.Background(), ordertest.Buyer("buyer-1"), order.PlaceOrderRequest{
		Items:           []models.CartItem{item("p-a", 2)},
		ShippingAddress: ordertest.Address(),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindExternal, apperr.KindOf(err))

	stock, sold := h.Stock(t, "p-a")
	assert.Equal(t, 4, stock)
	assert.Equal(t, 0, sold)

	orders, err := h.Engine.ListForBuyer(context.Background(), "buyer-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderCancelled, orders[0].Status)

	stats, err := h.Accounts.Buyer(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.OrderCount)
	assertMoney(t, "0", stats.TotalSpent)
}

func TestAggregates(t *testing.T) {
	h := twoSellerHarness(t)
	ctx := context.Background()
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 2), item("p-b", 1))

	buyer, err := h.Accounts.Buyer(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), buyer.OrderCount)
	assertMoney(t, "66.60", buyer.TotalSpent)

	s1, err := h.Engine.SellerStats(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), s1.TotalSales)
	assertMoney(t, "40.00", s1.TotalRevenue)

	_, err = h.Engine.Cancel(ctx, ordertest.Seller("seller-2"), o.ID, "rupture")
	require.NoError(t, err)

	buyer, _ = h.Accounts.Buyer(ctx, "buyer-1")
	assert.Equal(t, int64(0), buyer.OrderCount)
	assertMoney(t, "0", buyer.TotalSpent)
	s1, _ = h.Engine.SellerStats(ctx, "seller-1")
	assert.Equal(t, int64(0), s1.TotalSales)
	assertMoney(t, "0", s1.TotalRevenue)
}

func TestAuthorization(t *testing.T) {
	h := twoSellerHarness(t)
	ctx := context.Background()
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 1))

	_, err := h.Engine.UpdateStatus(ctx, ordertest.Seller("seller-2"), o.ID, order.StatusUpdate{Status: models.OrderProcessing})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	_, err = h.Engine.UpdateStatus(ctx, ordertest.Buyer("buyer-1"), o.ID, order.StatusUpdate{Status: models.OrderProcessing})
	assert.ErrorIs(t, err, order.ErrNotAuthorized)

	_, err = h.Engine.Get(ctx, ordertest.Buyer("buyer-2"), o.ID)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	view, err := h.Engine.Get(ctx, ordertest.Seller("seller-1"), o.ID)
	require.NoError(t, err)
	assert.Len(t, view.Timeline, 1)

	updated, err := h.Engine.UpdateStatus(ctx, ordertest.Seller("seller-1"), o.ID, order.StatusUpdate{Status: models.OrderProcessing})
	require.NoError(t, err)
	assert.Equal(t, models.OrderProcessing, updated.Status)

	_, err = h.Engine.Refund(ctx, ordertest.Seller("seller-1"), o.ID, nil, "")
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestBuyerCancellation(t *testing.T) {
	h := twoSellerHarness(t)
	ctx := context.Background()

	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 1))
	_, err := h.Engine.Cancel(ctx, ordertest.Buyer("buyer-2"), o.ID, "")
	assert.ErrorIs(t, err, order.ErrNotAuthorized)

	cancelled, err := h.Engine.Cancel(ctx, ordertest.Buyer("buyer-1"), o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Annulée à la demande du client", cancelled.CancellationReason)

	shipped := h.Place(t, ordertest.Buyer("buyer-1"), item("p-b", 1))
	_, err = h.Engine.AddTracking(ctx, ordertest.Seller("seller-2"), shipped.ID, "TRK-1", "Colissimo")
	require.NoError(t, err)
	_, err = h.Engine.Cancel(ctx, ordertest.Buyer("buyer-1"), shipped.ID, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestTrackingAutoShips(t *testing.T) {
	h := twoSellerHarness(t)
	ctx := context.Background()
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 1))

	_, err := h.Engine.UpdateStatus(ctx, ordertest.Admin(), o.ID, order.StatusUpdate{Status: models.OrderShipped})
	assert.ErrorIs(t, err, order.ErrTrackingRequired)

	_, err = h.Engine.AddTracking(ctx, ordertest.Admin(), o.ID, " ", "DHL")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	shipped, err := h.Engine.AddTracking(ctx, ordertest.Seller("seller-1"), o.ID, "TRK-42", "DHL")
	require.NoError(t, err)
	assert.Equal(t, models.OrderShipped, shipped.Status)
	assert.Equal(t, "TRK-42", shipped.TrackingNumber)
	assert.NotNil(t, shipped.ShippedAt)

	fixed, err := h.Engine.AddTracking(ctx, ordertest.Seller("seller-1"), o.ID, "TRK-43", "UPS")
	require.NoError(t, err)
	assert.Equal(t, models.OrderShipped, fixed.Status)
	assert.Equal(t, "UPS", fixed.Carrier)

	delivered, err := h.Engine.UpdateStatus(ctx, ordertest.Seller("seller-1"), o.ID, order.StatusUpdate{Status: models.OrderDelivered})
	require.NoError(t, err)
	assert.NotNil(t, delivered.DeliveredAt)

	_, err = h.Engine.UpdateStatus(ctx, ordertest.Admin(), o.ID, order.StatusUpdate{Status: models.OrderCancelled})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	timeline, err := h.Engine.Timeline(ctx, o.ID)
	require.NoError(t, err)
	var statuses []models.OrderStatus
	for _, e := range timeline {
		statuses = append(statuses, e.Status)
	}
	want := []models.OrderStatus{models.OrderPending, models.OrderShipped, models.OrderShipped, models.OrderDelivered}
	if diff := cmp.Diff(want, statuses); diff != "" {
		t.Errorf("timeline (-want +got):\n%s", diff)
	}
}

func TestAdminRefundCallsGateway(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "50.00", 3))
	ctx := context.Background()
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 1))

	_, changed, err := h.Engine.ConfirmPayment(ctx, o.ID, order.PaymentConfirmation{PaymentID: o.Payment.Reference})
	require.NoError(t, err)
	require.True(t, changed)

	half := d("30.00")
	refunded, err := h.Engine.Refund(ctx, ordertest.Admin(), o.ID, &half, "geste commercial")
	require.NoError(t, err)
	assert.Equal(t, models.OrderRefunded, refunded.Status)
	assert.Equal(t, models.PaymentPartiallyRefunded, refunded.Payment.Status)
	assertMoney(t, "30.00", *refunded.RefundAmount)

	require.Len(t, h.Gateway.Refunds, 1)
	assertMoney(t, "30.00", h.Gateway.Refunds[0].Amount)
	assert.Equal(t, o.Payment.Reference, h.Gateway.Refunds[0].Info.Reference)

	// Le remboursement ne remet pas le produit en stock.
	stock, sold := h.Stock(t, "p-a")
	assert.Equal(t, 2, stock)
	assert.Equal(t, 1, sold)

	buyer, _ := h.Accounts.Buyer(ctx, "buyer-1")
	assert.Equal(t, int64(1), buyer.OrderCount)
	assertMoney(t, "30.00", buyer.TotalSpent)

	_, err = h.Engine.Refund(ctx, ordertest.Admin(), o.ID, nil, "")
	assert.ErrorIs(t, err, order.ErrStatusAlreadySet)
}

func TestRefundGatewayFailureLeavesOrder(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "50.00", 3))
	ctx := context.Background()
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 1))
	_, _, err := h.Engine.ConfirmPayment(ctx, o.ID, order.PaymentConfirmation{})
	require.NoError(t, err)

	h.Gateway.FailRefund = errors.New("refus")
	_, err = h.Engine.Refund(ctx, ordertest.Admin(), o.ID, nil, "")
	assert.Equal(t, apperr.KindExternal, apperr.KindOf(err))

	view, err := h.Engine.Get(ctx, ordertest.Admin(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderProcessing, view.Status)

	tooMuch := d("1000")
	h.Gateway.FailRefund = nil
	_, err = h.Engine.Refund(ctx, ordertest.Admin(), o.ID, &tooMuch, "")
	assert.ErrorIs(t, err, order.ErrRefundAmount)
}

func TestPaymentTransitionsAreIdempotent(t *testing.T) {
	h := twoSellerHarness(t)
	ctx := context.Background()
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 2))

	paid, changed, err := h.Engine.ConfirmPayment(ctx, o.ID, order.PaymentConfirmation{PaymentID: "pi_1", PaidAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.OrderProcessing, paid.Status)
	assert.Equal(t, models.PaymentCompleted, paid.Payment.Status)
	assert.NotNil(t, paid.Payment.PaidAt)

	_, changed, err = h.Engine.ConfirmPayment(ctx, o.ID, order.PaymentConfirmation{PaymentID: "pi_1"})
	require.NoError(t, err)
	assert.False(t, changed)

	// Un échec arrivé après la capture est ignoré.
	after, changed, err := h.Engine.FailPayment(ctx, o.ID, "carte refusée")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.OrderProcessing, after.Status)

	timeline, _ := h.Engine.Timeline(ctx, o.ID)
	assert.Len(t, timeline, 2)
}

func TestRecordRefundPartialThenFull(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "100.00", 3))
	ctx := context.Background()
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 1))
	total := o.Total

	_, changed, err := h.Engine.RecordRefund(ctx, o.ID, d("10"), "")
	require.NoError(t, err)
	assert.False(t, changed, "paiement non capturé")

	_, _, err = h.Engine.ConfirmPayment(ctx, o.ID, order.PaymentConfirmation{})
	require.NoError(t, err)

	partial, changed, err := h.Engine.RecordRefund(ctx, o.ID, d("10"), "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.OrderProcessing, partial.Status)
	assert.Equal(t, models.PaymentPartiallyRefunded, partial.Payment.Status)

	_, changed, _ = h.Engine.RecordRefund(ctx, o.ID, d("10"), "")
	assert.False(t, changed, "rejeu")

	full, changed, err := h.Engine.RecordRefund(ctx, o.ID, total, "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.OrderRefunded, full.Status)
	assert.Equal(t, models.PaymentRefunded, full.Payment.Status)

	// Un succès en retard ne fait pas reculer le paiement.
	late, changed, err := h.Engine.ConfirmPayment(ctx, o.ID, order.PaymentConfirmation{})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.PaymentRefunded, late.Payment.Status)

	buyer, _ := h.Accounts.Buyer(ctx, "buyer-1")
	assertMoney(t, "0", buyer.TotalSpent)
}

func TestFailPaymentCancelsAndReleases(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "10.00", 5))
	ctx := context.Background()
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 2))

	failed, changed, err := h.Engine.FailPayment(ctx, o.ID, "fonds insuffisants")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.OrderCancelled, failed.Status)
	assert.Equal(t, "Paiement échoué", failed.CancellationReason)
	assert.Equal(t, models.PaymentFailed, failed.Payment.Status)

	stock, sold := h.Stock(t, "p-a")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, sold)

	_, changed, err = h.Engine.FailPayment(ctx, o.ID, "fonds insuffisants")
	require.NoError(t, err)
	assert.False(t, changed)
	stock, _ = h.Stock(t, "p-a")
	assert.Equal(t, 5, stock)
}

func TestIdempotentCheckout(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "10.00", 5))
	ctx := context.Background()
	req := order.PlaceOrderRequest{
		Items:           []models.CartItem{item("p-a", 1)},
		ShippingAddress: ordertest.Address(),
		IdempotencyKey:  "key-1",
	}

	first, err := h.Engine.PlaceOrder(ctx, ordertest.Buyer("buyer-1"), req)
	require.NoError(t, err)
	second, err := h.Engine.PlaceOrder(ctx, ordertest.Buyer("buyer-1"), req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	stock, _ := h.Stock(t, "p-a")
	assert.Equal(t, 4, stock)
}

func TestCheckoutUsesAndClearsCart(t *testing.T) {
	h := twoSellerHarness(t)
	ctx := context.Background()
	require.NoError(t, h.Carts.Save(ctx, "buyer-1", []models.CartItem{item("p-a", 1), item("p-a", 2)}))

	p, err := h.Engine.PlaceOrder(ctx, ordertest.Buyer("buyer-1"), order.PlaceOrderRequest{ShippingAddress: ordertest.Address()})
	require.NoError(t, err)
	require.Len(t, p.Order.Items, 1)
	assert.Equal(t, 3, p.Order.Items[0].Quantity)

	cart, err := h.Carts.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, cart)
}

func TestNotifications(t *testing.T) {
	h := twoSellerHarness(t)
	ctx := context.Background()
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 1), item("p-b", 1))
	_, err := h.Engine.Cancel(ctx, ordertest.Admin(), o.ID, "")
	require.NoError(t, err)

	events := h.Notifier.Events()
	require.Len(t, events, 2)
	assert.Equal(t, notify.OrderCreated, events[0].Type)
	assert.Equal(t, notify.OrderUpdated, events[1].Type)
	assert.Equal(t, "cancelled", events[1].Status)
	assert.Equal(t, []string{"buyer-1", "seller-1", "seller-2"}, events[1].Recipients())
}

type failingOrders struct {
	*memory.OrderRepository
}

func (failingOrders) Create(context.Context, *models.Order) error {
	return errors.New("scylla: timeout")
}

func TestOrderWriteFailureLeavesCouponAndStock(t *testing.T) {
	h := ordertest.NewWith(t, ordertest.Overrides{
		Orders: func(r *memory.OrderRepository) repository.OrderRepository { return failingOrders{r} },
	}, ordertest.Product("p-a", "seller-1", "20.00", 10))
	ctx := context.Background()
	require.NoError(t, h.Discounts.CreateCoupon(ctx, &models.Coupon{
		Code: "ONCE", Type: models.DiscountFixed, Amount: d("5"), IsActive: true, UsageLimit: 1,
	}))

	_, err := h.Engine.PlaceOrder(ctx, ordertest.Buyer("buyer-1"), order.PlaceOrderRequest{
		Items:           []models.CartItem{item("p-a", 2)},
		ShippingAddress: ordertest.Address(),
		CouponCode:      "ONCE",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	stock, sold := h.Stock(t, "p-a")
	assert.Equal(t, 10, stock)
	assert.Equal(t, 0, sold)
	c, err := h.Discounts.Get(ctx, "ONCE")
	require.NoError(t, err)
	assert.Equal(t, 0, c.UsageCount)
	assert.Empty(t, h.Notifier.Events())
}

// contendedCoupons fait gagner un autre checkout juste avant chaque incrément.
type contendedCoupons struct {
	*memory.CouponRepository
}

func (c contendedCoupons) CompareAndSetUsage(ctx context.Context, code string, prev, next int) (bool, error) {
	if _, err := c.CouponRepository.CompareAndSetUsage(ctx, code, prev, next); err != nil {
		return false, err
	}
	return false, nil
}

func TestCouponExhaustedAfterOrderWriteCancelsOrder(t *testing.T) {
	h := ordertest.NewWith(t, ordertest.Overrides{
		Coupons: func(r *memory.CouponRepository) repository.CouponRepository { return contendedCoupons{r} },
	}, ordertest.Product("p-a", "seller-1", "20.00", 10))
	ctx := context.Background()
	require.NoError(t, h.Discounts.CreateCoupon(ctx, &models.Coupon{
		Code: "ONCE", Type: models.DiscountFixed, Amount: d("5"), IsActive: true, UsageLimit: 1,
	}))

	_, err := h.Engine.PlaceOrder(ctx, ordertest.Buyer("buyer-1"), order.PlaceOrderRequest{
		Items:           []models.CartItem{item("p-a", 2)},
		ShippingAddress: ordertest.Address(),
		CouponCode:      "ONCE",
	})
	assert.ErrorIs(t, err, discount.ErrUsageLimitReached)

	stock, sold := h.Stock(t, "p-a")
	assert.Equal(t, 10, stock)
	assert.Equal(t, 0, sold)

	orders, err := h.Orders.ListByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderCancelled, orders[0].Status)
	assert.True(t, orders[0].InventoryReleased)

	buyer, _ := h.Accounts.Buyer(ctx, "buyer-1")
	assert.Equal(t, int64(0), buyer.OrderCount)
	assert.True(t, buyer.TotalSpent.IsZero())
	assert.Empty(t, h.Notifier.Events())
	assert.Empty(t, h.Gateway.Intents)
}

func TestConcurrentCheckoutWithSameKeyCreatesOneOrder(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "10.00", 100))
	ctx := context.Background()
	req := order.PlaceOrderRequest{
		Items:           []models.CartItem{item("p-a", 1)},
		ShippingAddress: ordertest.Address(),
		IdempotencyKey:  "k1",
	}

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := h.Engine.PlaceOrder(ctx, ordertest.Buyer("buyer-1"), req)
			if err != nil {
				assert.ErrorIs(t, err, order.ErrCheckoutInProgress)
				assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
				return
			}
			if !p.Replayed {
				mu.Lock()
				created = append(created, p.Order.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, created, 1)
	stock, _ := h.Stock(t, "p-a")
	assert.Equal(t, 99, stock)
	orders, err := h.Orders.ListByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	replay, err := h.Engine.PlaceOrder(ctx, ordertest.Buyer("buyer-1"), req)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, orders[0].ID, replay.Order.ID)
}

func TestCheckoutInProgressAndFailedKeyIsReleased(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "10.00", 5))
	ctx := context.Background()
	req := order.PlaceOrderRequest{
		Items:           []models.CartItem{item("p-a", 1)},
		ShippingAddress: ordertest.Address(),
		IdempotencyKey:  "k2",
	}

	// Clé réservée par une requête encore en vol.
	_, claimed, err := h.Idem.Claim(ctx, "buyer-1", "k2")
	require.NoError(t, err)
	require.True(t, claimed)
	_, err = h.Engine.PlaceOrder(ctx, ordertest.Buyer("buyer-1"), req)
	assert.ErrorIs(t, err, order.ErrCheckoutInProgress)
	require.NoError(t, h.Idem.Forget(ctx, "buyer-1", "k2"))

	// Un checkout en échec libère la clé : la tentative suivante aboutit.
	h.Gateway.FailCreate = errors.New("stripe indisponible")
	_, err = h.Engine.PlaceOrder(ctx, ordertest.Buyer("buyer-1"), req)
	assert.Equal(t, apperr.KindExternal, apperr.KindOf(err))

	h.Gateway.FailCreate = nil
	p, err := h.Engine.PlaceOrder(ctx, ordertest.Buyer("buyer-1"), req)
	require.NoError(t, err)
	assert.False(t, p.Replayed)
	stock, _ := h.Stock(t, "p-a")
	assert.Equal(t, 4, stock)
}

func TestRefundInFlightBlocksSecondGatewayCall(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "50.00", 3))
	ctx := context.Background()
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 1))
	_, _, err := h.Engine.ConfirmPayment(ctx, o.ID, order.PaymentConfirmation{PaymentID: o.Payment.Reference})
	require.NoError(t, err)

	// Un second admin rembourse pendant l'appel passerelle du premier.
	var concurrent error
	h.Gateway.OnRefund = func() {
		h.Gateway.OnRefund = nil
		_, concurrent = h.Engine.Refund(ctx, ordertest.Admin(), o.ID, nil, "doublon")
	}

	refunded, err := h.Engine.Refund(ctx, ordertest.Admin(), o.ID, nil, "retour produit")
	require.NoError(t, err)
	assert.ErrorIs(t, concurrent, order.ErrRefundInProgress)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(concurrent))

	assert.Equal(t, 1, h.Gateway.RefundCount())
	assert.Equal(t, models.OrderRefunded, refunded.Status)
	assert.Nil(t, refunded.RefundRequestedAt)
}

func TestRefundClaimReleasedOnGatewayFailure(t *testing.T) {
	h := ordertest.New(t, ordertest.Product("p-a", "seller-1", "50.00", 3))
	ctx := context.Background()
	o := h.Place(t, ordertest.Buyer("buyer-1"), item("p-a", 1))
	_, _, err := h.Engine.ConfirmPayment(ctx, o.ID, order.PaymentConfirmation{PaymentID: o.Payment.Reference})
	require.NoError(t, err)

	h.Gateway.FailRefund = errors.New("refus")
	_, err = h.Engine.Refund(ctx, ordertest.Admin(), o.ID, nil, "")
	require.Error(t, err)

	h.Gateway.FailRefund = nil
	refunded, err := h.Engine.Refund(ctx, ordertest.Admin(), o.ID, nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.OrderRefunded, refunded.Status)
	assert.Equal(t, 1, h.Gateway.RefundCount())
}
