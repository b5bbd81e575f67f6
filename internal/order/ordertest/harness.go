// Package ordertest monte un moteur de commandes complet sur les dépôts mémoire.
package ordertest

import (
	"context"
	"sync"
	"testing"

	"marketplace_back_end/internal/discount"
	"marketplace_back_end/internal/inventory"
	"marketplace_back_end/internal/metrics"
	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/notify"
	"marketplace_back_end/internal/order"
	"marketplace_back_end/internal/payment"
	"marketplace_back_end/internal/payment/paymenttest"
	"marketplace_back_end/internal/repository"
	"marketplace_back_end/internal/repository/memory"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Recorder garde les événements diffusés.
type Recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *Recorder) Dispatch(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

type Harness struct {
	Engine    *order.Engine
	Orders    *memory.OrderRepository
	Products  *memory.ProductRepository
	Coupons   *memory.CouponRepository
	Accounts  *memory.AccountRepository
	Timeline  *memory.TimelineRepository
	Carts     *memory.CartStore
	Idem      *memory.Idempotency
	Ledger    *inventory.Ledger
	Discounts *discount.Engine
	Gateway   *paymenttest.Gateway
	Notifier  *Recorder
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// TaxRate et FreeShipping sont les paramètres de prix du harnais.
var (
	TaxRate      = decimal.RequireFromString("0.20")
	FreeShipping = decimal.NewFromInt(50)
)

func New(t testing.TB, products ...models.Product) *Harness {
	t.Helper()
	return NewFor(t, models.GatewayStripe, products...)
}

// NewFor monte le harnais avec une passerelle de test nommée gateway.
func NewFor(t testing.TB, gateway string, products ...models.Product) *Harness {
	t.Helper()
	return NewWith(t, Overrides{Gateway: gateway}, products...)
}

// Overrides remplace des dépôts du moteur, pour simuler pannes et courses.
// Les fonctions reçoivent le dépôt mémoire du harnais à envelopper.
type Overrides struct {
	Gateway string
	Orders  func(*memory.OrderRepository) repository.OrderRepository
	Coupons func(*memory.CouponRepository) repository.CouponRepository
}

func NewWith(t testing.TB, ov Overrides, products ...models.Product) *Harness {
	t.Helper()
	gateway := ov.Gateway
	if gateway == "" {
		gateway = models.GatewayStripe
	}
	log := zaptest.NewLogger(t)
	h := &Harness{
		Orders:   memory.NewOrderRepository(),
		Products: memory.NewProductRepository(products...),
		Coupons:  memory.NewCouponRepository(),
		Accounts: memory.NewAccountRepository(),
		Timeline: memory.NewTimelineRepository(),
		Carts:    memory.NewCartStore(),
		Idem:     memory.NewIdempotency(),
		Gateway:  paymenttest.New(gateway),
		Notifier: &Recorder{},
		Metrics:  metrics.New(),
		Log:      log,
	}
	var (
		orders  repository.OrderRepository  = h.Orders
		coupons repository.CouponRepository = h.Coupons
	)
	if ov.Orders != nil {
		orders = ov.Orders(h.Orders)
	}
	if ov.Coupons != nil {
		coupons = ov.Coupons(h.Coupons)
	}
	h.Ledger = inventory.NewLedger(h.Products, h.Metrics, log)
	h.Discounts = discount.NewEngine(coupons, h.Orders, h.Metrics, log)
	h.Engine = order.NewEngine(
		order.Config{Currency: "eur", Pricing: order.Pricing{TaxRate: TaxRate, FreeShippingThreshold: FreeShipping}},
		order.Deps{
			Orders:      orders,
			Timeline:    h.Timeline,
			Products:    h.Products,
			Accounts:    h.Accounts,
			Ledger:      h.Ledger,
			Discounts:   h.Discounts,
			Gateways:    payment.NewRegistry(h.Gateway),
			Carts:       h.Carts,
			Idempotency: h.Idem,
			Notifier:    h.Notifier,
			Metrics:     h.Metrics,
			Log:         log,
		},
	)
	return h
}

// Product est un produit actif prêt à être commandé.
func Product(id, sellerID, price string, stock int) models.Product {
	return models.Product{
		ID:         id,
		SellerID:   sellerID,
		CategoryID: "cat-" + sellerID,
		Name:       "Produit " + id,
		Price:      decimal.RequireFromString(price),
		Stock:      stock,
		IsActive:   true,
	}
}

func Address() models.Address {
	return models.Address{
		FullName:   "Camille Martin",
		Street:     "12 rue des Lilas",
		City:       "Lyon",
		PostalCode: "69003",
		Country:    "FR",
	}
}

func Buyer(id string) models.Identity {
	return models.Identity{UserID: id, Email: id + "@example.com", Role: models.RoleBuyer}
}

func Seller(id string) models.Identity {
	return models.Identity{UserID: id, Email: id + "@example.com", Role: models.RoleSeller}
}

func Admin() models.Identity {
	return models.Identity{UserID: "admin-1", Email: "admin@example.com", Role: models.RoleAdmin}
}

// Place passe une commande et échoue le test en cas d'erreur.
func (h *Harness) Place(t testing.TB, buyer models.Identity, items ...models.CartItem) *models.Order {
	t.Helper()
	p, err := h.Engine.PlaceOrder(context.Background(), buyer, order.PlaceOrderRequest{
		Items:           items,
		ShippingAddress: Address(),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return p.Order
}

// Stock retourne (stock, sold) du produit.
func (h *Harness) Stock(t testing.TB, productID string) (int, int) {
	t.Helper()
	p, err := h.Products.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("produit %s: %v", productID, err)
	}
	return p.Stock, p.Sold
}
