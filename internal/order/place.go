package order

import (
	"context"
	"errors"
	"fmt"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/discount"
	"marketplace_back_end/internal/inventory"
	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/notify"
	"marketplace_back_end/internal/payment"
	"marketplace_back_end/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type PlaceOrderRequest struct {
	// Items vide : le panier Redis de l'acheteur est utilisé.
	Items           []models.CartItem `json:"items"`
	ShippingAddress models.Address    `json:"shipping_address"`
	BillingAddress  models.Address    `json:"billing_address"`
	ShippingMethod  string            `json:"shipping_method"`
	CouponCode      string            `json:"coupon_code"`
	Gateway         string            `json:"gateway"`
	IdempotencyKey  string            `json:"-"`
}

type Placement struct {
	Order    *models.Order   `json:"order"`
	Payment  *payment.Intent `json:"payment,omitempty"`
	Replayed bool            `json:"replayed"`
}

// PlaceOrder crée la commande puis l'intention de paiement.
//
// Ordre des écritures : réservation du stock, écriture de la commande, puis
// consommation du coupon. Un échec avant l'écriture libère le stock déjà
// réservé; un coupon épuisé entre-temps annule la commande écrite.
// Timeline, compteurs, panier et notifications sont best effort. Si la
// passerelle refuse l'intention, la commande est annulée (ce qui rend le stock).
func (e *Engine) PlaceOrder(ctx context.Context, buyer models.Identity, req PlaceOrderRequest) (p *Placement, err error) {
	ctx, span := tracer.Start(ctx, "order.PlaceOrder")
	defer func() { endSpan(span, err) }()

	p, err = e.placeOrder(ctx, buyer, req)
	if err == nil {
		span.SetAttributes(attribute.String("order.id", p.Order.ID), attribute.Bool("order.replayed", p.Replayed))
	}
	return p, err
}

// placeOrder réserve la clé d'idempotence avant tout effet : une requête
// concurrente avec la même clé reçoit un conflit au lieu de créer une commande.
func (e *Engine) placeOrder(ctx context.Context, buyer models.Identity, req PlaceOrderRequest) (*Placement, error) {
	if buyer.UserID == "" {
		return nil, apperr.Forbidden("Utilisateur non authentifié")
	}
	key := req.IdempotencyKey
	if key == "" || e.idem == nil {
		return e.checkout(ctx, buyer, req)
	}

	orderID, claimed, err := e.idem.Claim(ctx, buyer.UserID, key)
	if err != nil {
		e.log.Warn("⚠️ Clé d'idempotence indisponible, checkout sans protection",
			zap.String("user_id", buyer.UserID), zap.Error(err))
		return e.checkout(ctx, buyer, req)
	}
	if !claimed {
		return e.replay(ctx, buyer.UserID, orderID)
	}

	p, err := e.checkout(ctx, buyer, req)
	if err != nil {
		if ferr := e.idem.Forget(ctx, buyer.UserID, key); ferr != nil {
			e.log.Warn("⚠️ Clé d'idempotence non libérée", zap.String("user_id", buyer.UserID), zap.Error(ferr))
		}
		return nil, err
	}
	if err := e.idem.Remember(ctx, buyer.UserID, key, p.Order.ID); err != nil {
		e.log.Warn("⚠️ Clé d'idempotence non enregistrée", zap.String("order_id", p.Order.ID), zap.Error(err))
	}
	return p, nil
}

func (e *Engine) checkout(ctx context.Context, buyer models.Identity, req PlaceOrderRequest) (*Placement, error) {
	items := req.Items
	if len(items) == 0 && e.carts != nil {
		stored, err := e.carts.Get(ctx, buyer.UserID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		items = stored
	}
	if len(items) == 0 {
		return nil, apperr.Wrap(apperr.KindValidation, ErrEmptyOrder.Error(), ErrEmptyOrder)
	}

	if !complete(req.ShippingAddress) {
		return nil, apperr.Validation("Adresse de livraison incomplète")
	}
	billing := req.BillingAddress
	if billing.IsZero() {
		billing = req.ShippingAddress
	}

	gw, err := e.gateways.Get(req.Gateway)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, payment.ErrUnknownGateway.Error(), err)
	}

	lines, err := e.snapshot(ctx, items)
	if err != nil {
		return nil, err
	}

	now := e.now()
	o := &models.Order{
		ID:              uuid.NewString(),
		Number:          NewOrderNumber(now),
		BuyerID:         buyer.UserID,
		BuyerEmail:      buyer.Email,
		Items:           lines,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billing,
		Payment:         models.PaymentInfo{Gateway: gw.Name(), Status: models.PaymentPending},
		Currency:        e.currency,
		Status:          models.OrderPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.Recalculate()

	if req.CouponCode != "" {
		v, err := e.discounts.Validate(ctx, req.CouponCode, discountCart(lines), discountCustomer(buyer))
		if err != nil {
			return nil, err
		}
		o.Discount = v.Discount
		o.Coupon = v.Snapshot()
	}

	o.ShippingMethod = req.ShippingMethod
	if o.ShippingMethod == "" {
		o.ShippingMethod = ShippingStandard
	}
	if o.ShippingCost, err = e.pricing.ShippingCost(o.ShippingMethod, o.Subtotal); err != nil {
		return nil, err
	}
	o.Tax = e.pricing.Tax(o.Subtotal, o.Discount)
	o.Recalculate()

	if err := e.ledger.ReserveItems(ctx, o.ID, o.Items); err != nil {
		return nil, err
	}

	if err := e.orders.Create(ctx, o); err != nil {
		e.releaseReserved(ctx, o)
		return nil, apperr.Internal(fmt.Errorf("création commande: %w", err))
	}

	if o.Coupon != nil {
		if err := e.discounts.Apply(ctx, o.Coupon.Code); err != nil {
			e.abandon(ctx, o, "Coupon épuisé")
			return nil, err
		}
	}

	e.metrics.OrderCreated()
	e.log.Info("✅ Commande créée",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("buyer_id", o.BuyerID),
		zap.String("total", o.Total.StringFixed(2)))

	e.record(ctx, o, buyer.UserID, "Commande passée")
	e.addAggregates(ctx, o)
	if e.carts != nil {
		if err := e.carts.Clear(ctx, buyer.UserID); err != nil {
			e.log.Warn("⚠️ Panier non vidé", zap.String("user_id", buyer.UserID), zap.Error(err))
		}
	}
	e.publish(ctx, o, notify.OrderCreated, "Commande passée", o.Total)

	intent, err := gw.CreateIntent(ctx, o.Total, o.Currency, map[string]string{
		"order_id":     o.ID,
		"order_number": o.Number,
		"buyer_id":     o.BuyerID,
	})
	if err != nil {
		e.log.Error("❌ Création du paiement échouée", zap.String("order_id", o.ID), zap.String("gateway", gw.Name()), zap.Error(err))
		if _, cerr := e.transition(ctx, o.ID, models.SystemActor, StatusUpdate{
			Status: models.OrderCancelled,
			Reason: "Échec de l'initialisation du paiement",
		}); cerr != nil {
			e.log.Error("❌ Annulation après échec de paiement impossible", zap.String("order_id", o.ID), zap.Error(cerr))
		}
		return nil, apperr.External("Impossible d'initialiser le paiement", err)
	}
	e.log.Info("💳 Paiement initialisé", zap.String("order_id", o.ID), zap.String("gateway", gw.Name()), zap.String("reference", intent.Reference))

	if err := e.orders.IndexPaymentReference(ctx, gw.Name(), intent.Reference, o.ID); err != nil {
		e.log.Error("❌ Index de référence paiement non écrit", zap.String("order_id", o.ID), zap.Error(err))
	}
	saved, err := e.mutate(ctx, o.ID, func(cur *models.Order) error {
		cur.Payment.Reference = intent.Reference
		return nil
	})
	if err != nil {
		// Le webhook retrouvera la commande via les métadonnées order_id.
		e.log.Error("❌ Référence paiement non enregistrée", zap.String("order_id", o.ID), zap.Error(err))
		o.Payment.Reference = intent.Reference
	} else {
		o = saved
	}

	return &Placement{Order: o, Payment: &intent}, nil
}

// replay renvoie la commande déjà créée pour la clé. orderID vide : la
// première requête n'a pas encore abouti.
func (e *Engine) replay(ctx context.Context, userID, orderID string) (*Placement, error) {
	if orderID == "" {
		return nil, apperr.Wrap(apperr.KindConflict, ErrCheckoutInProgress.Error(), ErrCheckoutInProgress)
	}
	o, err := e.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	e.log.Info("🔁 Checkout rejoué", zap.String("order_id", orderID), zap.String("user_id", userID))
	return &Placement{Order: o, Replayed: true}, nil
}

// snapshot fige nom, image, vendeur et prix de chaque produit. Les doublons sont fusionnés.
func (e *Engine) snapshot(ctx context.Context, items []models.CartItem) ([]models.OrderItem, error) {
	index := make(map[string]int, len(items))
	var lines []models.OrderItem

	for _, it := range items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return nil, apperr.Validation(fmt.Sprintf("Quantité invalide pour %s: %d", it.ProductID, it.Quantity))
		}
		if i, ok := index[it.ProductID]; ok {
			lines[i].Quantity += it.Quantity
			continue
		}

		p, err := e.products.Get(ctx, it.ProductID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Wrap(apperr.KindNotFound, "Produit introuvable: "+it.ProductID, inventory.ErrProductNotFound)
		}
		if err != nil {
			return nil, apperr.Internal(fmt.Errorf("lecture produit %s: %w", it.ProductID, err))
		}
		if !p.IsActive {
			return nil, apperr.Validation(fmt.Sprintf("Produit indisponible: %s", p.Name))
		}

		index[it.ProductID] = len(lines)
		lines = append(lines, models.OrderItem{
			ProductID:  p.ID,
			SellerID:   p.SellerID,
			CategoryID: p.CategoryID,
			Name:       p.Name,
			ImageURL:   p.ImageURL,
			UnitPrice:  p.Price,
			Quantity:   it.Quantity,
		})
	}

	// Contrôle anticipé ; la réservation reste l'arbitre sous concurrence.
	for _, l := range lines {
		p, err := e.products.Get(ctx, l.ProductID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if p.Stock < l.Quantity {
			return nil, apperr.Rulef(inventory.ErrInsufficientStock,
				fmt.Sprintf("Stock insuffisant pour %s (disponible: %d, demandé: %d)", p.Name, p.Stock, l.Quantity))
		}
	}
	return lines, nil
}

// abandon annule une commande écrite mais jamais annoncée : stock rendu,
// pas de compteurs à corriger ni de notification.
func (e *Engine) abandon(ctx context.Context, o *models.Order, reason string) {
	if _, err := e.transition(ctx, o.ID, models.SystemActor, StatusUpdate{
		Status:    models.OrderCancelled,
		Reason:    reason,
		abandoned: true,
	}); err != nil {
		e.log.Error("❌ Commande non annulée après échec du coupon", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (e *Engine) releaseReserved(ctx context.Context, o *models.Order) {
	if err := e.ledger.ReleaseItems(ctx, o.ID, o.Items); err != nil {
		e.log.Error("❌ Compensation du stock incomplète", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func discountCart(lines []models.OrderItem) discount.Cart {
	dl := make([]discount.Line, 0, len(lines))
	for _, l := range lines {
		dl = append(dl, discount.Line{ProductID: l.ProductID, CategoryID: l.CategoryID, UnitPrice: l.UnitPrice, Quantity: l.Quantity})
	}
	return discount.NewCart(dl)
}

func discountCustomer(id models.Identity) discount.Customer {
	return discount.Customer{ID: id.UserID, Role: id.Role}
}

func complete(a models.Address) bool {
	return a.FullName != "" && a.Street != "" && a.City != "" && a.PostalCode != "" && a.Country != ""
}
