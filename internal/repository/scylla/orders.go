// Package scylla implémente les dépôts sur ScyllaDB. Les mutations concurrentes
// passent par des LWT (IF ...) ou des colonnes counter, jamais par lecture puis écriture aveugle.
package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/money"
	"marketplace_back_end/internal/repository"

	"github.com/gocql/gocql"
)

type OrderRepository struct {
	session *gocql.Session
}

func NewOrderRepository(session *gocql.Session) *OrderRepository {
	return &OrderRepository{session: session}
}

func parseUUID(id string) (gocql.UUID, error) {
	u, err := gocql.ParseUUID(id)
	if err != nil {
		return gocql.UUID{}, fmt.Errorf("%w: identifiant %q", repository.ErrNotFound, id)
	}
	return u, nil
}

func notFound(err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return repository.ErrNotFound
	}
	return err
}

func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	id, err := parseUUID(o.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("sérialisation commande: %w", err)
	}

	applied, err := r.session.Query(`
		INSERT INTO orders (order_id, order_number, buyer_id, status, total_cents, data, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		id, o.Number, o.BuyerID, string(o.Status), money.ToMinor(o.Total), string(data), o.Version, o.CreatedAt, o.UpdatedAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("insertion commande: %w", err)
	}
	if !applied {
		return repository.ErrAlreadyExists
	}

	var couponCode string
	if o.Coupon != nil {
		couponCode = o.Coupon.Code
	}
	if err := r.session.Query(`
		INSERT INTO orders_by_buyer (buyer_id, created_at, order_id, coupon_code) VALUES (?, ?, ?, ?)`,
		o.BuyerID, o.CreatedAt, id, couponCode,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("index acheteur: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*models.Order, error) {
	uid, err := parseUUID(id)
	if err != nil {
		return nil, err
	}

	var data string
	var version int
	err = r.session.Query(`SELECT data, version FROM orders WHERE order_id = ?`, uid).
		WithContext(ctx).Scan(&data, &version)
	if err != nil {
		return nil, notFound(err)
	}

	var o models.Order
	if err := json.Unmarshal([]byte(data), &o); err != nil {
		return nil, fmt.Errorf("décodage commande %s: %w", id, err)
	}
	o.Version = version
	return &o, nil
}

func (r *OrderRepository) Update(ctx context.Context, o *models.Order) error {
	id, err := parseUUID(o.ID)
	if err != nil {
		return err
	}
	expected := o.Version
	o.Version = expected + 1

	data, err := json.Marshal(o)
	if err != nil {
		o.Version = expected
		return fmt.Errorf("sérialisation commande: %w", err)
	}

	applied, err := r.session.Query(`
		UPDATE orders SET status = ?, total_cents = ?, data = ?, version = ?, updated_at = ?
		WHERE order_id = ? IF version = ?`,
		string(o.Status), money.ToMinor(o.Total), string(data), o.Version, o.UpdatedAt, id, expected,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		o.Version = expected
		return fmt.Errorf("mise à jour commande: %w", err)
	}
	if !applied {
		o.Version = expected
		return repository.ErrVersionConflict
	}
	return nil
}

func (r *OrderRepository) IndexPaymentReference(ctx context.Context, gateway, reference, orderID string) error {
	id, err := parseUUID(orderID)
	if err != nil {
		return err
	}
	return r.session.Query(`INSERT INTO orders_by_payment (gateway, reference, order_id) VALUES (?, ?, ?)`,
		gateway, reference, id).WithContext(ctx).Exec()
}

func (r *OrderRepository) FindByPaymentReference(ctx context.Context, gateway, reference string) (*models.Order, error) {
	var id gocql.UUID
	err := r.session.Query(`SELECT order_id FROM orders_by_payment WHERE gateway = ? AND reference = ?`,
		gateway, reference).WithContext(ctx).Scan(&id)
	if err != nil {
		return nil, notFound(err)
	}
	return r.Get(ctx, id.String())
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string) ([]*models.Order, error) {
	iter := r.session.Query(`SELECT order_id FROM orders_by_buyer WHERE buyer_id = ?`, buyerID).
		WithContext(ctx).Iter()

	var ids []gocql.UUID
	var id gocql.UUID
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("lecture commandes acheteur: %w", err)
	}

	orders := make([]*models.Order, 0, len(ids))
	for _, id := range ids {
		o, err := r.Get(ctx, id.String())
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (r *OrderRepository) CountByBuyer(ctx context.Context, buyerID string) (int, error) {
	var n int64
	err := r.session.Query(`SELECT COUNT(*) FROM orders_by_buyer WHERE buyer_id = ?`, buyerID).
		WithContext(ctx).Scan(&n)
	return int(n), err
}

func (r *OrderRepository) CountCouponUses(ctx context.Context, buyerID, code string) (int, error) {
	iter := r.session.Query(`SELECT coupon_code FROM orders_by_buyer WHERE buyer_id = ?`, buyerID).
		WithContext(ctx).Iter()

	code = models.NormalizeCouponCode(code)
	n := 0
	var c string
	for iter.Scan(&c) {
		if c == code {
			n++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("lecture historique coupons: %w", err)
	}
	return n, nil
}
