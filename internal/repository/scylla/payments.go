package scylla

import (
	"context"
	"fmt"
	"time"

	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/money"
	"marketplace_back_end/internal/repository"

	"github.com/gocql/gocql"
)

type PaymentRepository struct {
	session *gocql.Session
}

func NewPaymentRepository(session *gocql.Session) *PaymentRepository {
	return &PaymentRepository{session: session}
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	pid, err := parseUUID(p.ID)
	if err != nil {
		return err
	}
	oid, err := parseUUID(p.OrderID)
	if err != nil {
		return err
	}
	applied, err := r.session.Query(`
		INSERT INTO payments (gateway, gateway_payment_id, payment_id, order_id, gateway_order_id, signature,
			amount_cents, currency, status, raw, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		p.Gateway, p.GatewayPaymentID, pid, oid, p.GatewayOrderID, p.Signature,
		money.ToMinor(p.Amount), p.Currency, string(p.Status), p.Raw, p.CreatedAt, p.UpdatedAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("insertion paiement: %w", err)
	}
	if !applied {
		return repository.ErrAlreadyExists
	}
	return nil
}

func (r *PaymentRepository) GetByGatewayPaymentID(ctx context.Context, gateway, gatewayPaymentID string) (*models.Payment, error) {
	p := models.Payment{Gateway: gateway, GatewayPaymentID: gatewayPaymentID}
	var pid, oid gocql.UUID
	var cents int64
	var status string
	err := r.session.Query(`
		SELECT payment_id, order_id, gateway_order_id, signature, amount_cents, currency, status, raw, created_at, updated_at
		FROM payments WHERE gateway = ? AND gateway_payment_id = ?`, gateway, gatewayPaymentID).
		WithContext(ctx).
		Scan(&pid, &oid, &p.GatewayOrderID, &p.Signature, &cents, &p.Currency, &status, &p.Raw, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	p.ID, p.OrderID = pid.String(), oid.String()
	p.Amount = money.FromMinor(cents)
	p.Status = models.PaymentStatus(status)
	return &p, nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, gateway, gatewayPaymentID string, status models.PaymentStatus) error {
	applied, err := r.session.Query(`
		UPDATE payments SET status = ?, updated_at = ? WHERE gateway = ? AND gateway_payment_id = ? IF EXISTS`,
		string(status), time.Now().UTC(), gateway, gatewayPaymentID,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("mise à jour paiement: %w", err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}
