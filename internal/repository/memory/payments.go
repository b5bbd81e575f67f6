package memory

import (
	"context"
	"sync"
	"time"

	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/repository"
)

type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]models.Payment
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{payments: make(map[string]models.Payment)}
}

func (r *PaymentRepository) Create(_ context.Context, p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := p.Gateway + "|" + p.GatewayPaymentID
	if _, ok := r.payments[key]; ok {
		return repository.ErrAlreadyExists
	}
	r.payments[key] = *p
	return nil
}

func (r *PaymentRepository) GetByGatewayPaymentID(_ context.Context, gateway, id string) (*models.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[gateway+"|"+id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *PaymentRepository) UpdateStatus(_ context.Context, gateway, id string, status models.PaymentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := gateway + "|" + id
	p, ok := r.payments[key]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	r.payments[key] = p
	return nil
}
