// Package cart gère le panier de l'acheteur, stocké dans Redis sous cart:{user_id}.
package cart

import (
	"context"
	"errors"
	"fmt"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/inventory"
	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Store interface {
	Get(ctx context.Context, userID string) ([]models.CartItem, error)
	Save(ctx context.Context, userID string, items []models.CartItem) error
	Clear(ctx context.Context, userID string) error
}

// Line est une ligne du panier enrichie du produit courant.
type Line struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	ImageURL  string          `json:"image_url,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
	Available bool            `json:"available"`
}

type View struct {
	Items    []Line          `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Count    int             `json:"count"`
}

type Service struct {
	store    Store
	products repository.ProductRepository
	log      *zap.Logger
}

func NewService(store Store, products repository.ProductRepository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, products: products, log: log}
}

// Get retourne le panier au prix courant. Un produit disparu est marqué indisponible.
func (s *Service) Get(ctx context.Context, userID string) (View, error) {
	items, err := s.store.Get(ctx, userID)
	if err != nil {
		return View{}, apperr.Internal(err)
	}

	view := View{Items: []Line{}, Subtotal: decimal.Zero}
	for _, it := range items {
		line := Line{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: decimal.Zero, LineTotal: decimal.Zero}
		p, err := s.products.Get(ctx, it.ProductID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return View{}, apperr.Internal(err)
		default:
			line.Name = p.Name
			line.ImageURL = p.ImageURL
			line.UnitPrice = p.Price
			line.Available = p.IsActive && p.Stock >= it.Quantity
			line.LineTotal = p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
			view.Subtotal = view.Subtotal.Add(line.LineTotal)
		}
		view.Count += it.Quantity
		view.Items = append(view.Items, line)
	}
	view.Subtotal = view.Subtotal.Round(2)
	return view, nil
}

// AddItem ajoute quantity au produit (fusion si déjà présent), après contrôle du stock disponible.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) (View, error) {
	if productID == "" || quantity <= 0 {
		return View{}, apperr.Validation("Produit et quantité positive requis")
	}

	p, err := s.products.Get(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return View{}, apperr.Wrap(apperr.KindNotFound, "Produit introuvable", inventory.ErrProductNotFound)
	}
	if err != nil {
		return View{}, apperr.Internal(err)
	}
	if !p.IsActive {
		return View{}, apperr.Validation(fmt.Sprintf("Produit indisponible: %s", p.Name))
	}

	items, err := s.store.Get(ctx, userID)
	if err != nil {
		return View{}, apperr.Internal(err)
	}

	wanted := quantity
	found := false
	for i := range items {
		if items[i].ProductID == productID {
			items[i].Quantity += quantity
			wanted = items[i].Quantity
			found = true
			break
		}
	}
	if !found {
		items = append(items, models.CartItem{ProductID: productID, Quantity: quantity})
	}

	if p.Stock < wanted {
		return View{}, apperr.Rulef(inventory.ErrInsufficientStock,
			fmt.Sprintf("Stock insuffisant pour %s (disponible: %d, demandé: %d)", p.Name, p.Stock, wanted))
	}

	if err := s.store.Save(ctx, userID, items); err != nil {
		return View{}, apperr.Internal(err)
	}
	s.log.Debug("🛒 Article ajouté au panier", zap.String("user_id", userID), zap.String("product_id", productID), zap.Int("quantity", wanted))
	return s.Get(ctx, userID)
}

func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (View, error) {
	items, err := s.store.Get(ctx, userID)
	if err != nil {
		return View{}, apperr.Internal(err)
	}
	kept := make([]models.CartItem, 0, len(items))
	for _, it := range items {
		if it.ProductID != productID {
			kept = append(kept, it)
		}
	}
	if err := s.store.Save(ctx, userID, kept); err != nil {
		return View{}, apperr.Internal(err)
	}
	return s.Get(ctx, userID)
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.store.Clear(ctx, userID); err != nil {
		return apperr.Internal(err)
	}
	s.log.Debug("🧹 Panier vidé", zap.String("user_id", userID))
	return nil
}
