package order

import (
	"fmt"
	"strings"
	"time"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ShippingStandard = "standard"
	ShippingExpress  = "express"
	ShippingNextDay  = "next_day"
)

// Pricing calcule taxe et frais de port.
type Pricing struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
}

func shippingRates() []models.ShippingOption {
	return []models.ShippingOption{
		{
			ID:            ShippingStandard,
			Name:          "Livraison Standard",
			Description:   "Livraison en 5-7 jours ouvrés",
			Price:         decimal.RequireFromString("5.99"),
			EstimatedDays: 7,
		},
		{
			ID:            ShippingExpress,
			Name:          "Livraison Express",
			Description:   "Livraison en 2-3 jours ouvrés",
			Price:         decimal.RequireFromString("12.99"),
			EstimatedDays: 3,
		},
		{
			ID:            ShippingNextDay,
			Name:          "Livraison 24h",
			Description:   "Livraison le lendemain avant 18h",
			Price:         decimal.RequireFromString("19.99"),
			EstimatedDays: 1,
		},
	}
}

// ShippingOptions : la livraison standard devient gratuite à partir du seuil.
func (p Pricing) ShippingOptions(cartTotal decimal.Decimal) models.ShippingCalculation {
	options := shippingRates()
	isFree := !p.FreeShippingThreshold.IsZero() && cartTotal.GreaterThanOrEqual(p.FreeShippingThreshold)
	if isFree {
		options[0].Price = decimal.Zero
		options[0].Name = "Livraison Standard Gratuite"
	}
	return models.ShippingCalculation{
		Options:       options,
		FreeThreshold: p.FreeShippingThreshold,
		CartTotal:     cartTotal,
		IsFree:        isFree,
	}
}

// ShippingCost retourne le prix de la méthode choisie (standard par défaut).
func (p Pricing) ShippingCost(method string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if method == "" {
		method = ShippingStandard
	}
	for _, opt := range p.ShippingOptions(subtotal).Options {
		if opt.ID == method {
			return opt.Price, nil
		}
	}
	return decimal.Zero, apperr.Validation(fmt.Sprintf("Méthode de livraison inconnue: %s", method))
}

// Tax s'applique sur le sous-total après remise.
func (p Pricing) Tax(subtotal, discount decimal.Decimal) decimal.Decimal {
	base := subtotal.Sub(discount)
	if base.IsNegative() {
		return decimal.Zero
	}
	return base.Mul(p.TaxRate).Round(2)
}

// NewOrderNumber : ORD-<yyyymmddHHMMSS>-<8 hex majuscules>, attribué une seule fois.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "ORD-" + now.UTC().Format("20060102150405") + "-" + suffix
}
