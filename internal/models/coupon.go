package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type CustomerSegment string

const (
	SegmentNone     CustomerSegment = "none"
	SegmentNew      CustomerSegment = "new"
	SegmentExisting CustomerSegment = "existing"
)

type Coupon struct {
	Code               string           `json:"code"`
	Type               DiscountType     `json:"type"`
	Amount             decimal.Decimal  `json:"amount"`
	MinPurchase        decimal.Decimal  `json:"min_purchase"`
	MaxDiscount        *decimal.Decimal `json:"max_discount,omitempty"`
	UsageLimit         int              `json:"usage_limit"`    // 0 = illimité
	PerUserLimit       int              `json:"per_user_limit"` // 0 = illimité
	UsageCount         int              `json:"usage_count"`
	ProductIDs         []string         `json:"product_ids,omitempty"`
	CategoryIDs        []string         `json:"category_ids,omitempty"`
	ExcludedProductIDs []string         `json:"excluded_product_ids,omitempty"`
	AllowedRoles       []string         `json:"allowed_roles,omitempty"`
	Segment            CustomerSegment  `json:"segment"`
	StartsAt           time.Time        `json:"starts_at"`
	ExpiresAt          time.Time        `json:"expires_at"`
	IsActive           bool             `json:"is_active"`
	CreatedBy          string           `json:"created_by"`
	CreatedAt          time.Time        `json:"created_at"`
}

// NormalizeCouponCode : les codes sont uniques sans tenir compte de la casse.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type CouponValidation struct {
	Code             string          `json:"code"`
	Type             DiscountType    `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	Discount         decimal.Decimal `json:"discount"`
	ApplicableAmount decimal.Decimal `json:"applicable_amount"`
}

// Snapshot fige le résultat dans la commande.
func (v CouponValidation) Snapshot() *AppliedCoupon {
	return &AppliedCoupon{Code: v.Code, Type: v.Type, Amount: v.Amount, Discount: v.Discount}
}
