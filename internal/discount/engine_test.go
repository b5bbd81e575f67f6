package discount

import (
	"context"
	"testing"
	"time"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/repository/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

type fixture struct {
	engine  *Engine
	coupons *memory.CouponRepository
	orders  *memory.OrderRepository
}

func newFixture(t *testing.T, coupons ...models.Coupon) fixture {
	t.Helper()
	f := fixture{coupons: memory.NewCouponRepository(), orders: memory.NewOrderRepository()}
	for i := range coupons {
		require.NoError(t, f.coupons.Create(context.Background(), &coupons[i]))
	}
	f.engine = NewEngine(f.coupons, f.orders, nil, nil)
	f.engine.now = func() time.Time { return fixedNow }
	return f
}

func coupon(code string, typ models.DiscountType, amount string) models.Coupon {
	return models.Coupon{
		Code:      code,
		Type:      typ,
		Amount:    d(amount),
		IsActive:  true,
		StartsAt:  fixedNow.Add(-24 * time.Hour),
		ExpiresAt: fixedNow.Add(24 * time.Hour),
	}
}

func cartOf(total string) Cart {
	return NewCart([]Line{{ProductID: "p-1", CategoryID: "c-1", UnitPrice: d(total), Quantity: 1}})
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name       string
		coupon     models.Coupon
		cart       Cart
		discount   string
		applicable string
	}{
		{
			name:       "percentage without caps",
			coupon:     coupon("WELCOME10", models.DiscountPercentage, "10"),
			cart:       cartOf("200"),
			discount:   "20",
			applicable: "200",
		},
		{
			name: "percentage capped by max discount",
			coupon: func() models.Coupon {
				c := coupon("CAP", models.DiscountPercentage, "10")
				c.MaxDiscount = ptr(d("20"))
				return c
			}(),
			cart:       cartOf("500"),
			discount:   "20",
			applicable: "500",
		},
		{
			name:       "fixed clamped to applicable amount",
			coupon:     coupon("FIX30", models.DiscountFixed, "30"),
			cart:       cartOf("10"),
			discount:   "10",
			applicable: "10",
		},
		{
			name:       "percentage rounded to cents",
			coupon:     coupon("ODD", models.DiscountPercentage, "15"),
			cart:       cartOf("33.33"),
			discount:   "5",
			applicable: "33.33",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discount, applicable := Compute(&tt.coupon, tt.cart)
			assert.Equal(t, d(tt.discount).StringFixed(2), discount.StringFixed(2))
			assert.True(t, applicable.Equal(d(tt.applicable)), applicable.String())
		})
	}
}

func TestApplicableAmountExclusionWins(t *testing.T) {
	c := coupon("SHOES", models.DiscountPercentage, "10")
	c.CategoryIDs = []string{"shoes"}
	c.ExcludedProductIDs = []string{"p-2"}

	cart := NewCart([]Line{
		{ProductID: "p-1", CategoryID: "shoes", UnitPrice: d("50"), Quantity: 2},
		{ProductID: "p-2", CategoryID: "shoes", UnitPrice: d("80"), Quantity: 1},
		{ProductID: "p-3", CategoryID: "hats", UnitPrice: d("30"), Quantity: 1},
	})

	assert.Equal(t, "100", ApplicableAmount(&c, cart).String())

	c.CategoryIDs = nil
	assert.Equal(t, "130", ApplicableAmount(&c, cart).String())
}

func TestValidateWelcome10(t *testing.T) {
	f := newFixture(t, coupon("WELCOME10", models.DiscountPercentage, "10"))

	res, err := f.engine.Validate(context.Background(), "welcome10", cartOf("200"), Customer{ID: "u-1", Role: "user"})
	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", res.Code)
	assert.Equal(t, "20.00", res.Discount.StringFixed(2))
}

func TestValidateRejections(t *testing.T) {
	base := func(mut func(c *models.Coupon)) models.Coupon {
		c := coupon("PROMO", models.DiscountPercentage, "10")
		mut(&c)
		return c
	}

	tests := []struct {
		name     string
		coupon   models.Coupon
		code     string
		cart     Cart
		role     string
		prior    []models.Order
		sentinel error
	}{
		{name: "unknown code", coupon: base(func(*models.Coupon) {}), code: "NOPE", cart: cartOf("100"), sentinel: ErrInvalidOrExpired},
		{name: "inactive", coupon: base(func(c *models.Coupon) { c.IsActive = false }), cart: cartOf("100"), sentinel: ErrInvalidOrExpired},
		{name: "expired", coupon: base(func(c *models.Coupon) { c.ExpiresAt = fixedNow.Add(-time.Minute) }), cart: cartOf("100"), sentinel: ErrInvalidOrExpired},
		{name: "not started", coupon: base(func(c *models.Coupon) { c.StartsAt = fixedNow.Add(time.Hour) }), cart: cartOf("100"), sentinel: ErrInvalidOrExpired},
		{name: "usage limit", coupon: base(func(c *models.Coupon) { c.UsageLimit = 2; c.UsageCount = 2 }), cart: cartOf("100"), sentinel: ErrUsageLimitReached},
		{name: "minimum purchase", coupon: base(func(c *models.Coupon) { c.MinPurchase = d("50") }), cart: cartOf("49.99"), sentinel: ErrMinimumNotMet},
		{name: "new customers only", coupon: base(func(c *models.Coupon) { c.Segment = models.SegmentNew }), cart: cartOf("100"),
			prior: []models.Order{{ID: "o-1", BuyerID: "u-1"}}, sentinel: ErrSegment},
		{name: "existing customers only", coupon: base(func(c *models.Coupon) { c.Segment = models.SegmentExisting }), cart: cartOf("100"), sentinel: ErrSegment},
		{name: "role", coupon: base(func(c *models.Coupon) { c.AllowedRoles = []string{"seller"} }), cart: cartOf("100"), role: "user", sentinel: ErrRole},
		{name: "per user limit", coupon: base(func(c *models.Coupon) { c.PerUserLimit = 1 }), cart: cartOf("100"),
			prior: []models.Order{{ID: "o-1", BuyerID: "u-1", Coupon: &models.AppliedCoupon{Code: "PROMO"}}}, sentinel: ErrPerUserLimit},
		{name: "first failure wins", coupon: base(func(c *models.Coupon) { c.UsageLimit = 1; c.UsageCount = 1; c.MinPurchase = d("500") }),
			cart: cartOf("100"), sentinel: ErrUsageLimitReached},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.coupon)
			for i := range tt.prior {
				require.NoError(t, f.orders.Create(context.Background(), &tt.prior[i]))
			}
			code := tt.code
			if code == "" {
				code = tt.coupon.Code
			}
			role := tt.role
			if role == "" {
				role = "user"
			}

			_, err := f.engine.Validate(context.Background(), code, tt.cart, Customer{ID: "u-1", Role: role})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, apperr.KindBusinessRule, apperr.KindOf(err))
			assert.NotEmpty(t, apperr.PublicMessage(err))
		})
	}
}

func TestMinimumPurchaseMessageNamesAmount(t *testing.T) {
	c := coupon("MIN50", models.DiscountFixed, "5")
	c.MinPurchase = d("50")
	f := newFixture(t, c)

	_, err := f.engine.Validate(context.Background(), "MIN50", cartOf("10"), Customer{ID: "u-1"})
	assert.Equal(t, "Montant minimum d'achat de 50.00 requis", apperr.PublicMessage(err))
}

func TestValidateIsPure(t *testing.T) {
	c := coupon("ONCE", models.DiscountFixed, "5")
	c.UsageLimit = 1
	f := newFixture(t, c)

	for i := 0; i < 3; i++ {
		_, err := f.engine.Validate(context.Background(), "ONCE", cartOf("100"), Customer{ID: "u-1"})
		require.NoError(t, err)
	}
	stored, err := f.coupons.GetByCode(context.Background(), "ONCE")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UsageCount)
}

func TestUsageLimitAllowsExactlyN(t *testing.T) {
	const limit = 3
	c := coupon("LIMITED", models.DiscountFixed, "5")
	c.UsageLimit = limit
	f := newFixture(t, c)
	ctx := context.Background()

	for i := 0; i < limit; i++ {
		_, err := f.engine.Validate(ctx, "LIMITED", cartOf("100"), Customer{ID: "u-1"})
		require.NoError(t, err)
		require.NoError(t, f.engine.Apply(ctx, "LIMITED"))
	}

	_, err := f.engine.Validate(ctx, "LIMITED", cartOf("100"), Customer{ID: "u-1"})
	assert.ErrorIs(t, err, ErrUsageLimitReached)
	assert.ErrorIs(t, f.engine.Apply(ctx, "LIMITED"), ErrUsageLimitReached)

	stored, err := f.coupons.GetByCode(ctx, "LIMITED")
	require.NoError(t, err)
	assert.Equal(t, limit, stored.UsageCount)
}

func TestCreateCoupon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := coupon("summer", models.DiscountPercentage, "15")
	require.NoError(t, f.engine.CreateCoupon(ctx, &c))
	assert.Equal(t, "SUMMER", c.Code)
	assert.Equal(t, models.SegmentNone, c.Segment)

	dup := coupon("Summer", models.DiscountFixed, "5")
	err := f.engine.CreateCoupon(ctx, &dup)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	bad := coupon("BAD", models.DiscountPercentage, "150")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(f.engine.CreateCoupon(ctx, &bad)))

	got, err := f.engine.Get(ctx, "summer")
	require.NoError(t, err)
	assert.Equal(t, "SUMMER", got.Code)
}
