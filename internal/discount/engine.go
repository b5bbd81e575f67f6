// Package discount valide et chiffre un coupon contre un panier.
package discount

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"marketplace_back_end/internal/apperr"
	"marketplace_back_end/internal/metrics"
	"marketplace_back_end/internal/models"
	"marketplace_back_end/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Motifs de refus, dans l'ordre où ils sont évalués.
var (
	ErrInvalidOrExpired  = errors.New("Code coupon invalide ou expiré")
	ErrUsageLimitReached = errors.New("Ce coupon a atteint sa limite d'utilisation")
	ErrMinimumNotMet     = errors.New("Montant minimum d'achat non atteint")
	ErrSegment           = errors.New("Ce coupon n'est pas valable pour ce type de client")
	ErrRole              = errors.New("Ce coupon n'est pas valable pour votre type de compte")
	ErrPerUserLimit      = errors.New("Vous avez déjà utilisé ce coupon le nombre maximum de fois")
)

var hundred = decimal.NewFromInt(100)

// Line est une ligne de panier déjà chiffrée.
type Line struct {
	ProductID  string
	CategoryID string
	UnitPrice  decimal.Decimal
	Quantity   int
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Cart struct {
	Lines []Line
	Total decimal.Decimal
}

// NewCart calcule le total à partir des lignes.
func NewCart(lines []Line) Cart {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return Cart{Lines: lines, Total: total}
}

type Customer struct {
	ID   string
	Role string
}

type Engine struct {
	coupons repository.CouponRepository
	history repository.OrderHistory
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewEngine(coupons repository.CouponRepository, history repository.OrderHistory, m *metrics.Metrics, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		coupons: coupons,
		history: history,
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Validate est sans effet de bord : il peut servir d'aperçu autant de fois que voulu.
// La première règle en échec l'emporte.
func (e *Engine) Validate(ctx context.Context, code string, cart Cart, customer Customer) (models.CouponValidation, error) {
	code = models.NormalizeCouponCode(code)
	if code == "" {
		return models.CouponValidation{}, apperr.Validation("Code coupon requis")
	}

	c, err := e.coupons.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return e.reject("invalid", ErrInvalidOrExpired, "")
	}
	if err != nil {
		return models.CouponValidation{}, fmt.Errorf("lecture coupon %s: %w", code, err)
	}

	now := e.now()
	if !c.IsActive || (!c.StartsAt.IsZero() && now.Before(c.StartsAt)) || (!c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)) {
		return e.reject("invalid", ErrInvalidOrExpired, "")
	}

	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return e.reject("usage_limit", ErrUsageLimitReached, "")
	}

	if cart.Total.LessThan(c.MinPurchase) {
		return e.reject("minimum", ErrMinimumNotMet,
			fmt.Sprintf("Montant minimum d'achat de %s requis", c.MinPurchase.StringFixed(2)))
	}

	if c.Segment == models.SegmentNew || c.Segment == models.SegmentExisting {
		prior, err := e.history.CountByBuyer(ctx, customer.ID)
		if err != nil {
			return models.CouponValidation{}, fmt.Errorf("historique commandes: %w", err)
		}
		if (c.Segment == models.SegmentNew && prior > 0) || (c.Segment == models.SegmentExisting && prior == 0) {
			return e.reject("segment", ErrSegment, "")
		}
	}

	if len(c.AllowedRoles) > 0 && !slices.Contains(c.AllowedRoles, customer.Role) {
		return e.reject("role", ErrRole, "")
	}

	if c.PerUserLimit > 0 {
		used, err := e.history.CountCouponUses(ctx, customer.ID, code)
		if err != nil {
			return models.CouponValidation{}, fmt.Errorf("historique coupon: %w", err)
		}
		if used >= c.PerUserLimit {
			return e.reject("per_user_limit", ErrPerUserLimit, "")
		}
	}

	discount, applicable := Compute(c, cart)
	return models.CouponValidation{
		Code:             c.Code,
		Type:             c.Type,
		Amount:           c.Amount,
		Discount:         discount,
		ApplicableAmount: applicable,
	}, nil
}

func (e *Engine) reject(reason string, sentinel error, msg string) (models.CouponValidation, error) {
	e.metrics.CouponRejected(reason)
	if msg == "" {
		return models.CouponValidation{}, apperr.Rule(sentinel)
	}
	return models.CouponValidation{}, apperr.Rulef(sentinel, msg)
}

// Compute retourne la remise et le montant sur lequel elle porte.
// La remise est plafonnée à MaxDiscount puis au montant applicable, arrondie au centime.
func Compute(c *models.Coupon, cart Cart) (discount, applicable decimal.Decimal) {
	applicable = ApplicableAmount(c, cart)

	switch c.Type {
	case models.DiscountPercentage:
		discount = applicable.Mul(c.Amount).Div(hundred)
	case models.DiscountFixed:
		discount = c.Amount
	default:
		discount = decimal.Zero
	}

	if c.MaxDiscount != nil && discount.GreaterThan(*c.MaxDiscount) {
		discount = *c.MaxDiscount
	}
	if discount.GreaterThan(applicable) {
		discount = applicable
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return discount.Round(2), applicable
}

// ApplicableAmount : les exclusions passent avant toute liste d'autorisation.
// Sans liste d'autorisation, tout le panier (hors exclusions) compte.
func ApplicableAmount(c *models.Coupon, cart Cart) decimal.Decimal {
	if len(c.ProductIDs) == 0 && len(c.CategoryIDs) == 0 && len(c.ExcludedProductIDs) == 0 {
		return cart.Total
	}

	sum := decimal.Zero
	for _, l := range cart.Lines {
		if slices.Contains(c.ExcludedProductIDs, l.ProductID) {
			continue
		}
		if len(c.ProductIDs) > 0 || len(c.CategoryIDs) > 0 {
			if !slices.Contains(c.ProductIDs, l.ProductID) && !slices.Contains(c.CategoryIDs, l.CategoryID) {
				continue
			}
		}
		sum = sum.Add(l.Total())
	}
	return sum
}

const maxApplyAttempts = 8

// Apply consomme une utilisation du coupon. Appelé uniquement quand une commande est engagée.
// L'incrément est un CAS qui refuse de dépasser la limite, même sous concurrence.
func (e *Engine) Apply(ctx context.Context, code string) error {
	code = models.NormalizeCouponCode(code)
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		c, err := e.coupons.GetByCode(ctx, code)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Rule(ErrInvalidOrExpired)
		}
		if err != nil {
			return fmt.Errorf("lecture coupon %s: %w", code, err)
		}
		if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
			e.metrics.CouponRejected("usage_limit")
			return apperr.Rule(ErrUsageLimitReached)
		}

		ok, err := e.coupons.CompareAndSetUsage(ctx, code, c.UsageCount, c.UsageCount+1)
		if err != nil {
			return err
		}
		if ok {
			e.log.Info("🎟️ Coupon consommé", zap.String("code", code), zap.Int("usage_count", c.UsageCount+1))
			return nil
		}
	}
	return apperr.Conflict("Coupon trop sollicité, réessayez")
}

// Get sert l'administration des coupons.
func (e *Engine) Get(ctx context.Context, code string) (*models.Coupon, error) {
	c, err := e.coupons.GetByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("Coupon introuvable")
	}
	return c, err
}

// CreateCoupon valide puis enregistre un coupon (code normalisé en majuscules).
func (e *Engine) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	c.Code = models.NormalizeCouponCode(c.Code)
	if c.Code == "" {
		return apperr.Validation("Code coupon requis")
	}
	switch c.Type {
	case models.DiscountPercentage:
		if c.Amount.LessThanOrEqual(decimal.Zero) || c.Amount.GreaterThan(hundred) {
			return apperr.Validation("Pourcentage doit être entre 1 et 100")
		}
	case models.DiscountFixed:
		if c.Amount.LessThanOrEqual(decimal.Zero) {
			return apperr.Validation("Montant fixe doit être positif")
		}
	default:
		return apperr.Validation("Type de coupon invalide")
	}
	if c.UsageLimit < 0 || c.PerUserLimit < 0 {
		return apperr.Validation("Les limites d'utilisation ne peuvent pas être négatives")
	}
	if c.MaxDiscount != nil && c.MaxDiscount.IsNegative() {
		return apperr.Validation("Remise maximale invalide")
	}
	switch c.Segment {
	case "":
		c.Segment = models.SegmentNone
	case models.SegmentNone, models.SegmentNew, models.SegmentExisting:
	default:
		return apperr.Validation("Segment client invalide")
	}
	if !c.ExpiresAt.IsZero() && !c.StartsAt.IsZero() && c.ExpiresAt.Before(c.StartsAt) {
		return apperr.Validation("La date d'expiration précède la date de début")
	}

	c.UsageCount = 0
	if c.CreatedAt.IsZero() {
		c.CreatedAt = e.now()
	}

	if err := e.coupons.Create(ctx, c); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return apperr.Conflict("Ce code coupon existe déjà")
		}
		return err
	}
	e.log.Info("✅ Coupon créé", zap.String("code", c.Code), zap.String("type", string(c.Type)))
	return nil
}
