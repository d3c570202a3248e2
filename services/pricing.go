package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "checkout-service/common/errors"
	"checkout-service/models"
	"checkout-service/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// CartLine is one line of the cart as submitted by the client. Prices are
// never taken from the client.
type CartLine struct {
	ProductID uuid.UUID `json:"productId" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1"`
}

type PricedLine struct {
	Product  models.Product
	Quantity int
	Total    decimal.Decimal
}

// PricingResult is the server-computed breakdown of a cart.
type PricingResult struct {
	Lines        []PricedLine
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	ShippingCost decimal.Decimal
	Tax          decimal.Decimal
	Total        decimal.Decimal
	Coupon       *models.Coupon
}

type PricingRules struct {
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	TaxRate               decimal.Decimal
}

// PricingEngine recomputes cart totals from live catalog prices.
type PricingEngine struct {
	products repository.ProductRepository
	coupons  repository.CouponRepository
	rules    PricingRules
	logger   *zap.Logger
	now      func() time.Time
}

func NewPricingEngine(products repository.ProductRepository, coupons repository.CouponRepository, rules PricingRules, logger *zap.Logger) *PricingEngine {
	return &PricingEngine{
		products: products,
		coupons:  coupons,
		rules:    rules,
		logger:   logger,
		now:      time.Now,
	}
}

// Price fetches every product, fails on the first one missing and returns
// subtotal, discount, shipping, tax and total. Tax is charged on the
// subtotal and rounded to cents; free shipping is decided on the subtotal
// before any discount.
func (e *PricingEngine) Price(ctx context.Context, lines []CartLine, couponCode string) (*PricingResult, *apperrors.Error) {
	if len(lines) == 0 {
		return nil, apperrors.Validation("Cart is empty")
	}

	ids := make([]uuid.UUID, 0, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 {
			return nil, apperrors.Validation(fmt.Sprintf("Quantity for product %s must be at least 1", l.ProductID))
		}
		ids = append(ids, l.ProductID)
	}

	products, err := e.products.FindActiveByIDs(ctx, ids)
	if err != nil {
		e.logger.Error("Failed to load products for pricing", zap.Error(err))
		return nil, apperrors.Internal("Failed to price order", err)
	}
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	res := &PricingResult{
		Lines:    make([]PricedLine, 0, len(lines)),
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
	}
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, apperrors.ProductNotFound(l.ProductID.String())
		}
		lineTotal := p.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		res.Lines = append(res.Lines, PricedLine{Product: p, Quantity: l.Quantity, Total: lineTotal})
		res.Subtotal = res.Subtotal.Add(lineTotal)
	}

	if code := strings.TrimSpace(couponCode); code != "" {
		coupon, appErr := e.loadCoupon(ctx, code, res.Subtotal)
		if appErr != nil {
			return nil, appErr
		}
		res.Coupon = coupon
		res.Discount = couponDiscount(coupon, res.Subtotal)
	}

	res.ShippingCost = e.rules.FlatShippingFee
	if res.Subtotal.GreaterThanOrEqual(e.rules.FreeShippingThreshold) {
		res.ShippingCost = decimal.Zero
	}
	res.Tax = res.Subtotal.Mul(e.rules.TaxRate).Round(2)
	res.Total = res.Subtotal.Sub(res.Discount).Add(res.ShippingCost).Add(res.Tax)

	return res, nil
}

func (e *PricingEngine) loadCoupon(ctx context.Context, code string, subtotal decimal.Decimal) (*models.Coupon, *apperrors.Error) {
	coupon, err := e.coupons.FindByCode(ctx, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.Validation("Invalid coupon code")
	}
	if err != nil {
		e.logger.Error("Failed to load coupon", zap.String("code", code), zap.Error(err))
		return nil, apperrors.Internal("Failed to apply coupon", err)
	}

	now := e.now()
	switch {
	case !coupon.IsActive:
		return nil, apperrors.Validation("Coupon is not active")
	case coupon.StartDate != nil && now.Before(*coupon.StartDate):
		return nil, apperrors.Validation("Coupon is not yet valid")
	case coupon.EndDate != nil && now.After(*coupon.EndDate):
		return nil, apperrors.Validation("Coupon has expired")
	case coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit:
		return nil, apperrors.Validation("Coupon usage limit reached")
	case coupon.MinOrderAmount != nil && subtotal.LessThan(*coupon.MinOrderAmount):
		return nil, apperrors.Validation(fmt.Sprintf("Minimum order amount of R%s required", coupon.MinOrderAmount.StringFixed(2)))
	}
	return coupon, nil
}

func couponDiscount(c *models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch c.DiscountType {
	case models.DiscountTypePercentage:
		discount = subtotal.Mul(c.DiscountValue).Div(hundred).Round(2)
		if c.MaxDiscount != nil && discount.GreaterThan(*c.MaxDiscount) {
			discount = *c.MaxDiscount
		}
	case models.DiscountTypeFixedAmount:
		discount = c.DiscountValue
	default:
		return decimal.Zero
	}

	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}
