package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType is how a coupon's value is applied.
type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "PERCENTAGE"
	DiscountTypeFixedAmount DiscountType = "FIXED_AMOUNT"
)

// Coupon is a discount code redeemable at checkout.
type Coupon struct {
	ID             uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code           string           `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	Description    string           `gorm:"type:text" json:"description,omitempty"`
	DiscountType   DiscountType     `gorm:"type:varchar(20);not null" json:"discountType"`
	DiscountValue  decimal.Decimal  `gorm:"type:numeric(12,2);not null" json:"discountValue"`
	MinOrderAmount *decimal.Decimal `gorm:"type:numeric(12,2)" json:"minOrderAmount,omitempty"`
	MaxDiscount    *decimal.Decimal `gorm:"type:numeric(12,2)" json:"maxDiscount,omitempty"`
	UsageLimit     int              `gorm:"not null;default:0" json:"usageLimit"` // 0 = unlimited
	UsageCount     int              `gorm:"not null;default:0" json:"usageCount"`
	StartDate      *time.Time       `json:"startDate,omitempty"`
	EndDate        *time.Time       `json:"endDate,omitempty"`
	IsActive       bool             `gorm:"not null;default:true" json:"isActive"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updatedAt"`
}
