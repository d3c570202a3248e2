package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the catalog row this service reads prices from. It is owned by
// the catalog and never written here.
type Product struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SKU           string          `gorm:"column:sku" json:"sku"`
	Name          string          `json:"name"`
	Slug          string          `json:"slug"`
	Price         decimal.Decimal `gorm:"type:numeric(12,2)" json:"price"`
	StockQuantity int             `json:"stockQuantity"`
	ImageURL      *string         `json:"imageUrl,omitempty"`
	IsActive      bool            `json:"isActive"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
