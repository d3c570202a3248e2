package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const DefaultShippingCountry = "South Africa"

// Order is the aggregate root of a checkout. Monetary fields are computed
// server side at creation and only change through explicit transitions.
type Order struct {
	ID               uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderNumber      string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"orderNumber"`
	UserID           *string         `gorm:"type:varchar(64);index" json:"userId,omitempty"`
	CustomerEmail    string          `gorm:"type:varchar(255);not null" json:"customerEmail"`
	Status           OrderStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentStatus    PaymentStatus   `gorm:"type:varchar(20);not null" json:"paymentStatus"`
	PaymentMethod    string          `gorm:"type:varchar(32)" json:"paymentMethod,omitempty"`
	PaymentReference *string         `gorm:"type:varchar(128);index" json:"paymentReference,omitempty"`
	CouponCode       *string         `gorm:"type:varchar(64)" json:"couponCode,omitempty"`
	Subtotal         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	Discount         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"discount"`
	ShippingCost     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"shippingCost"`
	Tax              decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"tax"`
	Total            decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
	RefundAmount     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"refundAmount"`

	Address

	CustomerNotes string `gorm:"type:text" json:"customerNotes,omitempty"`
	AdminNotes    string `gorm:"type:text" json:"adminNotes,omitempty"`

	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	PaidAt      *time.Time     `json:"paidAt,omitempty"`
	ShippedAt   *time.Time     `json:"shippedAt,omitempty"`
	DeliveredAt *time.Time     `json:"deliveredAt,omitempty"`
	CancelledAt *time.Time     `json:"cancelledAt,omitempty"`
	RefundedAt  *time.Time     `json:"refundedAt,omitempty"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Items         []OrderItem          `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	StatusHistory []OrderStatusHistory `gorm:"foreignKey:OrderID" json:"statusHistory,omitempty"`
}

// Address holds the shipping and optional billing columns of an order.
type Address struct {
	ShippingFirstName  string  `gorm:"type:varchar(100)" json:"shippingFirstName"`
	ShippingLastName   string  `gorm:"type:varchar(100)" json:"shippingLastName"`
	ShippingPhone      string  `gorm:"type:varchar(32)" json:"shippingPhone"`
	ShippingAddress1   string  `gorm:"type:varchar(255)" json:"shippingAddress1"`
	ShippingAddress2   *string `gorm:"type:varchar(255)" json:"shippingAddress2,omitempty"`
	ShippingCity       string  `gorm:"type:varchar(100)" json:"shippingCity"`
	ShippingProvince   string  `gorm:"type:varchar(100)" json:"shippingProvince"`
	ShippingPostalCode string  `gorm:"type:varchar(16)" json:"shippingPostalCode"`
	ShippingCountry    string  `gorm:"type:varchar(64)" json:"shippingCountry"`

	BillingFirstName  *string `gorm:"type:varchar(100)" json:"billingFirstName,omitempty"`
	BillingLastName   *string `gorm:"type:varchar(100)" json:"billingLastName,omitempty"`
	BillingPhone      *string `gorm:"type:varchar(32)" json:"billingPhone,omitempty"`
	BillingAddress1   *string `gorm:"type:varchar(255)" json:"billingAddress1,omitempty"`
	BillingAddress2   *string `gorm:"type:varchar(255)" json:"billingAddress2,omitempty"`
	BillingCity       *string `gorm:"type:varchar(100)" json:"billingCity,omitempty"`
	BillingProvince   *string `gorm:"type:varchar(100)" json:"billingProvince,omitempty"`
	BillingPostalCode *string `gorm:"type:varchar(16)" json:"billingPostalCode,omitempty"`
	BillingCountry    *string `gorm:"type:varchar(64)" json:"billingCountry,omitempty"`
}

// CustomerName is the display name used for gateway customer objects.
func (o *Order) CustomerName() string {
	switch {
	case o.ShippingFirstName != "" && o.ShippingLastName != "":
		return o.ShippingFirstName + " " + o.ShippingLastName
	case o.ShippingFirstName != "":
		return o.ShippingFirstName
	default:
		return o.ShippingLastName
	}
}

// OwnedBy reports whether userID placed the order.
func (o *Order) OwnedBy(userID string) bool {
	return o.UserID != nil && userID != "" && *o.UserID == userID
}

// TotalsBalance checks total == subtotal - discount + shipping + tax.
func (o *Order) TotalsBalance() bool {
	return o.Subtotal.Sub(o.Discount).Add(o.ShippingCost).Add(o.Tax).Equal(o.Total)
}

// OrderItem is a line of an order with product data captured at purchase time.
type OrderItem struct {
	ID           uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"orderId"`
	ProductID    uuid.UUID       `gorm:"type:uuid;not null" json:"productId"`
	ProductName  string          `gorm:"type:varchar(255);not null" json:"productName"`
	ProductSKU   string          `gorm:"column:product_sku;type:varchar(64)" json:"productSku"`
	ProductImage *string         `gorm:"type:text" json:"productImage,omitempty"`
	Quantity     int             `gorm:"not null" json:"quantity"`
	Price        decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Total        decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"createdAt"`
}

// OrderStatusHistory is an append-only audit entry.
type OrderStatusHistory struct {
	ID        uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID   uuid.UUID   `gorm:"type:uuid;not null;index" json:"orderId"`
	Status    OrderStatus `gorm:"type:varchar(20);not null" json:"status"`
	Comment   string      `gorm:"type:text" json:"comment,omitempty"`
	CreatedAt time.Time   `gorm:"autoCreateTime" json:"createdAt"`
}
