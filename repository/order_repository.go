package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkout-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrCouponUnavailable is returned by Create when the coupon was exhausted or
// deactivated between pricing and commit.
var ErrCouponUnavailable = errors.New("coupon no longer available")

// MissingProductError is returned by Create when a product disappeared or was
// deactivated between pricing and commit.
type MissingProductError struct {
	ProductID uuid.UUID
}

func (e *MissingProductError) Error() string {
	return fmt.Sprintf("product %s vanished before commit", e.ProductID)
}

// Mutation describes the writes produced by a locked update: the order columns
// to persist and an optional history entry to append.
type Mutation struct {
	Columns []string
	History *models.OrderStatusHistory
}

// MutateFunc inspects the locked order and changes it in place. Returning a
// nil Mutation commits nothing.
type MutateFunc func(order *models.Order) (*Mutation, error)

type ListFilter struct {
	UserID *string
	Status models.OrderStatus
	Page   int
	Limit  int
}

// OrderRepository defines the interface for order data access
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order, couponCode string) error
	OrderNumberExists(ctx context.Context, orderNumber string) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	List(ctx context.Context, filter ListFilter) ([]models.Order, int64, error)
	UpdateByID(ctx context.Context, id uuid.UUID, fn MutateFunc) (*models.Order, error)
	UpdateByOrderNumber(ctx context.Context, orderNumber string, fn MutateFunc) (*models.Order, error)
}

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

// Create persists the order, its items and its history in one transaction.
// Inside the same transaction it re-checks that every product is still active
// and consumes one use of the coupon, so a failure of either rolls back all
// writes.
func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order, couponCode string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureProductsActive(tx, order.Items); err != nil {
			return err
		}

		if couponCode != "" {
			res := tx.Model(&models.Coupon{}).
				Where("UPPER(code) = ? AND is_active = ? AND (usage_limit = 0 OR usage_count < usage_limit)",
					strings.ToUpper(couponCode), true).
				UpdateColumn("usage_count", gorm.Expr("usage_count + 1"))
			if res.Error != nil {
				return fmt.Errorf("consume coupon: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrCouponUnavailable
			}
		}

		items := order.Items
		history := order.StatusHistory

		if err := tx.Omit(clause.Associations).Create(order).Error; err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i := range items {
			items[i].OrderID = order.ID
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return fmt.Errorf("insert order items: %w", err)
			}
		}

		for i := range history {
			history[i].OrderID = order.ID
		}
		if len(history) > 0 {
			if err := tx.Create(&history).Error; err != nil {
				return fmt.Errorf("insert order history: %w", err)
			}
		}

		order.Items = items
		order.StatusHistory = history
		return nil
	})
}

func ensureProductsActive(tx *gorm.DB, items []models.OrderItem) error {
	ids := make([]uuid.UUID, 0, len(items))
	seen := make(map[uuid.UUID]bool, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var found []uuid.UUID
	if err := tx.Model(&models.Product{}).
		Where("id IN ? AND is_active = ?", ids, true).
		Pluck("id", &found).Error; err != nil {
		return fmt.Errorf("recheck products: %w", err)
	}

	present := make(map[uuid.UUID]bool, len(found))
	for _, id := range found {
		present[id] = true
	}
	for _, id := range ids {
		if !present[id] {
			return &MissingProductError{ProductID: id}
		}
	}
	return nil
}

func (r *GormOrderRepository) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Unscoped().
		Where("order_number = ?", orderNumber).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *GormOrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return r.findOne(ctx, "order_number = ?", orderNumber)
}

func (r *GormOrderRepository) findOne(ctx context.Context, where string, arg any) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where(where, arg).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// List retrieves orders newest first with pagination
func (r *GormOrderRepository) List(ctx context.Context, filter ListFilter) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.Limit
	if err := query.
		Preload("Items").
		Offset(offset).
		Limit(filter.Limit).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *GormOrderRepository) UpdateByID(ctx context.Context, id uuid.UUID, fn MutateFunc) (*models.Order, error) {
	return r.updateLocked(ctx, "id = ?", id, fn)
}

func (r *GormOrderRepository) UpdateByOrderNumber(ctx context.Context, orderNumber string, fn MutateFunc) (*models.Order, error) {
	return r.updateLocked(ctx, "order_number = ?", orderNumber, fn)
}

// updateLocked reads the order with SELECT ... FOR UPDATE, lets fn decide
// against that state, and writes the result before the lock is released.
func (r *GormOrderRepository) updateLocked(ctx context.Context, where string, arg any, fn MutateFunc) (*models.Order, error) {
	var result *models.Order

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(where, arg).
			First(&order).Error; err != nil {
			return err
		}

		m, err := fn(&order)
		if err != nil {
			return err
		}
		result = &order
		if m == nil {
			return nil
		}

		if len(m.Columns) > 0 {
			cols := append(append([]string{}, m.Columns...), "updated_at")
			if err := tx.Model(&order).Select(cols).Updates(&order).Error; err != nil {
				return fmt.Errorf("update order: %w", err)
			}
		}

		if m.History != nil {
			m.History.OrderID = order.ID
			if err := tx.Create(m.History).Error; err != nil {
				return fmt.Errorf("insert order history: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
