package order

import (
	"context"

	"github.com/go-faster/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ksred/booking-api/internal/apperr"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// DB exposes the handle so collaborators can open transactions that span
// several packages.
func (d *Database) DB() *gorm.DB {
	return d.db
}

func (d *Database) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return d.db.WithContext(ctx)
}

func (d *Database) CreateOrder(ctx context.Context, tx *gorm.DB, o *Order) error {
	return d.conn(ctx, tx).Create(o).Error
}

// GetOrder returns apperr NOT_FOUND when the order does not exist.
func (d *Database) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	if err := d.db.WithContext(ctx).Where("order_id = ?", orderID).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Order", orderID)
		}
		return nil, errors.Wrap(err, "get order")
	}
	return &o, nil
}

// LockOrder loads the order with SELECT ... FOR UPDATE inside tx.
func (d *Database) LockOrder(ctx context.Context, tx *gorm.DB, orderID string) (*Order, error) {
	var o Order
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Order", orderID)
		}
		return nil, errors.Wrap(err, "lock order")
	}
	return &o, nil
}

// FindByIdempotencyKey returns nil, nil when no order carries the key.
func (d *Database) FindByIdempotencyKey(ctx context.Context, tx *gorm.DB, customerID, key string) (*Order, error) {
	var o Order
	err := d.conn(ctx, tx).
		Where("customer_id = ? AND idempotency_key = ?", customerID, key).
		First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find order by idempotency key")
	}
	return &o, nil
}

func (d *Database) UpdateOrder(ctx context.Context, tx *gorm.DB, o *Order) error {
	return d.conn(ctx, tx).Save(o).Error
}

func (d *Database) ListByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	var orders []Order
	if err := d.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, errors.Wrap(err, "list customer orders")
	}
	return orders, nil
}

// ListByProvider filters by status when one is given.
func (d *Database) ListByProvider(ctx context.Context, providerID string, status *Status) ([]Order, error) {
	q := d.db.WithContext(ctx).Where("provider_id = ?", providerID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var orders []Order
	if err := q.Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, errors.Wrap(err, "list provider orders")
	}
	return orders, nil
}
