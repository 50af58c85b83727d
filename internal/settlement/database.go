package settlement

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"gorm.io/gorm"

	"github.com/ksred/booking-api/internal/apperr"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return d.db.WithContext(ctx)
}

func (d *Database) CreateSettlement(ctx context.Context, tx *gorm.DB, s *Settlement) error {
	return d.conn(ctx, tx).Create(s).Error
}

func (d *Database) GetSettlement(ctx context.Context, settlementID string) (*Settlement, error) {
	var s Settlement
	if err := d.db.WithContext(ctx).Where("settlement_id = ?", settlementID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Settlement", settlementID)
		}
		return nil, errors.Wrap(err, "get settlement")
	}
	return &s, nil
}

// FindByOrderID returns nil, nil when the order has no settlement.
func (d *Database) FindByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*Settlement, error) {
	var s Settlement
	if err := d.conn(ctx, tx).Where("order_id = ?", orderID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get settlement by order")
	}
	return &s, nil
}

func (d *Database) GetPendingSettlements(ctx context.Context) ([]Settlement, error) {
	var settlements []Settlement
	if err := d.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("id ASC").
		Find(&settlements).Error; err != nil {
		return nil, errors.Wrap(err, "list pending settlements")
	}
	return settlements, nil
}

func (d *Database) GetProviderSettlements(ctx context.Context, providerID string) ([]Settlement, error) {
	var settlements []Settlement
	if err := d.db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		Order("created_at DESC").
		Find(&settlements).Error; err != nil {
		return nil, errors.Wrap(err, "list provider settlements")
	}
	return settlements, nil
}

func (d *Database) GetAllSettlements(ctx context.Context) ([]Settlement, error) {
	var settlements []Settlement
	if err := d.db.WithContext(ctx).Order("created_at DESC").Find(&settlements).Error; err != nil {
		return nil, errors.Wrap(err, "list settlements")
	}
	return settlements, nil
}

// UpdateSettlementStatus moves a settlement from one status to another and
// fails when the row was not in the expected status.
func (d *Database) UpdateSettlementStatus(ctx context.Context, tx *gorm.DB, settlementID string, from Status, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	result := d.conn(ctx, tx).Model(&Settlement{}).
		Where("settlement_id = ? AND status = ?", settlementID, from).
		Updates(fields)
	if result.Error != nil {
		return errors.Wrap(result.Error, "update settlement status")
	}
	if result.RowsAffected == 0 {
		return apperr.InvalidTransition("settlement " + settlementID + " is no longer " + string(from))
	}
	return nil
}

func (d *Database) CreateBatch(ctx context.Context, b *Batch) error {
	return d.db.WithContext(ctx).Create(b).Error
}

// FindBatch returns nil, nil when the batch does not exist.
func (d *Database) FindBatch(ctx context.Context, batchID string) (*Batch, error) {
	var b Batch
	if err := d.db.WithContext(ctx).Where("batch_id = ?", batchID).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get settlement batch")
	}
	return &b, nil
}

func (d *Database) UpdateBatch(ctx context.Context, b *Batch) error {
	return d.db.WithContext(ctx).Save(b).Error
}

func (d *Database) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	var batches []Batch
	q := d.db.WithContext(ctx).Order("batch_id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&batches).Error; err != nil {
		return nil, errors.Wrap(err, "list settlement batches")
	}
	return batches, nil
}
