package settlement

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// MaxFailureReasonLength bounds stored payout failure reasons.
const MaxFailureReasonLength = 500

type Settlement struct {
	gorm.Model     `json:"-"`
	SettlementID   string          `gorm:"uniqueIndex;size:64;not null" json:"settlement_id"`
	OrderID        string          `gorm:"uniqueIndex;size:64;not null" json:"order_id"`
	ProviderID     string          `gorm:"size:64;not null;index" json:"provider_id"`
	TotalPrice     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_price"`
	PlatformFee    decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"platform_fee"`
	ProviderPayout decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"provider_payout"`
	Status         Status          `gorm:"size:20;not null;index" json:"status"`
	BatchID        string          `gorm:"size:32;index" json:"batch_id,omitempty"`
	PayoutRef      string          `gorm:"size:64" json:"payout_ref,omitempty"`
	SettledAt      time.Time       `json:"settled_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	FailureReason  string          `gorm:"size:500" json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Batch struct {
	gorm.Model   `json:"-"`
	BatchID      string          `gorm:"uniqueIndex;size:32;not null" json:"batch_id"`
	Status       Status          `gorm:"size:20;not null" json:"status"`
	TotalCount   int             `json:"total_count"`
	SuccessCount int             `json:"success_count"`
	FailedCount  int             `json:"failed_count"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (Batch) TableName() string {
	return "settlement_batches"
}

// BatchSummary is the outcome of one ProcessBatch call.
type BatchSummary struct {
	BatchID      string          `json:"batch_id"`
	Status       Status          `json:"status"`
	TotalCount   int             `json:"total_count"`
	SuccessCount int             `json:"success_count"`
	FailedCount  int             `json:"failed_count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	// Existing is set when the batch for the day had already been created.
	Existing bool `json:"existing"`
}

func summaryOf(b *Batch, existing bool) *BatchSummary {
	return &BatchSummary{
		BatchID:      b.BatchID,
		Status:       b.Status,
		TotalCount:   b.TotalCount,
		SuccessCount: b.SuccessCount,
		FailedCount:  b.FailedCount,
		TotalAmount:  b.TotalAmount,
		StartedAt:    b.StartedAt,
		CompletedAt:  b.CompletedAt,
		Existing:     existing,
	}
}

// Summary aggregates payouts for one provider or the whole platform.
type Summary struct {
	ProviderID      string          `json:"provider_id,omitempty"`
	CompletedAmount decimal.Decimal `json:"completed_amount"`
	PendingAmount   decimal.Decimal `json:"pending_amount"`
	CompletedCount  int             `json:"completed_count"`
	PendingCount    int             `json:"pending_count"`
	FailedCount     int             `json:"failed_count"`
}
