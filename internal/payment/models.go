package payment

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusRefunded  Status = "REFUNDED"
)

type Payment struct {
	gorm.Model `json:"-"`
	PaymentID  string          `gorm:"uniqueIndex;size:64;not null" json:"payment_id"`
	OrderID    string          `gorm:"uniqueIndex;size:64;not null" json:"order_id"`
	RequestID  string          `gorm:"size:255;not null" json:"request_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Status     Status          `gorm:"size:20;not null" json:"status"`
	PaidAt     time.Time       `json:"paid_at"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PayResult tells the caller whether the order was already paid and, if so,
// whether the earlier payment carried the same request id.
type PayResult struct {
	Payment          *Payment `json:"payment"`
	AlreadyPaid      bool     `json:"already_paid"`
	RequestIDMatched bool     `json:"request_id_matched"`
}
