package order

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MaxReasonLength bounds stored cancellation reasons.
const MaxReasonLength = 500

type Order struct {
	gorm.Model         `json:"-"`
	OrderID            string          `gorm:"uniqueIndex;size:64;not null" json:"order_id"`
	CustomerID         string          `gorm:"size:64;not null;uniqueIndex:idx_orders_customer_idempotency,priority:1" json:"customer_id"`
	ProviderID         string          `gorm:"size:64;not null;index" json:"provider_id"`
	ServiceID          string          `gorm:"size:64;not null" json:"service_id"`
	TimeSlotID         *string         `gorm:"size:64;index" json:"time_slot_id,omitempty"`
	Status             Status          `gorm:"size:20;not null;index" json:"status"`
	TotalPrice         decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_price"`
	Notes              string          `gorm:"type:text" json:"notes,omitempty"`
	IdempotencyKey     *string         `gorm:"size:255;uniqueIndex:idx_orders_customer_idempotency,priority:2" json:"-"`
	AcceptedAt         *time.Time      `json:"accepted_at,omitempty"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CancellationReason string          `gorm:"size:500" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// CreateRequest is the input to Service.Create.
type CreateRequest struct {
	CustomerID     string  `json:"-"`
	ServiceID      string  `json:"service_id" binding:"required"`
	TimeSlotID     *string `json:"time_slot_id"`
	Notes          string  `json:"notes"`
	IdempotencyKey *string `json:"-"`
}

// CreateResult reports whether Create replayed an earlier request.
type CreateResult struct {
	Order         *Order `json:"order"`
	IdempotentHit bool   `json:"idempotent_hit"`
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
