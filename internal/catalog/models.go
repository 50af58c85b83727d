package catalog

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OfferingStatus string

const (
	OfferingActive   OfferingStatus = "ACTIVE"
	OfferingInactive OfferingStatus = "INACTIVE"
)

type Provider struct {
	gorm.Model `json:"-"`
	ProviderID string    `gorm:"uniqueIndex;size:64;not null" json:"provider_id"`
	UserID     string    `gorm:"size:64;index" json:"user_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Offering is a bookable service sold by a provider.
type Offering struct {
	gorm.Model `json:"-"`
	ServiceID  string          `gorm:"uniqueIndex;size:64;not null" json:"service_id"`
	ProviderID string          `gorm:"size:64;not null;index" json:"provider_id"`
	Name       string          `gorm:"size:200;not null" json:"name"`
	Price      decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	Status     OfferingStatus  `gorm:"size:20;not null" json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (Offering) TableName() string {
	return "services"
}

func (o *Offering) IsActive() bool {
	return o.Status == OfferingActive
}
