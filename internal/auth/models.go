package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleProvider Role = "PROVIDER"
	RoleAdmin    Role = "ADMIN"
)

type User struct {
	gorm.Model `json:"-"`
	UserID     string    `gorm:"uniqueIndex;size:64;not null" json:"user_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	Role       Role      `gorm:"size:20;not null" json:"role"`
	ProviderID string    `gorm:"size:64" json:"provider_id,omitempty"`
	APIKey     string    `gorm:"uniqueIndex;size:128;not null" json:"-"`
	SecretHash string    `gorm:"size:255;not null" json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Credentials represents the API authentication credentials
type Credentials struct {
	APIKey    string `json:"api_key" binding:"required"`
	APISecret string `json:"api_secret" binding:"required"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
	UserID     string    `json:"user_id"`
	Role       Role      `json:"role"`
	ProviderID string    `json:"provider_id,omitempty"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	UserID     string `json:"user_id"`
	Role       Role   `json:"role"`
	ProviderID string `json:"provider_id,omitempty"`
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID     string
	Role       Role
	ProviderID string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// OwnsProvider reports whether p may act for providerID.
func (p Principal) OwnsProvider(providerID string) bool {
	return p.IsAdmin() || (p.Role == RoleProvider && p.ProviderID == providerID)
}
