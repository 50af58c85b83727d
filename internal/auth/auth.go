package auth

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/ksred/booking-api/internal/apperr"
	"github.com/ksred/booking-api/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
	ErrInvalidToken       = errors.New("invalid token")
)

// PrincipalKey is the gin context key holding the authenticated Principal.
const PrincipalKey = "principal"

// Service handles authentication and authorization operations
type Service struct {
	db        *gorm.DB
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewService creates a new authentication service with the given JWT secret
func NewService(db *gorm.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		db:        db,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

// CreateUser stores a user with a bcrypt hash of apiSecret.
func (s *Service) CreateUser(ctx context.Context, name string, role Role, apiKey, apiSecret, providerID string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash api secret")
	}

	user := &User{
		UserID:     "USR_" + uuid.New().String(),
		Name:       name,
		Role:       role,
		ProviderID: providerID,
		APIKey:     apiKey,
		SecretHash: string(hash),
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, errors.Wrap(err, "create user")
	}
	return user, nil
}

// GetUser returns NOT_FOUND when userID is unknown.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Customer", userID)
		}
		return nil, errors.Wrap(err, "get user")
	}
	return &user, nil
}

// GetUserByAPIKey returns nil, nil when no user holds apiKey.
func (s *Service) GetUserByAPIKey(ctx context.Context, apiKey string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("api_key = ?", apiKey).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get user by api key")
	}
	return &user, nil
}

// GenerateToken generates a JWT token for valid API credentials
// The token carries the user id, role and provider id of the caller
func (s *Service) GenerateToken(ctx context.Context, creds Credentials) (*TokenResponse, error) {
	user, err := s.GetUserByAPIKey(ctx, creds.APIKey)
	if err != nil {
		return nil, err
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.SecretHash), []byte(creds.APISecret)) != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	expiration := now.Add(s.tokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		UserID:     user.UserID,
		Role:       user.Role,
		ProviderID: user.ProviderID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	log.Debug().Str("user_id", user.UserID).Str("role", string(user.Role)).Msg("issued token")

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
		UserID:     user.UserID,
		Role:       user.Role,
		ProviderID: user.ProviderID,
	}, nil
}

// ValidateToken validates a JWT token and returns the principal it carries
// Verifies token signature and expiration
func (s *Service) ValidateToken(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	switch claims.Role {
	case RoleCustomer, RoleProvider, RoleAdmin:
	default:
		return nil, ErrInvalidToken
	}

	return &Principal{
		UserID:     claims.UserID,
		Role:       claims.Role,
		ProviderID: claims.ProviderID,
	}, nil
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler handles POST requests to generate JWT tokens
// Request body should contain API credentials
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(c.Request.Context(), creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}

// PrincipalFrom returns the caller set by the JWT middleware.
func PrincipalFrom(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
