package catalog

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/booking-api/internal/apperr"
	"github.com/ksred/booking-api/pkg/response"
)

// Service reads and maintains providers and their offerings.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) CreateProvider(ctx context.Context, userID, name string) (*Provider, error) {
	p := &Provider{
		ProviderID: "PRV_" + uuid.New().String(),
		UserID:     userID,
		Name:       name,
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, errors.Wrap(err, "create provider")
	}
	return p, nil
}

func (s *Service) CreateOffering(ctx context.Context, providerID, name string, price decimal.Decimal) (*Offering, error) {
	if !price.IsPositive() {
		return nil, apperr.InvalidInput(apperr.CodeValidation, "price must be positive")
	}
	o := &Offering{
		ServiceID:  "SVC_" + uuid.New().String(),
		ProviderID: providerID,
		Name:       name,
		Price:      price.Round(2),
		Status:     OfferingActive,
	}
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return nil, errors.Wrap(err, "create service")
	}
	return o, nil
}

// GetService returns NOT_FOUND for unknown ids.
func (s *Service) GetService(ctx context.Context, serviceID string) (*Offering, error) {
	var o Offering
	if err := s.db.WithContext(ctx).Where("service_id = ?", serviceID).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Service", serviceID)
		}
		return nil, errors.Wrap(err, "get service")
	}
	return &o, nil
}

func (s *Service) SetStatus(ctx context.Context, serviceID string, status OfferingStatus) error {
	res := s.db.WithContext(ctx).Model(&Offering{}).
		Where("service_id = ?", serviceID).
		Update("status", status)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update service status")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("Service", serviceID)
	}
	return nil
}

func (s *Service) ListActive(ctx context.Context) ([]Offering, error) {
	var offerings []Offering
	if err := s.db.WithContext(ctx).
		Where("status = ?", OfferingActive).
		Order("name ASC").
		Find(&offerings).Error; err != nil {
		return nil, errors.Wrap(err, "list services")
	}
	return offerings, nil
}

// GinHandlers contains HTTP handlers for catalog endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) ListServicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		offerings, err := h.service.ListActive(c.Request.Context())
		response.Handle(c, offerings, err)
	}
}

func (h *GinHandlers) GetServiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		offering, err := h.service.GetService(c.Request.Context(), c.Param("service_id"))
		response.Handle(c, offering, err)
	}
}
