package refund

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/booking-api/internal/apperr"
	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/internal/events"
	"github.com/ksred/booking-api/internal/payment"
	"github.com/ksred/booking-api/pkg/response"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

const maxReasonLength = 500

type Refund struct {
	gorm.Model `json:"-"`
	RefundID   string          `gorm:"uniqueIndex;size:64;not null" json:"refund_id"`
	OrderID    string          `gorm:"uniqueIndex;size:64;not null" json:"order_id"`
	PaymentID  string          `gorm:"size:64;not null" json:"payment_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Reason     string          `gorm:"size:500" json:"reason"`
	Status     Status          `gorm:"size:20;not null" json:"status"`
	RefundedAt *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Payments is the slice of the payment service refunds need.
type Payments interface {
	LockByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*payment.Payment, error)
	MarkRefunded(ctx context.Context, tx *gorm.DB, paymentID string) error
}

// Service issues one refund per cancelled, paid order.
type Service struct {
	db         *gorm.DB
	payments   Payments
	dispatcher *events.Dispatcher
}

func NewService(db *gorm.DB, payments Payments, dispatcher *events.Dispatcher) *Service {
	return &Service{
		db:         db,
		payments:   payments,
		dispatcher: dispatcher,
	}
}

// Trigger queues CreateRefund. Failures are logged by the dispatcher and never
// reach the lifecycle operation that fired the refund.
func (s *Service) Trigger(orderID, reason string) {
	_ = s.dispatcher.Dispatch("refund", func(ctx context.Context) error {
		_, err := s.CreateRefund(ctx, orderID, reason)
		return err
	})
}

// CreateRefund refunds the order's payment. An existing refund for the order
// is returned unchanged.
func (s *Service) CreateRefund(ctx context.Context, orderID, reason string) (*Refund, error) {
	logger := log.With().Str("order_id", orderID).Str("service", "refund").Logger()

	existing, err := s.GetByOrderID(ctx, orderID)
	if err == nil {
		logger.Info().Str("refund_id", existing.RefundID).Msg("refund already exists")
		return existing, nil
	}
	if !apperr.HasCode(err, apperr.CodeNotFound) {
		return nil, err
	}

	r := &Refund{
		RefundID: "RFD_" + uuid.New().String(),
		OrderID:  orderID,
		Reason:   truncate(reason, maxReasonLength),
		Status:   StatusPending,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.payments.LockByOrderID(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if p == nil {
			return apperr.NotFound("Payment", orderID)
		}
		r.PaymentID = p.PaymentID
		r.Amount = p.Amount
		return tx.Create(r).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.GetByOrderID(ctx, orderID)
		}
		return nil, err
	}

	if err := s.setStatus(ctx, s.db, r, StatusProcessing); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.payments.MarkRefunded(ctx, tx, r.PaymentID); err != nil {
			return err
		}
		now := time.Now().UTC()
		r.RefundedAt = &now
		return s.setStatus(ctx, tx, r, StatusCompleted)
	})
	if err != nil {
		logger.Error().Err(err).Str("refund_id", r.RefundID).Msg("refund failed")
		r.RefundedAt = nil
		if failErr := s.setStatus(ctx, s.db, r, StatusFailed); failErr != nil {
			logger.Error().Err(failErr).Msg("failed to mark refund failed")
		}
		return r, errors.Wrap(err, "process refund")
	}

	logger.Info().
		Str("refund_id", r.RefundID).
		Str("amount", r.Amount.StringFixed(2)).
		Msg("refund completed")
	return r, nil
}

func (s *Service) setStatus(ctx context.Context, conn *gorm.DB, r *Refund, status Status) error {
	r.Status = status
	if err := conn.WithContext(ctx).Model(&Refund{}).
		Where("refund_id = ?", r.RefundID).
		Updates(map[string]any{"status": status, "refunded_at": r.RefundedAt}).Error; err != nil {
		return errors.Wrap(err, "update refund status")
	}
	return nil
}

func (s *Service) GetByOrderID(ctx context.Context, orderID string) (*Refund, error) {
	var r Refund
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Refund", orderID)
		}
		return nil, errors.Wrap(err, "get refund")
	}
	return &r, nil
}

// ListByCustomer returns refunds of orders placed by customerID, newest first.
func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]Refund, error) {
	var refunds []Refund
	if err := s.db.WithContext(ctx).
		Joins("JOIN orders ON orders.order_id = refunds.order_id").
		Where("orders.customer_id = ?", customerID).
		Order("refunds.created_at DESC").
		Find(&refunds).Error; err != nil {
		return nil, errors.Wrap(err, "list customer refunds")
	}
	return refunds, nil
}

// ListAll returns every refund, newest first.
func (s *Service) ListAll(ctx context.Context) ([]Refund, error) {
	var refunds []Refund
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&refunds).Error; err != nil {
		return nil, errors.Wrap(err, "list refunds")
	}
	return refunds, nil
}

// Get returns the refund when p is an admin or placed the refunded order.
func (s *Service) Get(ctx context.Context, refundID string, p auth.Principal) (*Refund, error) {
	var r Refund
	if err := s.db.WithContext(ctx).Where("refund_id = ?", refundID).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Refund", refundID)
		}
		return nil, errors.Wrap(err, "get refund")
	}
	if p.IsAdmin() {
		return &r, nil
	}

	var customerIDs []string
	if err := s.db.WithContext(ctx).
		Table("orders").
		Where("order_id = ?", r.OrderID).
		Pluck("customer_id", &customerIDs).Error; err != nil {
		return nil, errors.Wrap(err, "load refund owner")
	}
	if len(customerIDs) == 0 || customerIDs[0] != p.UserID {
		return nil, apperr.Forbidden("not allowed to view refund " + refundID)
	}
	return &r, nil
}

// GinHandlers contains HTTP handlers for refund endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// ListRefundsHandler lists the caller's refunds, or all of them for admins
func (h *GinHandlers) ListRefundsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := auth.PrincipalFrom(c)
		if !ok {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		var (
			refunds []Refund
			err     error
		)
		if principal.IsAdmin() {
			refunds, err = h.service.ListAll(c.Request.Context())
		} else {
			refunds, err = h.service.ListByCustomer(c.Request.Context(), principal.UserID)
		}
		response.Handle(c, refunds, err)
	}
}

// GetRefundHandler returns one refund visible to the caller
// URL parameter: refund_id
func (h *GinHandlers) GetRefundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := auth.PrincipalFrom(c)
		if !ok {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		r, err := h.service.Get(c.Request.Context(), c.Param("refund_id"), principal)
		response.Handle(c, r, err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
