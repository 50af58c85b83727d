package payment

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ksred/booking-api/internal/apperr"
	"github.com/ksred/booking-api/internal/audit"
	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/internal/order"
	"github.com/ksred/booking-api/internal/types"
	"github.com/ksred/booking-api/pkg/response"
)

var tracer = otel.Tracer("github.com/ksred/booking-api/internal/payment")

var lockingClause = clause.Locking{Strength: "UPDATE"}

// AuditSink records payment events.
type AuditSink interface {
	Record(entry audit.Entry)
}

// Service confirms payments for pending orders.
type Service struct {
	db     *gorm.DB
	orders *order.Database
	audit  AuditSink
	clock  func() time.Time
}

// NewService builds the payment service. sink may be nil.
func NewService(gormDB *gorm.DB, sink AuditSink) *Service {
	return &Service{
		db:     gormDB,
		orders: order.NewDatabase(gormDB),
		audit:  sink,
		clock:  time.Now,
	}
}

func paymentNotFound(orderID string) *apperr.Error {
	return &apperr.Error{
		Kind:    apperr.KindNotFound,
		Code:    apperr.CodePaymentNotFound,
		Message: "payment not found for order: " + orderID,
	}
}

// PayOrder records a succeeded payment for a PENDING order and moves it to
// PAID. Paying a PAID order is reported, not repeated.
func (s *Service) PayOrder(ctx context.Context, orderID, customerID, requestID string) (*PayResult, error) {
	ctx, span := tracer.Start(ctx, "payment.PayOrder")
	defer span.End()

	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, apperr.InvalidInput(apperr.CodeInvalidRequestID, "request id must not be blank")
	}

	logger := log.With().
		Str("order_id", orderID).
		Str("request_id", requestID).
		Str("service", "payment").
		Logger()

	var result *PayResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.orders.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if customerID != "" && o.CustomerID != customerID {
			return apperr.Forbidden("order does not belong to customer " + customerID)
		}

		if o.Status == order.StatusPaid {
			existing, err := s.findByOrder(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if existing == nil {
				return paymentNotFound(orderID)
			}
			result = &PayResult{
				Payment:          existing,
				AlreadyPaid:      true,
				RequestIDMatched: existing.RequestID == requestID,
			}
			return nil
		}

		if err := order.ValidateForOperation(o.Status, order.StatusPaid, "pay"); err != nil {
			return err
		}

		p := &Payment{
			PaymentID: "PAY_" + uuid.New().String(),
			OrderID:   o.OrderID,
			RequestID: requestID,
			Amount:    o.TotalPrice,
			Status:    StatusSucceeded,
			PaidAt:    s.clock().UTC(),
		}
		if err := tx.WithContext(ctx).Create(p).Error; err != nil {
			return err
		}

		o.Status = order.StatusPaid
		if err := s.orders.UpdateOrder(ctx, tx, o); err != nil {
			return err
		}
		result = &PayResult{Payment: p, RequestIDMatched: true}
		return nil
	})
	if err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		existing, lookupErr := s.findByOrder(ctx, nil, orderID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing == nil {
			return nil, paymentNotFound(orderID)
		}
		logger.Info().Str("payment_id", existing.PaymentID).Msg("concurrent payment resolved to existing payment")
		return &PayResult{
			Payment:          existing,
			AlreadyPaid:      true,
			RequestIDMatched: existing.RequestID == requestID,
		}, nil
	}

	if result.AlreadyPaid {
		logger.Info().
			Str("payment_id", result.Payment.PaymentID).
			Bool("request_id_matched", result.RequestIDMatched).
			Msg("order already paid")
		return result, nil
	}

	logger.Info().
		Str("payment_id", result.Payment.PaymentID).
		Str("amount", result.Payment.Amount.StringFixed(2)).
		Msg("payment confirmed")

	if s.audit != nil {
		s.audit.Record(audit.Entry{
			EntityType: audit.EntityOrder,
			EntityID:   orderID,
			Action:     audit.ActionPaymentConfirmed,
			ActorType:  audit.ActorCustomer,
			ActorID:    customerID,
			Details: map[string]any{
				"paymentId": result.Payment.PaymentID,
				"amount":    result.Payment.Amount.StringFixed(2),
			},
			OccurredAt: result.Payment.PaidAt,
		})
	}
	return result, nil
}

func (s *Service) findByOrder(ctx context.Context, tx *gorm.DB, orderID string) (*Payment, error) {
	conn := s.db
	if tx != nil {
		conn = tx
	}
	var p Payment
	if err := conn.WithContext(ctx).Where("order_id = ?", orderID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get payment")
	}
	return &p, nil
}

// GetByOrderID returns PAYMENT_NOT_FOUND when the order has no payment.
func (s *Service) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	p, err := s.findByOrder(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, paymentNotFound(orderID)
	}
	return p, nil
}

// LockByOrderID loads the order's payment FOR UPDATE inside tx; nil when absent.
func (s *Service) LockByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*Payment, error) {
	return s.findByOrder(ctx, tx.Clauses(lockingClause), orderID)
}

// HasSucceededPayment reports whether orderID holds a SUCCEEDED payment.
func (s *Service) HasSucceededPayment(ctx context.Context, tx *gorm.DB, orderID string) (bool, error) {
	p, err := s.findByOrder(ctx, tx, orderID)
	if err != nil {
		return false, err
	}
	return p != nil && p.Status == StatusSucceeded, nil
}

// MarkRefunded flips a SUCCEEDED payment to REFUNDED.
func (s *Service) MarkRefunded(ctx context.Context, tx *gorm.DB, paymentID string) error {
	res := tx.WithContext(ctx).Model(&Payment{}).
		Where("payment_id = ? AND status = ?", paymentID, StatusSucceeded).
		Update("status", StatusRefunded)
	if res.Error != nil {
		return errors.Wrap(res.Error, "mark payment refunded")
	}
	if res.RowsAffected == 0 {
		return apperr.InvalidTransition("payment is not refundable: " + paymentID)
	}
	return nil
}

// GinHandlers contains HTTP handlers for payment endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// PayOrderHandler handles POST /orders/:order_id/pay
// The request id comes from the body or the X-Request-ID header
func (h *GinHandlers) PayOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := auth.PrincipalFrom(c)
		if !ok {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		var req types.PayRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.ValidationFailed(c, err.Error())
				return
			}
		}
		if req.RequestID == "" {
			req.RequestID = c.GetHeader("X-Request-ID")
		}

		result, err := h.service.PayOrder(c.Request.Context(), c.Param("order_id"), principal.UserID, req.RequestID)
		response.Handle(c, result, err)
	}
}

// GetPaymentHandler handles GET /orders/:order_id/payment
func (h *GinHandlers) GetPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := auth.PrincipalFrom(c)
		if !ok {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		orderID := c.Param("order_id")
		o, err := h.service.orders.GetOrder(c.Request.Context(), orderID)
		if err != nil {
			response.Fail(c, err)
			return
		}
		if !principal.IsAdmin() && o.CustomerID != principal.UserID {
			response.Forbidden(c, "not allowed to view payment for order "+orderID)
			return
		}

		p, err := h.service.GetByOrderID(c.Request.Context(), orderID)
		response.Handle(c, p, err)
	}
}
