package settlement

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/ksred/booking-api/internal/apperr"
	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/internal/order"
	"github.com/ksred/booking-api/pkg/response"
)

var tracer = otel.Tracer("github.com/ksred/booking-api/internal/settlement")

// PlatformFeeRate is the share of the order total kept by the platform.
var PlatformFeeRate = decimal.RequireFromString("0.10")

// PayoutGateway moves money to a provider. It returns the rail's reference.
type PayoutGateway interface {
	Payout(ctx context.Context, settlementID, providerID string, amount decimal.Decimal) (string, error)
}

// DefaultBatchTimeout bounds one run of ProcessBatch.
const DefaultBatchTimeout = 30 * time.Minute

type Service struct {
	db           *Database
	gateway      PayoutGateway
	loc          *time.Location
	clock        func() time.Time
	batchTimeout time.Duration
}

// NewService builds the settlement engine. Batch ids use loc's calendar day.
func NewService(gormDB *gorm.DB, gateway PayoutGateway, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		db:           NewDatabase(gormDB),
		gateway:      gateway,
		loc:          loc,
		clock:        time.Now,
		batchTimeout: DefaultBatchTimeout,
	}
}

// SplitTotal returns the platform fee (10%, rounded half up to cents) and the
// provider payout. fee + payout == total.
func SplitTotal(total decimal.Decimal) (fee, payout decimal.Decimal) {
	fee = total.Mul(PlatformFeeRate).Round(2)
	payout = total.Sub(fee)
	return fee, payout
}

// CreateSettlement records the payout owed for a completed order. It is
// idempotent per order and runs inside tx when one is given.
func (s *Service) CreateSettlement(ctx context.Context, tx *gorm.DB, o *order.Order) (*Settlement, error) {
	logger := log.With().
		Str("order_id", o.OrderID).
		Str("provider_id", o.ProviderID).
		Str("service", "settlement").
		Logger()

	existing, err := s.db.FindByOrderID(ctx, tx, o.OrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		logger.Info().Str("settlement_id", existing.SettlementID).Msg("settlement already exists for order")
		return existing, nil
	}

	if o.Status != order.StatusCompleted {
		return nil, apperr.InvalidInput(apperr.CodeInvalidOrderStatus, "order is not completed: "+string(o.Status))
	}

	fee, payout := SplitTotal(o.TotalPrice)
	st := &Settlement{
		SettlementID:   "STL_" + uuid.New().String(),
		OrderID:        o.OrderID,
		ProviderID:     o.ProviderID,
		TotalPrice:     o.TotalPrice,
		PlatformFee:    fee,
		ProviderPayout: payout,
		Status:         StatusPending,
		SettledAt:      s.clock().UTC(),
	}

	conn := s.db.db
	if tx != nil {
		conn = tx
	}
	// The savepoint keeps the caller's transaction usable when the insert
	// loses the race on order_id.
	err = conn.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		return inner.Create(st).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			winner, findErr := s.db.FindByOrderID(ctx, tx, o.OrderID)
			if findErr != nil {
				return nil, findErr
			}
			if winner != nil {
				return winner, nil
			}
		}
		logger.Error().Err(err).Msg("failed to create settlement record")
		return nil, errors.Wrap(err, "create settlement record")
	}

	logger.Info().
		Str("settlement_id", st.SettlementID).
		Str("total_price", st.TotalPrice.StringFixed(2)).
		Str("platform_fee", st.PlatformFee.StringFixed(2)).
		Str("provider_payout", st.ProviderPayout.StringFixed(2)).
		Msg("settlement created")
	return st, nil
}

// SettleCompletedOrder lets the order lifecycle create settlements without
// knowing the settlement type.
func (s *Service) SettleCompletedOrder(ctx context.Context, tx *gorm.DB, o *order.Order) error {
	_, err := s.CreateSettlement(ctx, tx, o)
	return err
}

// GetSettlement retrieves a settlement by ID
func (s *Service) GetSettlement(ctx context.Context, settlementID string) (*Settlement, error) {
	return s.db.GetSettlement(ctx, settlementID)
}

func (s *Service) GetByOrderID(ctx context.Context, orderID string) (*Settlement, error) {
	st, err := s.db.FindByOrderID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, apperr.NotFound("Settlement", orderID)
	}
	return st, nil
}

// ListSettlements returns one provider's settlements, or all of them when
// providerID is empty.
func (s *Service) ListSettlements(ctx context.Context, providerID string) ([]Settlement, error) {
	if providerID == "" {
		return s.db.GetAllSettlements(ctx)
	}
	return s.db.GetProviderSettlements(ctx, providerID)
}

// Summary totals completed and pending payouts. Settlements claimed by a
// running batch count in neither.
func (s *Service) Summary(ctx context.Context, providerID string) (*Summary, error) {
	settlements, err := s.ListSettlements(ctx, providerID)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		ProviderID:      providerID,
		CompletedAmount: decimal.Zero,
		PendingAmount:   decimal.Zero,
	}
	for _, st := range settlements {
		switch st.Status {
		case StatusCompleted:
			sum.CompletedCount++
			sum.CompletedAmount = sum.CompletedAmount.Add(st.ProviderPayout)
		case StatusPending:
			sum.PendingCount++
			sum.PendingAmount = sum.PendingAmount.Add(st.ProviderPayout)
		case StatusFailed:
			sum.FailedCount++
		}
	}
	return sum, nil
}

// GinHandlers contains HTTP handlers for settlement endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// scopeFor resolves which provider's settlements the caller may read. Admins
// may pass ?provider_id= or read everything.
func scopeFor(c *gin.Context) (string, bool) {
	principal, ok := auth.PrincipalFrom(c)
	if !ok {
		response.Unauthorized(c, "Missing authentication claims")
		return "", false
	}
	if principal.IsAdmin() {
		return c.Query("provider_id"), true
	}
	if principal.Role == auth.RoleProvider && principal.ProviderID != "" {
		return principal.ProviderID, true
	}
	response.Forbidden(c, "settlements are visible to providers and admins only")
	return "", false
}

func visible(c *gin.Context, scope string, st *Settlement) bool {
	if scope != "" && st.ProviderID != scope {
		response.Forbidden(c, "settlement belongs to another provider")
		return false
	}
	return true
}

func (h *GinHandlers) ListSettlementsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := scopeFor(c)
		if !ok {
			return
		}
		settlements, err := h.service.ListSettlements(c.Request.Context(), scope)
		response.Handle(c, settlements, err)
	}
}

func (h *GinHandlers) SummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := scopeFor(c)
		if !ok {
			return
		}
		summary, err := h.service.Summary(c.Request.Context(), scope)
		response.Handle(c, summary, err)
	}
}

func (h *GinHandlers) GetSettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := scopeFor(c)
		if !ok {
			return
		}
		st, err := h.service.GetSettlement(c.Request.Context(), c.Param("settlement_id"))
		if err != nil {
			response.Fail(c, err)
			return
		}
		if visible(c, scope, st) {
			response.Success(c, st)
		}
	}
}

func (h *GinHandlers) GetOrderSettlementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		scope, ok := scopeFor(c)
		if !ok {
			return
		}
		st, err := h.service.GetByOrderID(c.Request.Context(), c.Param("order_id"))
		if err != nil {
			response.Fail(c, err)
			return
		}
		if visible(c, scope, st) {
			response.Success(c, st)
		}
	}
}

func (h *GinHandlers) RunBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := h.service.ProcessBatch(c.Request.Context())
		response.Handle(c, summary, err)
	}
}

func (h *GinHandlers) ListBatchesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		batches, err := h.service.ListBatches(c.Request.Context(), 30)
		response.Handle(c, batches, err)
	}
}
