package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/ksred/booking-api/internal/apperr"
	"github.com/ksred/booking-api/internal/audit"
	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/internal/catalog"
	"github.com/ksred/booking-api/internal/timeslot"
)

var tracer = otel.Tracer("github.com/ksred/booking-api/internal/order")

const defaultCancelReason = "Customer cancelled"

// CustomerDirectory resolves customer ids.
type CustomerDirectory interface {
	GetUser(ctx context.Context, userID string) (*auth.User, error)
}

// ServiceCatalog resolves bookable services.
type ServiceCatalog interface {
	GetService(ctx context.Context, serviceID string) (*catalog.Offering, error)
}

// SlotAllocator books and frees time slots inside the caller's transaction.
type SlotAllocator interface {
	Get(ctx context.Context, tx *gorm.DB, slotID string) (*timeslot.TimeSlot, error)
	Book(ctx context.Context, tx *gorm.DB, slotID string) error
	ReleaseSafely(ctx context.Context, tx *gorm.DB, slotID string) error
}

// SettlementCreator records the settlement of a completed order inside the
// completing transaction.
type SettlementCreator interface {
	SettleCompletedOrder(ctx context.Context, tx *gorm.DB, o *Order) error
}

// PaymentChecker reports whether an order holds a succeeded payment.
type PaymentChecker interface {
	HasSucceededPayment(ctx context.Context, tx *gorm.DB, orderID string) (bool, error)
}

// RefundTrigger starts a refund after the cancelling transaction commits.
type RefundTrigger interface {
	Trigger(orderID, reason string)
}

// AuditSink records lifecycle events. Record must not block.
type AuditSink interface {
	Record(entry audit.Entry)
}

// Deps are the collaborators of Service. Refunds and Audit may be nil.
type Deps struct {
	Customers   CustomerDirectory
	Catalog     ServiceCatalog
	Slots       SlotAllocator
	Settlements SettlementCreator
	Payments    PaymentChecker
	Refunds     RefundTrigger
	Audit       AuditSink
	Clock       func() time.Time
}

// Service drives orders through their lifecycle
type Service struct {
	db   *Database
	deps Deps
}

// NewService creates a new order service with the given database connection
func NewService(gormDB *gorm.DB, deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Service{
		db:   NewDatabase(gormDB),
		deps: deps,
	}
}

func (s *Service) now() time.Time {
	return s.deps.Clock().UTC()
}

// Create books a new order, replaying an earlier one when the customer reuses
// an idempotency key with the same service and slot.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	ctx, span := tracer.Start(ctx, "order.Create")
	defer span.End()

	logger := log.With().
		Str("customer_id", req.CustomerID).
		Str("service_id", req.ServiceID).
		Str("service", "order").
		Logger()

	var key *string
	if req.IdempotencyKey != nil {
		k := strings.TrimSpace(*req.IdempotencyKey)
		if k == "" {
			return nil, apperr.InvalidInput(apperr.CodeInvalidIdempotencyKey, "idempotency key must not be blank")
		}
		key = &k
		logger = logger.With().Str("idempotency_key", k).Logger()

		existing, err := s.db.FindByIdempotencyKey(ctx, nil, req.CustomerID, k)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			logger.Info().Str("order_id", existing.OrderID).Msg("idempotent replay of order creation")
			return replay(existing, req)
		}
	}

	if _, err := s.deps.Customers.GetUser(ctx, req.CustomerID); err != nil {
		return nil, err
	}

	offering, err := s.deps.Catalog.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if !offering.IsActive() {
		return nil, apperr.InvalidInput(apperr.CodeServiceInactive, "service is not active: "+req.ServiceID)
	}

	o := &Order{
		OrderID:        "ORD_" + uuid.New().String(),
		CustomerID:     req.CustomerID,
		ProviderID:     offering.ProviderID,
		ServiceID:      offering.ServiceID,
		TimeSlotID:     req.TimeSlotID,
		Status:         StatusPending,
		TotalPrice:     offering.Price,
		Notes:          req.Notes,
		IdempotencyKey: key,
	}
	span.SetAttributes(attribute.String("order.id", o.OrderID))

	err = s.db.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if o.TimeSlotID != nil {
			slot, err := s.deps.Slots.Get(ctx, tx, *o.TimeSlotID)
			if err != nil {
				return err
			}
			if slot.ProviderID != offering.ProviderID {
				return apperr.InvalidInput(apperr.CodeInvalidTimeSlot, "time slot does not belong to the service provider")
			}
			if err := s.deps.Slots.Book(ctx, tx, slot.SlotID); err != nil {
				return err
			}
		}
		return s.db.CreateOrder(ctx, tx, o)
	})
	if err != nil {
		lostRace := errors.Is(err, gorm.ErrDuplicatedKey) || apperr.HasCode(err, apperr.CodeSlotNotAvailable)
		if key != nil && lostRace {
			return s.reconcile(ctx, logger, req, *key, err)
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict(apperr.CodeIdempotencyKeyConflict, "order already exists")
		}
		return nil, err
	}

	logger.Info().
		Str("order_id", o.OrderID).
		Str("total_price", o.TotalPrice.StringFixed(2)).
		Msg("order created")

	s.record(audit.ActionOrderCreated, o.OrderID, audit.ActorCustomer, o.CustomerID, map[string]any{
		"serviceId":  o.ServiceID,
		"totalPrice": o.TotalPrice.StringFixed(2),
	})

	return &CreateResult{Order: o}, nil
}

// reconcile runs after a create lost a race on the idempotency key or on the
// slot. The rolled back transaction already undid the speculative booking.
func (s *Service) reconcile(ctx context.Context, logger zerolog.Logger, req CreateRequest, key string, cause error) (*CreateResult, error) {
	if req.TimeSlotID != nil && errors.Is(cause, gorm.ErrDuplicatedKey) {
		if err := s.releaseSlot(ctx, *req.TimeSlotID); err != nil {
			logger.Warn().Err(err).Str("slot_id", *req.TimeSlotID).Msg("failed to release slot after duplicate order")
		}
	}

	winner, err := s.db.FindByIdempotencyKey(ctx, nil, req.CustomerID, key)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		if errors.Is(cause, gorm.ErrDuplicatedKey) {
			return nil, apperr.Internal(cause, "idempotency winner not found")
		}
		return nil, cause
	}

	logger.Info().Str("order_id", winner.OrderID).Msg("concurrent create resolved to existing order")
	return replay(winner, req)
}

func replay(existing *Order, req CreateRequest) (*CreateResult, error) {
	if existing.CustomerID != req.CustomerID ||
		existing.ServiceID != req.ServiceID ||
		!sameSlot(existing.TimeSlotID, req.TimeSlotID) {
		return nil, apperr.Conflict(apperr.CodeIdempotencyKeyConflict, "idempotency key was used with a different request")
	}
	return &CreateResult{Order: existing, IdempotentHit: true}, nil
}

func sameSlot(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Service) releaseSlot(ctx context.Context, slotID string) error {
	return s.db.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.deps.Slots.ReleaseSafely(ctx, tx, slotID)
	})
}

// mutate runs fn on the locked order inside one transaction and saves it.
func (s *Service) mutate(ctx context.Context, orderID string, fn func(tx *gorm.DB, o *Order) error) (*Order, error) {
	var result *Order
	err := s.db.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.db.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := fn(tx, o); err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func checkProvider(o *Order, providerID string) error {
	if o.ProviderID != providerID {
		return apperr.Forbidden("order does not belong to provider " + providerID)
	}
	return nil
}

// Accept confirms a paid order for its provider.
func (s *Service) Accept(ctx context.Context, orderID, providerID string) (*Order, error) {
	ctx, span := tracer.Start(ctx, "order.Accept")
	defer span.End()

	o, err := s.mutate(ctx, orderID, func(tx *gorm.DB, o *Order) error {
		if err := checkProvider(o, providerID); err != nil {
			return err
		}
		if err := ValidateForOperation(o.Status, StatusConfirmed, "accept"); err != nil {
			return err
		}
		now := s.now()
		o.Status = StatusConfirmed
		o.AcceptedAt = &now
		return s.db.UpdateOrder(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("order_id", orderID).Str("provider_id", providerID).Str("service", "order").Msg("order accepted")
	s.record(audit.ActionOrderAccepted, orderID, audit.ActorProvider, providerID, nil)
	return o, nil
}

// Reject cancels a PAID or CONFIRMED order on behalf of its provider, frees
// the slot and refunds a succeeded payment.
func (s *Service) Reject(ctx context.Context, orderID, providerID, reason string) (*Order, error) {
	ctx, span := tracer.Start(ctx, "order.Reject")
	defer span.End()

	var paid bool
	o, err := s.mutate(ctx, orderID, func(tx *gorm.DB, o *Order) error {
		if err := checkProvider(o, providerID); err != nil {
			return err
		}
		if o.Status != StatusPaid && o.Status != StatusConfirmed {
			return apperr.InvalidTransition("cannot reject order: current status is " + string(o.Status))
		}
		if err := ValidateForOperation(o.Status, StatusCancelled, "reject"); err != nil {
			return err
		}

		var err error
		paid, err = s.cancelLocked(ctx, tx, o, truncate("Provider rejected: "+reason, MaxReasonLength))
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("order_id", orderID).Str("provider_id", providerID).Bool("refund", paid).Str("service", "order").Msg("order rejected")
	if paid && s.deps.Refunds != nil {
		s.deps.Refunds.Trigger(orderID, o.CancellationReason)
	}
	s.record(audit.ActionOrderRejected, orderID, audit.ActorProvider, providerID, map[string]any{
		"reason": o.CancellationReason,
	})
	return o, nil
}

// Start moves a confirmed order into execution.
func (s *Service) Start(ctx context.Context, orderID, providerID string) (*Order, error) {
	ctx, span := tracer.Start(ctx, "order.Start")
	defer span.End()

	o, err := s.mutate(ctx, orderID, func(tx *gorm.DB, o *Order) error {
		if err := checkProvider(o, providerID); err != nil {
			return err
		}
		if err := ValidateForOperation(o.Status, StatusInProgress, "start"); err != nil {
			return err
		}
		now := s.now()
		o.Status = StatusInProgress
		o.StartedAt = &now
		return s.db.UpdateOrder(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("order_id", orderID).Str("provider_id", providerID).Str("service", "order").Msg("order started")
	s.record(audit.ActionOrderStarted, orderID, audit.ActorProvider, providerID, nil)
	return o, nil
}

// Complete finishes an order and records its settlement in the same
// transaction; a settlement failure leaves the order IN_PROGRESS.
func (s *Service) Complete(ctx context.Context, orderID, providerID string) (*Order, error) {
	ctx, span := tracer.Start(ctx, "order.Complete")
	defer span.End()

	o, err := s.mutate(ctx, orderID, func(tx *gorm.DB, o *Order) error {
		if err := checkProvider(o, providerID); err != nil {
			return err
		}
		if err := ValidateForOperation(o.Status, StatusCompleted, "complete"); err != nil {
			return err
		}
		now := s.now()
		o.Status = StatusCompleted
		o.CompletedAt = &now
		if err := s.db.UpdateOrder(ctx, tx, o); err != nil {
			return err
		}
		if err := s.deps.Settlements.SettleCompletedOrder(ctx, tx, o); err != nil {
			return errors.Wrap(err, "create settlement")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("order_id", orderID).Str("provider_id", providerID).Str("service", "order").Msg("order completed")
	s.record(audit.ActionOrderCompleted, orderID, audit.ActorProvider, providerID, map[string]any{
		"totalPrice": o.TotalPrice.StringFixed(2),
	})
	return o, nil
}

// Cancel cancels an order for its customer. An empty customerID skips the
// ownership check. Cancelling a cancelled order is a no-op.
func (s *Service) Cancel(ctx context.Context, orderID, customerID, reason string) (*Order, error) {
	ctx, span := tracer.Start(ctx, "order.Cancel")
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		reason = defaultCancelReason
	}

	var (
		paid    bool
		already bool
	)
	o, err := s.mutate(ctx, orderID, func(tx *gorm.DB, o *Order) error {
		if customerID != "" && o.CustomerID != customerID {
			return apperr.Forbidden("order does not belong to customer " + customerID)
		}
		if o.Status == StatusCancelled {
			already = true
			return nil
		}
		if err := ValidateForOperation(o.Status, StatusCancelled, "cancel"); err != nil {
			return err
		}

		var err error
		paid, err = s.cancelLocked(ctx, tx, o, truncate(reason, MaxReasonLength))
		return err
	})
	if err != nil {
		return nil, err
	}
	if already {
		return o, nil
	}

	actorType, actorID := audit.ActorCustomer, customerID
	if customerID == "" {
		actorType, actorID = audit.ActorSystem, "admin"
	}

	log.Info().Str("order_id", orderID).Bool("refund", paid).Str("service", "order").Msg("order cancelled")
	if paid && s.deps.Refunds != nil {
		s.deps.Refunds.Trigger(orderID, o.CancellationReason)
	}
	s.record(audit.ActionOrderCancelled, orderID, actorType, actorID, map[string]any{
		"reason": o.CancellationReason,
	})
	return o, nil
}

// cancelLocked stamps the cancellation, frees the slot and reports whether a
// refund is owed. The order row must already be locked by tx.
func (s *Service) cancelLocked(ctx context.Context, tx *gorm.DB, o *Order, reason string) (bool, error) {
	now := s.now()
	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.CancellationReason = reason
	if err := s.db.UpdateOrder(ctx, tx, o); err != nil {
		return false, err
	}

	if o.TimeSlotID != nil {
		if err := s.deps.Slots.ReleaseSafely(ctx, tx, *o.TimeSlotID); err != nil {
			return false, err
		}
	}

	if s.deps.Payments == nil {
		return false, nil
	}
	return s.deps.Payments.HasSucceededPayment(ctx, tx, o.OrderID)
}

func (s *Service) record(action, orderID, actorType, actorID string, details map[string]any) {
	if s.deps.Audit == nil {
		return
	}
	s.deps.Audit.Record(audit.Entry{
		EntityType: audit.EntityOrder,
		EntityID:   orderID,
		Action:     action,
		ActorType:  actorType,
		ActorID:    actorID,
		Details:    details,
		OccurredAt: s.now(),
	})
}

// Get retrieves an order by its ID
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.db.GetOrder(ctx, orderID)
}

// GetForPrincipal returns the order when p is its customer, its provider or
// an admin.
func (s *Service) GetForPrincipal(ctx context.Context, orderID string, p auth.Principal) (*Order, error) {
	o, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p.IsAdmin() || o.CustomerID == p.UserID || (p.Role == auth.RoleProvider && o.ProviderID == p.ProviderID) {
		return o, nil
	}
	return nil, apperr.Forbidden("not allowed to view order " + orderID)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	return s.db.ListByCustomer(ctx, customerID)
}

// ListByProvider lists a provider's orders, optionally filtered by status.
func (s *Service) ListByProvider(ctx context.Context, providerID, status string) ([]Order, error) {
	var filter *Status
	if status != "" {
		parsed, err := ParseStatus(status)
		if err != nil {
			return nil, err
		}
		filter = &parsed
	}
	return s.db.ListByProvider(ctx, providerID, filter)
}

// GetDB exposes the order store to packages that lock orders themselves.
func (s *Service) GetDB() *Database {
	return s.db
}
