package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/booking-api/internal/events"
	"github.com/ksred/booking-api/pkg/response"
)

// Actions recorded by the order lifecycle and payments.
const (
	ActionOrderCreated     = "ORDER_CREATED"
	ActionOrderAccepted    = "ORDER_ACCEPTED"
	ActionOrderRejected    = "ORDER_REJECTED"
	ActionOrderStarted     = "ORDER_STARTED"
	ActionOrderCompleted   = "ORDER_COMPLETED"
	ActionOrderCancelled   = "ORDER_CANCELLED"
	ActionPaymentConfirmed = "PAYMENT_CONFIRMED"
)

const EntityOrder = "ORDER"

// Actor types.
const (
	ActorCustomer = "CUSTOMER"
	ActorProvider = "PROVIDER"
	ActorSystem   = "SYSTEM"
)

type Log struct {
	gorm.Model `json:"-"`
	EntityType string    `gorm:"size:50;not null;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityID   string    `gorm:"size:64;not null;index:idx_audit_entity,priority:2" json:"entity_id"`
	Action     string    `gorm:"size:50;not null" json:"action"`
	ActorType  string    `gorm:"size:20" json:"actor_type"`
	ActorID    string    `gorm:"size:64" json:"actor_id"`
	Details    string    `gorm:"type:text" json:"details"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Log) TableName() string {
	return "audit_logs"
}

// Entry is one audit record before persistence.
type Entry struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	ActorType  string         `json:"actor_type"`
	ActorID    string         `json:"actor_id"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Publisher forwards entries to a message broker.
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// Service is a write-only audit sink. Record never fails the caller: entries
// are persisted and published on the dispatcher.
type Service struct {
	db         *gorm.DB
	dispatcher *events.Dispatcher
	publisher  Publisher
}

// NewService builds the sink. publisher may be nil.
func NewService(db *gorm.DB, dispatcher *events.Dispatcher, publisher Publisher) *Service {
	return &Service{
		db:         db,
		dispatcher: dispatcher,
		publisher:  publisher,
	}
}

// Record queues entry for persistence and publication.
func (s *Service) Record(entry Entry) {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}
	_ = s.dispatcher.Dispatch("audit."+strings.ToLower(entry.Action), func(ctx context.Context) error {
		return s.Write(ctx, entry)
	})
}

// Write persists entry and publishes it when a broker is configured.
func (s *Service) Write(ctx context.Context, entry Entry) error {
	details := "{}"
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return errors.Wrap(err, "marshal audit details")
		}
		details = string(b)
	}

	// A zero OccurredAt falls back to gorm's insert time.
	row := &Log{
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		ActorType:  entry.ActorType,
		ActorID:    entry.ActorID,
		Details:    details,
		CreatedAt:  entry.OccurredAt,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return errors.Wrap(err, "save audit log")
	}

	if s.publisher != nil {
		key := "audit." + strings.ToLower(entry.Action)
		if err := s.publisher.PublishJSON(ctx, key, entry); err != nil {
			log.Warn().Err(err).Str("routing_key", key).Msg("failed to publish audit event")
		}
	}
	return nil
}

// List returns the trail for one entity, oldest first.
func (s *Service) List(ctx context.Context, entityType, entityID string) ([]Log, error) {
	var logs []Log
	if err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id ASC").
		Find(&logs).Error; err != nil {
		return nil, errors.Wrap(err, "list audit logs")
	}
	return logs, nil
}

type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// OrderTrailHandler returns the audit trail of :order_id.
func (h *GinHandlers) OrderTrailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logs, err := h.service.List(c.Request.Context(), EntityOrder, c.Param("order_id"))
		response.Handle(c, logs, err)
	}
}
