package timeslot

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ksred/booking-api/internal/apperr"
	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/internal/types"
	"github.com/ksred/booking-api/pkg/response"
)

type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusBooked    Status = "BOOKED"
	StatusBlocked   Status = "BLOCKED"
)

type TimeSlot struct {
	gorm.Model `json:"-"`
	SlotID     string    `gorm:"uniqueIndex;size:64;not null" json:"slot_id"`
	ProviderID string    `gorm:"size:64;not null;index:idx_slots_provider_status,priority:1" json:"provider_id"`
	StartTime  time.Time `gorm:"not null" json:"start_time"`
	EndTime    time.Time `gorm:"not null" json:"end_time"`
	Status     Status    `gorm:"size:20;not null;index:idx_slots_provider_status,priority:2" json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Allocator owns slot state. Book and ReleaseSafely run inside the caller's
// transaction so a rolled back order also rolls back its booking.
type Allocator struct {
	db *gorm.DB
}

func NewAllocator(db *gorm.DB) *Allocator {
	return &Allocator{db: db}
}

func (a *Allocator) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return a.db.WithContext(ctx)
}

func (a *Allocator) lock(ctx context.Context, tx *gorm.DB, slotID string) (*TimeSlot, error) {
	var slot TimeSlot
	err := a.conn(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("slot_id = ?", slotID).
		First(&slot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("TimeSlot", slotID)
		}
		return nil, errors.Wrap(err, "lock time slot")
	}
	return &slot, nil
}

// Get loads a slot without locking it.
func (a *Allocator) Get(ctx context.Context, tx *gorm.DB, slotID string) (*TimeSlot, error) {
	var slot TimeSlot
	if err := a.conn(ctx, tx).Where("slot_id = ?", slotID).First(&slot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("TimeSlot", slotID)
		}
		return nil, errors.Wrap(err, "get time slot")
	}
	return &slot, nil
}

// Book marks an AVAILABLE slot BOOKED. The conditional update admits exactly
// one winner even on stores where the row lock is a no-op.
func (a *Allocator) Book(ctx context.Context, tx *gorm.DB, slotID string) error {
	slot, err := a.lock(ctx, tx, slotID)
	if err != nil {
		return err
	}
	if slot.Status != StatusAvailable {
		return apperr.Unavailable(apperr.CodeSlotNotAvailable, "time slot is not available: "+slotID)
	}

	res := a.conn(ctx, tx).Model(&TimeSlot{}).
		Where("slot_id = ? AND status = ?", slotID, StatusAvailable).
		Update("status", StatusBooked)
	if res.Error != nil {
		return errors.Wrap(res.Error, "book time slot")
	}
	if res.RowsAffected == 0 {
		return apperr.Unavailable(apperr.CodeSlotNotAvailable, "time slot is not available: "+slotID)
	}

	log.Debug().Str("slot_id", slotID).Msg("time slot booked")
	return nil
}

// ReleaseSafely returns a slot to AVAILABLE unless a live order still holds it.
// Cancelled orders keep their slot reference and do not count. A missing slot
// is logged and ignored.
func (a *Allocator) ReleaseSafely(ctx context.Context, tx *gorm.DB, slotID string) error {
	logger := log.With().Str("slot_id", slotID).Str("component", "slot_allocator").Logger()

	slot, err := a.lock(ctx, tx, slotID)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			logger.Warn().Msg("release requested for missing time slot")
			return nil
		}
		return err
	}

	var holders int64
	if err := a.conn(ctx, tx).Table("orders").
		Where("time_slot_id = ? AND status <> ? AND deleted_at IS NULL", slotID, "CANCELLED").
		Count(&holders).Error; err != nil {
		return errors.Wrap(err, "count slot holders")
	}
	if holders > 0 {
		logger.Info().Int64("holders", holders).Msg("time slot still referenced, not releasing")
		return nil
	}

	if slot.Status == StatusAvailable {
		return nil
	}
	if err := a.conn(ctx, tx).Model(&TimeSlot{}).
		Where("slot_id = ?", slotID).
		Update("status", StatusAvailable).Error; err != nil {
		return errors.Wrap(err, "release time slot")
	}

	logger.Debug().Msg("time slot released")
	return nil
}

// Create adds an AVAILABLE slot. end must be after start.
func (a *Allocator) Create(ctx context.Context, providerID string, start, end time.Time) (*TimeSlot, error) {
	if !end.After(start) {
		return nil, apperr.InvalidInput(apperr.CodeInvalidTimeRange, "end time must be after start time")
	}
	slot := &TimeSlot{
		SlotID:     "SLT_" + uuid.New().String(),
		ProviderID: providerID,
		StartTime:  start.UTC(),
		EndTime:    end.UTC(),
		Status:     StatusAvailable,
	}
	if err := a.db.WithContext(ctx).Create(slot).Error; err != nil {
		return nil, errors.Wrap(err, "create time slot")
	}
	return slot, nil
}

func (a *Allocator) ListAvailable(ctx context.Context, providerID string) ([]TimeSlot, error) {
	var slots []TimeSlot
	if err := a.db.WithContext(ctx).
		Where("provider_id = ? AND status = ?", providerID, StatusAvailable).
		Order("start_time ASC").
		Find(&slots).Error; err != nil {
		return nil, errors.Wrap(err, "list available slots")
	}
	return slots, nil
}

// GinHandlers contains HTTP handlers for slot endpoints
type GinHandlers struct {
	allocator *Allocator
}

func NewGinHandlers(allocator *Allocator) *GinHandlers {
	return &GinHandlers{allocator: allocator}
}

func (h *GinHandlers) ListAvailableHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		slots, err := h.allocator.ListAvailable(c.Request.Context(), c.Param("provider_id"))
		response.Handle(c, slots, err)
	}
}

func (h *GinHandlers) CreateSlotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		providerID := c.Param("provider_id")
		principal, ok := auth.PrincipalFrom(c)
		if !ok || !principal.OwnsProvider(providerID) {
			response.Forbidden(c, "not allowed to manage slots for this provider")
			return
		}

		var request types.SlotRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			response.ValidationFailed(c, err.Error())
			return
		}

		slot, err := h.allocator.Create(c.Request.Context(), providerID, request.StartTime, request.EndTime)
		if err != nil {
			response.Fail(c, err)
			return
		}
		response.Created(c, slot)
	}
}
