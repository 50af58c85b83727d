package timeslot_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ksred/booking-api/internal/apperr"
	"github.com/ksred/booking-api/internal/database/dbtest"
	"github.com/ksred/booking-api/internal/order"
	"github.com/ksred/booking-api/internal/timeslot"
)

func setup(t *testing.T) (*gorm.DB, *timeslot.Allocator, *timeslot.TimeSlot) {
	t.Helper()
	db := dbtest.Open(t, &timeslot.TimeSlot{}, &order.Order{})
	alloc := timeslot.NewAllocator(db)

	start := time.Now().Add(24 * time.Hour)
	slot, err := alloc.Create(context.Background(), "PRV_1", start, start.Add(time.Hour))
	require.NoError(t, err)
	return db, alloc, slot
}

func statusOf(t *testing.T, alloc *timeslot.Allocator, slotID string) timeslot.Status {
	t.Helper()
	slot, err := alloc.Get(context.Background(), nil, slotID)
	require.NoError(t, err)
	return slot.Status
}

func insertHolder(t *testing.T, db *gorm.DB, slotID string, status order.Status) {
	t.Helper()
	id := slotID
	require.NoError(t, db.Create(&order.Order{
		OrderID:    "ORD_" + string(status),
		CustomerID: "USR_1",
		ProviderID: "PRV_1",
		ServiceID:  "SVC_1",
		TimeSlotID: &id,
		Status:     status,
		TotalPrice: decimal.NewFromInt(50),
	}).Error)
}

func TestBookOnlyOnce(t *testing.T) {
	_, alloc, slot := setup(t)
	ctx := context.Background()

	require.NoError(t, alloc.Book(ctx, nil, slot.SlotID))
	assert.Equal(t, timeslot.StatusBooked, statusOf(t, alloc, slot.SlotID))

	err := alloc.Book(ctx, nil, slot.SlotID)
	assert.True(t, apperr.HasCode(err, apperr.CodeSlotNotAvailable))
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
}

func TestBookMissingSlot(t *testing.T) {
	_, alloc, _ := setup(t)
	err := alloc.Book(context.Background(), nil, "SLT_missing")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}

func TestBookRolledBackWithTransaction(t *testing.T) {
	db, alloc, slot := setup(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := alloc.Book(context.Background(), tx, slot.SlotID); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, timeslot.StatusAvailable, statusOf(t, alloc, slot.SlotID))
}

func TestConcurrentBookHasSingleWinner(t *testing.T) {
	db, alloc, slot := setup(t)

	const racers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Transaction(func(tx *gorm.DB) error {
				return alloc.Book(context.Background(), tx, slot.SlotID)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperr.HasCode(err, apperr.CodeSlotNotAvailable):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, racers-1, conflicts)
}

func TestReleaseSafely(t *testing.T) {
	ctx := context.Background()

	t.Run("live order keeps slot booked", func(t *testing.T) {
		db, alloc, slot := setup(t)
		require.NoError(t, alloc.Book(ctx, nil, slot.SlotID))
		insertHolder(t, db, slot.SlotID, order.StatusPaid)

		require.NoError(t, alloc.ReleaseSafely(ctx, nil, slot.SlotID))
		assert.Equal(t, timeslot.StatusBooked, statusOf(t, alloc, slot.SlotID))
	})

	t.Run("cancelled holder releases", func(t *testing.T) {
		db, alloc, slot := setup(t)
		require.NoError(t, alloc.Book(ctx, nil, slot.SlotID))
		insertHolder(t, db, slot.SlotID, order.StatusCancelled)

		require.NoError(t, alloc.ReleaseSafely(ctx, nil, slot.SlotID))
		assert.Equal(t, timeslot.StatusAvailable, statusOf(t, alloc, slot.SlotID))
	})

	t.Run("missing slot is ignored", func(t *testing.T) {
		_, alloc, _ := setup(t)
		assert.NoError(t, alloc.ReleaseSafely(ctx, nil, "SLT_missing"))
	})
}

func TestCreateRejectsInvertedRange(t *testing.T) {
	_, alloc, _ := setup(t)
	now := time.Now()

	_, err := alloc.Create(context.Background(), "PRV_1", now, now)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidTimeRange))

	_, err = alloc.Create(context.Background(), "PRV_1", now, now.Add(-time.Minute))
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidTimeRange))
}

func TestListAvailable(t *testing.T) {
	_, alloc, slot := setup(t)
	ctx := context.Background()

	start := time.Now().Add(48 * time.Hour)
	second, err := alloc.Create(ctx, "PRV_1", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, alloc.Book(ctx, nil, slot.SlotID))

	slots, err := alloc.ListAvailable(ctx, "PRV_1")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, second.SlotID, slots[0].SlotID)
}
