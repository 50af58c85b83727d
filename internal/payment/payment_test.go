package payment_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ksred/booking-api/internal/apperr"
	"github.com/ksred/booking-api/internal/audit"
	"github.com/ksred/booking-api/internal/database/dbtest"
	"github.com/ksred/booking-api/internal/order"
	"github.com/ksred/booking-api/internal/payment"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingSink) Record(e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func setup(t *testing.T) (*gorm.DB, *payment.Service, *recordingSink) {
	t.Helper()
	db := dbtest.Open(t, &order.Order{}, &payment.Payment{})
	sink := &recordingSink{}
	return db, payment.NewService(db, sink), sink
}

func insertOrder(t *testing.T, db *gorm.DB, id string, status order.Status) {
	t.Helper()
	require.NoError(t, db.Create(&order.Order{
		OrderID:    id,
		CustomerID: "USR_1",
		ProviderID: "PRV_1",
		ServiceID:  "SVC_1",
		Status:     status,
		TotalPrice: decimal.RequireFromString("80.25"),
	}).Error)
}

func orderStatus(t *testing.T, db *gorm.DB, id string) order.Status {
	t.Helper()
	o, err := order.NewDatabase(db).GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func TestPayOrder(t *testing.T) {
	db, svc, sink := setup(t)
	insertOrder(t, db, "ORD_1", order.StatusPending)

	res, err := svc.PayOrder(context.Background(), "ORD_1", "USR_1", "req-1")
	require.NoError(t, err)
	assert.False(t, res.AlreadyPaid)
	assert.True(t, res.RequestIDMatched)
	assert.Equal(t, payment.StatusSucceeded, res.Payment.Status)
	assert.True(t, res.Payment.Amount.Equal(decimal.RequireFromString("80.25")))
	assert.Equal(t, order.StatusPaid, orderStatus(t, db, "ORD_1"))

	require.Len(t, sink.entries, 1)
	assert.Equal(t, audit.ActionPaymentConfirmed, sink.entries[0].Action)
}

func TestPayOrderTwice(t *testing.T) {
	db, svc, sink := setup(t)
	ctx := context.Background()
	insertOrder(t, db, "ORD_1", order.StatusPending)

	first, err := svc.PayOrder(ctx, "ORD_1", "USR_1", "req-1")
	require.NoError(t, err)

	same, err := svc.PayOrder(ctx, "ORD_1", "USR_1", "req-1")
	require.NoError(t, err)
	assert.True(t, same.AlreadyPaid)
	assert.True(t, same.RequestIDMatched)
	assert.Equal(t, first.Payment.PaymentID, same.Payment.PaymentID)

	other, err := svc.PayOrder(ctx, "ORD_1", "USR_1", "req-2")
	require.NoError(t, err)
	assert.True(t, other.AlreadyPaid)
	assert.False(t, other.RequestIDMatched)
	assert.Equal(t, first.Payment.PaymentID, other.Payment.PaymentID)

	assert.Len(t, sink.entries, 1)

	var count int64
	require.NoError(t, db.Model(&payment.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPayOrderValidation(t *testing.T) {
	db, svc, _ := setup(t)
	ctx := context.Background()
	insertOrder(t, db, "ORD_PENDING", order.StatusPending)
	insertOrder(t, db, "ORD_CONFIRMED", order.StatusConfirmed)
	insertOrder(t, db, "ORD_ORPHAN", order.StatusPaid)

	_, err := svc.PayOrder(ctx, "ORD_PENDING", "USR_1", "   ")
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidRequestID))

	_, err = svc.PayOrder(ctx, "ORD_404", "USR_1", "req")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	_, err = svc.PayOrder(ctx, "ORD_PENDING", "USR_2", "req")
	assert.True(t, apperr.HasCode(err, apperr.CodeForbidden))
	assert.Equal(t, order.StatusPending, orderStatus(t, db, "ORD_PENDING"))

	_, err = svc.PayOrder(ctx, "ORD_CONFIRMED", "USR_1", "req")
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidStateTransition))

	_, err = svc.PayOrder(ctx, "ORD_ORPHAN", "USR_1", "req")
	assert.True(t, apperr.HasCode(err, apperr.CodePaymentNotFound))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestConcurrentPaymentsCreateOnePayment(t *testing.T) {
	db, svc, _ := setup(t)
	insertOrder(t, db, "ORD_1", order.StatusPending)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		fresh   int
		replays int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.PayOrder(context.Background(), "ORD_1", "USR_1", "req-1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.AlreadyPaid {
				replays++
			} else {
				fresh++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
	assert.Equal(t, 4, replays)
}

func TestRefundBookkeeping(t *testing.T) {
	db, svc, _ := setup(t)
	ctx := context.Background()
	insertOrder(t, db, "ORD_1", order.StatusPending)

	res, err := svc.PayOrder(ctx, "ORD_1", "USR_1", "req-1")
	require.NoError(t, err)

	paid, err := svc.HasSucceededPayment(ctx, nil, "ORD_1")
	require.NoError(t, err)
	assert.True(t, paid)

	require.NoError(t, svc.MarkRefunded(ctx, db, res.Payment.PaymentID))
	err = svc.MarkRefunded(ctx, db, res.Payment.PaymentID)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidStateTransition))

	paid, err = svc.HasSucceededPayment(ctx, nil, "ORD_1")
	require.NoError(t, err)
	assert.False(t, paid)

	unpaid, err := svc.HasSucceededPayment(ctx, nil, "ORD_404")
	require.NoError(t, err)
	assert.False(t, unpaid)
}

func TestGetByOrderID(t *testing.T) {
	db, svc, _ := setup(t)
	ctx := context.Background()
	insertOrder(t, db, "ORD_1", order.StatusPending)

	_, err := svc.GetByOrderID(ctx, "ORD_1")
	assert.True(t, apperr.HasCode(err, apperr.CodePaymentNotFound))

	_, err = svc.PayOrder(ctx, "ORD_1", "USR_1", "req-1")
	require.NoError(t, err)

	p, err := svc.GetByOrderID(ctx, "ORD_1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", p.RequestID)
}
