package refund_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ksred/booking-api/internal/apperr"
	"github.com/ksred/booking-api/internal/auth"
	"github.com/ksred/booking-api/internal/database/dbtest"
	"github.com/ksred/booking-api/internal/events"
	"github.com/ksred/booking-api/internal/order"
	"github.com/ksred/booking-api/internal/payment"
	"github.com/ksred/booking-api/internal/refund"
)

type fixture struct {
	db         *gorm.DB
	payments   *payment.Service
	refunds    *refund.Service
	dispatcher *events.Dispatcher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t, &order.Order{}, &payment.Payment{}, &refund.Refund{})
	dispatcher := events.NewDispatcher(1, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dispatcher.Close(ctx)
	})

	payments := payment.NewService(db, nil)
	return &fixture{
		db:         db,
		payments:   payments,
		refunds:    refund.NewService(db, payments, dispatcher),
		dispatcher: dispatcher,
	}
}

func (f *fixture) paidOrder(t *testing.T, id string) *payment.Payment {
	t.Helper()
	return f.paidOrderFor(t, id, "USR_1")
}

func (f *fixture) paidOrderFor(t *testing.T, id, customerID string) *payment.Payment {
	t.Helper()
	require.NoError(t, f.db.Create(&order.Order{
		OrderID:    id,
		CustomerID: customerID,
		ProviderID: "PRV_1",
		ServiceID:  "SVC_1",
		Status:     order.StatusPending,
		TotalPrice: decimal.RequireFromString("60.00"),
	}).Error)

	res, err := f.payments.PayOrder(context.Background(), id, customerID, "req-"+id)
	require.NoError(t, err)
	return res.Payment
}

func TestCreateRefund(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	p := f.paidOrder(t, "ORD_1")

	r, err := f.refunds.CreateRefund(ctx, "ORD_1", "Customer cancelled")
	require.NoError(t, err)
	assert.Equal(t, refund.StatusCompleted, r.Status)
	assert.Equal(t, p.PaymentID, r.PaymentID)
	assert.True(t, r.Amount.Equal(decimal.NewFromInt(60)))
	assert.NotNil(t, r.RefundedAt)

	stored, err := f.payments.GetByOrderID(ctx, "ORD_1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, stored.Status)
}

func TestCreateRefundIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.paidOrder(t, "ORD_1")

	first, err := f.refunds.CreateRefund(ctx, "ORD_1", "first")
	require.NoError(t, err)
	second, err := f.refunds.CreateRefund(ctx, "ORD_1", "second")
	require.NoError(t, err)

	assert.Equal(t, first.RefundID, second.RefundID)
	assert.Equal(t, "first", second.Reason)

	var count int64
	require.NoError(t, f.db.Model(&refund.Refund{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateRefundWithoutPayment(t *testing.T) {
	f := setup(t)

	_, err := f.refunds.CreateRefund(context.Background(), "ORD_UNPAID", "reason")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))

	_, err = f.refunds.GetByOrderID(context.Background(), "ORD_UNPAID")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}

func TestTriggerRunsAfterCommit(t *testing.T) {
	f := setup(t)
	f.paidOrder(t, "ORD_1")

	f.refunds.Trigger("ORD_1", "Provider rejected: closed")

	assert.Eventually(t, func() bool {
		r, err := f.refunds.GetByOrderID(context.Background(), "ORD_1")
		return err == nil && r.Status == refund.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRefundReads(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.paidOrderFor(t, "ORD_1", "USR_1")
	f.paidOrderFor(t, "ORD_2", "USR_2")

	mine, err := f.refunds.CreateRefund(ctx, "ORD_1", "mine")
	require.NoError(t, err)
	theirs, err := f.refunds.CreateRefund(ctx, "ORD_2", "theirs")
	require.NoError(t, err)

	list, err := f.refunds.ListByCustomer(ctx, "USR_1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.RefundID, list[0].RefundID)

	all, err := f.refunds.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	customer := auth.Principal{UserID: "USR_1", Role: auth.RoleCustomer}
	got, err := f.refunds.Get(ctx, mine.RefundID, customer)
	require.NoError(t, err)
	assert.Equal(t, "ORD_1", got.OrderID)

	_, err = f.refunds.Get(ctx, theirs.RefundID, customer)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	admin := auth.Principal{UserID: "USR_ADMIN", Role: auth.RoleAdmin}
	got, err = f.refunds.Get(ctx, theirs.RefundID, admin)
	require.NoError(t, err)
	assert.Equal(t, "ORD_2", got.OrderID)

	_, err = f.refunds.Get(ctx, "RFD_missing", admin)
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}
