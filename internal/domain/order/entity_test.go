package order

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draftOrder(t *testing.T) *SalesOrder {
	t.Helper()
	o, err := NewSalesOrder("SO1", 9, []LineItem{
		{ProductID: 1, Quantity: 2, UnitPrice: 500},
		{ProductID: 2, Quantity: 1, UnitPrice: 300},
	}, "", time.Now())
	require.NoError(t, err)
	return o
}

func TestNewSalesOrder(t *testing.T) {
	o := draftOrder(t)
	assert.Equal(t, OrderStatusDraft, o.Status)
	assert.Equal(t, int64(1300), o.Total)
	assert.Equal(t, uint(1), o.Version)
	assert.True(t, o.IsOwnedBy(9))
}

func TestNewSalesOrder_Invalid(t *testing.T) {
	_, err := NewSalesOrder("SO1", 9, nil, "", time.Now())
	assert.ErrorIs(t, err, ErrInvalidOrderItems)

	_, err = NewSalesOrder("SO1", 9, []LineItem{{ProductID: 1, Quantity: 0}}, "", time.Now())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "quantity", verr.Field)
	assert.Equal(t, uint(1), verr.ProductID)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewSalesOrder("SO1", 9, []LineItem{{ProductID: 0, Quantity: 1}}, "", time.Now())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMergeItems(t *testing.T) {
	merged := MergeItems([]LineItem{
		{ProductID: 3, Quantity: 1, UnitPrice: 100},
		{ProductID: 1, Quantity: 2, UnitPrice: 200},
		{ProductID: 3, Quantity: 4, UnitPrice: 999},
	})
	assert.Equal(t, []LineItem{
		{ProductID: 3, Quantity: 5, UnitPrice: 100},
		{ProductID: 1, Quantity: 2, UnitPrice: 200},
	}, merged)
}

func TestSalesOrder_HappyPath(t *testing.T) {
	o := draftOrder(t)
	now := time.Now()

	require.NoError(t, o.StartValidation(now))
	assert.NotNil(t, o.ValidatingAt)

	refs := []ReservationRef{{ID: "r1", ProductID: 1, Quantity: 2}, {ID: "r2", ProductID: 2, Quantity: 1}}
	require.NoError(t, o.MarkReserved(refs, now))
	assert.True(t, o.HasReservations())

	require.NoError(t, o.BeginCommit(now))
	require.NoError(t, o.MarkCommitted(now))
	assert.Equal(t, OrderStatusCommitted, o.Status)
	assert.True(t, o.Status.IsTerminal())
	assert.NotNil(t, o.CommittedAt)
}

func TestSalesOrder_InvalidTransitions(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
	}{
		{"草稿不能直接预留", OrderStatusDraft, OrderStatusReserved},
		{"草稿不能直接提交", OrderStatusDraft, OrderStatusCommitted},
		{"校验中不能提交", OrderStatusValidating, OrderStatusCommitted},
		{"已提交不能取消", OrderStatusCommitted, OrderStatusCancelled},
		{"已取消不能再校验", OrderStatusCancelled, OrderStatusValidating},
		{"已预留不能回到草稿", OrderStatusReserved, OrderStatusDraft},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := draftOrder(t)
			o.Status = tt.from

			err := o.TransitionTo(tt.to, now)
			var terr *InvalidTransitionError
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, tt.from, terr.From)
			assert.Equal(t, tt.to, terr.To)
			assert.ErrorIs(t, err, ErrInvalidStatusTransition)
			assert.Equal(t, tt.from, o.Status)
		})
	}
}

func TestSalesOrder_CancelBlockedByCommit(t *testing.T) {
	o := draftOrder(t)
	now := time.Now()
	require.NoError(t, o.StartValidation(now))
	require.NoError(t, o.MarkReserved(nil, now))
	require.NoError(t, o.BeginCommit(now))

	err := o.Cancel("用户撤单", now)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	assert.Equal(t, OrderStatusReserved, o.Status)
	assert.Contains(t, err.Error(), "提交进行中")

	// 重复开始提交同样被拒绝
	assert.ErrorIs(t, o.BeginCommit(now), ErrInvalidStatusTransition)

	o.AbortCommit(now)
	require.NoError(t, o.Cancel("用户撤单", now))
	assert.Equal(t, OrderStatusCancelled, o.Status)
	assert.Equal(t, "用户撤单", o.FailureReason)
}

func TestSalesOrder_CancelFromEachState(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusDraft, OrderStatusValidating, OrderStatusReserved} {
		t.Run(s.String(), func(t *testing.T) {
			o := draftOrder(t)
			o.Status = s
			require.NoError(t, o.Cancel("x", time.Now()))
			assert.NotNil(t, o.CancelledAt)
		})
	}
}

func TestSalesOrder_Clone(t *testing.T) {
	o := draftOrder(t)
	now := time.Now()
	require.NoError(t, o.StartValidation(now))

	c := o.Clone()
	c.Items[0].Quantity = 99
	*c.ValidatingAt = now.Add(time.Hour)

	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.Equal(t, now, *o.ValidatingAt)
}

func TestGenerateOrderNo(t *testing.T) {
	a := GenerateOrderNo()
	assert.Regexp(t, `^SO\d+$`, a)
}
