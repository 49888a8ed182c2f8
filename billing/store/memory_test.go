package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-tracker/billing"
	"github.com/warp/fee-tracker/billing/store"
)

func monthlyPayment(client billing.ClientID, received billing.Date, start, end billing.Period) billing.PaymentRecord {
	return billing.PaymentRecord{
		ClientID:     client,
		ContractID:   1,
		ReceivedDate: received,
		ActualFee:    decimal.NewFromInt(100),
		Schedule:     billing.ScheduleMonthly,
		Span:         billing.Span{Start: start, End: end},
	}
}

func newMemory() *store.Memory {
	m := store.NewMemory()
	m.PutClient(billing.BillingProfile{ClientID: 1, Schedule: billing.ScheduleMonthly, Fee: billing.FlatFee(decimal.NewFromInt(100))}, 10)
	return m
}

func TestMemory_LastPaidPeriod(t *testing.T) {
	// GIVEN: payments covering Jan and Feb-Mar 2024, recorded out of order
	// THEN: the last paid period is Mar 2024

	ctx := context.Background()
	m := newMemory()

	last, err := m.LastPaidPeriod(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = m.CreatePayment(ctx, monthlyPayment(1, billing.NewDate(2024, time.April, 2), billing.Month(2, 2024), billing.Month(3, 2024)))
	require.NoError(t, err)
	_, err = m.CreatePayment(ctx, monthlyPayment(1, billing.NewDate(2024, time.February, 1), billing.Month(1, 2024), billing.Month(1, 2024)))
	require.NoError(t, err)

	last, err = m.LastPaidPeriod(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, billing.Month(3, 2024), *last)
}

func TestMemory_UpdateIsVersioned(t *testing.T) {
	ctx := context.Background()
	m := newMemory()

	orig, err := m.CreatePayment(ctx, monthlyPayment(1, billing.NewDate(2024, time.February, 1), billing.Month(1, 2024), billing.Month(1, 2024)))
	require.NoError(t, err)

	changed := orig.Record
	changed.ActualFee = decimal.NewFromInt(250)
	updated, err := m.UpdatePayment(ctx, orig.ID, changed)
	require.NoError(t, err)
	assert.NotEqual(t, orig.ID, updated.ID)

	old, err := m.GetPayment(ctx, orig.ID)
	require.NoError(t, err)
	assert.Nil(t, old, "old version is soft-deleted")

	got, err := m.GetPayment(ctx, updated.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Record.ActualFee.Equal(decimal.NewFromInt(250)))

	_, err = m.UpdatePayment(ctx, orig.ID, changed)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestMemory_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	m := newMemory()

	var ids []billing.PaymentID
	for month := 1; month <= 5; month++ {
		p, err := m.CreatePayment(ctx, monthlyPayment(1, billing.NewDate(2024, time.Month(month+1), 1), billing.Month(month, 2024), billing.Month(month, 2024)))
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}
	require.NoError(t, m.DeletePayment(ctx, ids[4]))
	assert.ErrorIs(t, m.DeletePayment(ctx, ids[4]), billing.ErrNotFound)

	page, total, err := m.ListPayments(ctx, 1, billing.NewPage(1, 3))
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 3)
	assert.Equal(t, ids[3], page[0].ID, "newest first")

	page, _, err = m.ListPayments(ctx, 1, billing.NewPage(2, 3))
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)

	page, _, err = m.ListPayments(ctx, 1, billing.NewPage(9, 3))
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestMemory_DirectoryLookups(t *testing.T) {
	ctx := context.Background()
	m := newMemory()

	_, err := m.BillingProfile(ctx, 2)
	assert.True(t, billing.IsNotFound(err))

	c, ok, err := m.ActiveContract(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, billing.ContractID(10), c)

	m.PutClient(billing.BillingProfile{ClientID: 1, Schedule: billing.ScheduleMonthly}, 0)
	_, ok, err = m.ActiveContract(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_PreparerEndToEnd(t *testing.T) {
	// GIVEN: the memory store as the preparer's directory
	// WHEN: a payment is prepared and stored, then status is computed
	// THEN: the client is Paid as of the following month

	ctx := context.Background()
	m := newMemory()
	preparer := billing.NewPreparer(m)

	rec, err := preparer.Prepare(ctx, billing.PaymentRequest{
		ClientID:     1,
		ReceivedDate: "2024-03-03",
		ActualFee:    decimal.NewNullDecimal(decimal.NewFromInt(100)),
		Period:       "Feb 2024",
	})
	require.NoError(t, err)
	_, err = m.CreatePayment(ctx, rec)
	require.NoError(t, err)

	last, err := m.LastPaidPeriod(ctx, 1)
	require.NoError(t, err)

	status, err := billing.DetermineStatus(billing.StatusInput{Schedule: billing.ScheduleMonthly, LastPaid: last}, billing.NewDate(2024, time.March, 20))
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, status)
}
