package sqlite_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fee-tracker/billing"
	"github.com/warp/fee-tracker/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:", sqlite.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedClient(t *testing.T, store *sqlite.Store, schedule billing.Schedule, fee billing.FeeSpec) (sqlite.Client, sqlite.Contract) {
	t.Helper()
	ctx := context.Background()

	provider, err := store.CreateProvider(ctx, "Fidelity")
	require.NoError(t, err)

	client, err := store.CreateClient(ctx, sqlite.Client{ProviderID: &provider.ID, DisplayName: "Acme 401k"})
	require.NoError(t, err)

	contract := sqlite.Contract{ClientID: client.ID, FeeType: fee.Type, Schedule: schedule}
	if fee.Type == billing.FeePercentage {
		contract.PercentRate = fee.Rate
	} else {
		contract.FlatRate = fee.Rate
	}
	contract, err = store.CreateContract(ctx, contract)
	require.NoError(t, err)
	return client, contract
}

func prepare(t *testing.T, store *sqlite.Store, req billing.PaymentRequest) billing.PaymentRecord {
	t.Helper()
	rec, err := billing.NewPreparer(store).Prepare(context.Background(), req)
	require.NoError(t, err)
	return rec
}

func money(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// =============================================================================
// CLIENT DIRECTORY
// =============================================================================

func TestStore_BillingProfile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	client, contract := seedClient(t, store, billing.ScheduleQuarterly, billing.PercentageFee(decimal.RequireFromString("0.0075")))

	profile, err := store.BillingProfile(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ScheduleQuarterly, profile.Schedule)
	assert.Equal(t, billing.FeePercentage, profile.Fee.Type)
	assert.Equal(t, "0.0075", profile.Fee.Rate.Decimal.String())

	id, ok, err := store.ActiveContract(ctx, client.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, contract.ID, id)

	_, err = store.BillingProfile(ctx, 999)
	assert.True(t, billing.IsNotFound(err))
}

func TestStore_NewContractClosesPrevious(t *testing.T) {
	// GIVEN: a monthly flat-fee client
	// WHEN: a quarterly contract is created
	// THEN: only the new contract is active and the profile follows it

	store := newTestStore(t)
	ctx := context.Background()
	client, first := seedClient(t, store, billing.ScheduleMonthly, billing.FlatFee(decimal.NewFromInt(500)))

	second, err := store.CreateContract(ctx, sqlite.Contract{
		ClientID: client.ID,
		FeeType:  billing.FeeFlat,
		FlatRate: money("1500"),
		Schedule: billing.ScheduleQuarterly,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	active, err := store.ActiveContractFor(ctx, client.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	profile, err := store.BillingProfile(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.ScheduleQuarterly, profile.Schedule)

	_, err = store.CreateContract(ctx, sqlite.Contract{ClientID: 999, FeeType: billing.FeeFlat, Schedule: billing.ScheduleMonthly})
	assert.ErrorIs(t, err, billing.ErrLookupFailure)
}

func TestStore_NoActiveContract(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	client, err := store.CreateClient(ctx, sqlite.Client{DisplayName: "No Contract LLC"})
	require.NoError(t, err)

	_, ok, err := store.ActiveContract(ctx, client.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.BillingProfile(ctx, client.ID)
	var lerr *billing.LookupError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "active contract", lerr.What)

	last, err := store.LastPaidPeriod(ctx, client.ID)
	require.NoError(t, err)
	assert.Nil(t, last)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestStore_CreatePayment_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	client, contract := seedClient(t, store, billing.ScheduleMonthly, billing.FlatFee(decimal.NewFromInt(5000)))
	notes := "catch-up"
	method := "Wire"

	rec := prepare(t, store, billing.PaymentRequest{
		ClientID:      client.ID,
		ReceivedDate:  "2024-03-04",
		ActualFee:     money("15000"),
		Method:        &method,
		Notes:         &notes,
		IsMultiPeriod: true,
		StartPeriod:   "Dec 2023",
		EndPeriod:     "Feb 2024",
	})
	stored, err := store.CreatePayment(ctx, rec)
	require.NoError(t, err)

	got, err := store.GetPayment(ctx, stored.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, contract.ID, got.Record.ContractID)
	assert.Equal(t, rec.Span, got.Record.Span)
	assert.Equal(t, rec.ReceivedDate, got.Record.ReceivedDate)
	assert.Equal(t, "15000.00", got.Record.ExpectedFee.Decimal.StringFixed(2))
	assert.True(t, got.Record.ActualFee.Equal(decimal.NewFromInt(15000)))
	assert.False(t, got.Record.TotalAssets.Valid)
	require.NotNil(t, got.Record.Method)
	assert.Equal(t, billing.MethodWire, *got.Record.Method)
	require.NotNil(t, got.Record.Notes)
	assert.Equal(t, "catch-up", *got.Record.Notes)

	applied := got.Record.Applied()
	assert.Nil(t, applied.StartQuarter)
	assert.Equal(t, 12, *applied.StartMonth)
}

func TestStore_LastPaidAndMetrics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	client, _ := seedClient(t, store, billing.ScheduleQuarterly, billing.PercentageFee(decimal.RequireFromString("0.0025")))

	last, err := store.LastPaidPeriod(ctx, client.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	for _, req := range []billing.PaymentRequest{
		{ClientID: client.ID, ReceivedDate: "2024-04-10", TotalAssets: money("800000"), ActualFee: money("2000"), Period: "Q1 2024"},
		{ClientID: client.ID, ReceivedDate: "2023-10-09", TotalAssets: money("700000"), ActualFee: money("1750"), Period: "Q3 2023"},
	} {
		_, err := store.CreatePayment(ctx, prepare(t, store, req))
		require.NoError(t, err)
	}

	last, err = store.LastPaidPeriod(ctx, client.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, billing.Quarter(1, 2024), *last)

	m, err := store.Metrics(ctx, client.ID)
	require.NoError(t, err)
	require.NotNil(t, m.LastPaymentDate)
	assert.Equal(t, "2024-04-10", m.LastPaymentDate.String())
	assert.Equal(t, "2000", m.LastPaymentAmount.Decimal.String())
	assert.Equal(t, "800000", m.LastRecordedAssets.Decimal.String())
	assert.Equal(t, "2000", m.TotalYTDPayments.String(), "only 2024 payments count")

	profile, err := store.BillingProfile(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, "800000", profile.LastRecordedAssets.Decimal.String())
}

func TestStore_UpdatePaymentIsVersioned(t *testing.T) {
	// GIVEN: a stored payment for Jan 2024
	// WHEN: it is corrected to cover Jan-Mar 2024
	// THEN: a new row replaces it, the old id is gone and last paid moves

	store := newTestStore(t)
	ctx := context.Background()
	client, _ := seedClient(t, store, billing.ScheduleMonthly, billing.FlatFee(decimal.NewFromInt(100)))

	orig, err := store.CreatePayment(ctx, prepare(t, store, billing.PaymentRequest{
		ClientID: client.ID, ReceivedDate: "2024-02-01", ActualFee: money("100"), Period: "Jan 2024",
	}))
	require.NoError(t, err)

	corrected := prepare(t, store, billing.PaymentRequest{
		ClientID: client.ID, ReceivedDate: "2024-02-01", ActualFee: money("300"),
		IsMultiPeriod: true, StartPeriod: "Jan 2024", EndPeriod: "Mar 2024",
	})
	updated, err := store.UpdatePayment(ctx, orig.ID, corrected)
	require.NoError(t, err)
	assert.NotEqual(t, orig.ID, updated.ID)

	old, err := store.GetPayment(ctx, orig.ID)
	require.NoError(t, err)
	assert.Nil(t, old)

	payments, total, err := store.ListPayments(ctx, client.ID, billing.NewPage(1, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, payments, 1)
	assert.Equal(t, updated.ID, payments[0].ID)

	last, err := store.LastPaidPeriod(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.Month(3, 2024), *last)

	_, err = store.UpdatePayment(ctx, orig.ID, corrected)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestStore_DeletePaymentRecomputesMetrics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	client, _ := seedClient(t, store, billing.ScheduleMonthly, billing.FlatFee(decimal.NewFromInt(100)))

	jan, err := store.CreatePayment(ctx, prepare(t, store, billing.PaymentRequest{
		ClientID: client.ID, ReceivedDate: "2024-02-01", ActualFee: money("100"), Period: "Jan 2024",
	}))
	require.NoError(t, err)
	feb, err := store.CreatePayment(ctx, prepare(t, store, billing.PaymentRequest{
		ClientID: client.ID, ReceivedDate: "2024-03-01", ActualFee: money("100"), Period: "Feb 2024",
	}))
	require.NoError(t, err)

	require.NoError(t, store.DeletePayment(ctx, feb.ID))
	assert.ErrorIs(t, store.DeletePayment(ctx, feb.ID), billing.ErrNotFound)

	last, err := store.LastPaidPeriod(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.Month(1, 2024), *last)

	require.NoError(t, store.DeletePayment(ctx, jan.ID))
	last, err = store.LastPaidPeriod(ctx, client.ID)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestStore_ListPaymentsPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	client, _ := seedClient(t, store, billing.ScheduleMonthly, billing.FlatFee(decimal.NewFromInt(100)))

	for month := 1; month <= 12; month++ {
		p := billing.Month(month, 2023)
		next := billing.NextPeriod(p)
		_, err := store.CreatePayment(ctx, prepare(t, store, billing.PaymentRequest{
			ClientID:     client.ID,
			ReceivedDate: fmt.Sprintf("%04d-%02d-01", next.Year, next.Index),
			ActualFee:    money("100"),
			Period:       p.String(),
		}))
		require.NoError(t, err)
	}

	page1, total, err := store.ListPayments(ctx, client.ID, billing.NewPage(1, 5))
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, page1, 5)
	assert.Equal(t, billing.Month(12, 2023), page1[0].Record.Span.Start, "newest first")

	page3, _, err := store.ListPayments(ctx, client.ID, billing.NewPage(3, 5))
	require.NoError(t, err)
	require.Len(t, page3, 2)
	assert.Equal(t, billing.Month(1, 2023), page3[1].Record.Span.Start)
}

// =============================================================================
// PROVIDERS AND SUMMARIES
// =============================================================================

func TestStore_ProvidersAggregate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	provider, err := store.CreateProvider(ctx, "Empower")
	require.NoError(t, err)
	_, err = store.CreateProvider(ctx, "Empower")
	assert.ErrorIs(t, err, billing.ErrValidation)

	for _, assets := range []string{"100000", "250000.50"} {
		client, err := store.CreateClient(ctx, sqlite.Client{ProviderID: &provider.ID, DisplayName: "Client " + assets})
		require.NoError(t, err)
		_, err = store.CreateContract(ctx, sqlite.Contract{
			ClientID: client.ID, FeeType: billing.FeePercentage,
			PercentRate: money("0.001"), Schedule: billing.ScheduleQuarterly,
		})
		require.NoError(t, err)
		_, err = store.CreatePayment(ctx, prepare(t, store, billing.PaymentRequest{
			ClientID: client.ID, ReceivedDate: "2024-04-02", TotalAssets: money(assets),
			ActualFee: money("100"), Period: "Q1 2024",
		}))
		require.NoError(t, err)
	}

	providers, err := store.ListProviders(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, 2, providers[0].ClientCount)
	assert.Equal(t, "350000.5", providers[0].TotalAssets.String())

	clients, err := store.ListClientsByProvider(ctx, provider.ID)
	require.NoError(t, err)
	assert.Len(t, clients, 2)
	assert.Equal(t, "Empower", clients[0].ProviderName)

	summaries, err := store.ClientSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.NotNil(t, summaries[0].Contract)
	assert.Equal(t, billing.Quarter(1, 2024), *summaries[0].Metrics.LastPaid)
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c, err := store.GetClient(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, c)

	p, err := store.GetProvider(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, p)

	s, err := store.ClientSummary(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, s)
}
