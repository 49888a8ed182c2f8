package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/fee-tracker/billing"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fakeDirectory struct {
	profiles  map[billing.ClientID]billing.BillingProfile
	contracts map[billing.ClientID]billing.ContractID
	lastPaid  map[billing.ClientID]billing.Period
	err       error
}

func (d *fakeDirectory) BillingProfile(_ context.Context, id billing.ClientID) (billing.BillingProfile, error) {
	if d.err != nil {
		return billing.BillingProfile{}, d.err
	}
	p, ok := d.profiles[id]
	if !ok {
		return billing.BillingProfile{}, &billing.LookupError{What: "client", ClientID: id}
	}
	return p, nil
}

func (d *fakeDirectory) ActiveContract(_ context.Context, id billing.ClientID) (billing.ContractID, bool, error) {
	c, ok := d.contracts[id]
	return c, ok, nil
}

func (d *fakeDirectory) LastPaidPeriod(_ context.Context, id billing.ClientID) (*billing.Period, error) {
	if p, ok := d.lastPaid[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func newPreparer() (*billing.Preparer, *fakeDirectory) {
	dir := &fakeDirectory{
		profiles: map[billing.ClientID]billing.BillingProfile{
			1: {ClientID: 1, Schedule: billing.ScheduleQuarterly, Fee: billing.PercentageFee(dec("0.0075"))},
			2: {ClientID: 2, Schedule: billing.ScheduleMonthly, Fee: billing.FlatFee(dec("5000"))},
			3: {ClientID: 3, Schedule: billing.ScheduleMonthly, Fee: billing.FeeSpec{Type: billing.FeePercentage}},
		},
		contracts: map[billing.ClientID]billing.ContractID{1: 11, 2: 22},
	}
	return billing.NewPreparer(dir), dir
}

func strPtr(s string) *string { return &s }

func validRequest() billing.PaymentRequest {
	return billing.PaymentRequest{
		ClientID:     1,
		ReceivedDate: "2024-04-15",
		TotalAssets:  nullDec("1000000"),
		ActualFee:    nullDec("7500"),
		Method:       strPtr("Check"),
		Period:       "Q1 2024",
	}
}

func requireFieldError(t *testing.T, err error, field string) billing.FieldError {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, billing.ErrValidation))

	var verr *billing.ValidationError
	require.True(t, errors.As(err, &verr), "want *ValidationError, got %T", err)
	f, ok := verr.Field(field)
	require.True(t, ok, "no error for %s in %v", field, verr.FieldNames())
	return f
}

// =============================================================================
// HAPPY PATHS
// =============================================================================

func TestPrepare_SinglePeriodComputesExpectedFee(t *testing.T) {
	// GIVEN: a quarterly 0.75% client with an active contract
	// WHEN: a single-period payment arrives without expectedFee or contractId
	// THEN: the fee and contract are filled in and quarterly fields are set

	preparer, _ := newPreparer()

	rec, err := preparer.Prepare(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, billing.ContractID(11), rec.ContractID)
	assert.Equal(t, billing.ScheduleQuarterly, rec.Schedule)
	assert.Equal(t, billing.SinglePeriod(billing.Quarter(1, 2024)), rec.Span)
	assert.Equal(t, 1, rec.NumPeriods())
	require.True(t, rec.ExpectedFee.Valid)
	assert.Equal(t, "7500.00", rec.ExpectedFee.Decimal.StringFixed(2))
	assert.Equal(t, day(2024, time.April, 15), rec.ReceivedDate)
	require.NotNil(t, rec.Method)
	assert.Equal(t, billing.MethodCheck, *rec.Method)

	applied := rec.Applied()
	assert.Nil(t, applied.StartMonth)
	assert.Nil(t, applied.EndMonthYear)
	require.NotNil(t, applied.StartQuarter)
	assert.Equal(t, 1, *applied.StartQuarter)
	assert.Equal(t, 2024, *applied.EndQuarterYear)
}

func TestPrepare_MultiPeriodFlat(t *testing.T) {
	preparer, _ := newPreparer()
	req := billing.PaymentRequest{
		ClientID:      2,
		ReceivedDate:  "2024-03-01",
		ActualFee:     nullDec("15000"),
		IsMultiPeriod: true,
		StartPeriod:   "Dec 2023",
		EndPeriod:     "Feb 2024",
	}

	rec, err := preparer.Prepare(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 3, rec.NumPeriods())
	assert.True(t, rec.IsMultiPeriod())
	assert.Equal(t, "15000.00", rec.ExpectedFee.Decimal.StringFixed(2))
	assert.Nil(t, rec.Method)

	applied := rec.Applied()
	assert.Equal(t, 12, *applied.StartMonth)
	assert.Equal(t, 2023, *applied.StartMonthYear)
	assert.Equal(t, 2, *applied.EndMonth)
	assert.Equal(t, 2024, *applied.EndMonthYear)
	assert.Nil(t, applied.StartQuarter)
	assert.Nil(t, applied.EndQuarterYear)
}

func TestPrepare_ExplicitExpectedFeeAndContractKept(t *testing.T) {
	preparer, _ := newPreparer()
	contract := billing.ContractID(99)
	req := validRequest()
	req.ExpectedFee = nullDec("7000")
	req.ContractID = &contract

	rec, err := preparer.Prepare(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, contract, rec.ContractID)
	assert.True(t, rec.ExpectedFee.Decimal.Equal(dec("7000")))
}

func TestPrepare_FeeUnavailableIsNotAnError(t *testing.T) {
	// GIVEN: a percentage client with no rate on file
	preparer, dir := newPreparer()
	dir.contracts[3] = 33
	req := billing.PaymentRequest{ClientID: 3, ReceivedDate: "2024-02-02", ActualFee: nullDec("10"), Period: "Jan 2024"}

	rec, err := preparer.Prepare(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, rec.ExpectedFee.Valid)
}

func TestPrepare_ACHAlias(t *testing.T) {
	preparer, _ := newPreparer()
	req := validRequest()
	req.Method = strPtr("ACH")

	rec, err := preparer.Prepare(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, billing.MethodACH, *rec.Method)
}

func TestPrepare_Idempotent(t *testing.T) {
	// GIVEN: identical inputs and identical lookup results
	// THEN: byte-identical records

	preparer, _ := newPreparer()
	req := validRequest()
	req.Notes = strPtr("  quarterly ")

	a, err := preparer.Prepare(context.Background(), req)
	require.NoError(t, err)
	b, err := preparer.Prepare(context.Background(), req)
	require.NoError(t, err)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))
	assert.Contains(t, string(ja), `"applied_start_month":null`)
	assert.Contains(t, string(ja), `"applied_start_quarter":1`)
	assert.Contains(t, string(ja), `"notes":"quarterly"`)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestPrepare_MissingReceivedDate(t *testing.T) {
	preparer, _ := newPreparer()
	req := validRequest()
	req.ReceivedDate = ""

	_, err := preparer.Prepare(context.Background(), req)
	requireFieldError(t, err, "receivedDate")
}

func TestPrepare_MissingRequiredFieldsAllReported(t *testing.T) {
	_, err := billing.NewPreparer(&fakeDirectory{}).Prepare(context.Background(), billing.PaymentRequest{})

	var verr *billing.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"clientId", "receivedDate", "actualFee"}, verr.FieldNames())
}

func TestPrepare_NegativeActualFee(t *testing.T) {
	preparer, _ := newPreparer()
	req := validRequest()
	req.ActualFee = nullDec("-100")

	_, err := preparer.Prepare(context.Background(), req)
	f := requireFieldError(t, err, "actualFee")
	assert.Contains(t, f.Message, "cannot be negative")
}

func TestPrepare_BadDate(t *testing.T) {
	preparer, _ := newPreparer()
	req := validRequest()
	req.ReceivedDate = "04/15/2024"

	_, err := preparer.Prepare(context.Background(), req)
	f := requireFieldError(t, err, "receivedDate")
	assert.Contains(t, f.Message, "YYYY-MM-DD")
}

func TestPrepare_BadDateAndMethodReportedTogether(t *testing.T) {
	preparer, _ := newPreparer()
	req := validRequest()
	req.ReceivedDate = "04/15/2024"
	req.Method = strPtr("Bogus")
	req.ActualFee = nullDec("-1")

	_, err := preparer.Prepare(context.Background(), req)

	var verr *billing.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"actualFee", "receivedDate", "method"}, verr.FieldNames())
}

func TestPrepare_DateIsStrictISO(t *testing.T) {
	preparer, _ := newPreparer()
	req := validRequest()
	req.ReceivedDate = " " + req.ReceivedDate + " "

	_, err := preparer.Prepare(context.Background(), req)
	requireFieldError(t, err, "receivedDate")
}

func TestPrepare_BogusMethodListsValidMethods(t *testing.T) {
	preparer, _ := newPreparer()
	req := validRequest()
	req.Method = strPtr("Bogus")

	_, err := preparer.Prepare(context.Background(), req)
	f := requireFieldError(t, err, "method")
	for _, m := range billing.PaymentMethods {
		assert.Contains(t, f.Message, string(m))
	}
}

func TestPrepare_PeriodErrors(t *testing.T) {
	preparer, _ := newPreparer()

	t.Run("missing single period", func(t *testing.T) {
		req := validRequest()
		req.Period = ""
		_, err := preparer.Prepare(context.Background(), req)
		requireFieldError(t, err, "period")
	})

	t.Run("monthly text for quarterly client", func(t *testing.T) {
		req := validRequest()
		req.Period = "Jan 2024"
		_, err := preparer.Prepare(context.Background(), req)
		f := requireFieldError(t, err, "period")
		assert.ErrorIs(t, err, billing.ErrParse)
		assert.ErrorIs(t, f.Err, billing.ErrParse)
	})

	t.Run("start after end", func(t *testing.T) {
		req := validRequest()
		req.IsMultiPeriod = true
		req.StartPeriod = "Q3 2024"
		req.EndPeriod = "Q1 2024"
		_, err := preparer.Prepare(context.Background(), req)
		requireFieldError(t, err, "endPeriod")
		assert.ErrorIs(t, err, billing.ErrInvalidSpan)
	})

	t.Run("multi period missing end", func(t *testing.T) {
		req := validRequest()
		req.IsMultiPeriod = true
		req.StartPeriod = "Q3 2024"
		_, err := preparer.Prepare(context.Background(), req)
		requireFieldError(t, err, "endPeriod")
	})
}

// =============================================================================
// LOOKUPS
// =============================================================================

func TestPrepare_UnknownClient(t *testing.T) {
	preparer, _ := newPreparer()
	req := validRequest()
	req.ClientID = 404

	_, err := preparer.Prepare(context.Background(), req)
	assert.ErrorIs(t, err, billing.ErrLookupFailure)
	assert.True(t, billing.IsNotFound(err))
}

func TestPrepare_NoActiveContract(t *testing.T) {
	preparer, _ := newPreparer()
	req := billing.PaymentRequest{ClientID: 3, ReceivedDate: "2024-02-02", ActualFee: nullDec("10"), Period: "Jan 2024"}

	_, err := preparer.Prepare(context.Background(), req)

	var lerr *billing.LookupError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "active contract", lerr.What)
	assert.Equal(t, billing.ClientID(3), lerr.ClientID)
}

func TestPrepare_ValidationBeforeLookup(t *testing.T) {
	// A bad request for a client without an active contract reports the
	// request problem, not the lookup.
	preparer, _ := newPreparer()
	req := billing.PaymentRequest{ClientID: 3, ReceivedDate: "2024-02-02", ActualFee: nullDec("10"), Period: "Q1 2024"}

	_, err := preparer.Prepare(context.Background(), req)
	requireFieldError(t, err, "period")
}

func TestPrepare_DirectoryErrorPropagates(t *testing.T) {
	boom := errors.New("database closed")
	preparer := billing.NewPreparer(&fakeDirectory{err: boom})

	_, err := preparer.Prepare(context.Background(), validRequest())
	assert.ErrorIs(t, err, boom)
	assert.False(t, billing.IsClientError(err))
}

func TestPrepareRecord_PureWithProfile(t *testing.T) {
	profile := billing.BillingProfile{ClientID: 7, Schedule: billing.ScheduleMonthly, Fee: billing.FlatFee(decimal.NewFromInt(250))}
	req := billing.PaymentRequest{ClientID: 7, ReceivedDate: "2024-07-01", ActualFee: nullDec("500"),
		IsMultiPeriod: true, StartPeriod: "May 2024", EndPeriod: "Jun 2024"}

	rec, err := billing.PrepareRecord(req, profile)
	require.NoError(t, err)
	assert.Equal(t, billing.ContractID(0), rec.ContractID)
	assert.Equal(t, "500.00", rec.ExpectedFee.Decimal.StringFixed(2))
}
