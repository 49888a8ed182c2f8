package billing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	ClientID   int64
	ContractID int64
	PaymentID  int64
	ProviderID int64
)

// =============================================================================
// PAYMENT METHOD
// =============================================================================

// PaymentMethod is how a payment was received.
type PaymentMethod string

const (
	MethodACH     PaymentMethod = "Auto - ACH"
	MethodCheck   PaymentMethod = "Check"
	MethodWire    PaymentMethod = "Wire"
	MethodInvoice PaymentMethod = "Invoice"
)

// PaymentMethods lists the accepted methods in display order.
var PaymentMethods = []PaymentMethod{MethodACH, MethodCheck, MethodWire, MethodInvoice}

// ParsePaymentMethod matches a method exactly. "ACH" is accepted as the
// short form of "Auto - ACH".
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	if s == "ACH" {
		return MethodACH, true
	}
	for _, m := range PaymentMethods {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}

func methodList() string {
	names := make([]string, len(PaymentMethods))
	for i, m := range PaymentMethods {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// =============================================================================
// BILLING PROFILE - What the client directory knows about a client
// =============================================================================

// BillingProfile bundles a client's schedule and fee structure as found on
// the active contract. LastRecordedAssets is informational and is never used
// in place of a request's totalAssets.
type BillingProfile struct {
	ClientID           ClientID
	Schedule           Schedule
	Fee                FeeSpec
	LastRecordedAssets decimal.NullDecimal
}

// =============================================================================
// PAYMENT RECORD - Normalized payment ready for storage
// =============================================================================

// PaymentRecord is the output of the Preparer. Its Span always has the
// record's Schedule.
type PaymentRecord struct {
	ClientID     ClientID
	ContractID   ContractID
	ReceivedDate Date
	TotalAssets  decimal.NullDecimal
	ExpectedFee  decimal.NullDecimal
	ActualFee    decimal.Decimal
	Method       *PaymentMethod
	Notes        *string
	Schedule     Schedule
	Span         Span
}

// NumPeriods is the inclusive number of periods the payment covers.
func (r PaymentRecord) NumPeriods() int {
	return r.Span.Count()
}

// IsMultiPeriod reports whether the payment covers more than one period.
func (r PaymentRecord) IsMultiPeriod() bool {
	return r.Span.Start != r.Span.End
}

// Applied returns the storage encoding of the record's span.
func (r PaymentRecord) Applied() AppliedPeriods {
	return EncodeSpan(r.Span)
}

type paymentRecordJSON struct {
	ClientID     ClientID            `json:"client_id"`
	ContractID   ContractID          `json:"contract_id"`
	ReceivedDate Date                `json:"received_date"`
	TotalAssets  decimal.NullDecimal `json:"total_assets"`
	ExpectedFee  decimal.NullDecimal `json:"expected_fee"`
	ActualFee    decimal.Decimal     `json:"actual_fee"`
	Method       *PaymentMethod      `json:"method"`
	Notes        *string             `json:"notes"`
	Schedule     Schedule            `json:"schedule"`
	Period       string              `json:"period"`
	NumPeriods   int                 `json:"num_periods"`
	AppliedPeriods
}

// MarshalJSON flattens the span into its applied_* fields.
func (r PaymentRecord) MarshalJSON() ([]byte, error) {
	if r.Span.Schedule() != r.Schedule {
		return nil, fmt.Errorf("%w: %s span on %s record", ErrScheduleMismatch, r.Span.Schedule(), r.Schedule)
	}
	return json.Marshal(paymentRecordJSON{
		ClientID:       r.ClientID,
		ContractID:     r.ContractID,
		ReceivedDate:   r.ReceivedDate,
		TotalAssets:    r.TotalAssets,
		ExpectedFee:    r.ExpectedFee,
		ActualFee:      r.ActualFee,
		Method:         r.Method,
		Notes:          r.Notes,
		Schedule:       r.Schedule,
		Period:         r.Span.String(),
		NumPeriods:     r.NumPeriods(),
		AppliedPeriods: r.Applied(),
	})
}
