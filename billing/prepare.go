/*
prepare.go - Payment record preparation

PURPOSE:
  Turns a raw payment request into a normalized PaymentRecord ready for the
  store. Performs no writes.

STEPS:
  1. Required fields present, numeric fields non-negative
  2. receivedDate is an ISO date
  3. method (if present) is a known payment method
  4. Resolve the period span against the client's schedule
  5. Count periods
  6. Compute the expected fee when the request has none
  7. Resolve the active contract when the request has none
  8. Emit the record; the span is encoded at the storage boundary

  Steps 1-3 each fail with a *ValidationError listing every offending field
  of that step. Step 4 fails with a *ValidationError wrapping the
  *ParseError. Step 7 fails with a *LookupError.

COLLABORATORS:
  Preparer.Prepare fetches the billing profile and the active contract
  concurrently. Neither depends on the other. A failed contract lookup is
  reported only after the request itself proved valid, so callers always see
  request problems first.
*/
package billing

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// PaymentRequest is a raw payment as submitted by a caller. Absent numbers
// are null decimals. Period is used for single-period requests;
// StartPeriod and EndPeriod for multi-period requests.
type PaymentRequest struct {
	ClientID      ClientID            `json:"clientId"`
	ContractID    *ContractID         `json:"contractId,omitempty"`
	ReceivedDate  string              `json:"receivedDate"`
	TotalAssets   decimal.NullDecimal `json:"totalAssets"`
	ExpectedFee   decimal.NullDecimal `json:"expectedFee"`
	ActualFee     decimal.NullDecimal `json:"actualFee"`
	Method        *string             `json:"method,omitempty"`
	Notes         *string             `json:"notes,omitempty"`
	IsMultiPeriod bool                `json:"isMultiPeriod"`
	Period        string              `json:"period,omitempty"`
	StartPeriod   string              `json:"startPeriod,omitempty"`
	EndPeriod     string              `json:"endPeriod,omitempty"`
}

// =============================================================================
// PREPARER
// =============================================================================

// Preparer resolves collaborator data and prepares payment records.
type Preparer struct {
	Directory ClientDirectory
}

// NewPreparer creates a preparer backed by the given client directory.
func NewPreparer(dir ClientDirectory) *Preparer {
	return &Preparer{Directory: dir}
}

// Prepare validates the request, fetches the client's billing profile and
// (when contractId is absent) the active contract, and returns the
// normalized record.
func (p *Preparer) Prepare(ctx context.Context, req PaymentRequest) (PaymentRecord, error) {
	if err := ValidateRequest(req); err != nil {
		return PaymentRecord{}, err
	}

	var (
		profile     BillingProfile
		contractID  ContractID
		hasContract bool
		contractErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profile, err = p.Directory.BillingProfile(gctx, req.ClientID)
		return err
	})
	if req.ContractID == nil {
		g.Go(func() error {
			contractID, hasContract, contractErr = p.Directory.ActiveContract(gctx, req.ClientID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return PaymentRecord{}, err
	}

	rec, err := PrepareRecord(req, profile)
	if err != nil {
		return PaymentRecord{}, err
	}

	if req.ContractID == nil {
		if contractErr != nil {
			return PaymentRecord{}, contractErr
		}
		if !hasContract {
			return PaymentRecord{}, &LookupError{What: "active contract", ClientID: req.ClientID}
		}
		rec.ContractID = contractID
	}
	return rec, nil
}

// PrepareRecord runs every step except the contract lookup against an
// already fetched profile. ContractID is copied from the request and left
// zero when the request has none.
func PrepareRecord(req PaymentRequest, profile BillingProfile) (PaymentRecord, error) {
	if err := ValidateRequest(req); err != nil {
		return PaymentRecord{}, err
	}
	if !profile.Schedule.Valid() {
		return PaymentRecord{}, &LookupError{What: "payment schedule", ClientID: req.ClientID}
	}

	span, err := resolveSpan(req, profile.Schedule)
	if err != nil {
		return PaymentRecord{}, err
	}

	expected := req.ExpectedFee
	if !expected.Valid {
		expected = CalculateFee(profile.Fee, req.TotalAssets, span.Count()).NullDecimal()
	}

	// already validated; the error cannot occur
	received, _ := ParseDate(req.ReceivedDate)

	rec := PaymentRecord{
		ClientID:     req.ClientID,
		ReceivedDate: received,
		TotalAssets:  req.TotalAssets,
		ExpectedFee:  expected,
		ActualFee:    req.ActualFee.Decimal,
		Schedule:     profile.Schedule,
		Span:         span,
	}
	if req.ContractID != nil {
		rec.ContractID = *req.ContractID
	}
	if req.Method != nil && *req.Method != "" {
		m, _ := ParsePaymentMethod(*req.Method)
		rec.Method = &m
	}
	if req.Notes != nil {
		if notes := strings.TrimSpace(*req.Notes); notes != "" {
			rec.Notes = &notes
		}
	}
	return rec, nil
}

// =============================================================================
// VALIDATION - steps 1 to 3
// =============================================================================

// ValidateRequest checks the request fields that do not depend on the
// client. Every failing field is reported in one *ValidationError.
func ValidateRequest(req PaymentRequest) error {
	var fields []FieldError
	for _, check := range []func(PaymentRequest) []FieldError{
		checkRequired,
		checkDate,
		checkMethod,
	} {
		fields = append(fields, check(req)...)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func checkRequired(req PaymentRequest) []FieldError {
	var fields []FieldError
	if req.ClientID <= 0 {
		fields = append(fields, FieldError{Field: "clientId", Message: "clientId is required"})
	}
	if req.ReceivedDate == "" {
		fields = append(fields, FieldError{Field: "receivedDate", Message: "receivedDate is required"})
	}
	if !req.ActualFee.Valid {
		fields = append(fields, FieldError{Field: "actualFee", Message: "actualFee is required"})
	}

	for _, n := range []struct {
		field string
		value decimal.NullDecimal
	}{
		{"totalAssets", req.TotalAssets},
		{"expectedFee", req.ExpectedFee},
		{"actualFee", req.ActualFee},
	} {
		if n.value.Valid && n.value.Decimal.IsNegative() {
			fields = append(fields, FieldError{Field: n.field, Message: n.field + " cannot be negative"})
		}
	}
	return fields
}

// checkDate leaves a missing date to checkRequired.
func checkDate(req PaymentRequest) []FieldError {
	if req.ReceivedDate == "" {
		return nil
	}
	if _, err := ParseDate(req.ReceivedDate); err != nil {
		return []FieldError{{
			Field:   "receivedDate",
			Message: "receivedDate must be a date in YYYY-MM-DD format",
			Err:     err,
		}}
	}
	return nil
}

func checkMethod(req PaymentRequest) []FieldError {
	if req.Method == nil || *req.Method == "" {
		return nil
	}
	if _, ok := ParsePaymentMethod(*req.Method); !ok {
		return []FieldError{{
			Field:   "method",
			Message: "method " + quote(*req.Method) + " is not valid; must be one of: " + methodList(),
		}}
	}
	return nil
}

func quote(s string) string { return `"` + s + `"` }

// =============================================================================
// PERIOD RESOLUTION - step 4
// =============================================================================

func resolveSpan(req PaymentRequest, schedule Schedule) (Span, error) {
	if !req.IsMultiPeriod {
		p, ferr := parseField("period", req.Period, schedule)
		if ferr != nil {
			return Span{}, &ValidationError{Fields: []FieldError{*ferr}}
		}
		return SinglePeriod(p), nil
	}

	var fields []FieldError
	start, serr := parseField("startPeriod", req.StartPeriod, schedule)
	if serr != nil {
		fields = append(fields, *serr)
	}
	end, eerr := parseField("endPeriod", req.EndPeriod, schedule)
	if eerr != nil {
		fields = append(fields, *eerr)
	}
	if len(fields) > 0 {
		return Span{}, &ValidationError{Fields: fields}
	}

	span, err := NewSpan(start, end)
	if err != nil {
		return Span{}, &ValidationError{Fields: []FieldError{{
			Field:   "endPeriod",
			Message: "endPeriod " + end.String() + " is before startPeriod " + start.String(),
			Err:     err,
		}}}
	}
	return span, nil
}

func parseField(field, text string, schedule Schedule) (Period, *FieldError) {
	if text == "" {
		return Period{}, &FieldError{Field: field, Message: field + " is required"}
	}
	p, err := ParsePeriod(text, schedule)
	if err != nil {
		return Period{}, &FieldError{Field: field, Message: field + ": " + err.Error(), Err: err}
	}
	return p, nil
}
