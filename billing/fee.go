/*
fee.go - Expected fee calculation

PURPOSE:
  Derives the fee a client is expected to pay for a number of billing periods
  from the client's fee structure.

FEE MODELS:
  Percentage: fee = totalAssets * rate * periods
              rate is a fraction already (0.0075 means 0.75%).
              NEVER divide by 100 here; that was a defect of a legacy view.
  Flat:       fee = rate * periods
              rate is a currency amount per period.

  Results are rounded to cents (half away from zero).

UNAVAILABLE FEES:
  A fee that cannot be computed (no rate, or no assets for a percentage
  client) is a normal state for new clients, not a fault. CalculateFee
  returns a Fee with Available=false instead of an error so callers can
  render "fee pending".
*/
package billing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FeeType selects the fee model of a contract.
type FeeType string

const (
	FeePercentage FeeType = "percentage"
	FeeFlat       FeeType = "flat"
)

// ParseFeeType accepts "percentage" or "flat" in any letter case.
func ParseFeeType(s string) (FeeType, error) {
	switch FeeType(strings.ToLower(strings.TrimSpace(s))) {
	case FeePercentage:
		return FeePercentage, nil
	case FeeFlat:
		return FeeFlat, nil
	}
	return "", fmt.Errorf("%w: unknown fee type %q", ErrValidation, s)
}

// FeeSpec is a client's billing configuration. Rate is a fraction for
// percentage fees and an amount per period for flat fees.
type FeeSpec struct {
	Type FeeType
	Rate decimal.NullDecimal
}

// PercentageFee and FlatFee build fee specs with a known rate.
func PercentageFee(rate decimal.Decimal) FeeSpec {
	return FeeSpec{Type: FeePercentage, Rate: decimal.NewNullDecimal(rate)}
}

func FlatFee(amount decimal.Decimal) FeeSpec {
	return FeeSpec{Type: FeeFlat, Rate: decimal.NewNullDecimal(amount)}
}

// =============================================================================
// FEE - currency amount or "unavailable"
// =============================================================================

// Fee is the outcome of a fee calculation. When Available is false, Missing
// names the input that prevented it.
type Fee struct {
	Amount    decimal.Decimal
	Available bool
	Missing   string
}

func feeOf(amount decimal.Decimal) Fee {
	return Fee{Amount: amount.Round(2), Available: true}
}

// UnavailableFee is the "cannot compute yet" result.
func UnavailableFee(missing string) Fee {
	return Fee{Missing: missing}
}

// NullDecimal converts the fee to its storage form.
func (f Fee) NullDecimal() decimal.NullDecimal {
	if !f.Available {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(f.Amount)
}

// Err returns nil for available fees and an ErrComputationUnavailable
// wrapper otherwise.
func (f Fee) Err() error {
	if f.Available {
		return nil
	}
	return fmt.Errorf("%w: missing %s", ErrComputationUnavailable, f.Missing)
}

func (f Fee) String() string {
	if !f.Available {
		return "unavailable"
	}
	return f.Amount.StringFixed(2)
}

// MarshalJSON renders null for unavailable fees and a cents string otherwise.
func (f Fee) MarshalJSON() ([]byte, error) {
	if !f.Available {
		return []byte("null"), nil
	}
	return json.Marshal(f.Amount.StringFixed(2))
}

// CalculateFee computes the expected fee for numPeriods periods.
func CalculateFee(spec FeeSpec, totalAssets decimal.NullDecimal, numPeriods int) Fee {
	if numPeriods < 1 {
		return UnavailableFee("periods")
	}
	if !spec.Rate.Valid {
		return UnavailableFee("rate")
	}
	periods := decimal.NewFromInt(int64(numPeriods))

	switch spec.Type {
	case FeePercentage:
		if !totalAssets.Valid {
			return UnavailableFee("totalAssets")
		}
		return feeOf(totalAssets.Decimal.Mul(spec.Rate.Decimal).Mul(periods))
	case FeeFlat:
		return feeOf(spec.Rate.Decimal.Mul(periods))
	default:
		return UnavailableFee("feeType")
	}
}
