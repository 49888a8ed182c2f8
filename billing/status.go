/*
status.go - Paid/Due reconciliation

PURPOSE:
  Decides whether a client is current on payments as of a caller-supplied
  day and lists the periods still owed. Nothing is persisted; the status is
  recomputed from the last paid period on every call.

ALGORITHM:
  cutoff  = MostRecentCompletedPeriod(today, schedule)
  Paid    when lastPaid >= cutoff
  Due     when lastPaid <  cutoff, or when the client never paid
  missing = NextPeriod(lastPaid) .. cutoff, formatted

NEVER-PAID CLIENTS:
  A client with no payment has no "next period" to start counting from.
  With NeverPaidLookback == 0 the report is Due with NeverPaid=true and no
  specific periods listed. With N > 0 the N periods ending at the cutoff are
  listed, which is useful when onboarding clients mid-contract. The lookback
  is capped at MaxNeverPaidLookback.
*/
package billing

import "fmt"

// PaymentStatus is the derived Paid/Due state of a client.
type PaymentStatus string

const (
	StatusPaid PaymentStatus = "Paid"
	StatusDue  PaymentStatus = "Due"
)

// StatusInput is the minimal data needed to compute a status.
// LastPaid is nil when the client has never paid.
type StatusInput struct {
	Schedule Schedule
	LastPaid *Period
}

// StatusReport is the outcome of a status evaluation.
type StatusReport struct {
	Status         PaymentStatus `json:"status"`
	Cutoff         Period        `json:"cutoff"`
	LastPaid       *Period       `json:"last_paid,omitempty"`
	MissingPeriods []string      `json:"missing_periods"`
	NeverPaid      bool          `json:"never_paid"`
}

// MaxNeverPaidLookback bounds StatusEngine.NeverPaidLookback: ten years of
// monthly periods.
const MaxNeverPaidLookback = 120

// StatusEngine evaluates client statuses. The zero value is ready to use.
type StatusEngine struct {
	// NeverPaidLookback is how many periods ending at the cutoff are listed
	// as missing for a client with no payment at all. Zero lists none.
	NeverPaidLookback int
}

// Evaluate computes the status of one client as of today.
func (e StatusEngine) Evaluate(in StatusInput, today Date) (StatusReport, error) {
	if !in.Schedule.Valid() {
		return StatusReport{}, fmt.Errorf("%w: %q", ErrInvalidSchedule, in.Schedule)
	}
	if in.LastPaid != nil {
		if in.LastPaid.Schedule != in.Schedule {
			return StatusReport{}, fmt.Errorf("%w: last paid %s period for %s client",
				ErrScheduleMismatch, in.LastPaid.Schedule, in.Schedule)
		}
		if !in.LastPaid.Valid() {
			return StatusReport{}, fmt.Errorf("%w: last paid period %+v", ErrParse, *in.LastPaid)
		}
	}

	cutoff := MostRecentCompletedPeriod(today, in.Schedule)
	report := StatusReport{
		Status:         StatusPaid,
		Cutoff:         cutoff,
		MissingPeriods: []string{},
	}

	if in.LastPaid == nil {
		report.Status = StatusDue
		report.NeverPaid = true
		if n := min(e.NeverPaidLookback, MaxNeverPaidLookback); n > 0 {
			start := cutoff
			for i := 1; i < n; i++ {
				start = PreviousPeriod(start)
			}
			report.MissingPeriods = FormatPeriods(EnumeratePeriods(start, cutoff))
		}
		return report, nil
	}

	last := *in.LastPaid
	report.LastPaid = &last
	if last.Before(cutoff) {
		report.Status = StatusDue
		report.MissingPeriods = FormatPeriods(EnumeratePeriods(NextPeriod(last), cutoff))
	}
	return report, nil
}

// DetermineStatus reports Paid or Due with the default engine.
func DetermineStatus(in StatusInput, today Date) (PaymentStatus, error) {
	report, err := StatusEngine{}.Evaluate(in, today)
	if err != nil {
		return "", err
	}
	return report.Status, nil
}

// MissingPeriods lists the formatted periods owed as of today with the
// default engine. It is empty for Paid and for never-paid clients.
func MissingPeriods(in StatusInput, today Date) ([]string, error) {
	report, err := StatusEngine{}.Evaluate(in, today)
	if err != nil {
		return nil, err
	}
	return report.MissingPeriods, nil
}
