/*
encoding.go - Storage encoding of period spans

PURPOSE:
  Stored payments carry their span as eight nullable integers: a monthly
  start/end pair and a quarterly start/end pair. Exactly one pair is
  populated, chosen by the payment schedule; the other four fields are
  always null. This file is the only place that knows about that layout.

COLUMNS:
  applied_start_month,   applied_start_month_year
  applied_end_month,     applied_end_month_year
  applied_start_quarter, applied_start_quarter_year
  applied_end_quarter,   applied_end_quarter_year
*/
package billing

import "fmt"

// AppliedPeriods is the flattened, nullable form of a Span.
type AppliedPeriods struct {
	StartMonth       *int `json:"applied_start_month"`
	StartMonthYear   *int `json:"applied_start_month_year"`
	EndMonth         *int `json:"applied_end_month"`
	EndMonthYear     *int `json:"applied_end_month_year"`
	StartQuarter     *int `json:"applied_start_quarter"`
	StartQuarterYear *int `json:"applied_start_quarter_year"`
	EndQuarter       *int `json:"applied_end_quarter"`
	EndQuarterYear   *int `json:"applied_end_quarter_year"`
}

func intPtr(v int) *int { return &v }

// EncodeSpan flattens a span into the schedule-appropriate fields and leaves
// the other schedule's fields nil.
func EncodeSpan(span Span) AppliedPeriods {
	var a AppliedPeriods
	switch span.Schedule() {
	case ScheduleMonthly:
		a.StartMonth = intPtr(span.Start.Index)
		a.StartMonthYear = intPtr(span.Start.Year)
		a.EndMonth = intPtr(span.End.Index)
		a.EndMonthYear = intPtr(span.End.Year)
	case ScheduleQuarterly:
		a.StartQuarter = intPtr(span.Start.Index)
		a.StartQuarterYear = intPtr(span.Start.Year)
		a.EndQuarter = intPtr(span.End.Index)
		a.EndQuarterYear = intPtr(span.End.Year)
	}
	return a
}

func (a AppliedPeriods) monthly() []*int {
	return []*int{a.StartMonth, a.StartMonthYear, a.EndMonth, a.EndMonthYear}
}

func (a AppliedPeriods) quarterly() []*int {
	return []*int{a.StartQuarter, a.StartQuarterYear, a.EndQuarter, a.EndQuarterYear}
}

func countSet(fields []*int) int {
	n := 0
	for _, f := range fields {
		if f != nil {
			n++
		}
	}
	return n
}

// Schedule infers which schedule's fields are populated. It returns false
// when neither or both sets carry values.
func (a AppliedPeriods) Schedule() (Schedule, bool) {
	m, q := countSet(a.monthly()), countSet(a.quarterly())
	switch {
	case m > 0 && q == 0:
		return ScheduleMonthly, true
	case q > 0 && m == 0:
		return ScheduleQuarterly, true
	default:
		return "", false
	}
}

// Decode rebuilds the span stored for the given schedule. It returns
// ok=false when no fields of that schedule are set, and an error when the
// fields are partial, mixed with the other schedule, or out of range.
func (a AppliedPeriods) Decode(schedule Schedule) (span Span, ok bool, err error) {
	var own, other []*int
	switch schedule {
	case ScheduleMonthly:
		own, other = a.monthly(), a.quarterly()
	case ScheduleQuarterly:
		own, other = a.quarterly(), a.monthly()
	default:
		return Span{}, false, fmt.Errorf("%w: %q", ErrInvalidSchedule, schedule)
	}

	if countSet(other) > 0 {
		return Span{}, false, fmt.Errorf("%w: %s payment carries other schedule's fields", ErrScheduleMismatch, schedule)
	}
	switch countSet(own) {
	case 0:
		return Span{}, false, nil
	case len(own):
	default:
		return Span{}, false, fmt.Errorf("%w: partially populated %s fields", ErrInvalidSpan, schedule)
	}

	span, err = NewSpan(
		Period{Schedule: schedule, Index: *own[0], Year: *own[1]},
		Period{Schedule: schedule, Index: *own[2], Year: *own[3]},
	)
	if err != nil {
		return Span{}, false, err
	}
	return span, true, nil
}

// DecodeLastPaid rebuilds a client's last paid period from the per-schedule
// index/year pairs kept in client metrics. It returns nil when the pair of
// the client's schedule is empty.
func DecodeLastPaid(schedule Schedule, month, monthYear, quarter, quarterYear *int) (*Period, error) {
	var index, year *int
	switch schedule {
	case ScheduleMonthly:
		index, year = month, monthYear
	case ScheduleQuarterly:
		index, year = quarter, quarterYear
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, schedule)
	}
	if index == nil || year == nil {
		return nil, nil
	}
	p, err := NewPeriod(schedule, *index, *year)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
