package billing

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day with no time-of-day
// =============================================================================

// DateLayout is the ISO date format accepted on input and used for storage.
const DateLayout = "2006-01-02"

// Date is a calendar day in UTC. The billing engine never reads the clock:
// every "today" is a Date handed in by the caller.
type Date struct {
	time.Time
}

// NewDate returns midnight UTC of the given day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate accepts strictly YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) String() string { return d.Time.Format(DateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", s, err)
	}
	*d = parsed
	return nil
}

// =============================================================================
// PERIOD ARITHMETIC
// =============================================================================

// PeriodContaining returns the period of the schedule that contains the day.
func PeriodContaining(day Date, schedule Schedule) Period {
	switch schedule {
	case ScheduleMonthly:
		return Month(int(day.Month()), day.Year())
	case ScheduleQuarterly:
		return Quarter((int(day.Month())-1)/3+1, day.Year())
	default:
		return Period{}
	}
}

// MostRecentCompletedPeriod is the cutoff period: the one immediately before
// the period containing today. A period only counts as billable once the
// calendar has fully moved past it. Unknown schedules yield the zero Period.
func MostRecentCompletedPeriod(today Date, schedule Schedule) Period {
	current := PeriodContaining(today, schedule)
	if !current.Valid() {
		return Period{}
	}
	return PreviousPeriod(current)
}

// NextPeriod steps one period forward, wrapping Dec→Jan and Q4→Q1 into the
// next year.
func NextPeriod(p Period) Period {
	if p.Index >= p.Schedule.PeriodsPerYear() {
		return Period{Schedule: p.Schedule, Index: 1, Year: p.Year + 1}
	}
	return Period{Schedule: p.Schedule, Index: p.Index + 1, Year: p.Year}
}

// PreviousPeriod steps one period back, wrapping Jan→Dec and Q1→Q4 into the
// previous year.
func PreviousPeriod(p Period) Period {
	if p.Index <= 1 {
		return Period{Schedule: p.Schedule, Index: p.Schedule.PeriodsPerYear(), Year: p.Year - 1}
	}
	return Period{Schedule: p.Schedule, Index: p.Index - 1, Year: p.Year}
}

// CountPeriods is the inclusive number of periods in the span:
// (end.Year-start.Year)*perYear + (end.Index-start.Index) + 1.
func CountPeriods(span Span) int {
	return span.End.ordinal() - span.Start.ordinal() + 1
}

// EnumeratePeriods lists every period from "from" to "to" inclusive,
// ascending. It is empty when from is after to or the schedules differ.
func EnumeratePeriods(from, to Period) []Period {
	if from.Schedule != to.Schedule || !from.Valid() || !to.Valid() || from.After(to) {
		return []Period{}
	}
	periods := make([]Period, 0, to.ordinal()-from.ordinal()+1)
	for p := from; !p.After(to); p = NextPeriod(p) {
		periods = append(periods, p)
	}
	return periods
}

// FormatPeriods renders each period with FormatPeriod.
func FormatPeriods(periods []Period) []string {
	labels := make([]string, len(periods))
	for i, p := range periods {
		labels[i] = FormatPeriod(p)
	}
	return labels
}
