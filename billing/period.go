/*
period.go - Billing periods and the period codec

PURPOSE:
  A Period is one billing interval: a month or a quarter of a year. Payments
  cover a contiguous Span of periods of a single schedule. This file holds the
  value types and the codec between them and the display strings users see.

DISPLAY FORMAT:
  Monthly:   "<Jan..Dec> <YYYY>"   e.g. "Jan 2024"
  Quarterly: "Q<1-4> <YYYY>"       e.g. "Q1 2024"

  Month abbreviations are case-sensitive. ParsePeriod(FormatPeriod(p),
  p.Schedule) == p for every valid p.

ORDERING:
  Periods of one schedule are totally ordered by (Year, Index). Comparing
  periods of different schedules is meaningless; Span and the arithmetic in
  calendar.go refuse to mix them.

SEE ALSO:
  - calendar.go: period arithmetic (cutoff, counting, enumeration)
  - encoding.go: flattening spans into the stored applied_* columns
*/
package billing

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// SCHEDULE - Billing cadence
// =============================================================================

// Schedule is a client's billing cadence. It is also the kind of a Period.
type Schedule string

const (
	ScheduleMonthly   Schedule = "monthly"
	ScheduleQuarterly Schedule = "quarterly"
)

// ParseSchedule accepts "monthly" or "quarterly" in any letter case.
func ParseSchedule(s string) (Schedule, error) {
	switch Schedule(strings.ToLower(strings.TrimSpace(s))) {
	case ScheduleMonthly:
		return ScheduleMonthly, nil
	case ScheduleQuarterly:
		return ScheduleQuarterly, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
}

// Valid reports whether s is a known schedule.
func (s Schedule) Valid() bool {
	return s == ScheduleMonthly || s == ScheduleQuarterly
}

// PeriodsPerYear is 12 for monthly and 4 for quarterly, 0 otherwise.
func (s Schedule) PeriodsPerYear() int {
	switch s {
	case ScheduleMonthly:
		return 12
	case ScheduleQuarterly:
		return 4
	default:
		return 0
	}
}

// =============================================================================
// PERIOD - One billing interval
// =============================================================================

// Period is a month (Index 1-12) or a quarter (Index 1-4) of Year.
// The zero Period is invalid.
type Period struct {
	Schedule Schedule
	Index    int
	Year     int
}

// NewPeriod builds a validated Period.
func NewPeriod(schedule Schedule, index, year int) (Period, error) {
	p := Period{Schedule: schedule, Index: index, Year: year}
	if !schedule.Valid() {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidSchedule, schedule)
	}
	if !p.Valid() {
		return Period{}, fmt.Errorf("%w: index %d out of range for %s year %d", ErrParse, index, schedule, year)
	}
	return p, nil
}

// Month returns the monthly period for month m (1-12) of year.
func Month(m, year int) Period { return Period{Schedule: ScheduleMonthly, Index: m, Year: year} }

// Quarter returns the quarterly period for quarter q (1-4) of year.
func Quarter(q, year int) Period { return Period{Schedule: ScheduleQuarterly, Index: q, Year: year} }

// Valid reports whether the index is in range for the schedule and the year
// has four digits.
func (p Period) Valid() bool {
	n := p.Schedule.PeriodsPerYear()
	return n > 0 && p.Index >= 1 && p.Index <= n && p.Year >= 1000 && p.Year <= 9999
}

// ordinal maps a period to a running count of periods since year 0.
func (p Period) ordinal() int {
	return p.Year*p.Schedule.PeriodsPerYear() + (p.Index - 1)
}

// Compare returns -1, 0 or +1 ordering p against o by (Year, Index).
// Both periods must share a schedule.
func (p Period) Compare(o Period) int {
	switch {
	case p.Year < o.Year:
		return -1
	case p.Year > o.Year:
		return 1
	case p.Index < o.Index:
		return -1
	case p.Index > o.Index:
		return 1
	default:
		return 0
	}
}

func (p Period) Before(o Period) bool { return p.Compare(o) < 0 }
func (p Period) After(o Period) bool  { return p.Compare(o) > 0 }

// String formats the period for display; see FormatPeriod.
func (p Period) String() string {
	return FormatPeriod(p)
}

// MarshalText encodes the period as its display string.
func (p Period) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: cannot encode %+v", ErrParse, p)
	}
	return []byte(FormatPeriod(p)), nil
}

// =============================================================================
// CODEC
// =============================================================================

var monthAbbrevs = [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// FormatPeriod renders "Jan 2024" for monthly and "Q1 2024" for quarterly
// periods. Invalid periods render as "invalid period".
func FormatPeriod(p Period) string {
	if !p.Valid() {
		return "invalid period"
	}
	if p.Schedule == ScheduleQuarterly {
		return fmt.Sprintf("Q%d %04d", p.Index, p.Year)
	}
	return fmt.Sprintf("%s %04d", monthAbbrevs[p.Index-1], p.Year)
}

// ParsePeriod converts a display string into a Period of the given schedule.
// Text that does not match the schedule's shape exactly, surrounding
// whitespace included, is a *ParseError.
func ParsePeriod(text string, schedule Schedule) (Period, error) {
	fail := func(reason string) (Period, error) {
		return Period{}, &ParseError{Text: text, Schedule: schedule, Reason: reason}
	}

	if !schedule.Valid() {
		return fail("unknown schedule")
	}

	label, yearText, ok := strings.Cut(text, " ")
	if !ok {
		return fail(expectedShape(schedule))
	}
	year, ok := parseYear(yearText)
	if !ok {
		return fail("year must have four digits")
	}

	switch schedule {
	case ScheduleMonthly:
		for i, abbrev := range monthAbbrevs {
			if label == abbrev {
				return Month(i+1, year), nil
			}
		}
		if strings.HasPrefix(label, "Q") {
			return fail(expectedShape(schedule))
		}
		return fail(fmt.Sprintf("unrecognized month %q", label))

	default:
		if len(label) != 2 || label[0] != 'Q' {
			return fail(expectedShape(schedule))
		}
		q := int(label[1] - '0')
		if q < 1 || q > 4 {
			return fail(fmt.Sprintf("quarter %q out of range 1-4", label[1:]))
		}
		return Quarter(q, year), nil
	}
}

func expectedShape(schedule Schedule) string {
	if schedule == ScheduleQuarterly {
		return `expected "Q<1-4> <YYYY>"`
	}
	return `expected "<Mon> <YYYY>"`
}

func parseYear(s string) (int, bool) {
	if len(s) != 4 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	year, err := strconv.Atoi(s)
	if err != nil || year < 1000 {
		return 0, false
	}
	return year, true
}

// =============================================================================
// SPAN - Contiguous inclusive range of periods
// =============================================================================

// Span is the inclusive range of same-schedule periods one payment covers.
// Start is never after End.
type Span struct {
	Start Period
	End   Period
}

// NewSpan validates and builds a span.
func NewSpan(start, end Period) (Span, error) {
	if !start.Valid() || !end.Valid() {
		return Span{}, fmt.Errorf("%w: span endpoints must be valid periods", ErrInvalidSpan)
	}
	if start.Schedule != end.Schedule {
		return Span{}, fmt.Errorf("%w: %s start with %s end", ErrScheduleMismatch, start.Schedule, end.Schedule)
	}
	if start.After(end) {
		return Span{}, fmt.Errorf("%w: %s is after %s", ErrInvalidSpan, start, end)
	}
	return Span{Start: start, End: end}, nil
}

// SinglePeriod returns the degenerate span (p, p).
func SinglePeriod(p Period) Span {
	return Span{Start: p, End: p}
}

// Schedule returns the span's shared schedule.
func (s Span) Schedule() Schedule { return s.Start.Schedule }

// Count is the inclusive number of periods in the span.
func (s Span) Count() int { return CountPeriods(s) }

// Periods lists every period in the span, ascending.
func (s Span) Periods() []Period { return EnumeratePeriods(s.Start, s.End) }

// Contains reports whether p falls inside the span.
func (s Span) Contains(p Period) bool {
	return p.Schedule == s.Schedule() && !p.Before(s.Start) && !p.After(s.End)
}

func (s Span) String() string {
	if s.Start == s.End {
		return s.Start.String()
	}
	return s.Start.String() + " - " + s.End.String()
}
