package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var displayPrinter = message.NewPrinter(language.English)

var hundred = decimal.NewFromInt(100)

// FormatCurrency renders an amount as US dollars with thousands separators,
// e.g. "$7,500.00". Negative amounts render as "-$100.00".
func FormatCurrency(amount decimal.Decimal) string {
	rounded := amount.Round(2)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	whole := rounded.Truncate(0)
	cents := rounded.Sub(whole).Mul(hundred).IntPart()
	return sign + "$" + displayPrinter.Sprintf("%d", whole.IntPart()) + fmt.Sprintf(".%02d", cents)
}

// FormatNullCurrency renders "N/A" for absent amounts.
func FormatNullCurrency(amount decimal.NullDecimal) string {
	if !amount.Valid {
		return "N/A"
	}
	return FormatCurrency(amount.Decimal)
}

// FormatPercentage renders a fractional rate as a percentage with up to four
// decimals and no trailing zeros beyond two: 0.0075 -> "0.75%", 0.01 -> "1.00%".
func FormatPercentage(rate decimal.Decimal) string {
	pct := rate.Mul(hundred).Round(4)
	s := pct.StringFixed(4)
	s = strings.TrimRight(s, "0")
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 < 2 {
		s += strings.Repeat("0", 2-(len(s)-i-1))
	}
	return s + "%"
}

// FormatDate renders a date as MM/DD/YYYY.
func FormatDate(d Date) string {
	return d.Time.Format("01/02/2006")
}

// FormatFeeStructure describes a fee spec for display, e.g. "0.75%" or
// "$5,000.00 per quarter".
func FormatFeeStructure(spec FeeSpec, schedule Schedule) string {
	if !spec.Rate.Valid {
		return "N/A"
	}
	switch spec.Type {
	case FeePercentage:
		return FormatPercentage(spec.Rate.Decimal)
	case FeeFlat:
		unit := "period"
		switch schedule {
		case ScheduleMonthly:
			unit = "month"
		case ScheduleQuarterly:
			unit = "quarter"
		}
		return FormatCurrency(spec.Rate.Decimal) + " per " + unit
	default:
		return "N/A"
	}
}
