// Package pricing turns a booking request into the amounts charged to the
// parent and paid to the caregiver. All amounts are integer cents.
package pricing

import (
	"fmt"
	"math"
	"time"

	"nannynest/xerrors"

	"github.com/shopspring/decimal"
)

const (
	MinHoursPerDay = 1
	MaxHoursPerDay = 24
	// MaxDays bounds one booking to a year of care.
	MaxDays = 366
	// MaxRatePerHour is $1,000.00.
	MaxRatePerHour int64 = 100_000
)

// DefaultFeeRate is the platform service fee applied at booking creation.
var DefaultFeeRate = decimal.RequireFromString("0.15")

type Quote struct {
	Days            int    `json:"days"`
	HoursPerDay     int    `json:"hoursPerDay"`
	RatePerHour     int64  `json:"ratePerHour"`
	Subtotal        int64  `json:"subtotal"`
	ServiceFee      int64  `json:"serviceFee"`
	Total           int64  `json:"total"`
	CaregiverAmount int64  `json:"caregiverAmount"`
	FeeRate         string `json:"feeRate"`
}

type Calculator struct {
	feeRate decimal.Decimal
}

func NewCalculator(feeRate decimal.Decimal) (Calculator, error) {
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Calculator{}, fmt.Errorf("fee rate %s out of range [0,1)", feeRate)
	}
	return Calculator{feeRate: feeRate}, nil
}

func (c Calculator) FeeRate() decimal.Decimal { return c.feeRate }

// Quote prices hoursPerDay hours on every day from start to end inclusive.
func (c Calculator) Quote(start, end time.Time, hoursPerDay int, ratePerHour int64) (Quote, error) {
	if start.IsZero() {
		return Quote{}, xerrors.Invalid("startDate", "is required")
	}
	if end.IsZero() {
		return Quote{}, xerrors.Invalid("endDate", "is required")
	}
	if end.Before(start) {
		return Quote{}, xerrors.Invalid("endDate", "must not be before startDate")
	}
	if hoursPerDay < MinHoursPerDay || hoursPerDay > MaxHoursPerDay {
		return Quote{}, xerrors.Invalid("hoursPerDay", fmt.Sprintf("must be between %d and %d", MinHoursPerDay, MaxHoursPerDay))
	}
	if ratePerHour <= 0 {
		return Quote{}, xerrors.Invalid("ratePerHour", "must be positive")
	}
	if ratePerHour > MaxRatePerHour {
		return Quote{}, xerrors.Invalid("ratePerHour", "must be at most "+Format(MaxRatePerHour))
	}

	days := DaysInclusive(start, end)
	if days > MaxDays {
		return Quote{}, xerrors.Invalid("endDate", fmt.Sprintf("booking may span at most %d days", MaxDays))
	}
	subtotal := decimal.NewFromInt(int64(hoursPerDay)).
		Mul(decimal.NewFromInt(int64(days))).
		Mul(decimal.NewFromInt(ratePerHour))
	fee := subtotal.Mul(c.feeRate).Round(0)

	return Quote{
		Days:            days,
		HoursPerDay:     hoursPerDay,
		RatePerHour:     ratePerHour,
		Subtotal:        subtotal.IntPart(),
		ServiceFee:      fee.IntPart(),
		Total:           subtotal.Add(fee).IntPart(),
		CaregiverAmount: subtotal.IntPart(),
		FeeRate:         c.feeRate.String(),
	}, nil
}

// DaysInclusive counts calendar days from start to end, both included.
func DaysInclusive(start, end time.Time) int {
	s := truncateDay(start)
	e := truncateDay(end)
	return int(e.Sub(s).Hours()/24) + 1
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// CentsFromDollars converts a dollar amount from a JSON payload, rounding to
// the nearest cent. Amounts beyond int64 saturate rather than wrap.
func CentsFromDollars(v float64) int64 {
	c := decimal.NewFromFloat(v).Shift(2).Round(0)
	switch {
	case c.GreaterThan(maxCents):
		return math.MaxInt64
	case c.LessThan(minCents):
		return math.MinInt64
	}
	return c.IntPart()
}

// Format renders cents as "$1,234.50".
func Format(cents int64) string {
	d := decimal.New(cents, -2)
	s := d.StringFixed(2)
	neg := false
	if s[0] == '-' {
		neg, s = true, s[1:]
	}
	intPart, frac := s[:len(s)-3], s[len(s)-3:]
	var out []byte
	for i := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, intPart[i])
	}
	if neg {
		return "-$" + string(out) + frac
	}
	return "$" + string(out) + frac
}

// ParseDate accepts YYYY-MM-DD or RFC3339 and returns the UTC calendar day.
func ParseDate(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, xerrors.Invalid(field, "is required")
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, xerrors.Invalid(field, "must be a date (YYYY-MM-DD)")
	}
	return truncateDay(t), nil
}
