// Package exchange maps report dates onto monthly exchange-rate periods and
// converts amounts using a caller-supplied rate table.
package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultLookback bounds how many months a missing rate may fall back.
const DefaultLookback = 12

type Period struct {
	Year  int
	Month time.Month
}

func PeriodOf(d time.Time) Period {
	return Period{Year: d.Year(), Month: d.Month()}
}

// String renders YYYYMM, the key format of the rate table.
func (p Period) String() string {
	return fmt.Sprintf("%04d%02d", p.Year, int(p.Month))
}

func (p Period) Prev() Period {
	if p.Month == time.January {
		return Period{Year: p.Year - 1, Month: time.December}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// RateFunc returns the rate that converts one unit of currency into the
// reporting currency for the given period.
type RateFunc func(currency string, period Period) (decimal.Decimal, bool)

type Resolver struct {
	rates     RateFunc
	reporting string
	lookback  int
}

func NewResolver(reportingCurrency string, rates RateFunc) *Resolver {
	return &Resolver{
		rates:     rates,
		reporting: strings.ToUpper(strings.TrimSpace(reportingCurrency)),
		lookback:  DefaultLookback,
	}
}

func (r *Resolver) ReportingCurrency() string { return r.reporting }

// Resolve finds the rate for the period containing d. When that period has no
// published rate it walks back month by month, never forward.
func (r *Resolver) Resolve(currency string, d time.Time) (decimal.Decimal, Period, bool) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	p := PeriodOf(d)
	if currency == "" || currency == r.reporting {
		return decimal.NewFromInt(1), p, true
	}
	if r.rates == nil {
		return decimal.Zero, p, false
	}
	for i := 0; i <= r.lookback; i++ {
		if rate, ok := r.rates(currency, p); ok && rate.IsPositive() {
			return rate, p, true
		}
		p = p.Prev()
	}
	return decimal.Zero, PeriodOf(d), false
}

func (r *Resolver) Convert(amount decimal.Decimal, currency string, d time.Time) (decimal.Decimal, bool) {
	rate, _, ok := r.Resolve(currency, d)
	if !ok {
		return amount, false
	}
	return amount.Mul(rate), true
}

// MapRates serves a RateFunc from a preloaded CURRENCY -> YYYYMM -> rate table.
func MapRates(table map[string]map[string]decimal.Decimal) RateFunc {
	return func(currency string, period Period) (decimal.Decimal, bool) {
		byPeriod, ok := table[currency]
		if !ok {
			return decimal.Zero, false
		}
		rate, ok := byPeriod[period.String()]
		return rate, ok
	}
}
