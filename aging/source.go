package aging

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Scope narrows a classification pass to one region and brand.
type Scope struct {
	Region string
	Brand  string
}

// StockRow is the tag-value stock of a product on one snapshot date.
type StockRow struct {
	ProductCode  string
	Category     string
	SeasonCode   string
	SnapshotDate time.Time
	Currency     string
	TagAmount    decimal.Decimal
}

// SalesRow is the sales of a product on one day (or one month for monthly sources).
type SalesRow struct {
	ProductCode  string
	Category     string
	SeasonCode   string
	SaleDate     time.Time
	Currency     string
	TagAmount    decimal.Decimal
	ActualAmount decimal.Decimal
}

// Source feeds the classifier with raw warehouse rows.
type Source interface {
	// SeasonCodes lists the distinct season codes present in stock data for scope.
	SeasonCodes(ctx context.Context, scope Scope) ([]string, error)
	// StockAsOf returns stock rows dated at or before date. Rows for more than one
	// date per product are allowed; the classifier keeps the latest one.
	StockAsOf(ctx context.Context, scope Scope, seasons []string, date time.Time) ([]StockRow, error)
	// Sales returns sales rows dated in [from, to].
	Sales(ctx context.Context, scope Scope, seasons []string, from, to time.Time) ([]SalesRow, error)
}

// ResolveLatest keeps, per product, the rows of the latest snapshot date at or
// before target. Rows dated after target are dropped.
func ResolveLatest(rows []StockRow, target time.Time) []StockRow {
	latest := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		if r.SnapshotDate.After(target) {
			continue
		}
		if d, ok := latest[r.ProductCode]; !ok || r.SnapshotDate.After(d) {
			latest[r.ProductCode] = r.SnapshotDate
		}
	}
	out := make([]StockRow, 0, len(latest))
	for _, r := range rows {
		if d, ok := latest[r.ProductCode]; ok && r.SnapshotDate.Equal(d) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProductCode < out[j].ProductCode })
	return out
}
