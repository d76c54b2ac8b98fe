package aging

import (
	"github.com/shopspring/decimal"
)

const (
	// MaxDisplayDays caps the rendered inventory-days figure.
	MaxDisplayDays = 999
	// OneYearDays is the threshold above which inventory-days is flagged.
	OneYearDays = 365
)

// stagnantRatio is the trailing-sales share of current stock below which stock
// is considered not moving.
var stagnantRatio = decimal.RequireFromString("0.001")

type DaysStatus string

const (
	DaysOK          DaysStatus = "ok"
	DaysNoSales     DaysStatus = "no_sales"
	DaysOverOneYear DaysStatus = "over_one_year"
)

// InventoryDays is current stock expressed in days of period sales. Value is nil
// when there were no period sales.
type InventoryDays struct {
	Value  *decimal.Decimal `json:"value"`
	Status DaysStatus       `json:"status"`
}

func ComputeInventoryDays(currentStock, periodSalesTag decimal.Decimal, periodDays int) InventoryDays {
	if !periodSalesTag.IsPositive() {
		return InventoryDays{Status: DaysNoSales}
	}
	raw := currentStock.Mul(decimal.NewFromInt(int64(periodDays))).Div(periodSalesTag)
	status := DaysOK
	if raw.GreaterThan(decimal.NewFromInt(OneYearDays)) {
		status = DaysOverOneYear
	}
	v := raw.Round(2)
	return InventoryDays{Value: &v, Status: status}
}

func (d InventoryDays) NoSales() bool { return d.Value == nil }

// Display renders the figure the way the dashboard shows it.
func (d InventoryDays) Display() string {
	if d.Value == nil {
		return "no sales"
	}
	if d.Value.GreaterThan(decimal.NewFromInt(MaxDisplayDays)) {
		return "999+"
	}
	return d.Value.Round(0).String()
}

// IsStagnant reports whether stock is present but trailing sales are zero or
// below 0.1% of it.
func IsStagnant(currentStock, trailingSales decimal.Decimal) bool {
	if !currentStock.IsPositive() {
		return false
	}
	if !trailingSales.IsPositive() {
		return true
	}
	return trailingSales.LessThan(currentStock.Mul(stagnantRatio))
}

// Record carries the aging figures of one product, category, bucket or the header.
type Record struct {
	BaseStock      decimal.Decimal     `json:"baseStock"`
	CurrentStock   decimal.Decimal     `json:"currentStock"`
	SalesTag       decimal.Decimal     `json:"salesTag"`
	SalesActual    decimal.Decimal     `json:"salesActual"`
	TrailingSales  decimal.Decimal     `json:"trailingSales"`
	Stagnant       bool                `json:"stagnant"`
	StagnantAmount decimal.Decimal     `json:"stagnantAmount"`
	Depleted       decimal.Decimal     `json:"depleted"`
	DiscountRate   decimal.NullDecimal `json:"discountRate"`
	InventoryDays  InventoryDays       `json:"inventoryDays"`

	// MoMChange and YoYPercent are only filled on bucket and header records.
	MoMChange  *decimal.Decimal `json:"momChange,omitempty"`
	YoYPercent *decimal.Decimal `json:"yoyPercent,omitempty"`
}

// add sums the additive figures of o into r. Ratios are left for finalize.
func (r *Record) add(o Record) {
	r.BaseStock = r.BaseStock.Add(o.BaseStock)
	r.CurrentStock = r.CurrentStock.Add(o.CurrentStock)
	r.SalesTag = r.SalesTag.Add(o.SalesTag)
	r.SalesActual = r.SalesActual.Add(o.SalesActual)
	r.TrailingSales = r.TrailingSales.Add(o.TrailingSales)
	r.StagnantAmount = r.StagnantAmount.Add(o.StagnantAmount)
}

// finalizeProduct decides stagnation from the product's own figures.
func (r *Record) finalizeProduct(periodDays int) {
	r.StagnantAmount = decimal.Zero
	if IsStagnant(r.CurrentStock, r.TrailingSales) {
		r.StagnantAmount = r.CurrentStock
	}
	r.finalize(periodDays)
}

// finalize recomputes the derived figures from the totals.
func (r *Record) finalize(periodDays int) {
	r.Stagnant = r.StagnantAmount.IsPositive()
	r.Depleted = r.SalesTag
	r.DiscountRate = decimal.NullDecimal{}
	if !r.SalesTag.IsZero() {
		r.DiscountRate = decimal.NewNullDecimal(decimal.NewFromInt(1).Sub(r.SalesActual.Div(r.SalesTag)).Round(4))
	}
	r.InventoryDays = ComputeInventoryDays(r.CurrentStock, r.SalesTag, periodDays)
}
