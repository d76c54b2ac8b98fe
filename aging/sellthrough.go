package aging

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/retail_dashboard/season"
	"github.com/mmdatafocus/retail_dashboard/utils"
	"github.com/shopspring/decimal"
)

type Window string

const (
	WindowCurrent Window = "CURRENT"
	WindowNext    Window = "NEXT"
	WindowPast    Window = "PAST"
	WindowLegacy  Window = "LEGACY"
)

var Windows = []Window{WindowCurrent, WindowNext, WindowPast, WindowLegacy}

// WindowFor places code relative to the as-of season cur. Seasons beyond the next
// one are not reported.
func WindowFor(code, cur season.Code) (Window, bool) {
	switch {
	case code == cur:
		return WindowCurrent, true
	case code == cur.Next():
		return WindowNext, true
	case code.Compare(cur.PastCutoff()) <= 0:
		return WindowLegacy, true
	case code.Before(cur):
		return WindowPast, true
	default:
		return "", false
	}
}

// SellThroughFigures totals one window or category. SellThrough is
// sales / (current stock + sales) as a percentage.
type SellThroughFigures struct {
	BaseStock    decimal.Decimal     `json:"baseStock"`
	CurrentStock decimal.Decimal     `json:"currentStock"`
	SalesTag     decimal.Decimal     `json:"salesTag"`
	SalesActual  decimal.Decimal     `json:"salesActual"`
	SellThrough  decimal.NullDecimal `json:"sellThrough"`
	DiscountRate decimal.NullDecimal `json:"discountRate"`
}

func (f *SellThroughFigures) add(r Record) {
	f.BaseStock = f.BaseStock.Add(r.BaseStock)
	f.CurrentStock = f.CurrentStock.Add(r.CurrentStock)
	f.SalesTag = f.SalesTag.Add(r.SalesTag)
	f.SalesActual = f.SalesActual.Add(r.SalesActual)
}

func (f *SellThroughFigures) finalize() {
	f.SellThrough = decimal.NullDecimal{}
	if denom := f.CurrentStock.Add(f.SalesTag); denom.IsPositive() {
		f.SellThrough = decimal.NewNullDecimal(f.SalesTag.Div(denom).Mul(decimal.NewFromInt(100)).Round(2))
	}
	f.DiscountRate = decimal.NullDecimal{}
	if !f.SalesTag.IsZero() {
		f.DiscountRate = decimal.NewNullDecimal(decimal.NewFromInt(1).Sub(f.SalesActual.Div(f.SalesTag)).Round(4))
	}
}

type SellThroughCategory struct {
	Category string `json:"category"`
	SellThroughFigures
}

type SellThroughWindow struct {
	Window     Window                `json:"window"`
	Seasons    []string              `json:"seasons"`
	Categories []SellThroughCategory `json:"categories"`
	SellThroughFigures
}

type SellThroughReport struct {
	Region      string              `json:"region"`
	Brand       string              `json:"brand"`
	AsOf        string              `json:"asOf"`
	Season      season.Code         `json:"season"`
	PeriodStart string              `json:"periodStart"`
	Source      string              `json:"source"`
	Total       SellThroughFigures  `json:"total"`
	Windows     []SellThroughWindow `json:"windows"`
	Warnings    []string            `json:"warnings,omitempty"`
}

// SellThrough cross-tabulates stock and sales by season window for one as-of date.
func (c *Classifier) SellThrough(ctx context.Context, scope Scope, asOf time.Time) (*SellThroughReport, error) {
	if asOf.IsZero() {
		return nil, fmt.Errorf("%w: as-of date is required", utils.ErrClassificationInput)
	}
	asOf = utils.DateOnly(asOf)
	cur := season.FromDate(asOf)
	group := func(code season.Code) (string, bool) {
		w, ok := WindowFor(code, cur)
		return string(w), ok
	}
	p, err := c.load(ctx, scope, asOf, group, loadOptions{})
	if err != nil {
		return nil, err
	}

	rep := &SellThroughReport{
		Region:      scope.Region,
		Brand:       scope.Brand,
		AsOf:        utils.FormatDate(asOf),
		Season:      cur,
		PeriodStart: utils.FormatDate(p.periodStart),
		Source:      p.source,
		Windows:     make([]SellThroughWindow, 0, len(Windows)),
		Warnings:    p.warnings,
	}
	for _, w := range Windows {
		sw := SellThroughWindow{Window: w, Seasons: p.seasons[string(w)], Categories: []SellThroughCategory{}}
		if sw.Seasons == nil {
			sw.Seasons = []string{}
		}
		var cat *SellThroughCategory
		for _, k := range p.byGroup(string(w)) {
			if cat == nil || cat.Category != k.category {
				if cat != nil {
					cat.finalize()
					sw.Categories = append(sw.Categories, *cat)
				}
				cat = &SellThroughCategory{Category: k.category}
			}
			rec := p.products[k].rec
			cat.add(rec)
			sw.add(rec)
			rep.Total.add(rec)
		}
		if cat != nil {
			cat.finalize()
			sw.Categories = append(sw.Categories, *cat)
		}
		sw.finalize()
		rep.Windows = append(rep.Windows, sw)
	}
	rep.Total.finalize()
	return rep, nil
}
