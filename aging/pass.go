package aging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/retail_dashboard/config"
	"github.com/mmdatafocus/retail_dashboard/season"
	"github.com/mmdatafocus/retail_dashboard/utils"
	"github.com/shopspring/decimal"
)

// TrailingDays is the window, ending on the as-of date, used for stagnation.
const TrailingDays = 30

// groupFunc assigns a season to a report group (a year bucket or a sell-through window).
type groupFunc func(code season.Code) (string, bool)

type productKey struct {
	group    string
	category string
	product  string
}

type productAgg struct {
	season string
	rec    Record
}

// pass holds the rows gathered for one as-of date.
type pass struct {
	asOf        time.Time
	periodStart time.Time
	baseDate    time.Time
	periodDays  int
	source      string
	baseSource  string
	seasons     map[string][]string
	products    map[productKey]*productAgg
	warnings    []string
}

type loadOptions struct {
	trailing bool
}

func (c *Classifier) load(ctx context.Context, scope Scope, asOf time.Time, group groupFunc, opts loadOptions) (*pass, error) {
	cur := season.FromDate(asOf)
	p := &pass{
		asOf:        asOf,
		periodStart: cur.StartDate(),
		seasons:     map[string][]string{},
		products:    map[productKey]*productAgg{},
	}
	p.baseDate = p.periodStart.AddDate(0, 0, -1)
	p.periodDays = utils.DaysInclusive(p.periodStart, asOf)

	src, srcName := c.sourceFor(asOf)
	baseSrc, baseName := c.sourceFor(p.baseDate)
	p.source, p.baseSource = srcName, baseName

	raw, err := src.SeasonCodes(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("%s season codes: %w", srcName, err)
	}
	if baseName != srcName {
		more, err := baseSrc.SeasonCodes(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("%s season codes: %w", baseName, err)
		}
		raw = append(raw, more...)
	}

	groupOf := map[string]string{}
	for _, s := range utils.UniqueSlice(raw) {
		code, err := season.Parse(s)
		if err != nil {
			p.warn(c, "load", s, err)
			continue
		}
		g, ok := group(code)
		if !ok {
			continue
		}
		if _, seen := groupOf[code.String()]; seen {
			continue
		}
		groupOf[code.String()] = g
		p.seasons[g] = append(p.seasons[g], code.String())
	}
	for g := range p.seasons {
		sort.Slice(p.seasons[g], func(i, j int) bool {
			return season.MustParse(p.seasons[g][j]).Before(season.MustParse(p.seasons[g][i]))
		})
	}
	if len(groupOf) == 0 {
		return p, nil
	}
	codes := make([]string, 0, len(groupOf))
	for s := range groupOf {
		codes = append(codes, s)
	}
	sort.Strings(codes)

	baseRows, err := baseSrc.StockAsOf(ctx, scope, codes, p.baseDate)
	if err != nil {
		return nil, fmt.Errorf("%s base stock: %w", baseName, err)
	}
	for _, r := range ResolveLatest(baseRows, p.baseDate) {
		p.addStock(c, groupOf, r, true)
	}

	curRows, err := src.StockAsOf(ctx, scope, codes, asOf)
	if err != nil {
		return nil, fmt.Errorf("%s current stock: %w", srcName, err)
	}
	for _, r := range ResolveLatest(curRows, asOf) {
		p.addStock(c, groupOf, r, false)
	}

	sales, err := src.Sales(ctx, scope, codes, p.periodStart, asOf)
	if err != nil {
		return nil, fmt.Errorf("%s period sales: %w", srcName, err)
	}
	for _, r := range sales {
		p.addSales(c, groupOf, r, false)
	}

	if opts.trailing {
		from := asOf.AddDate(0, 0, -(TrailingDays - 1))
		trailing, err := src.Sales(ctx, scope, codes, from, asOf)
		if err != nil {
			return nil, fmt.Errorf("%s trailing sales: %w", srcName, err)
		}
		for _, r := range trailing {
			p.addSales(c, groupOf, r, true)
		}
	}
	return p, nil
}

func (p *pass) warn(c *Classifier, funcName string, data any, err error) {
	p.warnings = append(p.warnings, err.Error())
	config.LogWarn(c.logger, "aging", funcName, "skipping row", data, err)
}

// locate resolves the aggregate key of a row. ok is false when the row is out of
// scope or malformed.
func (p *pass) locate(c *Classifier, groupOf map[string]string, product, category, seasonCode string) (productKey, string, bool) {
	code, err := season.Parse(seasonCode)
	if err != nil {
		p.warn(c, "load", product, err)
		return productKey{}, "", false
	}
	g, ok := groupOf[code.String()]
	if !ok {
		return productKey{}, "", false
	}
	product = strings.TrimSpace(product)
	if product == "" {
		p.warn(c, "load", seasonCode, fmt.Errorf("%w: row without product code", utils.ErrClassificationInput))
		return productKey{}, "", false
	}
	return productKey{group: g, category: strings.TrimSpace(category), product: product}, code.String(), true
}

func (p *pass) agg(k productKey, seasonCode string) *productAgg {
	a, ok := p.products[k]
	if !ok {
		a = &productAgg{season: seasonCode}
		p.products[k] = a
	}
	return a
}

func (p *pass) addStock(c *Classifier, groupOf map[string]string, r StockRow, base bool) {
	k, code, ok := p.locate(c, groupOf, r.ProductCode, r.Category, r.SeasonCode)
	if !ok {
		return
	}
	amount, ok := c.convert(r.TagAmount, r.Currency, r.SnapshotDate)
	if !ok {
		p.warn(c, "load", r.ProductCode, fmt.Errorf("%w: no %s rate for %s", utils.ErrClassificationInput, r.Currency, r.SnapshotDate.Format(time.DateOnly)))
		return
	}
	a := p.agg(k, code)
	if base {
		a.rec.BaseStock = a.rec.BaseStock.Add(amount)
	} else {
		a.rec.CurrentStock = a.rec.CurrentStock.Add(amount)
	}
}

func (p *pass) addSales(c *Classifier, groupOf map[string]string, r SalesRow, trailing bool) {
	k, code, ok := p.locate(c, groupOf, r.ProductCode, r.Category, r.SeasonCode)
	if !ok {
		return
	}
	tag, okTag := c.convert(r.TagAmount, r.Currency, r.SaleDate)
	actual, okActual := c.convert(r.ActualAmount, r.Currency, r.SaleDate)
	if !okTag || !okActual {
		p.warn(c, "load", r.ProductCode, fmt.Errorf("%w: no %s rate for %s", utils.ErrClassificationInput, r.Currency, r.SaleDate.Format(time.DateOnly)))
		return
	}
	a := p.agg(k, code)
	if trailing {
		a.rec.TrailingSales = a.rec.TrailingSales.Add(tag)
		return
	}
	a.rec.SalesTag = a.rec.SalesTag.Add(tag)
	a.rec.SalesActual = a.rec.SalesActual.Add(actual)
}

// byGroup returns the product aggregates of one group sorted by category then product.
func (p *pass) byGroup(group string) []productKey {
	keys := make([]productKey, 0)
	for k := range p.products {
		if k.group == group {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].category != keys[j].category {
			return keys[i].category < keys[j].category
		}
		return keys[i].product < keys[j].product
	})
	return keys
}

func (c *Classifier) convert(amount decimal.Decimal, currency string, d time.Time) (decimal.Decimal, bool) {
	if c.converter == nil {
		return amount, true
	}
	return c.converter.Convert(amount, currency, d)
}
