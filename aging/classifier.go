// Package aging classifies old-season stock into year buckets relative to an
// as-of date and derives depletion, stagnation and inventory-days figures.
package aging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/retail_dashboard/config"
	"github.com/mmdatafocus/retail_dashboard/exchange"
	"github.com/mmdatafocus/retail_dashboard/season"
	"github.com/mmdatafocus/retail_dashboard/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	SourceDetailed = "detailed"
	SourceLegacy   = "legacy"
)

type Options struct {
	Logger *logrus.Logger
	// Converter translates row amounts into the reporting currency. Nil keeps amounts as stored.
	Converter *exchange.Resolver
}

// Classifier is safe for concurrent use; it holds no per-pass state.
type Classifier struct {
	detailed  Source
	legacy    Source
	cutover   time.Time
	logger    *logrus.Logger
	converter *exchange.Resolver
}

// NewClassifier reads dates at or after cutover from detailed and earlier dates from
// legacy. A nil legacy source serves every date from detailed.
func NewClassifier(detailed, legacy Source, cutover time.Time, opts Options) (*Classifier, error) {
	if detailed == nil {
		return nil, errors.New("aging: detailed source is required")
	}
	if opts.Logger == nil {
		opts.Logger = config.GetLogger()
	}
	return &Classifier{
		detailed:  detailed,
		legacy:    legacy,
		cutover:   utils.DateOnly(cutover),
		logger:    opts.Logger,
		converter: opts.Converter,
	}, nil
}

// SourceFor names the source that serves figures effective on date.
func (c *Classifier) SourceFor(date time.Time) string {
	_, name := c.sourceFor(date)
	return name
}

func (c *Classifier) sourceFor(date time.Time) (Source, string) {
	if c.legacy != nil && !c.cutover.IsZero() && utils.DateOnly(date).Before(c.cutover) {
		return c.legacy, SourceLegacy
	}
	return c.detailed, SourceDetailed
}

type Request struct {
	Scope          Scope
	AsOf           time.Time
	MonthOverMonth bool
	YearOverYear   bool
}

type ProductRecord struct {
	ProductCode string `json:"productCode"`
	Season      string `json:"season"`
	Record
}

type CategoryRecord struct {
	Category string          `json:"category"`
	Products []ProductRecord `json:"products"`
	Record
}

type BucketRecord struct {
	Bucket     YearBucket       `json:"bucket"`
	Seasons    []string         `json:"seasons"`
	Categories []CategoryRecord `json:"categories"`
	Record
}

// Report is the old-season aging view for one scope and as-of date.
type Report struct {
	Region      string         `json:"region"`
	Brand       string         `json:"brand"`
	AsOf        string         `json:"asOf"`
	Season      season.Code    `json:"season"`
	PeriodStart string         `json:"periodStart"`
	BaseDate    string         `json:"baseDate"`
	PeriodDays  int            `json:"periodDays"`
	Source      string         `json:"source"`
	BaseSource  string         `json:"baseSource"`
	Header      Record         `json:"header"`
	Buckets     []BucketRecord `json:"buckets"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// Bucket returns the record of b, or nil when absent.
func (r *Report) Bucket(b YearBucket) *BucketRecord {
	for i := range r.Buckets {
		if r.Buckets[i].Bucket == b {
			return &r.Buckets[i]
		}
	}
	return nil
}

// Classify runs one classification pass. Malformed rows are skipped with a warning;
// source errors on the primary pass are returned. Month-over-month and year-over-year
// enrichments never fail the pass.
func (c *Classifier) Classify(ctx context.Context, req Request) (*Report, error) {
	if req.AsOf.IsZero() {
		return nil, fmt.Errorf("%w: as-of date is required", utils.ErrClassificationInput)
	}
	asOf := utils.DateOnly(req.AsOf)
	rep, err := c.classify(ctx, req.Scope, asOf)
	if err != nil {
		return nil, err
	}
	if req.MonthOverMonth {
		c.enrichMonthOverMonth(ctx, rep, req.Scope, asOf)
	}
	if req.YearOverYear {
		c.enrichYearOverYear(ctx, rep, req.Scope, asOf)
	}
	return rep, nil
}

func (c *Classifier) classify(ctx context.Context, scope Scope, asOf time.Time) (*Report, error) {
	group := func(code season.Code) (string, bool) {
		b, ok := BucketFor(code, asOf)
		return string(b), ok
	}
	p, err := c.load(ctx, scope, asOf, group, loadOptions{trailing: true})
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Region:      scope.Region,
		Brand:       scope.Brand,
		AsOf:        utils.FormatDate(asOf),
		Season:      season.FromDate(asOf),
		PeriodStart: utils.FormatDate(p.periodStart),
		BaseDate:    utils.FormatDate(p.baseDate),
		PeriodDays:  p.periodDays,
		Source:      p.source,
		BaseSource:  p.baseSource,
		Buckets:     make([]BucketRecord, 0, len(Buckets)),
		Warnings:    p.warnings,
	}
	for _, b := range Buckets {
		br := BucketRecord{Bucket: b, Seasons: p.seasons[string(b)], Categories: []CategoryRecord{}}
		if br.Seasons == nil {
			br.Seasons = []string{}
		}
		var cat *CategoryRecord
		for _, k := range p.byGroup(string(b)) {
			if cat == nil || cat.Category != k.category {
				if cat != nil {
					cat.finalize(p.periodDays)
					br.add(cat.Record)
					br.Categories = append(br.Categories, *cat)
				}
				cat = &CategoryRecord{Category: k.category}
			}
			agg := p.products[k]
			pr := ProductRecord{ProductCode: k.product, Season: agg.season, Record: agg.rec}
			pr.finalizeProduct(p.periodDays)
			cat.add(pr.Record)
			cat.Products = append(cat.Products, pr)
		}
		if cat != nil {
			cat.finalize(p.periodDays)
			br.add(cat.Record)
			br.Categories = append(br.Categories, *cat)
		}
		br.finalize(p.periodDays)
		rep.Header.add(br.Record)
		rep.Buckets = append(rep.Buckets, br)
	}
	rep.Header.finalize(p.periodDays)
	return rep, nil
}

// enrichMonthOverMonth sets the change of current stock against the prior month-end.
func (c *Classifier) enrichMonthOverMonth(ctx context.Context, rep *Report, scope Scope, asOf time.Time) {
	prior, err := c.classify(ctx, scope, utils.PreviousMonthEnd(asOf))
	if err != nil {
		c.enrichmentFailed(rep, "MonthOverMonth", err)
		return
	}
	change := func(cur, prev decimal.Decimal) *decimal.Decimal {
		v := cur.Sub(prev)
		return &v
	}
	rep.Header.MoMChange = change(rep.Header.CurrentStock, prior.Header.CurrentStock)
	for i := range rep.Buckets {
		prev := decimal.Zero
		if pb := prior.Bucket(rep.Buckets[i].Bucket); pb != nil {
			prev = pb.CurrentStock
		}
		rep.Buckets[i].MoMChange = change(rep.Buckets[i].CurrentStock, prev)
	}
}

// enrichYearOverYear sets the percent change of current stock against the same day a
// year earlier. The prior pass picks its own source, so it reads legacy data when the
// year-ago date predates the cutover.
func (c *Classifier) enrichYearOverYear(ctx context.Context, rep *Report, scope Scope, asOf time.Time) {
	prior, err := c.classify(ctx, scope, utils.YearAgo(asOf))
	if err != nil {
		c.enrichmentFailed(rep, "YearOverYear", err)
		return
	}
	rep.Header.YoYPercent = percentChange(rep.Header.CurrentStock, prior.Header.CurrentStock)
	for i := range rep.Buckets {
		if pb := prior.Bucket(rep.Buckets[i].Bucket); pb != nil {
			rep.Buckets[i].YoYPercent = percentChange(rep.Buckets[i].CurrentStock, pb.CurrentStock)
		}
	}
}

func (c *Classifier) enrichmentFailed(rep *Report, funcName string, err error) {
	config.LogWarn(c.logger, "aging", funcName, "enrichment skipped", map[string]string{
		"region": rep.Region,
		"brand":  rep.Brand,
		"asOf":   rep.AsOf,
	}, err)
	rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s unavailable: %v", funcName, err))
}

func percentChange(cur, prev decimal.Decimal) *decimal.Decimal {
	if !prev.IsPositive() {
		return nil
	}
	v := cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
	return &v
}
