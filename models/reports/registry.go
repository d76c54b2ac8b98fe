package reports

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/retail_dashboard/aging"
	"github.com/mmdatafocus/retail_dashboard/config"
	"github.com/mmdatafocus/retail_dashboard/snapshot"
	"github.com/mmdatafocus/retail_dashboard/utils"
	"github.com/sirupsen/logrus"
)

const (
	SectionInventory    = "INVENTORY"
	ResourceOldSeason   = "OLD_SEASON"
	ResourceSellThrough = "SELL_THROUGH"
)

// Resource is one cacheable report.
type Resource struct {
	Section string
	Name    string
	// Fetch computes the payload from the warehouse.
	Fetch func(ctx context.Context, region, brand string, date time.Time) (any, error)
	// Read serves the snapshot for key, computing and caching it on a miss.
	Read func(ctx context.Context, store *snapshot.Store, key snapshot.Key) (any, bool, error)
}

func (r Resource) ID() string { return r.Section + "/" + r.Name }

type RegistryOptions struct {
	Logger *logrus.Logger
	// SlowThreshold logs fetches that take longer. Zero disables it.
	SlowThreshold time.Duration
}

type Registry struct {
	resources map[string]Resource
	logger    *logrus.Logger
	slow      time.Duration
}

// NewRegistry registers the dashboard reports served by classifier.
func NewRegistry(classifier *aging.Classifier, opts RegistryOptions) *Registry {
	r := &Registry{resources: map[string]Resource{}, logger: opts.Logger, slow: opts.SlowThreshold}
	if r.logger == nil {
		r.logger = config.GetLogger()
	}
	register(r, SectionInventory, ResourceOldSeason, func(ctx context.Context, region, brand string, date time.Time) (OldSeasonInventoryPayload, error) {
		rep, err := classifier.Classify(ctx, aging.Request{
			Scope:          aging.Scope{Region: region, Brand: brand},
			AsOf:           date,
			MonthOverMonth: true,
			YearOverYear:   true,
		})
		if err != nil {
			return OldSeasonInventoryPayload{}, err
		}
		return OldSeasonInventoryPayload{Status: status(rep.Warnings), Report: *rep}, nil
	})
	register(r, SectionInventory, ResourceSellThrough, func(ctx context.Context, region, brand string, date time.Time) (SellThroughPayload, error) {
		rep, err := classifier.SellThrough(ctx, aging.Scope{Region: region, Brand: brand}, date)
		if err != nil {
			return SellThroughPayload{}, err
		}
		return SellThroughPayload{Status: status(rep.Warnings), Report: *rep}, nil
	})
	return r
}

func register[T any](r *Registry, section, name string, fetch func(ctx context.Context, region, brand string, date time.Time) (T, error)) {
	timed := func(ctx context.Context, region, brand string, date time.Time) (T, error) {
		started := time.Now()
		out, err := fetch(ctx, region, brand, date)
		r.logSlow(ctx, section+"/"+name, started, region, brand, date)
		return out, err
	}
	res := Resource{
		Section: section,
		Name:    name,
		Fetch: func(ctx context.Context, region, brand string, date time.Time) (any, error) {
			return timed(ctx, region, brand, date)
		},
		Read: func(ctx context.Context, store *snapshot.Store, key snapshot.Key) (any, bool, error) {
			env, hit, err := snapshot.GetOrFetch(ctx, store, key, func(ctx context.Context) (T, error) {
				return timed(ctx, key.Region, key.Brand, key.Date)
			})
			if err != nil {
				return nil, false, err
			}
			return env, hit, nil
		},
	}
	r.resources[res.ID()] = res
}

func (r *Registry) logSlow(ctx context.Context, name string, started time.Time, region, brand string, date time.Time) {
	d := time.Since(started)
	if r.slow <= 0 || d < r.slow {
		return
	}
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	fields := logrus.Fields{
		"report":         name,
		"ms":             d.Milliseconds(),
		"region":         region,
		"brand":          brand,
		"date":           utils.FormatDate(date),
		"correlation_id": cid,
	}
	// set when the fetch runs inside a refresh job
	if runID, ok := utils.GetRunIdFromContext(ctx); ok {
		fields["run_id"] = runID
	}
	if trigger, ok := utils.GetTriggerFromContext(ctx); ok {
		fields["trigger"] = trigger
	}
	r.logger.WithFields(fields).Warn("slow_report")
}

func (r *Registry) Lookup(section, name string) (Resource, bool) {
	res, ok := r.resources[strings.ToUpper(strings.TrimSpace(section))+"/"+strings.ToUpper(strings.TrimSpace(name))]
	return res, ok
}

// All returns every resource ordered by id.
func (r *Registry) All() []Resource {
	out := make([]Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Select resolves "SECTION/NAME" or bare "NAME" selectors. An empty list selects all.
func (r *Registry) Select(selectors []string) ([]Resource, error) {
	if len(selectors) == 0 {
		return r.All(), nil
	}
	var out []Resource
	seen := map[string]bool{}
	for _, sel := range selectors {
		sel = strings.ToUpper(strings.TrimSpace(sel))
		var matched []Resource
		for _, res := range r.All() {
			if res.ID() == sel || res.Name == sel {
				matched = append(matched, res)
			}
		}
		if len(matched) == 0 {
			return nil, fmt.Errorf("unknown report resource %q", sel)
		}
		for _, res := range matched {
			if !seen[res.ID()] {
				seen[res.ID()] = true
				out = append(out, res)
			}
		}
	}
	return out, nil
}
