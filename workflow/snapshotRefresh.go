package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/mmdatafocus/retail_dashboard/config"
	"github.com/mmdatafocus/retail_dashboard/snapshot"
	"github.com/mmdatafocus/retail_dashboard/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("retail-dashboard/workflow")

// FetchFunc computes one report payload. It is opaque to the refresher.
type FetchFunc func(ctx context.Context, region, brand string, date time.Time) (any, error)

type Resource struct {
	Section string
	Name    string
	Fetch   FetchFunc
}

type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeConcurrent Mode = "concurrent"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSequential:
		return ModeSequential, nil
	case ModeConcurrent:
		return ModeConcurrent, nil
	default:
		return "", fmt.Errorf("unknown refresh mode %q (want sequential or concurrent)", s)
	}
}

// Target is one (date, region, brand, resource) item of a refresh run.
type Target struct {
	Date     time.Time
	Region   string
	Brand    string
	Resource Resource
}

func (t Target) Key() snapshot.Key {
	return snapshot.Key{
		Section:  t.Resource.Section,
		Resource: t.Resource.Name,
		Region:   t.Region,
		Brand:    t.Brand,
		Date:     t.Date,
	}.Normalize()
}

func (t Target) String() string { return t.Key().String() }

type RefreshRequest struct {
	Dates     []time.Time
	Regions   []string
	Brands    []string
	Resources []Resource
	Mode      Mode
	// Concurrency bounds in-flight items in concurrent mode. Zero means unbounded.
	Concurrency int
	// SkipExisting leaves items that are already cached untouched.
	SkipExisting bool
	Trigger      string
}

// Targets expands the request into its date x region x brand x resource cross product.
func (req RefreshRequest) Targets() []Target {
	regions := utils.UniqueSlice(req.Regions)
	brands := utils.UniqueSlice(req.Brands)
	out := make([]Target, 0, len(req.Dates)*len(regions)*len(brands)*len(req.Resources))
	for _, d := range req.Dates {
		for _, region := range regions {
			for _, brand := range brands {
				for _, res := range req.Resources {
					out = append(out, Target{Date: utils.DateOnly(d), Region: region, Brand: brand, Resource: res})
				}
			}
		}
	}
	return out
}

type ItemFailure struct {
	Target string `json:"target"`
	Stage  string `json:"stage"`
	Error  string `json:"error"`
	err    error
}

// Err returns the underlying error for errors.Is checks.
func (f ItemFailure) Err() error { return f.err }

type RefreshSummary struct {
	RunID        string        `json:"runId"`
	Trigger      string        `json:"trigger,omitempty"`
	Mode         Mode          `json:"mode"`
	Dates        []string      `json:"dates"`
	Total        int           `json:"total"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Failures     []ItemFailure `json:"failures"`
	BytesWritten int64         `json:"bytesWritten"`
	StartedAt    time.Time     `json:"startedAt"`
	Elapsed      time.Duration `json:"-"`
	ElapsedMs    int64         `json:"elapsedMs"`
}

// Notifier is told about every finished run.
type Notifier interface {
	NotifyRefresh(ctx context.Context, summary *RefreshSummary) error
}

type RefresherOptions struct {
	// Locker guards against overlapping runs across instances. Nil disables the guard.
	Locker  *redislock.Client
	LockTTL time.Duration
	Logger  *logrus.Logger
	// Notifier failures are logged and never fail the run.
	Notifier Notifier
}

type SnapshotRefresher struct {
	store    *snapshot.Store
	locker   *redislock.Client
	lockTTL  time.Duration
	logger   *logrus.Logger
	notifier Notifier
}

func NewSnapshotRefresher(store *snapshot.Store, opts RefresherOptions) *SnapshotRefresher {
	if opts.Logger == nil {
		opts.Logger = config.GetLogger()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	return &SnapshotRefresher{
		store:    store,
		locker:   opts.Locker,
		lockTTL:  opts.LockTTL,
		logger:   opts.Logger,
		notifier: opts.Notifier,
	}
}

type itemResult struct {
	skipped bool
	bytes   int
	failure *ItemFailure
}

// Run refreshes every target of req and reports per-item outcomes. Item failures
// never fail the run; only setup problems (no store, empty request, a concurrent
// run holding the lock) return an error.
func (r *SnapshotRefresher) Run(ctx context.Context, req RefreshRequest) (*RefreshSummary, error) {
	if r == nil || r.store == nil {
		return nil, errors.New("snapshot refresh: store is not configured")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}

	lock, err := r.obtainLock(ctx)
	if err != nil {
		return nil, err
	}
	defer r.releaseLock(lock)

	runID := uuid.NewString()
	ctx = utils.SetRunIdInContext(ctx, runID)
	if req.Trigger != "" {
		ctx = utils.SetTriggerInContext(ctx, req.Trigger)
	}
	ctx, span := tracer.Start(ctx, "snapshot.refresh")
	defer span.End()

	targets := req.Targets()
	summary := &RefreshSummary{
		RunID:     runID,
		Trigger:   req.Trigger,
		Mode:      mode,
		Total:     len(targets),
		Failures:  []ItemFailure{},
		StartedAt: time.Now().UTC(),
	}
	for _, d := range req.Dates {
		summary.Dates = append(summary.Dates, utils.FormatDate(d))
	}
	span.SetAttributes(
		attribute.String("refresh.run_id", runID),
		attribute.String("refresh.mode", string(mode)),
		attribute.Int("refresh.targets", len(targets)),
	)

	results := make([]itemResult, len(targets))
	switch mode {
	case ModeConcurrent:
		// plain Group: a failed item must not cancel its siblings
		var g errgroup.Group
		if req.Concurrency > 0 {
			g.SetLimit(req.Concurrency)
		}
		for i, t := range targets {
			g.Go(func() error {
				results[i] = r.refreshOne(ctx, t, req.SkipExisting)
				return nil
			})
		}
		_ = g.Wait()
	default:
		for i, t := range targets {
			results[i] = r.refreshOne(ctx, t, req.SkipExisting)
		}
	}

	for _, res := range results {
		switch {
		case res.failure != nil:
			summary.Failed++
			summary.Failures = append(summary.Failures, *res.failure)
		case res.skipped:
			summary.Skipped++
		default:
			summary.Succeeded++
			summary.BytesWritten += int64(res.bytes)
		}
	}
	summary.Elapsed = time.Since(summary.StartedAt)
	summary.ElapsedMs = summary.Elapsed.Milliseconds()
	if summary.Failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d items failed", summary.Failed, summary.Total))
	}

	r.logger.WithFields(logrus.Fields{
		"module":    "workflow",
		"runId":     runID,
		"trigger":   req.Trigger,
		"mode":      mode,
		"total":     summary.Total,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
		"bytes":     summary.BytesWritten,
		"elapsedMs": summary.ElapsedMs,
	}).Info("snapshot refresh finished")

	if r.notifier != nil {
		if err := r.notifier.NotifyRefresh(ctx, summary); err != nil {
			config.LogWarn(r.logger, "workflow", "Run", "refresh notification failed", runID, err)
		}
	}
	return summary, nil
}

func validateRequest(req RefreshRequest) error {
	if len(req.Dates) == 0 {
		return errors.New("snapshot refresh: no target dates")
	}
	if len(req.Regions) == 0 || len(req.Brands) == 0 {
		return errors.New("snapshot refresh: regions and brands are required")
	}
	if len(req.Resources) == 0 {
		return errors.New("snapshot refresh: no resources selected")
	}
	for _, res := range req.Resources {
		if res.Fetch == nil {
			return fmt.Errorf("snapshot refresh: resource %s/%s has no fetch function", res.Section, res.Name)
		}
	}
	for _, d := range req.Dates {
		if d.IsZero() {
			return fmt.Errorf("snapshot refresh: %w: zero target date", utils.ErrInvalidKeyPart)
		}
	}
	return nil
}

// refreshOne runs the read-fetch-write sequence of one item. Panics inside the
// fetch are recovered into a failure of that item.
func (r *SnapshotRefresher) refreshOne(ctx context.Context, t Target, skipExisting bool) (res itemResult) {
	name := t.String()
	ctx, span := tracer.Start(ctx, "snapshot.refresh.item")
	span.SetAttributes(attribute.String("snapshot.target", name))
	defer span.End()

	fail := func(stage string, err error) itemResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		config.LogError(r.logger, "workflow", "refreshOne", stage, name, err)
		return itemResult{failure: &ItemFailure{Target: name, Stage: stage, Error: err.Error(), err: err}}
	}
	defer func() {
		if p := recover(); p != nil {
			res = fail("fetch", fmt.Errorf("%w: panic: %v", utils.ErrFetchFailure, p))
		}
	}()

	key := t.Key()
	if err := key.Validate(); err != nil {
		return fail("key", err)
	}
	if skipExisting {
		if _, ok, err := snapshot.Get[json.RawMessage](ctx, r.store, key); err == nil && ok {
			return itemResult{skipped: true}
		}
	}

	payload, err := t.Resource.Fetch(ctx, key.Region, key.Brand, key.Date)
	if err != nil {
		return fail("fetch", fmt.Errorf("%w: %v", utils.ErrFetchFailure, err))
	}
	n, err := snapshot.Set(ctx, r.store, key, payload, r.store.TTL(snapshot.TierScheduled))
	if err != nil {
		return fail("store", err)
	}
	return itemResult{bytes: n}
}

func (r *SnapshotRefresher) lockKey() string {
	return "lock:" + r.store.Keys().Namespace() + ":snapshot-refresh"
}

func (r *SnapshotRefresher) obtainLock(ctx context.Context) (*redislock.Lock, error) {
	if r.locker == nil {
		return nil, nil
	}
	lock, err := r.locker.Obtain(ctx, r.lockKey(), r.lockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, utils.ErrRefreshInProgress
	}
	if err != nil {
		// the lock only prevents duplicate work; a lock outage must not stop the refresh
		config.LogWarn(r.logger, "workflow", "Run", "could not obtain refresh lock; proceeding without it", r.lockKey(), err)
		return nil, nil
	}
	return lock, nil
}

func (r *SnapshotRefresher) releaseLock(lock *redislock.Lock) {
	if lock == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
		config.LogWarn(r.logger, "workflow", "Run", "failed to release refresh lock", r.lockKey(), err)
	}
}

// RefreshWindow returns the days dates ending yesterday relative to today, oldest first.
func RefreshWindow(today time.Time, days int) []time.Time {
	if days <= 0 {
		days = 1
	}
	end := utils.DateOnly(today).AddDate(0, 0, -1)
	return DateRange(end, days)
}

// DateRange returns days consecutive dates ending at end, oldest first.
func DateRange(end time.Time, days int) []time.Time {
	end = utils.DateOnly(end)
	out := make([]time.Time, 0, days)
	for i := days - 1; i >= 0; i-- {
		out = append(out, end.AddDate(0, 0, -i))
	}
	return out
}
