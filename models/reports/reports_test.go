package reports

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/mmdatafocus/retail_dashboard/aging"
	"github.com/mmdatafocus/retail_dashboard/snapshot"
	"github.com/mmdatafocus/retail_dashboard/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/xuri/excelize/v2"
)

type staticSource struct {
	seasons []string
	stock   []aging.StockRow
	fetches int
}

func (s *staticSource) SeasonCodes(context.Context, aging.Scope) ([]string, error) {
	s.fetches++
	return s.seasons, nil
}

func (s *staticSource) StockAsOf(context.Context, aging.Scope, []string, time.Time) ([]aging.StockRow, error) {
	return s.stock, nil
}

func (s *staticSource) Sales(context.Context, aging.Scope, []string, time.Time, time.Time) ([]aging.SalesRow, error) {
	return nil, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var asOf = time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, src aging.Source) *Registry {
	t.Helper()
	c, err := aging.NewClassifier(src, nil, time.Time{}, aging.Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return NewRegistry(c, RegistryOptions{Logger: quietLogger()})
}

func fixtureSource() *staticSource {
	return &staticSource{
		seasons: []string{"24F", "23F"},
		stock: []aging.StockRow{
			{ProductCode: "A1", Category: "TOPS", SeasonCode: "24F", SnapshotDate: asOf, TagAmount: decimal.NewFromInt(1000)},
			{ProductCode: "B1", Category: "PANTS", SeasonCode: "23F", SnapshotDate: asOf, TagAmount: decimal.NewFromInt(200)},
		},
	}
}

func TestRegistry_Select(t *testing.T) {
	r := newTestRegistry(t, fixtureSource())
	all, err := r.Select(nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected every resource, got %d (%v)", len(all), err)
	}
	one, err := r.Select([]string{"old_season", "INVENTORY/OLD_SEASON"})
	if err != nil || len(one) != 1 || one[0].ID() != "INVENTORY/OLD_SEASON" {
		t.Fatalf("unexpected selection %+v (%v)", one, err)
	}
	if _, err := r.Select([]string{"NOPE"}); err == nil {
		t.Fatalf("expected unknown resource error")
	}
	if _, ok := r.Lookup("inventory", "sell_through"); !ok {
		t.Fatalf("expected case-insensitive lookup")
	}
}

func TestResource_ReadThroughCachesTypedPayload(t *testing.T) {
	src := fixtureSource()
	r := newTestRegistry(t, src)
	store, err := snapshot.NewStore(snapshot.NewMemoryCache(), snapshot.Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	res, _ := r.Lookup(SectionInventory, ResourceOldSeason)
	key, err := snapshot.NewKey(res.Section, res.Name, "HKMC", "M", "2026-02-14")
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}

	out, hit, err := res.Read(context.Background(), store, key)
	if err != nil || hit {
		t.Fatalf("first read: hit=%v err=%v", hit, err)
	}
	env := out.(*snapshot.Envelope[OldSeasonInventoryPayload])
	if env.Payload.Status != StatusOK || !env.Payload.Report.Header.CurrentStock.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("unexpected payload %+v", env.Payload)
	}
	fetches := src.fetches

	_, hit, err = res.Read(context.Background(), store, key)
	if err != nil || !hit {
		t.Fatalf("second read should hit, hit=%v err=%v", hit, err)
	}
	if src.fetches != fetches {
		t.Fatalf("cache hit must not query the warehouse")
	}

	cached, ok, err := snapshot.Get[OldSeasonInventoryPayload](context.Background(), store, key)
	if err != nil || !ok || cached.Payload.Report.Bucket(aging.Bucket2Y).CurrentStock.IntPart() != 200 {
		t.Fatalf("expected typed snapshot, got %+v ok=%v err=%v", cached, ok, err)
	}
}

func TestRegistry_SlowFetchLogCarriesRunContext(t *testing.T) {
	c, err := aging.NewClassifier(fixtureSource(), nil, time.Time{}, aging.Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	logger, hook := logtest.NewNullLogger()
	r := NewRegistry(c, RegistryOptions{Logger: logger, SlowThreshold: time.Nanosecond})
	res, _ := r.Lookup(SectionInventory, ResourceSellThrough)

	ctx := utils.SetCorrelationIdInContext(context.Background(), "cid-1")
	ctx = utils.SetRunIdInContext(ctx, "run-1")
	ctx = utils.SetTriggerInContext(ctx, "cli")
	if _, err := res.Fetch(ctx, "HKMC", "M", asOf); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "slow_report" {
		t.Fatalf("expected slow_report entry, got %+v", entry)
	}
	if entry.Data["run_id"] != "run-1" || entry.Data["trigger"] != "cli" || entry.Data["correlation_id"] != "cid-1" {
		t.Fatalf("unexpected fields %v", entry.Data)
	}
}

func TestStatus(t *testing.T) {
	if status(nil) != StatusOK || status([]string{"bad row"}) != StatusPartial {
		t.Fatalf("unexpected status mapping")
	}
}

func TestExportOldSeasonExcel(t *testing.T) {
	r := newTestRegistry(t, fixtureSource())
	res, _ := r.Lookup(SectionInventory, ResourceOldSeason)
	out, err := res.Fetch(context.Background(), "HKMC", "M", asOf)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	payload := out.(OldSeasonInventoryPayload)

	var buf bytes.Buffer
	if err := ExportOldSeasonExcel(&payload.Report, &buf); err != nil {
		t.Fatalf("ExportOldSeasonExcel: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	cell := func(axis string) string {
		v, err := f.GetCellValue(oldSeasonSheet, axis)
		if err != nil {
			t.Fatalf("GetCellValue(%s): %v", axis, err)
		}
		return v
	}
	if cell("A3") != "Bucket" || cell("A4") != "1y" || cell("B5") != "TOPS" || cell("C6") != "A1" {
		t.Fatalf("unexpected layout: %q %q %q %q", cell("A3"), cell("A4"), cell("B5"), cell("C6"))
	}
	// 3 bucket rows, 2 category rows and 2 product rows precede the total
	if cell("A11") != "ALL" || cell("F11") != "1200" || cell("K11") != "no sales" {
		t.Fatalf("unexpected total row: %q %q %q", cell("A11"), cell("F11"), cell("K11"))
	}
}
