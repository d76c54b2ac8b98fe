package aging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/retail_dashboard/season"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func d(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeSource serves fixed rows and records the dates it was queried for.
type fakeSource struct {
	mu      sync.Mutex
	seasons []string
	stock   []StockRow
	sales   []SalesRow
	failOn  func(date time.Time) error
	calls   []string
}

func (f *fakeSource) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSource) SeasonCodes(context.Context, Scope) ([]string, error) {
	return f.seasons, nil
}

func (f *fakeSource) StockAsOf(_ context.Context, _ Scope, _ []string, date time.Time) ([]StockRow, error) {
	f.record("stock " + date.Format(time.DateOnly))
	if f.failOn != nil {
		if err := f.failOn(date); err != nil {
			return nil, err
		}
	}
	// returns every row; the classifier must drop later ones
	return f.stock, nil
}

func (f *fakeSource) Sales(_ context.Context, _ Scope, _ []string, from, to time.Time) ([]SalesRow, error) {
	f.record("sales " + from.Format(time.DateOnly) + ".." + to.Format(time.DateOnly))
	if f.failOn != nil {
		if err := f.failOn(to); err != nil {
			return nil, err
		}
	}
	var out []SalesRow
	for _, r := range f.sales {
		if !r.SaleDate.Before(from) && !r.SaleDate.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func stock(product, category, code, date, amount string) StockRow {
	return StockRow{ProductCode: product, Category: category, SeasonCode: code, SnapshotDate: d(date), TagAmount: dec(amount)}
}

func sale(product, category, code, date, tag, actual string) SalesRow {
	return SalesRow{ProductCode: product, Category: category, SeasonCode: code, SaleDate: d(date), TagAmount: dec(tag), ActualAmount: dec(actual)}
}

// agingFixture is classified as of 2026-02-14 (season 25F, period from 2025-09-01).
func agingFixture() *fakeSource {
	return &fakeSource{
		seasons: []string{"24F", "23F", "25S", "25F", "XX"},
		stock: []StockRow{
			stock("A1", "TOPS", "24F", "2025-08-31", "1000"),
			stock("A1", "TOPS", "24F", "2026-01-31", "700"),
			stock("A1", "TOPS", "24F", "2026-02-14", "600"),
			stock("A2", "TOPS", "24F", "2025-08-31", "500"),
			stock("A2", "TOPS", "24F", "2026-02-14", "500"),
			stock("B1", "PANTS", "23F", "2025-02-01", "150"),
			stock("B1", "PANTS", "23F", "2025-08-31", "200"),
			stock("B1", "PANTS", "23F", "2026-02-14", "100"),
			stock("S1", "TOPS", "25S", "2026-02-14", "900"),
			stock("Z9", "TOPS", "??", "2026-02-14", "1"),
		},
		sales: []SalesRow{
			sale("A1", "TOPS", "24F", "2025-10-01", "300", "225"),
			sale("A1", "TOPS", "24F", "2026-02-01", "100", "75"),
			sale("B1", "PANTS", "23F", "2025-12-01", "100", "50"),
			sale("S1", "TOPS", "25S", "2026-02-10", "50", "50"),
		},
	}
}

func newTestClassifier(t *testing.T, detailed, legacy Source, cutover time.Time) *Classifier {
	t.Helper()
	c, err := NewClassifier(detailed, legacy, cutover, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return c
}

func TestBucketFor(t *testing.T) {
	cases := []struct {
		asOf   string
		code   string
		want   YearBucket
		wantOK bool
	}{
		{"2026-02-14", "24F", Bucket1Y, true},
		{"2026-02-14", "23F", Bucket2Y, true},
		{"2026-02-14", "22F", Bucket3YPlus, true},
		{"2026-02-14", "15F", Bucket3YPlus, true},
		{"2026-02-14", "25F", "", false},
		{"2026-02-14", "26F", "", false},
		{"2026-02-14", "25S", "", false},
		{"2026-05-01", "25S", Bucket1Y, true},
		{"2026-05-01", "24S", Bucket2Y, true},
		{"2026-05-01", "25F", "", false},
		{"2026-09-01", "25F", Bucket1Y, true},
	}
	for _, tc := range cases {
		got, ok := BucketFor(season.MustParse(tc.code), d(tc.asOf))
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("BucketFor(%s, %s) = %q, %v; want %q, %v", tc.code, tc.asOf, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestBucketFor_IsTotal(t *testing.T) {
	for g := 2000 * 2; g < 2030*2; g++ {
		code := season.Code{Year: g / 2, Half: season.Spring}
		if g%2 == 1 {
			code.Half = season.Fall
		}
		b, ok := BucketFor(code, d("2026-02-14"))
		if ok && b != Bucket1Y && b != Bucket2Y && b != Bucket3YPlus {
			t.Fatalf("unexpected bucket %q for %s", b, code)
		}
	}
}

func TestIsStagnant(t *testing.T) {
	cases := []struct {
		current, trailing string
		want              bool
	}{
		{"1000", "0", true},
		{"1000", "2", false},
		{"1000", "1", false},
		{"1000", "0.5", true},
		{"0", "0", false},
		{"0", "10", false},
	}
	for _, tc := range cases {
		if got := IsStagnant(dec(tc.current), dec(tc.trailing)); got != tc.want {
			t.Fatalf("IsStagnant(%s, %s) = %v; want %v", tc.current, tc.trailing, got, tc.want)
		}
	}

	r := Record{CurrentStock: dec("1000")}
	r.finalizeProduct(30)
	if !r.StagnantAmount.Equal(dec("1000")) || !r.Stagnant {
		t.Fatalf("expected stagnant amount 1000, got %s", r.StagnantAmount)
	}
	r = Record{CurrentStock: dec("1000"), TrailingSales: dec("2")}
	r.finalizeProduct(30)
	if !r.StagnantAmount.IsZero() || r.Stagnant {
		t.Fatalf("expected no stagnant amount, got %s", r.StagnantAmount)
	}
}

func TestInventoryDays(t *testing.T) {
	none := ComputeInventoryDays(dec("500"), decimal.Zero, 30)
	if !none.NoSales() || none.Status != DaysNoSales || none.Display() != "no sales" {
		t.Fatalf("expected no-sales flag, got %+v (%s)", none, none.Display())
	}

	capped := ComputeInventoryDays(dec("1500"), dec("1"), 1)
	if capped.Value == nil || !capped.Value.Equal(dec("1500")) {
		t.Fatalf("expected raw 1500, got %+v", capped)
	}
	if capped.Display() != "999+" || capped.Status != DaysOverOneYear {
		t.Fatalf("expected 999+ over one year, got %s %s", capped.Display(), capped.Status)
	}

	// 365.004 rounds to 365 but is still past a year
	edge := ComputeInventoryDays(dec("365004"), dec("1000"), 1)
	if edge.Status != DaysOverOneYear || !edge.Value.Equal(dec("365")) {
		t.Fatalf("expected 365 over one year, got %s %s", edge.Value, edge.Status)
	}

	ok := ComputeInventoryDays(dec("200"), dec("30"), 30)
	if ok.Display() != "200" || ok.Status != DaysOK {
		t.Fatalf("expected 200 ok, got %s %s", ok.Display(), ok.Status)
	}
}

func TestResolveLatest_NeverLooksForward(t *testing.T) {
	rows := []StockRow{
		stock("P1", "C", "24F", "2026-02-10", "1"),
		stock("P1", "C", "24F", "2026-02-12", "2"),
		stock("P1", "C", "24F", "2026-02-20", "3"),
		stock("P2", "C", "24F", "2026-02-20", "4"),
	}
	got := ResolveLatest(rows, d("2026-02-14"))
	if len(got) != 1 || got[0].ProductCode != "P1" || !got[0].TagAmount.Equal(dec("2")) {
		t.Fatalf("unexpected resolution %+v", got)
	}
}

func TestClassify_RollsUpFromTotals(t *testing.T) {
	c := newTestClassifier(t, agingFixture(), nil, time.Time{})
	rep, err := c.Classify(context.Background(), Request{Scope: Scope{Region: "HKMC", Brand: "M"}, AsOf: d("2026-02-14")})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if rep.Season.String() != "25F" || rep.PeriodStart != "2025-09-01" || rep.BaseDate != "2025-08-31" || rep.PeriodDays != 167 {
		t.Fatalf("unexpected period %s %s %s %d", rep.Season, rep.PeriodStart, rep.BaseDate, rep.PeriodDays)
	}
	if len(rep.Buckets) != 3 {
		t.Fatalf("expected all 3 buckets, got %d", len(rep.Buckets))
	}

	one := rep.Bucket(Bucket1Y)
	if !one.BaseStock.Equal(dec("1500")) || !one.CurrentStock.Equal(dec("1100")) || !one.SalesTag.Equal(dec("400")) {
		t.Fatalf("unexpected 1y totals %+v", one.Record)
	}
	if !one.DiscountRate.Valid || !one.DiscountRate.Decimal.Equal(dec("0.25")) {
		t.Fatalf("expected 1y discount 0.25, got %+v", one.DiscountRate)
	}
	if one.InventoryDays.Status != DaysOverOneYear || one.InventoryDays.Display() != "459" {
		t.Fatalf("expected 459 days over one year, got %s %s", one.InventoryDays.Display(), one.InventoryDays.Status)
	}
	if len(one.Categories) != 1 || one.Categories[0].Category != "TOPS" || len(one.Categories[0].Products) != 2 {
		t.Fatalf("unexpected 1y categories %+v", one.Categories)
	}
	a2 := one.Categories[0].Products[1]
	if a2.ProductCode != "A2" || !a2.StagnantAmount.Equal(dec("500")) || !a2.InventoryDays.NoSales() {
		t.Fatalf("expected A2 stagnant with no sales, got %+v", a2)
	}
	if !one.Depleted.Equal(one.SalesTag) {
		t.Fatalf("depleted should equal period tag sales")
	}

	two := rep.Bucket(Bucket2Y)
	if two.Seasons[0] != "23F" || !two.StagnantAmount.Equal(dec("100")) {
		t.Fatalf("unexpected 2y bucket %+v", two)
	}

	three := rep.Bucket(Bucket3YPlus)
	if !three.CurrentStock.IsZero() || !three.InventoryDays.NoSales() || three.DiscountRate.Valid {
		t.Fatalf("expected empty 3y+ bucket, got %+v", three.Record)
	}

	h := rep.Header
	if !h.CurrentStock.Equal(dec("1200")) || !h.SalesTag.Equal(dec("500")) || !h.StagnantAmount.Equal(dec("600")) {
		t.Fatalf("unexpected header %+v", h)
	}
	// recomputed from totals: 1 - 350/500, not the mean of 0.25 and 0.5
	if !h.DiscountRate.Decimal.Equal(dec("0.3")) {
		t.Fatalf("expected header discount 0.3, got %s", h.DiscountRate.Decimal)
	}
	if h.MoMChange != nil || h.YoYPercent != nil {
		t.Fatalf("enrichments were not requested")
	}
	if len(rep.Warnings) != 2 {
		t.Fatalf("expected warnings for the XX season and ?? row, got %v", rep.Warnings)
	}
}

func TestClassify_RequiresAsOf(t *testing.T) {
	c := newTestClassifier(t, agingFixture(), nil, time.Time{})
	if _, err := c.Classify(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error for missing as-of date")
	}
}

func TestClassify_PicksSourceByCutover(t *testing.T) {
	detailed := &fakeSource{seasons: []string{"22F"}}
	legacy := &fakeSource{seasons: []string{"22F"}}
	c := newTestClassifier(t, detailed, legacy, d("2024-01-01"))

	if c.SourceFor(d("2023-12-31")) != SourceLegacy || c.SourceFor(d("2024-01-01")) != SourceDetailed {
		t.Fatalf("cutover boundary is wrong")
	}

	rep, err := c.Classify(context.Background(), Request{AsOf: d("2024-02-14")})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if rep.Source != SourceDetailed || rep.BaseSource != SourceLegacy {
		t.Fatalf("expected detailed current and legacy base, got %s/%s", rep.Source, rep.BaseSource)
	}
	if strings.Join(legacy.calls, ",") != "stock 2023-08-31" {
		t.Fatalf("legacy should only serve the base point, got %v", legacy.calls)
	}
	for _, call := range detailed.calls {
		if call == "stock 2023-08-31" {
			t.Fatalf("detailed source served a pre-cutover date: %v", detailed.calls)
		}
	}

	detailed.calls, legacy.calls = nil, nil
	rep, err = c.Classify(context.Background(), Request{AsOf: d("2023-12-31")})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if rep.Source != SourceLegacy || len(detailed.calls) != 0 {
		t.Fatalf("expected legacy only before cutover, detailed calls %v", detailed.calls)
	}
}

func TestClassify_Enrichments(t *testing.T) {
	c := newTestClassifier(t, agingFixture(), nil, time.Time{})
	rep, err := c.Classify(context.Background(), Request{AsOf: d("2026-02-14"), MonthOverMonth: true, YearOverYear: true})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if rep.Header.MoMChange == nil || !rep.Header.MoMChange.Equal(dec("-200")) {
		t.Fatalf("expected header MoM -200, got %v", rep.Header.MoMChange)
	}
	if mom := rep.Bucket(Bucket1Y).MoMChange; mom == nil || !mom.Equal(dec("-100")) {
		t.Fatalf("expected 1y MoM -100, got %v", mom)
	}
	if rep.Header.YoYPercent == nil || !rep.Header.YoYPercent.Equal(dec("700")) {
		t.Fatalf("expected header YoY 700%%, got %v", rep.Header.YoYPercent)
	}
}

func TestClassify_EnrichmentFailureIsIsolated(t *testing.T) {
	src := agingFixture()
	src.failOn = func(date time.Time) error {
		if date.Before(d("2026-02-01")) && !date.Equal(d("2025-08-31")) {
			return fmt.Errorf("warehouse timeout for %s", date.Format(time.DateOnly))
		}
		return nil
	}
	c := newTestClassifier(t, src, nil, time.Time{})
	rep, err := c.Classify(context.Background(), Request{AsOf: d("2026-02-14"), MonthOverMonth: true, YearOverYear: true})
	if err != nil {
		t.Fatalf("primary pass should succeed, got %v", err)
	}
	if rep.Header.MoMChange != nil || rep.Header.YoYPercent != nil {
		t.Fatalf("failed enrichments must stay nil")
	}
	if !rep.Header.CurrentStock.Equal(dec("1200")) {
		t.Fatalf("primary figures changed: %s", rep.Header.CurrentStock)
	}
	if len(rep.Warnings) != 4 {
		t.Fatalf("expected 2 row and 2 enrichment warnings, got %v", rep.Warnings)
	}
}

func TestClassify_PrimarySourceErrorIsReturned(t *testing.T) {
	src := agingFixture()
	boom := errors.New("warehouse down")
	src.failOn = func(time.Time) error { return boom }
	c := newTestClassifier(t, src, nil, time.Time{})
	if _, err := c.Classify(context.Background(), Request{AsOf: d("2026-02-14")}); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}

func TestWindowFor(t *testing.T) {
	cur := season.MustParse("25F")
	cases := map[string]Window{
		"25F": WindowCurrent,
		"26S": WindowNext,
		"25S": WindowPast,
		"24F": WindowLegacy,
		"20S": WindowLegacy,
	}
	for code, want := range cases {
		if got, ok := WindowFor(season.MustParse(code), cur); !ok || got != want {
			t.Fatalf("WindowFor(%s) = %q, %v; want %q", code, got, ok, want)
		}
	}
	if _, ok := WindowFor(season.MustParse("26F"), cur); ok {
		t.Fatalf("seasons beyond next must not be reported")
	}
}

func TestSellThrough(t *testing.T) {
	src := &fakeSource{
		seasons: []string{"25F", "26S", "25S", "23F"},
		stock: []StockRow{
			stock("C1", "TOPS", "25F", "2026-02-14", "800"),
			stock("N1", "TOPS", "26S", "2026-02-14", "300"),
			stock("P1", "PANTS", "25S", "2026-02-14", "100"),
			stock("L1", "PANTS", "23F", "2025-08-31", "50"),
		},
		sales: []SalesRow{
			sale("C1", "TOPS", "25F", "2025-11-11", "200", "180"),
			sale("P1", "PANTS", "25S", "2026-01-02", "100", "60"),
		},
	}
	c := newTestClassifier(t, src, nil, time.Time{})
	rep, err := c.SellThrough(context.Background(), Scope{Region: "TW", Brand: "X"}, d("2026-02-14"))
	if err != nil {
		t.Fatalf("SellThrough: %v", err)
	}
	if len(rep.Windows) != 4 || rep.Windows[0].Window != WindowCurrent || rep.Windows[3].Window != WindowLegacy {
		t.Fatalf("unexpected windows %+v", rep.Windows)
	}
	want := map[Window]string{WindowCurrent: "20", WindowNext: "0", WindowPast: "50"}
	for _, w := range rep.Windows {
		exp, ok := want[w.Window]
		if !ok {
			continue
		}
		if !w.SellThrough.Valid || !w.SellThrough.Decimal.Equal(dec(exp)) {
			t.Fatalf("%s sell-through = %+v; want %s", w.Window, w.SellThrough, exp)
		}
	}
	legacy := rep.Windows[3]
	// the only L1 snapshot predates the period, so it is both base and current stock
	if !legacy.BaseStock.Equal(dec("50")) || !legacy.CurrentStock.Equal(dec("50")) || !legacy.SellThrough.Decimal.IsZero() {
		t.Fatalf("unexpected legacy window %+v", legacy.SellThroughFigures)
	}
	if legacy.DiscountRate.Valid {
		t.Fatalf("legacy window has no sales; discount must be null")
	}
	if !rep.Total.SellThrough.Decimal.Equal(dec("19.35")) {
		t.Fatalf("expected total 300/1550 = 19.35%%, got %s", rep.Total.SellThrough.Decimal)
	}
}
