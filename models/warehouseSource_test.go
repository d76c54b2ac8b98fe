package models

import (
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/retail_dashboard/exchange"
	"github.com/shopspring/decimal"
)

func TestWarehouseSource_RendersTables(t *testing.T) {
	detailed := NewDetailedSource(nil)
	legacy := NewLegacySource(nil)

	sql, err := detailed.render(stockAsOfSQL)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(sql, "FROM stock_snapshot_daily s") || strings.Contains(sql, "{{") {
		t.Fatalf("unexpected detailed sql:\n%s", sql)
	}
	sql, err = legacy.render(salesSQL)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(sql, "FROM sales_monthly") {
		t.Fatalf("unexpected legacy sql:\n%s", sql)
	}
}

func TestToStockRows_TrimsAndDropsClock(t *testing.T) {
	rows := toStockRows([]StockSnapshot{{
		ProductCode:  " A1 ",
		Category:     "TOPS ",
		SeasonCode:   "24F",
		SnapshotDate: time.Date(2026, 2, 14, 16, 30, 0, 0, time.UTC),
		TagAmount:    decimal.NewFromInt(10),
	}})
	if len(rows) != 1 || rows[0].ProductCode != "A1" || rows[0].Category != "TOPS" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if !rows[0].SnapshotDate.Equal(time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected calendar day, got %s", rows[0].SnapshotDate)
	}
}

func TestRateTable_FeedsResolver(t *testing.T) {
	table := RateTable([]ExchangeRate{
		{Currency: "twd", Period: "202508", Rate: decimal.RequireFromString("0.24")},
		{Currency: "TWD", Period: "202509", Rate: decimal.RequireFromString("0.25")},
	})
	r := exchange.NewResolver("HKD", exchange.MapRates(table))
	got, ok := r.Convert(decimal.NewFromInt(100), "TWD", time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC))
	if !ok || !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected 25 via September fallback, got %s %v", got, ok)
	}
}
