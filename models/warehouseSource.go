package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/retail_dashboard/aging"
	"github.com/mmdatafocus/retail_dashboard/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockSnapshot is one product's tag-value stock on a snapshot date. The detailed
// table has a row per day; the legacy table one per month end.
type StockSnapshot struct {
	Region       string          `gorm:"size:8;index:idx_stock_scope,priority:1" json:"region"`
	Brand        string          `gorm:"size:8;index:idx_stock_scope,priority:2" json:"brand"`
	ProductCode  string          `gorm:"size:64;index" json:"productCode"`
	Category     string          `gorm:"size:64" json:"category"`
	SeasonCode   string          `gorm:"size:3;index" json:"seasonCode"`
	SnapshotDate time.Time       `gorm:"type:date;index:idx_stock_scope,priority:3" json:"snapshotDate"`
	Currency     string          `gorm:"size:3" json:"currency"`
	TagAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tagAmount"`
}

// SalesFact is one product's sales on a day, or in a month for the legacy table
// where SaleDate is the first of the month.
type SalesFact struct {
	Region       string          `gorm:"size:8;index:idx_sales_scope,priority:1" json:"region"`
	Brand        string          `gorm:"size:8;index:idx_sales_scope,priority:2" json:"brand"`
	ProductCode  string          `gorm:"size:64;index" json:"productCode"`
	Category     string          `gorm:"size:64" json:"category"`
	SeasonCode   string          `gorm:"size:3;index" json:"seasonCode"`
	SaleDate     time.Time       `gorm:"type:date;index:idx_sales_scope,priority:3" json:"saleDate"`
	Currency     string          `gorm:"size:3" json:"currency"`
	TagAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tagAmount"`
	ActualAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"actualAmount"`
}

type warehouseTables struct {
	Stock string
	Sales string
}

var (
	DetailedTables = warehouseTables{Stock: "stock_snapshot_daily", Sales: "sales_daily"}
	LegacyTables   = warehouseTables{Stock: "stock_snapshot_monthly", Sales: "sales_monthly"}
)

// WarehouseSource reads classification rows from one pair of warehouse tables.
type WarehouseSource struct {
	db     *gorm.DB
	tables warehouseTables
}

var _ aging.Source = (*WarehouseSource)(nil)

func NewDetailedSource(db *gorm.DB) *WarehouseSource {
	return &WarehouseSource{db: db, tables: DetailedTables}
}

func NewLegacySource(db *gorm.DB) *WarehouseSource {
	return &WarehouseSource{db: db, tables: LegacyTables}
}

func (s *WarehouseSource) SeasonCodes(ctx context.Context, scope aging.Scope) ([]string, error) {
	var codes []string
	err := s.db.WithContext(ctx).
		Table(s.tables.Stock).
		Where("region = ? AND brand = ?", scope.Region, scope.Brand).
		Distinct("season_code").
		Pluck("season_code", &codes).Error
	if err != nil {
		return nil, fmt.Errorf("%s season codes: %w", s.tables.Stock, err)
	}
	return codes, nil
}

const stockAsOfSQL = `
SELECT s.region, s.brand, s.product_code, s.category, s.season_code, s.snapshot_date, s.currency, s.tag_amount
FROM {{ .stock }} s
JOIN (
    SELECT product_code, MAX(snapshot_date) AS snapshot_date
    FROM {{ .stock }}
    WHERE region = @region AND brand = @brand
      AND snapshot_date <= @date
      AND season_code IN @seasons
    GROUP BY product_code
) latest ON latest.product_code = s.product_code AND latest.snapshot_date = s.snapshot_date
WHERE s.region = @region AND s.brand = @brand
  AND s.season_code IN @seasons
ORDER BY s.product_code
`

const salesSQL = `
SELECT region, brand, product_code, category, season_code, sale_date, currency,
       SUM(tag_amount) AS tag_amount,
       SUM(actual_amount) AS actual_amount
FROM {{ .sales }}
WHERE region = @region AND brand = @brand
  AND sale_date BETWEEN @from AND @to
  AND season_code IN @seasons
GROUP BY region, brand, product_code, category, season_code, sale_date, currency
ORDER BY product_code, sale_date
`

func (s *WarehouseSource) render(tmpl string) (string, error) {
	return utils.ExecTemplate(tmpl, map[string]interface{}{
		"stock": s.tables.Stock,
		"sales": s.tables.Sales,
	})
}

func (s *WarehouseSource) StockAsOf(ctx context.Context, scope aging.Scope, seasons []string, date time.Time) ([]aging.StockRow, error) {
	if len(seasons) == 0 {
		return nil, nil
	}
	sql, err := s.render(stockAsOfSQL)
	if err != nil {
		return nil, err
	}
	var rows []StockSnapshot
	args := map[string]interface{}{
		"region":  scope.Region,
		"brand":   scope.Brand,
		"date":    utils.FormatDate(date),
		"seasons": seasons,
	}
	if err := s.db.WithContext(ctx).Raw(sql, args).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("%s as of %s: %w", s.tables.Stock, utils.FormatDate(date), err)
	}
	return toStockRows(rows), nil
}

func (s *WarehouseSource) Sales(ctx context.Context, scope aging.Scope, seasons []string, from, to time.Time) ([]aging.SalesRow, error) {
	if len(seasons) == 0 {
		return nil, nil
	}
	sql, err := s.render(salesSQL)
	if err != nil {
		return nil, err
	}
	var rows []SalesFact
	args := map[string]interface{}{
		"region":  scope.Region,
		"brand":   scope.Brand,
		"from":    utils.FormatDate(from),
		"to":      utils.FormatDate(to),
		"seasons": seasons,
	}
	if err := s.db.WithContext(ctx).Raw(sql, args).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("%s %s..%s: %w", s.tables.Sales, utils.FormatDate(from), utils.FormatDate(to), err)
	}
	return toSalesRows(rows), nil
}

func toStockRows(rows []StockSnapshot) []aging.StockRow {
	out := make([]aging.StockRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, aging.StockRow{
			ProductCode:  strings.TrimSpace(r.ProductCode),
			Category:     strings.TrimSpace(r.Category),
			SeasonCode:   r.SeasonCode,
			SnapshotDate: utils.DateOnly(r.SnapshotDate),
			Currency:     r.Currency,
			TagAmount:    r.TagAmount,
		})
	}
	return out
}

func toSalesRows(rows []SalesFact) []aging.SalesRow {
	out := make([]aging.SalesRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, aging.SalesRow{
			ProductCode:  strings.TrimSpace(r.ProductCode),
			Category:     strings.TrimSpace(r.Category),
			SeasonCode:   r.SeasonCode,
			SaleDate:     utils.DateOnly(r.SaleDate),
			Currency:     r.Currency,
			TagAmount:    r.TagAmount,
			ActualAmount: r.ActualAmount,
		})
	}
	return out
}
