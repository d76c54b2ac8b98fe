package reports

import (
	"fmt"
	"io"

	"github.com/mmdatafocus/retail_dashboard/aging"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const oldSeasonSheet = "Old Season"

var oldSeasonHeadings = []string{
	"Bucket", "Category", "Product", "Season",
	"Base Stock", "Current Stock", "Sales (Tag)", "Sales (Actual)",
	"Discount", "Stagnant", "Inventory Days", "MoM Change", "YoY %",
}

// ExportOldSeasonExcel writes the report as one sheet: a row per bucket followed
// by its categories and products, then the all-buckets total.
func ExportOldSeasonExcel(rep *aging.Report, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", oldSeasonSheet); err != nil {
		return err
	}
	title := fmt.Sprintf("Old season inventory %s %s as of %s (season %s)", rep.Region, rep.Brand, rep.AsOf, rep.Season)
	if err := f.SetCellValue(oldSeasonSheet, "A1", title); err != nil {
		return err
	}
	if err := f.SetSheetRow(oldSeasonSheet, "A3", &oldSeasonHeadings); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	_ = f.SetRowStyle(oldSeasonSheet, 3, 3, bold)

	rowNo := 4
	write := func(values []interface{}, style int) error {
		cell, err := excelize.CoordinatesToCellName(1, rowNo)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(oldSeasonSheet, cell, &values); err != nil {
			return err
		}
		if style > 0 {
			_ = f.SetRowStyle(oldSeasonSheet, rowNo, rowNo, style)
		}
		rowNo++
		return nil
	}

	for _, b := range rep.Buckets {
		if err := write(recordCells(string(b.Bucket), "", "", "", b.Record), bold); err != nil {
			return err
		}
		for _, c := range b.Categories {
			if err := write(recordCells(string(b.Bucket), c.Category, "", "", c.Record), 0); err != nil {
				return err
			}
			for _, p := range c.Products {
				if err := write(recordCells(string(b.Bucket), c.Category, p.ProductCode, p.Season, p.Record), 0); err != nil {
					return err
				}
			}
		}
	}
	if err := write(recordCells("ALL", "", "", "", rep.Header), bold); err != nil {
		return err
	}
	return f.Write(w)
}

func recordCells(bucket, category, product, seasonCode string, r aging.Record) []interface{} {
	return []interface{}{
		bucket, category, product, seasonCode,
		r.BaseStock.InexactFloat64(),
		r.CurrentStock.InexactFloat64(),
		r.SalesTag.InexactFloat64(),
		r.SalesActual.InexactFloat64(),
		nullCell(r.DiscountRate),
		r.StagnantAmount.InexactFloat64(),
		r.InventoryDays.Display(),
		ptrCell(r.MoMChange),
		ptrCell(r.YoYPercent),
	}
}

func nullCell(v decimal.NullDecimal) interface{} {
	if !v.Valid {
		return ""
	}
	return v.Decimal.InexactFloat64()
}

func ptrCell(v *decimal.Decimal) interface{} {
	if v == nil {
		return ""
	}
	return v.InexactFloat64()
}
