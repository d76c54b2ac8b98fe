package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmdatafocus/retail_dashboard/exchange"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ExchangeRate converts one unit of Currency into the reporting currency for a
// YYYYMM period.
type ExchangeRate struct {
	Currency string          `gorm:"size:3;primaryKey" json:"currency"`
	Period   string          `gorm:"size:6;primaryKey" json:"period"`
	Rate     decimal.Decimal `gorm:"type:decimal(20,8);default:0" json:"rate"`
}

func (ExchangeRate) TableName() string { return "exchange_rates" }

// LoadExchangeRates reads every published rate up to and including upTo.
func LoadExchangeRates(ctx context.Context, db *gorm.DB, upTo exchange.Period) ([]ExchangeRate, error) {
	var rates []ExchangeRate
	err := db.WithContext(ctx).
		Where("period <= ?", upTo.String()).
		Order("currency, period").
		Find(&rates).Error
	if err != nil {
		return nil, fmt.Errorf("load exchange rates: %w", err)
	}
	return rates, nil
}

// RateTable indexes rates as CURRENCY -> YYYYMM -> rate for exchange.MapRates.
func RateTable(rates []ExchangeRate) map[string]map[string]decimal.Decimal {
	table := make(map[string]map[string]decimal.Decimal)
	for _, r := range rates {
		cur := strings.ToUpper(strings.TrimSpace(r.Currency))
		if table[cur] == nil {
			table[cur] = make(map[string]decimal.Decimal)
		}
		table[cur][strings.TrimSpace(r.Period)] = r.Rate
	}
	return table
}

// NewExchangeResolver loads rates published up to upTo into a resolver.
func NewExchangeResolver(ctx context.Context, db *gorm.DB, reportingCurrency string, upTo exchange.Period) (*exchange.Resolver, error) {
	rates, err := LoadExchangeRates(ctx, db, upTo)
	if err != nil {
		return nil, err
	}
	return exchange.NewResolver(reportingCurrency, exchange.MapRates(RateTable(rates))), nil
}
