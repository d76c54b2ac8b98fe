package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/retail_dashboard/aging"
	"github.com/mmdatafocus/retail_dashboard/config"
	"github.com/mmdatafocus/retail_dashboard/exchange"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NewWarehouseClassifier wires the detailed and legacy warehouse tables into an
// aging classifier. Exchange rates are loaded once up to the current period; a
// failed rate load is logged and the classifier runs unconverted.
func NewWarehouseClassifier(ctx context.Context, db *gorm.DB, cfg *config.SnapshotConfig, logger *logrus.Logger) (*aging.Classifier, error) {
	if logger == nil {
		logger = config.GetLogger()
	}
	opts := aging.Options{Logger: logger}
	if cfg.ReportingCurrency != "" {
		resolver, err := NewExchangeResolver(ctx, db, cfg.ReportingCurrency, exchange.PeriodOf(time.Now().UTC()))
		if err != nil {
			config.LogWarn(logger, "models", "NewWarehouseClassifier", "exchange rates unavailable; amounts stay in source currency", cfg.ReportingCurrency, err)
		} else {
			opts.Converter = resolver
		}
	}
	return aging.NewClassifier(NewDetailedSource(db), NewLegacySource(db), cfg.LegacyCutover.Time, opts)
}
