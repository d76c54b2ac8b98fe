package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mmdatafocus/retail_dashboard/config"
	"github.com/mmdatafocus/retail_dashboard/models"
	"github.com/mmdatafocus/retail_dashboard/models/reports"
	"github.com/mmdatafocus/retail_dashboard/snapshot"
	"github.com/mmdatafocus/retail_dashboard/utils"
	"github.com/mmdatafocus/retail_dashboard/workflow"
	"github.com/redis/go-redis/v9"
)

// Exit code 1 means the run could not start. Per-item failures are reported
// in the summary and still exit 0.
func main() {
	cfg, err := config.LoadSnapshotConfig()
	if err != nil {
		fail("config", err)
	}

	days := flag.Int("days", cfg.RefreshDays, "Number of dates to refresh, ending at -end")
	endStr := flag.String("end", "", "Optional: last date to refresh (YYYY-MM-DD). Defaults to yesterday in SNAPSHOT_TIMEZONE.")
	mode := flag.String("mode", cfg.RefreshMode, "sequential or concurrent")
	concurrency := flag.Int("concurrency", cfg.RefreshConcurrency, "Max in-flight items in concurrent mode")
	regions := flag.String("regions", strings.Join(cfg.Regions, ","), "Comma separated region codes")
	brands := flag.String("brands", strings.Join(cfg.Brands, ","), "Comma separated brand codes")
	resources := flag.String("resources", "", "Optional: comma separated SECTION/NAME or NAME selectors. Defaults to every report.")
	skipExisting := flag.Bool("skip-existing", false, "Leave already cached snapshots untouched")
	memory := flag.Bool("memory", false, "Dry run against an in-process cache instead of redis")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := config.GetLogger()

	dates, err := targetDates(*endStr, *days, cfg.Timezone)
	if err != nil {
		fail("dates", err)
	}
	refreshMode, err := workflow.ParseMode(*mode)
	if err != nil {
		fail("mode", err)
	}

	var cache snapshot.Cache
	var rdb *redis.Client
	if *memory {
		cache = snapshot.NewMemoryCache()
	} else {
		opts, err := config.RedisOptionsFromEnv()
		if err != nil {
			fail("redis", err)
		}
		rdb, err = config.NewRedisClient(ctx, opts, 3)
		if err != nil {
			fail("redis", err)
		}
		defer rdb.Close()
		cache = snapshot.NewRedisCache(rdb)
	}
	store, err := snapshot.NewStore(cache, snapshot.Options{
		Namespace: cfg.Namespace,
		TTL:       snapshot.PolicyFromConfig(cfg),
		Logger:    logger,
	})
	if err != nil {
		fail("store", err)
	}

	dsn, err := config.WarehouseDSNFromEnv()
	if err != nil {
		fail("warehouse", err)
	}
	db, err := config.OpenWarehouse(dsn)
	if err != nil {
		fail("warehouse", err)
	}
	classifier, err := models.NewWarehouseClassifier(ctx, db, cfg, logger)
	if err != nil {
		fail("classifier", err)
	}
	registry := reports.NewRegistry(classifier, reports.RegistryOptions{Logger: logger, SlowThreshold: cfg.SlowThreshold()})
	selected, err := registry.Select(utils.SplitAndTrim(*resources))
	if err != nil {
		fail("resources", err)
	}

	refresherOpts := workflow.RefresherOptions{Logger: logger, Locker: config.NewRedisLock(rdb)}
	if cfg.PubSubTopic != "" && !*memory {
		client, err := config.NewPubSubClient(ctx)
		if err != nil {
			config.LogWarn(logger, "snapshot-refresh", "main", "pubsub unavailable; summary will not be published", cfg.PubSubTopic, err)
		} else {
			defer client.Close()
			refresherOpts.Notifier = workflow.NewPubSubNotifier(client, cfg.PubSubTopic, logger)
		}
	}

	summary, err := workflow.NewSnapshotRefresher(store, refresherOpts).Run(ctx, workflow.RefreshRequest{
		Dates:        dates,
		Regions:      utils.SplitCodes(*regions),
		Brands:       utils.SplitCodes(*brands),
		Resources:    workflow.ReportResources(selected),
		Mode:         refreshMode,
		Concurrency:  *concurrency,
		SkipExisting: *skipExisting,
		Trigger:      "cli",
	})
	if err != nil {
		if errors.Is(err, utils.ErrRefreshInProgress) {
			fmt.Fprintln(os.Stderr, "another snapshot refresh is running; nothing to do")
		}
		fail("run", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fail("summary", err)
	}
}

func targetDates(endStr string, days int, timezone string) ([]time.Time, error) {
	if days <= 0 {
		return nil, fmt.Errorf("-days must be positive, got %d", days)
	}
	if strings.TrimSpace(endStr) != "" {
		end, err := utils.ParseDate(endStr)
		if err != nil {
			return nil, fmt.Errorf("invalid end date: %w", err)
		}
		return workflow.DateRange(end, days), nil
	}
	today, err := utils.ConvertToDate(time.Now(), timezone)
	if err != nil {
		return nil, err
	}
	return workflow.RefreshWindow(today, days), nil
}

func fail(stage string, err error) {
	fmt.Fprintf(os.Stderr, "snapshot refresh %s: %v\n", stage, err)
	os.Exit(1)
}
