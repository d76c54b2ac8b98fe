package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Date is a YYYY-MM-DD config value.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalText(text []byte) error {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", string(text), err)
	}
	d.Time = t
	return nil
}

// SnapshotConfig holds everything the snapshot cache, the aging classifier and the
// refresh job read from the environment.
type SnapshotConfig struct {
	Namespace string `env:"SNAPSHOT_NAMESPACE" envDefault:"dashboard"`

	FallbackTTLSeconds  int `env:"SNAPSHOT_FALLBACK_TTL_SECONDS" envDefault:"3600"`
	ScheduledTTLSeconds int `env:"SNAPSHOT_SCHEDULED_TTL_SECONDS" envDefault:"259200"`
	IndexBufferSeconds  int `env:"SNAPSHOT_INDEX_BUFFER_SECONDS" envDefault:"3600"`

	RefreshMode        string   `env:"SNAPSHOT_REFRESH_MODE" envDefault:"sequential"`
	RefreshDays        int      `env:"SNAPSHOT_REFRESH_DAYS" envDefault:"1"`
	RefreshConcurrency int      `env:"SNAPSHOT_REFRESH_CONCURRENCY" envDefault:"8"`
	Regions            []string `env:"SNAPSHOT_REGIONS" envSeparator:"," envDefault:"HKMC,TW"`
	Brands             []string `env:"SNAPSHOT_BRANDS" envSeparator:"," envDefault:"M,X"`

	// Stock snapshots dated before the cutover only exist in the monthly legacy tables.
	LegacyCutover Date `env:"SNAPSHOT_LEGACY_CUTOVER" envDefault:"2024-01-01"`

	// ReportingCurrency is what every amount is converted to. Empty disables conversion.
	ReportingCurrency string `env:"SNAPSHOT_REPORTING_CURRENCY" envDefault:"HKD"`

	Timezone    string `env:"SNAPSHOT_TIMEZONE" envDefault:"Asia/Hong_Kong"`
	SlowMs      int64  `env:"SNAPSHOT_SLOW_MS" envDefault:"500"`
	PubSubTopic string `env:"SNAPSHOT_PUBSUB_TOPIC"`
}

func init() {
	// Load env from .env
	godotenv.Load()
}

func LoadSnapshotConfig() (*SnapshotConfig, error) {
	cfg := &SnapshotConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse snapshot config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *SnapshotConfig) validate() error {
	if strings.TrimSpace(c.Namespace) == "" {
		return fmt.Errorf("SNAPSHOT_NAMESPACE must not be empty")
	}
	if c.FallbackTTLSeconds <= 0 || c.ScheduledTTLSeconds <= 0 {
		return fmt.Errorf("snapshot ttl must be positive (fallback=%d scheduled=%d)", c.FallbackTTLSeconds, c.ScheduledTTLSeconds)
	}
	if c.ScheduledTTLSeconds < c.FallbackTTLSeconds {
		return fmt.Errorf("scheduled ttl (%ds) must not be shorter than fallback ttl (%ds)", c.ScheduledTTLSeconds, c.FallbackTTLSeconds)
	}
	if c.IndexBufferSeconds < 0 {
		return fmt.Errorf("SNAPSHOT_INDEX_BUFFER_SECONDS must not be negative")
	}
	if c.RefreshDays <= 0 {
		return fmt.Errorf("SNAPSHOT_REFRESH_DAYS must be positive")
	}
	if c.RefreshConcurrency <= 0 {
		c.RefreshConcurrency = 1
	}
	c.ReportingCurrency = strings.ToUpper(strings.TrimSpace(c.ReportingCurrency))
	c.Regions = normalizeCodes(c.Regions)
	c.Brands = normalizeCodes(c.Brands)
	return nil
}

func (c *SnapshotConfig) FallbackTTL() time.Duration {
	return time.Duration(c.FallbackTTLSeconds) * time.Second
}

func (c *SnapshotConfig) ScheduledTTL() time.Duration {
	return time.Duration(c.ScheduledTTLSeconds) * time.Second
}

func (c *SnapshotConfig) IndexBuffer() time.Duration {
	return time.Duration(c.IndexBufferSeconds) * time.Second
}

func (c *SnapshotConfig) SlowThreshold() time.Duration {
	return time.Duration(c.SlowMs) * time.Millisecond
}

func normalizeCodes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
