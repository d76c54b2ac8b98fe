// Package snapshot caches compressed, timestamped report payloads per
// (section, resource, region, brand, date) in a remote key-value cache and keeps
// per region/brand index sets for bulk invalidation.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/retail_dashboard/config"
	"github.com/mmdatafocus/retail_dashboard/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("retail-dashboard/snapshot")

type Tier int

const (
	// TierFallback is used when a live request fills a miss.
	TierFallback Tier = iota
	// TierScheduled is used by the refresh job; it outlives several job runs.
	TierScheduled
)

func (t Tier) String() string {
	if t == TierScheduled {
		return "scheduled"
	}
	return "fallback"
}

type TTLPolicy struct {
	Fallback    time.Duration
	Scheduled   time.Duration
	IndexBuffer time.Duration
}

func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Fallback:    time.Hour,
		Scheduled:   72 * time.Hour,
		IndexBuffer: time.Hour,
	}
}

// PolicyFromConfig reads the ttl tiers from the SNAPSHOT_* settings.
func PolicyFromConfig(cfg *config.SnapshotConfig) TTLPolicy {
	return TTLPolicy{
		Fallback:    cfg.FallbackTTL(),
		Scheduled:   cfg.ScheduledTTL(),
		IndexBuffer: cfg.IndexBuffer(),
	}
}

func (p TTLPolicy) For(t Tier) time.Duration {
	if t == TierScheduled {
		return p.Scheduled
	}
	return p.Fallback
}

type Options struct {
	Namespace string
	TTL       TTLPolicy
	Logger    *logrus.Logger
	Now       func() time.Time
}

type Store struct {
	cache    Cache
	keys     KeyBuilder
	ttl      TTLPolicy
	logger   *logrus.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewStore(cache Cache, opts Options) (*Store, error) {
	if cache == nil {
		return nil, errors.New("snapshot store: cache is nil")
	}
	if opts.TTL == (TTLPolicy{}) {
		opts.TTL = DefaultTTLPolicy()
	}
	if opts.TTL.Fallback <= 0 || opts.TTL.Scheduled <= 0 {
		return nil, fmt.Errorf("snapshot store: ttl tiers must be positive (fallback=%s scheduled=%s)", opts.TTL.Fallback, opts.TTL.Scheduled)
	}
	if opts.Logger == nil {
		opts.Logger = config.GetLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		cache:    cache,
		keys:     NewKeyBuilder(opts.Namespace),
		ttl:      opts.TTL,
		logger:   opts.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      opts.Now,
	}, nil
}

func (s *Store) Keys() KeyBuilder { return s.keys }

func (s *Store) TTL(t Tier) time.Duration { return s.ttl.For(t) }

// getEncoded returns the stored value for key. Transport errors degrade to a miss.
func (s *Store) getEncoded(ctx context.Context, key Key) (string, string, bool, error) {
	full, err := s.keys.For(key)
	if err != nil {
		return "", "", false, err
	}
	val, ok, err := s.cache.Get(ctx, full)
	if err != nil {
		config.LogWarn(s.logger, "snapshot", "Get", "cache get failed; treating as miss", full, err)
		return full, "", false, nil
	}
	return full, val, ok, nil
}

// Get fetches and decodes the snapshot for key. A corrupt, invalid or
// mismatched value is logged and reported as a miss; only an invalid key is an error.
func Get[T any](ctx context.Context, s *Store, key Key) (*Envelope[T], bool, error) {
	ctx, span := tracer.Start(ctx, "snapshot.get", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	key = key.Normalize()
	full, val, ok, err := s.getEncoded(ctx, key)
	if err != nil || !ok {
		span.SetAttributes(attribute.Bool("snapshot.hit", false))
		return nil, false, err
	}
	span.SetAttributes(attribute.String("snapshot.key", full))

	env, err := Decode[T](val)
	if err == nil {
		err = s.check(key, &env)
	}
	if err != nil {
		config.LogWarn(s.logger, "snapshot", "Get", "discarding unreadable snapshot", full, err)
		span.SetAttributes(attribute.Bool("snapshot.hit", false))
		return nil, false, nil
	}
	span.SetAttributes(attribute.Bool("snapshot.hit", true))
	return &env, true, nil
}

func (s *Store) check(key Key, env any) error {
	if err := s.validate.Struct(env); err != nil {
		return fmt.Errorf("%w: %v", utils.ErrCorruptSnapshot, err)
	}
	if e, ok := env.(interface{ Key() (Key, error) }); ok {
		stored, err := e.Key()
		if err != nil {
			return fmt.Errorf("%w: %v", utils.ErrCorruptSnapshot, err)
		}
		if !stored.Equal(key) {
			return fmt.Errorf("%w: envelope is for %s, expected %s", utils.ErrCorruptSnapshot, stored, key)
		}
	}
	return nil
}

// Set encodes payload for key, writes it with ttl and records the key in the
// region and region/brand index sets. It returns the number of encoded bytes written.
// Index update failures are logged and do not fail the call.
func Set[T any](ctx context.Context, s *Store, key Key, payload T, ttl time.Duration) (int, error) {
	key = key.Normalize()
	env := NewEnvelope(key, payload, s.now())
	return put(ctx, s, key, &env, ttl)
}

// put writes an envelope already stamped for key.
func put[T any](ctx context.Context, s *Store, key Key, env *Envelope[T], ttl time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "snapshot.set", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	full, err := s.keys.For(key)
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("snapshot set %s: ttl must be positive", full)
	}
	if err := s.validate.Struct(env); err != nil {
		return 0, fmt.Errorf("snapshot set %s: invalid payload: %w", full, err)
	}
	encoded, err := Encode(*env)
	if err != nil {
		return 0, fmt.Errorf("snapshot set %s: %w", full, err)
	}
	span.SetAttributes(
		attribute.String("snapshot.key", full),
		attribute.Int("snapshot.bytes", len(encoded)),
		attribute.Int64("snapshot.ttl_seconds", int64(ttl/time.Second)),
	)

	if err := s.cache.Set(ctx, full, encoded, ttl); err != nil {
		config.LogError(s.logger, "snapshot", "Set", "cache set failed", full, err)
		if errors.Is(err, utils.ErrCacheUnavailable) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: set %s: %v", utils.ErrCacheUnavailable, full, err)
	}
	s.index(ctx, key, full, ttl+s.ttl.IndexBuffer)
	return len(encoded), nil
}

func (s *Store) index(ctx context.Context, key Key, full string, ttl time.Duration) {
	indexes := make([]string, 0, 2)
	if idx, err := s.keys.RegionBrandIndex(key.Region, key.Brand); err == nil {
		indexes = append(indexes, idx)
	}
	if idx, err := s.keys.RegionIndex(key.Region); err == nil {
		indexes = append(indexes, idx)
	}
	for _, idx := range indexes {
		if err := s.cache.SetAdd(ctx, idx, full, ttl); err != nil {
			config.LogWarn(s.logger, "snapshot", "Set", "index update failed; snapshot written", map[string]string{
				"index": idx,
				"key":   full,
			}, err)
		}
	}
}

// InvalidateByRegionBrand deletes every snapshot tracked for (region, brand) and the
// index set itself. An absent index deletes nothing and is not an error.
func (s *Store) InvalidateByRegionBrand(ctx context.Context, region, brand string) (int64, error) {
	idx, err := s.keys.RegionBrandIndex(region, brand)
	if err != nil {
		return 0, err
	}
	return s.invalidate(ctx, idx)
}

// InvalidateByRegion deletes every snapshot tracked for region across all brands.
func (s *Store) InvalidateByRegion(ctx context.Context, region string) (int64, error) {
	idx, err := s.keys.RegionIndex(region)
	if err != nil {
		return 0, err
	}
	return s.invalidate(ctx, idx)
}

func (s *Store) invalidate(ctx context.Context, idx string) (int64, error) {
	ctx, span := tracer.Start(ctx, "snapshot.invalidate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("snapshot.index", idx))

	members, err := s.cache.SetMembers(ctx, idx)
	if err != nil {
		config.LogError(s.logger, "snapshot", "Invalidate", "read index failed", idx, err)
		return 0, err
	}
	var deleted int64
	if len(members) > 0 {
		deleted, err = s.cache.Delete(ctx, members...)
		if err != nil {
			config.LogError(s.logger, "snapshot", "Invalidate", "delete members failed", idx, err)
			return 0, err
		}
	}
	if _, err := s.cache.Delete(ctx, idx); err != nil {
		config.LogError(s.logger, "snapshot", "Invalidate", "delete index failed", idx, err)
		return deleted, err
	}
	s.logger.WithFields(logrus.Fields{
		"index":   idx,
		"members": len(members),
		"deleted": deleted,
	}).Info("snapshot index invalidated")
	span.SetAttributes(attribute.Int64("snapshot.deleted", deleted))
	return deleted, nil
}

// GetOrFetch serves key from the cache or runs fetch and stores the result with the
// fallback tier. Failing to store is logged and the fresh payload is still returned.
func GetOrFetch[T any](ctx context.Context, s *Store, key Key, fetch func(context.Context) (T, error)) (*Envelope[T], bool, error) {
	if env, ok, err := Get[T](ctx, s, key); err != nil {
		return nil, false, err
	} else if ok {
		return env, true, nil
	}

	payload, err := fetch(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", utils.ErrFetchFailure, key, err)
	}
	key = key.Normalize()
	env := NewEnvelope(key, payload, s.now())
	if _, err := put(ctx, s, key, &env, s.TTL(TierFallback)); err != nil && !errors.Is(err, utils.ErrCacheUnavailable) {
		config.LogWarn(s.logger, "snapshot", "GetOrFetch", "snapshot not cached", key.String(), err)
	}
	return &env, false, nil
}
