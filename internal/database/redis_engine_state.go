// Redis-backed persistence for trend engine snapshots. Snapshots are
// best-effort: when Redis is unavailable the repository serves an in-memory
// fallback so bar evaluation never stalls, and resyncs once Redis returns.

package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
	"github.com/Recursive-Llama/Lotus-Trader-sub015/internal/trend"
)

const (
	// EngineKeyPrefix is the prefix for persisted engine snapshots.
	// Format: lotus:engine:{token}:{chain}:{timeframe}
	EngineKeyPrefix = "lotus:engine"

	// EngineIndexKey is the set of position keys with persisted snapshots.
	EngineIndexKey = "lotus:engines"

	// EngineStateTTL is the TTL for snapshot keys. A position whose feed has
	// been quiet for a week restarts cold anyway.
	EngineStateTTL = 7 * 24 * time.Hour
)

// RedisEngineStateRepository persists engine snapshots in Redis with an
// in-memory fallback. A short run of failures opens the circuit; while open,
// reads and writes go to the fallback map and Redis is re-probed at most
// once per check interval.
type RedisEngineStateRepository struct {
	client *redis.Client
	logger zerolog.Logger

	fallbackMu sync.RWMutex
	fallback   map[string]trend.EngineSnapshot

	breakerMu    sync.Mutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

var _ trend.StateRepository = (*RedisEngineStateRepository)(nil)

// NewRedisClient builds a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// NewRedisEngineStateRepository creates the snapshot repository. A nil
// client runs memory-only, which keeps tests and persistence-free deploys
// working.
func NewRedisEngineStateRepository(client *redis.Client, logger zerolog.Logger) *RedisEngineStateRepository {
	repo := &RedisEngineStateRepository{
		client:        client,
		logger:        logger.With().Str("component", "EngineStateRepository").Logger(),
		fallback:      make(map[string]trend.EngineSnapshot),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	if client == nil {
		repo.logger.Info().Msg("No Redis client configured, engine state is memory-only")
		return repo
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		repo.logger.Warn().Err(err).Msg("Redis unavailable at startup, engine state starts from memory")
		repo.lastCheck = time.Now()
	} else {
		repo.healthy = true
		repo.logger.Info().Msg("Redis connected for engine state")
	}
	return repo
}

// snapshotKey renders the Redis key for one position.
func snapshotKey(key trend.PositionKey) string {
	return fmt.Sprintf("%s:%s", EngineKeyPrefix, key.String())
}

// SaveSnapshot persists one evaluation snapshot. The fallback map is always
// updated; Redis failures are absorbed so the bar path never sees them.
func (r *RedisEngineStateRepository) SaveSnapshot(ctx context.Context, snap trend.EngineSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal engine snapshot: %w", err)
	}

	r.fallbackMu.Lock()
	r.fallback[snap.Key.String()] = snap
	r.fallbackMu.Unlock()

	if !r.usable(ctx) {
		return nil
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, snapshotKey(snap.Key), data, EngineStateTTL)
	pipe.SAdd(ctx, EngineIndexKey, snap.Key.String())
	pipe.Expire(ctx, EngineIndexKey, EngineStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.recordFailure(err)
		return nil
	}
	r.recordSuccess()
	return nil
}

// LoadSnapshot restores the last persisted snapshot for a position. A Redis
// miss or outage falls back to the in-memory map; found=false means the
// position starts cold.
func (r *RedisEngineStateRepository) LoadSnapshot(ctx context.Context, key trend.PositionKey) (trend.EngineSnapshot, bool, error) {
	if r.usable(ctx) {
		data, err := r.client.Get(ctx, snapshotKey(key)).Bytes()
		switch {
		case err == redis.Nil:
			r.recordSuccess()
			return r.loadFallback(key)
		case err != nil:
			r.recordFailure(err)
			return r.loadFallback(key)
		}
		r.recordSuccess()

		var snap trend.EngineSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return trend.EngineSnapshot{}, false, fmt.Errorf("failed to unmarshal engine snapshot: %w", err)
		}
		r.fallbackMu.Lock()
		r.fallback[key.String()] = snap
		r.fallbackMu.Unlock()
		return snap, true, nil
	}
	return r.loadFallback(key)
}

func (r *RedisEngineStateRepository) loadFallback(key trend.PositionKey) (trend.EngineSnapshot, bool, error) {
	r.fallbackMu.RLock()
	defer r.fallbackMu.RUnlock()
	snap, ok := r.fallback[key.String()]
	return snap, ok, nil
}

// SyncFallbackToRedis pushes every fallback snapshot back to Redis. Called
// on circuit recovery so positions that went quiet during the outage are
// not lost.
func (r *RedisEngineStateRepository) SyncFallbackToRedis(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("no redis client configured")
	}

	r.fallbackMu.RLock()
	snaps := make([]trend.EngineSnapshot, 0, len(r.fallback))
	for _, snap := range r.fallback {
		snaps = append(snaps, snap)
	}
	r.fallbackMu.RUnlock()

	synced := 0
	for _, snap := range snaps {
		data, err := json.Marshal(snap)
		if err != nil {
			r.logger.Warn().Err(err).Str("position", snap.Key.String()).Msg("Failed to marshal snapshot for resync")
			continue
		}
		pipe := r.client.TxPipeline()
		pipe.Set(ctx, snapshotKey(snap.Key), data, EngineStateTTL)
		pipe.SAdd(ctx, EngineIndexKey, snap.Key.String())
		pipe.Expire(ctx, EngineIndexKey, EngineStateTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to resync snapshot %s: %w", snap.Key.String(), err)
		}
		synced++
	}
	if synced > 0 {
		r.logger.Info().Int("snapshots", synced).Msg("Resynced fallback snapshots to Redis")
	}
	return nil
}

// IsRedisAvailable reports whether the circuit is closed.
func (r *RedisEngineStateRepository) IsRedisAvailable() bool {
	r.breakerMu.Lock()
	defer r.breakerMu.Unlock()
	return r.healthy
}

// EngineStateStats describes the repository for health endpoints.
type EngineStateStats struct {
	RedisAvailable bool `json:"redis_available"`
	FallbackSize   int  `json:"fallback_size"`
}

// Stats returns a point-in-time view of the repository.
func (r *RedisEngineStateRepository) Stats() EngineStateStats {
	r.fallbackMu.RLock()
	size := len(r.fallback)
	r.fallbackMu.RUnlock()
	return EngineStateStats{
		RedisAvailable: r.IsRedisAvailable(),
		FallbackSize:   size,
	}
}

// usable reports whether Redis should be tried. While the circuit is open it
// re-probes at most once per check interval, resyncing the fallback on
// recovery.
func (r *RedisEngineStateRepository) usable(ctx context.Context) bool {
	if r.client == nil {
		return false
	}

	r.breakerMu.Lock()
	if r.healthy {
		r.breakerMu.Unlock()
		return true
	}
	if time.Since(r.lastCheck) < r.checkInterval {
		r.breakerMu.Unlock()
		return false
	}
	r.lastCheck = time.Now()
	r.breakerMu.Unlock()

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return false
	}

	r.breakerMu.Lock()
	r.healthy = true
	r.failureCount = 0
	r.breakerMu.Unlock()

	r.logger.Info().Msg("Redis recovered for engine state")
	if err := r.SyncFallbackToRedis(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Fallback resync after recovery failed")
	}
	return true
}

func (r *RedisEngineStateRepository) recordFailure(err error) {
	r.breakerMu.Lock()
	defer r.breakerMu.Unlock()
	r.failureCount++
	if r.failureCount >= r.maxFailures && r.healthy {
		r.healthy = false
		r.lastCheck = time.Now()
		r.logger.Warn().
			Err(err).
			Int("failures", r.failureCount).
			Msg("Circuit breaker open, serving engine state from memory")
	}
}

func (r *RedisEngineStateRepository) recordSuccess() {
	r.breakerMu.Lock()
	r.healthy = true
	r.failureCount = 0
	r.breakerMu.Unlock()
}
