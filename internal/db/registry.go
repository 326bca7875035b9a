package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fleetsync/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Pair keys one pooled connection: a site and its equipment store database.
type Pair struct {
	Site     string
	Database string
}

func (p Pair) String() string { return p.Site + "/" + p.Database }

// SiteSource is the activation collaborator: which pairs are currently
// enabled and how to connect to them. Mutated externally; re-read by
// Reload.
type SiteSource interface {
	IsEnabled(site, database string) bool
	EnabledPairs() []Pair
	Connection(site, database string) (config.DatabaseConfig, bool)
	SiteDatabase(site string) (string, bool)
}

// Registry owns one pgx pool per (site, database) pair. Pools are created
// lazily on first Acquire, health-checked on reuse only, and torn down on
// Release or Reload. All map mutations are mutually exclusive; pollers
// holding a pool handle across a Reload see their queries fail and recover
// on the next cycle.
type Registry struct {
	mu     sync.RWMutex
	pools  map[Pair]*pgxpool.Pool
	source SiteSource
	cfg    *config.Config
	logger *zap.SugaredLogger
}

func NewRegistry(cfg *config.Config, source SiteSource, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		pools:  make(map[Pair]*pgxpool.Pool),
		source: source,
		cfg:    cfg,
		logger: logger,
	}
}

// IsEnabled reports whether the pair is administratively active. Callers
// other than the warm-up path must check this before Acquire.
func (r *Registry) IsEnabled(site, database string) bool {
	return r.source.IsEnabled(site, database)
}

// Acquire returns a healthy pooled connection for the pair, constructing
// and caching one if needed. A cached pool that fails its liveness probe
// is evicted and rebuilt once before giving up.
func (r *Registry) Acquire(ctx context.Context, site, database string) (*pgxpool.Pool, error) {
	pair := Pair{Site: site, Database: database}

	if !r.source.IsEnabled(site, database) {
		if _, known := r.source.Connection(site, database); !known {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
		}
		return nil, fmt.Errorf("%w: %s", ErrDisabled, pair)
	}

	r.mu.RLock()
	pool, ok := r.pools[pair]
	r.mu.RUnlock()

	if ok {
		if err := pool.Ping(ctx); err == nil {
			return pool, nil
		}
		// Half-dead handle: evict so the rebuild below starts clean.
		r.logger.Warnw("cached connection failed liveness probe, rebuilding",
			"pair", pair.String())
		r.evict(pair)
	}

	pool, err := r.build(ctx, pair)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.pools[pair]; ok {
		// Lost the race to a concurrent Acquire; keep the first pool.
		r.mu.Unlock()
		pool.Close()
		return existing, nil
	}
	r.pools[pair] = pool
	r.mu.Unlock()

	return pool, nil
}

// build constructs and probes a new pool for the pair.
func (r *Registry) build(ctx context.Context, pair Pair) (*pgxpool.Pool, error) {
	dbCfg, ok := r.source.Connection(pair.Site, pair.Database)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	if dbCfg.Host == "" || dbCfg.User == "" || dbCfg.Password == "" || dbCfg.Name == "" {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, pair)
	}

	port := dbCfg.Port
	if port == 0 {
		port = 5432
	}
	url := fmt.Sprintf("postgresql://%s:%s@%s:%d/%s",
		dbCfg.User, dbCfg.Password, dbCfg.Host, port, dbCfg.Name)

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, &ConnectionError{Pair: pair, Err: err}
	}

	// Simple protocol avoids prepared-statement collisions behind
	// connection poolers on the site side.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	poolConfig.ConnConfig.TLSConfig = r.cfg.CreatePostgresTLSConfig(dbCfg.Host)
	poolConfig.MaxConns = 4
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, &ConnectionError{Pair: pair, Err: err}
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &ConnectionError{Pair: pair, Err: err}
	}

	r.logger.Infow("connection pool created", "pair", pair.String())
	return pool, nil
}

// Release closes and evicts the cached pool for the pair. Idempotent.
func (r *Registry) Release(site, database string) {
	r.evict(Pair{Site: site, Database: database})
}

// ReleaseAll closes and evicts every cached pool. Idempotent.
func (r *Registry) ReleaseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pair, pool := range r.pools {
		pool.Close()
		delete(r.pools, pair)
	}
}

// Reload tears down every cached pool, re-reads the enabled set from the
// activation source and warms each enabled pair eagerly. Used when the
// operator changes which sites are active.
func (r *Registry) Reload(ctx context.Context) {
	r.ReleaseAll()

	for _, pair := range r.source.EnabledPairs() {
		pool, err := r.build(ctx, pair)
		if err != nil {
			r.logger.Warnw("warm-up failed, pair will retry on next acquire",
				"pair", pair.String(), "error", err)
			continue
		}
		r.mu.Lock()
		r.pools[pair] = pool
		r.mu.Unlock()
	}
	r.logger.Infow("registry reloaded", "enabled", len(r.source.EnabledPairs()))
}

// Ping probes every cached pool; used by the readiness endpoint.
func (r *Registry) Ping(ctx context.Context) error {
	r.mu.RLock()
	pools := make(map[Pair]*pgxpool.Pool, len(r.pools))
	for pair, pool := range r.pools {
		pools[pair] = pool
	}
	r.mu.RUnlock()

	for pair, pool := range pools {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping %s: %w", pair, err)
		}
	}
	return nil
}

// PoolCount returns the number of cached pools.
func (r *Registry) PoolCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

func (r *Registry) evict(pair Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pool, ok := r.pools[pair]; ok {
		pool.Close()
		delete(r.pools, pair)
	}
}
