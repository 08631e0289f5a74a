package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates a new database connection
func NewDB(cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = 25
	}
	poolConfig.MinConns = 5
	if poolConfig.MinConns > poolConfig.MaxConns {
		poolConfig.MinConns = poolConfig.MaxConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	dbLogger := logger.With().Str("component", "Database").Logger()
	dbLogger.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: dbLogger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations")

	migrations := []string{
		// Create pattern trade events table. One row per executed action of a
		// logical trade; replayed deliveries are dropped on the primary key.
		`CREATE TABLE IF NOT EXISTS pattern_trade_events (
			id VARCHAR(36) PRIMARY KEY,
			trade_id VARCHAR(64) NOT NULL,
			position VARCHAR(100) NOT NULL,
			pattern_key VARCHAR(50) NOT NULL,
			action_category VARCHAR(10) NOT NULL,
			scope JSONB NOT NULL DEFAULT '{}',
			realized_rr DOUBLE PRECISION NOT NULL DEFAULT 0,
			pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			timestamp TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_events_timestamp ON pattern_trade_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_events_trade_id ON pattern_trade_events(trade_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_events_pattern ON pattern_trade_events(pattern_key, action_category)`,

		// Create pattern episode events table. One row per gate decision
		// point, acted or skipped; outcome starts pending.
		`CREATE TABLE IF NOT EXISTS pattern_episode_events (
			id VARCHAR(36) PRIMARY KEY,
			position VARCHAR(100) NOT NULL,
			pattern_key VARCHAR(50) NOT NULL,
			action_category VARCHAR(10) NOT NULL,
			scope JSONB NOT NULL DEFAULT '{}',
			decision VARCHAR(10) NOT NULL,
			outcome VARCHAR(10) NOT NULL DEFAULT 'pending',
			factors JSONB,
			ref_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			timestamp TIMESTAMP NOT NULL,
			resolved_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episode_events_timestamp ON pattern_episode_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_episode_events_pattern ON pattern_episode_events(pattern_key, action_category)`,
		`CREATE INDEX IF NOT EXISTS idx_episode_events_pending ON pattern_episode_events(timestamp) WHERE outcome = 'pending'`,

		// Create lessons table. One row per mined slice, replaced wholesale
		// each mining generation.
		`CREATE TABLE IF NOT EXISTS lessons (
			id SERIAL PRIMARY KEY,
			module VARCHAR(30) NOT NULL,
			pattern_key VARCHAR(50) NOT NULL,
			action_category VARCHAR(10) NOT NULL,
			scope_subset VARCHAR(200) NOT NULL DEFAULT '',
			n INTEGER NOT NULL DEFAULT 0,
			acted_success INTEGER NOT NULL DEFAULT 0,
			acted_failure INTEGER NOT NULL DEFAULT 0,
			skipped_success INTEGER NOT NULL DEFAULT 0,
			skipped_failure INTEGER NOT NULL DEFAULT 0,
			pending INTEGER NOT NULL DEFAULT 0,
			win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			fp_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			miss_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			dodge_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			pressure DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_rr DOUBLE PRECISION NOT NULL DEFAULT 0,
			delta_rr DOUBLE PRECISION NOT NULL DEFAULT 0,
			reliability DOUBLE PRECISION NOT NULL DEFAULT 0,
			decay DOUBLE PRECISION NOT NULL DEFAULT 0,
			edge_raw DOUBLE PRECISION NOT NULL DEFAULT 0,
			status VARCHAR(10) NOT NULL DEFAULT 'active',
			generation BIGINT NOT NULL,
			window_start TIMESTAMP NOT NULL,
			window_end TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (module, pattern_key, action_category, scope_subset)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lessons_generation ON lessons(module, generation)`,
		`CREATE INDEX IF NOT EXISTS idx_lessons_status ON lessons(status)`,

		// Create overrides table. One row per (pattern, category, subset,
		// kind); the materializer restamps generations, retirement is a
		// status flip rather than a delete.
		`CREATE TABLE IF NOT EXISTS overrides (
			id SERIAL PRIMARY KEY,
			pattern_key VARCHAR(50) NOT NULL,
			action_category VARCHAR(10) NOT NULL,
			scope_subset VARCHAR(200) NOT NULL DEFAULT '',
			kind VARCHAR(20) NOT NULL,
			multiplier DOUBLE PRECISION NOT NULL,
			confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			lesson_n INTEGER NOT NULL DEFAULT 0,
			generation BIGINT NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'active',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (pattern_key, action_category, scope_subset, kind)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_overrides_status ON overrides(status)`,
		`CREATE INDEX IF NOT EXISTS idx_overrides_generation ON overrides(generation)`,

		// Create threshold defaults table, the persisted layer of threshold
		// resolution. Empty timeframe or phase and level zero act as
		// wildcards.
		`CREATE TABLE IF NOT EXISTS threshold_defaults (
			id SERIAL PRIMARY KEY,
			name VARCHAR(30) NOT NULL,
			timeframe VARCHAR(10) NOT NULL DEFAULT '',
			phase VARCHAR(5) NOT NULL DEFAULT '',
			level INTEGER NOT NULL DEFAULT 0,
			value DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (name, timeframe, phase, level)
		)`,

		// Create threshold overrides bridge table. Rows are projected from
		// drift overrides by the materializer and multiply the matching
		// default at resolution time.
		`CREATE TABLE IF NOT EXISTS threshold_overrides (
			id SERIAL PRIMARY KEY,
			name VARCHAR(30) NOT NULL,
			timeframe VARCHAR(10) NOT NULL DEFAULT '',
			phase VARCHAR(5) NOT NULL DEFAULT '',
			level INTEGER NOT NULL DEFAULT 0,
			multiplier DOUBLE PRECISION NOT NULL,
			pattern_key VARCHAR(50) NOT NULL,
			kind VARCHAR(20) NOT NULL,
			generation BIGINT NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'active',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (name, timeframe, phase, level)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threshold_overrides_status ON threshold_overrides(status)`,

		// Seed the persisted defaults with the compiled-in values so drift
		// multipliers have a base row to apply against. Operator edits win
		// on re-run.
		`INSERT INTO threshold_defaults (name, timeframe, phase, level, value) VALUES
			('ts_min', '', '', 0, 0.55),
			('ts_min', '', 'S1', 0, 0.60),
			('halo', '', '', 0, 0.015),
			('slope_min', '', '', 0, 0.0),
			('slope_min', '', 'S1', 0, -0.001),
			('window_bars', '', '', 0, 12),
			('window_bars', '', 'S1', 0, 6),
			('trim_ts_max', '', '', 0, 0.45),
			('exit_spread_min', '', '', 0, 0.0)
		ON CONFLICT (name, timeframe, phase, level) DO NOTHING`,

		// Create updated_at trigger function
		`CREATE OR REPLACE FUNCTION update_updated_at_column()
		RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = CURRENT_TIMESTAMP;
			RETURN NEW;
		END;
		$$ language 'plpgsql'`,

		`DROP TRIGGER IF EXISTS update_lessons_updated_at ON lessons`,
		`CREATE TRIGGER update_lessons_updated_at BEFORE UPDATE ON lessons
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,

		`DROP TRIGGER IF EXISTS update_overrides_updated_at ON overrides`,
		`CREATE TRIGGER update_overrides_updated_at BEFORE UPDATE ON overrides
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,

		`DROP TRIGGER IF EXISTS update_threshold_defaults_updated_at ON threshold_defaults`,
		`CREATE TRIGGER update_threshold_defaults_updated_at BEFORE UPDATE ON threshold_defaults
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,

		`DROP TRIGGER IF EXISTS update_threshold_overrides_updated_at ON threshold_overrides`,
		`CREATE TRIGGER update_threshold_overrides_updated_at BEFORE UPDATE ON threshold_overrides
		FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Int("migrations", len(migrations)).Msg("Database migrations completed")
	return nil
}
