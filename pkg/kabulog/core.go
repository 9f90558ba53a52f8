// Package kabulog owns the persistent state of a portfolio (assets,
// holdings, account types, history) and runs the refresh pipeline that turns
// market data into scored and valued holdings.
package kabulog

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"kabulog/pkg/analytics"
	"kabulog/pkg/cooldown"
	"kabulog/pkg/marketdata"
)

// RefreshKey identifies the bulk refresh timestamp in fetch_timestamps.
const RefreshKey = "bulk_refresh"

// Options controls Core initialization.
type Options struct {
	DBPath string
	Logger *slog.Logger

	// Source overrides the HTTP market data client built from MarketData.
	Source     marketdata.Source
	MarketData marketdata.Options

	// RulesPath points at a JSON or TOML highlight rules file. Empty means defaults.
	RulesPath string

	RefreshWindow    time.Duration
	FetchConcurrency int
	Clock            cooldown.Clock
	AfterFunc        cooldown.AfterFunc
}

// Core provides access to kabulog business logic and storage.
type Core struct {
	db          *sql.DB
	logger      *slog.Logger
	source      marketdata.Source
	rules       *RulesFile
	timestamps  *TimestampStore
	refresh     *cooldown.Coordinator[*Portfolio]
	clock       cooldown.Clock
	completers  map[string]completer
	concurrency int
	dbPath      string
}

// Open initializes a Core using the provided database path.
func Open(dbPath string) (*Core, error) {
	return OpenWithOptions(Options{DBPath: dbPath})
}

// OpenWithOptions initializes a Core using the provided options.
func OpenWithOptions(opts Options) (*Core, error) {
	if opts.DBPath == "" {
		return nil, errors.New("db path is required")
	}
	cleanPath := filepath.Clean(opts.DBPath)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite performs best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Warn("pragma busy_timeout failed", "err", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logger.Warn("pragma foreign_keys failed", "err", err)
	}

	if err := initDatabase(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}

	source := opts.Source
	if source == nil {
		mdOpts := opts.MarketData
		if mdOpts.Logger == nil {
			mdOpts.Logger = logger
		}
		source = marketdata.NewClient(mdOpts)
	}
	clock := opts.Clock
	if clock == nil {
		clock = cooldown.SystemClock
	}
	window := opts.RefreshWindow
	if window <= 0 {
		window = cooldown.BulkRefreshWindow
	}

	timestamps := NewTimestampStore(db)
	gate := cooldown.NewGate(RefreshKey, window, timestamps, clock)
	refresh := cooldown.NewCoordinator(gate, cooldown.Options[*Portfolio]{
		AfterFunc: opts.AfterFunc,
		Logger:    logger,
	})

	return &Core{
		db:          db,
		logger:      logger,
		source:      source,
		rules:       NewRulesFile(opts.RulesPath, logger),
		timestamps:  timestamps,
		refresh:     refresh,
		clock:       clock,
		completers:  defaultCompleters(),
		concurrency: defaultInt(opts.FetchConcurrency, 4),
		dbPath:      cleanPath,
	}, nil
}

// Close stops pending refreshes and releases database resources.
func (c *Core) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	c.refresh.Stop()
	return c.db.Close()
}

// DBPath returns the underlying database path.
func (c *Core) DBPath() string {
	return c.dbPath
}

// Logger returns the core logger.
func (c *Core) Logger() *slog.Logger {
	return c.logger
}

// Rules returns the current highlight rules.
func (c *Core) Rules() analytics.HighlightRules {
	return c.rules.Get()
}

func (c *Core) now() time.Time {
	return c.clock.Now()
}

func defaultInt(v int, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
