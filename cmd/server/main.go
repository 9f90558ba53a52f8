package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"kabulog/internal/api"
	"kabulog/internal/config"
	"kabulog/internal/logging"
	"kabulog/internal/scheduler"
	"kabulog/pkg/kabulog"
	"kabulog/pkg/marketdata"
)

type flags struct {
	configPath string
	dataDir    string
	host       string
	port       int
	rulesPath  string
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to kabulog.toml (default: user config dir, then ./kabulog.toml)")
	flag.StringVar(&f.dataDir, "data-dir", "", "Directory for the database and logs")
	flag.StringVar(&f.host, "host", "", "Host to bind the server to")
	flag.IntVar(&f.port, "port", 0, "Port to run the server on")
	flag.StringVar(&f.rulesPath, "rules", "", "Highlight rules file (JSON or TOML)")
	flag.Parse()

	if err := run(f); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	logDir, err := cfg.LogDir()
	if err != nil {
		return fmt.Errorf("resolve log dir: %w", err)
	}
	logger, writer, err := logging.NewLogger(logging.Options{
		Dir:    logDir,
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("failed to close log writer", "err", err)
		}
	}()

	opts, err := coreOptions(cfg, logger)
	if err != nil {
		return err
	}
	core, err := kabulog.OpenWithOptions(opts)
	if err != nil {
		return fmt.Errorf("init core: %w", err)
	}
	defer func() {
		if err := core.Close(); err != nil {
			logger.Error("failed to close core", "err", err)
		}
	}()

	sched, err := newScheduler(cfg, core, logger)
	if err != nil {
		return err
	}
	if sched != nil {
		sched.Start()
		defer sched.Stop()
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           middleware.Compress(5)(api.NewRouter(core)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	logger.Info("server starting", "addr", server.Addr, "db", opts.DBPath, "market_data", cfg.MarketData.BaseURL)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-stop:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	logger.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// loadConfig reads the config files and applies command line overrides.
func loadConfig(f flags) (*config.Config, error) {
	var paths []string
	if f.configPath != "" {
		paths = []string{f.configPath}
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return nil, err
	}
	if f.dataDir != "" {
		cfg.Storage.DataDir = f.dataDir
	}
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port > 0 {
		cfg.Server.Port = f.port
	}
	if f.rulesPath != "" {
		cfg.Rules.Path = f.rulesPath
	}
	return cfg, nil
}

func coreOptions(cfg *config.Config, logger *slog.Logger) (kabulog.Options, error) {
	dbPath, err := cfg.DBPath()
	if err != nil {
		return kabulog.Options{}, fmt.Errorf("resolve db path: %w", err)
	}
	return kabulog.Options{
		DBPath: dbPath,
		Logger: logger,
		MarketData: marketdata.Options{
			BaseURL:           cfg.MarketData.BaseURL,
			Logger:            logger,
			HTTPTimeout:       cfg.MarketData.GetTimeout(),
			CacheTTL:          cfg.MarketData.GetCacheTTL(),
			RequestsPerSecond: cfg.MarketData.RequestsPerSecond,
			MarketCapScale:    cfg.MarketData.MarketCapScale,
		},
		RulesPath:        strings.TrimSpace(cfg.Rules.Path),
		RefreshWindow:    cfg.Cooldown.GetBulkWindow(),
		FetchConcurrency: cfg.MarketData.Concurrency,
	}, nil
}

// newScheduler returns nil when background jobs are disabled.
func newScheduler(cfg *config.Config, core *kabulog.Core, logger *slog.Logger) (*scheduler.Scheduler, error) {
	if !cfg.Scheduler.Enabled {
		return nil, nil
	}
	sched := scheduler.New(logger, kabulog.TokyoLocation(), cfg.Scheduler.GetJobTimeout())
	if err := sched.AddJob(cfg.Scheduler.SnapshotCron, scheduler.NewSnapshotJob(core, logger)); err != nil {
		return nil, fmt.Errorf("snapshot schedule %q: %w", cfg.Scheduler.SnapshotCron, err)
	}
	if err := sched.AddJob(cfg.Scheduler.WarmCron, scheduler.NewWarmCacheJob(core, logger)); err != nil {
		return nil, fmt.Errorf("warm schedule %q: %w", cfg.Scheduler.WarmCron, err)
	}
	return sched, nil
}
