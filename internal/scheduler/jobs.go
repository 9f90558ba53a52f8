package scheduler

import (
	"context"
	"log/slog"

	"kabulog/pkg/kabulog"
)

// Snapshotter saves the monthly portfolio snapshot.
type Snapshotter interface {
	SnapshotNow(ctx context.Context) (string, int, error)
}

// SnapshotJob stores the current month's snapshot. Running it again in the
// same month overwrites the earlier rows.
type SnapshotJob struct {
	core   Snapshotter
	logger *slog.Logger
}

// NewSnapshotJob creates a snapshot job.
func NewSnapshotJob(core Snapshotter, logger *slog.Logger) *SnapshotJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotJob{core: core, logger: logger.With("job", "monthly_snapshot")}
}

// Name returns the job name.
func (j *SnapshotJob) Name() string { return "monthly_snapshot" }

// Run saves the snapshot. A cooldown refusal with nothing cached is skipped.
func (j *SnapshotJob) Run(ctx context.Context) error {
	month, rows, err := j.core.SnapshotNow(ctx)
	if kabulog.IsErrorCode(err, kabulog.ErrCodeCooldown) {
		j.logger.Info("snapshot skipped during cooldown", "err", err)
		return nil
	}
	if err != nil {
		return err
	}
	j.logger.Info("snapshot saved", "month", month, "rows", rows)
	return nil
}

// Refresher runs the gated portfolio refresh.
type Refresher interface {
	Portfolio(ctx context.Context) (kabulog.PortfolioResult, error)
}

// WarmCacheJob keeps the refresh cache populated so API reads rarely wait.
type WarmCacheJob struct {
	core   Refresher
	logger *slog.Logger
}

// NewWarmCacheJob creates a cache warm job.
func NewWarmCacheJob(core Refresher, logger *slog.Logger) *WarmCacheJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &WarmCacheJob{core: core, logger: logger.With("job", "warm_cache")}
}

// Name returns the job name.
func (j *WarmCacheJob) Name() string { return "warm_cache" }

// Run requests a refresh; inside the cooldown window this serves the cache
// and is not an error.
func (j *WarmCacheJob) Run(ctx context.Context) error {
	result, err := j.core.Portfolio(ctx)
	if kabulog.IsErrorCode(err, kabulog.ErrCodeCooldown) {
		j.logger.Debug("refresh cooling down", "err", err)
		return nil
	}
	if err != nil {
		return err
	}
	j.logger.Debug("portfolio warmed", "stale", result.Stale, "stocks", len(result.Portfolio.Stocks))
	return nil
}
