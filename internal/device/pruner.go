package device

import (
	"context"
	"time"
)

// Pruner periodically deletes readings past the retention window.
type Pruner struct {
	repo      ReadingRepository
	retention time.Duration
	interval  time.Duration
	logger    Logger
	now       func() time.Time
}

// NewPruner creates a Pruner. A non-positive retention disables pruning.
func NewPruner(repo ReadingRepository, retention, interval time.Duration) *Pruner {
	return &Pruner{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the pruner.
func (p *Pruner) SetLogger(logger Logger) {
	p.logger = logger
}

// Run prunes once immediately and then every interval until ctx ends.
func (p *Pruner) Run(ctx context.Context) {
	if p.retention <= 0 || p.interval <= 0 {
		p.logger.Info("reading retention disabled")
		return
	}

	p.PruneOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce deletes readings older than the retention window.
func (p *Pruner) PruneOnce(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.retention)
	n, err := p.repo.PruneReadings(ctx, cutoff)
	if err != nil {
		p.logger.Error("pruning readings failed", "error", err)
		return 0
	}
	if n > 0 {
		p.logger.Info("pruned readings", "deleted", n, "before", cutoff.UTC().Format(time.RFC3339))
	}
	return n
}
