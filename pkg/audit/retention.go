package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes audit records older than the retention period, optionally
// on a cron schedule.
type Pruner struct {
	storage       Storage
	retentionDays int
	schedule      string
	now           func() time.Time
	logger        *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewPruner creates a pruner. retentionDays of 0 keeps records forever;
// an empty schedule disables Start.
func NewPruner(storage Storage, retentionDays int, schedule string, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		storage:       storage,
		retentionDays: retentionDays,
		schedule:      schedule,
		now:           time.Now,
		logger:        logger.With("component", "audit.retention"),
	}
}

// Prune deletes records whose request time is before the retention cutoff
// and returns how many were removed.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := p.now().AddDate(0, 0, -p.retentionDays)
	deleted, err := p.storage.Delete(ctx, &Query{EndTime: &cutoff})
	if err != nil {
		return 0, fmt.Errorf("prune records before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if deleted > 0 {
		p.logger.Info("pruned audit records",
			"deleted_count", deleted,
			"retention_days", p.retentionDays,
		)
	}
	return deleted, nil
}

// Start schedules Prune. It is a no-op when no schedule or retention is set.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.schedule == "" || p.retentionDays <= 0 || p.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(p.schedule, func() {
		if _, err := p.Prune(ctx); err != nil {
			p.logger.Error("scheduled pruning failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", p.schedule, err)
	}
	c.Start()
	p.cron = c
	p.running = true

	p.logger.Info("retention scheduler started",
		"schedule", p.schedule,
		"retention_days", p.retentionDays,
	)
	return nil
}

// Stop stops the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	<-p.cron.Stop().Done()
	p.running = false
	p.logger.Info("retention scheduler stopped")
}

// NextRun returns the next scheduled prune, or nil when not running.
func (p *Pruner) NextRun() *time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	entries := p.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
