package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CapabilitySweeper periodically purges expired entries from a
// MemoryCapabilityCache. Lookups already ignore expired entries; sweeping
// bounds memory for providers that stop being used.
type CapabilitySweeper struct {
	cache    *MemoryCapabilityCache
	ttl      time.Duration
	schedule string
	now      func() time.Time
	onSweep  func(removed, remaining int)

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	logger  *slog.Logger
}

// NewCapabilitySweeper creates a sweeper running on a standard cron schedule.
func NewCapabilitySweeper(cache *MemoryCapabilityCache, ttl time.Duration, schedule string, logger *slog.Logger) *CapabilitySweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &CapabilitySweeper{
		cache:    cache,
		ttl:      ttl,
		schedule: schedule,
		now:      time.Now,
		cron:     cron.New(),
		logger:   logger.With("component", "llm.capability_sweeper"),
	}
}

// OnSweep registers fn to be called after every sweep with the number of
// removed entries and the cache size that remains. It must be called before
// Start.
func (s *CapabilitySweeper) OnSweep(fn func(removed, remaining int)) {
	s.onSweep = fn
}

// Start schedules sweeping until ctx is cancelled or Stop is called. An empty
// schedule or a zero TTL leaves the sweeper idle.
func (s *CapabilitySweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" || s.ttl <= 0 {
		s.logger.Debug("capability sweep disabled", "schedule", s.schedule, "ttl", s.ttl)
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep() }); err != nil {
		return fmt.Errorf("failed to schedule capability sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("capability sweeper started", "schedule", s.schedule, "ttl", s.ttl)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Sweep runs one purge and returns the number of removed entries.
func (s *CapabilitySweeper) Sweep() int {
	removed := s.cache.Sweep(s.now(), s.ttl)
	if removed > 0 {
		s.logger.Debug("expired capabilities removed", "count", removed)
	}
	if s.onSweep != nil {
		s.onSweep(removed, s.cache.Len())
	}
	return removed
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *CapabilitySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("capability sweeper stopped")
	}
}
