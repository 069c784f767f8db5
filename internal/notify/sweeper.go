package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper evicts dead workers on a cron schedule, so a hub that sees no new
// registrations or dispatches still releases dead subscribers.
type Sweeper struct {
	hub      *Hub
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper for hub. An empty schedule disables it.
func NewSweeper(hub *Hub, schedule string, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		hub:      hub,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With(slog.String("component", "notify.sweeper")),
	}
}

// Start schedules the sweep and stops it when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("sweep schedule not configured, dead workers are evicted on dispatch only")
		return nil
	}
	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("dead worker sweeper started", slog.String("schedule", s.schedule))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Sweep runs one eviction pass and returns the number of workers removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	evicted := s.hub.EvictDead(ctx)
	if evicted > 0 {
		s.logger.InfoContext(ctx, "sweep evicted dead workers",
			slog.Int("evicted", evicted),
			slog.Int("remaining", s.hub.Len()))
	}
	return evicted
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("dead worker sweeper stopped")
}

// NextRun returns the next scheduled sweep, or nil when not running.
func (s *Sweeper) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
