// Package sweeper rebuilds daily manifests from the index on a cron
// schedule. The index is the source of truth: a manifest abandoned after
// conflict-retry exhaustion converges the next time the sweeper runs.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mailroom-io/mailroom/internal/index"
	"github.com/mailroom-io/mailroom/internal/manifest"
	"github.com/mailroom-io/mailroom/internal/models"
)

// Sweeper periodically reconciles manifests against the index.
type Sweeper struct {
	index     index.Store
	manifests *manifest.Compactor
	logger    *log.Logger
	cron      *cron.Cron
	lookback  int
	now       func() time.Time
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithLookback sets how many days back each run rebuilds, today included.
func WithLookback(days int) Option {
	return func(s *Sweeper) {
		if days > 0 {
			s.lookback = days
		}
	}
}

// WithLogger overrides the sweeper's logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Sweeper over the given index and compactor.
func New(idx index.Store, manifests *manifest.Compactor, opts ...Option) *Sweeper {
	s := &Sweeper{
		index:     idx,
		manifests: manifests,
		logger:    log.Default(),
		lookback:  2,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start schedules the sweep with a standard 5-field cron spec and begins
// running it. It returns an error for an invalid spec.
func (s *Sweeper) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("sweeper: invalid schedule %q: %w", schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Printf("sweeper: scheduled %q, lookback %d days", schedule, s.lookback)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep rebuilds the manifests for the lookback window.
func (s *Sweeper) Sweep(ctx context.Context) {
	today := s.now().UTC()
	for i := 0; i < s.lookback; i++ {
		date := today.AddDate(0, 0, -i).Format("2006-01-02")
		if err := s.RebuildDate(ctx, date); err != nil {
			s.logger.Printf("sweeper: rebuild %s failed: %v", date, err)
		}
	}
}

// RebuildDate replaces one date's manifest with the index's view of it.
func (s *Sweeper) RebuildDate(ctx context.Context, date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("sweeper: invalid date %q: %w", date, err)
	}
	records, err := s.index.ListByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("sweeper: list %s: %w", date, err)
	}
	entries := make([]models.ManifestEntry, 0, len(records))
	for i := range records {
		entries = append(entries, records[i].ManifestEntry())
	}
	if err := s.manifests.Rebuild(ctx, date, entries); err != nil {
		return fmt.Errorf("sweeper: rebuild %s: %w", date, err)
	}
	s.logger.Printf("sweeper: rebuilt manifest %s (%d entries)", date, len(entries))
	return nil
}
