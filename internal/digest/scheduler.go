package digest

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alekspetrov/tether/internal/logging"
)

// passRetention is how long raw pass rows are kept after a digest run.
// Saved digests are kept forever.
const passRetention = 30 * 24 * time.Hour

// SchedulerStatus is the digest job's slice of the daemon status.
type SchedulerStatus struct {
	Enabled  bool      `json:"enabled"`
	Running  bool      `json:"running"`
	Schedule string    `json:"schedule"`
	Timezone string    `json:"timezone"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run"`
}

// Scheduler runs the digest job on its cron schedule.
type Scheduler struct {
	generator *Generator
	store     *Store
	config    *Config

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
}

// NewScheduler creates a digest scheduler on the configured timezone.
func NewScheduler(generator *Generator, store *Store, config *Config) *Scheduler {
	return &Scheduler{
		generator: generator,
		store:     store,
		config:    config,
		cron:      cron.New(cron.WithLocation(config.Location())),
	}
}

// Start registers the cron entry and starts the clock. Disabled configs
// and repeated calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	log := logging.WithComponent("digest")
	if !s.config.Enabled {
		log.Info("digest scheduler disabled")
		return nil
	}

	id, err := s.cron.AddFunc(s.config.Schedule, func() { s.tick(ctx) })
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	s.running = true

	log.Info("digest scheduler started",
		"schedule", s.config.Schedule,
		"timezone", s.config.Timezone,
		"next_run", s.cron.Entry(id).Next)
	return nil
}

// Stop halts the clock and waits for an in-flight job to finish.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false
	logging.WithComponent("digest").Info("digest scheduler stopped")
}

// Status reports the job state for /poll/status style surfaces.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStatus{
		Enabled:  s.config.Enabled,
		Running:  s.running,
		Schedule: s.config.Schedule,
		Timezone: s.config.Timezone,
	}
	if s.running {
		entry := s.cron.Entry(s.entryID)
		st.NextRun = entry.Next
		st.LastRun = entry.Prev
	}
	return st
}

// RunNow generates, renders, and persists a digest immediately, then
// prunes pass rows past retention. Works without Start.
func (s *Scheduler) RunNow(ctx context.Context) (*Digest, error) {
	d, err := s.generator.GenerateDaily(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveDigest(ctx, d); err != nil {
		return nil, err
	}
	if pruned, err := s.store.PrunePasses(ctx, time.Now().Add(-passRetention)); err == nil && pruned > 0 {
		logging.WithComponent("digest").Debug("pruned old pass rows", "rows", pruned)
	}
	return d, nil
}

// tick is the cron entry point.
func (s *Scheduler) tick(ctx context.Context) {
	log := logging.WithComponent("digest")

	d, err := s.RunNow(ctx)
	if err != nil {
		log.Error("failed to generate digest", "error", err)
		return
	}

	log.Info("digest generated",
		"passes", d.Stats.Passes,
		"changes", d.Stats.TotalChanges(),
		"projects", len(d.Projects))
}
