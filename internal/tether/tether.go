// Package tether assembles the daemon: adapters, mapping store, sync
// engine, poll driver, and the optional status server and digest
// scheduler, wired together under one lifecycle.
package tether

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alekspetrov/tether/internal/adapters/gitlab"
	"github.com/alekspetrov/tether/internal/adapters/redmine"
	"github.com/alekspetrov/tether/internal/config"
	"github.com/alekspetrov/tether/internal/digest"
	"github.com/alekspetrov/tether/internal/engine"
	"github.com/alekspetrov/tether/internal/gateway"
	"github.com/alekspetrov/tether/internal/logging"
	"github.com/alekspetrov/tether/internal/store"
)

// Tether is the running daemon. Components are built once in New and
// share a single cancellation context.
type Tether struct {
	config *config.Config

	store       *store.Store
	metrics     *engine.Metrics
	engine      *engine.Engine
	driver      *engine.Driver
	gateway     *gateway.Server
	digestStore *digest.Store
	digestSched *digest.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option adjusts daemon construction.
type Option func(*options)

type options struct {
	dryRun bool
}

// WithDryRun makes every pass log its intended mutations instead of
// performing them. Canonical snapshots are not advanced.
func WithDryRun(dryRun bool) Option {
	return func(o *options) { o.dryRun = dryRun }
}

// New builds the daemon from configuration. The mapping store and, when
// enabled, the digest store are opened here; Stop closes them.
func New(cfg *config.Config, opts ...Option) (*Tether, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tether{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	st, err := store.New(cfg.Storage.ConnectionString)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open mapping store: %w", err)
	}
	t.store = st

	t.metrics = engine.NewMetrics()

	tracker := redmine.NewClient(*cfg.Redmine)
	forge := gitlab.NewClient(*cfg.GitLab, cfg.CategoryKeys)

	t.engine = engine.New(engine.Config{
		CategoryKeys:       cfg.CategoryKeys,
		CustomFieldName:    cfg.Redmine.CustomFieldName,
		TrackerLinkBase:    cfg.Redmine.LinkBase(),
		ForgeLinkBase:      cfg.GitLab.LinkBase(),
		ProjectConcurrency: cfg.Polling.ProjectConcurrency,
		DryRun:             o.dryRun,
	}, tracker, forge, st, t.metrics)

	t.driver = engine.NewDriver(t.engine, cfg.Polling.Interval(), cfg.Polling.Jitter())

	observers := make([]engine.PassObserver, 0, 2)

	if cfg.Digest != nil && cfg.Digest.Enabled {
		ds, err := digest.Open(cfg.Digest.Path)
		if err != nil {
			st.Close()
			cancel()
			return nil, fmt.Errorf("failed to open digest store: %w", err)
		}
		t.digestStore = ds
		t.digestSched = digest.NewScheduler(digest.NewGenerator(ds, cfg.Digest), ds, cfg.Digest)
		observers = append(observers, &digestRecorder{store: ds})
	}

	if cfg.Server != nil && cfg.Server.Enabled {
		serverOpts := []gateway.ServerOption{
			gateway.WithStatusSource(t.driver),
			gateway.WithMetricsSource(t.metrics),
		}
		if t.digestStore != nil {
			serverOpts = append(serverOpts, gateway.WithDigestSource(t.digestStore))
		}
		t.gateway = gateway.NewServer(cfg.Server, serverOpts...)
		observers = append(observers, t.gateway)
	}

	switch len(observers) {
	case 0:
	case 1:
		t.driver.SetObserver(observers[0])
	default:
		t.driver.SetObserver(&passFanout{observers: observers})
	}

	return t, nil
}

// Start launches the long-running components. The poll driver and the
// status server run on daemon-owned goroutines; Start itself returns
// immediately.
func (t *Tether) Start() error {
	log := logging.WithComponent("tether")
	log.Info("starting",
		"polling", t.config.Polling.Enabled,
		"server", t.gateway != nil,
		"digest", t.digestSched != nil)

	if t.gateway != nil {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			if err := t.gateway.Start(t.ctx); err != nil {
				logging.WithComponent("gateway").Error("Status server stopped", "error", err)
			}
		}()
	}

	if t.digestSched != nil {
		if err := t.digestSched.Start(t.ctx); err != nil {
			return fmt.Errorf("failed to start digest scheduler: %w", err)
		}
	}

	if t.config.Polling.Enabled {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			if err := t.driver.Run(t.ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.WithComponent("driver").Error("Poll driver stopped", "error", err)
			}
		}()
	}

	return nil
}

// RunOnce executes a single sync pass outside the poll loop. It shares
// the driver's overlap guard, so a manual pass never runs concurrently
// with a scheduled one.
func (t *Tether) RunOnce(ctx context.Context) (*engine.PassReport, error) {
	return t.driver.RunOnce(ctx)
}

// Stop shuts everything down in reverse start order and closes the
// stores. Safe to call once; the daemon cannot be restarted.
func (t *Tether) Stop() error {
	log := logging.WithComponent("tether")
	log.Info("stopping")

	t.cancel()

	if t.digestSched != nil {
		t.digestSched.Stop()
	}
	if t.gateway != nil {
		if err := t.gateway.Shutdown(); err != nil {
			log.Error("Status server shutdown failed", "error", err)
		}
	}

	t.wg.Wait()

	if t.digestStore != nil {
		if err := t.digestStore.Close(); err != nil {
			log.Error("Failed to close digest store", "error", err)
		}
	}
	if err := t.store.Close(); err != nil {
		log.Error("Failed to close mapping store", "error", err)
	}

	log.Info("stopped")
	return nil
}

// Wait blocks until the daemon's goroutines have exited.
func (t *Tether) Wait() {
	t.wg.Wait()
}

// Status reports the state of every component for diagnostics.
func (t *Tether) Status() map[string]interface{} {
	status := map[string]interface{}{
		"polling": t.config.Polling.Enabled,
		"driver":  t.driver.Status(),
	}
	if t.gateway != nil {
		status["server"] = t.config.Server.Addr()
	}
	if t.digestSched != nil {
		status["digest"] = t.digestSched.Status()
	}
	return status
}

// passFanout relays pass lifecycle events to every interested
// component. The driver accepts a single observer; this is the
// splitter sitting in front of the status server and the digest
// recorder.
type passFanout struct {
	observers []engine.PassObserver
}

func (f *passFanout) PassStarted(at time.Time) {
	for _, o := range f.observers {
		o.PassStarted(at)
	}
}

func (f *passFanout) PassFinished(report *engine.PassReport, err error) {
	for _, o := range f.observers {
		o.PassFinished(report, err)
	}
}

// digestRecorder feeds finished passes into the digest activity store.
type digestRecorder struct {
	store *digest.Store
}

func (r *digestRecorder) PassStarted(time.Time) {}

func (r *digestRecorder) PassFinished(report *engine.PassReport, err error) {
	if report == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if recErr := r.store.RecordPass(ctx, report); recErr != nil {
		logging.WithComponent("digest").Error("Failed to record pass", "error", recErr)
	}
}
