package engine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/alekspetrov/tether/internal/logging"
)

// Driver runs the engine on a jittered interval. Exactly one pass runs
// at a time: a tick that fires while the previous pass is still going is
// skipped, and externally triggered passes obey the same guard.
type Driver struct {
	engine   *Engine
	interval time.Duration
	jitter   time.Duration

	mu                  sync.Mutex
	observer            PassObserver
	inFlight            bool
	lastRunAt           time.Time
	lastSuccessAt       time.Time
	consecutiveFailures int
	lastReport          *PassReport
}

// PassObserver receives pass lifecycle notifications. The driver calls
// it synchronously from the pass goroutine; implementations must not
// block. Skipped ticks produce no notifications.
type PassObserver interface {
	PassStarted(at time.Time)
	PassFinished(report *PassReport, err error)
}

// SetObserver installs the lifecycle observer. Call before Run.
func (d *Driver) SetObserver(o PassObserver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = o
}

// DriverStatus is the process-visible polling state served by the
// status endpoint and the dashboard.
type DriverStatus struct {
	Running             bool        `json:"running"`
	LastRunAt           *time.Time  `json:"last_run_at"`
	LastSuccessAt       *time.Time  `json:"last_success_at"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastReport          *PassReport `json:"last_report,omitempty"`
}

func NewDriver(engine *Engine, interval, jitter time.Duration) *Driver {
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	if jitter < 0 {
		jitter = 0
	}
	return &Driver{engine: engine, interval: interval, jitter: jitter}
}

// Run loops until the context is cancelled, sleeping interval plus a
// uniform random jitter between passes. The jitter keeps a fleet of
// instances from polling the remotes in lockstep.
func (d *Driver) Run(ctx context.Context) error {
	log := logging.WithComponent("driver")
	log.Info("poll driver started", "interval", d.interval, "jitter", d.jitter)

	timer := time.NewTimer(d.nextSleep())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("poll driver stopped")
			return ctx.Err()
		case <-timer.C:
		}
		if _, err := d.RunOnce(ctx); errors.Is(err, errPassInFlight) {
			log.Warn("previous pass still running, skipping tick")
		}
		timer.Reset(d.nextSleep())
	}
}

func (d *Driver) nextSleep() time.Duration {
	if d.jitter <= 0 {
		return d.interval
	}
	return d.interval + time.Duration(rand.Int63n(int64(d.jitter)))
}

// errPassInFlight reports a run attempt while another pass holds the
// guard. Callers treat it as a skip, not a failure.
var errPassInFlight = errors.New("a pass is already in flight")

// RunOnce executes a single pass under the overlap guard and records
// the outcome. A cancelled or failed pass does not advance the success
// time, so monitors see the gap.
func (d *Driver) RunOnce(ctx context.Context) (*PassReport, error) {
	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		return nil, errPassInFlight
	}
	d.inFlight = true
	d.lastRunAt = time.Now().UTC()
	obs := d.observer
	startedAt := d.lastRunAt
	d.mu.Unlock()

	if obs != nil {
		obs.PassStarted(startedAt)
	}

	report, err := d.engine.RunPass(ctx)

	d.mu.Lock()
	d.inFlight = false
	d.lastReport = report
	if err != nil {
		d.consecutiveFailures++
	} else {
		d.consecutiveFailures = 0
		d.lastSuccessAt = time.Now().UTC()
	}
	d.mu.Unlock()

	if obs != nil {
		obs.PassFinished(report, err)
	}

	return report, err
}

// Status returns a copy of the driver's state.
func (d *Driver) Status() DriverStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := DriverStatus{
		Running:             d.inFlight,
		ConsecutiveFailures: d.consecutiveFailures,
		LastReport:          d.lastReport,
	}
	if !d.lastRunAt.IsZero() {
		t := d.lastRunAt
		st.LastRunAt = &t
	}
	if !d.lastSuccessAt.IsZero() {
		t := d.lastSuccessAt
		st.LastSuccessAt = &t
	}
	return st
}
