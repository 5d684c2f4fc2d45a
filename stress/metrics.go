// Package stress drives the sync engine through high-volume passes and
// measures what the process does under the load: remote call traffic,
// goroutine counts, and heap growth.
package stress

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics accumulates measurements for one stress scenario. Call
// recording is atomic; heap and goroutine watermarks are sampled under
// a mutex. Concurrency limits are asserted by the call meter in the
// scenarios, not here.
type Metrics struct {
	callsStarted   atomic.Int64
	callsCompleted atomic.Int64
	callsFailed    atomic.Int64
	callNanos      atomic.Int64

	mu             sync.Mutex
	heapStart      uint64
	heapPeak       uint64
	heapEnd        uint64
	goroutinesPeak int
	goroutinesEnd  int
	finishedAt     time.Time

	startedAt time.Time
}

// NewMetrics snapshots the starting heap and goroutine count and opens
// the measurement window.
func NewMetrics() *Metrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	n := runtime.NumGoroutine()
	return &Metrics{
		heapStart:      ms.Alloc,
		heapPeak:       ms.Alloc,
		goroutinesPeak: n,
		goroutinesEnd:  n,
		startedAt:      time.Now(),
	}
}

// RecordCallStart counts a remote call entering an adapter.
func (m *Metrics) RecordCallStart() {
	m.callsStarted.Add(1)
}

// RecordCallComplete counts a call that returned normally.
func (m *Metrics) RecordCallComplete(d time.Duration) {
	m.callsCompleted.Add(1)
	m.callNanos.Add(int64(d))
}

// RecordCallFailed counts a call that returned an error, cancellation
// included.
func (m *Metrics) RecordCallFailed(d time.Duration) {
	m.callsFailed.Add(1)
	m.callNanos.Add(int64(d))
}

// SampleMemoryAndGoroutines updates the heap and goroutine watermarks.
// Scenarios call it from a ticker while a pass runs.
func (m *Metrics) SampleMemoryAndGoroutines() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	n := runtime.NumGoroutine()

	m.mu.Lock()
	defer m.mu.Unlock()

	if ms.Alloc > m.heapPeak {
		m.heapPeak = ms.Alloc
	}
	if n > m.goroutinesPeak {
		m.goroutinesPeak = n
	}
	m.goroutinesEnd = n
}

// Finalize closes the measurement window and takes the end-of-run
// snapshots.
func (m *Metrics) Finalize() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	m.heapEnd = ms.Alloc
	m.goroutinesEnd = runtime.NumGoroutine()
	m.finishedAt = time.Now()
	m.mu.Unlock()
}

// Duration is the length of the measurement window, live until
// Finalize and fixed afterwards.
func (m *Metrics) Duration() time.Duration {
	m.mu.Lock()
	end := m.finishedAt
	m.mu.Unlock()

	if end.IsZero() {
		return time.Since(m.startedAt)
	}
	return end.Sub(m.startedAt)
}

// CallsPerSecond is the completed call rate over the window.
func (m *Metrics) CallsPerSecond() float64 {
	d := m.Duration()
	if d <= 0 {
		return 0
	}
	return float64(m.callsCompleted.Load()) / d.Seconds()
}

// MemoryGrowth is heap bytes gained between construction and Finalize.
func (m *Metrics) MemoryGrowth() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.heapEnd > m.heapStart {
		return int64(m.heapEnd - m.heapStart)
	}
	return 0
}

// GetPeakMemory returns the highest sampled heap size.
func (m *Metrics) GetPeakMemory() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heapPeak
}

// GetPeakGoroutines returns the highest sampled goroutine count.
func (m *Metrics) GetPeakGoroutines() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.goroutinesPeak
}
