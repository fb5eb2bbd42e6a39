package monitor

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks in-process performance for the status endpoint.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	PlaceLatency *LatencyHistogram
	TickLatency  *LatencyHistogram
	CloseLatency *LatencyHistogram

	// Counters
	ordersProcessed  uint64
	ticksProcessed   uint64
	signalsAccepted  uint64
	signalsDiscarded uint64
	errorsCount      uint64

	activeAccounts int
	startedAt      time.Time
}

// LatencyHistogram keeps the most recent latency samples in a ring.
type LatencyHistogram struct {
	mu     sync.Mutex
	ring   []time.Duration
	next   int
	filled bool
	stale  bool
	stats  LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		PlaceLatency: NewLatencyHistogram(1000),
		TickLatency:  NewLatencyHistogram(1000),
		CloseLatency: NewLatencyHistogram(1000),
		startedAt:    time.Now(),
	}
}

// NewLatencyHistogram keeps up to size samples (1000 when size <= 0).
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{ring: make([]time.Duration, size)}
}

// Record adds a sample given in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.RecordDuration(time.Duration(latencyMs * float64(time.Millisecond)))
}

// RecordDuration adds a sample, overwriting the oldest once the ring is full.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.mu.Lock()
	h.ring[h.next] = d
	h.next++
	if h.next == len(h.ring) {
		h.next, h.filled = 0, true
	}
	h.stale = true
	h.mu.Unlock()
}

// Stats reports the window in milliseconds. The result is cached until the
// next sample arrives.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stale {
		return h.stats
	}

	n := h.next
	if h.filled {
		n = len(h.ring)
	}
	if n == 0 {
		return LatencyStats{}
	}
	window := slices.Clone(h.ring[:n])
	slices.Sort(window)

	var sum time.Duration
	for _, d := range window {
		sum += d
	}
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	at := func(q float64) float64 { return ms(window[int(float64(n-1)*q)]) }

	h.stats = LatencyStats{
		Min:   ms(window[0]),
		Max:   ms(window[n-1]),
		Avg:   ms(sum) / float64(n),
		P50:   at(0.50),
		P95:   at(0.95),
		P99:   at(0.99),
		Count: n,
	}
	h.stale = false
	return h.stats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementOrders increments placed orders counter.
func (m *SystemMetrics) IncrementOrders() {
	atomic.AddUint64(&m.ordersProcessed, 1)
}

// IncrementTicks increments processed ticks counter.
func (m *SystemMetrics) IncrementTicks() {
	atomic.AddUint64(&m.ticksProcessed, 1)
}

// IncrementSignals counts a signal by whether it passed the confidence gate.
func (m *SystemMetrics) IncrementSignals(accepted bool) {
	if accepted {
		atomic.AddUint64(&m.signalsAccepted, 1)
		return
	}
	atomic.AddUint64(&m.signalsDiscarded, 1)
}

// IncrementErrors increments error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// SetActiveAccounts records the number of live account engines.
func (m *SystemMetrics) SetActiveAccounts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeAccounts = n
}

// MetricsSnapshot is a point-in-time view of SystemMetrics.
type MetricsSnapshot struct {
	PlaceLatency     LatencyStats `json:"place_latency"`
	TickLatency      LatencyStats `json:"tick_latency"`
	CloseLatency     LatencyStats `json:"close_latency"`
	OrdersProcessed  uint64       `json:"orders_processed"`
	TicksProcessed   uint64       `json:"ticks_processed"`
	SignalsAccepted  uint64       `json:"signals_accepted"`
	SignalsDiscarded uint64       `json:"signals_discarded"`
	ErrorsCount      uint64       `json:"errors_count"`
	ActiveAccounts   int          `json:"active_accounts"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	Uptime           string       `json:"uptime"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	accounts := m.activeAccounts
	m.mu.RUnlock()

	return MetricsSnapshot{
		PlaceLatency:     m.PlaceLatency.Stats(),
		TickLatency:      m.TickLatency.Stats(),
		CloseLatency:     m.CloseLatency.Stats(),
		OrdersProcessed:  atomic.LoadUint64(&m.ordersProcessed),
		TicksProcessed:   atomic.LoadUint64(&m.ticksProcessed),
		SignalsAccepted:  atomic.LoadUint64(&m.signalsAccepted),
		SignalsDiscarded: atomic.LoadUint64(&m.signalsDiscarded),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		ActiveAccounts:   accounts,
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		Uptime:           time.Since(m.startedAt).Truncate(time.Second).String(),
		Timestamp:        time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
