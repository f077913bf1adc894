// Package metrics is an in-process aggregator of server-wide counters,
// per-source ingestion volume and periodically sampled resource usage.
// Instances are explicitly constructed and injected, never global.
package metrics

import (
	"math"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultSourceCap      = 100
	defaultIntegrationCap = 50
	defaultSampleInterval = 30 * time.Second
	defaultSweepInterval  = 5 * time.Minute

	// defaultDiskCapacity is the assumed volume size when none is
	// configured. The disk gauge is a documented heuristic over the primary
	// data file, not a filesystem-capacity query.
	defaultDiskCapacity = 10 << 30

	// inaccessibleDiskPercent is reported when the data file cannot be
	// statted.
	inaccessibleDiskPercent = 5.0
)

// Config holds aggregator configuration.
type Config struct {
	// SourceCap bounds the per-source table; the periodic sweep evicts the
	// lowest-ranked entries beyond it.
	SourceCap int

	// IntegrationCap bounds tracked integration-metric namespaces.
	IntegrationCap int

	// SampleInterval drives CPU and disk sampling.
	SampleInterval time.Duration

	// SweepInterval drives bounded-retention sweeps.
	SweepInterval time.Duration

	// DataFile is the primary data file whose size approximates disk usage.
	DataFile string

	// DiskCapacityBytes is the assumed capacity the data file is measured
	// against.
	DiskCapacityBytes int64
}

// SourceStats is the tracked volume for one source label.
type SourceStats struct {
	Logs  uint64
	Bytes uint64
}

// ServerStats is the server-wide counter section of a snapshot.
type ServerStats struct {
	UptimeSeconds float64
	Requests      uint64
	Logs          uint64
	Bytes         uint64
	Errors        uint64
	CPUPercent    float64
	DiskPercent   float64
}

// PerformanceStats is the insert-pipeline counter section of a snapshot.
type PerformanceStats struct {
	LockedInserts  uint64
	RetriedInserts uint64
	FailedInserts  uint64
	BatchedInserts uint64
	BatchFlushes   uint64
}

// Snapshot is an immutable copy of aggregator state. Mutating it does not
// affect the aggregator.
type Snapshot struct {
	Server       ServerStats
	Performance  PerformanceStats
	Sources      map[string]SourceStats
	Integrations map[string]map[string]uint64
}

// Aggregator collects counters and samples resources on internal timers.
// Counter methods are safe for concurrent use.
type Aggregator struct {
	cfg   Config
	start time.Time

	requests       atomic.Uint64
	logs           atomic.Uint64
	bytes          atomic.Uint64
	errors         atomic.Uint64
	lockedInserts  atomic.Uint64
	retriedInserts atomic.Uint64
	failedInserts  atomic.Uint64
	batchedInserts atomic.Uint64
	batchFlushes   atomic.Uint64

	cpuPercent  atomic.Uint64 // float64 bits
	diskPercent atomic.Uint64 // float64 bits

	mu           sync.RWMutex
	sources      map[string]*SourceStats
	integrations map[string]map[string]uint64

	prevCPU  time.Duration
	prevWall time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an aggregator and starts its sampling and sweep timers.
// Shutdown must be called to stop them.
func New(cfg Config) *Aggregator {
	if cfg.SourceCap <= 0 {
		cfg.SourceCap = defaultSourceCap
	}
	if cfg.IntegrationCap <= 0 {
		cfg.IntegrationCap = defaultIntegrationCap
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = defaultSampleInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.DiskCapacityBytes <= 0 {
		cfg.DiskCapacityBytes = defaultDiskCapacity
	}

	a := &Aggregator{
		cfg:          cfg,
		start:        time.Now(),
		sources:      make(map[string]*SourceStats),
		integrations: make(map[string]map[string]uint64),
		prevWall:     time.Now(),
		stopCh:       make(chan struct{}),
	}
	a.prevCPU = processCPUTime()

	a.wg.Add(2)
	go a.sampleLoop()
	go a.sweepLoop()

	return a
}

// Shutdown cancels every internal timer. Safe to call more than once.
func (a *Aggregator) Shutdown() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
	})
	a.wg.Wait()
}

// IncrementRequests counts one external request.
func (a *Aggregator) IncrementRequests() { a.requests.Add(1) }

// AddLogs counts persisted records.
func (a *Aggregator) AddLogs(n uint64) { a.logs.Add(n) }

// AddBytes counts ingested bytes.
func (a *Aggregator) AddBytes(n uint64) { a.bytes.Add(n) }

// IncrementErrors counts one operational error.
func (a *Aggregator) IncrementErrors() { a.errors.Add(1) }

// IncrementLockedInserts counts one lock-conflicted insert attempt.
func (a *Aggregator) IncrementLockedInserts() { a.lockedInserts.Add(1) }

// IncrementRetriedInserts counts one retried insert attempt.
func (a *Aggregator) IncrementRetriedInserts() { a.retriedInserts.Add(1) }

// IncrementFailedInserts counts one batch that exhausted its attempts.
func (a *Aggregator) IncrementFailedInserts() { a.failedInserts.Add(1) }

// AddBatchedInserts counts rows committed through batch inserts.
func (a *Aggregator) AddBatchedInserts(n int) { a.batchedInserts.Add(uint64(n)) }

// IncrementBatchFlushes counts one committed batch.
func (a *Aggregator) IncrementBatchFlushes() { a.batchFlushes.Add(1) }

// RecordIngestion updates the global log/byte counters and the per-source
// volume table.
func (a *Aggregator) RecordIngestion(source string, logs, bytes uint64) {
	a.logs.Add(logs)
	a.bytes.Add(bytes)

	a.mu.Lock()
	stats, ok := a.sources[source]
	if !ok {
		stats = &SourceStats{}
		a.sources[source] = stats
	}
	stats.Logs += logs
	stats.Bytes += bytes
	a.mu.Unlock()
}

// IncrementIntegration counts one event in a named integration namespace.
func (a *Aggregator) IncrementIntegration(namespace, metric string) {
	a.mu.Lock()
	ns, ok := a.integrations[namespace]
	if !ok {
		ns = make(map[string]uint64)
		a.integrations[namespace] = ns
	}
	ns[metric]++
	a.mu.Unlock()
}

// Snapshot returns a deep copy of the current state.
func (a *Aggregator) Snapshot() Snapshot {
	snap := Snapshot{
		Server: ServerStats{
			UptimeSeconds: time.Since(a.start).Seconds(),
			Requests:      a.requests.Load(),
			Logs:          a.logs.Load(),
			Bytes:         a.bytes.Load(),
			Errors:        a.errors.Load(),
			CPUPercent:    math.Float64frombits(a.cpuPercent.Load()),
			DiskPercent:   math.Float64frombits(a.diskPercent.Load()),
		},
		Performance: PerformanceStats{
			LockedInserts:  a.lockedInserts.Load(),
			RetriedInserts: a.retriedInserts.Load(),
			FailedInserts:  a.failedInserts.Load(),
			BatchedInserts: a.batchedInserts.Load(),
			BatchFlushes:   a.batchFlushes.Load(),
		},
		Sources:      make(map[string]SourceStats),
		Integrations: make(map[string]map[string]uint64),
	}

	a.mu.RLock()
	for source, stats := range a.sources {
		snap.Sources[source] = *stats
	}
	for namespace, metrics := range a.integrations {
		ns := make(map[string]uint64, len(metrics))
		for k, v := range metrics {
			ns[k] = v
		}
		snap.Integrations[namespace] = ns
	}
	a.mu.RUnlock()

	return snap
}

func (a *Aggregator) sampleLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.sampleCPU()
			a.sampleDisk()
		}
	}
}

func (a *Aggregator) sweepLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.sweepOnce()
		}
	}
}

// sampleCPU computes CPU percentage from the delta of process CPU time over
// the delta of wall-clock time between two samples, clamped to [0,100].
func (a *Aggregator) sampleCPU() {
	now := time.Now()
	cpu := processCPUTime()

	wallDelta := now.Sub(a.prevWall)
	cpuDelta := cpu - a.prevCPU
	a.prevWall = now
	a.prevCPU = cpu

	if wallDelta <= 0 {
		return
	}
	percent := float64(cpuDelta) / float64(wallDelta) * 100
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	a.cpuPercent.Store(math.Float64bits(percent))
}

// sampleDisk approximates disk usage from the primary data file's size
// against the configured capacity assumption.
func (a *Aggregator) sampleDisk() {
	info, err := os.Stat(a.cfg.DataFile)
	if err != nil {
		a.diskPercent.Store(math.Float64bits(inaccessibleDiskPercent))
		return
	}

	percent := float64(info.Size()) / float64(a.cfg.DiskCapacityBytes) * 100
	if percent > 100 {
		percent = 100
	}
	a.diskPercent.Store(math.Float64bits(percent))
}

// sweepOnce caps the per-source table and the integration namespaces,
// evicting the lowest-ranked entries. Source rank is the weighted score
// logs + bytes/1024.
func (a *Aggregator) sweepOnce() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.sources) > a.cfg.SourceCap {
		type ranked struct {
			source string
			score  uint64
		}
		all := make([]ranked, 0, len(a.sources))
		for source, stats := range a.sources {
			all = append(all, ranked{source: source, score: stats.Logs + stats.Bytes/1024})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].score < all[j].score })

		evict := len(all) - a.cfg.SourceCap
		for _, r := range all[:evict] {
			delete(a.sources, r.source)
		}
		log.Debug().
			Int("evicted", evict).
			Int("remaining", len(a.sources)).
			Msg("Evicted low-volume sources")
	}

	if len(a.integrations) > a.cfg.IntegrationCap {
		type ranked struct {
			namespace string
			total     uint64
		}
		all := make([]ranked, 0, len(a.integrations))
		for namespace, metrics := range a.integrations {
			var total uint64
			for _, v := range metrics {
				total += v
			}
			all = append(all, ranked{namespace: namespace, total: total})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].total < all[j].total })

		for _, r := range all[:len(all)-a.cfg.IntegrationCap] {
			delete(a.integrations, r.namespace)
		}
	}
}
