package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"vdisk/pkg/storeerr"
)

const namespace = "vdisk"

// Metrics collects operation, cache and codec counters on a private registry.
// Nothing listens on the network; the registry is dumped to a textfile that a
// node exporter can pick up.
type Metrics struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	cache      *prometheus.CounterVec
	codecCalls *prometheus.CounterVec
	logicalIn  prometheus.Counter
	storedIn   prometheus.Counter
	logicalOut prometheus.Counter
	reclaimed  prometheus.Counter
	poolUsed   prometheus.Gauge
	poolCap    prometheus.Gauge
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Storage operations by name and result kind.",
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent in storage operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
		codecCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Calls into the codec and reclaimer.",
		}, []string{"call"}),
		logicalIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "written_logical_bytes_total",
			Help:      "Uncompressed bytes accepted by write_file.",
		}),
		storedIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "written_stored_bytes_total",
			Help:      "Bytes placed in the pool by write_file.",
		}),
		logicalOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_bytes_total",
			Help:      "Uncompressed bytes returned by read_file.",
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaimed_bytes_total",
			Help:      "Pool bytes handed back to the reclaimer.",
		}),
		poolUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_allocated_bytes",
			Help:      "Bytes of the pool assigned to virtual disks.",
		}),
		poolCap: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_capacity_bytes",
			Help:      "Capacity of the pool file.",
		}),
	}

	m.registry.MustRegister(
		m.operations, m.latency, m.cache, m.codecCalls,
		m.logicalIn, m.storedIn, m.logicalOut, m.reclaimed,
		m.poolUsed, m.poolCap,
	)
	return m
}

// RecordOperation records the outcome of a storage operation.
func (m *Metrics) RecordOperation(op string, err error, latency time.Duration) {
	m.operations.WithLabelValues(op, string(storeerr.KindOf(err))).Inc()
	m.latency.WithLabelValues(op).Observe(latency.Seconds())
}

func (m *Metrics) CacheHit()  { m.cache.WithLabelValues("hit").Inc() }
func (m *Metrics) CacheMiss() { m.cache.WithLabelValues("miss").Inc() }

// CacheError records a cache call that failed and was treated as a miss.
func (m *Metrics) CacheError() { m.cache.WithLabelValues("error").Inc() }

// RecordCall counts one call into a collaborator ("compress", "decompress", "reclaim").
func (m *Metrics) RecordCall(call string) {
	m.codecCalls.WithLabelValues(call).Inc()
}

func (m *Metrics) RecordWrite(logical, stored int64) {
	m.logicalIn.Add(float64(logical))
	m.storedIn.Add(float64(stored))
}

func (m *Metrics) RecordRead(logical int64) {
	m.logicalOut.Add(float64(logical))
}

func (m *Metrics) RecordReclaim(size int64) {
	m.reclaimed.Add(float64(size))
}

// SetPool sets the pool gauges.
func (m *Metrics) SetPool(allocated, capacity int64) {
	m.poolUsed.Set(float64(allocated))
	m.poolCap.Set(float64(capacity))
}

// Registry exposes the underlying gatherer.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile dumps every metric in the text exposition format. The file is
// written to a temporary name and renamed.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(storeerr.ErrIO, "write metrics to %s: %v", path, err)
	}
	return nil
}

// Snapshot returns current metric values.
type Snapshot struct {
	CacheHits      uint64
	CacheMisses    uint64
	CacheErrors    uint64
	Compressions   uint64
	Decompressions uint64
	Reclaims       uint64
	LogicalWritten uint64
	StoredWritten  uint64
	LogicalRead    uint64
	ReclaimedBytes uint64
	PoolAllocated  int64
	PoolCapacity   int64
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		CacheHits:      counterValue(m.cache.WithLabelValues("hit")),
		CacheMisses:    counterValue(m.cache.WithLabelValues("miss")),
		CacheErrors:    counterValue(m.cache.WithLabelValues("error")),
		Compressions:   counterValue(m.codecCalls.WithLabelValues("compress")),
		Decompressions: counterValue(m.codecCalls.WithLabelValues("decompress")),
		Reclaims:       counterValue(m.codecCalls.WithLabelValues("reclaim")),
		LogicalWritten: counterValue(m.logicalIn),
		StoredWritten:  counterValue(m.storedIn),
		LogicalRead:    counterValue(m.logicalOut),
		ReclaimedBytes: counterValue(m.reclaimed),
		PoolAllocated:  int64(gaugeValue(m.poolUsed)),
		PoolCapacity:   int64(gaugeValue(m.poolCap)),
	}
}

// Operations returns how many times op finished with the given result kind.
func (m *Metrics) Operations(op string, kind storeerr.Kind) uint64 {
	return counterValue(m.operations.WithLabelValues(op, string(kind)))
}

func counterValue(c prometheus.Counter) uint64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil || out.Counter == nil {
		return 0
	}
	return uint64(out.Counter.GetValue())
}

func gaugeValue(g prometheus.Gauge) float64 {
	var out dto.Metric
	if err := g.Write(&out); err != nil || out.Gauge == nil {
		return 0
	}
	return out.Gauge.GetValue()
}
