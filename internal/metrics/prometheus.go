package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusHandle is the production Handle, registering its series on
// the supplied registerer (typically prometheus.DefaultRegisterer).
type PrometheusHandle struct {
	blockReadBytes       prometheus.Counter
	blockWriteBytes      prometheus.Counter
	cacheHits            prometheus.Counter
	cacheMisses          prometheus.Counter
	flushDuration        prometheus.Histogram
	integrityViolations  prometheus.Counter
}

// NewPrometheus registers and returns a PrometheusHandle. Panics if the
// series are already registered against reg, matching
// prometheus.MustRegister's convention used throughout the ecosystem.
func NewPrometheus(reg prometheus.Registerer) *PrometheusHandle {
	h := &PrometheusHandle{
		blockReadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cryfs",
			Subsystem: "blockstore",
			Name:      "read_bytes_total",
			Help:      "Total bytes read from the block store.",
		}),
		blockWriteBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cryfs",
			Subsystem: "blockstore",
			Name:      "write_bytes_total",
			Help:      "Total bytes written to the block store.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cryfs",
			Subsystem: "blockcache",
			Name:      "hits_total",
			Help:      "Cache lookups served without a base-store load.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cryfs",
			Subsystem: "blockcache",
			Name:      "misses_total",
			Help:      "Cache lookups that required a base-store load.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cryfs",
			Subsystem: "blockcache",
			Name:      "flush_duration_seconds",
			Help:      "Time spent flushing dirty blocks to the base store.",
			Buckets:   prometheus.DefBuckets,
		}),
		integrityViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cryfs",
			Subsystem: "integrity",
			Name:      "violations_total",
			Help:      "Rollback/replay/tamper detections.",
		}),
	}

	reg.MustRegister(
		h.blockReadBytes,
		h.blockWriteBytes,
		h.cacheHits,
		h.cacheMisses,
		h.flushDuration,
		h.integrityViolations,
	)

	return h
}

func (h *PrometheusHandle) BlockRead(bytes int)  { h.blockReadBytes.Add(float64(bytes)) }
func (h *PrometheusHandle) BlockWrite(bytes int) { h.blockWriteBytes.Add(float64(bytes)) }
func (h *PrometheusHandle) CacheHit()            { h.cacheHits.Inc() }
func (h *PrometheusHandle) CacheMiss()           { h.cacheMisses.Inc() }
func (h *PrometheusHandle) FlushDuration(d time.Duration) {
	h.flushDuration.Observe(d.Seconds())
}
func (h *PrometheusHandle) IntegrityViolation() { h.integrityViolations.Inc() }

var _ Handle = (*PrometheusHandle)(nil)
