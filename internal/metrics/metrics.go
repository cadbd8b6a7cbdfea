// Package metrics exposes the counters and gauges the core block-store
// stack reports, following the Handle-interface-plus-no-op-implementation
// shape the teacher uses (common/noop_metrics.go) so tests never need a
// real prometheus registry.
package metrics

import "time"

// Handle is the metrics surface every layer of the core reports through.
// Production code gets a *PrometheusHandle; tests substitute NewNoop().
type Handle interface {
	BlockRead(bytes int)
	BlockWrite(bytes int)
	CacheHit()
	CacheMiss()
	FlushDuration(d time.Duration)
	IntegrityViolation()
}

type noopHandle struct{}

// NewNoop returns a Handle that discards everything.
func NewNoop() Handle { return noopHandle{} }

func (noopHandle) BlockRead(int)               {}
func (noopHandle) BlockWrite(int)              {}
func (noopHandle) CacheHit()                   {}
func (noopHandle) CacheMiss()                  {}
func (noopHandle) FlushDuration(time.Duration) {}
func (noopHandle) IntegrityViolation()         {}
