// Package metrics exposes the store's prometheus collectors. Non-goals in
// the spec scope out protocol features, not observability, so this stays
// in scope even though nothing in the wire protocol asks for it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every gauge/counter the store and upload endpoint
// update once wired in through store.WithMetrics and
// upload.NewEndpointWithMetrics. Neither of those registers them; callers
// register the collectors against their own prometheus.Registerer via
// Register.
type Collectors struct {
	FilesLive            prometheus.Gauge
	BytesAllocated       prometheus.Gauge
	AllocatorFailures    prometheus.Counter
	UploadChunksAccepted prometheus.Counter
	UploadChunksRejected prometheus.Counter
}

// New creates an unregistered set of collectors.
func New() *Collectors {
	return &Collectors{
		FilesLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rudelblinken",
			Subsystem: "filestore",
			Name:      "files_live",
			Help:      "Number of committed files in the store's index whose blocks have not yet been erased.",
		}),
		BytesAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rudelblinken",
			Subsystem: "filestore",
			Name:      "bytes_allocated",
			Help:      "Bytes currently occupied by live file extents.",
		}),
		AllocatorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rudelblinken",
			Subsystem: "filestore",
			Name:      "allocator_failures_total",
			Help:      "Number of BeginWrite calls for which the allocator found no free range large enough.",
		}),
		UploadChunksAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rudelblinken",
			Subsystem: "upload",
			Name:      "chunks_accepted_total",
			Help:      "Number of DATA frames accepted by the upload endpoint.",
		}),
		UploadChunksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rudelblinken",
			Subsystem: "upload",
			Name:      "chunks_rejected_total",
			Help:      "Number of DATA frames rejected by the upload endpoint.",
		}),
	}
}

// Register registers every collector against reg.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		c.FilesLive,
		c.BytesAllocated,
		c.AllocatorFailures,
		c.UploadChunksAccepted,
		c.UploadChunksRejected,
	} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
