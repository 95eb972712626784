// Package metrics exposes a shared-memory hash table's introspection
// figures as Prometheus gauges, grounded the same way the rest of this
// module's ambient stack is: via github.com/prometheus/client_golang,
// the instrumentation library the retrieval pack's dependency surface
// settles on.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds the gauges for one registered table. Callers obtain
// one via New and pass it to smht.WithMetrics; Collector itself has no
// notion of what a Table is, to avoid an import cycle back into the
// package it instruments.
type Collector struct {
	freeBytes             prometheus.Gauge
	longestFreeBlockBytes prometheus.Gauge
	longestAllocatedBytes prometheus.Gauge
	allocatedRuns         prometheus.Gauge
	attachedSegments      prometheus.Gauge
}

// New creates a Collector labeled with name (typically the shared
// segment's name) and registers its gauges on reg. Passing
// prometheus.DefaultRegisterer is fine for a single-table process;
// multi-table processes should pass a dedicated registry per table to
// avoid duplicate-registration panics.
func New(reg prometheus.Registerer, name string) *Collector {
	c := &Collector{
		freeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "smht_free_bytes",
			Help:        "Free bytes remaining in the data arena.",
			ConstLabels: prometheus.Labels{"segment": name},
		}),
		longestFreeBlockBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "smht_longest_free_block_bytes",
			Help:        "Size in bytes of the largest contiguous free run in the data arena.",
			ConstLabels: prometheus.Labels{"segment": name},
		}),
		longestAllocatedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "smht_longest_allocated_block_bytes",
			Help:        "Size in bytes of the largest contiguous allocated run in the data arena.",
			ConstLabels: prometheus.Labels{"segment": name},
		}),
		allocatedRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "smht_allocated_run_count",
			Help:        "Number of maximal runs of allocated blocks in the data arena.",
			ConstLabels: prometheus.Labels{"segment": name},
		}),
		attachedSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "smht_attached_segments",
			Help:        "Number of tables currently attached to this segment from this process.",
			ConstLabels: prometheus.Labels{"segment": name},
		}),
	}
	reg.MustRegister(c.freeBytes, c.longestFreeBlockBytes, c.longestAllocatedBytes, c.allocatedRuns, c.attachedSegments)
	return c
}

// Refresh updates the introspection gauges from freshly computed
// figures.
func (c *Collector) Refresh(freeBytes, longestFreeBlockBytes, longestAllocatedBytes, allocatedRuns int64) {
	c.freeBytes.Set(float64(freeBytes))
	c.longestFreeBlockBytes.Set(float64(longestFreeBlockBytes))
	c.longestAllocatedBytes.Set(float64(longestAllocatedBytes))
	c.allocatedRuns.Set(float64(allocatedRuns))
}

// IncAttached records one more Table attached to this segment from
// this process.
func (c *Collector) IncAttached() {
	c.attachedSegments.Inc()
}

// DecAttached records one fewer Table attached.
func (c *Collector) DecAttached() {
	c.attachedSegments.Dec()
}
