// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gogpu/vecrot"
)

// Namespace prefixes every metric name.
const Namespace = "vecrot"

// Collector is a vecrot.Observer backed by Prometheus metrics.
type Collector struct {
	bytesWritten   *prometheus.CounterVec
	dispatches     prometheus.Counter
	elements       prometheus.Counter
	workgroups     prometheus.Counter
	readbacks      *prometheus.CounterVec
	readbackTiming prometheus.Histogram
}

var _ vecrot.Observer = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		bytesWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "bytes_written_total",
				Help:      "Bytes queued into device buffers, by buffer",
			},
			[]string{"buffer"},
		),
		dispatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dispatches_total",
			Help:      "Submitted rotation dispatches",
		}),
		elements: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rotated_elements_total",
			Help:      "Vectors covered by submitted dispatches",
		}),
		workgroups: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "workgroups_total",
			Help:      "Workgroups launched by submitted dispatches",
		}),
		readbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "readbacks_total",
				Help:      "Finished readbacks, by result",
			},
			[]string{"result"},
		),
		readbackTiming: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "readback_seconds",
			Help:      "Time spent in CopyOut",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

// Written implements vecrot.Observer.
func (c *Collector) Written(buffer string, bytes int) {
	c.bytesWritten.WithLabelValues(buffer).Add(float64(bytes))
}

// Dispatched implements vecrot.Observer.
func (c *Collector) Dispatched(elements, workgroups uint32) {
	c.dispatches.Inc()
	c.elements.Add(float64(elements))
	c.workgroups.Add(float64(workgroups))
}

// ReadBack implements vecrot.Observer.
func (c *Collector) ReadBack(_ uint32, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.readbacks.WithLabelValues(result).Inc()
	c.readbackTiming.Observe(elapsed.Seconds())
}
