// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package htastore is an in-memory reference implementation of pkg/hta's
// Directory/Metric contract, used by tests and the cmd/hta-adapterd demo
// binary. It is not a production time-aggregating store: a real deployment
// supplies its own.
//
// The per-metric storage is grounded on cc-backend's buffer.go design — a
// pooled chain of append-only slabs holding a fixed-size window of data —
// but adapted from that store's fixed-frequency-aligned indexing to the
// irregular, producer-chosen nanosecond timestamps this service's write
// path enforces (strictly increasing, never evenly spaced). Each Metric
// here is one growable, append-only sample slice; aggregation buckets are
// computed on read rather than maintained incrementally, which keeps the
// reference implementation simple at the cost of read-time work
// proportional to the queried range.
package htastore

import (
	"sync"

	"github.com/metricq/metricq-db-hta/pkg/hta"
)

// Directory is the in-memory hta.Directory implementation.
type Directory struct {
	mu      sync.Mutex
	metrics map[string]*metric
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{metrics: make(map[string]*metric)}
}

// Metric returns name's handle, creating an empty one on first request.
// cfg is accepted for interface conformance but otherwise unused: this
// reference store has no per-metric knobs worth honoring.
func (d *Directory) Metric(name string, _ hta.MetricConfig) (hta.Metric, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.metrics[name]
	if !ok {
		m = newMetric()
		d.metrics[name] = m
	}
	return m, nil
}

// Lookup returns name's handle if Metric has already created it.
func (d *Directory) Lookup(name string) (hta.Metric, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.metrics[name]
	return m, ok
}

// Len reports the number of metrics created so far. Exposed for tests.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.metrics)
}
