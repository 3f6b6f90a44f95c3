// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stats implements the StatsCollector and StatsMetrics components of
// spec.md §4.5/§4.6: a thread-safe accumulator of per-operation counters and
// durations, and the periodic driver that formats snapshots as time-series
// points.
package stats

import (
	"sync"
	"time"
)

// Snapshot is the atomically-copied state spec.md §3 calls StatsSnapshot.
// PendingCount/ActiveCount are gauges, preserved by Collect; every other
// field is a delta counter, reset to zero by Collect.
type Snapshot struct {
	CompletedCount  int64
	FailedCount     int64
	StartedCount    int64
	DataSizeBytes   int64
	PendingDuration time.Duration
	ActiveDuration  time.Duration
	PendingCount    int64
	ActiveCount     int64
}

// Collector accumulates counters and durations for one direction (read or
// write). All operations are protected by a single mutex; critical sections
// only ever touch the Snapshot struct itself (spec.md §5).
type Collector struct {
	mu   sync.Mutex
	snap Snapshot
}

// New returns an empty Collector.
func New() *Collector {
	return &Collector{}
}

// Pending records that a request has been submitted and is waiting for a
// strand to pick it up.
func (c *Collector) Pending() {
	c.mu.Lock()
	c.snap.PendingCount++
	c.mu.Unlock()
}

// active records the transition from pending to actively executing.
func (c *Collector) active(pendingDuration time.Duration) {
	c.mu.Lock()
	c.snap.PendingDuration += pendingDuration
	c.snap.PendingCount--
	c.snap.StartedCount++
	c.snap.ActiveCount++
	c.mu.Unlock()
}

// complete records a successful completion.
func (c *Collector) complete(activeDuration time.Duration, dataSize int) {
	c.mu.Lock()
	c.snap.CompletedCount++
	c.snap.ActiveCount--
	c.snap.ActiveDuration += activeDuration
	c.snap.DataSizeBytes += int64(dataSize)
	c.mu.Unlock()
}

// failed records a failed completion.
func (c *Collector) failed(activeDuration time.Duration) {
	c.mu.Lock()
	c.snap.ActiveCount--
	c.snap.FailedCount++
	c.snap.ActiveDuration += activeDuration
	c.mu.Unlock()
}

// Collect atomically copies the accumulated state and resets the delta
// counters and duration accumulators, leaving the gauges (PendingCount,
// ActiveCount) untouched.
func (c *Collector) Collect() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snap
	c.snap = Snapshot{
		PendingCount: c.snap.PendingCount,
		ActiveCount:  c.snap.ActiveCount,
	}
	return snap
}

// Transaction binds a pending_since timestamp to a Collector.active() call
// at construction, and guarantees exactly one of Complete or the implicit
// failure recorded by Finish runs — the Go stand-in for the C++ source's
// RAII DbStatsTransaction. Callers must `defer txn.Finish()` immediately
// after Begin.
type Transaction struct {
	collector *Collector
	begin     time.Time
	done      bool
}

// Begin starts a transaction: it marks the request active (using now minus
// pendingSince as the pending duration) and starts the active-duration
// clock.
func (c *Collector) Begin(pendingSince time.Time) *Transaction {
	begin := time.Now()
	c.active(begin.Sub(pendingSince))
	return &Transaction{collector: c, begin: begin}
}

// Complete marks the transaction as having completed successfully with the
// given payload size, recording the active duration. Calling Complete more
// than once, or after Finish, has no further effect.
func (t *Transaction) Complete(dataSize int) time.Duration {
	if t.done {
		return 0
	}
	d := time.Since(t.begin)
	t.collector.complete(d, dataSize)
	t.done = true
	return d
}

// Finish records a failure if the transaction was never completed. It is
// always safe to call, and is meant to be deferred right after Begin:
//
//	txn := stats.write.Begin(pendingSince)
//	defer txn.Finish()
//	... do the work ...
//	txn.Complete(dataSize)
func (t *Transaction) Finish() {
	if t.done {
		return
	}
	t.collector.failed(time.Since(t.begin))
	t.done = true
}
