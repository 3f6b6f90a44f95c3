// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stats

import (
	"fmt"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"
)

// Publisher is the narrow sink StatsMetrics needs: one time-series point per
// call. pkg/bus.Outbound satisfies it; tests use a fake.
type Publisher interface {
	Publish(metric string, timestamp time.Time, value float64) error
}

// point describes one of the per-direction series StatsMetrics emits every
// tick. suffix is joined with the prefix and the direction ("read"/"write")
// to build the full metric name, e.g. "hta.read.request.rate"; value
// derives the published number from the direction's snapshot.
type point struct {
	suffix string
	value  func(d direction) float64
}

type direction struct {
	label           string
	current, prior  Snapshot
	intervalSeconds float64
}

// series is the list of points published per direction: the seven named in
// spec.md §4.6 (request.rate, data.rate, pending.time, utilization,
// pending.count, active.count, failed.count) plus the supplemented eighth,
// active.time, from SPEC_FULL.md §12 (db_stats.cpp emits both the raw average
// active duration and the dimensionless utilization it derives from).
var series = []point{
	{"request.rate", func(d direction) float64 {
		return float64(d.current.StartedCount) / d.intervalSeconds
	}},
	{"data.rate", func(d direction) float64 {
		return float64(d.current.DataSizeBytes) / d.intervalSeconds
	}},
	{"pending.time", func(d direction) float64 {
		return averageSeconds(d.current.PendingDuration, d.current.StartedCount)
	}},
	{"utilization", func(d direction) float64 {
		if d.intervalSeconds == 0 {
			return 0
		}
		return d.current.ActiveDuration.Seconds() / d.intervalSeconds
	}},
	{"active.time", func(d direction) float64 {
		completed := d.current.CompletedCount + d.current.FailedCount
		return averageSeconds(d.current.ActiveDuration, completed)
	}},
	{"pending.count", func(d direction) float64 {
		return float64(d.current.PendingCount)
	}},
	{"active.count", func(d direction) float64 {
		return float64(d.current.ActiveCount)
	}},
	{"failed.count", func(d direction) float64 {
		return float64(d.current.FailedCount)
	}},
}

func averageSeconds(total time.Duration, count int64) float64 {
	if count == 0 {
		return 0
	}
	return total.Seconds() / float64(count)
}

// Metrics drives the periodic publication of read- and write-direction
// StatsCollector snapshots as named time-series points, grounded on
// db_stats.cpp's DbStatsImpl::collect() and cc-backend's internal/taskManager
// gocron-based service registration.
type Metrics struct {
	Read  *Collector
	Write *Collector

	publisher Publisher
	prefix    string
	interval  time.Duration

	scheduler    gocron.Scheduler
	previousTick time.Time
}

// NewMetrics constructs a Metrics driver. prefix is prepended to every
// published series name (e.g. "hta" produces "hta.read.request.rate").
func NewMetrics(publisher Publisher, prefix string, interval time.Duration) *Metrics {
	return &Metrics{
		Read:      New(),
		Write:     New(),
		publisher: publisher,
		prefix:    prefix,
		interval:  interval,
	}
}

// Start creates a gocron scheduler and registers the periodic collect-and-
// publish job. The first tick is discarded (per SPEC_FULL.md §12): with no
// prior tick there is no meaningful interval to rate-normalize against.
func (m *Metrics) Start() error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("[STATS]> could not create scheduler: %w", err)
	}
	m.scheduler = s

	if _, err := s.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(m.tick),
	); err != nil {
		return fmt.Errorf("[STATS]> could not register stats job: %w", err)
	}

	m.previousTick = time.Time{}
	s.Start()
	return nil
}

// Shutdown stops the scheduler. It does not wait for a currently-running
// tick beyond gocron's own shutdown semantics.
func (m *Metrics) Shutdown() error {
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Shutdown()
}

func (m *Metrics) tick() {
	now := time.Now()
	if m.previousTick.IsZero() {
		// Discard the first tick: collect to reset the accumulators but
		// publish nothing, since there is no well-defined interval yet.
		m.Read.Collect()
		m.Write.Collect()
		m.previousTick = now
		return
	}

	intervalSeconds := now.Sub(m.previousTick).Seconds()
	m.previousTick = now

	m.publishDirection("read", m.Read.Collect(), intervalSeconds, now)
	m.publishDirection("write", m.Write.Collect(), intervalSeconds, now)
}

func (m *Metrics) publishDirection(label string, snap Snapshot, intervalSeconds float64, now time.Time) {
	d := direction{label: label, current: snap, intervalSeconds: intervalSeconds}
	for _, p := range series {
		name := fmt.Sprintf("%s.%s.%s", m.prefix, label, p.suffix)
		if err := m.publisher.Publish(name, now, p.value(d)); err != nil {
			cclog.Errorf("[STATS]> failed to publish %s: %v", name, err)
		}
	}
}
