// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package htastore

import (
	"sort"
	"sync"
	"time"

	"github.com/metricq/metricq-db-hta/pkg/hta"
)

// flexRawThreshold is the reference store's FLEX_TIMELINE heuristic: ranges
// that would produce at most this many raw samples are returned raw: ranges
// producing more are bucketed into aggregate rows instead. spec.md §9
// leaves the raw-vs-aggregate choice entirely up to the store, flagging it
// as an open question; this is one reasonable policy; a production store
// is free to choose any other.
const flexRawThreshold = 64

// metric is the in-memory hta.Metric implementation: a single mutex
// guarding an append-only, time-sorted sample slice. WritePipeline's strand
// discipline means Insert/Flush/Range are never called concurrently with
// each other for the same metric, but Lookup can still hand this same
// handle to a concurrently-running read on the same strand's queue (FIFO,
// never overlapping) or, in principle, a test calling methods directly — so
// the mutex stays for safety rather than relying on the strand guarantee.
type metric struct {
	mu      sync.Mutex
	samples []hta.Sample
}

func newMetric() *metric {
	return &metric{}
}

func (m *metric) Insert(s hta.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}

func (m *metric) Flush() error {
	return nil
}

func (m *metric) Range() hta.Range {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return hta.Range{}
	}
	return hta.Range{MinTime: m.samples[0].Time, MaxTime: m.samples[len(m.samples)-1].Time}
}

func (m *metric) Count() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.samples))
}

// inRangeLocked returns the samples with start <= Time < end. Callers must
// hold m.mu. Insert itself appends without checking order; samples stay
// time-sorted because WritePipeline only inserts strictly increasing times,
// so this is a pair of binary searches.
func (m *metric) inRangeLocked(start, end int64) []hta.Sample {
	lo := sort.Search(len(m.samples), func(i int) bool { return m.samples[i].Time >= start })
	hi := sort.Search(len(m.samples), func(i int) bool { return m.samples[i].Time >= end })
	if lo >= hi {
		return nil
	}
	out := make([]hta.Sample, hi-lo)
	copy(out, m.samples[lo:hi])
	return out
}

func (m *metric) Retrieve(start, end, intervalMax int64) ([]hta.Row, error) {
	m.mu.Lock()
	samples := m.inRangeLocked(start, end)
	m.mu.Unlock()

	return bucketRows(samples, start, end, intervalMax), nil
}

func (m *metric) RetrieveFlex(start, end, intervalMax int64) (hta.FlexResult, error) {
	m.mu.Lock()
	samples := m.inRangeLocked(start, end)
	m.mu.Unlock()

	if len(samples) <= flexRawThreshold {
		return hta.FlexResult{Samples: samples}, nil
	}
	return hta.FlexResult{Rows: bucketRows(samples, start, end, intervalMax)}, nil
}

func (m *metric) Aggregate(start, end int64) (hta.Aggregate, error) {
	m.mu.Lock()
	samples := m.inRangeLocked(start, end)
	m.mu.Unlock()

	return computeAggregate(samples), nil
}

// LastValue ignores ts/scope beyond documenting the query shape this
// reference store is meant to emulate (spec.md §4.4 queries with
// ts = INT64_MAX and an extended/open scope at both ends): it always
// answers "what is the most recent sample", returning every sample tied
// for the maximum timestamp so ReadPipeline can exercise the documented
// ambiguous (>1 result) case.
func (m *metric) LastValue(_ int64, _, _ hta.Scope) ([]hta.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.samples) == 0 {
		return nil, nil
	}
	maxTime := m.samples[len(m.samples)-1].Time
	lo := sort.Search(len(m.samples), func(i int) bool { return m.samples[i].Time >= maxTime })
	return append([]hta.Sample(nil), m.samples[lo:]...), nil
}

// bucketRows partitions samples into fixed-width [bucketStart, bucketEnd)
// windows of at most intervalMax and aggregates each non-empty bucket into
// one Row, tagged with its bucket's start time.
func bucketRows(samples []hta.Sample, start, end, intervalMax int64) []hta.Row {
	if intervalMax <= 0 {
		intervalMax = end - start
	}
	if intervalMax <= 0 {
		intervalMax = 1
	}

	var rows []hta.Row
	idx := 0
	for bucketStart := start; bucketStart < end; bucketStart += intervalMax {
		bucketEnd := bucketStart + intervalMax
		if bucketEnd > end {
			bucketEnd = end
		}

		bucketBegin := idx
		for idx < len(samples) && samples[idx].Time < bucketEnd {
			idx++
		}
		if idx > bucketBegin {
			rows = append(rows, hta.Row{
				Time:      bucketStart,
				Aggregate: computeAggregate(samples[bucketBegin:idx]),
			})
		}
	}
	return rows
}

// computeAggregate summarizes samples (assumed time-sorted) into an
// hta.Aggregate: min/max/sum/count, a trapezoidal-rule integral over time in
// seconds, and active_time as the span covered by the samples.
func computeAggregate(samples []hta.Sample) hta.Aggregate {
	if len(samples) == 0 {
		return hta.Aggregate{}
	}

	agg := hta.Aggregate{Minimum: samples[0].Value, Maximum: samples[0].Value}
	for i, s := range samples {
		agg.Sum += s.Value
		if s.Value < agg.Minimum {
			agg.Minimum = s.Value
		}
		if s.Value > agg.Maximum {
			agg.Maximum = s.Value
		}
		if i > 0 {
			dt := float64(s.Time-samples[i-1].Time) / float64(time.Second)
			agg.Integral += dt * (s.Value + samples[i-1].Value) / 2
		}
	}
	agg.Count = int64(len(samples))
	agg.ActiveTime = time.Duration(samples[len(samples)-1].Time - samples[0].Time)
	return agg
}
