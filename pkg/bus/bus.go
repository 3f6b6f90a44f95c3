// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bus defines the wire-agnostic data shapes and transport interfaces
// at the boundary between the core service and the publish/subscribe metrics
// bus. spec.md §1 puts AMQP transport and protobuf framing out of scope for
// the core; this package is the named interface the core programs against,
// the same way pkg/hta is the named interface for the on-disk store.
package bus

import "time"

// Sample is one (time, value) reading, as described in spec.md §3.
type Sample struct {
	Time  int64 // nanoseconds since epoch
	Value float64
}

// DataChunk is an ordered batch of samples for one target metric. Producer-
// provided ordering is the intended insertion order (spec.md §3).
type DataChunk struct {
	Samples []Sample
}

// RequestType enumerates the four fixed history request shapes spec.md §3
// allows; there is no general query language.
type RequestType int

const (
	AggregateTimeline RequestType = iota
	FlexTimeline
	Aggregate
	LastValue
)

func (t RequestType) String() string {
	switch t {
	case AggregateTimeline:
		return "AGGREGATE_TIMELINE"
	case FlexTimeline:
		return "FLEX_TIMELINE"
	case Aggregate:
		return "AGGREGATE"
	case LastValue:
		return "LAST_VALUE"
	default:
		return "UNKNOWN"
	}
}

// HistoryRequest is the inbound read query shape (spec.md §3).
type HistoryRequest struct {
	Type          RequestType
	StartTimeNs   int64
	EndTimeNs     int64
	IntervalMaxNs int64
}

// AggregatePoint mirrors the wire {minimum, maximum, sum, count, integral,
// active_time} shape (spec.md §6).
type AggregatePoint struct {
	Minimum    float64
	Maximum    float64
	Sum        float64
	Count      int64
	Integral   float64
	ActiveTime time.Duration
}

// HistoryResponse is the outbound read result. TimeDelta, Value, and
// Aggregate are parallel arrays: for timeline-shaped responses each index i
// is either a Value or an Aggregate entry, never both encoded at once per
// point, but the two slices share the same TimeDelta indexing so a consumer
// decides per-point which slice to read based on which is non-empty
// (spec.md §9's "distinguishable by shape" open question).
type HistoryResponse struct {
	Metric    string
	TimeDelta []int64
	Value     []float64
	Aggregate []AggregatePoint
}

// AppendValue appends a (time_delta, value) point, computing TimeDelta as
// the gap from the previously appended point (or from zero for the first),
// per spec.md §3's wire convention.
func (r *HistoryResponse) AppendValue(absoluteTimeNs int64, value float64) {
	r.TimeDelta = append(r.TimeDelta, r.deltaFrom(absoluteTimeNs))
	r.Value = append(r.Value, value)
}

// AppendAggregateRow appends a (time_delta, Aggregate) point using the same
// previous-point convention as AppendValue.
func (r *HistoryResponse) AppendAggregateRow(absoluteTimeNs int64, agg AggregatePoint) {
	r.TimeDelta = append(r.TimeDelta, r.deltaFrom(absoluteTimeNs))
	r.Aggregate = append(r.Aggregate, agg)
}

// AppendAbsolute appends a single time_delta carrying an absolute timestamp
// rather than a gap — used by AGGREGATE (time_delta = start) and LAST_VALUE
// (time_delta = sample time), per spec.md §4.4 and its preserved "open
// question" about AGGREGATE's time_delta.
func (r *HistoryResponse) AppendAbsolute(absoluteTimeNs int64) {
	r.TimeDelta = append(r.TimeDelta, absoluteTimeNs)
}

// deltaFrom computes the gap from the previously appended point. On an
// empty response previousAbsolute is 0, so this naturally yields
// absoluteTimeNs itself — the first point's time_delta is the absolute
// start timestamp, not a hardcoded zero.
func (r *HistoryResponse) deltaFrom(absoluteTimeNs int64) int64 {
	return absoluteTimeNs - r.previousAbsolute()
}

// previousAbsolute reconstructs the absolute time of the last appended
// point by prefix-summing TimeDelta, mirroring what a consumer does on the
// wire (spec.md §3: "the consumer is expected to reconstruct by prefix-sum").
func (r *HistoryResponse) previousAbsolute() int64 {
	var sum int64
	for _, d := range r.TimeDelta {
		sum += d
	}
	return sum
}

// Inbound is the subset of bus behavior the service needs to receive work:
// delivery of data chunks and history requests, each carrying its own
// completion callback. A concrete transport (e.g. internal/transport/nats)
// implements this by deserializing wire frames and invoking the service.
type Inbound interface {
	// OnDataChunk registers the handler invoked for every inbound
	// (input_name, DataChunk) delivery.
	OnDataChunk(handler func(inputName string, chunk DataChunk, complete func()))
	// OnHistoryRequest registers the handler invoked for every inbound
	// (metric_name, HistoryRequest) delivery.
	OnHistoryRequest(handler func(metricName string, req HistoryRequest, complete func(HistoryResponse), failed func(metricName, message string)))
}

// Outbound is the subset of bus behavior StatsMetrics needs to publish
// telemetry points back onto the bus (spec.md §2's "periodic timer ...
// emits telemetry points via StatsMetrics").
type Outbound interface {
	Publish(metric string, timestamp time.Time, value float64) error
}
