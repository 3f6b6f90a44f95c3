// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package service

import (
	"fmt"
	"math"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/metricq/metricq-db-hta/pkg/bus"
	"github.com/metricq/metricq-db-hta/pkg/hta"
)

// aggregateWireSize approximates sizeof(Aggregate) for throughput
// accounting: four float64 fields plus one int64 count plus one
// time.Duration (int64).
const aggregateWireSize = 6 * 8

// runRead implements ReadPipeline (spec.md §4.4). It runs under name's
// strand, exactly like runWrite.
func runRead(s *Service, name string, req bus.HistoryRequest, pendingSince time.Time, complete func(bus.HistoryResponse), failed func(name, message string)) {
	txn := s.readStats.Begin(pendingSince)
	defer txn.Finish()

	start := time.Now()
	metric, ok := s.directory.Lookup(name)
	if !ok {
		msg := fmt.Sprintf("unknown metric %q", name)
		cclog.Errorf("[READ]> %s", msg)
		failed(name, msg)
		return
	}

	resp := bus.HistoryResponse{Metric: name}

	var dataSize int
	var err error
	switch req.Type {
	case bus.AggregateTimeline:
		dataSize, err = dispatchAggregateTimeline(metric, req, &resp)
	case bus.FlexTimeline:
		dataSize, err = dispatchFlexTimeline(metric, req, &resp)
	case bus.Aggregate:
		dataSize, err = dispatchAggregate(metric, req, &resp)
	case bus.LastValue:
		dataSize, err = dispatchLastValue(metric, &resp)
	default:
		// UnknownRequestType: warn and return an empty response, not a
		// failure — this is a producer bug, not a retryable condition
		// (spec.md §7).
		cclog.Warnf("[READ]> %q: unrecognized request type %v", name, req.Type)
		logElapsed(name, start)
		txn.Complete(0)
		complete(resp)
		return
	}

	if err != nil {
		msg := fmt.Sprintf("store failure: %v", err)
		cclog.Errorf("[READ]> %q: %s", name, msg)
		failed(name, msg)
		return
	}

	logElapsed(name, start)
	txn.Complete(dataSize)
	complete(resp)
}

func logElapsed(name string, start time.Time) {
	elapsed := time.Since(start)
	if elapsed > time.Second {
		cclog.Warnf("[READ]> %q took %s", name, elapsed)
	} else {
		cclog.Debugf("[READ]> %q took %s", name, elapsed)
	}
}

func toWireAggregate(a hta.Aggregate) bus.AggregatePoint {
	return bus.AggregatePoint{
		Minimum:    a.Minimum,
		Maximum:    a.Maximum,
		Sum:        a.Sum,
		Count:      a.Count,
		Integral:   a.Integral,
		ActiveTime: a.ActiveTime,
	}
}

func dispatchAggregateTimeline(metric hta.Metric, req bus.HistoryRequest, resp *bus.HistoryResponse) (int, error) {
	rows, err := metric.Retrieve(req.StartTimeNs, req.EndTimeNs, req.IntervalMaxNs)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		resp.AppendAggregateRow(row.Time, toWireAggregate(row.Aggregate))
	}
	return len(rows) * aggregateWireSize, nil
}

// dispatchFlexTimeline implements FLEX_TIMELINE: the store picks, per call,
// whether to answer with aggregate rows (formatted exactly like
// AGGREGATE_TIMELINE) or raw samples (spec.md §4.4, and the preserved open
// question in §9 about which shape a consumer receives).
func dispatchFlexTimeline(metric hta.Metric, req bus.HistoryRequest, resp *bus.HistoryResponse) (int, error) {
	flex, err := metric.RetrieveFlex(req.StartTimeNs, req.EndTimeNs, req.IntervalMaxNs)
	if err != nil {
		return 0, err
	}

	size := 0
	for _, row := range flex.Rows {
		resp.AppendAggregateRow(row.Time, toWireAggregate(row.Aggregate))
		size += aggregateWireSize
	}
	for _, sample := range flex.Samples {
		resp.AppendValue(sample.Time, sample.Value)
		size += sampleWireSize
	}
	return size, nil
}

// dispatchAggregate implements AGGREGATE: a single window summary whose sole
// time_delta carries the absolute window start, not a gap (spec.md §9's
// preserved "possibly buggy" behavior).
func dispatchAggregate(metric hta.Metric, req bus.HistoryRequest, resp *bus.HistoryResponse) (int, error) {
	agg, err := metric.Aggregate(req.StartTimeNs, req.EndTimeNs)
	if err != nil {
		return 0, err
	}
	resp.AppendAbsolute(req.StartTimeNs)
	resp.Aggregate = append(resp.Aggregate, toWireAggregate(agg))
	return aggregateWireSize, nil
}

// dispatchLastValue implements LAST_VALUE: query at ts = INT64_MAX with an
// extended/open scope at both ends. Exactly one result is emitted as
// (time_delta = sample time, value); zero results emit nothing; more than
// one is the source's preserved, possibly-buggy "warn and emit nothing"
// behavior (spec.md §4.4, §9).
func dispatchLastValue(metric hta.Metric, resp *bus.HistoryResponse) (int, error) {
	samples, err := metric.LastValue(math.MaxInt64, hta.ScopeExtended, hta.ScopeOpen)
	if err != nil {
		return 0, err
	}
	switch len(samples) {
	case 0:
		return 0, nil
	case 1:
		resp.AppendAbsolute(samples[0].Time)
		resp.Value = append(resp.Value, samples[0].Value)
		return sampleWireSize, nil
	default:
		cclog.Warnf("[READ]> %q: LAST_VALUE returned %d samples, expected at most 1", resp.Metric, len(samples))
		return 0, nil
	}
}
