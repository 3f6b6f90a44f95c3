// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package service

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/metricq/metricq-db-hta/internal/htastore"
	"github.com/metricq/metricq-db-hta/pkg/bus"
)

func writeChunk(t *testing.T, svc *Service, input string, samples ...bus.Sample) {
	t.Helper()
	done := make(chan struct{})
	svc.AsyncWrite(input, bus.DataChunk{Samples: samples}, func() { close(done) })
	waitFor(t, time.Second, done)
}

// TestReadAggregate is scenario 3 in spec.md §8: an AGGREGATE query over the
// whole timeline returns one aggregate whose time_delta is the absolute
// window start (the preserved open-question behavior), not a gap.
func TestReadAggregate(t *testing.T) {
	svc := New(htastore.New(), nil)
	defer svc.Shutdown()

	if _, err := svc.Configure(json.RawMessage(`{"threads":1,"metrics":{"a":{}}}`)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	writeChunk(t, svc, "a",
		bus.Sample{Time: 10, Value: 1.0},
		bus.Sample{Time: 9, Value: 2.0}, // non-monotonic, dropped
		bus.Sample{Time: 11, Value: math.NaN()},
		bus.Sample{Time: 12, Value: 3.0},
	)

	req := bus.HistoryRequest{Type: bus.Aggregate, StartTimeNs: 0, EndTimeNs: math.MaxInt64}

	respCh := make(chan bus.HistoryResponse, 1)
	failedCh := make(chan string, 1)
	svc.AsyncRead("a", req, func(r bus.HistoryResponse) { respCh <- r }, func(_, msg string) { failedCh <- msg })

	select {
	case resp := <-respCh:
		if len(resp.Aggregate) != 1 {
			t.Fatalf("got %d aggregate(s), want 1", len(resp.Aggregate))
		}
		agg := resp.Aggregate[0]
		if agg.Count != 2 || agg.Minimum != 1.0 || agg.Maximum != 3.0 || agg.Sum != 4.0 {
			t.Fatalf("aggregate = %+v, want count=2 min=1 max=3 sum=4", agg)
		}
		if len(resp.TimeDelta) != 1 || resp.TimeDelta[0] != 0 {
			t.Fatalf("time_delta = %v, want [0] (absolute start)", resp.TimeDelta)
		}
	case msg := <-failedCh:
		t.Fatalf("read failed: %s", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for read completion")
	}
}

// TestReadLastValue is scenario 5 in spec.md §8: LAST_VALUE against a
// metric holding three samples returns the one with the largest time.
func TestReadLastValue(t *testing.T) {
	svc := New(htastore.New(), nil)
	defer svc.Shutdown()

	if _, err := svc.Configure(json.RawMessage(`{"threads":1,"metrics":{"a":{}}}`)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	writeChunk(t, svc, "a",
		bus.Sample{Time: 10, Value: 1.0},
		bus.Sample{Time: 20, Value: 2.0},
		bus.Sample{Time: 30, Value: 3.0},
	)

	respCh := make(chan bus.HistoryResponse, 1)
	svc.AsyncRead("a", bus.HistoryRequest{Type: bus.LastValue}, func(r bus.HistoryResponse) { respCh <- r }, func(_, msg string) {
		t.Fatalf("read failed: %s", msg)
	})

	select {
	case resp := <-respCh:
		if len(resp.Value) != 1 || resp.Value[0] != 3.0 {
			t.Fatalf("values = %v, want [3.0]", resp.Value)
		}
		if len(resp.TimeDelta) != 1 || resp.TimeDelta[0] != 30 {
			t.Fatalf("time_delta = %v, want [30]", resp.TimeDelta)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for read completion")
	}
}

func TestReadUnknownMetricFails(t *testing.T) {
	svc := New(htastore.New(), nil)
	defer svc.Shutdown()

	if _, err := svc.Configure(json.RawMessage(`{"threads":1,"metrics":{}}`)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	failedCh := make(chan string, 1)
	svc.AsyncRead("ghost", bus.HistoryRequest{Type: bus.Aggregate}, func(bus.HistoryResponse) {
		t.Fatal("complete() should not be called for an unknown metric")
	}, func(name, msg string) { failedCh <- msg })

	select {
	case msg := <-failedCh:
		if msg == "" {
			t.Fatal("expected a non-empty failure message")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failure callback")
	}
}

// TestReadUnknownRequestTypeReturnsEmptyResponse proves spec.md §7's
// UnknownRequestType handling: warn and return an empty response, never a
// failure.
func TestReadUnknownRequestTypeReturnsEmptyResponse(t *testing.T) {
	svc := New(htastore.New(), nil)
	defer svc.Shutdown()

	if _, err := svc.Configure(json.RawMessage(`{"threads":1,"metrics":{"a":{}}}`)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	respCh := make(chan bus.HistoryResponse, 1)
	svc.AsyncRead("a", bus.HistoryRequest{Type: bus.RequestType(99)}, func(r bus.HistoryResponse) { respCh <- r }, func(_, msg string) {
		t.Fatalf("unexpected failure: %s", msg)
	})

	select {
	case resp := <-respCh:
		if len(resp.Value) != 0 || len(resp.Aggregate) != 0 {
			t.Fatalf("expected empty response, got %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for read completion")
	}
}
