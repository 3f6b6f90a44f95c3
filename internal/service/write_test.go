// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package service

import (
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/metricq/metricq-db-hta/internal/htastore"
	"github.com/metricq/metricq-db-hta/pkg/bus"
)

func waitFor(t *testing.T, timeout time.Duration, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for async completion")
	}
}

// TestWriteFiltersNonMonotonicAndNaN is scenario 2 in spec.md §8: a chunk
// with mixed ordered, disordered, and NaN samples keeps only the strictly
// monotonic, finite ones.
func TestWriteFiltersNonMonotonicAndNaN(t *testing.T) {
	svc := New(htastore.New(), nil)
	defer svc.Shutdown()

	if _, err := svc.Configure(json.RawMessage(`{"threads":2,"metrics":{"a":{}}}`)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	chunk := bus.DataChunk{Samples: []bus.Sample{
		{Time: 10, Value: 1.0},
		{Time: 9, Value: 2.0},
		{Time: 11, Value: math.NaN()},
		{Time: 12, Value: 3.0},
	}}

	done := make(chan struct{})
	svc.AsyncWrite("a", chunk, func() { close(done) })
	waitFor(t, time.Second, done)

	metric, ok := svc.directory.Lookup("a")
	if !ok {
		t.Fatal("metric \"a\" was not created")
	}
	rows, err := metric.Retrieve(0, math.MaxInt64, math.MaxInt64)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Aggregate.Count != 2 {
		t.Fatalf("got %d row(s), want exactly one bucket with 2 samples: %+v", len(rows), rows)
	}
	if rows[0].Aggregate.Minimum != 1.0 || rows[0].Aggregate.Maximum != 3.0 {
		t.Fatalf("stored min/max = %v/%v, want 1.0/3.0", rows[0].Aggregate.Minimum, rows[0].Aggregate.Maximum)
	}
}

// TestWriteSerializesPerMetric submits many concurrent writes to the same
// metric and checks every sample is stored exactly once (strand.Table's own
// tests prove non-overlap directly; here we check the user-visible effect
// on a metric's stored data under service-level concurrency).
func TestWriteSerializesPerMetric(t *testing.T) {
	svc := New(htastore.New(), nil)
	defer svc.Shutdown()

	if _, err := svc.Configure(json.RawMessage(`{"threads":4,"metrics":{"a":{}}}`)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := int64(i)
		chunk := bus.DataChunk{Samples: []bus.Sample{{Time: (i + 1) * 1000, Value: float64(i)}}}
		svc.AsyncWrite("a", chunk, wg.Done)
	}
	wg.Wait()

	metric, _ := svc.directory.Lookup("a")
	if got := metric.Count(); got != n {
		t.Fatalf("Count() = %d, want %d", got, n)
	}
}

// TestWriteToUnconfiguredInputAutoRegisters is spec.md:54's lazy identity
// mapping: a write to an input name with no prior Configure-time
// registration still succeeds, auto-registering an identity mapping and
// auto-creating the metric's directory entry rather than being dropped as a
// store failure.
func TestWriteToUnconfiguredInputAutoRegisters(t *testing.T) {
	svc := New(htastore.New(), nil)
	defer svc.Shutdown()

	if _, err := svc.Configure(json.RawMessage(`{"threads":1,"metrics":{}}`)); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	done := make(chan struct{})
	svc.AsyncWrite("ghost", bus.DataChunk{Samples: []bus.Sample{{Time: 1, Value: 1}}}, func() { close(done) })
	waitFor(t, time.Second, done)

	metric, ok := svc.directory.Lookup("ghost")
	if !ok {
		t.Fatal("directory entry for \"ghost\" was not auto-created")
	}
	if metric.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", metric.Count())
	}
}
