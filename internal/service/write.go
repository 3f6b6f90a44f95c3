// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package service

import (
	"math"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/metricq/metricq-db-hta/pkg/bus"
	"github.com/metricq/metricq-db-hta/pkg/hta"
)

// sampleWireSize approximates sizeof(Sample) for throughput accounting
// (int64 time + float64 value), matching spec.md §4.3 step 7's
// "chunk_sample_count × sizeof(Sample)".
const sampleWireSize = 16

// runWrite implements WritePipeline (spec.md §4.3). It runs under name's
// strand: at most one write or read task is ever active for a given metric
// at a time, so max_ts and the metric handle itself need no locking here.
func runWrite(s *Service, name string, chunk bus.DataChunk, pendingSince time.Time, complete func()) {
	txn := s.writeStats.Begin(pendingSince)
	defer txn.Finish()

	// A write to a name with no prior configure-time registration still
	// succeeds: mapping.Resolve already auto-registered an identity mapping
	// for it in AsyncWrite, so the directory side must auto-create its
	// handle too rather than treating this as a store failure.
	metric, ok := s.directory.Lookup(name)
	if !ok {
		var err error
		metric, err = s.directory.Metric(name, hta.MetricConfig{})
		if err != nil {
			cclog.Errorf("[WRITE]> fatal: could not create directory entry for %q: %v", name, err)
			return
		}
	}

	start := time.Now()
	maxTs := metric.Range().MaxTime

	var skippedNonMonotonic, skippedNaN int
	for _, sample := range chunk.Samples {
		switch {
		case sample.Time <= maxTs:
			skippedNonMonotonic++
		case math.IsNaN(sample.Value):
			skippedNaN++
		default:
			if err := metric.Insert(hta.Sample{Time: sample.Time, Value: sample.Value}); err != nil {
				cclog.Errorf("[WRITE]> fatal: insert into %q failed: %v", name, err)
				return
			}
			maxTs = sample.Time
		}
	}

	if skippedNonMonotonic > 0 && s.logNonMonotonic {
		cclog.Warnf("[WRITE]> %q skipped %d non-monotonic sample(s)", name, skippedNonMonotonic)
	}
	if skippedNaN > 0 && s.logNaN {
		cclog.Warnf("[WRITE]> %q skipped %d NaN sample(s)", name, skippedNaN)
	}

	if err := metric.Flush(); err != nil {
		cclog.Errorf("[WRITE]> fatal: flush of %q failed: %v", name, err)
		return
	}

	elapsed := time.Since(start)
	if elapsed > time.Second {
		cclog.Warnf("[WRITE]> %q took %s", name, elapsed)
	} else {
		cclog.Debugf("[WRITE]> %q took %s", name, elapsed)
	}

	txn.Complete(len(chunk.Samples) * sampleWireSize)
	complete()
}
