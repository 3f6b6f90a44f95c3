// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// absoluteTimes reconstructs the absolute timestamps a consumer would see by
// prefix-summing TimeDelta, the same way previousAbsolute does internally.
func absoluteTimes(deltas []int64) []int64 {
	out := make([]int64, len(deltas))
	var sum int64
	for i, d := range deltas {
		sum += d
		out[i] = sum
	}
	return out
}

func TestAppendValuePrefixSumRoundTrips(t *testing.T) {
	var resp HistoryResponse
	resp.AppendValue(1000, 1.0)
	resp.AppendValue(1500, 2.0)
	resp.AppendValue(3000, 3.0)

	require.Equal(t, []float64{1.0, 2.0, 3.0}, resp.Value)
	require.Equal(t, []int64{1000, 500, 1500}, resp.TimeDelta)
	require.Equal(t, []int64{1000, 1500, 3000}, absoluteTimes(resp.TimeDelta))
}

func TestAppendAggregateRowPrefixSumRoundTrips(t *testing.T) {
	var resp HistoryResponse
	resp.AppendAggregateRow(0, AggregatePoint{Minimum: 1, Maximum: 1, Sum: 1, Count: 1})
	resp.AppendAggregateRow(60_000_000_000, AggregatePoint{Minimum: 2, Maximum: 4, Sum: 6, Count: 2})

	require.Len(t, resp.Aggregate, 2)
	require.Equal(t, []int64{0, 60_000_000_000}, resp.TimeDelta)
	require.Equal(t, []int64{0, 60_000_000_000}, absoluteTimes(resp.TimeDelta))
}

// TestAppendAbsoluteCarriesTimestampDirectly proves AGGREGATE/LAST_VALUE's
// single-point time_delta is the raw absolute timestamp, not a gap from a
// previous point (there is none).
func TestAppendAbsoluteCarriesTimestampDirectly(t *testing.T) {
	var resp HistoryResponse
	resp.AppendAbsolute(42)

	require.Equal(t, []int64{42}, resp.TimeDelta)
}

func TestRequestTypeString(t *testing.T) {
	cases := map[RequestType]string{
		AggregateTimeline: "AGGREGATE_TIMELINE",
		FlexTimeline:      "FLEX_TIMELINE",
		Aggregate:         "AGGREGATE",
		LastValue:         "LAST_VALUE",
		RequestType(99):   "UNKNOWN",
	}
	for rt, want := range cases {
		require.Equal(t, want, rt.String())
	}
}
