// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config decodes and validates the configure payload spec.md §6
// describes, normalizing the legacy array form of "metrics" (SPEC_FULL.md
// §12, grounded on async_hta_service.hpp lines 131-145) into the same shape
// the object form produces.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrConfigInvalid is the sentinel for every ConfigInvalid case in spec.md
// §7's error taxonomy: threads < 1, a malformed metrics value, a metric
// requesting prefix:true, or a schema violation. Parse reports all of these
// except prefix:true, which internal/service rejects with an error wrapping
// this one.
var ErrConfigInvalid = errors.New("[CONFIG]> invalid configuration")

// MetricEntry is one normalized entry from the "metrics" config value,
// regardless of whether the source was the object form (keyed by name) or
// the legacy array form ({name, input} objects).
type MetricEntry struct {
	Name   string
	Input  string         // resolved alias; defaults to Name
	Prefix bool
	Extra  map[string]any // remaining fields, forwarded opaquely to the HTA directory
}

// Logging holds the two warn-on-skip toggles from SPEC_FULL.md §12. Both
// default to true, matching the original's hard-coded always-warn behavior.
type Logging struct {
	NaNValues          bool
	NonMonotonicValues bool
}

// Stats holds the optional self-telemetry settings from spec.md §6.
type Stats struct {
	Enabled bool
	Prefix  string
	Rate    float64
}

// Config is the decoded, normalized form of a configure payload.
type Config struct {
	Threads int
	Metrics []MetricEntry
	Logging Logging
	Stats   Stats
}

// rawConfig mirrors the wire JSON shape before metrics normalization.
type rawConfig struct {
	Threads int             `json:"threads"`
	Metrics json.RawMessage `json:"metrics"`
	Logging *struct {
		NaNValues          *bool `json:"nan_values"`
		NonMonotonicValues *bool `json:"non_monotonic_values"`
	} `json:"logging"`
	Stats *struct {
		Prefix string  `json:"prefix"`
		Rate   float64 `json:"rate"`
	} `json:"stats"`
}

// rawObjectMetric is one value in the object form of "metrics".
type rawObjectMetric struct {
	Input  string `json:"input"`
	Prefix bool   `json:"prefix"`
}

// rawArrayMetric is one entry in the legacy array form of "metrics".
type rawArrayMetric struct {
	Name   string `json:"name"`
	Input  string `json:"input"`
	Prefix bool   `json:"prefix"`
}

// Parse validates instance against the schema, decodes it, and normalizes
// "metrics" into a single shape regardless of which form was submitted.
func Parse(instance json.RawMessage) (Config, error) {
	if err := Validate(instance); err != nil {
		return Config{}, err
	}

	var raw rawConfig
	if err := json.Unmarshal(instance, &raw); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if raw.Threads < 1 {
		return Config{}, fmt.Errorf("%w: threads must be >= 1, got %d", ErrConfigInvalid, raw.Threads)
	}

	metrics, err := normalizeMetrics(raw.Metrics)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Threads: raw.Threads,
		Metrics: metrics,
		Logging: Logging{NaNValues: true, NonMonotonicValues: true},
	}
	if raw.Logging != nil {
		if raw.Logging.NaNValues != nil {
			cfg.Logging.NaNValues = *raw.Logging.NaNValues
		}
		if raw.Logging.NonMonotonicValues != nil {
			cfg.Logging.NonMonotonicValues = *raw.Logging.NonMonotonicValues
		}
	}
	if raw.Stats != nil && raw.Stats.Rate > 0 {
		cfg.Stats = Stats{Enabled: true, Prefix: raw.Stats.Prefix, Rate: raw.Stats.Rate}
	}

	return cfg, nil
}

// normalizeMetrics accepts either {"name": {...}, ...} or [{"name": ..., ...}, ...]
// and returns the same []MetricEntry shape either way.
func normalizeMetrics(raw json.RawMessage) ([]MetricEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	trimmed := make([]byte, 0)
	for _, b := range raw {
		if b == ' ' || b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		trimmed = append(trimmed, b)
	}
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var arr []rawArrayMetric
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, fmt.Errorf("%w: legacy metrics array: %v", ErrConfigInvalid, err)
		}
		entries := make([]MetricEntry, 0, len(arr))
		for _, m := range arr {
			if m.Name == "" {
				return nil, fmt.Errorf("%w: legacy metrics array entry missing name", ErrConfigInvalid)
			}
			input := m.Input
			if input == "" {
				input = m.Name
			}
			entries = append(entries, MetricEntry{Name: m.Name, Input: input, Prefix: m.Prefix})
		}
		return entries, nil

	case '{':
		var obj map[string]rawObjectMetric
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("%w: metrics object: %v", ErrConfigInvalid, err)
		}
		// Also decode into map[string]map[string]any to recover "extra"
		// fields forwarded opaquely to the HTA directory.
		var extras map[string]map[string]any
		_ = json.Unmarshal(raw, &extras)

		entries := make([]MetricEntry, 0, len(obj))
		for name, m := range obj {
			input := m.Input
			if input == "" {
				input = name
			}
			entry := MetricEntry{Name: name, Input: input, Prefix: m.Prefix}
			if fields, ok := extras[name]; ok {
				delete(fields, "input")
				delete(fields, "prefix")
				if len(fields) > 0 {
					entry.Extra = fields
				}
			}
			entries = append(entries, entry)
		}
		return entries, nil

	default:
		return nil, fmt.Errorf("%w: metrics must be an object or array", ErrConfigInvalid)
	}
}
