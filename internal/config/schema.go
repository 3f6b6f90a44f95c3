// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

// schema is the JSON schema for the configure payload (spec.md §6). It
// accepts metrics as either an object keyed by name or a legacy array of
// {name, input} entries (SPEC_FULL.md §12), so "metrics" has no single type
// constraint here — normalizeMetrics in config.go decides the shape at
// decode time.
const schema = `{
  "type": "object",
  "description": "Configuration accepted by async_configure.",
  "properties": {
    "threads": {
      "description": "Worker thread count for the strand pool. Immutable after first configure.",
      "type": "integer",
      "minimum": 1
    },
    "metrics": {
      "description": "Either an object keyed by canonical metric name, or a legacy array of {name, input} entries."
    },
    "logging": {
      "type": "object",
      "properties": {
        "nan_values": {
          "description": "Whether to warn on NaN skips during write.",
          "type": "boolean"
        },
        "non_monotonic_values": {
          "description": "Whether to warn on non-monotonic skips during write.",
          "type": "boolean"
        }
      }
    },
    "stats": {
      "type": "object",
      "properties": {
        "prefix": {
          "description": "Prefix prepended to published telemetry series names.",
          "type": "string"
        },
        "rate": {
          "description": "Telemetry publication frequency in Hz.",
          "type": "number",
          "exclusiveMinimum": 0
        }
      }
    }
  },
  "required": ["threads"]
}`
