// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate checks instance against the compiled configure-payload schema.
// Unlike cc-backend's internal/config.Validate (which runs once at process
// startup and is allowed to cclog.Fatalf), our config is submitted at
// runtime via async_configure and must surface failures as ConfigInvalid
// errors to the caller's completion instead of aborting the process.
func Validate(instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("async-hta-config.json", schema)
	if err != nil {
		return fmt.Errorf("[CONFIG]> invalid schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return nil
}
