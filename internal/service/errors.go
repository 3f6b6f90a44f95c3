// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package service

import (
	"errors"
	"fmt"

	"github.com/metricq/metricq-db-hta/internal/config"
)

// ErrNotConfigured guards AsyncWrite/AsyncRead calls submitted before the
// first successful Configure call: AsyncWrite logs it and drops the chunk
// without invoking complete, and AsyncRead reports it through failed,
// since neither method's signature (fixed by bus.Inbound) can return an
// error directly.
var ErrNotConfigured = errors.New("[SERVICE]> service has not been configured yet")

// ErrThreadsImmutable is returned by Reconfigure when threads differs from
// the value fixed at first configure (spec.md §4.7/§7).
var ErrThreadsImmutable = errors.New("[SERVICE]> threads cannot change after first configure")

// ErrPrefixUnsupported is returned when a metric config sets prefix: true
// (spec.md §3/§6 — unsupported). It wraps config.ErrConfigInvalid.
var ErrPrefixUnsupported = fmt.Errorf("%w: [SERVICE]> prefix: true metric configs are unsupported", config.ErrConfigInvalid)
