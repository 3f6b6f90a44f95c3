// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package service wires the StrandTable, MappingTable, StatsCollector and
// HTA directory into the async request/response façade spec.md §4.7
// describes: Configure/Reconfigure own the worker pool and metric registry
// lifecycle; AsyncWrite/AsyncRead submit work onto per-metric strands.
package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/metricq/metricq-db-hta/internal/config"
	"github.com/metricq/metricq-db-hta/internal/mapping"
	"github.com/metricq/metricq-db-hta/internal/stats"
	"github.com/metricq/metricq-db-hta/internal/strand"
	"github.com/metricq/metricq-db-hta/pkg/bus"
	"github.com/metricq/metricq-db-hta/pkg/hta"
)

// Service is the core façade: the only object a surrounding program (a bus
// transport adapter, a CLI) needs to drive configuration and async I/O.
type Service struct {
	mu         sync.Mutex
	configured bool
	threads    int

	directory hta.Directory
	mapping   *mapping.Table
	strands   *strand.Table

	readStats  *stats.Collector
	writeStats *stats.Collector
	telemetry  *stats.Metrics
	publisher  bus.Outbound

	logNaN          bool
	logNonMonotonic bool
}

// New constructs an unconfigured Service bound to directory for storage and
// publisher for optional self-telemetry (publisher may be nil if
// stats.rate is never configured).
func New(directory hta.Directory, publisher bus.Outbound) *Service {
	return &Service{
		directory:       directory,
		mapping:         mapping.New(),
		readStats:       stats.New(),
		writeStats:      stats.New(),
		publisher:       publisher,
		logNaN:          true,
		logNonMonotonic: true,
	}
}

// Configure performs the first-call configuration (spec.md §4.7) on the
// first invocation, and an additive Reconfigure on every subsequent one. It
// returns the full subscription list — one (input, name) pair per
// registered mapping — or a ConfigInvalid/AmbiguousMapping/DuplicateInput
// error, in which case the service is left exactly as it was before the
// call (scenario 4 in spec.md §8).
func (s *Service) Configure(raw json.RawMessage) ([]mapping.Entry, error) {
	cfg, err := config.Parse(raw)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configured {
		return s.reconfigureLocked(cfg)
	}
	return s.configureLocked(cfg)
}

func (s *Service) configureLocked(cfg config.Config) ([]mapping.Entry, error) {
	for _, m := range cfg.Metrics {
		if m.Prefix {
			return nil, fmt.Errorf("%w: metric %q", ErrPrefixUnsupported, m.Name)
		}
	}
	if err := validateBatch(cfg.Metrics, s.mapping); err != nil {
		// Validation happens entirely before any state is touched, so no
		// worker pool is created on first-call failure (spec.md §8
		// scenario 4).
		return nil, err
	}

	s.strands = strand.NewTable(cfg.Threads)
	s.threads = cfg.Threads
	s.logNaN = cfg.Logging.NaNValues
	s.logNonMonotonic = cfg.Logging.NonMonotonicValues

	s.commitMetrics(cfg.Metrics)
	s.configured = true

	if cfg.Stats.Enabled && s.publisher != nil {
		s.startTelemetryLocked(cfg.Stats)
	}

	return s.mapping.Entries(), nil
}

func (s *Service) reconfigureLocked(cfg config.Config) ([]mapping.Entry, error) {
	if cfg.Threads != s.threads {
		return nil, fmt.Errorf("%w: got %d, configured with %d", ErrThreadsImmutable, cfg.Threads, s.threads)
	}

	toAdd := make([]config.MetricEntry, 0, len(cfg.Metrics))
	for _, m := range cfg.Metrics {
		if m.Prefix {
			return nil, fmt.Errorf("%w: metric %q", ErrPrefixUnsupported, m.Name)
		}
		if s.mapping.Has(m.Name) {
			continue // already known: reconfigure is additive only
		}
		toAdd = append(toAdd, m)
	}
	if err := validateBatch(toAdd, s.mapping); err != nil {
		return nil, err
	}

	s.commitMetrics(toAdd)
	return s.mapping.Entries(), nil
}

// commitMetrics creates each metric's directory handle and registers its
// mapping. Callers must have already run validateBatch over entries so that
// every Register call below is guaranteed to succeed.
func (s *Service) commitMetrics(entries []config.MetricEntry) {
	for _, m := range entries {
		if _, err := s.directory.Metric(m.Name, hta.MetricConfig{Input: m.Input, Prefix: m.Prefix, Extra: m.Extra}); err != nil {
			cclog.Errorf("[SERVICE]> could not create directory entry for %q: %v", m.Name, err)
			continue
		}
		if err := s.mapping.Register(m.Input, m.Name); err != nil {
			cclog.Errorf("[SERVICE]> unexpected mapping failure for %q -> %q: %v", m.Input, m.Name, err)
		}
	}
}

func (s *Service) startTelemetryLocked(st config.Stats) {
	interval := time.Duration(float64(time.Second) / st.Rate)
	m := stats.NewMetrics(s.publisher, st.Prefix, interval)
	m.Read = s.readStats
	m.Write = s.writeStats
	if err := m.Start(); err != nil {
		cclog.Errorf("[SERVICE]> could not start telemetry: %v", err)
		return
	}
	s.telemetry = m
}

// validateBatch checks a batch of to-be-registered metrics for collisions
// against each other and against table's existing entries, without
// mutating table. Running this before any real Register call is what makes
// Configure/Reconfigure atomic: either every entry in the batch can be
// registered, or none of them are.
func validateBatch(entries []config.MetricEntry, table *mapping.Table) error {
	existingInputs := make(map[string]struct{})
	for _, e := range table.Entries() {
		existingInputs[e.Input] = struct{}{}
	}

	seenInputs := make(map[string]struct{}, len(entries))
	seenNames := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seenInputs[e.Input]; ok {
			return fmt.Errorf("%w: input %q maps to more than one metric in this configure call", mapping.ErrAmbiguousMapping, e.Input)
		}
		if _, ok := existingInputs[e.Input]; ok {
			return fmt.Errorf("%w: input %q is already registered", mapping.ErrDuplicateInput, e.Input)
		}
		seenInputs[e.Input] = struct{}{}

		if _, ok := seenNames[e.Name]; ok {
			return fmt.Errorf("%w: name %q appears twice in this configure call", mapping.ErrAmbiguousMapping, e.Name)
		}
		if table.Has(e.Name) {
			return fmt.Errorf("%w: name %q is already claimed", mapping.ErrAmbiguousMapping, e.Name)
		}
		seenNames[e.Name] = struct{}{}
	}
	return nil
}

// AsyncWrite resolves inputName to its canonical metric name, accounts for
// the pending request, and posts a WritePipeline task onto that metric's
// strand. complete is invoked with no arguments once the chunk has been
// durably flushed (spec.md §4.7/§6).
func (s *Service) AsyncWrite(inputName string, chunk bus.DataChunk, complete func()) {
	s.mu.Lock()
	configured := s.configured
	s.mu.Unlock()
	if !configured {
		cclog.Errorf("[SERVICE]> AsyncWrite(%q): %v", inputName, ErrNotConfigured)
		return
	}

	name := s.mapping.Resolve(inputName)

	// Deep-copy the chunk at submission: producers reuse their receive
	// buffers, so ownership must move to the strand task (spec.md §5).
	owned := bus.DataChunk{Samples: append([]bus.Sample(nil), chunk.Samples...)}

	s.writeStats.Pending()
	pendingSince := time.Now()

	s.strands.Post(name, func() {
		runWrite(s, name, owned, pendingSince, complete)
	})
}

// AsyncRead posts a ReadPipeline task onto metricName's strand. Unlike
// AsyncWrite, metricName is used directly — history request producers
// address canonical names, not input aliases (spec.md §4.7).
func (s *Service) AsyncRead(metricName string, req bus.HistoryRequest, complete func(bus.HistoryResponse), failed func(name, message string)) {
	s.mu.Lock()
	configured := s.configured
	s.mu.Unlock()
	if !configured {
		failed(metricName, ErrNotConfigured.Error())
		return
	}

	s.readStats.Pending()
	pendingSince := time.Now()

	s.strands.Post(metricName, func() {
		runRead(s, metricName, req, pendingSince, complete, failed)
	})
}

// Shutdown waits for outstanding strand work to finish and stops telemetry.
func (s *Service) Shutdown() {
	s.mu.Lock()
	telemetry := s.telemetry
	strands := s.strands
	s.mu.Unlock()

	if telemetry != nil {
		if err := telemetry.Shutdown(); err != nil {
			cclog.Errorf("[SERVICE]> telemetry shutdown: %v", err)
		}
	}
	if strands != nil {
		strands.Close()
	}
}
