// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mapping implements the bidirectional input-name to canonical
// metric-name registry described in spec.md §4.2.
package mapping

import (
	"errors"
	"sync"
)

// ErrAmbiguousMapping is returned by Register when name is already claimed
// by a different mapping.
var ErrAmbiguousMapping = errors.New("[MAPPING]> trying to map to a metric multiple times")

// ErrDuplicateInput is returned by Register when input is already registered.
var ErrDuplicateInput = errors.New("[MAPPING]> trying to insert the same input name twice")

// Entry is one resolved (input, name) pair, as returned in a subscription
// list by Service.Configure.
type Entry struct {
	Input string
	Name  string
}

// Table is the injective input->name registry: distinct inputs never map to
// the same name, and every name is claimed by at most one input. One mutex
// guards both the input->name map and the claimed-names set (spec.md §5).
type Table struct {
	mu      sync.Mutex
	inputs  map[string]string
	claimed map[string]struct{}
}

// New returns an empty mapping table.
func New() *Table {
	return &Table{
		inputs:  make(map[string]string),
		claimed: make(map[string]struct{}),
	}
}

// Register claims name for input. It fails with ErrAmbiguousMapping if name
// is already the target of some mapping, or ErrDuplicateInput if input is
// already registered — including re-registration of an identical pair,
// which is not idempotent (spec.md §4.2).
func (t *Table) Register(input, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registerLocked(input, name)
}

func (t *Table) registerLocked(input, name string) error {
	if _, exists := t.inputs[input]; exists {
		return ErrDuplicateInput
	}
	if _, claimed := t.claimed[name]; claimed {
		return ErrAmbiguousMapping
	}

	t.inputs[input] = name
	t.claimed[name] = struct{}{}
	return nil
}

// Resolve returns the name registered for input. If none exists yet, it
// atomically registers the identity mapping (input, input) under the same
// lock Register uses, preserving injectivity, and returns input.
func (t *Table) Resolve(input string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if name, ok := t.inputs[input]; ok {
		return name
	}

	// input is, by construction, not yet a key of t.inputs, so
	// registerLocked fails here only when input is already claimed as
	// another input's target name. That error is ignored: nothing is
	// registered, and input is still returned as the name.
	_ = t.registerLocked(input, input)
	return input
}

// Entries returns a snapshot of all registered (input, name) pairs. The
// order is unspecified.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make([]Entry, 0, len(t.inputs))
	for input, name := range t.inputs {
		entries = append(entries, Entry{Input: input, Name: name})
	}
	return entries
}

// Has reports whether name is already claimed by some mapping.
func (t *Table) Has(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.claimed[name]
	return ok
}
