// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mapping

import (
	"errors"
	"sync"
	"testing"
)

// ─── Register ────────────────────────────────────────────────────────────────

func TestRegisterBasic(t *testing.T) {
	tbl := New()
	if err := tbl.Register("a.raw", "a"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	entries := tbl.Entries()
	if len(entries) != 1 || entries[0] != (Entry{Input: "a.raw", Name: "a"}) {
		t.Fatalf("Entries() = %v, want [{a.raw a}]", entries)
	}
}

func TestRegisterAmbiguousMapping(t *testing.T) {
	tbl := New()
	if err := tbl.Register("x", "shared"); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	err := tbl.Register("y", "shared")
	if !errors.Is(err, ErrAmbiguousMapping) {
		t.Fatalf("Register() error = %v, want ErrAmbiguousMapping", err)
	}
}

func TestRegisterDuplicateInput(t *testing.T) {
	tbl := New()
	if err := tbl.Register("dup", "a"); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	err := tbl.Register("dup", "b")
	if !errors.Is(err, ErrDuplicateInput) {
		t.Fatalf("Register() error = %v, want ErrDuplicateInput", err)
	}
}

func TestRegisterIdenticalPairIsNotIdempotent(t *testing.T) {
	tbl := New()
	if err := tbl.Register("a", "a"); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	err := tbl.Register("a", "a")
	if !errors.Is(err, ErrDuplicateInput) {
		t.Fatalf("re-registering identical pair should fail, got %v", err)
	}
}

// ─── Resolve ──────────────────────────────────────────────────────────────────

func TestResolveKnownInput(t *testing.T) {
	tbl := New()
	_ = tbl.Register("b.raw", "b")

	if got := tbl.Resolve("b.raw"); got != "b" {
		t.Fatalf("Resolve() = %q, want %q", got, "b")
	}
}

func TestResolveUnknownInputAutoRegistersIdentity(t *testing.T) {
	tbl := New()

	got := tbl.Resolve("unseen")
	if got != "unseen" {
		t.Fatalf("Resolve() = %q, want %q", got, "unseen")
	}
	if !tbl.Has("unseen") {
		t.Fatal("Resolve() should have registered the identity mapping")
	}

	// Second resolve must hit the now-registered mapping, not re-register.
	if got := tbl.Resolve("unseen"); got != "unseen" {
		t.Fatalf("second Resolve() = %q, want %q", got, "unseen")
	}
}

func TestResolveConcurrentSameInputStaysInjective(t *testing.T) {
	tbl := New()

	const n = 64
	results := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = tbl.Resolve("same-input")
		}()
	}
	wg.Wait()

	for _, r := range results {
		if r != "same-input" {
			t.Fatalf("got %q among resolved names, want all %q", r, "same-input")
		}
	}
	if len(tbl.Entries()) != 1 {
		t.Fatalf("concurrent Resolve of one input created %d entries, want 1", len(tbl.Entries()))
	}
}
