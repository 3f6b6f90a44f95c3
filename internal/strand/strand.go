// Copyright (C) 2019-2024 ZIH, Technische Universitaet Dresden.
// All rights reserved. This file is part of metricq-db-hta.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package strand provides per-key serialized execution on top of a shared,
// fixed-size worker pool.
//
// # Why
//
// HTA metric handles are not safe for concurrent use. Giving every metric its
// own goroutine would work but does not bound total concurrency, and giving
// every metric its own OS thread wastes resources at the metric counts this
// service expects (thousands). Instead, every metric gets a Strand: a private
// FIFO queue of tasks with an "owned" flag. Posting a task to an idle strand
// dispatches one runner closure onto the shared pool; that runner drains the
// strand's queue until empty before giving the worker back. Two strands can
// have runners active on two different pool workers at once, but a single
// strand never has two runners draining it concurrently.
//
// This mirrors the worker-pool idiom cc-backend's checkpoint/archive code
// uses (a fixed number of goroutines draining a shared work channel) layered
// with a per-key actor discipline, per spec.md §9's design note.
package strand

import (
	"context"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// Table maps metric names to private, serialized execution contexts backed
// by a shared pool of worker goroutines.
type Table struct {
	jobs    chan func()
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.Mutex
	strands map[string]*strandState
}

// strandState is the per-key FIFO queue and ownership flag described above.
type strandState struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

// NewTable creates a Table backed by threads worker goroutines. threads must
// be at least 1; the caller (internal/service) is responsible for rejecting
// smaller values as a configuration error before calling NewTable.
func NewTable(threads int) *Table {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Table{
		jobs:    make(chan func()),
		cancel:  cancel,
		strands: make(map[string]*strandState),
	}

	t.wg.Add(threads)
	for i := 0; i < threads; i++ {
		go t.worker(ctx)
	}
	return t
}

func (t *Table) worker(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case run, ok := <-t.jobs:
			if !ok {
				return
			}
			run()
		}
	}
}

// strandFor returns the strandState for name, creating one under lock if it
// does not exist yet. Creation is atomic: two concurrent calls for the same
// name never produce two different states.
func (t *Table) strandFor(name string) *strandState {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.strands[name]
	if !ok {
		s = &strandState{}
		t.strands[name] = s
	}
	return s
}

// Post schedules task to run under the exclusive ownership of name's strand.
// Tasks posted to the same name run in FIFO order with no overlap; tasks on
// different names may run in parallel up to the pool's width.
//
// If name's strand already has a runner, Post only appends task to the
// strand's queue and returns. If the strand was idle, Post blocks until a
// pool worker accepts the draining runner, so it waits for a free worker
// when every worker is busy.
func (t *Table) Post(name string, task func()) {
	s := t.strandFor(name)

	s.mu.Lock()
	s.queue = append(s.queue, task)
	alreadyRunning := s.running
	if !alreadyRunning {
		s.running = true
	}
	s.mu.Unlock()

	if !alreadyRunning {
		t.dispatch(s)
	}
}

// dispatch hands the pool a runner closure that drains s's queue until it is
// empty, then releases ownership. If another Post arrives for s while the
// runner is draining, the runner simply keeps going instead of a second
// runner being dispatched (see the alreadyRunning check in Post).
func (t *Table) dispatch(s *strandState) {
	t.jobs <- func() {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.running = false
				s.mu.Unlock()
				return
			}
			task := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			runSafely(task)
		}
	}
}

// runSafely invokes task, converting a panic into a logged error so that one
// misbehaving task never takes down a shared worker goroutine (and with it,
// every other strand's progress).
func runSafely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			cclog.Errorf("[STRAND]> task panicked: %v", r)
		}
	}()
	task()
}

// Len returns the number of metric names with a strand allocated. Exposed
// for tests and diagnostics only.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.strands)
}

// Close stops accepting new pool work and waits for in-flight tasks to
// finish draining (join semantics matching the C++ thread_pool::join()).
func (t *Table) Close() {
	t.cancel()
	close(t.jobs)
	t.wg.Wait()
}
