// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidvec Contributors

// Package health tracks the observed availability of an upstream
// dependency, such as the embedding service.
package health

import (
	"sync"
	"time"
)

// Metrics exposes the current health state of an upstream dependency
// for monitoring and operator visibility. All fields are point-in-time
// snapshots safe to serialize to JSON.
type Metrics struct {
	FailureCount  int64      `json:"failure_count" yaml:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty" yaml:"last_failure_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty" yaml:"last_success_at,omitempty"`
	Available     bool       `json:"available" yaml:"available"`
}

// Tracker accumulates success and failure observations. The zero value
// reports unavailable until the first success.
type Tracker struct {
	mu      sync.Mutex
	metrics Metrics
	now     func() time.Time
}

// NewTracker creates a Tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Success records a successful interaction.
func (t *Tracker) Success() {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts := t.clock()
	t.metrics.LastSuccessAt = &ts
	t.metrics.Available = true
}

// Failure records a failed interaction.
func (t *Tracker) Failure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts := t.clock()
	t.metrics.FailureCount++
	t.metrics.LastFailureAt = &ts
	t.metrics.Available = false
}

// Snapshot returns a copy of the current metrics.
func (t *Tracker) Snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metrics
}

func (t *Tracker) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}
