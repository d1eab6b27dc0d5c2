// Package status exposes the bootstrap loop's progress over HTTP.
package status

import (
	"sync"
	"time"
)

// Phase is the loop's current stage.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseInstalling Phase = "installing"
	PhaseStarting   Phase = "starting"  // runtime start issued, waiting for the model
	PhaseSwarm      Phase = "swarm"     // model loaded, agents running
	PhaseSucceeded  Phase = "succeeded" // swarm completed every task
	PhaseFailed     Phase = "failed"    // installer or swarm failed
	PhaseExhausted  Phase = "exhausted" // the model never loaded within the attempt bound
	PhaseCancelled  Phase = "cancelled"
)

// Snapshot is a point-in-time view of the loop.
type Snapshot struct {
	Phase       Phase     `json:"phase"`
	Attempt     int       `json:"attempt"` // 0-based loop attempt index
	MaxAttempts int       `json:"maxAttempts"`
	Model       string    `json:"model,omitempty"`
	Quantized   bool      `json:"quantized"`
	Downgraded  bool      `json:"downgraded"`
	LastRunID   string    `json:"lastRunId,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Done reports whether the loop has reached a terminal phase.
func (s Snapshot) Done() bool {
	switch s.Phase {
	case PhaseSucceeded, PhaseFailed, PhaseExhausted, PhaseCancelled:
		return true
	}
	return false
}

// Tracker holds the current Snapshot. A nil *Tracker ignores updates.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a tracker in the idle phase.
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{snap: Snapshot{Phase: PhaseIdle, StartedAt: now, UpdatedAt: now}}
}

// Update applies fn to the snapshot under the write lock.
func (t *Tracker) Update(fn func(*Snapshot)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.snap)
	t.snap.UpdatedAt = time.Now()
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{Phase: PhaseIdle}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}
