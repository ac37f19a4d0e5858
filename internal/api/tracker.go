package api

import (
	"sync"
	"time"

	"github.com/JakeFAU/arretes-crawler/internal/crawler"
)

// Run phases reported by Tracker.
const (
	PhaseIdle     = "idle"
	PhaseRunning  = "running"
	PhaseFinished = "finished"
	PhaseFailed   = "failed"
)

// RunState is the snapshot served on /v1/run.
type RunState struct {
	Phase      string           `json:"phase"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Summary    *crawler.Summary `json:"summary,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Tracker holds the state of the process's run. It is safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	state RunState
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{state: RunState{Phase: PhaseIdle}}
}

// Start marks the run as in progress.
func (t *Tracker) Start(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = RunState{Phase: PhaseRunning, StartedAt: &at}
}

// Finish records the outcome of the run.
func (t *Tracker) Finish(at time.Time, summary crawler.Summary, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.FinishedAt = &at
	t.state.Summary = &summary
	t.state.Phase = PhaseFinished
	if err != nil {
		t.state.Phase = PhaseFailed
		t.state.Error = err.Error()
	}
}

// State returns a copy of the current state.
func (t *Tracker) State() RunState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}
