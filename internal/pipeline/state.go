package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// Summary is the aggregate of one ingestion run.
type Summary struct {
	RunID                string     `json:"run_id"`
	Ingested             int        `json:"ingested"`
	FlaggedIssues        int        `json:"flagged_issues"`
	ExampleImprovedTitle *string    `json:"example_improved_title"`
	ExamplePrompt        *string    `json:"example_prompt"`
	StartedAt            time.Time  `json:"started_at"`
	FinishedAt           *time.Time `json:"finished_at,omitempty"`
	// Error is set when the run aborted.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the run aborted.
func (s *Summary) Failed() bool {
	return s != nil && s.Error != ""
}

// Snapshot is a point-in-time copy of the run state.
type Snapshot struct {
	Running     bool       `json:"running"`
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	RunID       string     `json:"run_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	LastSummary *Summary   `json:"last_summary"`
}

// RunState is the process-wide ingestion state. Only the Orchestrator mutates
// it; everyone else reads through Snapshot.
type RunState struct {
	running   atomic.Bool
	total     atomic.Int64
	completed atomic.Int64

	mu          sync.RWMutex
	runID       string
	startedAt   time.Time
	finishedAt  time.Time
	lastError   string
	lastSummary *Summary
}

// tryBegin flips the state to running and resets the counters. It returns
// false, leaving the state untouched, when a run is already active.
func (s *RunState) tryBegin(runID string, now time.Time) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.completed.Store(0)
	s.total.Store(0)

	s.mu.Lock()
	s.runID = runID
	s.startedAt = now
	s.finishedAt = time.Time{}
	s.lastError = ""
	s.lastSummary = nil
	s.mu.Unlock()
	return true
}

func (s *RunState) setTotal(n int) {
	s.total.Store(int64(n))
}

func (s *RunState) complete() int {
	return int(s.completed.Add(1))
}

// finish publishes the summary and releases the gate. running goes false last
// so a caller that observes an idle state also sees the summary.
func (s *RunState) finish(summary *Summary, now time.Time) {
	s.mu.Lock()
	s.finishedAt = now
	s.lastSummary = summary
	s.lastError = summary.Error
	s.mu.Unlock()

	s.running.Store(false)
}

// Snapshot returns a copy of the current state.
func (s *RunState) Snapshot() Snapshot {
	snap := Snapshot{
		Running:   s.running.Load(),
		Completed: int(s.completed.Load()),
		Total:     int(s.total.Load()),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	snap.RunID = s.runID
	snap.LastError = s.lastError
	if !s.startedAt.IsZero() {
		started := s.startedAt
		snap.StartedAt = &started
	}
	if !s.finishedAt.IsZero() {
		finished := s.finishedAt
		snap.FinishedAt = &finished
	}
	snap.LastSummary = s.lastSummary.clone()
	return snap
}

// LastSummary returns a copy of the most recent run summary, or nil.
func (s *RunState) LastSummary() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSummary.clone()
}

func (s *Summary) clone() *Summary {
	if s == nil {
		return nil
	}
	c := *s
	if s.ExampleImprovedTitle != nil {
		v := *s.ExampleImprovedTitle
		c.ExampleImprovedTitle = &v
	}
	if s.ExamplePrompt != nil {
		v := *s.ExamplePrompt
		c.ExamplePrompt = &v
	}
	if s.FinishedAt != nil {
		v := *s.FinishedAt
		c.FinishedAt = &v
	}
	return &c
}
