// Package progress holds the per-pass training snapshots the annealing
// selector publishes, and serves the latest one over HTTP for anyone
// watching a long run. The reporter never drives the optimizer; it
// only stores what the selector pushes.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is one pass boundary's worth of selector state.
type Snapshot struct {
	RunID        string    `json:"run_id"`
	Pass         int       `json:"pass"`
	GenCount     int64     `json:"gen_count"`
	Score        float64   `json:"score"`
	EnabledCount int64     `json:"enabled_count"`
	Temperature  float64   `json:"temperature"`
	Timestamp    time.Time `json:"timestamp"`
}

// Reporter stores the most recent Snapshot under a read/write lock.
// One Reporter corresponds to one training run, identified by a
// generated run ID that correlates log lines and status responses.
type Reporter struct {
	runID string

	mu       sync.RWMutex
	last     Snapshot
	hasValue bool
}

// NewReporter returns a Reporter with a fresh run ID.
func NewReporter() *Reporter {
	return &Reporter{runID: uuid.NewString()}
}

// RunID returns the identifier assigned to this run.
func (r *Reporter) RunID() string {
	return r.runID
}

// Publish replaces the latest snapshot. The reporter stamps the run ID
// and timestamp itself so callers only fill in selector state.
func (r *Reporter) Publish(s Snapshot) {
	s.RunID = r.runID
	s.Timestamp = time.Now()

	r.mu.Lock()
	r.last = s
	r.hasValue = true
	r.mu.Unlock()
}

// Latest returns the most recently published snapshot, or ok=false if
// nothing has been published yet.
func (r *Reporter) Latest() (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.hasValue
}
