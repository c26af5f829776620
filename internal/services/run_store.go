package services

import (
	"sort"
	"sync"
	"time"

	"tenderscope/internal/association"
	apperrors "tenderscope/internal/errors"
	"tenderscope/internal/pipeline"
	"tenderscope/internal/table"
)

// DefaultMaxRuns bounds a RunStore created with a non-positive limit.
const DefaultMaxRuns = 32

// Run is one scored table kept for follow-up queries.
type Run struct {
	ID        string
	CreatedAt time.Time
	Table     *table.Table
	Output    *pipeline.Output
	// Associations holds the latest mining result for this run, if any.
	Associations *association.Result
}

// RunSummary describes a run without its items.
type RunSummary struct {
	ID             string    `json:"run_id"`
	Source         string    `json:"source"`
	CreatedAt      time.Time `json:"created_at"`
	Items          int       `json:"items"`
	Model          string    `json:"model"`
	ModelAvailable bool      `json:"model_available"`
	Anomalies      int       `json:"anomalies"`
}

// Summary returns the run summary.
func (r *Run) Summary() RunSummary {
	return RunSummary{
		ID:             r.ID,
		Source:         r.Output.Source,
		CreatedAt:      r.CreatedAt,
		Items:          len(r.Output.Items),
		Model:          r.Output.Model.Name,
		ModelAvailable: r.Output.Model.Available,
		Anomalies:      r.Output.Model.Anomalies,
	}
}

// RunStore keeps the most recent runs in memory, evicting the oldest once
// the limit is reached. Stored runs are never mutated except for their
// Associations, which are replaced under the store lock.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
	max   int
}

// NewRunStore creates a store holding at most max runs.
func NewRunStore(max int) *RunStore {
	if max <= 0 {
		max = DefaultMaxRuns
	}
	return &RunStore{
		runs: make(map[string]*Run),
		max:  max,
	}
}

// Put stores run and returns the ids evicted to make room.
func (s *RunStore) Put(run *Run) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		s.removeLocked(run.ID)
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)

	var evicted []string
	for len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, oldest)
		evicted = append(evicted, oldest)
	}
	return evicted
}

// Get retrieves a run by ID
func (s *RunStore) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, apperrors.NewNotFoundError("run").WithContext("run_id", id)
	}
	return run, nil
}

// SetAssociations records the mining result of a run.
func (s *RunStore) SetAssociations(id string, res *association.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[id]
	if !exists {
		return apperrors.NewNotFoundError("run").WithContext("run_id", id)
	}
	updated := *run
	updated.Associations = res
	s.runs[id] = &updated
	return nil
}

// List returns the stored runs, newest first.
func (s *RunStore) List() []RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Delete removes a run from the store
func (s *RunStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; !exists {
		return apperrors.NewNotFoundError("run").WithContext("run_id", id)
	}
	s.removeLocked(id)
	return nil
}

// Len returns the number of stored runs.
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func (s *RunStore) removeLocked(id string) {
	delete(s.runs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
