// Package registry tracks background crawl and catalog runs in memory so
// the ops API can report their progress. Access is serialized behind a
// mutex; callers never see the lock.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind labels what a run is doing.
type Kind string

const (
	KindCrawl   Kind = "crawl"
	KindCatalog Kind = "catalog"
)

// State is a run's lifecycle phase.
type State string

const (
	StateRunning   State = "running"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

const maxErrorsPerRun = 10

// Run is a snapshot of one background run.
type Run struct {
	ID         string           `json:"id"`
	Kind       Kind             `json:"kind"`
	Target     string           `json:"target,omitempty"`
	State      State            `json:"state"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Counts     map[string]int64 `json:"counts,omitempty"`
	Errors     []string         `json:"errors,omitempty"`
	ErrorsSeen int64            `json:"errors_seen"`
}

// Registry is a concurrency-safe run map.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run
	now  func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{runs: make(map[string]*Run), now: time.Now}
}

// Begin registers a new running entry and returns its ID.
func (r *Registry) Begin(kind Kind, target string) string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id] = &Run{
		ID:        id,
		Kind:      kind,
		Target:    target,
		State:     StateRunning,
		StartedAt: r.now().UTC(),
		Counts:    make(map[string]int64),
	}
	return id
}

// Update replaces the named counter for a run. Unknown IDs are ignored.
func (r *Registry) Update(id, counter string, value int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		run.Counts[counter] = value
	}
}

// AddError records one error message for a run, keeping only the first
// few verbatim while still counting the rest.
func (r *Registry) AddError(id string, err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return
	}
	run.ErrorsSeen++
	if len(run.Errors) < maxErrorsPerRun {
		run.Errors = append(run.Errors, err.Error())
	}
}

// Finish marks a run terminal. Finishing an already terminal run is a
// no-op so racing callers cannot flip a final state.
func (r *Registry) Finish(id string, state State) error {
	if state == StateRunning {
		return fmt.Errorf("finish run %s: %q is not a terminal state", id, state)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return fmt.Errorf("finish run %s: unknown run", id)
	}
	if run.State != StateRunning {
		return nil
	}
	run.State = state
	t := r.now().UTC()
	run.FinishedAt = &t
	return nil
}

// Get returns a copy of the run, or false when unknown.
func (r *Registry) Get(id string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	return snapshot(run), true
}

// List returns copies of all runs, most recently started first.
func (r *Registry) List() []Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, snapshot(run))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// snapshot deep-copies mutable fields so callers cannot race the map.
func snapshot(run *Run) Run {
	cp := *run
	cp.Counts = make(map[string]int64, len(run.Counts))
	for k, v := range run.Counts {
		cp.Counts[k] = v
	}
	cp.Errors = append([]string(nil), run.Errors...)
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		cp.FinishedAt = &t
	}
	return cp
}
