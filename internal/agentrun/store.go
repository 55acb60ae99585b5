package agentrun

import (
	"context"
	"errors"
	"sync"
)

// Store errors.
var (
	ErrRunNotFound  = errors.New("agent run not found")
	ErrRunFinalized = errors.New("agent run already finalized")
)

// RunStore persists run and step records. FinalizeRun must reject a second
// finalization of the same run.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	AppendStep(ctx context.Context, runID string, rec StepRecord) error
	FinalizeRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, []StepRecord, error)
	ListRuns(ctx context.Context, userID string, limit int) ([]Run, error)
}

// MemoryStore is an in-memory RunStore for tests and single-process
// deployments. Runs do not survive a restart.
type MemoryStore struct {
	mu    sync.Mutex
	runs  map[string]*Run
	steps map[string][]StepRecord
	order []string // insertion order, newest last
}

var _ RunStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  make(map[string]*Run),
		steps: make(map[string][]StepRecord),
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.RunID] = &cp
	s.order = append(s.order, run.RunID)
	return nil
}

func (s *MemoryStore) AppendStep(_ context.Context, runID string, rec StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return ErrRunNotFound
	}
	s.steps[runID] = append(s.steps[runID], rec)
	return nil
}

func (s *MemoryStore) FinalizeRun(_ context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.RunID]
	if !ok {
		return ErrRunNotFound
	}
	if existing.FinishedAt != nil {
		return ErrRunFinalized
	}
	cp := *run
	s.runs[run.RunID] = &cp
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*Run, []StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil, ErrRunNotFound
	}
	cp := *run
	steps := make([]StepRecord, len(s.steps[runID]))
	copy(steps, s.steps[runID])
	return &cp, steps, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, userID string, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Run
	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.runs[s.order[i]]
		if run.UserID != userID {
			continue
		}
		out = append(out, *run)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
