package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/pt-crawler/internal/crawler"
)

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// RunStore provides an in-memory implementation for development/testing.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]crawler.Run
	now  func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]crawler.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run crawler.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRun updates the status and summary for a run.
func (s *RunStore) UpdateRun(
	_ context.Context,
	id string,
	status crawler.RunStatus,
	errText string,
	summary crawler.Summary,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = status
	run.ErrorText = errText
	run.Summary = summary
	now := s.now()
	if status == crawler.RunStatusRunning && run.Started == nil {
		run.Started = &now
	}
	if isTerminal(status) {
		run.Finished = &now
	}
	s.runs[id] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, id string) (crawler.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return crawler.Run{}, ErrRunNotFound
	}
	return run, nil
}

func isTerminal(status crawler.RunStatus) bool {
	switch status {
	case crawler.RunStatusSucceeded, crawler.RunStatusFailed:
		return true
	default:
		return false
	}
}
