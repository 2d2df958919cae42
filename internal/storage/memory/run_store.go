package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/lexcrawl/internal/crawler"
	"github.com/JakeFAU/lexcrawl/internal/id/uuid"
)

// RunStore implements crawler.RunTracker.
type RunStore struct {
	mu   sync.RWMutex
	ids  crawler.IDGenerator
	runs map[string]crawler.JobRun
}

// NewRunStore constructs a RunStore. A nil generator uses UUIDv7.
func NewRunStore(ids crawler.IDGenerator) *RunStore {
	if ids == nil {
		ids = uuid.New()
	}
	return &RunStore{ids: ids, runs: make(map[string]crawler.JobRun)}
}

// StartRun inserts a run in the started state with zeroed metrics.
func (s *RunStore) StartRun(_ context.Context, jobName string, startedAt time.Time) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("run id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[id] = crawler.JobRun{
		ID:        id,
		JobName:   jobName,
		StartedAt: startedAt,
		Status:    crawler.RunStarted,
	}
	return id, nil
}

// CompleteRun marks the run completed.
func (s *RunStore) CompleteRun(_ context.Context, runID string, finishedAt time.Time, summary crawler.RunSummary) error {
	return s.finish(runID, finishedAt, crawler.RunCompleted, summary, nil)
}

// FailRun marks the run failed with errMsg.
func (s *RunStore) FailRun(_ context.Context, runID string, finishedAt time.Time, summary crawler.RunSummary, errMsg string) error {
	return s.finish(runID, finishedAt, crawler.RunFailed, summary, &errMsg)
}

func (s *RunStore) finish(runID string, finishedAt time.Time, status crawler.RunStatus, summary crawler.RunSummary, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	run.NewRecordsFound = summary.NewRecordsFound
	run.PagesProcessed = summary.PagesProcessed
	run.ErrorMessage = errMsg
	s.runs[runID] = run
	return nil
}

// GetRun returns the run or crawler.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, runID string) (crawler.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return crawler.JobRun{}, crawler.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by job name.
func (s *RunStore) ListRuns(_ context.Context, jobName string, limit, offset int) ([]crawler.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.JobRun, 0, len(s.runs))
	for _, run := range s.runs {
		if jobName != "" && run.JobName != jobName {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if offset >= len(out) {
		return []crawler.JobRun{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
