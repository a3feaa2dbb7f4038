package jobqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// memoryStore is a minimal in-memory JobStore used by the scenario tests in
// this package. Display IDs are assigned as zero-padded monotonic counters
// so lexicographic and numeric ordering agree.
type memoryStore struct {
	mu     sync.Mutex
	jobs   map[string]Job
	steps  map[string]JobStep
	seq    int
	jobSeq int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		jobs:  map[string]Job{},
		steps: map[string]JobStep{},
	}
}

func (s *memoryStore) StoreJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		s.jobSeq++
		job.ID = fmt.Sprintf("job-%d", s.jobSeq)
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *memoryStore) StoreStep(ctx context.Context, step *JobStep, job *Job) error {
	s.mu.Lock()
	if job != nil {
		if job.ID == "" {
			s.jobSeq++
			job.ID = fmt.Sprintf("job-%d", s.jobSeq)
		}
		s.jobs[job.ID] = *job
		step.JobID = job.ID
	} else if step.JobID == "" {
		s.mu.Unlock()
		return fmt.Errorf("cannot store a job step without a parent job reference")
	}

	s.seq++
	step.ID = fmt.Sprintf("step-%d", s.seq)
	step.DisplayID = fmt.Sprintf("%020d", s.seq)
	s.steps[step.ID] = *step
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) GetJob(ctx context.Context, jobID string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, fmt.Errorf("job %s not found", jobID)
	}
	return job, nil
}

func (s *memoryStore) GetStep(ctx context.Context, stepID string) (JobStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[stepID]
	if !ok {
		return JobStep{}, fmt.Errorf("job step %s not found", stepID)
	}
	return step, nil
}

func (s *memoryStore) HasSteps(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, step := range s.steps {
		if step.JobID == jobID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) GetPendingSteps(ctx context.Context, jobID string, limit int, afterDisplayID string) ([]JobStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []JobStep
	for _, step := range s.steps {
		if step.JobID != jobID || step.Status != JobStepStatusPending {
			continue
		}
		if afterDisplayID != "" && step.DisplayID <= afterDisplayID {
			continue
		}
		matches = append(matches, step)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].DisplayID < matches[j].DisplayID })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *memoryStore) UpdateStatus(ctx context.Context, stepID string, status JobStepStatus, executingNode, errorDetails string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[stepID]
	if !ok {
		return fmt.Errorf("job step %s not found", stepID)
	}
	step.Status = status
	if executingNode != "" {
		step.ExecutingNode = executingNode
	}
	if errorDetails != "" {
		step.ErrorDetails = errorDetails
	} else if status != JobStepStatusError {
		step.ErrorDetails = ""
	}
	s.steps[stepID] = step
	return nil
}

func (s *memoryStore) Claim(ctx context.Context, step *JobStep, executingNode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	live, ok := s.steps[step.ID]
	if !ok {
		return &ClaimError{Step: *step, Err: fmt.Errorf("step %s not found", step.ID)}
	}
	step.Status = live.Status
	step.ExecutingNode = live.ExecutingNode

	if step.Status != JobStepStatusPending {
		return &ClaimConflictError{Step: *step}
	}

	live.Status = JobStepStatusInProgress
	live.ExecutingNode = executingNode
	s.steps[step.ID] = live

	step.Status = JobStepStatusInProgress
	step.ExecutingNode = executingNode
	return nil
}
