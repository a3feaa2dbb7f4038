// Package jobstore implements jobqueue.JobStore over BadgerDB/badgerhold,
// generalized from internal/storage/badger/queue_storage.go's pattern of a
// mostly-immutable record plus a separately-updated status record.
package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/jobqueue"
	badger "github.com/ternarybob/quaero/internal/storage/badger"
	"github.com/timshannon/badgerhold/v4"
)

// jobRecord is the immutable-once-created Job as stored in Badger.
type jobRecord struct {
	ID            string `badgerhold:"key"`
	Datasource    string `badgerhold:"index"`
	DocID         string
	DocDisplayID  string
	ConnectionID  string
	ModifiedSince *time.Time
	LoadDirectory bool
	URI           string
	File          string
	UploadName    string
	SyncDeletions *bool
}

// stepRecord is the status-bearing JobStep as stored in Badger. DisplayID is
// a zero-padded decimal string so lexicographic order (what badgerhold's
// SortBy gives us) agrees with numeric order, without needing a second index.
type stepRecord struct {
	ID            string `badgerhold:"key"`
	DisplayID     string `badgerhold:"index"`
	JobID         string `badgerhold:"index"`
	Type          int
	Datasource    string
	Status        int `badgerhold:"index"`
	DocID         string
	DocDisplayID  string
	ExecutingNode string
	ErrorDetails  string
}

// displayIDCounter is the per-process monotonic sequence backing DisplayID
// assignment, grounded on queue_storage.go's IncrementDocumentCountAtomic
// read-increment-write pattern, but kept as an in-memory atomic counter
// seeded from storage at startup since Jobs in this engine are claimed by a
// single node at a time and a gap in the sequence on restart is harmless
// (display IDs only need to be strictly increasing within a Job, not dense).
type displayIDCounter struct {
	n int64
}

func (c *displayIDCounter) next() string {
	return fmt.Sprintf("%020d", atomic.AddInt64(&c.n, 1))
}

// Store implements jobqueue.JobStore over a BadgerDB connection.
type Store struct {
	db      *badger.BadgerDB
	logger  arbor.ILogger
	counter *displayIDCounter

	// claimMu serializes the reload-then-write window in Claim. badgerhold
	// has no native compare-and-swap, so this process-local lock stands in
	// for it; it only protects against races between goroutines in this
	// process, not across multiple processes sharing the same database file.
	claimMu sync.Mutex
}

// New builds a Store, seeding its display-ID counter from the highest
// DisplayID already persisted so restarts never reissue one.
func New(db *badger.BadgerDB, logger arbor.ILogger) (*Store, error) {
	s := &Store{db: db, logger: logger, counter: &displayIDCounter{}}

	var steps []stepRecord
	if err := db.Store().Find(&steps, badgerhold.Where("ID").Ne("").SortBy("DisplayID").Reverse().Limit(1)); err != nil {
		return nil, fmt.Errorf("seed display id counter: %w", err)
	}
	if len(steps) > 0 {
		var n int64
		if _, err := fmt.Sscanf(steps[0].DisplayID, "%d", &n); err == nil {
			atomic.StoreInt64(&s.counter.n, n)
		}
	}
	return s, nil
}

var _ jobqueue.JobStore = (*Store)(nil)

func toJobRecord(job jobqueue.Job) jobRecord {
	return jobRecord{
		ID:            job.ID,
		Datasource:    job.Datasource,
		DocID:         job.DocID,
		DocDisplayID:  job.DocDisplayID,
		ConnectionID:  job.ConnectionID,
		ModifiedSince: job.ModifiedSince,
		LoadDirectory: job.LoadDirectory,
		URI:           job.URI,
		File:          job.File,
		UploadName:    job.UploadName,
		SyncDeletions: job.SyncDeletions,
	}
}

func fromJobRecord(r jobRecord) jobqueue.Job {
	return jobqueue.Job{
		ID:            r.ID,
		Datasource:    r.Datasource,
		DocID:         r.DocID,
		DocDisplayID:  r.DocDisplayID,
		ConnectionID:  r.ConnectionID,
		ModifiedSince: r.ModifiedSince,
		LoadDirectory: r.LoadDirectory,
		URI:           r.URI,
		File:          r.File,
		UploadName:    r.UploadName,
		SyncDeletions: r.SyncDeletions,
	}
}

func toStepRecord(step jobqueue.JobStep) stepRecord {
	return stepRecord{
		ID:            step.ID,
		DisplayID:     step.DisplayID,
		JobID:         step.JobID,
		Type:          int(step.Type),
		Datasource:    step.Datasource,
		Status:        int(step.Status),
		DocID:         step.DocID,
		DocDisplayID:  step.DocDisplayID,
		ExecutingNode: step.ExecutingNode,
		ErrorDetails:  step.ErrorDetails,
	}
}

func fromStepRecord(r stepRecord) jobqueue.JobStep {
	return jobqueue.JobStep{
		ID:            r.ID,
		DisplayID:     r.DisplayID,
		JobID:         r.JobID,
		Type:          jobqueue.JobType(r.Type),
		Datasource:    r.Datasource,
		Status:        jobqueue.JobStepStatus(r.Status),
		DocID:         r.DocID,
		DocDisplayID:  r.DocDisplayID,
		ExecutingNode: r.ExecutingNode,
		ErrorDetails:  r.ErrorDetails,
	}
}

// StoreJob persists job, assigning a UUID if it doesn't already have one.
func (s *Store) StoreJob(ctx context.Context, job *jobqueue.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	rec := toJobRecord(*job)
	if err := s.db.Store().Upsert(rec.ID, rec); err != nil {
		s.logger.Error().Err(err).Str("job_id", rec.ID).Msg("jobstore: failed to store job")
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

// StoreStep persists step, assigning its ID and DisplayID, and storing job
// first if it hasn't been persisted yet.
func (s *Store) StoreStep(ctx context.Context, step *jobqueue.JobStep, job *jobqueue.Job) error {
	if job != nil {
		if err := s.StoreJob(ctx, job); err != nil {
			return err
		}
		step.JobID = job.ID
	} else if step.JobID == "" {
		return fmt.Errorf("cannot store a job step without a parent job reference")
	}

	step.ID = uuid.NewString()
	step.DisplayID = s.counter.next()

	rec := toStepRecord(*step)
	if err := s.db.Store().Upsert(rec.ID, rec); err != nil {
		s.logger.Error().Err(err).Str("step_id", rec.ID).Msg("jobstore: failed to store job step")
		return fmt.Errorf("store job step: %w", err)
	}
	return nil
}

// GetJob loads a Job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (jobqueue.Job, error) {
	var rec jobRecord
	if err := s.db.Store().Get(jobID, &rec); err != nil {
		return jobqueue.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return fromJobRecord(rec), nil
}

// GetStep loads a JobStep by ID.
func (s *Store) GetStep(ctx context.Context, stepID string) (jobqueue.JobStep, error) {
	var rec stepRecord
	if err := s.db.Store().Get(stepID, &rec); err != nil {
		return jobqueue.JobStep{}, fmt.Errorf("get job step %s: %w", stepID, err)
	}
	return fromStepRecord(rec), nil
}

// HasSteps reports whether jobID already has any persisted JobSteps.
func (s *Store) HasSteps(ctx context.Context, jobID string) (bool, error) {
	count, err := s.db.Store().Count(&stepRecord{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return false, fmt.Errorf("count job steps for %s: %w", jobID, err)
	}
	return count > 0, nil
}

// GetPendingSteps returns up to limit PENDING steps of jobID with a
// DisplayID greater than afterDisplayID, ordered ascending by DisplayID.
func (s *Store) GetPendingSteps(ctx context.Context, jobID string, limit int, afterDisplayID string) ([]jobqueue.JobStep, error) {
	query := badgerhold.Where("JobID").Eq(jobID).And("Status").Eq(int(jobqueue.JobStepStatusPending))
	if afterDisplayID != "" {
		query = query.And("DisplayID").Gt(afterDisplayID)
	}
	query = query.SortBy("DisplayID")

	var recs []stepRecord
	if err := s.db.Store().Find(&recs, query); err != nil {
		return nil, fmt.Errorf("find pending job steps for %s: %w", jobID, err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].DisplayID < recs[j].DisplayID })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	out := make([]jobqueue.JobStep, len(recs))
	for i, rec := range recs {
		out[i] = fromStepRecord(rec)
	}
	return out, nil
}

// UpdateStatus sets stepID's status (and, for non-ERROR statuses, clears any
// prior ErrorDetails, matching the original system's to_set_status_record
// behavior).
func (s *Store) UpdateStatus(ctx context.Context, stepID string, status jobqueue.JobStepStatus, executingNode, errorDetails string) error {
	var rec stepRecord
	if err := s.db.Store().Get(stepID, &rec); err != nil {
		return fmt.Errorf("get job step %s: %w", stepID, err)
	}
	rec.Status = int(status)
	if executingNode != "" {
		rec.ExecutingNode = executingNode
	}
	if errorDetails != "" {
		rec.ErrorDetails = errorDetails
	} else if status != jobqueue.JobStepStatusError {
		rec.ErrorDetails = ""
	}
	if err := s.db.Store().Upsert(stepID, rec); err != nil {
		return fmt.Errorf("update job step %s status: %w", stepID, err)
	}
	return nil
}

// Claim attempts to atomically move step from PENDING to IN_PROGRESS.
// Mirrors the original system's claim_job_step: reload the live record,
// bail with ClaimConflictError if it isn't PENDING anymore, else write
// IN_PROGRESS with executingNode. badgerhold has no native compare-and-swap,
// so this takes the store-wide write lock for the reload-then-write window —
// the same caveat the original Python system's TODO comment notes about its
// own REST-API-backed store never getting true optimistic locking either.
func (s *Store) Claim(ctx context.Context, step *jobqueue.JobStep, executingNode string) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	var rec stepRecord
	if err := s.db.Store().Get(step.ID, &rec); err != nil {
		return &jobqueue.ClaimError{Step: *step, Err: fmt.Errorf("get job step %s: %w", step.ID, err)}
	}

	step.Status = jobqueue.JobStepStatus(rec.Status)
	step.ExecutingNode = rec.ExecutingNode
	if step.Status != jobqueue.JobStepStatusPending {
		return &jobqueue.ClaimConflictError{Step: *step}
	}

	rec.Status = int(jobqueue.JobStepStatusInProgress)
	rec.ExecutingNode = executingNode
	if err := s.db.Store().Upsert(step.ID, rec); err != nil {
		return &jobqueue.ClaimError{Step: *step, Err: fmt.Errorf("upsert job step %s: %w", step.ID, err)}
	}

	step.Status = jobqueue.JobStepStatusInProgress
	step.ExecutingNode = executingNode
	return nil
}
