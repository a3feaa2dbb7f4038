// Package jobqueue implements the durable job-and-step orchestration engine:
// Jobs are split into JobSteps, JobSteps are claimed and executed by a fixed
// worker pool, and handlers use a JobChain to enqueue further steps or index
// documents without touching the JobStore directly.
package jobqueue

import "time"

// JobType identifies the kind of work a JobStep performs.
type JobType int

const (
	JobTypeCrawl JobType = iota
	JobTypeLoad
	JobTypeSyncDeletions
	JobTypeDelete
)

func (t JobType) String() string {
	switch t {
	case JobTypeCrawl:
		return "CRAWL"
	case JobTypeLoad:
		return "LOAD"
	case JobTypeSyncDeletions:
		return "SYNC_DELETIONS"
	case JobTypeDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// JobStepStatus tracks a JobStep through its lifecycle. The numeric gaps
// between values mirror the source system's record status field and leave
// room for intermediate statuses without a migration.
type JobStepStatus int

const (
	JobStepStatusPending    JobStepStatus = 0
	JobStepStatusParked     JobStepStatus = 1000
	JobStepStatusInProgress JobStepStatus = 2000
	JobStepStatusDone       JobStepStatus = 3000
	JobStepStatusError      JobStepStatus = 4000
)

func (s JobStepStatus) String() string {
	switch s {
	case JobStepStatusPending:
		return "PENDING"
	case JobStepStatusParked:
		return "PARKED"
	case JobStepStatusInProgress:
		return "IN_PROGRESS"
	case JobStepStatusDone:
		return "DONE"
	case JobStepStatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// DeleteKeyMode picks which field identifies a document when deleting it
// from the index ahead of reindexing, or during deletion reconciliation.
type DeleteKeyMode int

const (
	DeleteKeyModeByDocID DeleteKeyMode = iota
	DeleteKeyModeByDocDisplayID
)

// KeyFor returns the (key field, key value) pair to use for a delete-by-query
// against the index, given the doc_id/doc_display_id carried by a JobStep.
func (m DeleteKeyMode) KeyFor(docID, docDisplayID string) (field, value string) {
	switch m {
	case DeleteKeyModeByDocID:
		return "metadata.doc_id", docID
	case DeleteKeyModeByDocDisplayID:
		return "metadata.doc_display_id", docDisplayID
	default:
		return "", ""
	}
}

// Job is an independent work unit against one configured datasource.
type Job struct {
	ID            string
	Datasource    string
	DocID         string
	DocDisplayID  string
	ConnectionID  string
	ModifiedSince *time.Time
	LoadDirectory bool
	URI           string
	File          string
	UploadName    string
	// SyncDeletions is a tri-state: nil means "true" (DefaultedSyncDeletions).
	SyncDeletions *bool
}

// DefaultedSyncDeletions reports whether this job should sync deletions,
// defaulting to true when unset.
func (j Job) DefaultedSyncDeletions() bool {
	if j.SyncDeletions == nil {
		return true
	}
	return *j.SyncDeletions
}

// JobStep is an atomic unit of execution within a Job.
type JobStep struct {
	ID            string
	DisplayID     string // monotonically increasing, assigned at store time
	JobID         string
	Type          JobType
	Datasource    string
	Status        JobStepStatus
	DocID         string
	DocDisplayID  string
	ExecutingNode string
	ErrorDetails  string
}

// Connection identifies the connection configuration a Job runs against.
// It carries only the ID; Features load their own settings by that ID.
type Connection struct {
	ID string
}

// Work is a unit of work executable by the worker pool.
type Work interface {
	Execute(q *JobQueue)
}

// StepWork asks the worker to claim and handle one JobStep.
type StepWork struct {
	Job        Job
	Step       JobStep
	Connection Connection
}

func (w StepWork) Execute(q *JobQueue) {
	q.HandleStep(w)
}

// PollMoreWork asks the worker to release the next batch of PENDING steps
// for a job, continuing after the given display ID.
type PollMoreWork struct {
	JobID          string
	Datasource     string
	AfterDisplayID string // steps polled must have a greater display ID than this, if set
}

func (w PollMoreWork) Execute(q *JobQueue) {
	q.HandlePollMore(w)
}
