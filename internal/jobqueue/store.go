package jobqueue

import "context"

// JobStore durably persists Jobs and JobSteps and provides the atomic claim
// operation steps are executed under. Implementations must make display_id
// ordering in GetPendingSteps stable (oldest first) for PollMore's batching
// to behave correctly.
type JobStore interface {
	// StoreJob persists job, assigning its ID if unset.
	StoreJob(ctx context.Context, job *Job) error

	// StoreStep persists step. If job is non-nil it is treated as the step's
	// parent: if job isn't persisted yet (job.ID == ""), it is stored first
	// and its generated ID is copied onto step.JobID. If job is nil, step
	// must already carry a JobID. StoreStep assigns step.ID and a
	// monotonically increasing step.DisplayID.
	StoreStep(ctx context.Context, step *JobStep, job *Job) error

	GetJob(ctx context.Context, jobID string) (Job, error)
	GetStep(ctx context.Context, stepID string) (JobStep, error)

	// HasSteps reports whether any JobStep has ever been stored for jobID.
	HasSteps(ctx context.Context, jobID string) (bool, error)

	// GetPendingSteps returns up to limit PENDING steps of jobID, ordered by
	// DisplayID ascending (oldest first). If afterDisplayID is non-empty,
	// only steps with a strictly greater DisplayID are returned.
	GetPendingSteps(ctx context.Context, jobID string, limit int, afterDisplayID string) ([]JobStep, error)

	// UpdateStatus sets step stepID's status. executingNode, if non-empty,
	// updates the recorded executing node; an empty string leaves it
	// unchanged. errorDetails, if non-empty, is recorded; otherwise, unless
	// status is JobStepStatusError, any previously recorded error details
	// are cleared.
	UpdateStatus(ctx context.Context, stepID string, status JobStepStatus, executingNode, errorDetails string) error

	// Claim reloads step's live status and, if it is PENDING, atomically
	// transitions it to IN_PROGRESS recording executingNode. Returns
	// *ClaimConflictError if the step isn't PENDING anymore, or
	// *ClaimError if the write itself fails. On success step is updated
	// in place to reflect the new status and executing node.
	Claim(ctx context.Context, step *JobStep, executingNode string) error
}
