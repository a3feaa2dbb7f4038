package jobqueue

import (
	"context"
	"time"
)

// JobRequest is the inbound request shape accepted by the HTTP /jobs and
// /files endpoints, before it has been turned into a Job.
type JobRequest struct {
	Datasource    string
	DocID         string
	DocDisplayID  string
	URI           string
	LoadDirectory bool
	ModifiedSince *time.Time
	ConnectionID  string
	UploadName    string // set when the request carries an uploaded file
}

// Handler executes one JobStep. It receives the IndexingChain so it can
// enqueue further steps and index/delete documents, never touching the
// JobStore directly.
type Handler func(ctx context.Context, job Job, step JobStep, chain *IndexingChain, connection Connection) error

// ConnectionRepository loads raw connection configuration by ID. Concrete
// ConnectionLoaders use it to fetch and decode a Feature's connection type.
type ConnectionRepository interface {
	GetConnection(ctx context.Context, connectionID string) (map[string]any, error)
}

// ConnectionLoader loads the Connection configuration needed to run a Job.
type ConnectionLoader interface {
	Load(ctx context.Context) (Connection, error)
}

// noopConnectionLoader is returned by Features that have no connection-backed
// configuration of their own.
type noopConnectionLoader struct{ id string }

func (l noopConnectionLoader) Load(ctx context.Context) (Connection, error) {
	return Connection{ID: l.id}, nil
}

// Feature owns one datasource end to end: recognizing requests/jobs for it,
// creating the first step, dispatching handlers, and picking the delete key
// mode used when reconciling deletions.
type Feature interface {
	// Name identifies the feature for logging purposes.
	Name() string

	// AcceptsRequest reports whether this feature handles the given inbound request.
	AcceptsRequest(req JobRequest) bool
	// CreateJob turns an accepted JobRequest into its corresponding unpersisted Job.
	CreateJob(req JobRequest) Job

	// AcceptsJob reports whether this feature owns the given (already persisted) Job.
	AcceptsJob(job Job) bool
	// CreateFirstStep turns a Job into its first unpersisted JobStep.
	CreateFirstStep(job Job) JobStep
	// HandlerFor returns the Handler able to process the given JobStep, or nil
	// if this feature has no handler for that step's type.
	HandlerFor(job Job, step JobStep) Handler
	// DeleteKeyMode indicates which document property identifies indexed
	// documents to delete ahead of reindexing a new revision.
	DeleteKeyMode(job Job, step JobStep) DeleteKeyMode

	// ConnectionLoader returns a loader for this feature's connection
	// configuration. Features without connection-backed configuration can
	// return a default loader via DefaultConnectionLoader.
	ConnectionLoader(connectionID string, repo ConnectionRepository) ConnectionLoader
}

// DefaultConnectionLoader returns the loader used by Features that don't
// override ConnectionLoader: a trivial loader that just carries the ID
// through to Connection.ID.
func DefaultConnectionLoader(connectionID string) ConnectionLoader {
	return noopConnectionLoader{id: connectionID}
}

// FeatureRegistry holds an ordered list of Features. Every lookup resolves
// to the first Feature that accepts the request/job; later Features are
// never consulted once one accepts.
type FeatureRegistry struct {
	features []Feature
}

// NewFeatureRegistry builds a registry from an ordered list of Features.
// Order matters: the first accepting Feature wins.
func NewFeatureRegistry(features ...Feature) *FeatureRegistry {
	return &FeatureRegistry{features: features}
}

func (r *FeatureRegistry) findAcceptingRequest(req JobRequest) Feature {
	for _, f := range r.features {
		if f.AcceptsRequest(req) {
			return f
		}
	}
	return nil
}

func (r *FeatureRegistry) findAcceptingJob(job Job) Feature {
	for _, f := range r.features {
		if f.AcceptsJob(job) {
			return f
		}
	}
	return nil
}

// CreateJob returns the unpersisted Job for req, or nil if no feature accepts it.
func (r *FeatureRegistry) CreateJob(req JobRequest) *Job {
	f := r.findAcceptingRequest(req)
	if f == nil {
		return nil
	}
	job := f.CreateJob(req)
	return &job
}

// CreateFirstStep returns the first unpersisted JobStep for job, or nil if
// no feature owns this job's datasource.
func (r *FeatureRegistry) CreateFirstStep(job Job) *JobStep {
	f := r.findAcceptingJob(job)
	if f == nil {
		return nil
	}
	step := f.CreateFirstStep(job)
	return &step
}

// ConvertToJobAndFirstStep tries to build an unpersisted Job and its first
// step out of req. Returns (nil, nil) if no feature supports req.
func (r *FeatureRegistry) ConvertToJobAndFirstStep(req JobRequest) (*Job, *JobStep, error) {
	job := r.CreateJob(req)
	if job == nil {
		return nil, nil, nil
	}
	step := r.CreateFirstStep(*job)
	if step == nil {
		return nil, nil, &UnsupportedJobStepError{Job: *job}
	}
	return job, step, nil
}

// HandlerFor resolves the Handler for step, or nil if no feature can handle it.
func (r *FeatureRegistry) HandlerFor(job Job, step JobStep) Handler {
	f := r.findAcceptingJob(job)
	if f == nil {
		return nil
	}
	return f.HandlerFor(job, step)
}

// DeleteKeyMode resolves the DeleteKeyMode for job/step. ok is false if no
// feature owns this job.
func (r *FeatureRegistry) DeleteKeyMode(job Job, step JobStep) (mode DeleteKeyMode, ok bool) {
	f := r.findAcceptingJob(job)
	if f == nil {
		return 0, false
	}
	return f.DeleteKeyMode(job, step), true
}

// ConnectionLoader resolves the ConnectionLoader for job, or nil if job has
// no connection ID or no feature owns it.
func (r *FeatureRegistry) ConnectionLoader(job Job, repo ConnectionRepository) ConnectionLoader {
	if job.ConnectionID == "" {
		return nil
	}
	f := r.findAcceptingJob(job)
	if f == nil {
		return nil
	}
	return f.ConnectionLoader(job.ConnectionID, repo)
}
