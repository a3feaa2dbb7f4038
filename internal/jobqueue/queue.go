package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/ternarybob/arbor"
)

// ChainFactory builds the IndexingChain handed to handlers. Tests can
// substitute a factory that returns a chain wired to fakes.
type ChainFactory func(q *JobQueue) *IndexingChain

// JobQueue orchestrates queuing, claiming, and dispatching JobSteps. It is
// normally wired once at startup as a process-wide singleton alongside the
// JobStore, FeatureRegistry, and WorkerPool it holds.
type JobQueue struct {
	registry     *FeatureRegistry
	store        JobStore
	pool         *WorkerPool
	connRepo     ConnectionRepository
	chainFactory ChainFactory
	logger       arbor.ILogger

	batchSize     int
	executingNode string
}

// Config holds the tunables that drive JobQueue batching and worker count.
type Config struct {
	// MaxJobWorkers is the fixed size of the underlying WorkerPool. Default 4.
	MaxJobWorkers int
	// JobStepBatchSize bounds how many PENDING steps PollMore releases at once. Default 100.
	JobStepBatchSize int
	// ChunkPrefix is prepended to chunk content before embedding. Default "passage: ".
	ChunkPrefix string
}

// DefaultConfig returns the engine's default tunables.
func DefaultConfig() Config {
	return Config{
		MaxJobWorkers:    4,
		JobStepBatchSize: 100,
		ChunkPrefix:      "passage: ",
	}
}

// NewJobQueue wires a JobQueue and starts its WorkerPool. chainFactory is
// called once per handled StepWork to build the IndexingChain passed to the
// resolved handler; pass a factory that closes over the index/chunker/
// embedder/chunk-prefix wiring (see cmd/ wiring).
func NewJobQueue(
	registry *FeatureRegistry,
	store JobStore,
	connRepo ConnectionRepository,
	chainFactory ChainFactory,
	cfg Config,
	logger arbor.ILogger,
) *JobQueue {
	q := &JobQueue{
		registry:      registry,
		store:         store,
		connRepo:      connRepo,
		chainFactory:  chainFactory,
		logger:        logger,
		batchSize:     cfg.JobStepBatchSize,
		executingNode: executingNodeName(),
	}
	q.pool = NewWorkerPool(cfg.MaxJobWorkers, q.doWork, logger)
	q.pool.Start(cfg.MaxJobWorkers)
	return q
}

func executingNodeName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown-node"
}

// Shutdown stops the underlying WorkerPool, waiting for in-flight work to finish.
func (q *JobQueue) Shutdown() {
	q.pool.Shutdown()
}

func (q *JobQueue) doWork(work Work) {
	work.Execute(q)
}

// QueueStep persists step (and, transitively, job if it isn't stored yet),
// optionally submitting it to the worker pool immediately. Returns the
// persisted step's ID.
func (q *JobQueue) QueueStep(ctx context.Context, job Job, step JobStep, connection Connection, executeNow bool) (string, error) {
	if err := q.store.StoreStep(ctx, &step, &job); err != nil {
		return "", &StoreError{Op: "StoreStep", Err: err}
	}
	if executeNow {
		q.NotifyStepWork(job, step, connection)
	}
	return step.ID, nil
}

// NotifyStepWork submits step for immediate execution by the worker pool.
func (q *JobQueue) NotifyStepWork(job Job, step JobStep, connection Connection) {
	q.pool.Submit(StepWork{Job: job, Step: step, Connection: connection})
}

// NotifyPollMoreWork submits a PollMoreWork continuation for jobID.
func (q *JobQueue) NotifyPollMoreWork(jobID, datasource, afterDisplayID string) {
	q.pool.Submit(PollMoreWork{JobID: jobID, Datasource: datasource, AfterDisplayID: afterDisplayID})
}

// claimStep attempts to claim step, logging (never propagating) a
// ClaimConflictError as a warning and a ClaimError as an error, matching
// the spec's "claim failures never abort the worker" policy.
func (q *JobQueue) claimStep(ctx context.Context, step *JobStep) {
	err := q.store.Claim(ctx, step, q.executingNode)
	if err == nil {
		return
	}
	var conflict *ClaimConflictError
	var claimErr *ClaimError
	switch {
	case errors.As(err, &conflict):
		q.logger.Warn().Str("step_id", step.ID).Msg("job step cannot be claimed anymore, skipping")
	case errors.As(err, &claimErr):
		q.logger.Error().Err(err).Str("step_id", step.ID).Msg("error while claiming job step, skipping")
	default:
		q.logger.Error().Err(err).Str("step_id", step.ID).Msg("unexpected error while claiming job step")
	}
}

// HandleStep resolves and runs the handler for work.Step, claiming it first
// and recording DONE/ERROR on completion.
func (q *JobQueue) HandleStep(work StepWork) {
	ctx := context.Background()
	job, step := work.Job, work.Step

	handler := q.registry.HandlerFor(job, step)
	if handler == nil {
		q.logger.Warn().
			Str("datasource", step.Datasource).
			Str("step_type", step.Type.String()).
			Str("step_id", step.ID).
			Msg("unsupported job type, skipping")
		return
	}

	q.claimStep(ctx, &step)
	if step.Status != JobStepStatusInProgress {
		return
	}

	chain := q.chainFactory(q)
	err := q.runHandler(ctx, handler, job, step, chain, work.Connection)
	if err != nil {
		q.logger.Error().Err(err).Str("step_id", step.ID).Msg("error while handling job step")
		if uerr := q.store.UpdateStatus(ctx, step.ID, JobStepStatusError, "", err.Error()); uerr != nil {
			q.logger.Error().Err(uerr).Str("step_id", step.ID).Msg("failed to record job step error status")
		}
		return
	}

	if uerr := q.store.UpdateStatus(ctx, step.ID, JobStepStatusDone, "", ""); uerr != nil {
		q.logger.Error().Err(uerr).Str("step_id", step.ID).Msg("failed to record job step done status")
	}
}

// runHandler invokes handler, recovering a panic into an error carrying a
// stack trace so one misbehaving handler never crashes a worker and its
// failure is still recorded onto the step.
func (q *JobQueue) runHandler(ctx context.Context, handler Handler, job Job, step JobStep, chain *IndexingChain, connection Connection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job step handler: %v\n%s", r, debug.Stack())
		}
	}()
	return handler(ctx, job, step, chain, connection)
}

// ExecuteJobSteps launches execution of job's pending steps.
func (q *JobQueue) ExecuteJobSteps(ctx context.Context, job Job) {
	q.PollMore(ctx, job.ID, job.Datasource, "")
}

// HandlePollMore runs PollMore for a PollMoreWork continuation.
func (q *JobQueue) HandlePollMore(work PollMoreWork) {
	q.PollMore(context.Background(), work.JobID, work.Datasource, work.AfterDisplayID)
}

// PollMore fetches up to batchSize PENDING steps of jobID after
// afterDisplayID, submits each for immediate execution, and, if the page was
// full (more steps may remain), submits a PollMoreWork continuation.
func (q *JobQueue) PollMore(ctx context.Context, jobID, datasource, afterDisplayID string) {
	pendingSteps, err := q.store.GetPendingSteps(ctx, jobID, q.batchSize, afterDisplayID)
	if err != nil {
		q.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to fetch pending job steps")
		return
	}
	if len(pendingSteps) == 0 {
		q.logger.Info().Str("job_id", jobID).Str("datasource", datasource).Msg("no more steps to poll for job")
		return
	}

	q.logger.Debug().
		Int("count", len(pendingSteps)).
		Str("job_id", jobID).
		Str("datasource", datasource).
		Msg("attempting to resume pending steps for job")

	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		q.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to load job while polling for more steps")
		return
	}
	connection := q.loadConnection(ctx, job)

	maxDisplayID := pendingSteps[0].DisplayID
	for _, step := range pendingSteps {
		q.NotifyStepWork(job, step, connection)
		if step.DisplayID > maxDisplayID {
			maxDisplayID = step.DisplayID
		}
	}

	// We assume PollMore isn't called concurrently with new steps being
	// generated for the same job, so a partial page means there is nothing
	// left to poll and we can skip the continuation.
	if len(pendingSteps) >= q.batchSize {
		q.NotifyPollMoreWork(jobID, datasource, maxDisplayID)
	}
}

func (q *JobQueue) loadConnection(ctx context.Context, job Job) Connection {
	loader := q.registry.ConnectionLoader(job, q.connRepo)
	if loader == nil {
		return Connection{}
	}
	conn, err := loader.Load(ctx)
	if err != nil {
		q.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to load connection for job")
		return Connection{}
	}
	return conn
}

// StartOrResumeJob resumes a job's pending steps if it already has any, or
// starts it from scratch by creating and queuing its first step.
func (q *JobQueue) StartOrResumeJob(ctx context.Context, jobID string) error {
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return &StoreError{Op: "GetJob", Err: err}
	}

	hasSteps, err := q.store.HasSteps(ctx, jobID)
	if err != nil {
		return &StoreError{Op: "HasSteps", Err: err}
	}
	if hasSteps {
		q.PollMore(ctx, jobID, job.Datasource, "")
		return nil
	}

	step := q.registry.CreateFirstStep(job)
	if step == nil {
		q.logger.Warn().
			Str("job_id", job.ID).
			Str("datasource", job.Datasource).
			Msg("ignoring job: unable to derive steps from it")
		return nil
	}

	connection := q.loadConnection(ctx, job)
	_, err = q.QueueStep(ctx, job, *step, connection, true)
	return err
}
