// Package jobqueuehttp wires the durable job-queue orchestration engine
// (internal/jobqueue) to HTTP, grounded on
// original_source/src/{jobs,connections/files,health}/router.py and the
// teacher's net/http.ServeMux + WriteJSON/WriteError handler idiom
// (internal/server/routes.go, internal/handlers/helpers.go).
package jobqueuehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/features/upload"
	"github.com/ternarybob/quaero/internal/handlers"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/jobqueue"
)

const maxUploadSize = 32 << 20 // 32MB, mirroring connections/files/constants.py's MAX_FILE_SIZE order of magnitude

// HealthChecker is one readiness component, the Go shape of
// health/models.py's HealthIndicator.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// Handler exposes the job-queue engine's HTTP surface: job submission, file
// upload, job (re)execution, and health probes.
type Handler struct {
	Registry  *jobqueue.FeatureRegistry
	Queue     *jobqueue.JobQueue
	ConnRepo  jobqueue.ConnectionRepository
	Uploads   interfaces.KeyValueStorage
	Readiness []HealthChecker
	Logger    arbor.ILogger
}

// NewHandler builds a Handler. readiness may be empty; liveness never
// depends on it.
func NewHandler(registry *jobqueue.FeatureRegistry, queue *jobqueue.JobQueue, connRepo jobqueue.ConnectionRepository, uploads interfaces.KeyValueStorage, readiness []HealthChecker, logger arbor.ILogger) *Handler {
	return &Handler{
		Registry:  registry,
		Queue:     queue,
		ConnRepo:  connRepo,
		Uploads:   uploads,
		Readiness: readiness,
		Logger:    logger,
	}
}

// RegisterRoutes mounts the job-queue engine's endpoints on mux under
// prefix (e.g. "/api/ingestion"), keeping this package's paths isolated
// from the surrounding application's own routes (the pre-existing /jobs
// page and /api/jobs crawler-job-list surface are unrelated handlers).
func (h *Handler) RegisterRoutes(mux *http.ServeMux, prefix string) {
	mux.HandleFunc(prefix+"/jobs", h.CreateJobHandler)
	mux.HandleFunc(prefix+"/files", h.UploadFileHandler)
	mux.HandleFunc(prefix+"/jobexecutions", h.JobExecutionHandler)
	mux.HandleFunc(prefix+"/health/liveness", h.LivenessHandler)
	mux.HandleFunc(prefix+"/health/readiness", h.ReadinessHandler)
}

// jobRequestPayload is the wire shape of JobRequest in
// original_source/src/jobs/schemas.py.
type jobRequestPayload struct {
	Datasource    string     `json:"datasource"`
	DocID         string     `json:"docId"`
	DocDisplayID  string     `json:"docDisplayId"`
	URI           string     `json:"uri"`
	LoadDirectory bool       `json:"loadDirectory"`
	ModifiedSince *time.Time `json:"modifiedSince"`
	ConnectionID  string     `json:"connectionId"`
}

func (p jobRequestPayload) toJobRequest() jobqueue.JobRequest {
	return jobqueue.JobRequest{
		Datasource:    p.Datasource,
		DocID:         p.DocID,
		DocDisplayID:  p.DocDisplayID,
		URI:           p.URI,
		LoadDirectory: p.LoadDirectory,
		ModifiedSince: p.ModifiedSince,
		ConnectionID:  p.ConnectionID,
	}
}

type jobResponse struct {
	ID string `json:"id"`
}

// CreateJobHandler handles POST /jobs, mirroring jobs/router.py's create_job:
// it converts the request to a Job+first JobStep and queues the step for
// immediate execution.
func (h *Handler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !handlers.RequireMethod(w, r, http.MethodPost) {
		return
	}

	var payload jobRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	h.submitJob(w, r.Context(), payload.toJobRequest())
}

// UploadFileHandler handles POST /files, mirroring connections/files/
// router.py's uploading_file: it reads the uploaded file, stashes its bytes
// keyed by the job's (pre-assigned) ID, and queues the LOAD step.
func (h *Handler) UploadFileHandler(w http.ResponseWriter, r *http.Request) {
	if !handlers.RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	datasource := r.FormValue("datasource")
	file, header, err := r.FormFile("upload_file")
	if err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "missing upload_file: "+err.Error())
		return
	}
	defer file.Close()

	buf := make([]byte, header.Size)
	if _, err := file.Read(buf); err != nil && err.Error() != "EOF" {
		handlers.WriteError(w, http.StatusInternalServerError, "failed to read uploaded file: "+err.Error())
		return
	}

	req := jobqueue.JobRequest{Datasource: datasource, UploadName: header.Filename}
	job, step, err := h.Registry.ConvertToJobAndFirstStep(req)
	if err != nil || job == nil || step == nil {
		handlers.WriteError(w, http.StatusUnprocessableEntity, "unsupported job request")
		return
	}

	if err := upload.PutUpload(r.Context(), h.Uploads, job.ID, header.Filename, buf); err != nil {
		handlers.WriteError(w, http.StatusInternalServerError, "failed to stash uploaded file: "+err.Error())
		return
	}

	h.queueFirstStep(w, r.Context(), job, step)
}

// JobExecutionHandler handles POST /jobexecutions, mirroring jobs/router.py's
// execute_job: it resumes a job's pending steps, or starts it if it has none.
func (h *Handler) JobExecutionHandler(w http.ResponseWriter, r *http.Request) {
	if !handlers.RequireMethod(w, r, http.MethodPost) {
		return
	}

	var payload struct {
		JobID string `json:"jobId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.JobID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Queue.StartOrResumeJob(r.Context(), payload.JobID); err != nil {
		handlers.WriteError(w, http.StatusInternalServerError, "failed to start or resume job: "+err.Error())
		return
	}
	handlers.WriteJSON(w, http.StatusAccepted, map[string]string{})
}

// LivenessHandler handles GET /health/liveness, always reporting UP: it
// checks only that the process is running, mirroring health/router.py's
// liveness probe.
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if !handlers.RequireMethod(w, r, http.MethodGet) {
		return
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

type componentHealth struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type readinessResponse struct {
	Status     string            `json:"status"`
	Components []componentHealth `json:"components"`
}

// ReadinessHandler handles GET /health/readiness, mirroring
// health/router.py's get_readiness_state: it runs every registered
// HealthChecker and reports 503 if any component is down.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !handlers.RequireMethod(w, r, http.MethodGet) {
		return
	}

	components := make([]componentHealth, 0, len(h.Readiness))
	allUp := true
	for _, checker := range h.Readiness {
		comp := componentHealth{Name: checker.Name(), Status: "UP"}
		if err := checker.Check(r.Context()); err != nil {
			comp.Status = "DOWN"
			comp.Detail = err.Error()
			allUp = false
		}
		components = append(components, comp)
	}

	status := http.StatusOK
	overall := "UP"
	if !allUp {
		status = http.StatusServiceUnavailable
		overall = "DOWN"
	}
	handlers.WriteJSON(w, status, readinessResponse{Status: overall, Components: components})
}

func (h *Handler) submitJob(w http.ResponseWriter, ctx context.Context, req jobqueue.JobRequest) {
	job, step, err := h.Registry.ConvertToJobAndFirstStep(req)
	if err != nil || job == nil || step == nil {
		handlers.WriteError(w, http.StatusUnprocessableEntity, "unsupported job request")
		return
	}
	h.queueFirstStep(w, ctx, job, step)
}

func (h *Handler) queueFirstStep(w http.ResponseWriter, ctx context.Context, job *jobqueue.Job, step *jobqueue.JobStep) {
	connection := h.loadConnection(ctx, *job)
	stepID, err := h.Queue.QueueStep(ctx, *job, *step, connection, true)
	if err != nil {
		handlers.WriteError(w, http.StatusInternalServerError, "failed to queue job: "+err.Error())
		return
	}
	handlers.WriteJSON(w, http.StatusAccepted, jobResponse{ID: stepID})
}

func (h *Handler) loadConnection(ctx context.Context, job jobqueue.Job) jobqueue.Connection {
	loader := h.Registry.ConnectionLoader(job, h.ConnRepo)
	if loader == nil {
		return jobqueue.Connection{}
	}
	conn, err := loader.Load(ctx)
	if err != nil {
		h.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to load connection for job")
		return jobqueue.Connection{}
	}
	return conn
}
