// Package upload implements the Feature that handles documents submitted
// directly via POST /files, grounded on
// original_source/src/connections/files/feature.py and file_loader.py's
// load_upload_file.
package upload

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/jobqueue"
)

// PDFExtractor is the narrow capability this feature needs from
// internal/services/pdf.Extractor, kept as an interface so tests can fake it
// without building real PDF bytes.
type PDFExtractor interface {
	ExtractTextFromBytes(ctx context.Context, pdfContent []byte) (string, error)
}

// Feature handles uploaded files. Where the original fetched the attachment
// from InnovationSuite by job ID (load_upload_file), this Feature fetches it
// from a KeyValueStorage populated by the HTTP handler via PutUpload before
// the job is queued.
type Feature struct {
	store     interfaces.KeyValueStorage
	extractor PDFExtractor
	logger    arbor.ILogger
}

// NewFeature builds an upload Feature.
func NewFeature(store interfaces.KeyValueStorage, extractor PDFExtractor, logger arbor.ILogger) *Feature {
	return &Feature{store: store, extractor: extractor, logger: logger}
}

var _ jobqueue.Feature = (*Feature)(nil)

func (f *Feature) Name() string { return "upload-file" }

// AcceptsRequest mirrors UploadFileFeature.accept_job_request: true iff the
// request carries an upload.
func (f *Feature) AcceptsRequest(req jobqueue.JobRequest) bool {
	return req.UploadName != ""
}

// CreateJob assigns the Job's ID immediately (rather than waiting for the
// store to assign one), so the HTTP handler can stash the upload's bytes
// under that ID before the job is ever persisted or queued.
func (f *Feature) CreateJob(req jobqueue.JobRequest) jobqueue.Job {
	return jobqueue.Job{
		ID:           uuid.NewString(),
		Datasource:   req.Datasource,
		UploadName:   req.UploadName,
		DocID:        req.DocID,
		DocDisplayID: req.DocDisplayID,
		ConnectionID: req.ConnectionID,
	}
}

func (f *Feature) AcceptsJob(job jobqueue.Job) bool {
	return job.UploadName != ""
}

func (f *Feature) CreateFirstStep(job jobqueue.Job) jobqueue.JobStep {
	return jobqueue.JobStep{
		Type:         jobqueue.JobTypeLoad,
		Datasource:   job.Datasource,
		DocID:        job.DocID,
		DocDisplayID: job.DocDisplayID,
	}
}

func (f *Feature) HandlerFor(job jobqueue.Job, step jobqueue.JobStep) jobqueue.Handler {
	switch step.Type {
	case jobqueue.JobTypeLoad:
		return f.loadUploadedFile
	case jobqueue.JobTypeDelete:
		return jobqueue.DefaultDeleteHandler(f.DeleteKeyMode(job, step))
	default:
		return nil
	}
}

func (f *Feature) DeleteKeyMode(job jobqueue.Job, step jobqueue.JobStep) jobqueue.DeleteKeyMode {
	return jobqueue.DeleteKeyModeByDocID
}

func (f *Feature) ConnectionLoader(connectionID string, repo jobqueue.ConnectionRepository) jobqueue.ConnectionLoader {
	return jobqueue.DefaultConnectionLoader(connectionID)
}

// loadUploadedFile fetches job.ID's stashed bytes, extracts text, and
// indexes it, then discards the stashed bytes — the same "fetch attachment
// by job ID, load, index, discard" shape as load_upload_file.
func (f *Feature) loadUploadedFile(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, chain *jobqueue.IndexingChain, connection jobqueue.Connection) error {
	pair, err := f.store.GetPair(ctx, uploadKey(job.ID))
	if err != nil {
		return fmt.Errorf("fetch uploaded file for job %s: %w", job.ID, err)
	}
	defer f.store.Delete(ctx, uploadKey(job.ID))

	content, err := base64.StdEncoding.DecodeString(pair.Value)
	if err != nil {
		return fmt.Errorf("decode uploaded file for job %s: %w", job.ID, err)
	}

	filename := pair.Description
	if filename == "" {
		filename = job.UploadName
	}
	if filename == "" {
		f.logger.Warn().Str("job_id", job.ID).Msg("skipping loading upload file: no filename specified")
		return nil
	}

	text, err := f.extractText(ctx, filename, content)
	if err != nil {
		return fmt.Errorf("extract uploaded file %s: %w", filename, err)
	}

	docID := step.DocID
	if docID == "" {
		docID = filename
	}

	doc := jobqueue.Document{
		Content: text,
		Metadata: map[string]any{
			"doc_id": docID,
			"source": fmt.Sprintf("%s/%s", step.Datasource, docID),
			"title":  filename,
		},
	}
	if step.DocDisplayID != "" {
		doc.Metadata["doc_display_id"] = step.DocDisplayID
	}

	return chain.IndexDocuments(ctx, job, step, []jobqueue.Document{doc})
}

func (f *Feature) extractText(ctx context.Context, filename string, content []byte) (string, error) {
	if strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return f.extractor.ExtractTextFromBytes(ctx, content)
	}
	return string(content), nil
}

// uploadKey namespaces stashed upload bytes away from other KeyValueStorage uses.
func uploadKey(jobID string) string { return "upload-file:" + jobID }

// PutUpload stashes an uploaded file's bytes ahead of queuing its job, keyed
// by the job's ID so the LOAD step's handler can retrieve it. The POST
// /files HTTP handler calls this after Feature.CreateJob assigns job.ID and
// before queuing the first step.
func PutUpload(ctx context.Context, store interfaces.KeyValueStorage, jobID, filename string, content []byte) error {
	encoded := base64.StdEncoding.EncodeToString(content)
	_, err := store.Upsert(ctx, uploadKey(jobID), encoded, filename)
	return err
}
