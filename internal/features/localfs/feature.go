// Package localfs implements the Feature that crawls a local directory and
// loads every matching file, grounded on
// original_source/src/connections/files/directory_crawler.py and
// file_loader.py's load_file.
package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/jobqueue"
)

func defaultReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// PDFExtractor is the narrow capability this feature needs from
// internal/services/pdf.Extractor.
type PDFExtractor interface {
	ReadPDFFromFile(ctx context.Context, filePath string) (string, error)
}

// FileReader reads a plain-text/markdown file from disk, kept as an
// interface so tests don't need to touch the real filesystem.
type FileReader func(path string) ([]byte, error)

// Feature crawls DataDir for files matching Patterns and loads each one,
// the Go equivalent of _find_all_files(Settings.FS_DATA_SOURCE_DIR,
// Settings.FS_DATA_SOURCE_PATTERN.split(',')).
type Feature struct {
	DataDir  string
	Patterns []string

	extractor  PDFExtractor
	readFile   FileReader
	reconciler *jobqueue.DeletionReconciler
	logger     arbor.ILogger
}

// NewFeature builds a local-filesystem Feature. patterns are filepath.Glob
// patterns (e.g. "*.md", "docs/*.pdf") evaluated relative to dataDir; "**"
// is not recursive and matches a single path segment.
func NewFeature(dataDir string, patterns []string, extractor PDFExtractor, logger arbor.ILogger) *Feature {
	return &Feature{
		DataDir:   dataDir,
		Patterns:  patterns,
		extractor: extractor,
		readFile:  defaultReadFile,
		logger:    logger,
	}
}

var _ jobqueue.Feature = (*Feature)(nil)

// SetReconciler wires the deletion reconciler this Feature uses to handle
// SYNC_DELETIONS steps. Called once at app-wiring time, after the
// FeatureRegistry (and the reconciler built from it) exist — the registry
// needs this Feature to exist first, so the reconciler can't be built before
// NewFeature returns.
func (f *Feature) SetReconciler(r *jobqueue.DeletionReconciler) {
	f.reconciler = r
}

func (f *Feature) Name() string { return "local-filesystem" }

// AcceptsRequest mirrors nothing in UploadFileFeature directly; this Feature
// owns requests asking to load an entire directory.
func (f *Feature) AcceptsRequest(req jobqueue.JobRequest) bool {
	return req.LoadDirectory
}

func (f *Feature) CreateJob(req jobqueue.JobRequest) jobqueue.Job {
	return jobqueue.Job{
		ID:            uuid.NewString(),
		Datasource:    req.Datasource,
		LoadDirectory: true,
		ConnectionID:  req.ConnectionID,
	}
}

func (f *Feature) AcceptsJob(job jobqueue.Job) bool {
	return job.LoadDirectory
}

func (f *Feature) CreateFirstStep(job jobqueue.Job) jobqueue.JobStep {
	return jobqueue.JobStep{
		Type:       jobqueue.JobTypeCrawl,
		Datasource: job.Datasource,
	}
}

func (f *Feature) HandlerFor(job jobqueue.Job, step jobqueue.JobStep) jobqueue.Handler {
	switch step.Type {
	case jobqueue.JobTypeCrawl:
		return f.crawlDirectory
	case jobqueue.JobTypeLoad:
		return f.loadFile
	case jobqueue.JobTypeSyncDeletions:
		return f.syncDeletions
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

// crawlDirectory queues one LOAD step per file matching Patterns under
// DataDir, using the file's path relative to DataDir as its doc ID — the
// same identity _find_all_files yields, and the same value the LOAD step
// later rejoins against DataDir to re-locate the file.
func (f *Feature) crawlDirectory(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, chain *jobqueue.IndexingChain, connection jobqueue.Connection) error {
	relPaths, err := f.findAllFiles()
	if err != nil {
		return fmt.Errorf("list files under %s: %w", f.DataDir, err)
	}

	for _, relPath := range relPaths {
		f.logger.Info().Str("file", relPath).Msg("scheduling a LOAD job for file")
		loadStep := jobqueue.JobStep{
			Type:       jobqueue.JobTypeLoad,
			Datasource: job.Datasource,
			DocID:      relPath,
		}
		if _, err := chain.QueueStep(ctx, job, loadStep, connection, false); err != nil {
			return fmt.Errorf("queue load step for %s: %w", relPath, err)
		}
	}
	if _, err := chain.QueueSyncDeletionsIfConfigured(ctx, job, connection); err != nil {
		return fmt.Errorf("queue sync deletions: %w", err)
	}
	chain.ExecuteJobSteps(ctx, job)
	return nil
}

// syncDeletions reconciles the files currently found under DataDir against
// what's indexed, queuing a DELETE step for every indexed path no longer
// present on disk.
func (f *Feature) syncDeletions(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, chain *jobqueue.IndexingChain, connection jobqueue.Connection) error {
	if f.reconciler == nil {
		return nil
	}
	return f.reconciler.Reconcile(ctx, job, step, chain.JobChain, connection, f.fetchPublishedKeys)
}

func (f *Feature) fetchPublishedKeys(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, connection jobqueue.Connection) ([]string, error) {
	return f.findAllFiles()
}

// findAllFiles matches every Patterns entry against DataDir, relative to it.
func (f *Feature) findAllFiles() ([]string, error) {
	f.logger.Info().Str("dir", f.DataDir).Msg("find all files")
	seen := map[string]bool{}
	var out []string
	for _, pattern := range f.Patterns {
		matches, err := filepath.Glob(filepath.Join(f.DataDir, pattern))
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			rel, err := filepath.Rel(f.DataDir, match)
			if err != nil {
				return nil, err
			}
			if !seen[rel] {
				seen[rel] = true
				out = append(out, rel)
			}
		}
	}
	return out, nil
}

// loadFile reads the file identified by step.DocID (relative to DataDir),
// extracting PDF text when the extension warrants it, and indexes it —
// the Go counterpart of load_file.
func (f *Feature) loadFile(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, chain *jobqueue.IndexingChain, connection jobqueue.Connection) error {
	if step.DocID == "" {
		return fmt.Errorf("local filesystem LOAD step has no doc_id (file path)")
	}
	f.logger.Info().Str("file", step.DocID).Msg("file loading")

	fullPath := filepath.Join(f.DataDir, step.DocID)
	text, err := f.readText(ctx, fullPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", fullPath, err)
	}

	doc := jobqueue.Document{
		Content: text,
		Metadata: map[string]any{
			"doc_id": step.DocID,
			"source": step.DocID,
		},
	}
	return chain.IndexDocuments(ctx, job, step, []jobqueue.Document{doc})
}

func (f *Feature) readText(ctx context.Context, fullPath string) (string, error) {
	if strings.HasSuffix(strings.ToLower(fullPath), ".pdf") {
		return f.extractor.ReadPDFFromFile(ctx, fullPath)
	}
	content, err := f.readFile(fullPath)
	if err != nil {
		return "", err
	}
	return string(content), nil
}
