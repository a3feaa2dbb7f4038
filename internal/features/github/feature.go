// Package github implements the Feature that crawls and loads files from a
// GitHub repository, grounded on internal/connectors/github/{connector,repo}.go
// (google/go-github/v57) and structured after the CRAWL/LOAD wiring of
// original_source/src/connections/bwf/{crawler,loader,feature}.py.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	quaerogithub "github.com/ternarybob/quaero/internal/connectors/github"
	"github.com/ternarybob/quaero/internal/jobqueue"
	"github.com/ternarybob/quaero/internal/models"
)

// config is this feature's decoded connection configuration: a GitHub token
// plus the repository coordinates to crawl.
type config struct {
	Owner        string
	Repo         string
	Branch       string
	Token        string
	Extensions   []string
	ExcludePaths []string
}

func configFromMap(raw map[string]any) config {
	get := func(key string) string {
		v, _ := raw[key].(string)
		return v
	}
	getList := func(key string) []string {
		switch v := raw[key].(type) {
		case []string:
			return v
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case string:
			if v == "" {
				return nil
			}
			parts := strings.Split(v, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts
		default:
			return nil
		}
	}
	cfg := config{
		Owner:        get("owner"),
		Repo:         get("repo"),
		Branch:       get("branch"),
		Token:        get("token"),
		Extensions:   getList("extensions"),
		ExcludePaths: getList("exclude_paths"),
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".md", ".mdx", ".txt"}
	}
	return cfg
}

// repoClient narrows *quaerogithub.Connector to the two methods this Feature
// needs, for testability.
type repoClient interface {
	ListFiles(ctx context.Context, owner, repo, branch string, extensions []string, excludePaths []string) ([]quaerogithub.RepoFile, error)
	GetFileContent(ctx context.Context, owner, repo, branch, path string) (*quaerogithub.RepoFile, error)
}

// ConnectorFactory builds a repoClient for a loaded config. Overridable in
// tests so they never hit the real GitHub API.
type ConnectorFactory func(cfg config) (repoClient, error)

func defaultConnectorFactory(cfg config) (repoClient, error) {
	raw, err := json.Marshal(models.GitHubConnectorConfig{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("encode github connector config: %w", err)
	}
	connector, err := quaerogithub.NewConnector(&models.Connector{Type: models.ConnectorTypeGitHub, Config: raw})
	if err != nil {
		return nil, fmt.Errorf("build github connector: %w", err)
	}
	return connector, nil
}

// Feature crawls a single GitHub repository and loads every matching file in
// it, one LOAD step per file path.
type Feature struct {
	datasource       string
	repo             jobqueue.ConnectionRepository
	connectorFactory ConnectorFactory
	reconciler       *jobqueue.DeletionReconciler
	logger           arbor.ILogger
}

// NewFeature builds a GitHub Feature scoped to one logical datasource name
// (e.g. "GITHUB").
func NewFeature(datasource string, repo jobqueue.ConnectionRepository, logger arbor.ILogger) *Feature {
	return &Feature{datasource: datasource, repo: repo, connectorFactory: defaultConnectorFactory, logger: logger}
}

var _ jobqueue.Feature = (*Feature)(nil)

// SetReconciler wires the deletion reconciler this Feature uses to handle
// SYNC_DELETIONS steps. Called once at app-wiring time, after the
// FeatureRegistry (and the reconciler built from it) exist.
func (f *Feature) SetReconciler(r *jobqueue.DeletionReconciler) {
	f.reconciler = r
}

func (f *Feature) Name() string { return "github" }

func (f *Feature) AcceptsRequest(req jobqueue.JobRequest) bool {
	return req.Datasource == f.datasource
}

func (f *Feature) CreateJob(req jobqueue.JobRequest) jobqueue.Job {
	return jobqueue.Job{
		Datasource:    req.Datasource,
		DocID:         req.DocID,
		DocDisplayID:  req.DocDisplayID,
		ConnectionID:  req.ConnectionID,
		ModifiedSince: req.ModifiedSince,
	}
}

func (f *Feature) AcceptsJob(job jobqueue.Job) bool {
	return job.Datasource == f.datasource
}

func (f *Feature) CreateFirstStep(job jobqueue.Job) jobqueue.JobStep {
	return jobqueue.JobStep{
		Type:         jobqueue.JobTypeCrawl,
		Datasource:   job.Datasource,
		DocID:        job.DocID,
		DocDisplayID: job.DocDisplayID,
	}
}

func (f *Feature) HandlerFor(job jobqueue.Job, step jobqueue.JobStep) jobqueue.Handler {
	switch step.Type {
	case jobqueue.JobTypeCrawl:
		return f.crawlRepo
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

// ConnectionLoader returns the default ID-carrying loader: the real
// connection configuration (owner/repo/branch/token) is re-fetched directly
// by this Feature's handlers from repo, since jobqueue.Connection has no
// room for Feature-specific fields (see DESIGN.md).
func (f *Feature) ConnectionLoader(connectionID string, repo jobqueue.ConnectionRepository) jobqueue.ConnectionLoader {
	return jobqueue.DefaultConnectionLoader(connectionID)
}

func (f *Feature) loadConfig(ctx context.Context, connectionID string) (config, error) {
	if f.repo == nil || connectionID == "" {
		return config{}, fmt.Errorf("github feature requires a connection ID and connection repository")
	}
	raw, err := f.repo.GetConnection(ctx, connectionID)
	if err != nil {
		return config{}, fmt.Errorf("load github connection %s: %w", connectionID, err)
	}
	cfg := configFromMap(raw)
	if cfg.Owner == "" || cfg.Repo == "" {
		return config{}, fmt.Errorf("github connection %s is missing owner/repo", connectionID)
	}
	return cfg, nil
}

// crawlRepo lists every file matching cfg.Extensions in the repo tree and
// queues one LOAD step per file, carrying the file's repo-relative path in
// JobStep.DocID, mirroring original_source/src/connections/bwf/crawler.py.
func (f *Feature) crawlRepo(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, chain *jobqueue.IndexingChain, connection jobqueue.Connection) error {
	cfg, err := f.loadConfig(ctx, job.ConnectionID)
	if err != nil {
		return err
	}
	client, err := f.connectorFactory(cfg)
	if err != nil {
		return err
	}

	files, err := client.ListFiles(ctx, cfg.Owner, cfg.Repo, cfg.Branch, cfg.Extensions, cfg.ExcludePaths)
	if err != nil {
		return fmt.Errorf("list files in %s/%s: %w", cfg.Owner, cfg.Repo, err)
	}

	f.logger.Info().Str("repo", cfg.Owner+"/"+cfg.Repo).Int("count", len(files)).Msg("queuing load steps for repo files")
	for _, file := range files {
		loadStep := jobqueue.JobStep{
			Type:       jobqueue.JobTypeLoad,
			Datasource: job.Datasource,
			DocID:      file.Path,
		}
		if _, err := chain.QueueStep(ctx, job, loadStep, connection, false); err != nil {
			return fmt.Errorf("queue load step for %s: %w", file.Path, err)
		}
	}
	if _, err := chain.QueueSyncDeletionsIfConfigured(ctx, job, connection); err != nil {
		return fmt.Errorf("queue sync deletions: %w", err)
	}
	chain.ExecuteJobSteps(ctx, job)
	return nil
}

// syncDeletions reconciles the repo's current matching files against what's
// indexed, queuing a DELETE step for every indexed path no longer present.
func (f *Feature) syncDeletions(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, chain *jobqueue.IndexingChain, connection jobqueue.Connection) error {
	if f.reconciler == nil {
		return nil
	}
	return f.reconciler.Reconcile(ctx, job, step, chain.JobChain, connection, f.fetchPublishedKeys)
}

func (f *Feature) fetchPublishedKeys(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, connection jobqueue.Connection) ([]string, error) {
	cfg, err := f.loadConfig(ctx, job.ConnectionID)
	if err != nil {
		return nil, err
	}
	client, err := f.connectorFactory(cfg)
	if err != nil {
		return nil, err
	}
	files, err := client.ListFiles(ctx, cfg.Owner, cfg.Repo, cfg.Branch, cfg.Extensions, cfg.ExcludePaths)
	if err != nil {
		return nil, fmt.Errorf("list files in %s/%s: %w", cfg.Owner, cfg.Repo, err)
	}
	paths := make([]string, len(files))
	for i, file := range files {
		paths[i] = file.Path
	}
	return paths, nil
}

// loadFile fetches one file's content and indexes it.
func (f *Feature) loadFile(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, chain *jobqueue.IndexingChain, connection jobqueue.Connection) error {
	cfg, err := f.loadConfig(ctx, job.ConnectionID)
	if err != nil {
		return err
	}
	client, err := f.connectorFactory(cfg)
	if err != nil {
		return err
	}

	f.logger.Info().Str("path", step.DocID).Msg("loading github file")
	file, err := client.GetFileContent(ctx, cfg.Owner, cfg.Repo, cfg.Branch, step.DocID)
	if err != nil {
		return fmt.Errorf("fetch github file %s: %w", step.DocID, err)
	}
	if strings.TrimSpace(file.Content) == "" {
		f.logger.Info().Str("path", step.DocID).Msg("skip github file: content is empty")
		return nil
	}

	doc := jobqueue.Document{
		Content: file.Content,
		Metadata: map[string]any{
			"doc_id":        file.Path,
			"title":         file.Name,
			"web_url":       file.URL,
			"source":        fmt.Sprintf("%s/%s/%s@%s", cfg.Owner, cfg.Repo, file.Path, cfg.Branch),
			"connection_id": job.ConnectionID,
		},
	}
	return chain.IndexDocuments(ctx, job, step, []jobqueue.Document{doc})
}
