package jira

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/jobqueue"
)

const defaultPageSize = 100

// config is this feature's decoded connection configuration.
type config struct {
	URL         string
	AccessToken string
	ProjectKey  string
}

func configFromMap(raw map[string]any) config {
	get := func(key string) string {
		v, _ := raw[key].(string)
		return v
	}
	return config{URL: get("url"), AccessToken: get("access_token"), ProjectKey: get("project_key")}
}

// ClientFactory builds a Client for a loaded config. Overridable in tests.
type ClientFactory func(cfg config) *Client

func defaultClientFactory(cfg config) *Client {
	return NewClient(cfg.URL, cfg.AccessToken)
}

// Feature crawls one Jira project's issues and loads every issue in it,
// grounded on internal/services/atlassian/jira_issues.go's pagination and
// jira_scraper_service.go's field extraction.
type Feature struct {
	datasource    string
	repo          jobqueue.ConnectionRepository
	clientFactory ClientFactory
	reconciler    *jobqueue.DeletionReconciler
	logger        arbor.ILogger
}

// NewFeature builds a Jira Feature scoped to one logical datasource name
// (e.g. "JIRA").
func NewFeature(datasource string, repo jobqueue.ConnectionRepository, logger arbor.ILogger) *Feature {
	return &Feature{datasource: datasource, repo: repo, clientFactory: defaultClientFactory, logger: logger}
}

var _ jobqueue.Feature = (*Feature)(nil)

// SetReconciler wires the deletion reconciler this Feature uses to handle
// SYNC_DELETIONS steps. Called once at app-wiring time, after the
// FeatureRegistry (and the reconciler built from it) exist.
func (f *Feature) SetReconciler(r *jobqueue.DeletionReconciler) {
	f.reconciler = r
}

func (f *Feature) Name() string { return "jira" }

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
		return f.crawlProject
	case jobqueue.JobTypeLoad:
		return f.loadIssue
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
// connection configuration (URL/token/project key) is re-fetched directly by
// this Feature's handlers from repo, since jobqueue.Connection has no room
// for Feature-specific fields (see DESIGN.md).
func (f *Feature) ConnectionLoader(connectionID string, repo jobqueue.ConnectionRepository) jobqueue.ConnectionLoader {
	return jobqueue.DefaultConnectionLoader(connectionID)
}

func (f *Feature) loadConfig(ctx context.Context, connectionID string) (config, error) {
	if f.repo == nil || connectionID == "" {
		return config{}, fmt.Errorf("jira feature requires a connection ID and connection repository")
	}
	raw, err := f.repo.GetConnection(ctx, connectionID)
	if err != nil {
		return config{}, fmt.Errorf("load jira connection %s: %w", connectionID, err)
	}
	return configFromMap(raw), nil
}

// crawlProject pages through a project's issues (mirroring
// scrapeProjectIssues's startAt/maxResults loop) and queues one LOAD step
// per issue key.
func (f *Feature) crawlProject(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, chain *jobqueue.IndexingChain, connection jobqueue.Connection) error {
	cfg, err := f.loadConfig(ctx, job.ConnectionID)
	if err != nil {
		return err
	}
	projectKey := job.DocID
	if projectKey == "" {
		projectKey = cfg.ProjectKey
	}
	if projectKey == "" {
		f.logger.Warn().Str("datasource", job.Datasource).Msg("jira project key not defined")
		return nil
	}

	client := f.clientFactory(cfg)

	startAt := 0
	for {
		keys, isLast, err := client.SearchIssueKeys(ctx, projectKey, startAt, defaultPageSize)
		if err != nil {
			return fmt.Errorf("search jira issues for project %s: %w", projectKey, err)
		}
		if len(keys) == 0 {
			break
		}

		for _, key := range keys {
			loadStep := jobqueue.JobStep{
				Type:       jobqueue.JobTypeLoad,
				Datasource: job.Datasource,
				DocID:      key,
			}
			if _, err := chain.QueueStep(ctx, job, loadStep, connection, false); err != nil {
				return fmt.Errorf("queue load step for issue %s: %w", key, err)
			}
		}

		if isLast || len(keys) < defaultPageSize {
			break
		}
		startAt += defaultPageSize
	}

	if _, err := chain.QueueSyncDeletionsIfConfigured(ctx, job, connection); err != nil {
		return fmt.Errorf("queue sync deletions: %w", err)
	}
	chain.ExecuteJobSteps(ctx, job)
	return nil
}

// syncDeletions reconciles the project's current issue keys against what's
// indexed, queuing a DELETE step for every indexed issue no longer present
// (e.g. moved to another project, or deleted).
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
	projectKey := job.DocID
	if projectKey == "" {
		projectKey = cfg.ProjectKey
	}
	if projectKey == "" {
		return nil, nil
	}
	client := f.clientFactory(cfg)

	var allKeys []string
	startAt := 0
	for {
		keys, isLast, err := client.SearchIssueKeys(ctx, projectKey, startAt, defaultPageSize)
		if err != nil {
			return nil, fmt.Errorf("search jira issues for project %s: %w", projectKey, err)
		}
		if len(keys) == 0 {
			break
		}
		allKeys = append(allKeys, keys...)
		if isLast || len(keys) < defaultPageSize {
			break
		}
		startAt += defaultPageSize
	}
	return allKeys, nil
}

// loadIssue fetches one issue and indexes it, mirroring
// transformToDocument's plain-text rendering of an issue's fields.
func (f *Feature) loadIssue(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, chain *jobqueue.IndexingChain, connection jobqueue.Connection) error {
	cfg, err := f.loadConfig(ctx, job.ConnectionID)
	if err != nil {
		return err
	}
	client := f.clientFactory(cfg)

	f.logger.Info().Str("issue", step.DocID).Msg("loading jira issue")
	issue, err := client.GetIssue(ctx, step.DocID)
	if err != nil {
		return fmt.Errorf("fetch jira issue %s: %w", step.DocID, err)
	}

	if issue.Summary == "" {
		f.logger.Info().Str("issue", issue.Key).Msg("skip jira issue: summary is empty")
		return nil
	}
	if job.ModifiedSince != nil && !issue.Updated.IsZero() && !job.ModifiedSince.Before(issue.Updated) {
		f.logger.Info().Str("issue", issue.Key).Msg("skip jira issue: not updated since modified_since")
		return nil
	}

	content := fmt.Sprintf(
		"Issue: %s\n\nSummary: %s\n\nDescription:\n%s\n\nProject: %s\nType: %s\nStatus: %s\nPriority: %s\nAssignee: %s\nReporter: %s\nLabels: %s",
		issue.Key, issue.Summary, issue.Description, issue.ProjectKey, issue.IssueType,
		issue.Status, issue.Priority, issue.Assignee, issue.Reporter, strings.Join(issue.Labels, ", "),
	)

	doc := jobqueue.Document{
		Content: content,
		Metadata: map[string]any{
			"doc_id":        issue.Key,
			"title":         fmt.Sprintf("[%s] %s", issue.Key, issue.Summary),
			"web_url":       cfg.URL + "/browse/" + issue.Key,
			"source":        fmt.Sprintf("%s/%s/%s", step.Datasource, issue.ProjectKey, issue.Key),
			"connection_id": job.ConnectionID,
			"status":        issue.Status,
			"issue_type":    issue.IssueType,
		},
	}
	return chain.IndexDocuments(ctx, job, step, []jobqueue.Document{doc})
}
