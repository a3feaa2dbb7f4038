package hkm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/jobqueue"
)

// config is this feature's decoded connection configuration.
type config struct {
	URL      string
	Username string
	Password string
}

func configFromMap(raw map[string]any) config {
	get := func(key string) string {
		v, _ := raw[key].(string)
		return v
	}
	return config{URL: get("url"), Username: get("username"), Password: get("password")}
}

// ClientFactory builds a Client for a loaded config. Overridable in tests.
type ClientFactory func(cfg config) *Client

func defaultClientFactory(cfg config) *Client {
	return NewClient(cfg.URL, cfg.Username, cfg.Password)
}

// Feature crawls the hosted knowledge platform's published articles and
// loads every one, grounded on
// original_source/src/connections/hkm/{crawler,loader,service}.py.
type Feature struct {
	datasource    string
	repo          jobqueue.ConnectionRepository
	clientFactory ClientFactory
	reconciler    *jobqueue.DeletionReconciler
	logger        arbor.ILogger
}

// NewFeature builds an HKM Feature scoped to one logical datasource name
// (e.g. "HKM").
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

func (f *Feature) Name() string { return "hkm" }

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
		return f.crawlArticles
	case jobqueue.JobTypeLoad:
		return f.loadArticle
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
// connection configuration (URL/username/password) is re-fetched directly
// by this Feature's handlers from repo, since jobqueue.Connection has no
// room for Feature-specific fields (see DESIGN.md).
func (f *Feature) ConnectionLoader(connectionID string, repo jobqueue.ConnectionRepository) jobqueue.ConnectionLoader {
	return jobqueue.DefaultConnectionLoader(connectionID)
}

func (f *Feature) loadConfig(ctx context.Context, connectionID string) (config, error) {
	if f.repo == nil || connectionID == "" {
		return config{}, fmt.Errorf("hkm feature requires a connection ID and connection repository")
	}
	raw, err := f.repo.GetConnection(ctx, connectionID)
	if err != nil {
		return config{}, fmt.Errorf("load hkm connection %s: %w", connectionID, err)
	}
	return configFromMap(raw), nil
}

// crawlArticles lists every published article (or, when job.DocID names
// one, verifies and loads just that one), queuing one LOAD step per article
// ID, mirroring crawl_hkm.
func (f *Feature) crawlArticles(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, chain *jobqueue.IndexingChain, connection jobqueue.Connection) error {
	cfg, err := f.loadConfig(ctx, job.ConnectionID)
	if err != nil {
		return err
	}
	client := f.clientFactory(cfg)

	var articleIDs []int
	if job.DocID != "" {
		id, err := strconv.Atoi(job.DocID)
		if err != nil {
			return fmt.Errorf("invalid hkm article id %q: %w", job.DocID, err)
		}
		article, err := client.GetArticle(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch hkm article %d: %w", id, err)
		}
		if article != nil && len(article.Translations) > 0 && article.Translations[0].IsPublished() {
			articleIDs = []int{id}
		}
	} else {
		articleIDs, err = client.ListArticleIDs(ctx)
		if err != nil {
			return fmt.Errorf("list hkm article ids: %w", err)
		}
	}

	if len(articleIDs) == 0 {
		f.logger.Info().Msg("found no HKM published articles to load")
		if _, err := chain.QueueSyncDeletionsIfConfigured(ctx, job, connection); err != nil {
			return fmt.Errorf("queue sync deletions: %w", err)
		}
		chain.ExecuteJobSteps(ctx, job)
		return nil
	}

	for _, id := range articleIDs {
		f.logger.Info().Int("content_id", id).Msg("scheduling a LOAD job for HKM article")
		loadStep := jobqueue.JobStep{
			Type:       jobqueue.JobTypeLoad,
			Datasource: job.Datasource,
			DocID:      strconv.Itoa(id),
		}
		if _, err := chain.QueueStep(ctx, job, loadStep, connection, false); err != nil {
			return fmt.Errorf("queue load step for article %d: %w", id, err)
		}
	}
	if _, err := chain.QueueSyncDeletionsIfConfigured(ctx, job, connection); err != nil {
		return fmt.Errorf("queue sync deletions: %w", err)
	}
	chain.ExecuteJobSteps(ctx, job)
	return nil
}

// syncDeletions reconciles the platform's currently published article IDs
// against what's indexed, queuing a DELETE step for every indexed article no
// longer published.
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
	client := f.clientFactory(cfg)
	ids, err := client.ListArticleIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list hkm article ids: %w", err)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = strconv.Itoa(id)
	}
	return keys, nil
}

// loadArticle fetches one article and indexes one document per translation,
// mirroring load_hkm_article.
func (f *Feature) loadArticle(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, chain *jobqueue.IndexingChain, connection jobqueue.Connection) error {
	cfg, err := f.loadConfig(ctx, job.ConnectionID)
	if err != nil {
		return err
	}
	client := f.clientFactory(cfg)

	id, err := strconv.Atoi(step.DocID)
	if err != nil {
		return fmt.Errorf("invalid hkm article id %q: %w", step.DocID, err)
	}

	f.logger.Info().Int("content_id", id).Msg("loading HKM article")
	article, err := client.GetArticle(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch hkm article %d: %w", id, err)
	}
	if article == nil {
		f.logger.Info().Int("content_id", id).Msg("skip hkm article: not found")
		return nil
	}
	if len(article.Translations) == 0 {
		f.logger.Info().Int("content_id", id).Msg("skip hkm article: no translations")
		return nil
	}

	var docs []jobqueue.Document
	for _, t := range article.Translations {
		content := fmt.Sprintf("Title=%s Issue=%s Environment=%s Resolution=%s Cause=%s",
			t.Title, t.Issue, t.Environment, t.Resolution, t.Cause)
		docs = append(docs, jobqueue.Document{
			Content: content,
			Metadata: map[string]any{
				"doc_id":        step.DocID,
				"title":         t.Title,
				"language":      t.Culture,
				"tags":          t.Tags,
				"source":        fmt.Sprintf("%s/%s", job.Datasource, step.DocID),
				"connection_id": job.ConnectionID,
			},
		})
	}
	return chain.IndexDocuments(ctx, job, step, docs)
}
