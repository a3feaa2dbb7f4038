package confluence

import (
	"context"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/jobqueue"
)

// config is this feature's decoded connection configuration, the Go
// counterpart of connections/confluence/models.py's ConfluenceConnection.
type config struct {
	URL         string
	AccessToken string
	PageID      string
}

func configFromMap(raw map[string]any) config {
	get := func(key string) string {
		v, _ := raw[key].(string)
		return v
	}
	return config{URL: get("url"), AccessToken: get("access_token"), PageID: get("page_id")}
}

// ClientFactory builds a Client for a loaded config. Overridable in tests.
type ClientFactory func(cfg config) *Client

func defaultClientFactory(cfg config) *Client {
	return NewClient(cfg.URL, cfg.AccessToken)
}

// Feature crawls one Confluence page tree and loads every page in it,
// grounded on connections/confluence/{feature,crawler,loader}.py.
type Feature struct {
	datasource    string
	repo          jobqueue.ConnectionRepository
	clientFactory ClientFactory
	reconciler    *jobqueue.DeletionReconciler
	logger        arbor.ILogger
}

// NewFeature builds a Confluence Feature scoped to one logical datasource
// name (e.g. "CONFLUENCE", matching Datasource.CONFLUENCE in the original).
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

func (f *Feature) Name() string { return "confluence" }

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
		return f.crawlConfluence
	case jobqueue.JobTypeLoad:
		return f.loadConfluencePage
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
// connection configuration (URL/token/page ID) is re-fetched directly by
// this Feature's handlers from repo, since jobqueue.Connection has no room
// for Feature-specific fields (see DESIGN.md).
func (f *Feature) ConnectionLoader(connectionID string, repo jobqueue.ConnectionRepository) jobqueue.ConnectionLoader {
	return jobqueue.DefaultConnectionLoader(connectionID)
}

func (f *Feature) loadConfig(ctx context.Context, connectionID string) (config, error) {
	if f.repo == nil || connectionID == "" {
		return config{}, fmt.Errorf("confluence feature requires a connection ID and connection repository")
	}
	raw, err := f.repo.GetConnection(ctx, connectionID)
	if err != nil {
		return config{}, fmt.Errorf("load confluence connection %s: %w", connectionID, err)
	}
	return configFromMap(raw), nil
}

// crawlConfluence walks the page tree rooted at cfg.PageID (or job.DocID,
// if set, to crawl a single subtree) breadth-first, queuing a LOAD step per
// page, mirroring get_page_with_all_child_ids.
func (f *Feature) crawlConfluence(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, chain *jobqueue.IndexingChain, connection jobqueue.Connection) error {
	cfg, err := f.loadConfig(ctx, job.ConnectionID)
	if err != nil {
		return err
	}
	rootID := job.DocID
	if rootID == "" {
		rootID = cfg.PageID
	}
	if rootID == "" {
		f.logger.Warn().Str("datasource", job.Datasource).Msg("confluence page id not defined")
		return nil
	}

	client := f.clientFactory(cfg)
	pageIDs, err := f.collectPageIDs(ctx, client, rootID)
	if err != nil {
		return fmt.Errorf("crawl confluence page tree from %s: %w", rootID, err)
	}

	for _, pageID := range pageIDs {
		f.logger.Info().Str("page_id", pageID).Msg("scheduling a LOAD job for page")
		loadStep := jobqueue.JobStep{
			Type:       jobqueue.JobTypeLoad,
			Datasource: job.Datasource,
			DocID:      pageID,
		}
		if _, err := chain.QueueStep(ctx, job, loadStep, connection, false); err != nil {
			return fmt.Errorf("queue load step for page %s: %w", pageID, err)
		}
	}
	if _, err := chain.QueueSyncDeletionsIfConfigured(ctx, job, connection); err != nil {
		return fmt.Errorf("queue sync deletions: %w", err)
	}
	chain.ExecuteJobSteps(ctx, job)
	return nil
}

// syncDeletions reconciles the page tree's current membership against what's
// indexed, queuing a DELETE step for every indexed page no longer in the
// tree.
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
	rootID := job.DocID
	if rootID == "" {
		rootID = cfg.PageID
	}
	if rootID == "" {
		return nil, nil
	}
	client := f.clientFactory(cfg)
	return f.collectPageIDs(ctx, client, rootID)
}

func (f *Feature) collectPageIDs(ctx context.Context, client *Client, rootID string) ([]string, error) {
	var ids []string
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ids = append(ids, id)

		childIDs, err := client.GetChildPageIDs(ctx, id)
		if err != nil {
			return nil, err
		}
		queue = append(queue, childIDs...)
	}
	return ids, nil
}

// loadConfluencePage fetches, cleans, and indexes one page, mirroring
// load_confluence_page/index_page (attachment loading is out of scope —
// see DESIGN.md).
func (f *Feature) loadConfluencePage(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, chain *jobqueue.IndexingChain, connection jobqueue.Connection) error {
	cfg, err := f.loadConfig(ctx, job.ConnectionID)
	if err != nil {
		return err
	}
	client := f.clientFactory(cfg)

	f.logger.Info().Str("page_id", step.DocID).Msg("loading confluence page")
	page, err := client.GetPage(ctx, step.DocID)
	if err != nil {
		return fmt.Errorf("fetch confluence page %s: %w", step.DocID, err)
	}

	if page.Title == "" {
		f.logger.Info().Str("page_id", page.ID).Msg("skip confluence page: title is empty")
		return nil
	}
	if page.BodyStorage == "" {
		f.logger.Info().Str("page_id", page.ID).Msg("skip confluence page: content is empty")
		return nil
	}
	if job.ModifiedSince != nil && !job.ModifiedSince.Before(page.LastModified) {
		f.logger.Info().Str("page_id", page.ID).Msg("skip confluence page: not updated since modified_since")
		return nil
	}

	content := cleanHTML(page.BodyStorage)
	doc := jobqueue.Document{
		Content: fmt.Sprintf("Title=%s %s", page.Title, content),
		Metadata: map[string]any{
			"doc_id":        page.ID,
			"title":         page.Title,
			"web_url":       page.WebURL,
			"source":        fmt.Sprintf("%s/%s/%s", step.Datasource, page.SpaceName, page.ID),
			"connection_id": job.ConnectionID,
		},
	}
	return chain.IndexDocuments(ctx, job, step, []jobqueue.Document{doc})
}

// cleanHTML converts Confluence storage-format HTML to plain-ish text,
// mirroring clean_text (original_source/src/utils/text_utils.py) via the
// teacher's html-to-markdown conversion helper idiom
// (internal/services/atlassian/helpers.go:convertHTMLToMarkdown).
func cleanHTML(html string) string {
	converter := md.NewConverter("", true, nil)
	converted, err := converter.ConvertString(html)
	if err != nil {
		return strings.TrimSpace(html)
	}
	return strings.TrimSpace(converted)
}
