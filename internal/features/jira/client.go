// Package jira implements the Feature that crawls and loads issues from a
// Jira project, grounded on internal/services/atlassian/jira_issues.go's
// /rest/api/3/search/jql pagination and jira_scraper_service.go's
// transformToDocument field extraction.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a small REST client for the Jira endpoints this feature needs,
// generalized from the bearer-token makeRequest idiom in
// internal/services/atlassian/jira_scraper_service.go, scoped to a single
// Feature instead of the whole scraper service.
type Client struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
}

// NewClient builds a Client for baseURL, authenticating with a bearer token.
func NewClient(baseURL, accessToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		AccessToken: accessToken,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Issue is the Go shape of the fields this feature reads off a Jira issue's
// "fields" map, the counterpart of models.JiraIssue plus transformToDocument's
// extracted subset.
type Issue struct {
	Key         string
	Summary     string
	Description string
	ProjectKey  string
	IssueType   string
	Status      string
	Priority    string
	Assignee    string
	Reporter    string
	Labels      []string
	Updated     time.Time
}

// SearchIssueKeys returns the issue keys for projectKey's issues, one page
// at a time, mirroring fetchIssuesBatch's pagination loop (startAt/
// maxResults/isLast).
func (c *Client) SearchIssueKeys(ctx context.Context, projectKey string, startAt, maxResults int) (keys []string, isLast bool, err error) {
	jql := fmt.Sprintf("project=%q", projectKey)
	path := fmt.Sprintf("/rest/api/3/search/jql?jql=%s&startAt=%d&maxResults=%d&fields=key",
		url.QueryEscape(jql), startAt, maxResults)

	var resp struct {
		Issues []struct {
			Key string `json:"key"`
		} `json:"issues"`
		IsLast bool `json:"isLast"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, false, err
	}
	for _, issue := range resp.Issues {
		keys = append(keys, issue.Key)
	}
	return keys, resp.IsLast, nil
}

// GetIssue fetches one issue's fields by key, mirroring the per-issue shape
// transformToDocument extracts out of issue.Fields.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	var resp struct {
		Key    string                 `json:"key"`
		Fields map[string]interface{} `json:"fields"`
	}
	if err := c.get(ctx, "/rest/api/3/issue/"+key, &resp); err != nil {
		return nil, err
	}

	getString := func(field string) string {
		v, _ := resp.Fields[field].(string)
		return v
	}
	getNested := func(field, inner string) string {
		m, ok := resp.Fields[field].(map[string]interface{})
		if !ok {
			return ""
		}
		v, _ := m[inner].(string)
		return v
	}
	var labels []string
	if arr, ok := resp.Fields["labels"].([]interface{}); ok {
		for _, l := range arr {
			if s, ok := l.(string); ok {
				labels = append(labels, s)
			}
		}
	}
	var updated time.Time
	if s, ok := resp.Fields["updated"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			updated = parsed
		}
	}

	return &Issue{
		Key:         resp.Key,
		Summary:     getString("summary"),
		Description: getString("description"),
		ProjectKey:  getNested("project", "key"),
		IssueType:   getNested("issuetype", "name"),
		Status:      getNested("status", "name"),
		Priority:    getNested("priority", "name"),
		Assignee:    getNested("assignee", "displayName"),
		Reporter:    getNested("reporter", "displayName"),
		Labels:      labels,
		Updated:     updated,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("jira request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read jira response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("jira request %s failed with status %d: %s", path, resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
