// Package confluence implements the Feature that crawls and loads pages
// from a Confluence wiki, grounded on
// original_source/src/connections/confluence/{crawler,loader,service,schemas}.py.
package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a small REST client for the Confluence endpoints this feature
// needs, the Go counterpart of connections/confluence/service.py's
// ConfluenceService (itself a thin wrapper over the `atlassian` Python
// package). Generalized from the bearer-token `makeRequest` pattern in
// internal/services/atlassian/confluence_scraper_service.go, scoped to a
// single Feature instead of the whole scraper service.
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

// Page is the Go shape of ConfluencePage.from_json_dict's output.
type Page struct {
	ID          string
	Title       string
	BodyStorage string
	SpaceName   string
	WebURL      string
	LastModified time.Time
}

type contentResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Space struct {
		Name string `json:"name"`
	} `json:"space"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version struct {
		When time.Time `json:"when"`
	} `json:"version"`
	Links struct {
		Base  string `json:"base"`
		WebUI string `json:"webui"`
	} `json:"_links"`
}

// GetPage fetches one page by ID, mirroring get_page_by_id(page_id,
// expand='space,body.storage,version').
func (c *Client) GetPage(ctx context.Context, pageID string) (*Page, error) {
	var resp contentResponse
	if err := c.get(ctx, fmt.Sprintf("/rest/api/content/%s?expand=space,body.storage,version", pageID), &resp); err != nil {
		return nil, err
	}
	return &Page{
		ID:           resp.ID,
		Title:        resp.Title,
		BodyStorage:  resp.Body.Storage.Value,
		SpaceName:    resp.Space.Name,
		WebURL:       resp.Links.Base + resp.Links.WebUI,
		LastModified: resp.Version.When,
	}, nil
}

type childPagesResponse struct {
	Results []struct {
		ID string `json:"id"`
	} `json:"results"`
}

// GetChildPageIDs lists the direct child page IDs of pageID, mirroring
// get_child_id_list(page_id).
func (c *Client) GetChildPageIDs(ctx context.Context, pageID string) ([]string, error) {
	var resp childPagesResponse
	if err := c.get(ctx, fmt.Sprintf("/rest/api/content/%s/child/page", pageID), &resp); err != nil {
		return nil, err
	}
	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		ids[i] = r.ID
	}
	return ids, nil
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
		return fmt.Errorf("confluence request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read confluence response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("confluence request %s failed with status %d: %s", path, resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
