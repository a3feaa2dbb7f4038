// Package hkm implements the Feature that crawls and loads articles from a
// hosted knowledge-management platform, grounded on
// original_source/src/connections/hkm/{service,crawler,loader,schemas}.py.
package hkm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const pageSize = 50

// Client is a small REST client for the hosted platform's knowledge-article
// endpoints, the Go counterpart of connections/hkm/service.py's Hkm
// (itself a thin wrapper over helixplatform.service.ArRestClient). The
// original's JWT-login/user-impersonation handshake is not reproduced here;
// this Client authenticates every request with HTTP basic auth instead (see
// DESIGN.md).
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
}

// NewClient builds a Client for baseURL, authenticating with basic auth.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Username:   username,
		Password:   password,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Translation is the Go shape of HkmArticleTranslation.
type Translation struct {
	KnowledgeState string
	Culture        string
	Title          string
	Issue          string
	Environment    string
	Resolution     string
	Cause          string
	Tags           []string
}

// IsPublished reports whether t's knowledge state is "published", mirroring
// HkmArticle.is_published's case-insensitive comparison.
func (t Translation) IsPublished() bool {
	return strings.EqualFold(t.KnowledgeState, "published")
}

// Article is the Go shape of HkmArticle.
type Article struct {
	ContentID    int
	Translations []Translation
}

type articleJSON struct {
	ContentID    int `json:"contentId"`
	Translations []struct {
		KnowledgeState string   `json:"knowledgeState"`
		Culture        string   `json:"culture"`
		Title          string   `json:"title"`
		Issue          string   `json:"issue"`
		Environment    string   `json:"environment"`
		Resolution     string   `json:"resolution"`
		Cause          string   `json:"cause"`
		Tags           []string `json:"tags"`
	} `json:"translations"`
}

// ListArticleIDs returns every published article's content ID, mirroring
// Hkm.__get_article_ids's full page walk over
// /api/rx/application/knowledge/search.
func (c *Client) ListArticleIDs(ctx context.Context) ([]int, error) {
	var ids []int
	seen := make(map[int]bool)

	page := 1
	for {
		pageIDs, totalPages, err := c.listPage(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, id := range pageIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		if page >= totalPages {
			break
		}
		page++
	}
	return ids, nil
}

func (c *Client) listPage(ctx context.Context, page int) (ids []int, totalPages int, err error) {
	path := fmt.Sprintf(
		"/api/rx/application/knowledge/search?knowledgeStates=Published&pageSize=%d&enablePagination=true&pageNumber=%d",
		pageSize, page)

	var resp struct {
		TotalPages int `json:"totalPages"`
		Result     []struct {
			ContentID int `json:"contentId"`
		} `json:"result"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, 0, err
	}
	for _, r := range resp.Result {
		ids = append(ids, r.ContentID)
	}
	return ids, resp.TotalPages, nil
}

// GetArticle fetches one article by content ID, returning (nil, nil) if the
// platform reports it not found, mirroring Hkm.get_article.
func (c *Client) GetArticle(ctx context.Context, contentID int) (*Article, error) {
	path := fmt.Sprintf("/api/rx/application/knowledge/article/%d", contentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.Username, c.Password)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hkm request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read hkm response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("hkm request %s failed with status %d: %s", path, resp.StatusCode, string(body))
	}

	var raw articleJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode hkm article %d: %w", contentID, err)
	}

	article := &Article{ContentID: raw.ContentID}
	for _, t := range raw.Translations {
		article.Translations = append(article.Translations, Translation{
			KnowledgeState: t.KnowledgeState,
			Culture:        t.Culture,
			Title:          t.Title,
			Issue:          t.Issue,
			Environment:    t.Environment,
			Resolution:     t.Resolution,
			Cause:          t.Cause,
			Tags:           t.Tags,
		})
	}
	return article, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.Username, c.Password)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("hkm request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read hkm response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hkm request %s failed with status %d: %s", path, resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
