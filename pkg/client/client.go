package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mkurata/gh-lang-stats/internal/domain"
)

// Client is the API client for gh-lang-stats
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetStats retrieves the aggregated language statistics for a user
func (c *Client) GetStats(user string, includeDates, includePRs bool, excludeLanguages []string) (*domain.AggregatedStats, error) {
	path := fmt.Sprintf("/api/v1/users/%s/stats", url.PathEscape(user))
	params := url.Values{}
	if includeDates {
		params.Set("dates", "true")
	}
	if includePRs {
		params.Set("prs", "true")
	}
	if len(excludeLanguages) > 0 {
		params.Set("exclude", strings.Join(excludeLanguages, ","))
	}

	var response struct {
		Data *domain.AggregatedStats `json:"data"`
	}
	if err := c.get(path, params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// RepoStatus mirrors the per-repository collection status the API exposes
type RepoStatus struct {
	Repo        string `json:"repo"`
	IsPrivate   bool   `json:"isPrivate"`
	CommitCount int    `json:"commitCount"`
	SHAComplete bool   `json:"shaComplete"`
	PRComplete  bool   `json:"prComplete"`
}

// GetRepos retrieves the cached repository list and collection status
func (c *Client) GetRepos(user string) ([]RepoStatus, error) {
	path := fmt.Sprintf("/api/v1/users/%s/repos", url.PathEscape(user))

	var response struct {
		Data []RepoStatus `json:"data"`
	}
	if err := c.get(path, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get("/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) get(path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
