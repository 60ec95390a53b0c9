// Package jira implements the remote ticket gateway against the Jira REST API v2.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mwhitley/ticketsync/internal/apperr"
)

// HashMarker prefixes the fingerprint embedded in every ticket description.
// The search side matches on the same fixed string, so the format must not drift.
const HashMarker = "Content-Hash: "

const defaultTimeout = 30 * time.Second

// Config carries the connection settings for one Jira site.
type Config struct {
	Server    string // base URL, e.g. https://example.atlassian.net
	Email     string
	APIToken  string
	Project   string // project key, e.g. OPS
	IssueType string // e.g. Task
}

// Client talks to a single Jira project. It is safe for use by one drain
// invocation at a time, matching the synchronizer's single-invocation contract.
type Client struct {
	baseURL   string
	email     string
	token     string
	project   string
	issueType string
	httpc     *http.Client
	now       func() time.Time
}

// NewClient builds a gateway client from explicit configuration. It performs
// no network I/O; call Connect before the first drain.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.Server, "/"),
		email:     cfg.Email,
		token:     cfg.APIToken,
		project:   cfg.Project,
		issueType: cfg.IssueType,
		httpc:     &http.Client{Timeout: defaultTimeout},
		now:       time.Now,
	}
}

// Connect verifies credentials and reachability with a single authenticated
// request. A failure here wraps apperr.ErrGatewayUnavailable so callers can
// abort the whole invocation without touching any file.
func (c *Client) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/rest/api/2/myself", nil)
	if err != nil {
		return fmt.Errorf("jira: connect: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("jira: connect %s: %w: %w", c.baseURL, apperr.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jira: connect %s: status %d: %w", c.baseURL, resp.StatusCode, apperr.ErrGatewayUnavailable)
	}
	return nil
}

// FindExisting returns the key of the first non-closed ticket in the project
// whose description carries the fingerprint marker, or "" when none exists.
// Tie-break between multiple hits is whatever order the search returns.
func (c *Client) FindExisting(ctx context.Context, fp string) (string, error) {
	jql := fmt.Sprintf(`project = %s AND description ~ "%s%s" AND statusCategory != Done`,
		c.project, HashMarker, fp)

	q := url.Values{}
	q.Set("jql", jql)
	q.Set("fields", "key")
	q.Set("maxResults", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/rest/api/2/search?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("jira: search: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("jira: search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("jira: search: status %d: %s", resp.StatusCode, readBody(resp.Body))
	}

	var out struct {
		Issues []struct {
			Key string `json:"key"`
		} `json:"issues"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("jira: search: decode: %w", err)
	}
	if len(out.Issues) == 0 {
		return "", nil
	}
	return out.Issues[0].Key, nil
}

// Create submits a new ticket for the line unless an open ticket with the same
// fingerprint already exists, in which case the existing key is returned and
// nothing is created. The description embeds the creation time and the
// fingerprint marker; labels are attached exactly as given.
func (c *Client) Create(ctx context.Context, summary string, labels []string, fp string) (string, error) {
	existing, err := c.FindExisting(ctx, fp)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	if labels == nil {
		labels = []string{}
	}
	payload := map[string]any{
		"fields": map[string]any{
			"project":   map[string]string{"key": c.project},
			"summary":   summary,
			"issuetype": map[string]string{"name": c.issueType},
			"labels":    labels,
			"description": fmt.Sprintf("Ticket created automatically on %s\n\n%s%s",
				c.now().Format("2006-01-02 15:04:05"), HashMarker, fp),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("jira: create: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/rest/api/2/issue", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("jira: create: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("jira: create: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("jira: create: status %d: %s", resp.StatusCode, readBody(resp.Body))
	}

	var out struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("jira: create: decode: %w", err)
	}
	if out.Key == "" {
		return "", fmt.Errorf("jira: create: response missing issue key")
	}
	return out.Key, nil
}

// readBody returns a short prefix of an error response body for diagnostics.
func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
