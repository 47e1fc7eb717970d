// Package tracker talks to the issue tracker that carries run requests.
//
// Only four operations are used: list items carrying a marker label, list
// comments updated since a timestamp, remove a label, and post a comment.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/lhrunner/iox"
	"github.com/pithecene-io/lhrunner/types"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultPageSize is the comment and issue page size.
const DefaultPageSize = 100

// maxLabeledPages caps ListLabeled pagination.
const maxLabeledPages = 50

// Config configures the GitHub client.
type Config struct {
	// Owner and Repo name the repository (required).
	Owner string
	Repo  string
	// Token is sent as a bearer token when set.
	Token string
	// APIURL overrides DefaultAPIURL (tests, GitHub Enterprise).
	APIURL string
	// Timeout is the per-request timeout (default 30s).
	Timeout time.Duration
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Code)
}

// Temporary reports whether the failure is server-side.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500
}

// GitHub is a minimal GitHub REST client.
type GitHub struct {
	config Config
	base   string
	client *http.Client
}

// New creates a GitHub client.
func New(cfg Config) (*GitHub, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("tracker requires owner and repo")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	base := strings.TrimRight(cfg.APIURL, "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("tracker: invalid api url: %w", err)
	}
	return &GitHub{
		config: cfg,
		base:   base,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// issue is the subset of the issue payload in use.
type issue struct {
	Number      int             `json:"number"`
	Body        string          `json:"body"`
	UpdatedAt   time.Time       `json:"updated_at"`
	PullRequest json.RawMessage `json:"pull_request,omitempty"`
}

// comment is the subset of the comment payload in use.
type comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	IssueURL  string    `json:"issue_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (i issue) event() types.TriggerEvent {
	return types.TriggerEvent{
		ID:        int64(i.Number),
		Kind:      types.TriggerLabel,
		Issue:     i.Number,
		Text:      i.Body,
		Timestamp: i.UpdatedAt,
	}
}

// IssueFromURL returns the issue number from the last segment of an issue URL.
func IssueFromURL(issueURL string) (int, error) {
	n, err := strconv.Atoi(path.Base(strings.TrimRight(issueURL, "/")))
	if err != nil {
		return 0, fmt.Errorf("invalid issue url %q", issueURL)
	}
	return n, nil
}

// ListLabeled returns open and closed issues carrying label, following
// pagination until a short page. Pull requests are excluded.
func (g *GitHub) ListLabeled(ctx context.Context, label string) ([]types.TriggerEvent, error) {
	q := url.Values{}
	q.Set("labels", label)
	q.Set("state", "all")
	q.Set("filter", "all")
	q.Set("per_page", strconv.Itoa(DefaultPageSize))

	var events []types.TriggerEvent
	for page := 1; page <= maxLabeledPages; page++ {
		q.Set("page", strconv.Itoa(page))
		var issues []issue
		if err := g.do(ctx, http.MethodGet, g.repoPath("issues"), q, nil, &issues); err != nil {
			return nil, err
		}
		for _, i := range issues {
			if len(i.PullRequest) > 0 && string(i.PullRequest) != "null" {
				continue
			}
			events = append(events, i.event())
		}
		if len(issues) < DefaultPageSize {
			break
		}
	}
	if events == nil {
		events = []types.TriggerEvent{}
	}
	return events, nil
}

// GetIssue fetches a single issue as a label trigger.
func (g *GitHub) GetIssue(ctx context.Context, number int) (types.TriggerEvent, error) {
	var i issue
	if err := g.do(ctx, http.MethodGet, g.repoPath("issues", strconv.Itoa(number)), nil, nil, &i); err != nil {
		return types.TriggerEvent{}, err
	}
	return i.event(), nil
}

// ListSince returns up to pageSize repository comments updated at or after
// since, oldest first.
func (g *GitHub) ListSince(ctx context.Context, since time.Time, pageSize int) ([]types.TriggerEvent, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	q := url.Values{}
	q.Set("sort", "updated")
	q.Set("direction", "asc")
	q.Set("since", since.UTC().Format(time.RFC3339))
	q.Set("per_page", strconv.Itoa(pageSize))

	var comments []comment
	if err := g.do(ctx, http.MethodGet, g.repoPath("issues", "comments"), q, nil, &comments); err != nil {
		return nil, err
	}

	events := make([]types.TriggerEvent, 0, len(comments))
	for _, c := range comments {
		n, err := IssueFromURL(c.IssueURL)
		if err != nil {
			return nil, fmt.Errorf("comment %d: %w", c.ID, err)
		}
		events = append(events, types.TriggerEvent{
			ID:        c.ID,
			Kind:      types.TriggerComment,
			Issue:     n,
			Text:      c.Body,
			Timestamp: c.UpdatedAt,
		})
	}
	return events, nil
}

// RemoveLabel removes label from an issue.
func (g *GitHub) RemoveLabel(ctx context.Context, number int, label string) error {
	p := g.repoPath("issues", strconv.Itoa(number), "labels", label)
	return g.do(ctx, http.MethodDelete, p, nil, nil, nil)
}

// PostComment adds a comment to an issue.
func (g *GitHub) PostComment(ctx context.Context, number int, body string) error {
	payload := map[string]string{"body": body}
	p := g.repoPath("issues", strconv.Itoa(number), "comments")
	return g.do(ctx, http.MethodPost, p, nil, payload, nil)
}

// IssueURL returns the browser URL of an issue.
func (g *GitHub) IssueURL(number int) string {
	return fmt.Sprintf("https://github.com/%s/%s/issues/%d", g.config.Owner, g.config.Repo, number)
}

// Close releases idle connections.
func (g *GitHub) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

func (g *GitHub) repoPath(parts ...string) string {
	segs := []string{"repos", url.PathEscape(g.config.Owner), url.PathEscape(g.config.Repo)}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return "/" + strings.Join(segs, "/")
}

func (g *GitHub) do(ctx context.Context, method, p string, q url.Values, in, out any) error {
	target := g.base + p
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("tracker: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("tracker: create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", types.UserAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.Token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("tracker: %s %s: %w", method, p, err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{Method: method, Path: p, Code: resp.StatusCode}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tracker: decode %s: %w", p, err)
	}
	return nil
}
