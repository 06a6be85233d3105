package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/stevkan/support-tracker/internal/upstream"
)

const (
	// DefaultAPIURL is the public GitHub API base.
	DefaultAPIURL = "https://api.github.com"

	// DefaultTimeout is the default HTTP timeout for fetches.
	DefaultTimeout = 30 * time.Second

	// ValidateTimeout bounds credential validation requests.
	ValidateTimeout = 10 * time.Second

	// searchCeiling caps results per (repo, label) request. No pagination is
	// performed; issues beyond the ceiling are dropped oldest-first.
	searchCeiling = 100
)

// ThrottleBackoff is slept once when the API answers 429. The repo is then
// treated as empty; there is no retry.
var ThrottleBackoff = 5100 * time.Millisecond

// Label is an issue label
type Label struct {
	Name string `json:"name"`
}

// LabeledEvent records when a label was applied to an issue
type LabeledEvent struct {
	CreatedAt time.Time `json:"createdAt"`
	Label     Label     `json:"label"`
}

// Issue is one node of a GraphQL issue search
type Issue struct {
	Number     int64     `json:"number"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	CreatedAt  time.Time `json:"createdAt"`
	Repository struct {
		Name string `json:"name"`
	} `json:"repository"`
	Labels struct {
		Nodes []Label `json:"nodes"`
	} `json:"labels"`
	TimelineItems struct {
		Nodes []LabeledEvent `json:"nodes"`
	} `json:"timelineItems"`
}

// SearchResult is the parsed body of an issue search, carrying the original
// status code.
type SearchResult struct {
	Issues     []Issue
	StatusCode int
}

// Client is a thin GitHub issues client. Fetches go through GraphQL;
// credential validation uses the REST API. Both paths share one token.
type Client struct {
	apiURL     string
	token      string
	httpClient *http.Client
	logger     arbor.ILogger
	pacer      *rate.Limiter
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPacing sets the politeness interval between repo fetches
func WithPacing(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.pacer = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// NewClient creates a GitHub issues client
func NewClient(apiURL, token string, opts ...ClientOption) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	c := &Client{
		apiURL:     strings.TrimSuffix(apiURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		pacer:      rate.NewLimiter(rate.Every(300*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// graphqlRequest is the wire form of a GraphQL request
type graphqlRequest struct {
	Query string `json:"query"`
}

// graphqlResponse is the wire form of a GraphQL response
type graphqlResponse struct {
	Data struct {
		Search struct {
			Nodes []Issue `json:"nodes"`
		} `json:"search"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// buildSearchQuery constructs the issue search for one (repo, label) pair.
// The created qualifier is inclusive at day granularity; the caller restores
// correctness with the per-event label filter.
func buildSearchQuery(repoSlug, label, createdAfter string, excludeLabels []string) string {
	var q strings.Builder
	fmt.Fprintf(&q, "repo:%s is:open is:issue", repoSlug)
	if label != "" {
		fmt.Fprintf(&q, " label:\\\"%s\\\"", label)
	}
	fmt.Fprintf(&q, " created:>%s", createdAfter)
	for _, x := range excludeLabels {
		fmt.Fprintf(&q, " -label:%s", x)
	}

	var query strings.Builder
	query.WriteString("query {\n")
	fmt.Fprintf(&query, "  search(query: \"%s\", type: ISSUE, last: %d) {\n", q.String(), searchCeiling)
	query.WriteString("    nodes {\n")
	query.WriteString("      ... on Issue {\n")
	query.WriteString("        number\n")
	query.WriteString("        title\n")
	query.WriteString("        url\n")
	query.WriteString("        createdAt\n")
	query.WriteString("        repository { name }\n")
	query.WriteString("        labels(first: 100) { nodes { name } }\n")
	query.WriteString("        timelineItems(itemTypes: LABELED_EVENT, last: 100) {\n")
	query.WriteString("          nodes { ... on LabeledEvent { createdAt label { name } } }\n")
	query.WriteString("        }\n")
	query.WriteString("      }\n")
	query.WriteString("    }\n")
	query.WriteString("  }\n")
	query.WriteString("}\n")
	return query.String()
}

// SearchIssues issues exactly one GraphQL search for open issues in a repo,
// optionally narrowed to a label. A 429 answer is absorbed: the client sleeps
// once and returns an empty result with the original status code.
func (c *Client) SearchIssues(ctx context.Context, repoSlug, label, createdAfter string, excludeLabels []string) (*SearchResult, *upstream.Error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, upstream.Cancelled(upstream.ServiceGitHub)
	}

	reqBody, err := json.Marshal(graphqlRequest{Query: buildSearchQuery(repoSlug, label, createdAfter, excludeLabels)})
	if err != nil {
		return nil, upstream.Wrap(upstream.ServiceGitHub, upstream.KindInternal, "failed to marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/graphql", bytes.NewReader(reqBody))
	if err != nil {
		return nil, upstream.Wrap(upstream.ServiceGitHub, upstream.KindInternal, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	if c.logger != nil {
		c.logger.Debug().Str("repo", repoSlug).Str("label", label).Str("created_after", createdAfter).Msg("Searching issues")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := upstream.ClassifyTransport(err)
		if kind == upstream.KindCancelled {
			return nil, upstream.Cancelled(upstream.ServiceGitHub)
		}
		return nil, upstream.Wrap(upstream.ServiceGitHub, kind, "issue search failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.Wrap(upstream.ServiceGitHub, upstream.KindUnavailable, "failed to read response body", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if c.logger != nil {
			c.logger.Warn().Str("repo", repoSlug).Msg("Throttled by GitHub API, backing off")
		}
		select {
		case <-time.After(ThrottleBackoff):
		case <-ctx.Done():
			return nil, upstream.Cancelled(upstream.ServiceGitHub)
		}
		return &SearchResult{Issues: []Issue{}, StatusCode: resp.StatusCode}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &upstream.Error{
			Service: upstream.ServiceGitHub,
			Kind:    upstream.FromStatus(resp.StatusCode),
			Message: fmt.Sprintf("issue search returned status %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	var parsed graphqlResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, upstream.Wrap(upstream.ServiceGitHub, upstream.KindMalformed, "search response is not valid JSON", err)
	}
	if len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, upstream.New(upstream.ServiceGitHub, upstream.KindServer, "graphql errors: "+strings.Join(msgs, "; "))
	}

	issues := parsed.Data.Search.Nodes
	for _, issue := range issues {
		if issue.URL == "" || issue.Title == "" {
			return nil, upstream.New(upstream.ServiceGitHub, upstream.KindMalformed, "issue node is missing required fields")
		}
	}

	return &SearchResult{Issues: issues, StatusCode: resp.StatusCode}, nil
}

// Validate verifies the token against the REST API by fetching the
// authenticated user. REST and GraphQL accept the same token.
func (c *Client) Validate(ctx context.Context) *upstream.Error {
	ctx, cancel := context.WithTimeout(ctx, ValidateTimeout)
	defer cancel()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token})
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = ValidateTimeout

	client := gogithub.NewClient(tc)
	if c.apiURL != DefaultAPIURL {
		var err error
		client, err = client.WithEnterpriseURLs(c.apiURL, c.apiURL)
		if err != nil {
			return upstream.Wrap(upstream.ServiceGitHub, upstream.KindConfiguration, "invalid API URL", err)
		}
	}

	_, resp, err := client.Users.Get(ctx, "")
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		var errResp *gogithub.ErrorResponse
		if errors.As(err, &errResp) && errResp.Response != nil {
			status = errResp.Response.StatusCode
		}
		kind := upstream.FromStatus(status)
		if status == 0 {
			kind = upstream.ClassifyTransport(err)
		}
		return upstream.Wrap(upstream.ServiceGitHub, kind, upstream.ValidationMessage(kind, status), err)
	}

	return nil
}
