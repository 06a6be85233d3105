package devops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/stevkan/support-tracker/internal/models"
	"github.com/stevkan/support-tracker/internal/upstream"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// ValidateTimeout bounds credential validation requests.
	ValidateTimeout = 10 * time.Second
)

// WorkItemRef is one entry of a WIQL result
type WorkItemRef struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// WiqlResponse is the parsed body of a WIQL query
type WiqlResponse struct {
	WorkItems []WorkItemRef `json:"workItems"`
}

// WorkItem is a tracker work item with its field map
type WorkItem struct {
	ID     int                    `json:"id"`
	URL    string                 `json:"url"`
	Fields map[string]interface{} `json:"fields"`
}

// Title returns the stored System.Title, or empty
func (w *WorkItem) Title() string {
	if s, ok := w.Fields["System.Title"].(string); ok {
		return s
	}
	return ""
}

// IssueID returns the stored Custom.IssueID rendered as a string. The tracker
// may hand the field back as either a string or a number.
func (w *WorkItem) IssueID() string {
	switch v := w.Fields["Custom.IssueID"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// patchOp is one JSON-Patch operation of a work item create
type patchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	From  interface{} `json:"from"`
	Value interface{} `json:"value"`
}

// Client is a thin work-item tracker REST client using Basic auth
// (base64 of username:token; the username may be empty).
type Client struct {
	baseURL    string
	org        string
	project    string
	apiVersion string
	username   string
	pat        string
	httpClient *http.Client
	logger     arbor.ILogger
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

// NewClient creates a work-item tracker client for one org/project
func NewClient(baseURL, org, project, apiVersion, username, pat string, opts ...ClientOption) *Client {
	if apiVersion == "" {
		apiVersion = "7.0"
	}
	c := &Client{
		baseURL:    baseURL,
		org:        org,
		project:    project,
		apiVersion: apiVersion,
		username:   username,
		pat:        pat,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// checkConfig rejects unusable client configuration before any request goes out
func (c *Client) checkConfig() *upstream.Error {
	if c.org == "" || c.project == "" {
		return upstream.New(upstream.ServiceAzureDevOps, upstream.KindConfiguration, "organization and project must be configured")
	}
	if c.pat == "" {
		return upstream.New(upstream.ServiceAzureDevOps, upstream.KindConfiguration, "personal access token is not set")
	}
	return nil
}

func (c *Client) authHeader() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.username+":"+c.pat))
}

// do executes one request and returns status plus raw body
func (c *Client) do(ctx context.Context, method, reqURL, contentType string, body []byte) (int, []byte, *upstream.Error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return 0, nil, upstream.Wrap(upstream.ServiceAzureDevOps, upstream.KindInternal, "failed to create request", err)
	}
	req.Header.Set("Authorization", c.authHeader())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := upstream.ClassifyTransport(err)
		if kind == upstream.KindCancelled {
			return 0, nil, upstream.Cancelled(upstream.ServiceAzureDevOps)
		}
		return 0, nil, upstream.Wrap(upstream.ServiceAzureDevOps, kind, "tracker request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, upstream.Wrap(upstream.ServiceAzureDevOps, upstream.KindUnavailable, "failed to read response body", err)
	}

	return resp.StatusCode, data, nil
}

// SearchWorkItemByIssueID runs a WIQL query for work items mirroring an
// upstream issue id
func (c *Client) SearchWorkItemByIssueID(ctx context.Context, issueID string) (*WiqlResponse, *upstream.Error) {
	if cfgErr := c.checkConfig(); cfgErr != nil {
		return nil, cfgErr
	}

	wiql := fmt.Sprintf(
		"SELECT [System.Id],[System.Title],[System.State],[System.AssignedTo] FROM workitems WHERE [System.WorkItemType] = 'Issue' AND [Custom.IssueID] = '%s'",
		issueID,
	)
	body, err := json.Marshal(map[string]string{"query": wiql})
	if err != nil {
		return nil, upstream.Wrap(upstream.ServiceAzureDevOps, upstream.KindInternal, "failed to marshal query", err)
	}

	reqURL := fmt.Sprintf("%s/%s/%s/_apis/wit/wiql?api-version=%s",
		c.baseURL, url.PathEscape(c.org), url.PathEscape(c.project), c.apiVersion)

	status, data, reqErr := c.do(ctx, http.MethodPost, reqURL, "application/json", body)
	if reqErr != nil {
		return nil, reqErr
	}
	if status != http.StatusOK {
		return nil, &upstream.Error{
			Service: upstream.ServiceAzureDevOps,
			Kind:    upstream.FromStatus(status),
			Message: fmt.Sprintf("work item search returned status %d", status),
			Status:  status,
		}
	}

	var parsed WiqlResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, upstream.Wrap(upstream.ServiceAzureDevOps, upstream.KindMalformed, "work item search response is not valid JSON", err)
	}

	return &parsed, nil
}

// GetWorkItemByURL fetches a work item through the tracker-supplied URL,
// used verbatim
func (c *Client) GetWorkItemByURL(ctx context.Context, itemURL string) (*WorkItem, *upstream.Error) {
	status, data, reqErr := c.do(ctx, http.MethodGet, itemURL, "", nil)
	if reqErr != nil {
		return nil, reqErr
	}
	if status != http.StatusOK {
		return nil, &upstream.Error{
			Service: upstream.ServiceAzureDevOps,
			Kind:    upstream.FromStatus(status),
			Message: fmt.Sprintf("work item fetch returned status %d", status),
			Status:  status,
		}
	}

	var item WorkItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, upstream.Wrap(upstream.ServiceAzureDevOps, upstream.KindMalformed, "work item response is not valid JSON", err)
	}
	if item.Fields == nil {
		return nil, upstream.New(upstream.ServiceAzureDevOps, upstream.KindMalformed, "work item response is missing fields")
	}

	return &item, nil
}

// issueTypeFor maps a source kind to the tracker's Custom.IssueType value
func issueTypeFor(kind models.SourceKind) string {
	switch kind {
	case models.SourceQAPublic:
		return upstream.ServiceStackOverflow
	case models.SourceQAInternal:
		return upstream.ServiceInternalStackOverflow
	case models.SourceSCMIssues:
		return upstream.ServiceGitHub
	default:
		return string(kind)
	}
}

// AddWorkItem creates a new Issue work item for a normalized issue. Each
// mapped field becomes one JSON-Patch add operation.
func (c *Client) AddWorkItem(ctx context.Context, issue models.NormalizedIssue) (*WorkItem, *upstream.Error) {
	if cfgErr := c.checkConfig(); cfgErr != nil {
		return nil, cfgErr
	}

	ops := []patchOp{
		{Op: "add", Path: "/fields/System.Title", Value: issue.Title},
		{Op: "add", Path: "/fields/System.Tags", Value: issue.Tags},
		{Op: "add", Path: "/fields/Custom.IssueID", Value: issue.IssueID},
		{Op: "add", Path: "/fields/Custom.IssueType", Value: issueTypeFor(issue.Source)},
		{Op: "add", Path: "/fields/Custom.SDK", Value: issue.SDK},
		{Op: "add", Path: "/fields/Custom.Repository", Value: issue.Repository},
		{Op: "add", Path: "/fields/Custom.IssueURL", Value: issue.URL},
	}

	body, err := json.Marshal(ops)
	if err != nil {
		return nil, upstream.Wrap(upstream.ServiceAzureDevOps, upstream.KindInternal, "failed to marshal patch document", err)
	}

	reqURL := fmt.Sprintf("%s/%s/%s/_apis/wit/workitems/$Issue?api-version=%s",
		c.baseURL, url.PathEscape(c.org), url.PathEscape(c.project), c.apiVersion)

	if c.logger != nil {
		c.logger.Info().Str("issue_id", issue.IssueID).Str("source", string(issue.Source)).Msg("Creating work item")
	}

	status, data, reqErr := c.do(ctx, http.MethodPost, reqURL, "application/json-patch+json", body)
	if reqErr != nil {
		return nil, reqErr
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, &upstream.Error{
			Service: upstream.ServiceAzureDevOps,
			Kind:    upstream.FromStatus(status),
			Message: fmt.Sprintf("work item create returned status %d", status),
			Status:  status,
		}
	}

	var item WorkItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, upstream.Wrap(upstream.ServiceAzureDevOps, upstream.KindMalformed, "work item create response is not valid JSON", err)
	}

	return &item, nil
}

// Validate verifies org, project and credentials with a minimal
// authenticated request
func (c *Client) Validate(ctx context.Context) *upstream.Error {
	if cfgErr := c.checkConfig(); cfgErr != nil {
		return cfgErr
	}

	ctx, cancel := context.WithTimeout(ctx, ValidateTimeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/%s/_apis/projects?$top=1&api-version=%s", c.baseURL, url.PathEscape(c.org), c.apiVersion)
	status, _, reqErr := c.do(ctx, http.MethodGet, reqURL, "", nil)
	if reqErr != nil {
		kind := reqErr.Kind
		return upstream.Wrap(upstream.ServiceAzureDevOps, kind, upstream.ValidationMessage(kind, 0), reqErr)
	}
	if status >= 400 {
		kind := upstream.FromStatus(status)
		return &upstream.Error{
			Service: upstream.ServiceAzureDevOps,
			Kind:    kind,
			Message: upstream.ValidationMessage(kind, status),
			Status:  status,
		}
	}

	return nil
}
