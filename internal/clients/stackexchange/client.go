package stackexchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/stevkan/support-tracker/internal/common"
	"github.com/stevkan/support-tracker/internal/upstream"
)

const (
	// DefaultTimeout is the default HTTP timeout for fetches.
	DefaultTimeout = 30 * time.Second

	// ValidateTimeout bounds credential validation requests.
	ValidateTimeout = 10 * time.Second

	// siteParam is the Stack Exchange site selector sent on every request.
	siteParam = "stackoverflow"
)

// ThrottleBackoff is slept once when the API answers 429. The tag is then
// treated as empty; there is no retry.
var ThrottleBackoff = 5100 * time.Millisecond

// Question is one item of a /questions response
type Question struct {
	QuestionID   int64    `json:"question_id"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	Tags         []string `json:"tags"`
	CreationDate int64    `json:"creation_date"`
	Link         string   `json:"link"`
}

// QuestionsResponse is the parsed body of a /questions fetch, carrying the
// original status code.
type QuestionsResponse struct {
	Items      []Question `json:"items"`
	StatusCode int        `json:"-"`
}

// Client is a thin Stack Exchange API client. The same client serves the
// public site and the internal deployment; the internal one authenticates
// with an X-API-Key header.
type Client struct {
	baseURL      string
	questionHost string
	service      string
	role         string
	apiKey       string
	httpClient   *http.Client
	logger       arbor.ILogger
	pacer        *rate.Limiter
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

// WithPacing sets the politeness interval between fetches
func WithPacing(interval time.Duration) ClientOption {
	return func(c *Client) {
		c.pacer = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// NewPublic creates a client for the public Q&A site. questionHost is the
// host used when building canonical question URLs.
func NewPublic(baseURL, questionHost string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      baseURL,
		questionHost: questionHost,
		service:      upstream.ServiceStackOverflow,
		role:         "stackoverflow-public",
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		pacer:        rate.NewLimiter(rate.Every(1500*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewInternal creates a client for the internal Q&A deployment
func NewInternal(baseURL, apiKey string, opts ...ClientOption) *Client {
	u, _ := url.Parse(baseURL)
	host := ""
	if u != nil {
		host = u.Host
	}
	c := &Client{
		baseURL:      baseURL,
		questionHost: host,
		service:      upstream.ServiceInternalStackOverflow,
		role:         "stackoverflow-internal",
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		pacer:        rate.NewLimiter(rate.Every(1000*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Service returns the attributed service label
func (c *Client) Service() string {
	return c.service
}

// QuestionHost returns the host used for canonical question URLs
func (c *Client) QuestionHost() string {
	return c.questionHost
}

// FetchQuestions issues exactly one GET /questions request for a tag. A 429
// answer is absorbed: the client sleeps once and returns an empty result with
// the original status code.
func (c *Client) FetchQuestions(ctx context.Context, tag string, fromUnix int64) (*QuestionsResponse, *upstream.Error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, upstream.Cancelled(c.service)
	}

	params := url.Values{}
	params.Set("fromdate", strconv.FormatInt(fromUnix, 10))
	params.Set("site", siteParam)
	params.Set("filter", "withbody")
	params.Set("tagged", tag)

	reqURL := fmt.Sprintf("%s/questions?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, upstream.Wrap(c.service, upstream.KindInternal, "failed to create request", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("support-tracker/%s (%s)", common.GetVersion(), c.role))
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	if c.logger != nil {
		c.logger.Debug().Str("tag", tag).Int64("fromdate", fromUnix).Str("service", c.service).Msg("Fetching questions")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := upstream.ClassifyTransport(err)
		if kind == upstream.KindCancelled {
			return nil, upstream.Cancelled(c.service)
		}
		return nil, upstream.Wrap(c.service, kind, "questions fetch failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.Wrap(c.service, upstream.KindUnavailable, "failed to read response body", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		if c.logger != nil {
			c.logger.Warn().Str("tag", tag).Msg("Throttled by Q&A API, backing off")
		}
		select {
		case <-time.After(ThrottleBackoff):
		case <-ctx.Done():
			return nil, upstream.Cancelled(c.service)
		}
		return &QuestionsResponse{Items: []Question{}, StatusCode: resp.StatusCode}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &upstream.Error{
			Service: c.service,
			Kind:    upstream.FromStatus(resp.StatusCode),
			Message: fmt.Sprintf("questions fetch returned status %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	var parsed QuestionsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, upstream.Wrap(c.service, upstream.KindMalformed, "questions response is not valid JSON", err)
	}
	parsed.StatusCode = resp.StatusCode

	return &parsed, nil
}

// Validate issues a minimal authenticated request to verify the endpoint and
// credentials. Public deployments have no credential; validation then only
// confirms reachability.
func (c *Client) Validate(ctx context.Context) *upstream.Error {
	ctx, cancel := context.WithTimeout(ctx, ValidateTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("site", siteParam)
	params.Set("pagesize", "1")

	reqURL := fmt.Sprintf("%s/questions?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return upstream.Wrap(c.service, upstream.KindInternal, "failed to create request", err)
	}
	req.Header.Set("User-Agent", fmt.Sprintf("support-tracker/%s (%s)", common.GetVersion(), c.role))
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := upstream.ClassifyTransport(err)
		return upstream.Wrap(c.service, kind, upstream.ValidationMessage(kind, 0), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		kind := upstream.FromStatus(resp.StatusCode)
		return &upstream.Error{
			Service: c.service,
			Kind:    kind,
			Message: upstream.ValidationMessage(kind, resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}

	return nil
}
