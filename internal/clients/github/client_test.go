package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevkan/support-tracker/internal/upstream"
)

func fastClient(apiURL, token string) *Client {
	return NewClient(apiURL, token, WithPacing(time.Millisecond))
}

func searchResponse(nodes string) string {
	return `{"data":{"search":{"nodes":[` + nodes + `]}}}`
}

const issueNode = `{
	"number": 42,
	"title": "Adapter crashes",
	"url": "https://github.com/org/botbuilder-js/issues/42",
	"createdAt": "2024-06-10T12:00:00Z",
	"repository": {"name": "botbuilder-js"},
	"labels": {"nodes": [{"name": "support"}]},
	"timelineItems": {"nodes": [{"createdAt": "2024-06-11T09:00:00Z", "label": {"name": "support"}}]}
}`

func TestSearchIssues_RequestShape(t *testing.T) {
	var gotPath, gotAuth string
	var gotQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		json.Unmarshal(body, &req)
		gotQuery = req["query"]
		w.Write([]byte(searchResponse(issueNode)))
	}))
	defer server.Close()

	client := fastClient(server.URL, "ghp_token")

	result, err := client.SearchIssues(context.Background(), "org/botbuilder-js", "support", "2024-06-09T00:00:00Z", []string{"wontfix"})
	require.Nil(t, err)

	assert.Equal(t, "/graphql", gotPath)
	assert.Equal(t, "Bearer ghp_token", gotAuth)

	assert.Contains(t, gotQuery, `repo:org/botbuilder-js is:open is:issue`)
	assert.Contains(t, gotQuery, `label:\"support\"`)
	assert.Contains(t, gotQuery, `created:>2024-06-09T00:00:00Z`)
	assert.Contains(t, gotQuery, `-label:wontfix`)
	assert.Contains(t, gotQuery, "last: 100")
	assert.Contains(t, gotQuery, "timelineItems(itemTypes: LABELED_EVENT, last: 100)")

	require.Len(t, result.Issues, 1)
	issue := result.Issues[0]
	assert.Equal(t, int64(42), issue.Number)
	assert.Equal(t, "botbuilder-js", issue.Repository.Name)
	require.Len(t, issue.TimelineItems.Nodes, 1)
	assert.Equal(t, "support", issue.TimelineItems.Nodes[0].Label.Name)
}

func TestSearchIssues_NoLabelOmitsQualifier(t *testing.T) {
	var gotQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		json.Unmarshal(body, &req)
		gotQuery = req["query"]
		w.Write([]byte(searchResponse("")))
	}))
	defer server.Close()

	client := fastClient(server.URL, "t")

	_, err := client.SearchIssues(context.Background(), "org/repo", "", "2024-06-09T00:00:00Z", nil)
	require.Nil(t, err)
	assert.NotContains(t, gotQuery, "label:\\\"")
}

func TestSearchIssues_ThrottleReturnsEmpty(t *testing.T) {
	original := ThrottleBackoff
	ThrottleBackoff = 10 * time.Millisecond
	defer func() { ThrottleBackoff = original }()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := fastClient(server.URL, "t")

	result, err := client.SearchIssues(context.Background(), "org/repo", "support", "2024-01-01T00:00:00Z", nil)
	require.Nil(t, err)

	assert.Equal(t, 1, calls)
	assert.Empty(t, result.Issues)
	assert.Equal(t, http.StatusTooManyRequests, result.StatusCode)
}

func TestSearchIssues_GraphQLErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":null,"errors":[{"message":"rate limited"}]}`))
	}))
	defer server.Close()

	client := fastClient(server.URL, "t")

	_, err := client.SearchIssues(context.Background(), "org/repo", "", "2024-01-01T00:00:00Z", nil)
	require.NotNil(t, err)
	assert.Equal(t, upstream.KindServer, err.Kind)
	assert.Contains(t, err.Message, "rate limited")
}

func TestSearchIssues_MalformedNode(t *testing.T) {
	// 2xx with a node missing required fields is schema-invalid
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(searchResponse(`{"number": 1}`)))
	}))
	defer server.Close()

	client := fastClient(server.URL, "t")

	_, err := client.SearchIssues(context.Background(), "org/repo", "", "2024-01-01T00:00:00Z", nil)
	require.NotNil(t, err)
	assert.Equal(t, upstream.KindMalformed, err.Kind)
}

func TestSearchIssues_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := fastClient(server.URL, "bad")

	_, err := client.SearchIssues(context.Background(), "org/repo", "", "2024-01-01T00:00:00Z", nil)
	require.NotNil(t, err)
	assert.Equal(t, upstream.KindAuth, err.Kind)
	assert.Equal(t, upstream.ServiceGitHub, err.Service)
}

func TestValidate_UsesRESTUserEndpoint(t *testing.T) {
	var gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"login":"octocat"}`))
	}))
	defer server.Close()

	client := fastClient(server.URL, "t")

	err := client.Validate(context.Background())
	assert.Nil(t, err)
	// go-github's enterprise client prefixes /api/v3
	assert.Equal(t, "/api/v3/user", gotPath)
}

func TestValidate_AuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer server.Close()

	client := fastClient(server.URL, "bad")

	err := client.Validate(context.Background())
	require.NotNil(t, err)
	assert.Equal(t, upstream.KindAuth, err.Kind)
}
