package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevkan/support-tracker/internal/clients/devops"
	"github.com/stevkan/support-tracker/internal/models"
	"github.com/stevkan/support-tracker/internal/upstream"
)

// memSnapshots is an in-memory SnapshotStorage for tests
type memSnapshots struct {
	mu   sync.Mutex
	snap *models.RunSnapshot
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{snap: models.EmptySnapshot(time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC))}
}

func (m *memSnapshots) Reset(ctx context.Context, start time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = models.EmptySnapshot(start)
	return nil
}

func (m *memSnapshots) Get(ctx context.Context) (*models.RunSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *m.snap
	return &copied, nil
}

func (m *memSnapshots) update(sectionKey string, apply func(*models.SourceSection)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	section := m.snap.Section(sectionKey)
	if section == nil {
		return fmt.Errorf("unknown section %s", sectionKey)
	}
	apply(section)
	return nil
}

func (m *memSnapshots) SetFound(ctx context.Context, key string, found models.IssueList) error {
	return m.update(key, func(s *models.SourceSection) { s.Found = found })
}

func (m *memSnapshots) SetDevOps(ctx context.Context, key string, candidates []models.MirrorCandidate) error {
	return m.update(key, func(s *models.SourceSection) { s.DevOps = candidates })
}

func (m *memSnapshots) SetNewIssues(ctx context.Context, key string, newIssues models.IssueList) error {
	return m.update(key, func(s *models.SourceSection) { s.NewIssues = newIssues })
}

func (m *memSnapshots) SetSectionError(ctx context.Context, key, message string) error {
	return m.update(key, func(s *models.SourceSection) { s.Status = "error"; s.Message = message })
}

func (m *memSnapshots) SetEndTime(ctx context.Context, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	display := end.Local().Format(models.DisplayTimeFormat)
	utc := end.UTC()
	m.snap.EndTime = &display
	m.snap.EndedAt = &utc
	return nil
}

// fakeTracker is an httptest work-item tracker. Configure stored items by
// issue id; the server answers WIQL, item fetch, and create.
type fakeTracker struct {
	server *httptest.Server

	mu           sync.Mutex
	stored       map[string]storedItem // issue id -> work item
	wiqlCalls    int
	getCalls     int
	createCalls  int
	createdPatch [][]map[string]interface{}
}

type storedItem struct {
	id    int
	title string
}

func newFakeTracker(t *testing.T) *fakeTracker {
	ft := &fakeTracker{stored: map[string]storedItem{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/org/project/_apis/wit/wiql", func(w http.ResponseWriter, r *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		ft.wiqlCalls++

		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		json.Unmarshal(body, &req)

		// Pull the issue id out of ... [Custom.IssueID] = '<id>'
		query := req["query"]
		start := strings.Index(query, "[Custom.IssueID] = '")
		if start < 0 {
			w.Write([]byte(`{"workItems":[]}`))
			return
		}
		rest := query[start+len("[Custom.IssueID] = '"):]
		issueID := rest[:strings.Index(rest, "'")]

		item, ok := ft.stored[issueID]
		if !ok {
			w.Write([]byte(`{"workItems":[]}`))
			return
		}
		fmt.Fprintf(w, `{"workItems":[{"id":%d,"url":"%s/items/%d?issue=%s"}]}`, item.id, ft.server.URL, item.id, issueID)
	})
	mux.HandleFunc("/items/", func(w http.ResponseWriter, r *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		ft.getCalls++

		issueID := r.URL.Query().Get("issue")
		item := ft.stored[issueID]
		response := map[string]interface{}{
			"id": item.id,
			"fields": map[string]interface{}{
				"Custom.IssueID": issueID,
				"System.Title":   item.title,
			},
		}
		json.NewEncoder(w).Encode(response)
	})
	mux.HandleFunc("/org/project/_apis/wit/workitems/$Issue", func(w http.ResponseWriter, r *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		ft.createCalls++

		body, _ := io.ReadAll(r.Body)
		var ops []map[string]interface{}
		json.Unmarshal(body, &ops)
		ft.createdPatch = append(ft.createdPatch, ops)

		fmt.Fprintf(w, `{"id":%d,"fields":{"System.Title":"created"}}`, 100+ft.createCalls)
	})

	ft.server = httptest.NewServer(mux)
	t.Cleanup(ft.server.Close)
	return ft
}

func (ft *fakeTracker) client() *devops.Client {
	return devops.NewClient(ft.server.URL, "org", "project", "7.0", "", "pat")
}

// patchValue extracts a field value from a recorded create patch document
func patchValue(ops []map[string]interface{}, path string) interface{} {
	for _, op := range ops {
		if op["path"] == path {
			return op["value"]
		}
	}
	return nil
}

func qaIssue(id, title string) models.NormalizedIssue {
	return models.NormalizedIssue{
		IssueID: id,
		Source:  models.SourceQAPublic,
		Title:   title,
		URL:     "https://stackoverflow.com/questions/" + id,
	}
}

func TestPipeline_NewIssueCreated(t *testing.T) {
	tracker := newFakeTracker(t)
	snapshots := newMemSnapshots()

	p := &Pipeline{Tracker: tracker.client(), Snapshots: snapshots, Push: true}

	report, err := p.Reconcile(context.Background(), models.SectionStackOverflow, upstream.ServiceStackOverflow, "posts",
		[]models.NormalizedIssue{qaIssue("12345", "T")})
	require.Nil(t, err)

	assert.Equal(t, http.StatusOK, report.Status)
	require.NotNil(t, report.LastCreate)

	assert.Equal(t, 1, tracker.createCalls)
	require.Len(t, tracker.createdPatch, 1)
	assert.Equal(t, "12345", patchValue(tracker.createdPatch[0], "/fields/Custom.IssueID"))
	assert.Equal(t, "T", patchValue(tracker.createdPatch[0], "/fields/System.Title"))

	snap, _ := snapshots.Get(context.Background())
	assert.Equal(t, uint32(1), snap.StackOverflow.Found.Count)
	assert.Empty(t, snap.StackOverflow.DevOps)
	assert.Equal(t, uint32(1), snap.StackOverflow.NewIssues.Count)
}

func TestPipeline_ExistingMatchSuppressesCreate(t *testing.T) {
	tracker := newFakeTracker(t)
	tracker.stored["999"] = storedItem{id: 1, title: "Existing"}
	snapshots := newMemSnapshots()

	p := &Pipeline{Tracker: tracker.client(), Snapshots: snapshots, Push: true}

	report, err := p.Reconcile(context.Background(), models.SectionStackOverflow, upstream.ServiceStackOverflow, "posts",
		[]models.NormalizedIssue{qaIssue("999", "Existing")})
	require.Nil(t, err)

	assert.Equal(t, http.StatusNoContent, report.Status)
	assert.Equal(t, "No new posts to add", report.Message)
	assert.Equal(t, 0, tracker.createCalls)

	snap, _ := snapshots.Get(context.Background())
	assert.Equal(t, uint32(0), snap.StackOverflow.NewIssues.Count)
	require.Len(t, snap.StackOverflow.DevOps, 1)
	assert.Equal(t, "999", snap.StackOverflow.DevOps[0].IssueID)
	assert.Equal(t, "Existing", snap.StackOverflow.DevOps[0].Title)
}

func TestPipeline_TitleDriftTriggersCreate(t *testing.T) {
	tracker := newFakeTracker(t)
	tracker.stored["999"] = storedItem{id: 1, title: "Different"}
	snapshots := newMemSnapshots()

	p := &Pipeline{Tracker: tracker.client(), Snapshots: snapshots, Push: true}

	report, err := p.Reconcile(context.Background(), models.SectionStackOverflow, upstream.ServiceStackOverflow, "posts",
		[]models.NormalizedIssue{qaIssue("999", "Existing")})
	require.Nil(t, err)

	assert.Equal(t, http.StatusOK, report.Status)
	assert.Equal(t, 1, tracker.createCalls)

	// The tracker hit stays visible as a mirror candidate while the renamed
	// issue is still created
	snap, _ := snapshots.Get(context.Background())
	require.Len(t, snap.StackOverflow.DevOps, 1)
	assert.Equal(t, uint32(1), snap.StackOverflow.NewIssues.Count)
}

func TestPipeline_PushDisabled(t *testing.T) {
	tracker := newFakeTracker(t)
	snapshots := newMemSnapshots()

	p := &Pipeline{Tracker: tracker.client(), Snapshots: snapshots, Push: false}

	report, err := p.Reconcile(context.Background(), models.SectionStackOverflow, upstream.ServiceStackOverflow, "posts",
		[]models.NormalizedIssue{qaIssue("1", "a"), qaIssue("2", "b")})
	require.Nil(t, err)

	assert.Equal(t, http.StatusOK, report.Status)
	assert.Equal(t, "2 new issue(s) found but not pushed", report.Message)
	assert.Equal(t, 0, tracker.createCalls)

	snap, _ := snapshots.Get(context.Background())
	assert.Equal(t, uint32(2), snap.StackOverflow.NewIssues.Count)
}

func TestPipeline_EmptyInput(t *testing.T) {
	tracker := newFakeTracker(t)
	snapshots := newMemSnapshots()

	p := &Pipeline{Tracker: tracker.client(), Snapshots: snapshots, Push: true}

	report, err := p.Reconcile(context.Background(), models.SectionStackOverflow, upstream.ServiceStackOverflow, "posts", nil)
	require.Nil(t, err)

	assert.Equal(t, http.StatusNoContent, report.Status)
	assert.Equal(t, "No new posts found.", report.Message)
	assert.Equal(t, 0, tracker.wiqlCalls)

	snap, _ := snapshots.Get(context.Background())
	assert.Equal(t, uint32(0), snap.StackOverflow.Found.Count)
	assert.NotNil(t, snap.StackOverflow.Found.Issues)
	assert.Empty(t, snap.StackOverflow.DevOps)
}

func TestPipeline_CancelledBeforeLookup(t *testing.T) {
	tracker := newFakeTracker(t)
	snapshots := newMemSnapshots()

	p := &Pipeline{Tracker: tracker.client(), Snapshots: snapshots, Push: true}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Reconcile(ctx, models.SectionStackOverflow, upstream.ServiceStackOverflow, "posts",
		[]models.NormalizedIssue{qaIssue("1", "a")})
	require.NotNil(t, err)

	assert.True(t, upstream.IsCancelled(err))
	assert.Equal(t, 0, tracker.wiqlCalls)
	assert.Equal(t, 0, tracker.createCalls)
}

func TestPipeline_TrackerErrorAttribution(t *testing.T) {
	// Errors from tracker calls carry the tracker's service label even when
	// raised inside a Q&A reconcile
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	snapshots := newMemSnapshots()
	client := devops.NewClient(server.URL, "org", "project", "7.0", "", "pat")
	p := &Pipeline{Tracker: client, Snapshots: snapshots, Push: true}

	_, err := p.Reconcile(context.Background(), models.SectionStackOverflow, upstream.ServiceStackOverflow, "posts",
		[]models.NormalizedIssue{qaIssue("1", "a")})
	require.NotNil(t, err)

	assert.Equal(t, upstream.ServiceAzureDevOps, err.Service)
}

func TestPipeline_CountsMatchSequences(t *testing.T) {
	tracker := newFakeTracker(t)
	tracker.stored["2"] = storedItem{id: 5, title: "b"}
	snapshots := newMemSnapshots()

	p := &Pipeline{Tracker: tracker.client(), Snapshots: snapshots, Push: false}

	_, err := p.Reconcile(context.Background(), models.SectionStackOverflow, upstream.ServiceStackOverflow, "posts",
		[]models.NormalizedIssue{qaIssue("1", "a"), qaIssue("2", "b"), qaIssue("3", "c")})
	require.Nil(t, err)

	snap, _ := snapshots.Get(context.Background())
	section := snap.StackOverflow
	assert.Equal(t, int(section.Found.Count), len(section.Found.Issues))
	assert.Equal(t, int(section.NewIssues.Count), len(section.NewIssues.Issues))

	// Matched-by-title issues never reappear in newIssues
	for _, candidate := range section.DevOps {
		if candidate.Title == "b" {
			for _, n := range section.NewIssues.Issues {
				assert.NotEqual(t, candidate.IssueID, n.IssueID)
			}
		}
	}
}
