package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stevkan/support-tracker/internal/clients/github"
	"github.com/stevkan/support-tracker/internal/clients/stackexchange"
	"github.com/stevkan/support-tracker/internal/models"
)

func TestTruncateTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"short title unchanged", "How do I use the SDK?", "How do I use the SDK?"},
		{"exactly 255 unchanged", strings.Repeat("a", 255), strings.Repeat("a", 255)},
		{"256 truncated to 255", strings.Repeat("a", 256), strings.Repeat("a", 255)},
		{"empty unchanged", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateTitle(tt.title))
		})
	}
}

func TestTruncateTitle_CodePoints(t *testing.T) {
	// Truncation counts code points, not bytes
	title := strings.Repeat("é", 300)
	got := TruncateTitle(title)
	assert.Equal(t, 255, len([]rune(got)))
	assert.Equal(t, strings.Repeat("é", 255), got)
}

func TestTruncateTitle_Idempotent(t *testing.T) {
	title := strings.Repeat("x", 300)
	once := TruncateTitle(title)
	assert.Equal(t, once, TruncateTitle(once))
}

func TestDeriveSDK(t *testing.T) {
	tests := []struct {
		repo string
		want string
	}{
		{"botbuilder-java", "Java"},
		{"botbuilder-js", "Node"},
		{"botbuilder-dotnet", "C#"},
		{"botbuilder-python", "Python"},
		{"BotBuilder-DotNet", "C#"},
		{"something-else", "(Unknown)"},
		{"", "(Unknown)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveSDK(tt.repo), "repo %q", tt.repo)
	}
}

func TestDeriveTags(t *testing.T) {
	assert.Equal(t, SupportTag, DeriveTags([]github.Label{{Name: "support"}}))
	assert.Equal(t, SupportTag, DeriveTags([]github.Label{{Name: "Support"}}))
	assert.Equal(t, SupportTag, DeriveTags([]github.Label{{Name: "Team: Support"}}))
	assert.Equal(t, SupportTag, DeriveTags([]github.Label{{Name: "bug"}, {Name: "support"}}))
	assert.Equal(t, "", DeriveTags([]github.Label{{Name: "bug"}}))
	assert.Equal(t, "", DeriveTags(nil))
	// "supported" is not the support label
	assert.Equal(t, "", DeriveTags([]github.Label{{Name: "supported"}}))
}

func TestDedupQuestions_FirstOccurrenceWins(t *testing.T) {
	questions := []stackexchange.Question{
		{QuestionID: 1, Title: "first"},
		{QuestionID: 2, Title: "second"},
		{QuestionID: 1, Title: "duplicate of first"},
		{QuestionID: 3, Title: "third"},
	}

	deduped := DedupQuestions(questions)

	assert.Len(t, deduped, 3)
	assert.Equal(t, "first", deduped[0].Title)
	assert.Equal(t, "second", deduped[1].Title)
	assert.Equal(t, "third", deduped[2].Title)
}

func TestDedupQuestions_Idempotent(t *testing.T) {
	// Feeding two identical payloads yields the same sequence as one
	payload := []stackexchange.Question{
		{QuestionID: 10, Title: "a"},
		{QuestionID: 20, Title: "b"},
	}

	once := DedupQuestions(payload)
	twice := DedupQuestions(append(append([]stackexchange.Question{}, payload...), payload...))

	assert.Equal(t, once, twice)
}

func TestDedupIssues_ByURL(t *testing.T) {
	issues := []github.Issue{
		{Number: 1, URL: "https://github.com/org/repo/issues/1"},
		{Number: 1, URL: "https://github.com/org/repo/issues/1"},
		{Number: 2, URL: "https://github.com/org/repo/issues/2"},
	}

	deduped := DedupIssues(issues)
	assert.Len(t, deduped, 2)
}

func TestFilterByLabelEvent(t *testing.T) {
	lastRun := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	withEvent := func(label string, at time.Time) github.Issue {
		issue := github.Issue{Number: 1, URL: "u", Title: "t"}
		issue.TimelineItems.Nodes = []github.LabeledEvent{{CreatedAt: at, Label: github.Label{Name: label}}}
		return issue
	}

	// Label applied after the last run: kept
	kept := FilterByLabelEvent([]github.Issue{withEvent("Support", lastRun.Add(time.Hour))}, "support", lastRun)
	assert.Len(t, kept, 1)

	// Label applied before the last run: dropped
	dropped := FilterByLabelEvent([]github.Issue{withEvent("support", lastRun.Add(-time.Hour))}, "support", lastRun)
	assert.Empty(t, dropped)

	// Label applied exactly at the last run: dropped (strictly after)
	atBoundary := FilterByLabelEvent([]github.Issue{withEvent("support", lastRun)}, "support", lastRun)
	assert.Empty(t, atBoundary)

	// Different label: dropped
	other := FilterByLabelEvent([]github.Issue{withEvent("bug", lastRun.Add(time.Hour))}, "support", lastRun)
	assert.Empty(t, other)

	// No labeling events at all: dropped
	none := FilterByLabelEvent([]github.Issue{{Number: 2, URL: "u2"}}, "support", lastRun)
	assert.Empty(t, none)
}

func TestFromQuestion(t *testing.T) {
	q := stackexchange.Question{QuestionID: 12345, Title: "T", Body: "B"}

	issue := FromQuestion(q, models.SourceQAPublic, "stackoverflow.com")

	assert.Equal(t, "12345", issue.IssueID)
	assert.Equal(t, models.SourceQAPublic, issue.Source)
	assert.Equal(t, "T", issue.Title)
	assert.Equal(t, "https://stackoverflow.com/questions/12345", issue.URL)
}

func TestFromIssue(t *testing.T) {
	issue := github.Issue{
		Number: 42,
		Title:  "Broken adapter",
		URL:    "https://github.com/org/botbuilder-python/issues/42",
	}
	issue.Repository.Name = "BotBuilder-Python"
	issue.Labels.Nodes = []github.Label{{Name: "support"}}

	normalized := FromIssue(issue)

	assert.Equal(t, "42", normalized.IssueID)
	assert.Equal(t, models.SourceSCMIssues, normalized.Source)
	assert.Equal(t, "botbuilder-python", normalized.Repository)
	assert.Equal(t, "Python", normalized.SDK)
	assert.Equal(t, SupportTag, normalized.Tags)
	assert.Equal(t, issue.URL, normalized.URL)
}

func TestQuestions_NormalizerIdempotent(t *testing.T) {
	// The mapped output is deduplicated and capped, and truncating its title
	// again changes nothing
	payload := []stackexchange.Question{
		{QuestionID: 1, Title: strings.Repeat("t", 300)},
		{QuestionID: 1, Title: "dup"},
	}

	first := Questions(payload, models.SourceQAPublic, "stackoverflow.com")
	assert.Len(t, first, 1)
	assert.Equal(t, 255, len([]rune(first[0].Title)))
	assert.Equal(t, first[0].Title, TruncateTitle(first[0].Title))
}
