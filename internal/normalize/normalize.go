package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stevkan/support-tracker/internal/clients/github"
	"github.com/stevkan/support-tracker/internal/clients/stackexchange"
	"github.com/stevkan/support-tracker/internal/models"
)

// MaxTitleLength is the title ceiling in code points. Truncation happens
// before any HTML escaping; escaping is the presentation layer's job.
const MaxTitleLength = 255

// SupportTag is the derived flag for support-labelled SCM issues
const SupportTag = "[Support Labelled]"

// UnknownSDK is the literal used when no SDK mapping applies
const UnknownSDK = "(Unknown)"

// sdkSuffixes maps repository name suffixes to SDK names
var sdkSuffixes = []struct {
	suffix string
	sdk    string
}{
	{"-java", "Java"},
	{"-js", "Node"},
	{"-dotnet", "C#"},
	{"-python", "Python"},
}

// TruncateTitle caps a title at MaxTitleLength code points
func TruncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= MaxTitleLength {
		return title
	}
	return string(runes[:MaxTitleLength])
}

// DeriveSDK maps a repository name to its SDK via the fixed suffix table
func DeriveSDK(repository string) string {
	repo := strings.ToLower(repository)
	for _, entry := range sdkSuffixes {
		if strings.HasSuffix(repo, entry.suffix) {
			return entry.sdk
		}
	}
	return UnknownSDK
}

// DeriveTags returns the support flag when any label's lowercased name is
// "support" or "team: support", otherwise empty
func DeriveTags(labels []github.Label) string {
	for _, label := range labels {
		switch strings.ToLower(label.Name) {
		case "support", "team: support":
			return SupportTag
		}
	}
	return ""
}

// DedupQuestions collapses duplicate questions by question id, keeping the
// first occurrence in order
func DedupQuestions(questions []stackexchange.Question) []stackexchange.Question {
	seen := make(map[int64]struct{}, len(questions))
	out := make([]stackexchange.Question, 0, len(questions))
	for _, q := range questions {
		if _, dup := seen[q.QuestionID]; dup {
			continue
		}
		seen[q.QuestionID] = struct{}{}
		out = append(out, q)
	}
	return out
}

// DedupIssues collapses duplicate SCM issues by canonical URL, keeping the
// first occurrence in order
func DedupIssues(issues []github.Issue) []github.Issue {
	seen := make(map[string]struct{}, len(issues))
	out := make([]github.Issue, 0, len(issues))
	for _, issue := range issues {
		if _, dup := seen[issue.URL]; dup {
			continue
		}
		seen[issue.URL] = struct{}{}
		out = append(out, issue)
	}
	return out
}

// FilterByLabelEvent keeps only issues whose queried label was applied after
// lastRun. The search's created qualifier is inclusive at day granularity;
// checking the labeling event restores correctness when a label was applied
// after the issue was created.
func FilterByLabelEvent(issues []github.Issue, label string, lastRun time.Time) []github.Issue {
	want := strings.ToLower(label)
	out := make([]github.Issue, 0, len(issues))
	for _, issue := range issues {
		for _, ev := range issue.TimelineItems.Nodes {
			if strings.ToLower(ev.Label.Name) == want && ev.CreatedAt.After(lastRun) {
				out = append(out, issue)
				break
			}
		}
	}
	return out
}

// FromQuestion maps a Q&A question to the normalized representation. The
// canonical URL is rebuilt from the question host rather than trusting the
// upstream link field.
func FromQuestion(q stackexchange.Question, source models.SourceKind, questionHost string) models.NormalizedIssue {
	return models.NormalizedIssue{
		IssueID: strconv.FormatInt(q.QuestionID, 10),
		Source:  source,
		Title:   TruncateTitle(q.Title),
		URL:     fmt.Sprintf("https://%s/questions/%d", questionHost, q.QuestionID),
	}
}

// FromIssue maps an SCM issue to the normalized representation
func FromIssue(issue github.Issue) models.NormalizedIssue {
	repo := strings.ToLower(issue.Repository.Name)
	return models.NormalizedIssue{
		IssueID:    strconv.FormatInt(issue.Number, 10),
		Source:     models.SourceSCMIssues,
		Title:      TruncateTitle(issue.Title),
		Tags:       DeriveTags(issue.Labels.Nodes),
		SDK:        DeriveSDK(repo),
		Repository: repo,
		URL:        issue.URL,
	}
}

// Questions maps and deduplicates a batch of Q&A questions, preserving
// first-seen order
func Questions(questions []stackexchange.Question, source models.SourceKind, questionHost string) []models.NormalizedIssue {
	deduped := DedupQuestions(questions)
	out := make([]models.NormalizedIssue, 0, len(deduped))
	for _, q := range deduped {
		out = append(out, FromQuestion(q, source, questionHost))
	}
	return out
}

// Issues maps and deduplicates a batch of SCM issues, preserving first-seen
// order
func Issues(issues []github.Issue) []models.NormalizedIssue {
	deduped := DedupIssues(issues)
	out := make([]models.NormalizedIssue, 0, len(deduped))
	for _, issue := range deduped {
		out = append(out, FromIssue(issue))
	}
	return out
}
