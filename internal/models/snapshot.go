package models

import (
	"time"
)

// Snapshot section keys. These are the top-level keys of the persisted
// `index` document and double as the per-source keys of a job result.
const (
	SectionStackOverflow         = "stackOverflow"
	SectionInternalStackOverflow = "internalStackOverflow"
	SectionGitHub                = "github"
)

// DisplayTimeFormat renders instants the way the report layer shows them.
const DisplayTimeFormat = "1/2/2006, 3:04:05 PM"

// IssueList is an ordered sequence of issues with its materialized count.
// Count always equals len(Issues).
type IssueList struct {
	Issues []NormalizedIssue `json:"issues"`
	Count  uint32            `json:"count"`
}

// NewIssueList builds an IssueList with a consistent count
func NewIssueList(issues []NormalizedIssue) IssueList {
	if issues == nil {
		issues = []NormalizedIssue{}
	}
	return IssueList{Issues: issues, Count: uint32(len(issues))}
}

// SourceSection is one source's slice of a run snapshot
type SourceSection struct {
	Found     IssueList         `json:"found"`
	DevOps    []MirrorCandidate `json:"devOps"`
	NewIssues IssueList         `json:"newIssues"`
	Status    string            `json:"status,omitempty"` // "error" marks a failed source
	Message   string            `json:"message,omitempty"`
}

// EmptySection returns the canonical empty section: zero counts, empty
// (non-nil) sequences.
func EmptySection() SourceSection {
	return SourceSection{
		Found:     NewIssueList(nil),
		DevOps:    []MirrorCandidate{},
		NewIssues: NewIssueList(nil),
	}
}

// RunSnapshot is the persisted per-run document. StartTime/EndTime are
// display strings; the core additionally keeps the UTC instants.
type RunSnapshot struct {
	StartTime             string        `json:"startTime"`
	EndTime               *string       `json:"endTime"`
	StartedAt             time.Time     `json:"startedAt"`
	EndedAt               *time.Time    `json:"endedAt,omitempty"`
	StackOverflow         SourceSection `json:"stackOverflow"`
	InternalStackOverflow SourceSection `json:"internalStackOverflow"`
	GitHub                SourceSection `json:"github"`
}

// EmptySnapshot returns the canonical empty template with the start time set
// and the end time null.
func EmptySnapshot(start time.Time) *RunSnapshot {
	return &RunSnapshot{
		StartTime:             start.Local().Format(DisplayTimeFormat),
		EndTime:               nil,
		StartedAt:             start.UTC(),
		StackOverflow:         EmptySection(),
		InternalStackOverflow: EmptySection(),
		GitHub:                EmptySection(),
	}
}

// Section returns a pointer to the named section, or nil for an unknown key
func (s *RunSnapshot) Section(key string) *SourceSection {
	switch key {
	case SectionStackOverflow:
		return &s.StackOverflow
	case SectionInternalStackOverflow:
		return &s.InternalStackOverflow
	case SectionGitHub:
		return &s.GitHub
	default:
		return nil
	}
}

// Sections returns the per-source map form used as a job result
func (s *RunSnapshot) Sections() map[string]SourceSection {
	return map[string]SourceSection{
		SectionStackOverflow:         s.StackOverflow,
		SectionInternalStackOverflow: s.InternalStackOverflow,
		SectionGitHub:                s.GitHub,
	}
}
