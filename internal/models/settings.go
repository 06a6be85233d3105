package models

// Settings is the runtime-mutable settings document. It is persisted as a
// single record and patched via the control plane.
type Settings struct {
	AzureDevOps     AzureDevOpsSettings `json:"azureDevOps"`
	GitHub          GitHubSettings      `json:"github"`
	UseTestData     bool                `json:"useTestData"`
	IsVerbose       bool                `json:"isVerbose"`
	EnabledServices EnabledServices     `json:"enabledServices"`
	QueryDefaults   QueryParams         `json:"queryDefaults"`
	PushToDevOps    bool                `json:"pushToDevOps"`
	Repositories    Repositories        `json:"repositories"`
	Timestamp       Timestamps          `json:"timestamp"`
	Theme           string              `json:"theme"`
}

// AzureDevOpsSettings locate the work-item tracker project
type AzureDevOpsSettings struct {
	Org        string `json:"org"`
	Project    string `json:"project"`
	APIVersion string `json:"apiVersion"`
}

// GitHubSettings configure the SCM issues source. Labels narrows each repo
// query to issues carrying that label (one query per repo/label pair);
// ExcludeLabels are appended as negative qualifiers.
type GitHubSettings struct {
	APIURL        string   `json:"apiUrl"`
	Labels        []string `json:"labels,omitempty"`
	ExcludeLabels []string `json:"excludeLabels,omitempty"`
}

// Repositories name what each source polls: repo slugs for the SCM source,
// tags for the two Q&A sources.
type Repositories struct {
	GitHub                []string `json:"github"`
	StackOverflow         []string `json:"stackOverflow"`
	InternalStackOverflow []string `json:"internalStackOverflow"`
}

// Timestamps track the last two successful runs (RFC3339, UTC)
type Timestamps struct {
	LastRun     string `json:"lastRun"`
	PreviousRun string `json:"previousRun"`
}

// DefaultSettings returns the settings document seeded on first start
func DefaultSettings() *Settings {
	return &Settings{
		AzureDevOps: AzureDevOpsSettings{
			APIVersion: "7.0",
		},
		GitHub: GitHubSettings{
			APIURL: "https://api.github.com",
		},
		EnabledServices: EnabledServices{
			QAPublic:   true,
			QAInternal: false,
			SCMIssues:  true,
		},
		QueryDefaults: QueryParams{
			NumberOfDaysToQuery: 1,
			StartHour:           10,
			PushToTracker:       true,
		},
		PushToDevOps: true,
		Repositories: Repositories{
			GitHub:                []string{},
			StackOverflow:         []string{},
			InternalStackOverflow: []string{},
		},
		Theme: "light",
	}
}
