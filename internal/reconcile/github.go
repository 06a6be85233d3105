package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/stevkan/support-tracker/internal/clients/github"
	"github.com/stevkan/support-tracker/internal/common"
	"github.com/stevkan/support-tracker/internal/models"
	"github.com/stevkan/support-tracker/internal/normalize"
	"github.com/stevkan/support-tracker/internal/upstream"
)

// SCMReconciler drives the SCM issues source through the pipeline. Each
// repository is queried once per configured label (or once unlabelled when no
// labels are configured); duplicates across queries collapse by URL.
type SCMReconciler struct {
	Client        *github.Client
	Repos         []string // org/name slugs
	Labels        []string
	ExcludeLabels []string
	LastRun       time.Time // label-event cutoff; zero falls back to the window start
	Window        common.QueryWindow
	Now           time.Time
	Progress      ProgressFunc
	Pipeline      *Pipeline
	Logger        arbor.ILogger
}

// shortName strips the org prefix from a repo slug
func shortName(slug string) string {
	if i := strings.LastIndex(slug, "/"); i >= 0 {
		return slug[i+1:]
	}
	return slug
}

// Run executes the reconciler
func (r *SCMReconciler) Run(ctx context.Context) (*Report, *upstream.Error) {
	createdAfter := r.Window.FromISO(r.Now)

	cutoff := r.LastRun
	if cutoff.IsZero() {
		cutoff = r.Window.Start(r.Now)
	}

	labels := r.Labels
	if len(labels) == 0 {
		labels = []string{""}
	}

	var collected []github.Issue
	for _, repo := range r.Repos {
		if r.Progress != nil {
			r.Progress(shortName(repo))
		}

		for _, label := range labels {
			if cancelErr := checkpoint(ctx, upstream.ServiceGitHub); cancelErr != nil {
				return nil, cancelErr
			}

			result, searchErr := r.Client.SearchIssues(ctx, repo, label, createdAfter, r.ExcludeLabels)
			if searchErr != nil {
				return nil, searchErr
			}

			issues := result.Issues
			if label != "" {
				// The created qualifier is inclusive at day granularity; keep
				// only issues whose queried label was applied after the last
				// run.
				issues = normalize.FilterByLabelEvent(issues, label, cutoff)
			}
			collected = append(collected, issues...)
		}
	}

	issues := normalize.Issues(collected)

	if r.Logger != nil {
		r.Logger.Debug().
			Int("fetched", len(collected)).
			Int("after_dedup", len(issues)).
			Msg("SCM issues normalized")
	}

	return r.Pipeline.Reconcile(ctx, models.SectionGitHub, upstream.ServiceGitHub, "issues", issues)
}
