package reconcile

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/stevkan/support-tracker/internal/clients/devops"
	"github.com/stevkan/support-tracker/internal/interfaces"
	"github.com/stevkan/support-tracker/internal/models"
	"github.com/stevkan/support-tracker/internal/upstream"
)

// checkpoint observes the cancel token. Called immediately before each
// outbound request and between loop iterations.
func checkpoint(ctx context.Context, service string) *upstream.Error {
	select {
	case <-ctx.Done():
		return upstream.Cancelled(service)
	default:
		return nil
	}
}

// Pipeline is the shared mirror-lookup → classify → diff → create tail of a
// reconciler run. The per-source reconcilers feed it normalized issues.
type Pipeline struct {
	Tracker   *devops.Client
	Snapshots interfaces.SnapshotStorage
	Push      bool
	Logger    arbor.ILogger
}

// Reconcile classifies the issues against the tracker and, when push is
// enabled, creates work items for the unmirrored remainder. Snapshot sections
// are written in found, devOps, newIssues order. noun is "posts" for the Q&A
// sources and "issues" for the SCM source.
func (p *Pipeline) Reconcile(ctx context.Context, sectionKey, service, noun string, issues []models.NormalizedIssue) (*Report, *upstream.Error) {
	if err := p.Snapshots.SetFound(ctx, sectionKey, models.NewIssueList(issues)); err != nil {
		return nil, upstream.Wrap(service, upstream.KindInternal, "failed to persist found issues", err)
	}

	if len(issues) == 0 {
		if err := p.Snapshots.SetDevOps(ctx, sectionKey, []models.MirrorCandidate{}); err != nil {
			return nil, upstream.Wrap(service, upstream.KindInternal, "failed to persist mirror candidates", err)
		}
		if err := p.Snapshots.SetNewIssues(ctx, sectionKey, models.NewIssueList(nil)); err != nil {
			return nil, upstream.Wrap(service, upstream.KindInternal, "failed to persist new issues", err)
		}
		return &Report{Status: http.StatusNoContent, Message: fmt.Sprintf("No new %s found.", noun)}, nil
	}

	candidates := []models.MirrorCandidate{}
	newIssues := []models.NormalizedIssue{}

	for _, issue := range issues {
		if cancelErr := checkpoint(ctx, service); cancelErr != nil {
			return nil, cancelErr
		}

		found, lookupErr := p.Tracker.SearchWorkItemByIssueID(ctx, issue.IssueID)
		if lookupErr != nil {
			return nil, lookupErr
		}

		if len(found.WorkItems) == 0 {
			newIssues = append(newIssues, issue)
			continue
		}

		if cancelErr := checkpoint(ctx, service); cancelErr != nil {
			return nil, cancelErr
		}

		item, getErr := p.Tracker.GetWorkItemByURL(ctx, found.WorkItems[0].URL)
		if getErr != nil {
			return nil, getErr
		}

		candidates = append(candidates, models.MirrorCandidate{
			WorkItemID: item.ID,
			Title:      item.Title(),
			TrackerURL: found.WorkItems[0].URL,
			IssueID:    issue.IssueID,
			URL:        issue.URL,
		})

		// A mirror candidate only suppresses the issue when the stored title
		// matches exactly. A renamed upstream issue is treated as new even
		// though its id is already mirrored; the original tool relies on this
		// to pick up re-titled issues.
		if item.Title() != issue.Title {
			newIssues = append(newIssues, issue)
		}
	}

	if err := p.Snapshots.SetDevOps(ctx, sectionKey, candidates); err != nil {
		return nil, upstream.Wrap(service, upstream.KindInternal, "failed to persist mirror candidates", err)
	}
	if err := p.Snapshots.SetNewIssues(ctx, sectionKey, models.NewIssueList(newIssues)); err != nil {
		return nil, upstream.Wrap(service, upstream.KindInternal, "failed to persist new issues", err)
	}

	if len(newIssues) == 0 {
		return &Report{Status: http.StatusNoContent, Message: fmt.Sprintf("No new %s to add", noun)}, nil
	}

	if !p.Push {
		return &Report{
			Status:  http.StatusOK,
			Message: fmt.Sprintf("%d new issue(s) found but not pushed", len(newIssues)),
		}, nil
	}

	var lastCreate *devops.WorkItem
	for _, issue := range newIssues {
		if cancelErr := checkpoint(ctx, service); cancelErr != nil {
			return nil, cancelErr
		}

		created, createErr := p.Tracker.AddWorkItem(ctx, issue)
		if createErr != nil {
			return nil, createErr
		}
		lastCreate = created

		if p.Logger != nil {
			p.Logger.Info().
				Str("issue_id", issue.IssueID).
				Int("work_item_id", created.ID).
				Msg("Work item created")
		}
	}

	return &Report{
		Status:     http.StatusOK,
		Message:    fmt.Sprintf("%d new issue(s) created", len(newIssues)),
		LastCreate: lastCreate,
	}, nil
}
