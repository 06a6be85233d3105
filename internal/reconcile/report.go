package reconcile

import (
	"github.com/stevkan/support-tracker/internal/clients/devops"
)

// ProgressFunc is invoked before each upstream unit of work (per tag for the
// Q&A sources, per repository for the SCM source) with the unit's
// human-readable name.
type ProgressFunc func(unit string)

// Report is the caller-observable terminal state of one reconciler run.
// Failures are returned separately as structured upstream errors.
type Report struct {
	Status     int              // 204 for empty outcomes, 200 otherwise
	Message    string           // terminal message, e.g. "No new posts found."
	LastCreate *devops.WorkItem // last create response, when any item was pushed
}
