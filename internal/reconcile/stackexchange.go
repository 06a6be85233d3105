package reconcile

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/stevkan/support-tracker/internal/clients/stackexchange"
	"github.com/stevkan/support-tracker/internal/common"
	"github.com/stevkan/support-tracker/internal/models"
	"github.com/stevkan/support-tracker/internal/normalize"
	"github.com/stevkan/support-tracker/internal/upstream"
)

// QAReconciler drives one Q&A source (public or internal) through the
// fetch → dedup → normalize → mirror-lookup → diff → create pipeline.
type QAReconciler struct {
	Client     *stackexchange.Client
	Tags       []string
	Source     models.SourceKind
	SectionKey string
	Window     common.QueryWindow
	Now        time.Time
	Progress   ProgressFunc
	Pipeline   *Pipeline
	Logger     arbor.ILogger
}

// Run executes the reconciler. Tags are fetched sequentially in declared
// order; duplicates across tags collapse to the first occurrence.
func (r *QAReconciler) Run(ctx context.Context) (*Report, *upstream.Error) {
	service := r.Client.Service()
	fromUnix := r.Window.FromUnix(r.Now)

	var questions []stackexchange.Question
	for _, tag := range r.Tags {
		if r.Progress != nil {
			r.Progress(tag)
		}
		if cancelErr := checkpoint(ctx, service); cancelErr != nil {
			return nil, cancelErr
		}

		resp, fetchErr := r.Client.FetchQuestions(ctx, tag, fromUnix)
		if fetchErr != nil {
			return nil, fetchErr
		}
		questions = append(questions, resp.Items...)
	}

	issues := normalize.Questions(questions, r.Source, r.Client.QuestionHost())

	if r.Logger != nil {
		r.Logger.Debug().
			Str("service", service).
			Int("fetched", len(questions)).
			Int("after_dedup", len(issues)).
			Msg("Questions normalized")
	}

	return r.Pipeline.Reconcile(ctx, r.SectionKey, service, "posts", issues)
}
