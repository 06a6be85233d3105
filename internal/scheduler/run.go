package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/stevkan/support-tracker/internal/clients/devops"
	"github.com/stevkan/support-tracker/internal/clients/github"
	"github.com/stevkan/support-tracker/internal/clients/stackexchange"
	"github.com/stevkan/support-tracker/internal/common"
	"github.com/stevkan/support-tracker/internal/models"
	"github.com/stevkan/support-tracker/internal/reconcile"
	"github.com/stevkan/support-tracker/internal/upstream"
)

// sourceRun binds one enabled source to its reconciler
type sourceRun struct {
	service    string
	sectionKey string
	run        func(ctx context.Context) (*reconcile.Report, *upstream.Error)
}

// run is the job's work phase. It validates credentials, drives the enabled
// sources in fixed order, and records the terminal state. Reconciler failures
// become service errors on a completed job; only cancellation and internal
// failures (a panic, or a run snapshot that cannot be reset) produce a
// non-completed status.
func (s *Scheduler) run(ctx context.Context, handle *jobHandle, settings *models.Settings, enabled models.EnabledServices, params models.QueryParams) {
	defer handle.cancel()

	defer func() {
		if r := recover(); r != nil {
			now := s.now()
			handle.mu.Lock()
			if handle.job.Status == models.JobStatusRunning {
				handle.job.Status = models.JobStatusError
				handle.job.Error = fmt.Sprintf("internal error: %v", r)
				handle.job.EndEpochMS = now.UnixMilli()
			}
			handle.mu.Unlock()
			s.persist(handle)
			s.telemetry.TrackException(fmt.Errorf("job panic: %v", r), map[string]string{"job_id": handle.job.ID})
			s.logger.Error().Str("job_id", handle.job.ID).Msgf("Job panicked: %v", r)
		}
	}()

	now := s.now()
	window := common.QueryWindow{DaysBack: params.NumberOfDaysToQuery, StartHour: params.StartHour}
	push := params.PushToTracker && settings.PushToDevOps

	if err := s.snapshots.Reset(ctx, now); err != nil {
		s.fail(handle, fmt.Sprintf("failed to reset run snapshot: %v", err))
		return
	}

	s.telemetry.TrackEvent("job_started", map[string]string{"job_id": handle.job.ID})

	tracker := s.trackerClient(ctx, settings)

	// Credential gate: validated once, before any fetch. A rejected credential
	// terminates the job as completed with a single tracker-attributed error
	// and an empty result.
	if !settings.UseTestData && enabled.Count() > 0 && push {
		if vErr := tracker.Validate(ctx); vErr != nil {
			if upstream.IsCancelled(vErr) && ctx.Err() != nil {
				s.finishCancelled(handle)
				return
			}
			handle.mu.Lock()
			handle.job.ServiceErrors = append(handle.job.ServiceErrors, models.ServiceError{
				Service: vErr.Service,
				Message: vErr.Message,
			})
			handle.mu.Unlock()
			s.telemetry.TrackEvent("service_error", map[string]string{"job_id": handle.job.ID, "service": vErr.Service})
			s.finishCompleted(ctx, handle, false)
			return
		}
	}

	pipeline := &reconcile.Pipeline{
		Tracker:   tracker,
		Snapshots: s.snapshots,
		Push:      push,
		Logger:    s.logger,
	}

	progress := func(service string) reconcile.ProgressFunc {
		return func(unit string) {
			handle.mu.Lock()
			handle.job.Progress.CurrentService = fmt.Sprintf("%s: %s", service, unit)
			handle.mu.Unlock()
		}
	}

	var sources []sourceRun

	if enabled.QAPublic {
		client := stackexchange.NewPublic(
			s.config.Upstreams.QAPublicURL,
			s.config.Upstreams.QAPublicHost,
			stackexchange.WithLogger(s.logger),
		)
		r := &reconcile.QAReconciler{
			Client:     client,
			Tags:       settings.Repositories.StackOverflow,
			Source:     models.SourceQAPublic,
			SectionKey: models.SectionStackOverflow,
			Window:     window,
			Now:        now,
			Progress:   progress(upstream.ServiceStackOverflow),
			Pipeline:   pipeline,
			Logger:     s.logger,
		}
		sources = append(sources, sourceRun{upstream.ServiceStackOverflow, models.SectionStackOverflow, r.Run})
	}

	if enabled.QAInternal {
		sources = append(sources, s.internalQASource(ctx, settings, window, now, pipeline, progress))
	}

	if enabled.SCMIssues {
		sources = append(sources, s.scmSource(ctx, settings, window, now, pipeline, progress))
	}

	for _, source := range sources {
		handle.mu.Lock()
		handle.job.Progress.CurrentService = source.service
		handle.mu.Unlock()

		report, runErr := source.run(ctx)
		if runErr != nil {
			if upstream.IsCancelled(runErr) {
				s.finishCancelled(handle)
				return
			}
			handle.mu.Lock()
			handle.job.ServiceErrors = append(handle.job.ServiceErrors, models.ServiceError{
				Service: runErr.Service,
				Message: runErr.Message,
			})
			handle.mu.Unlock()
			if err := s.snapshots.SetSectionError(ctx, source.sectionKey, runErr.Message); err != nil {
				s.logger.Warn().Err(err).Str("section", source.sectionKey).Msg("Failed to mark section error")
			}
			s.telemetry.TrackEvent("service_error", map[string]string{"job_id": handle.job.ID, "service": runErr.Service})
			s.logger.Warn().
				Str("job_id", handle.job.ID).
				Str("service", runErr.Service).
				Str("error", runErr.Message).
				Msg("Source failed, continuing with next")
		} else {
			s.logger.Info().
				Str("job_id", handle.job.ID).
				Str("service", source.service).
				Int("status", report.Status).
				Str("message", report.Message).
				Msg("Source completed")
		}

		handle.mu.Lock()
		handle.job.Progress.Current++
		handle.mu.Unlock()
	}

	s.finishCompleted(ctx, handle, true)
}

// internalQASource builds the internal Q&A source, surfacing a configuration
// error when the deployment or its key is missing
func (s *Scheduler) internalQASource(ctx context.Context, settings *models.Settings, window common.QueryWindow, now time.Time, pipeline *reconcile.Pipeline, progress func(string) reconcile.ProgressFunc) sourceRun {
	service := upstream.ServiceInternalStackOverflow
	section := models.SectionInternalStackOverflow

	if s.config.Upstreams.QAInternalURL == "" {
		return sourceRun{service, section, func(context.Context) (*reconcile.Report, *upstream.Error) {
			return nil, upstream.New(service, upstream.KindConfiguration, "internal Q&A endpoint is not configured")
		}}
	}

	key, err := s.secrets.Get(ctx, models.SecretQAInternalKey)
	if err != nil {
		return sourceRun{service, section, func(context.Context) (*reconcile.Report, *upstream.Error) {
			return nil, upstream.New(service, upstream.KindConfiguration, "internal Q&A API key is not set")
		}}
	}

	client := stackexchange.NewInternal(s.config.Upstreams.QAInternalURL, key, stackexchange.WithLogger(s.logger))
	r := &reconcile.QAReconciler{
		Client:     client,
		Tags:       settings.Repositories.InternalStackOverflow,
		Source:     models.SourceQAInternal,
		SectionKey: section,
		Window:     window,
		Now:        now,
		Progress:   progress(service),
		Pipeline:   pipeline,
		Logger:     s.logger,
	}
	return sourceRun{service, section, r.Run}
}

// scmSource builds the SCM issues source
func (s *Scheduler) scmSource(ctx context.Context, settings *models.Settings, window common.QueryWindow, now time.Time, pipeline *reconcile.Pipeline, progress func(string) reconcile.ProgressFunc) sourceRun {
	service := upstream.ServiceGitHub
	section := models.SectionGitHub

	token, err := s.secrets.Get(ctx, models.SecretSCMToken)
	if err != nil {
		return sourceRun{service, section, func(context.Context) (*reconcile.Report, *upstream.Error) {
			return nil, upstream.New(service, upstream.KindConfiguration, "SCM token is not set")
		}}
	}

	var lastRun time.Time
	if settings.Timestamp.LastRun != "" {
		if parsed, parseErr := time.Parse(time.RFC3339, settings.Timestamp.LastRun); parseErr == nil {
			lastRun = parsed
		}
	}

	client := github.NewClient(settings.GitHub.APIURL, token, github.WithLogger(s.logger))
	r := &reconcile.SCMReconciler{
		Client:        client,
		Repos:         settings.Repositories.GitHub,
		Labels:        settings.GitHub.Labels,
		ExcludeLabels: settings.GitHub.ExcludeLabels,
		LastRun:       lastRun,
		Window:        window,
		Now:           now,
		Progress:      progress(service),
		Pipeline:      pipeline,
		Logger:        s.logger,
	}
	return sourceRun{service, section, r.Run}
}

// trackerClient builds the work-item tracker client, reading credentials
// lazily from the secret store
func (s *Scheduler) trackerClient(ctx context.Context, settings *models.Settings) *devops.Client {
	username, err := s.secrets.Get(ctx, models.SecretTrackerUsername)
	if err != nil {
		username = "" // the tracker accepts an empty username with a PAT
	}
	pat, err := s.secrets.Get(ctx, models.SecretTrackerPAT)
	if err != nil {
		pat = ""
	}

	return devops.NewClient(
		s.config.Upstreams.DevOpsURL,
		settings.AzureDevOps.Org,
		settings.AzureDevOps.Project,
		settings.AzureDevOps.APIVersion,
		username,
		pat,
		devops.WithLogger(s.logger),
	)
}

// finishCancelled records the cancelled terminal state. The status may have
// been set already by Cancel; the record is persisted either way.
func (s *Scheduler) finishCancelled(handle *jobHandle) {
	handle.transition(models.JobStatusCancelled, s.now())
	s.persist(handle)
	s.logger.Info().Str("job_id", handle.job.ID).Msg("Job terminated after cancellation")
}

// finishCompleted stamps the snapshot end, rotates the run timestamps, and
// records the completed terminal state with the result attached
func (s *Scheduler) finishCompleted(ctx context.Context, handle *jobHandle, rotateTimestamps bool) {
	end := s.now()

	if err := s.snapshots.SetEndTime(ctx, end); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to stamp snapshot end time")
	}

	if rotateTimestamps {
		if settings, err := s.settings.Get(ctx); err == nil {
			settings.Timestamp.PreviousRun = settings.Timestamp.LastRun
			settings.Timestamp.LastRun = end.UTC().Format(time.RFC3339)
			if saveErr := s.settings.Save(ctx, settings); saveErr != nil {
				s.logger.Warn().Err(saveErr).Msg("Failed to rotate run timestamps")
			}
		}
	}

	var result map[string]models.SourceSection
	if snapshot, err := s.snapshots.Get(ctx); err == nil {
		result = snapshot.Sections()
	}

	handle.mu.Lock()
	if handle.job.Status == models.JobStatusRunning {
		handle.job.Status = models.JobStatusCompleted
		handle.job.EndEpochMS = end.UnixMilli()
		handle.job.Result = result
	}
	terminal := handle.job.Status
	handle.mu.Unlock()

	s.persist(handle)

	if terminal == models.JobStatusCompleted {
		s.telemetry.TrackEvent("job_completed", map[string]string{"job_id": handle.job.ID})
		s.logger.Info().Str("job_id", handle.job.ID).Msg("Job completed")
	}
}

// fail records an error terminal state for setup failures inside the job
func (s *Scheduler) fail(handle *jobHandle, message string) {
	now := s.now()
	handle.mu.Lock()
	if handle.job.Status == models.JobStatusRunning {
		handle.job.Status = models.JobStatusError
		handle.job.Error = message
		handle.job.EndEpochMS = now.UnixMilli()
	}
	handle.mu.Unlock()
	s.persist(handle)
	s.logger.Error().Str("job_id", handle.job.ID).Str("error", message).Msg("Job failed")
}
