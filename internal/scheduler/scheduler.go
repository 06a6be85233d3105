package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/stevkan/support-tracker/internal/common"
	"github.com/stevkan/support-tracker/internal/interfaces"
	"github.com/stevkan/support-tracker/internal/models"
)

// ErrJobNotRunning is returned when cancelling a job that already terminated
var ErrJobNotRunning = errors.New("job is not running")

// Registry eviction bounds. Terminal jobs older than evictAge are pruned once
// the registry exceeds evictThreshold entries.
const (
	evictThreshold = 100
	evictAge       = 24 * time.Hour
)

// StartRequest carries the optional overrides of a job-start payload.
// Nil fields fall back to the stored settings.
type StartRequest struct {
	EnabledServices *models.EnabledServices
	Params          *models.QueryParams
}

// jobHandle pairs a job's serializable state with its cancellation handle
type jobHandle struct {
	mu     sync.Mutex
	job    *models.Job
	cancel context.CancelFunc
}

// transition moves the job to a terminal status iff it is still running.
// Reports whether the transition happened; the cancel token is never
// signalled twice because context cancellation is idempotent.
func (h *jobHandle) transition(status models.JobStatus, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.job.Status != models.JobStatusRunning {
		return false
	}
	h.job.Status = status
	h.job.EndEpochMS = now.UnixMilli()
	return true
}

// Scheduler owns the process-wide job registry. Jobs run on their own
// goroutine; within a job, sources run strictly sequentially.
type Scheduler struct {
	config    *common.Config
	settings  interfaces.SettingsStorage
	secrets   interfaces.SecretStorage
	snapshots interfaces.SnapshotStorage
	jobStore  interfaces.JobStorage
	telemetry interfaces.Telemetry
	logger    arbor.ILogger

	mu   sync.Mutex
	jobs map[string]*jobHandle

	// now is a test seam for the clock
	now func() time.Time
}

// New creates a scheduler
func New(
	config *common.Config,
	settings interfaces.SettingsStorage,
	secrets interfaces.SecretStorage,
	snapshots interfaces.SnapshotStorage,
	jobStore interfaces.JobStorage,
	tel interfaces.Telemetry,
	logger arbor.ILogger,
) *Scheduler {
	return &Scheduler{
		config:    config,
		settings:  settings,
		secrets:   secrets,
		snapshots: snapshots,
		jobStore:  jobStore,
		telemetry: tel,
		logger:    logger,
		jobs:      make(map[string]*jobHandle),
		now:       time.Now,
	}
}

// LoadPersisted seeds the registry with terminal jobs from storage so past
// runs stay queryable across restarts
func (s *Scheduler) LoadPersisted(ctx context.Context) error {
	if s.jobStore == nil {
		return nil
	}
	jobs, err := s.jobStore.ListJobs(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		if _, exists := s.jobs[job.ID]; !exists {
			s.jobs[job.ID] = &jobHandle{job: job}
		}
	}
	return nil
}

// Start creates a job and launches its work asynchronously, returning the
// job id immediately
func (s *Scheduler) Start(ctx context.Context, req StartRequest) (string, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read settings: %w", err)
	}

	enabled := settings.EnabledServices
	if req.EnabledServices != nil {
		enabled = *req.EnabledServices
	}

	params := settings.QueryDefaults
	if params.NumberOfDaysToQuery == 0 {
		params.NumberOfDaysToQuery = 1
	}
	if req.Params != nil {
		params = *req.Params
	}

	now := s.now()
	job := &models.Job{
		ID:     common.NewJobID(),
		Status: models.JobStatusRunning,
		Progress: models.JobProgress{
			Total: uint32(enabled.Count()),
		},
		StartEpochMS: now.UnixMilli(),
	}

	runCtx, cancel := context.WithCancel(context.Background())
	handle := &jobHandle{job: job, cancel: cancel}

	s.mu.Lock()
	s.evictLocked(now)
	s.jobs[job.ID] = handle
	s.mu.Unlock()

	s.logger.Info().
		Str("job_id", job.ID).
		Int("enabled_sources", enabled.Count()).
		Bool("push", params.PushToTracker).
		Msg("Query job started")

	go s.run(runCtx, handle, settings, enabled, params)

	return job.ID, nil
}

// evictLocked prunes old terminal jobs once the registry is over its bound.
// Caller holds s.mu.
func (s *Scheduler) evictLocked(now time.Time) {
	if len(s.jobs) <= evictThreshold {
		return
	}
	for id, handle := range s.jobs {
		handle.mu.Lock()
		terminal := handle.job.Status.IsTerminal()
		endMS := handle.job.EndEpochMS
		handle.mu.Unlock()
		if terminal && endMS > 0 && now.Sub(time.UnixMilli(endMS)) > evictAge {
			delete(s.jobs, id)
		}
	}
}

// Get returns a deep copy of a job's observable state
func (s *Scheduler) Get(id string) (*models.Job, error) {
	s.mu.Lock()
	handle, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}

	handle.mu.Lock()
	defer handle.mu.Unlock()

	// Deep copy through JSON so callers never share state with the running
	// goroutine; everything in the job model is serializable.
	data, err := json.Marshal(handle.job)
	if err != nil {
		return nil, fmt.Errorf("failed to copy job: %w", err)
	}
	var copied models.Job
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to copy job: %w", err)
	}
	return &copied, nil
}

// Cancel signals a running job's cancel token. Terminal jobs return
// ErrJobNotRunning; unknown ids return ErrJobNotFound.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	handle, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return interfaces.ErrJobNotFound
	}

	if !handle.transition(models.JobStatusCancelled, s.now()) {
		return ErrJobNotRunning
	}
	if handle.cancel != nil {
		handle.cancel()
	}

	s.logger.Info().Str("job_id", id).Msg("Job cancelled")
	s.telemetry.TrackEvent("job_cancelled", map[string]string{"job_id": id})
	return nil
}

// List returns summaries of all known jobs, most recently started first
func (s *Scheduler) List() []models.JobSummary {
	now := s.now()

	s.mu.Lock()
	handles := make([]*jobHandle, 0, len(s.jobs))
	for _, h := range s.jobs {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	summaries := make([]models.JobSummary, 0, len(handles))
	for _, h := range handles {
		h.mu.Lock()
		summaries = append(summaries, models.JobSummary{
			ID:            h.job.ID,
			Status:        h.job.Status,
			Progress:      h.job.Progress,
			StartEpochMS:  h.job.StartEpochMS,
			ElapsedTimeMS: h.job.ElapsedMS(now),
			ErrorCount:    len(h.job.ServiceErrors),
		})
		h.mu.Unlock()
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartEpochMS > summaries[j].StartEpochMS
	})
	return summaries
}

// persist writes a terminal job record, best-effort
func (s *Scheduler) persist(handle *jobHandle) {
	if s.jobStore == nil {
		return
	}
	handle.mu.Lock()
	job := *handle.job
	handle.mu.Unlock()
	if err := s.jobStore.SaveJob(context.Background(), &job); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist job record")
	}
}
