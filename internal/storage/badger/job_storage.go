package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/stevkan/support-tracker/internal/interfaces"
	"github.com/stevkan/support-tracker/internal/models"
)

// jobRecord is the stored form of a terminal job
type jobRecord struct {
	ID        string `badgerhold:"key"`
	Job       models.Job
	UpdatedAt time.Time
}

// JobStorage implements interfaces.JobStorage over Badger. Only terminal jobs
// are written; a restarted process answers queries about past runs from here.
type JobStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *DB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{db: db, logger: logger}
}

// SaveJob upserts a job record
func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	record := jobRecord{
		ID:        job.ID,
		Job:       *job,
		UpdatedAt: time.Now(),
	}
	if err := s.db.Store().Upsert(job.ID, &record); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetJob returns a job by id
func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var record jobRecord
	err := s.db.Store().Get(id, &record)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job := record.Job
	return &job, nil
}

// ListJobs returns all persisted jobs, most recently started first
func (s *JobStorage) ListJobs(ctx context.Context) ([]*models.Job, error) {
	var records []jobRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(records))
	for i := range records {
		job := records[i].Job
		jobs = append(jobs, &job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartEpochMS > jobs[j].StartEpochMS
	})
	return jobs, nil
}
