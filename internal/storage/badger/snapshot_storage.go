package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/stevkan/support-tracker/internal/interfaces"
	"github.com/stevkan/support-tracker/internal/models"
)

// snapshotKey is the fixed id of the single run-snapshot record
const snapshotKey = "index"

// snapshotRecord is the stored form of the run snapshot
type snapshotRecord struct {
	ID        string `badgerhold:"key"`
	Snapshot  models.RunSnapshot
	UpdatedAt time.Time
}

// SnapshotStorage implements interfaces.SnapshotStorage over Badger. Every
// update is a read-modify-write of the whole document; the upsert replaces it
// atomically. Only the reconciler currently executing writes here, so no
// locking beyond the store's own transaction is needed.
type SnapshotStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewSnapshotStorage creates a new SnapshotStorage instance
func NewSnapshotStorage(db *DB, logger arbor.ILogger) interfaces.SnapshotStorage {
	return &SnapshotStorage{db: db, logger: logger}
}

// Reset overwrites the document with the canonical empty template
func (s *SnapshotStorage) Reset(ctx context.Context, start time.Time) error {
	return s.write(models.EmptySnapshot(start))
}

// Get returns the current snapshot, or the empty template when none exists
func (s *SnapshotStorage) Get(ctx context.Context) (*models.RunSnapshot, error) {
	var record snapshotRecord
	err := s.db.Store().Get(snapshotKey, &record)
	if err == badgerhold.ErrNotFound {
		return models.EmptySnapshot(time.Now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snapshot := record.Snapshot
	return &snapshot, nil
}

// SetFound updates one section's found list
func (s *SnapshotStorage) SetFound(ctx context.Context, sectionKey string, found models.IssueList) error {
	return s.updateSection(sectionKey, func(section *models.SourceSection) {
		section.Found = found
	})
}

// SetDevOps updates one section's mirror candidates
func (s *SnapshotStorage) SetDevOps(ctx context.Context, sectionKey string, candidates []models.MirrorCandidate) error {
	if candidates == nil {
		candidates = []models.MirrorCandidate{}
	}
	return s.updateSection(sectionKey, func(section *models.SourceSection) {
		section.DevOps = candidates
	})
}

// SetNewIssues updates one section's new-issue list
func (s *SnapshotStorage) SetNewIssues(ctx context.Context, sectionKey string, newIssues models.IssueList) error {
	return s.updateSection(sectionKey, func(section *models.SourceSection) {
		section.NewIssues = newIssues
	})
}

// SetSectionError marks a source as failed without hiding the others
func (s *SnapshotStorage) SetSectionError(ctx context.Context, sectionKey, message string) error {
	return s.updateSection(sectionKey, func(section *models.SourceSection) {
		section.Status = "error"
		section.Message = message
	})
}

// SetEndTime stamps the end of the run
func (s *SnapshotStorage) SetEndTime(ctx context.Context, end time.Time) error {
	snapshot, err := s.Get(ctx)
	if err != nil {
		return err
	}

	display := end.Local().Format(models.DisplayTimeFormat)
	utc := end.UTC()
	snapshot.EndTime = &display
	snapshot.EndedAt = &utc

	return s.write(snapshot)
}

// updateSection applies a point update to one section and replaces the document
func (s *SnapshotStorage) updateSection(sectionKey string, apply func(*models.SourceSection)) error {
	snapshot, err := s.Get(context.Background())
	if err != nil {
		return err
	}

	section := snapshot.Section(sectionKey)
	if section == nil {
		return fmt.Errorf("unknown snapshot section: %s", sectionKey)
	}
	apply(section)

	return s.write(snapshot)
}

func (s *SnapshotStorage) write(snapshot *models.RunSnapshot) error {
	record := snapshotRecord{
		ID:        snapshotKey,
		Snapshot:  *snapshot,
		UpdatedAt: time.Now(),
	}
	if err := s.db.Store().Upsert(snapshotKey, &record); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}
