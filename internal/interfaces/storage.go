package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/stevkan/support-tracker/internal/models"
)

// ErrSecretNotFound is returned when a secret key has no stored value
var ErrSecretNotFound = errors.New("secret not found")

// ErrJobNotFound is returned when a job id is unknown
var ErrJobNotFound = errors.New("job not found")

// SettingsStorage persists the runtime settings document
type SettingsStorage interface {
	// Get returns the current settings, seeding defaults on first access
	Get(ctx context.Context) (*models.Settings, error)

	// Save replaces the settings document
	Save(ctx context.Context, settings *models.Settings) error

	// Patch applies a partial update (JSON merge semantics) and returns the
	// updated document
	Patch(ctx context.Context, partial map[string]interface{}) (*models.Settings, error)
}

// SecretStorage is the typed secret store. The only implementation in this
// repository, which the app wires, keeps secrets in the local database so the
// service runs self-contained; no OS-keychain implementation is included.
type SecretStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
}

// SnapshotStorage persists the per-run snapshot document. Writes are
// point-path updates against the single `index` record; each update is a
// read-modify-write with an atomic document replace.
type SnapshotStorage interface {
	// Reset overwrites the document with the canonical empty template
	Reset(ctx context.Context, start time.Time) error

	Get(ctx context.Context) (*models.RunSnapshot, error)

	SetFound(ctx context.Context, sectionKey string, found models.IssueList) error
	SetDevOps(ctx context.Context, sectionKey string, candidates []models.MirrorCandidate) error
	SetNewIssues(ctx context.Context, sectionKey string, newIssues models.IssueList) error

	// SetSectionError marks a source as failed without hiding the others
	SetSectionError(ctx context.Context, sectionKey, message string) error

	SetEndTime(ctx context.Context, end time.Time) error
}

// JobStorage persists terminal job records so a restarted process can still
// answer queries about past runs
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context) ([]*models.Job, error)
}
