package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/stevkan/support-tracker/internal/interfaces"
	"github.com/stevkan/support-tracker/internal/models"
)

// settingsKey is the fixed id of the single settings record
const settingsKey = "settings"

// settingsRecord is the stored form of the settings document
type settingsRecord struct {
	ID        string `badgerhold:"key"`
	Settings  models.Settings
	UpdatedAt time.Time
}

// SettingsStorage implements interfaces.SettingsStorage over Badger
type SettingsStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewSettingsStorage creates a new SettingsStorage instance
func NewSettingsStorage(db *DB, logger arbor.ILogger) interfaces.SettingsStorage {
	return &SettingsStorage{db: db, logger: logger}
}

// Get returns the current settings, seeding defaults on first access
func (s *SettingsStorage) Get(ctx context.Context) (*models.Settings, error) {
	var record settingsRecord
	err := s.db.Store().Get(settingsKey, &record)
	if err == badgerhold.ErrNotFound {
		defaults := models.DefaultSettings()
		if saveErr := s.Save(ctx, defaults); saveErr != nil {
			return nil, saveErr
		}
		return defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	settings := record.Settings
	return &settings, nil
}

// Save replaces the settings document
func (s *SettingsStorage) Save(ctx context.Context, settings *models.Settings) error {
	record := settingsRecord{
		ID:        settingsKey,
		Settings:  *settings,
		UpdatedAt: time.Now(),
	}
	if err := s.db.Store().Upsert(settingsKey, &record); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Patch applies a partial update with JSON merge semantics and returns the
// updated document
func (s *SettingsStorage) Patch(ctx context.Context, partial map[string]interface{}) (*models.Settings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	currentJSON, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}

	var base map[string]interface{}
	if err := json.Unmarshal(currentJSON, &base); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	merged := mergeMaps(base, partial)

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged settings: %w", err)
	}

	var updated models.Settings
	if err := json.Unmarshal(mergedJSON, &updated); err != nil {
		return nil, fmt.Errorf("invalid settings patch: %w", err)
	}

	if err := s.Save(ctx, &updated); err != nil {
		return nil, err
	}

	s.logger.Debug().Int("patched_keys", len(partial)).Msg("Settings updated")
	return &updated, nil
}

// mergeMaps deep-merges patch into base. Nested objects merge recursively;
// everything else (including arrays) replaces.
func mergeMaps(base, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if patchMap, ok := v.(map[string]interface{}); ok {
			if baseMap, ok := out[k].(map[string]interface{}); ok {
				out[k] = mergeMaps(baseMap, patchMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}
