package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/stevkan/support-tracker/internal/interfaces"
)

// secretRecord is the stored form of one secret
type secretRecord struct {
	Key       string `badgerhold:"key"`
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SecretStorage implements interfaces.SecretStorage over Badger. A
// keychain-backed implementation can replace it behind the same interface;
// none is included here.
type SecretStorage struct {
	db     *DB
	logger arbor.ILogger
}

// NewSecretStorage creates a new SecretStorage instance
func NewSecretStorage(db *DB, logger arbor.ILogger) interfaces.SecretStorage {
	return &SecretStorage{db: db, logger: logger}
}

// normalizeKey converts a key to lowercase for case-insensitive storage
func (s *SecretStorage) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Get retrieves a secret value by key
func (s *SecretStorage) Get(ctx context.Context, key string) (string, error) {
	var record secretRecord
	err := s.db.Store().Get(s.normalizeKey(key), &record)
	if err == badgerhold.ErrNotFound {
		return "", interfaces.ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get secret: %w", err)
	}
	return record.Value, nil
}

// Set inserts or updates a secret
func (s *SecretStorage) Set(ctx context.Context, key, value string) error {
	normalized := s.normalizeKey(key)
	now := time.Now()

	record := secretRecord{
		Key:       normalized,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var existing secretRecord
	if err := s.db.Store().Get(normalized, &existing); err == nil {
		record.CreatedAt = existing.CreatedAt
	}

	if err := s.db.Store().Upsert(normalized, &record); err != nil {
		return fmt.Errorf("failed to set secret: %w", err)
	}

	s.logger.Debug().Str("key", normalized).Msg("Secret stored")
	return nil
}

// Delete removes a secret
func (s *SecretStorage) Delete(ctx context.Context, key string) error {
	err := s.db.Store().Delete(s.normalizeKey(key), &secretRecord{})
	if err == badgerhold.ErrNotFound {
		return interfaces.ErrSecretNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return nil
}

// Has reports whether a secret has a stored value
func (s *SecretStorage) Has(ctx context.Context, key string) (bool, error) {
	var record secretRecord
	err := s.db.Store().Get(s.normalizeKey(key), &record)
	if err == badgerhold.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check secret: %w", err)
	}
	return record.Value != "", nil
}
