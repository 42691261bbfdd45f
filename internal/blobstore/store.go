// Package blobstore persists uploaded images as immutable blobs.
package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/hairstyle-api/internal/blobid"
)

// Blobs are write-once: nothing in this package updates or deletes a row.
var (
	// ErrNotFound reports a well-formed identifier with no matching blob.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidID reports an identifier that cannot be parsed.
	ErrInvalidID = blobid.ErrInvalid
)

const cacheTTL = 10 * time.Minute

// StoredBlob represents a persisted image payload.
type StoredBlob struct {
	ID          string    `gorm:"column:id;primaryKey;size:24" json:"id"`
	Payload     []byte    `gorm:"column:payload;type:bytea" json:"payload"`
	Filename    string    `gorm:"column:filename;size:255" json:"filename"`
	ContentType string    `gorm:"column:content_type;size:100" json:"content_type"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (StoredBlob) TableName() string {
	return "blobs"
}

// Store provides put/get access to blobs backed by Postgres, with an
// optional read-through cache. Caching immutable rows cannot go stale.
type Store struct {
	db     *gorm.DB
	cache  Cache
	logger *zap.Logger
}

// New creates a blob store. cache may be nil to disable caching.
func New(db *gorm.DB, cache Cache, logger *zap.Logger) *Store {
	return &Store{db: db, cache: cache, logger: logger.Named("blobstore")}
}

// AutoMigrate ensures the blobs table exists.
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&StoredBlob{})
}

// Put stores payload verbatim under a freshly generated identifier and
// returns that identifier. Payloads are never deduplicated or inspected.
func (s *Store) Put(ctx context.Context, payload []byte, filename, contentType, description string) (string, error) {
	blob := &StoredBlob{
		ID:          blobid.New().String(),
		Payload:     payload,
		Filename:    filename,
		ContentType: contentType,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(blob).Error; err != nil {
		s.logger.Error("failed to persist blob", zap.Error(err), zap.String("blob_id", blob.ID))
		return "", err
	}
	return blob.ID, nil
}

// Get returns the blob stored under id. Malformed identifiers fail with
// ErrInvalidID before any I/O; well-formed but absent identifiers fail
// with ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*StoredBlob, error) {
	if _, err := blobid.Parse(id); err != nil {
		return nil, err
	}

	if blob, ok := s.cacheGet(ctx, id); ok {
		return blob, nil
	}

	var blob StoredBlob
	if err := s.db.WithContext(ctx).First(&blob, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		s.logger.Error("failed to load blob", zap.Error(err), zap.String("blob_id", id))
		return nil, err
	}

	s.cacheSet(ctx, &blob)
	return &blob, nil
}

func (s *Store) cacheGet(ctx context.Context, id string) (*StoredBlob, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, cacheKey(id))
	if err != nil {
		if !IsCacheMiss(err) {
			s.logger.Warn("blob cache read failed", zap.Error(err), zap.String("blob_id", id))
		}
		return nil, false
	}
	var blob StoredBlob
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		s.logger.Warn("failed to decode cached blob", zap.Error(err), zap.String("blob_id", id))
		return nil, false
	}
	return &blob, true
}

func (s *Store) cacheSet(ctx context.Context, blob *StoredBlob) {
	if s.cache == nil {
		return
	}
	serialized, err := json.Marshal(blob)
	if err != nil {
		s.logger.Warn("failed to encode blob for cache", zap.Error(err), zap.String("blob_id", blob.ID))
		return
	}
	if err := s.cache.Set(ctx, cacheKey(blob.ID), string(serialized), cacheTTL); err != nil {
		s.logger.Warn("blob cache write failed", zap.Error(err), zap.String("blob_id", blob.ID))
	}
}

func cacheKey(id string) string {
	return "blob:" + id
}
