package db

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const (
	KeyTypeTest = "test"
	KeyTypeProd = "prod"

	KeyStatusActive  = "active"
	KeyStatusRevoked = "revoked"
)

// APIKey represents a credential for ingesting events into one project.
// Only the sha256 of the secret is stored; the secret itself is handed out
// once when the key is minted.
type APIKey struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// ProjectID links this key to the project it writes into.
	ProjectID string `gorm:"size:64;not null;index"`

	// Name is a user-friendly identifier for this key (e.g. "payments-api").
	Name string `gorm:"size:128;not null"`

	// Type is test or prod. Test keys carry an ExpiresAt.
	Type string `gorm:"size:8;not null"`

	TokenHash   string `gorm:"uniqueIndex;size:64;not null"`
	TokenPrefix string `gorm:"size:16;not null"`

	ExpiresAt *time.Time

	// Status is active or revoked. Keys are never deleted.
	Status     string `gorm:"size:16;not null;default:active"`
	RevokedAt  *time.Time
	ReplacedBy string `gorm:"size:36"`
}

func (k *APIKey) Active() bool {
	return k.Status == KeyStatusActive
}

// Expired reports whether the key is past its expiry at now. Keys without
// an expiry never expire.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// FindAPIKeyByHash looks a key up by the sha256 of its secret regardless of
// status, so callers can tell revoked and expired keys apart.
func (s *Store) FindAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var key APIKey
	if err := s.db.WithContext(ctx).Where("token_hash = ?", hash).First(&key).Error; err != nil {
		return nil, s.wrap("find api key", err)
	}
	return &key, nil
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (*APIKey, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var key APIKey
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&key).Error; err != nil {
		return nil, s.wrap("get api key", err)
	}
	return &key, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, key *APIKey) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return s.wrap("create api key", s.db.WithContext(ctx).Create(key).Error)
}

// RotateAPIKey revokes oldID and inserts next in one transaction. It fails
// with ErrNotFound when oldID is unknown or already revoked.
func (s *Store) RotateAPIKey(ctx context.Context, oldID string, next *APIKey, at time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&APIKey{}).
			Where("id = ? AND status = ?", oldID, KeyStatusActive).
			Updates(map[string]any{"status": KeyStatusRevoked, "revoked_at": at, "replaced_by": next.ID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Create(next).Error
	})
	return s.wrap("rotate api key", err)
}

// RevokeAPIKey soft-deletes a key. Revoking an already revoked key is a no-op.
func (s *Store) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res := s.db.WithContext(ctx).Model(&APIKey{}).
		Where("id = ? AND status = ?", id, KeyStatusActive).
		Updates(map[string]any{"status": KeyStatusRevoked, "revoked_at": at})
	if res.Error != nil {
		return s.wrap("revoke api key", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetAPIKey(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
