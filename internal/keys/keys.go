// Package keys classifies, validates and rotates project API keys.
package keys

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loginsight/internal/apperr"
	"loginsight/internal/db"
)

// TestKeyLifetime is how long a test key stays valid after it is minted.
const TestKeyLifetime = 2 * time.Hour

var prefixes = map[string]string{
	db.KeyTypeTest + "_": db.KeyTypeTest,
	db.KeyTypeProd + "_": db.KeyTypeProd,
}

// Identity is what a valid key resolves to.
type Identity struct {
	KeyID     string
	KeyType   string
	ProjectID string
}

// Repository is the slice of the store the key service needs.
type Repository interface {
	FindAPIKeyByHash(ctx context.Context, hash string) (*db.APIKey, error)
	GetAPIKey(ctx context.Context, id string) (*db.APIKey, error)
	CreateAPIKey(ctx context.Context, key *db.APIKey) error
	RotateAPIKey(ctx context.Context, oldID string, next *db.APIKey, at time.Time) error
	RevokeAPIKey(ctx context.Context, id string, at time.Time) error
}

// Classify returns the key type encoded in token's prefix. Tokens without
// a recognized prefix or with an empty secret part are malformed.
func Classify(token string) (string, error) {
	for prefix, keyType := range prefixes {
		if strings.HasPrefix(token, prefix) {
			if len(token) == len(prefix) {
				break
			}
			return keyType, nil
		}
	}
	return "", apperr.MalformedCredential("invalid API key format")
}

type Service struct {
	repo Repository
	now  func() time.Time
	log  *zap.Logger
}

func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, now: time.Now, log: log}
}

// WithClock replaces the clock used for expiry checks and new keys.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Validate authorizes token. Format problems are reported before any
// store access; lookups distinguish unknown, revoked and expired keys.
func (s *Service) Validate(ctx context.Context, token string) (*Identity, error) {
	keyType, err := Classify(token)
	if err != nil {
		return nil, err
	}

	key, err := s.repo.FindAPIKeyByHash(ctx, db.HashToken(token))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.Unauthorized(apperr.ReasonKeyNotFound, "API key not found")
		}
		return nil, err
	}

	// The stored type wins over the prefix; they only disagree for keys
	// imported with a mismatched secret.
	if key.Type != keyType {
		return nil, apperr.Unauthorized(apperr.ReasonKeyNotFound, "API key not found")
	}
	if !key.Active() {
		return nil, apperr.Unauthorized(apperr.ReasonKeyInactive, "API key has been revoked")
	}
	if key.Type == db.KeyTypeTest && key.Expired(s.now()) {
		return nil, apperr.Unauthorized(apperr.ReasonKeyExpired, "test API key has expired")
	}

	return &Identity{KeyID: key.ID, KeyType: key.Type, ProjectID: key.ProjectID}, nil
}

// Issued is a freshly minted key. Secret is only ever available here.
type Issued struct {
	Key    *db.APIKey
	Secret string
}

func generateSecret(keyType string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return keyType + "_" + base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *Service) mint(projectID, name, keyType string) (*Issued, error) {
	if keyType != db.KeyTypeTest && keyType != db.KeyTypeProd {
		return nil, apperr.Validation(fmt.Sprintf("key type must be %s or %s", db.KeyTypeTest, db.KeyTypeProd))
	}
	secret, err := generateSecret(keyType)
	if err != nil {
		return nil, fmt.Errorf("generate API key: %w", err)
	}

	now := s.now().UTC()
	key := &db.APIKey{
		ID:          uuid.NewString(),
		CreatedAt:   now,
		ProjectID:   projectID,
		Name:        name,
		Type:        keyType,
		TokenHash:   db.HashToken(secret),
		TokenPrefix: db.DisplayPrefix(secret),
		Status:      db.KeyStatusActive,
	}
	if keyType == db.KeyTypeTest {
		exp := now.Add(TestKeyLifetime)
		key.ExpiresAt = &exp
	}
	return &Issued{Key: key, Secret: secret}, nil
}

// Issue mints a new key for a project.
func (s *Service) Issue(ctx context.Context, projectID, name, keyType string) (*Issued, error) {
	if projectID == "" || name == "" {
		return nil, apperr.Validation("project and name are required")
	}
	issued, err := s.mint(projectID, name, keyType)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateAPIKey(ctx, issued.Key); err != nil {
		return nil, err
	}
	s.log.Info("api key issued",
		zap.String("project", projectID),
		zap.String("key_id", issued.Key.ID),
		zap.String("type", keyType))
	return issued, nil
}

// Regenerate revokes keyID and mints a replacement with the same type,
// name and project. Test keys get a fresh two-hour lifetime.
func (s *Service) Regenerate(ctx context.Context, keyID string) (*Issued, error) {
	old, err := s.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if !old.Active() {
		return nil, apperr.NotFound("API key is not active")
	}

	issued, err := s.mint(old.ProjectID, old.Name, old.Type)
	if err != nil {
		return nil, err
	}
	if err := s.repo.RotateAPIKey(ctx, old.ID, issued.Key, s.now().UTC()); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("API key is not active")
		}
		return nil, err
	}
	s.log.Info("api key regenerated",
		zap.String("project", old.ProjectID),
		zap.String("old_key_id", old.ID),
		zap.String("key_id", issued.Key.ID))
	return issued, nil
}

// Revoke deactivates keyID. The row is kept so events keep resolving
// to the key that produced them.
func (s *Service) Revoke(ctx context.Context, keyID string) error {
	if err := s.repo.RevokeAPIKey(ctx, keyID, s.now().UTC()); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return apperr.NotFound("API key not found")
		}
		return err
	}
	s.log.Info("api key revoked", zap.String("key_id", keyID))
	return nil
}

func (s *Service) Get(ctx context.Context, keyID string) (*db.APIKey, error) {
	key, err := s.repo.GetAPIKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("API key not found")
		}
		return nil, err
	}
	return key, nil
}
