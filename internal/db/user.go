package db

import (
	"context"
	"time"
)

// User is a dashboard user. Users, memberships and sessions are managed by
// the account collaborator; the core only resolves them.
type User struct {
	ID string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Username string `gorm:"uniqueIndex;size:64;not null"`
}

// ProjectMember grants a user access to a project's events and alerts.
type ProjectMember struct {
	ProjectID string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"primaryKey;size:36"`

	CreatedAt time.Time
}

// Session maps the sha256 of a dashboard bearer token to its user.
type Session struct {
	TokenHash string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"size:36;not null;index"`

	ExpiresAt *time.Time
	CreatedAt time.Time
}

func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var p Project
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, s.wrap("get project", err)
	}
	return &p, nil
}

// UserForSession resolves a session token hash to its user. Unknown and
// expired sessions both return ErrNotFound.
func (s *Store) UserForSession(ctx context.Context, tokenHash string, now time.Time) (*User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var sess Session
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND (expires_at IS NULL OR expires_at > ?)", tokenHash, now.UTC()).
		First(&sess).Error
	if err != nil {
		return nil, s.wrap("find session", err)
	}

	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", sess.UserID).First(&user).Error; err != nil {
		return nil, s.wrap("get user", err)
	}
	return &user, nil
}

func (s *Store) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var count int64
	err := s.db.WithContext(ctx).Model(&ProjectMember{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error
	if err != nil {
		return false, s.wrap("check membership", err)
	}
	return count > 0, nil
}
