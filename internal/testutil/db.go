package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"loginsight/internal/db"
)

// NewTestDB creates an in-memory SQLite database for testing purposes.
// It auto-migrates every service model and ensures the underlying
// connection is closed when the test finishes.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(db.Models...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB from gorm: %v", err)
	}

	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return gdb
}

// NewTestStore wraps NewTestDB in a db.Store.
func NewTestStore(t *testing.T) *db.Store {
	t.Helper()
	return db.NewStore(NewTestDB(t), 5*time.Second)
}

// SeedProject inserts a project and returns it.
func SeedProject(t *testing.T, s *db.Store, p db.Project) *db.Project {
	t.Helper()
	if p.Name == "" {
		p.Name = p.ID
	}
	if err := s.DB().Create(&p).Error; err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	return &p
}

// SeedMember inserts a user with a session token and makes it a member
// of projectID when projectID is not empty.
func SeedMember(t *testing.T, s *db.Store, userID, sessionToken, projectID string) {
	t.Helper()
	gdb := s.DB()
	if err := gdb.Create(&db.User{ID: userID, Username: userID}).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	if err := gdb.Create(&db.Session{TokenHash: db.HashToken(sessionToken), UserID: userID}).Error; err != nil {
		t.Fatalf("failed to seed session: %v", err)
	}
	if projectID != "" {
		if err := gdb.Create(&db.ProjectMember{ProjectID: projectID, UserID: userID}).Error; err != nil {
			t.Fatalf("failed to seed membership: %v", err)
		}
	}
}
