package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"loginsight/internal/apperr"
	"loginsight/internal/config"
)

// ErrNotFound is returned when a requested row does not exist. Callers map
// it onto the error kind that fits their operation.
var ErrNotFound = errors.New("record not found")

// Models lists every table the service migrates.
var Models = []any{
	&Event{}, &BucketCounter{}, &Alert{}, &AlertGuard{},
	&Project{}, &APIKey{}, &User{}, &ProjectMember{}, &Session{},
}

// Connect opens a GORM database connection using APP_DATABASE_URL (PostgreSQL URL).
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil, errors.New("APP_DATABASE_URL must be a postgres:// or postgresql:// URL")
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(Models...); err != nil {
		return nil, err
	}

	return db, nil
}

// Store is the gorm-backed implementation of the storage contract: keyed
// reads, immutable inserts, atomic counter increments and conditional
// alert creation. Every call is bounded by the configured timeout.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewStore(db *gorm.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// wrap translates gorm errors: missing rows become ErrNotFound, anything
// else is an infrastructure failure the caller may retry.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return apperr.Infrastructure(op, err)
}

// HashToken returns the lookup hash stored for API keys and sessions.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// EnsureBootstrapProject makes sure the bootstrap project from config exists
// together with a member user whose dashboard session is the configured
// bootstrap token. Existing rows are left as-is.
func EnsureBootstrapProject(ctx context.Context, s *Store, cfg *config.Config, log *zap.Logger) error {
	if cfg.BootstrapProject == "" {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project := Project{ID: cfg.BootstrapProject, Name: cfg.BootstrapProject}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&project).Error; err != nil {
			return err
		}

		user := User{ID: "bootstrap-" + cfg.BootstrapProject, Username: "admin"}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
			return err
		}
		member := ProjectMember{ProjectID: project.ID, UserID: user.ID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error; err != nil {
			return err
		}

		if cfg.BootstrapSessionToken != "" {
			sess := Session{TokenHash: HashToken(cfg.BootstrapSessionToken), UserID: user.ID}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&sess).Error; err != nil {
				return err
			}
		}

		if cfg.InternalAPIKey != "" {
			key := APIKey{
				ID:          "internal-" + project.ID,
				ProjectID:   project.ID,
				Name:        "loginsight",
				Type:        KeyTypeProd,
				TokenHash:   HashToken(cfg.InternalAPIKey),
				TokenPrefix: DisplayPrefix(cfg.InternalAPIKey),
				Status:      KeyStatusActive,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&key).Error; err != nil {
				return err
			}
			log.Info("internal API key configured for bootstrap project", zap.String("project", project.ID))
		}
		return nil
	})
}

// DisplayPrefix returns the leading characters of a secret kept for display.
func DisplayPrefix(token string) string {
	if len(token) > 12 {
		return token[:12]
	}
	return token
}
