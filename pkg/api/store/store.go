package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ethpandaops/reviewoor/pkg/config"
)

// Errors returned by Store.
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateRun = errors.New("an active run already exists for this commit pair")
	ErrRunNotActive = errors.New("run is not active")
)

// Store provides persistence for API resources.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Users and sessions.
	GetUserByID(ctx context.Context, id uint) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
	UpdateSessionLastActive(ctx context.Context, id uint, t time.Time) error
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) error
	SeedUsers(ctx context.Context, users []config.AuthUser) error

	// Repositories.
	GetOrCreateRepository(ctx context.Context, repo *Repository) (*Repository, error)

	// Runs.
	CreateRun(ctx context.Context, run *Run) error
	FindLatestRun(
		ctx context.Context, repositoryID uint, baseSHA, headSHA string,
	) (*Run, error)
	GetRun(ctx context.Context, id uint) (*Run, error)
	GetRunForUser(ctx context.Context, id, userID uint) (*Run, error)
	CompleteRun(ctx context.Context, id uint, outcome *RunOutcome) error
	FailRun(ctx context.Context, id uint, summary string) error
	FailStaleRuns(
		ctx context.Context, createdBefore time.Time, summary string,
	) ([]uint, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Results.
	ListIssues(ctx context.Context, runID uint, filter IssueFilter) ([]Issue, error)
	GetRunMetrics(ctx context.Context, runID uint) (*RunMetrics, error)
	RunStats(ctx context.Context, since time.Time) (*RunStats, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		// SQLite allows a single writer; an in-memory database also only
		// exists on the connection that created it.
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)

		if err := s.db.WithContext(ctx).
			Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&User{},
		&Session{},
		&Repository{},
		&Run{},
		&Issue{},
		&RunMetrics{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// notFound maps gorm's record-not-found onto ErrNotFound.
func notFound(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return fmt.Errorf("%s: %w", op, err)
}
