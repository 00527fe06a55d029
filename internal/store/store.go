// Package store provides storage backends for RepLog.
//
// It includes an in-memory store for tests and DSN-less runs, and SQLite and
// PostgreSQL stores for users, inbound messages, workouts and sets.
package store

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/RepLog/internal/models"
)

// Store is the persistence collaborator of the engine. Reads that find nothing
// return a nil value and a nil error; all other failures wrap
// models.ErrPersistence.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	// CreateUser inserts a user for phone, or returns the existing one.
	CreateUser(ctx context.Context, phone, name string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	// UpdateUserProfile applies the non-nil fields of update. It returns
	// models.ErrUserNotFound when the user does not exist.
	UpdateUserProfile(ctx context.Context, userID string, update models.ProfileUpdate) error

	// SaveWorkout inserts a workout and its ordered sets as one unit.
	SaveWorkout(ctx context.Context, userID, date, notes string, exercises []models.Exercise) (*models.Workout, []models.Set, error)
	GetLastWorkout(ctx context.Context, userID string) (*models.Workout, error)
	GetRecentWorkouts(ctx context.Context, userID string, limit int) ([]models.Workout, error)
	GetSetsByWorkout(ctx context.Context, workoutID string) ([]models.Set, error)
	// GetRecentSetsByExercise returns the user's most recent sets for a
	// normalized exercise name, newest first, skipping the sets of
	// excludeWorkoutID (empty excludes nothing).
	GetRecentSetsByExercise(ctx context.Context, userID, exercise, excludeWorkoutID string, limit int) ([]models.Set, error)

	// RecordMessage logs an inbound message. It returns false when a message
	// with the same MessageSID was already recorded.
	RecordMessage(ctx context.Context, msg models.Message) (bool, error)
	GetRecentMessages(ctx context.Context, userID string, limit int) ([]models.Message, error)

	Close() error
}

// Opts holds configuration for store implementations.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open returns the store selected by dsn: in-memory when empty, otherwise the
// backend DetectDSNType picks.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Warn("store.Open: no DSN provided, using in-memory store; data will not survive restarts")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}
