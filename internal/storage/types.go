package storage

import (
	"context"
	"errors"
	"time"

	"quotecast/internal/schedule"
)

// ErrPersistence matches every error returned by a Store when the backing
// database is unreachable or rejects a statement.
var ErrPersistence = errors.New("persistence error")

// PersistenceError wraps a driver error with the failing operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (pure Go driver)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the persistence API used by the schedule manager and the router.
type Store interface {
	CreateTable(ctx context.Context) error
	Save(ctx context.Context, target string, at schedule.TimeOfDay) (schedule.Schedule, error)
	LoadActive(ctx context.Context) ([]schedule.Schedule, error)
	Deactivate(ctx context.Context, id int64) (bool, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// AuditEntry records an operator command.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time
	ActorID string
	ChatID  string
	Command string
	Args    string
	OK      bool
	Error   string
	TookMS  int64
}
