package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"quotecast/internal/schedule"
	logx "quotecast/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapErr("open", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	return &sqliteStore{db: db, log: log}, nil
}

// CreateTable applies the embedded schema. Every statement is "IF NOT EXISTS",
// so it is safe to run on each startup.
func (s *sqliteStore) CreateTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migrationsSQL); err != nil {
		return wrapErr("create tables", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Save(ctx context.Context, target string, at schedule.TimeOfDay) (schedule.Schedule, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(target, hour, minute, status, created_at) VALUES(?,?,?,?,?)`,
		target, at.Hour, at.Minute, string(schedule.StatusActive), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return schedule.Schedule{}, wrapErr("insert schedule", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return schedule.Schedule{}, wrapErr("insert schedule", err)
	}
	s.log.Debug("schedule saved", logx.Int64("id", id), logx.String("target", target), logx.String("at", at.String()))
	return schedule.Schedule{
		ID:        id,
		Target:    target,
		At:        at,
		Status:    schedule.StatusActive,
		CreatedAt: now,
	}, nil
}

func (s *sqliteStore) LoadActive(ctx context.Context) ([]schedule.Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target, hour, minute, status, created_at FROM schedules WHERE status = ? ORDER BY id ASC`,
		string(schedule.StatusActive),
	)
	if err != nil {
		return nil, wrapErr("load active schedules", err)
	}
	defer rows.Close()

	var out []schedule.Schedule
	for rows.Next() {
		var (
			sc      schedule.Schedule
			status  string
			created string
		)
		if err := rows.Scan(&sc.ID, &sc.Target, &sc.At.Hour, &sc.At.Minute, &status, &created); err != nil {
			return nil, wrapErr("scan schedule", err)
		}
		sc.Status = schedule.Status(status)
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			sc.CreatedAt = ts
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("load active schedules", err)
	}
	return out, nil
}

// Deactivate flips an active schedule to inactive. Rows are never deleted.
// It reports false when no active schedule has that id.
func (s *sqliteStore) Deactivate(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET status = ? WHERE id = ? AND status = ?`,
		string(schedule.StatusInactive), id, string(schedule.StatusActive),
	)
	if err != nil {
		return false, wrapErr("deactivate schedule", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("deactivate schedule", err)
	}
	return n > 0, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, chat_id, command, args, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, e.ChatID, e.Command, nullStr(e.Args),
		e.OK, nullStr(e.Error), e.TookMS,
	)
	return wrapErr("append audit", err)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
