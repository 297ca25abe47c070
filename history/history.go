// Package history records finished benchmark runs in a local sqlite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/mensylisir/xmbench/file"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	status        TEXT NOT NULL,
	message       TEXT NOT NULL DEFAULT '',
	exit_code     INTEGER,
	remote        INTEGER NOT NULL DEFAULT 0,
	host          TEXT NOT NULL DEFAULT '',
	log_path      TEXT NOT NULL DEFAULT '',
	stage_label   TEXT NOT NULL DEFAULT '',
	current_step  INTEGER NOT NULL DEFAULT 0,
	total_steps   INTEGER NOT NULL DEFAULT 0,
	started_at    TIMESTAMP NOT NULL,
	finished_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);
`

// Run is one finished benchmark run.
type Run struct {
	RunID       string    `json:"run_id"`
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Remote      bool      `json:"remote"`
	Host        string    `json:"host"`
	LogPath     string    `json:"log_path"`
	StageLabel  string    `json:"stage_label"`
	CurrentStep int       `json:"current_step"`
	TotalSteps  int       `json:"total_steps"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := file.CreateDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "execute schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts run, replacing an earlier row with the same id.
func (s *Store) Record(ctx context.Context, run Run) error {
	var exitCode sql.NullInt64
	if run.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*run.ExitCode), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
		 (run_id, session_id, status, message, exit_code, remote, host, log_path,
		  stage_label, current_step, total_steps, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.SessionID, run.Status, run.Message, exitCode, run.Remote, run.Host, run.LogPath,
		run.StageLabel, run.CurrentStep, run.TotalSteps, run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	return errors.Wrapf(err, "record run %s", run.RunID)
}

// List returns the newest runs first. limit <= 0 returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT run_id, session_id, status, message, exit_code, remote, host, log_path,
	          stage_label, current_step, total_steps, started_at, finished_at
	          FROM runs ORDER BY finished_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var exitCode sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.SessionID, &r.Status, &r.Message, &exitCode, &r.Remote, &r.Host, &r.LogPath,
			&r.StageLabel, &r.CurrentStep, &r.TotalSteps, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			r.ExitCode = &code
		}
		runs = append(runs, r)
	}
	return runs, errors.Wrap(rows.Err(), "list runs")
}
