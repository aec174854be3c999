// Package store handles SQLite persistence.
package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/marceloligiero/tradehub/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store wraps SQLite access for the local session and history.
type Store struct {
	db *sql.DB
}

// Credential is the persisted login of the current user.
type Credential struct {
	Token      string
	User       model.User
	LoggedInAt time.Time
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS credential (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			token TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			email TEXT NOT NULL,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			logged_in_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS recent_submissions (
			submission_id INTEGER PRIMARY KEY,
			challenge_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			touched_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_recent_submissions_touched_at ON recent_submissions(touched_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveCredential replaces the stored credential.
func (s *Store) SaveCredential(ctx context.Context, c Credential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credential (id, token, user_id, email, name, role, logged_in_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			user_id = excluded.user_id,
			email = excluded.email,
			name = excluded.name,
			role = excluded.role,
			logged_in_at = excluded.logged_in_at`,
		c.Token,
		c.User.ID,
		c.User.Email,
		c.User.Name,
		string(c.User.Role),
		c.LoggedInAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LoadCredential returns the stored credential. ok is false when nobody is logged in.
func (s *Store) LoadCredential(ctx context.Context) (Credential, bool, error) {
	var c Credential
	var role, loggedInAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, email, name, role, logged_in_at FROM credential WHERE id = 1`,
	).Scan(&c.Token, &c.User.ID, &c.User.Email, &c.User.Name, &role, &loggedInAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, err
	}
	c.User.Role = model.Role(role)
	parsed, err := time.Parse(time.RFC3339Nano, loggedInAt)
	if err != nil {
		return Credential{}, false, err
	}
	c.LoggedInAt = parsed
	return c, true, nil
}

// ClearCredential removes the stored credential.
func (s *Store) ClearCredential(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credential`)
	return err
}

// TouchSubmission records that the user worked on a submission.
func (s *Store) TouchSubmission(ctx context.Context, r model.RecentSubmission) error {
	if r.TouchedAt.IsZero() {
		r.TouchedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recent_submissions (submission_id, challenge_id, role, status, touched_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(submission_id) DO UPDATE SET
			challenge_id = excluded.challenge_id,
			role = excluded.role,
			status = excluded.status,
			touched_at = excluded.touched_at`,
		r.SubmissionID,
		r.ChallengeID,
		string(r.Role),
		string(r.Status),
		r.TouchedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ListRecent returns the most recently touched submissions, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]model.RecentSubmission, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT submission_id, challenge_id, role, status, touched_at
		 FROM recent_submissions
		 ORDER BY touched_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.RecentSubmission
	for rows.Next() {
		var r model.RecentSubmission
		var role, status, touchedAt string
		if err := rows.Scan(&r.SubmissionID, &r.ChallengeID, &role, &status, &touchedAt); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, touchedAt)
		if err != nil {
			return nil, err
		}
		r.Role = model.Role(role)
		r.Status = model.SubmissionStatus(status)
		r.TouchedAt = parsed
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
