package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/iliamunaev/multivendor-checkout/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS access_session (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	subject_id    TEXT NOT NULL,
	role          TEXT NOT NULL
)`

// SQLiteStore keeps the session in a single-row SQLite table so it survives
// restarts of the checkout host.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context) (model.AccessSession, error) {
	var out model.AccessSession
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, subject_id, role FROM access_session WHERE id = 1`,
	).Scan(&out.AccessToken, &out.RefreshToken, &out.SubjectID, &out.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AccessSession{}, ErrNoSession
	}
	if err != nil {
		return model.AccessSession{}, fmt.Errorf("read session: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Set(ctx context.Context, in model.AccessSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_session (id, access_token, refresh_token, subject_id, role)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			subject_id = excluded.subject_id,
			role = excluded.role`,
		in.AccessToken, in.RefreshToken, in.SubjectID, in.Role)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM access_session`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
