// Package store persists session entry logs in SQLite. Each entry is one
// row keyed by (session_id, seq); rewrites of an in-place-updated entry
// (tool call progress, answered permissions) upsert the same row, so the
// table mirrors the in-memory log exactly. The entry body is an opaque
// CBOR payload; kind, correlation ids, and timestamp are real columns so
// they stay queryable without decoding.
package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/tailored-agentic-units/acphost/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id  TEXT PRIMARY KEY,
	project_dir TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	session_id TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	kind       TEXT    NOT NULL,
	call_id    TEXT,
	request_id TEXT,
	created_at INTEGER NOT NULL,
	payload    BLOB    NOT NULL,
	PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS entries_by_kind ON entries (session_id, kind);
`

// Store is a SQLite-backed entry log. Safe for concurrent use; each
// operation takes its own pooled connection.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the database file. Use ":memory:" with PoolSize 1 for
	// tests; in-memory connections do not share state.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Logger receives operational messages. Defaults to a discard logger.
	Logger *slog.Logger
}

// Open creates or opens the database at cfg.Path and applies the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}

	logger.Info("entry store opened", slog.String("path", cfg.Path), slog.Int("pool_size", poolSize))
	return &Store{pool: pool, logger: logger, path: cfg.Path}, nil
}

// Close closes the pool. Blocks until borrowed connections return.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", s.path, err)
	}
	return nil
}

// Put writes one entry record, replacing any previous row with the same
// (session, seq). The session row is created on first write.
func (s *Store) Put(ctx context.Context, rec session.Record) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: put: %w", err)
	}
	defer s.pool.Put(conn)

	var callID, requestID any
	if rec.CallID != "" {
		callID = rec.CallID
	}
	if rec.RequestID != "" {
		requestID = rec.RequestID
	}

	return sqlitex.Execute(conn, `
		INSERT INTO entries (session_id, seq, kind, call_id, request_id, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, seq) DO UPDATE SET
			kind = excluded.kind,
			call_id = excluded.call_id,
			request_id = excluded.request_id,
			created_at = excluded.created_at,
			payload = excluded.payload`,
		&sqlitex.ExecOptions{
			Args: []any{
				rec.SessionID,
				int64(rec.Seq),
				string(rec.Kind),
				callID,
				requestID,
				rec.CreatedAt.UnixNano(),
				rec.Payload,
			},
		})
}

// PutSession records session metadata so the log can be listed and
// resumed after a restart.
func (s *Store) PutSession(ctx context.Context, sessionID, projectDir string, createdAt time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: put session: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `
		INSERT INTO sessions (session_id, project_dir, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET project_dir = excluded.project_dir`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID, projectDir, createdAt.UnixNano()},
		})
}

// LoadSession reads a session's records in sequence order, ready for
// session.DecodeRecord and Registry.Restore.
func (s *Store) LoadSession(ctx context.Context, sessionID string) ([]session.Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: load session: %w", err)
	}
	defer s.pool.Put(conn)

	var records []session.Record
	err = sqlitex.Execute(conn, `
		SELECT seq, kind, call_id, request_id, created_at, payload
		FROM entries WHERE session_id = ? ORDER BY seq`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				payload := make([]byte, stmt.ColumnLen(5))
				stmt.ColumnBytes(5, payload)
				records = append(records, session.Record{
					SessionID: sessionID,
					Seq:       uint64(stmt.ColumnInt64(0)),
					Kind:      session.EntryKind(stmt.ColumnText(1)),
					CallID:    stmt.ColumnText(2),
					RequestID: stmt.ColumnText(3),
					CreatedAt: time.Unix(0, stmt.ColumnInt64(4)),
					Payload:   payload,
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: load session %s: %w", sessionID, err)
	}
	return records, nil
}

// SessionInfo is one row of the session listing.
type SessionInfo struct {
	SessionID  string
	ProjectDir string
	CreatedAt  time.Time
	Entries    int
}

// ListSessions returns stored sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer s.pool.Put(conn)

	var infos []SessionInfo
	err = sqlitex.Execute(conn, `
		SELECT s.session_id, s.project_dir, s.created_at, COUNT(e.seq)
		FROM sessions s LEFT JOIN entries e ON e.session_id = s.session_id
		GROUP BY s.session_id ORDER BY s.created_at DESC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				infos = append(infos, SessionInfo{
					SessionID:  stmt.ColumnText(0),
					ProjectDir: stmt.ColumnText(1),
					CreatedAt:  time.Unix(0, stmt.ColumnInt64(2)),
					Entries:    stmt.ColumnInt(3),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return infos, nil
}

// DeleteSession removes a session and all its entries in one transaction.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, "DELETE FROM entries WHERE session_id = ?",
		&sqlitex.ExecOptions{Args: []any{sessionID}})
	if err != nil {
		return fmt.Errorf("store: delete entries %s: %w", sessionID, err)
	}
	err = sqlitex.Execute(conn, "DELETE FROM sessions WHERE session_id = ?",
		&sqlitex.ExecOptions{Args: []any{sessionID}})
	if err != nil {
		return fmt.Errorf("store: delete session %s: %w", sessionID, err)
	}
	return nil
}
