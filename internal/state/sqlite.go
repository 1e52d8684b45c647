package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS reading_progress (
	book_id    TEXT PRIMARY KEY,
	page_label TEXT,
	scale      REAL NOT NULL DEFAULT 1.0,
	view_mode  TEXT,
	updated_at TEXT NOT NULL
);`

// SQLiteStore keeps progress in a SQLite database, one row per book.
type SQLiteStore struct {
	mu   sync.Mutex
	conn *sqlite.Conn
}

// NewSQLiteStore opens (creating when needed) the database at path, or
// XDG_STATE_HOME/pagebook/progress.db when path is empty.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = filepath.Join(getStateDir(), "progress.db")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}

	flags := []sqlite.OpenFlags{sqlite.OpenReadWrite, sqlite.OpenCreate}
	if path == ":memory:" {
		flags = append(flags, sqlite.OpenMemory)
	} else {
		flags = append(flags, sqlite.OpenWAL)
	}
	conn, err := sqlite.OpenConn(path, flags...)
	if err != nil {
		return nil, fmt.Errorf("open progress db: %w", err)
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("prepare progress db: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

func (s *SQLiteStore) exec(ctx context.Context, query string, opts *sqlitex.ExecOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("progress db is closed")
	}
	s.conn.SetInterrupt(ctx.Done())
	defer s.conn.SetInterrupt(nil)
	return sqlitex.ExecuteTransient(s.conn, query, opts)
}

// Get returns saved progress for the book
func (s *SQLiteStore) Get(ctx context.Context, bookID string) (*Progress, error) {
	var found *Progress
	err := s.exec(ctx, `SELECT page_label, scale, view_mode, updated_at FROM reading_progress WHERE book_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{bookID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				p := Progress{
					PageLabel: stmt.ColumnText(0),
					Zoom:      stmt.ColumnFloat(1),
					ViewMode:  stmt.ColumnText(2),
				}
				if ts, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(3)); err == nil {
					p.UpdatedAt = ts
				}
				found = &p
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("read progress for %s: %w", bookID, err)
	}
	return found, nil
}

// Save upserts progress for the book
func (s *SQLiteStore) Save(ctx context.Context, bookID string, p Progress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	err := s.exec(ctx, `INSERT INTO reading_progress (book_id, page_label, scale, view_mode, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(book_id) DO UPDATE SET
			page_label = excluded.page_label,
			scale      = excluded.scale,
			view_mode  = excluded.view_mode,
			updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{bookID, p.PageLabel, p.Zoom, p.ViewMode, p.UpdatedAt.Format(time.RFC3339Nano)},
		})
	if err != nil {
		return fmt.Errorf("save progress for %s: %w", bookID, err)
	}
	return nil
}

// Clear removes saved progress for the book
func (s *SQLiteStore) Clear(ctx context.Context, bookID string) error {
	err := s.exec(ctx, `DELETE FROM reading_progress WHERE book_id = ?`,
		&sqlitex.ExecOptions{Args: []any{bookID}})
	if err != nil {
		return fmt.Errorf("clear progress for %s: %w", bookID, err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Open returns the store selected by backend ("json" or "sqlite").
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "json":
		return NewJSONStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown progress backend %q", backend)
	}
}
