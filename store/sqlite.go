package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	_ "modernc.org/sqlite"

	command "github.com/goliatone/go-acommand"
)

// SQLiteStore persists records in a single SQLite table.
type SQLiteStore struct {
	db    *sql.DB
	table string

	schemaOnce sync.Once
	schemaErr  error
}

// OpenSQLite opens dsn with the pure Go SQLite driver. In-memory databases
// are limited to a single connection since each connection would otherwise
// see its own empty database.
func OpenSQLite(dsn string) (*sql.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("sqlite dsn is required", errors.CategoryBadInput).
			WithTextCode("SQLITE_DSN_REQUIRED")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "open sqlite db").
			WithTextCode("SQLITE_OPEN_FAILED")
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CategoryExternal, "ping sqlite db").
			WithTextCode("SQLITE_OPEN_FAILED")
	}
	return db, nil
}

// NewSQLiteStore builds a store on db using table, "command_records" by default.
func NewSQLiteStore(db *sql.DB, table string) *SQLiteStore {
	if table == "" {
		table = "command_records"
	}
	return &SQLiteStore{db: db, table: table}
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`, s.table)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			s.schemaErr = errors.Wrap(err, errors.CategoryExternal, "create sqlite schema").
				WithTextCode("SQLITE_SCHEMA_FAILED")
		}
	})
	return s.schemaErr
}

func (s *SQLiteStore) ready(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store not configured", errors.CategoryInternal).
			WithTextCode("STORE_NOT_CONFIGURED")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.ensureSchema(ctx)
}

func (s *SQLiteStore) Save(ctx context.Context, id string, rec command.Record) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id, err := normalizeID(id)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "encode command record").
			WithTextCode("RECORD_ENCODE_FAILED")
	}

	q := fmt.Sprintf(`INSERT INTO %s (id, code, status, payload, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET code = excluded.code, status = excluded.status,
		payload = excluded.payload, updated_at = excluded.updated_at`, s.table)
	_, err = s.db.ExecContext(ctx, q, id, rec.Code, string(rec.Status), string(payload),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "save command record").
			WithTextCode("RECORD_SAVE_FAILED").
			WithMetadata(map[string]any{"id": id})
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (command.Record, error) {
	if err := s.ready(ctx); err != nil {
		return command.Record{}, err
	}
	id, err := normalizeID(id)
	if err != nil {
		return command.Record{}, err
	}

	q := fmt.Sprintf(`SELECT payload FROM %s WHERE id = ?`, s.table)
	var payload string
	err = s.db.QueryRowContext(ctx, q, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return command.Record{}, ErrRecordNotFound
	}
	if err != nil {
		return command.Record{}, errors.Wrap(err, errors.CategoryExternal, "load command record").
			WithTextCode("RECORD_LOAD_FAILED").
			WithMetadata(map[string]any{"id": id})
	}
	return decodeRecord([]byte(payload))
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table)
	if _, err := s.db.ExecContext(ctx, q, strings.TrimSpace(id)); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "delete command record").
			WithTextCode("RECORD_DELETE_FAILED")
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "list command records").
			WithTextCode("RECORD_LIST_FAILED")
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
