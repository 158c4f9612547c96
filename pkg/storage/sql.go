package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect covers the differences between the SQL backends.
type Dialect struct {
	Name        string
	Placeholder func(i int) string
}

var (
	Postgres = Dialect{Name: "postgres", Placeholder: func(i int) string { return "$" + strconv.Itoa(i) }}
	SQLite   = Dialect{Name: "sqlite", Placeholder: func(int) string { return "?" }}
)

type SQLStorage struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStorage(db *sql.DB, d Dialect) *SQLStorage {
	return &SQLStorage{db: db, dialect: d}
}

func OpenPostgres(dsn string) (*SQLStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := RunMigrations(db, Postgres); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLStorage(db, Postgres), nil
}

// OpenSQLite opens the database file at path. A single connection is kept so
// that writers never contend and ":memory:" databases survive between calls.
func OpenSQLite(path string) (*SQLStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := RunMigrations(db, SQLite); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLStorage(db, SQLite), nil
}

func (s *SQLStorage) Get(ctx context.Context, ns Namespace, keys ...string) (map[string][]byte, error) {
	query := `SELECT name, value FROM kv WHERE namespace = ` + s.dialect.Placeholder(1)
	args := []any{string(ns)}
	if len(keys) > 0 {
		marks := make([]string, len(keys))
		for i, k := range keys {
			marks[i] = s.dialect.Placeholder(i + 2)
			args = append(args, k)
		}
		query += ` AND name IN (` + strings.Join(marks, ", ") + `)`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("kv get failed", slog.String("namespace", string(ns)), slog.Any("err", err))
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			name  string
			value []byte
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStorage) Set(ctx context.Context, ns Namespace, items map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p := s.dialect.Placeholder
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kv (namespace, name, value, updated_at)
		VALUES (`+p(1)+`, `+p(2)+`, `+p(3)+`, `+p(4)+`)
		ON CONFLICT (namespace, name) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for k, v := range items {
		if _, err := stmt.ExecContext(ctx, string(ns), k, string(v), now); err != nil {
			slog.Error("kv set failed", slog.String("namespace", string(ns)), slog.String("key", k), slog.Any("err", err))
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	slog.Debug("kv set", slog.String("namespace", string(ns)), slog.Int("keys", len(items)))
	return nil
}

func (s *SQLStorage) Remove(ctx context.Context, ns Namespace, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	p := s.dialect.Placeholder
	marks := make([]string, len(keys))
	args := []any{string(ns)}
	for i, k := range keys {
		marks[i] = p(i + 2)
		args = append(args, k)
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE namespace = `+p(1)+` AND name IN (`+strings.Join(marks, ", ")+`)`,
		args...)
	return err
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}
