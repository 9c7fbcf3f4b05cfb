package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/crypto_paper_agent/internal/domain"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// SQLStore is a string key-value store on sqlite3 or postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
}

var _ domain.KeyValueStore = (*SQLStore)(nil)

func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// One writer avoids "database is locked" under concurrent saves.
		db.SetMaxOpenConns(1)
	}

	store := &SQLStore{db: db, driver: driver}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	return NewSQLStore(DriverSQLite, dbPath)
}

func (s *SQLStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS kv_store (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM kv_store WHERE key = ?`), key)

	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("key %s: %w", key, domain.ErrNotFound)
		}
		return "", err
	}
	return value, nil
}

const upsertQuery = `INSERT INTO kv_store (key, value, updated_at)
			  VALUES (?, ?, ?)
			  ON CONFLICT(key) DO UPDATE SET
			  value=excluded.value,
			  updated_at=excluded.updated_at`

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(upsertQuery), key, value, time.Now().UTC())
	return err
}

// SetMany upserts all values in one transaction.
func (s *SQLStore) SetMany(ctx context.Context, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, s.rebind(upsertQuery), k, values[k], now); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM kv_store WHERE key IN (`+placeholders+`)`), args...)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
