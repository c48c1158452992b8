// Package sqlstore implements store.Store on SQLite, PostgreSQL or MySQL.
// Each record is a row in records carrying a version counter, and each field
// is a row in record_fields. Update bumps the version with a conditional
// UPDATE so concurrent writers to the same record conflict instead of
// overwriting each other.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/pilotauth/pilot/internal/store"
)

// Config selects the database and pool settings.
type Config struct {
	Driver          string // sqlite, postgres or mysql
	DSN             string
	DataDir         string // sqlite only; empty means in-memory when DSN is empty
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// driverNames maps a configured driver to its database/sql driver name.
var driverNames = map[string]string{
	"sqlite":   "sqlite",
	"postgres": "pgx",
	"mysql":    "mysql",
}

// Store is a SQL-backed store.Store.
type Store struct {
	db     *sqlx.DB
	driver string
}

var _ store.Store = (*Store)(nil)

// Open connects to the database and applies migrations.
func Open(cfg Config) (*Store, error) {
	name, ok := driverNames[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver: %s (available: sqlite, postgres, mysql)", cfg.Driver)
	}

	dsn := cfg.DSN
	if cfg.Driver == "sqlite" && dsn == "" {
		if cfg.DataDir == "" {
			dsn = ":memory:"
		} else {
			if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(cfg.DataDir, "pilot.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s: dsn is required", cfg.Driver)
	}

	db, err := sqlx.Connect(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	s := &Store{db: db, driver: cfg.Driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s database: %w", cfg.Driver, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Customer keys
// ---------------------------------------------------------------------------

func (s *Store) AddCustomerKey(ctx context.Context, key string) error {
	ok, err := s.CustomerKeyExists(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO customer_keys (customer_key, created_at) VALUES (?, ?)"),
		key, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert customer key: %w", err)
	}
	return nil
}

func (s *Store) RemoveCustomerKey(ctx context.Context, key string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(
		"DELETE FROM customer_keys WHERE customer_key = ?"), key)
	if err != nil {
		return false, fmt.Errorf("delete customer key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete customer key rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Store) CustomerKeyExists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(
		"SELECT COUNT(*) FROM customer_keys WHERE customer_key = ?"), key)
	if err != nil {
		return false, fmt.Errorf("check customer key: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListCustomerKeys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.SelectContext(ctx, &keys,
		"SELECT customer_key FROM customer_keys ORDER BY customer_key"); err != nil {
		return nil, fmt.Errorf("list customer keys: %w", err)
	}
	return keys, nil
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

type fieldRow struct {
	Field string `db:"field"`
	Value string `db:"value"`
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(
		"SELECT COUNT(*) FROM record_fields WHERE record_key = ?"), key)
	if err != nil {
		return false, fmt.Errorf("check record: %w", err)
	}
	return n > 0, nil
}

func (s *Store) GetFields(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	if len(fields) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(
		"SELECT field, value FROM record_fields WHERE record_key = ? AND field IN (?)", key, fields)
	if err != nil {
		return nil, fmt.Errorf("build field query: %w", err)
	}
	var rows []fieldRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("get fields: %w", err)
	}
	for _, r := range rows {
		out[r.Field] = r.Value
	}
	return out, nil
}

func (s *Store) GetAll(ctx context.Context, key string) (map[string]string, error) {
	var rows []fieldRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT field, value FROM record_fields WHERE record_key = ?"), key); err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Field] = r.Value
	}
	return out, nil
}

func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var candidates []string
	if err := s.db.SelectContext(ctx, &candidates, s.db.Rebind(
		"SELECT record_key FROM records WHERE record_key LIKE ?"), store.LikePrefilter(pattern)); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	keys := candidates[:0]
	for _, k := range candidates {
		if store.Match(pattern, k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *Store) IndexMembers(ctx context.Context, index string) ([]string, error) {
	var members []string
	if err := s.db.SelectContext(ctx, &members, s.db.Rebind(
		"SELECT member FROM record_index WHERE index_name = ?"), index); err != nil {
		return nil, fmt.Errorf("index members: %w", err)
	}
	return members, nil
}

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

func (s *Store) Update(ctx context.Context, key, field string, fn store.UpdateFunc) error {
	if store.IsIndexKey(key) {
		return store.UpdateReserved(fn)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	var version int64
	keyExists := true
	err = tx.GetContext(ctx, &version, tx.Rebind(
		"SELECT version FROM records WHERE record_key = ?"), key)
	if errors.Is(err, sql.ErrNoRows) {
		keyExists = false
	} else if err != nil {
		return fmt.Errorf("read record version: %w", err)
	}

	cur := store.Current{KeyExists: keyExists}
	if keyExists {
		err = tx.GetContext(ctx, &cur.Value, tx.Rebind(
			"SELECT value FROM record_fields WHERE record_key = ? AND field = ?"), key, field)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read field: %w", err)
		default:
			cur.Found = true
		}
	}

	change, err := fn(cur)
	if err != nil || change == nil {
		return err
	}

	if keyExists {
		for _, f := range change.Absent {
			var n int
			if err := tx.GetContext(ctx, &n, tx.Rebind(
				"SELECT COUNT(*) FROM record_fields WHERE record_key = ? AND field = ?"), key, f); err != nil {
				return fmt.Errorf("check field: %w", err)
			}
			if n > 0 {
				return store.ErrFieldExists
			}
		}
	}

	if err := s.bumpVersion(ctx, tx, key, version, keyExists); err != nil {
		return err
	}
	if err := applyChange(ctx, tx, key, change); err != nil {
		return err
	}

	var remaining int
	if err := tx.GetContext(ctx, &remaining, tx.Rebind(
		"SELECT COUNT(*) FROM record_fields WHERE record_key = ?"), key); err != nil {
		return fmt.Errorf("count fields: %w", err)
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM records WHERE record_key = ?"), key); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

// bumpVersion claims the record for this transaction. An existing record is
// advanced only if its version is unchanged; a new record is inserted, and a
// concurrent insert of the same key is reported as a conflict.
func (s *Store) bumpVersion(ctx context.Context, tx *sqlx.Tx, key string, version int64, keyExists bool) error {
	if keyExists {
		result, err := tx.ExecContext(ctx, tx.Rebind(
			"UPDATE records SET version = version + 1 WHERE record_key = ? AND version = ?"), key, version)
		if err != nil {
			return fmt.Errorf("bump record version: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("bump record version rows affected: %w", err)
		}
		if n == 0 {
			return store.ErrConflict
		}
		return nil
	}

	_, err := tx.ExecContext(ctx, tx.Rebind(
		"INSERT INTO records (record_key, version) VALUES (?, 1)"), key)
	if err == nil {
		return nil
	}
	tx.Rollback()
	var n int
	if cerr := s.db.GetContext(ctx, &n, s.db.Rebind(
		"SELECT COUNT(*) FROM records WHERE record_key = ?"), key); cerr == nil && n > 0 {
		return store.ErrConflict
	}
	return fmt.Errorf("insert record: %w", err)
}

func applyChange(ctx context.Context, tx *sqlx.Tx, key string, change *store.Change) error {
	if change.DeleteKey {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"DELETE FROM record_fields WHERE record_key = ?"), key); err != nil {
			return fmt.Errorf("delete record fields: %w", err)
		}
	}
	for _, f := range change.Delete {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"DELETE FROM record_fields WHERE record_key = ? AND field = ?"), key, f); err != nil {
			return fmt.Errorf("delete field: %w", err)
		}
	}

	fields := make([]string, 0, len(change.Set))
	for f := range change.Set {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"DELETE FROM record_fields WHERE record_key = ? AND field = ?"), key, f); err != nil {
			return fmt.Errorf("replace field: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"INSERT INTO record_fields (record_key, field, value) VALUES (?, ?, ?)"), key, f, change.Set[f]); err != nil {
			return fmt.Errorf("write field: %w", err)
		}
	}

	for _, op := range change.Index {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"DELETE FROM record_index WHERE index_name = ? AND member = ?"), op.Index, op.Member); err != nil {
			return fmt.Errorf("update index: %w", err)
		}
		if op.Remove {
			continue
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"INSERT INTO record_index (index_name, member) VALUES (?, ?)"), op.Index, op.Member); err != nil {
			return fmt.Errorf("update index: %w", err)
		}
	}
	return nil
}
