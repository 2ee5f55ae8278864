package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQL driver names accepted by OpenSQLStore.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// SQLStore keeps credentials in a session_credentials table, one row per identity.
type SQLStore struct {
	db *sqlx.DB
}

type credentialsRow struct {
	Identity  string `db:"identity"`
	Blob      []byte `db:"blob"`
	Revision  int64  `db:"revision"`
	UpdatedAt int64  `db:"updated_at"` // unix millis
}

func (r credentialsRow) credentials() *Credentials {
	return &Credentials{
		Identity:  r.Identity,
		Blob:      r.Blob,
		Revision:  uint64(r.Revision),
		UpdatedAt: time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

// OpenSQLStore connects with driver ("sqlite" or "pgx") and creates the table.
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer keeps SQLite from returning SQLITE_BUSY under concurrent sessions.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("session store opened", "driver", driver)
	return s, nil
}

func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func (s *SQLStore) migrate(ctx context.Context) error {
	blobType := "BLOB"
	if s.db.DriverName() == DriverPostgres {
		blobType = "BYTEA"
	}
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS session_credentials (
		identity TEXT PRIMARY KEY,
		blob `+blobType+` NOT NULL,
		revision BIGINT NOT NULL DEFAULT 1,
		updated_at BIGINT NOT NULL
	)`)
	return err
}

func (s *SQLStore) Load(ctx context.Context, identity string) (*Credentials, error) {
	if _, err := NormalizeIdentity(identity); err != nil {
		return nil, err
	}
	var row credentialsRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT identity, blob, revision, updated_at FROM session_credentials WHERE identity = ?`), identity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return row.credentials(), nil
}

func (s *SQLStore) Save(ctx context.Context, identity string, blob []byte) (*Credentials, error) {
	if _, err := NormalizeIdentity(identity); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var row credentialsRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`INSERT INTO session_credentials (identity, blob, revision, updated_at)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT (identity) DO UPDATE SET
			blob = excluded.blob,
			revision = session_credentials.revision + 1,
			updated_at = excluded.updated_at
		 RETURNING identity, blob, revision, updated_at`),
		identity, blob, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}
	return row.credentials(), nil
}

func (s *SQLStore) Clear(ctx context.Context, identity string) error {
	if _, err := NormalizeIdentity(identity); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM session_credentials WHERE identity = ?`), identity); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids,
		`SELECT identity FROM session_credentials ORDER BY identity`); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return ids, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
