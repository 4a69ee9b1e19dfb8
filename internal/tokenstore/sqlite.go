package tokenstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// Credential row keys. Absence of a key is a valid state (no session).
const (
	keyAccessToken  = "accessToken"
	keyRefreshToken = "refreshToken"
	keyExpiresAt    = "expiresAt"
)

// walJournalSizeLimit caps the WAL journal at 4 MiB — the table holds a
// handful of rows.
const walJournalSizeLimit = 4194304

// SQLiteStore persists credentials in an embedded SQLite database with WAL
// mode. SQLite's transaction semantics give whole-value replacement across
// processes without an explicit lock file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	getStmt *sql.Stmt
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies
// migrations. Use a t.TempDir() path in tests.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("opening credential database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	getStmt, err := db.Prepare("SELECT key, value FROM credentials")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("tokenstore: prepare statements: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger, getStmt: getStmt}, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("tokenstore: set pragma %q: %w", p, err)
		}
	}

	return nil
}

// Load reads the stored credentials. Returns (nil, nil) when the table
// holds no tokens.
func (s *SQLiteStore) Load(ctx context.Context) (*Credentials, error) {
	rows, err := s.getStmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: querying credentials: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("tokenstore: scanning credential row: %w", err)
		}

		values[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tokenstore: reading credential rows: %w", err)
	}

	creds := Credentials{
		AccessToken:  values[keyAccessToken],
		RefreshToken: values[keyRefreshToken],
	}

	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return nil, nil //nolint:nilnil // sentinel for "no session"
	}

	if raw, ok := values[keyExpiresAt]; ok && raw != "" {
		expiresAt, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			return nil, fmt.Errorf("tokenstore: parsing expiresAt: %w", parseErr)
		}

		creds.ExpiresAt = expiresAt
	}

	return &creds, nil
}

// Save replaces the stored credentials in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, creds Credentials) error {
	return s.replace(ctx, func(tx *sql.Tx) error {
		rows := map[string]string{
			keyAccessToken:  creds.AccessToken,
			keyRefreshToken: creds.RefreshToken,
		}

		if !creds.ExpiresAt.IsZero() {
			rows[keyExpiresAt] = creds.ExpiresAt.UTC().Format(time.RFC3339)
		}

		for key, value := range rows {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO credentials (key, value) VALUES (?, ?)", key, value); err != nil {
				return fmt.Errorf("tokenstore: inserting %s: %w", key, err)
			}
		}

		return nil
	})
}

// Clear removes all stored credentials. Idempotent.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.replace(ctx, nil)
}

// replace deletes every credential row and, when insert is non-nil, writes
// the replacement rows — all inside a single transaction so readers never
// observe a partial update.
func (s *SQLiteStore) replace(ctx context.Context, insert func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tokenstore: begin tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM credentials"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("tokenstore: clearing credentials: %w", err)
	}

	if insert != nil {
		if err := insert(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tokenstore: commit: %w", err)
	}

	return nil
}

// Close releases the prepared statement and the database handle.
func (s *SQLiteStore) Close() error {
	if s.getStmt != nil {
		_ = s.getStmt.Close()
	}

	return s.db.Close()
}
