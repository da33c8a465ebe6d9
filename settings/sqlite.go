package settings

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDBFileName is the SQLite filename under the data directory.
const DefaultDBFileName = "settings.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS policy (
  id                  INTEGER PRIMARY KEY CHECK (id = 1),
  auto_approval       INTEGER NOT NULL DEFAULT 0,
  auto_approval_timeout INTEGER NOT NULL DEFAULT 30,
  remember_decision   INTEGER NOT NULL DEFAULT 0,
  max_file_size       INTEGER NOT NULL DEFAULT 104857600,
  allowed_extensions  TEXT NOT NULL DEFAULT ''
);
`,
	`
INSERT OR IGNORE INTO policy (id) VALUES (1);
`,
	`
CREATE TABLE IF NOT EXISTS remembered_decisions (
  request_id TEXT PRIMARY KEY,
  allowed    INTEGER NOT NULL
);
`,
}

// SQLiteStore persists settings in a SQLite database, migrated via
// PRAGMA user_version and opened in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the settings database under dataDir.
func OpenSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create settings directory: %w", err)
	}
	return OpenSQLiteStorePath(filepath.Join(dataDir, DefaultDBFileName))
}

// OpenSQLiteStorePath opens the settings database at an explicit path.
func OpenSQLiteStorePath(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping settings database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}

func (s *SQLiteStore) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

// Load implements Store.
func (s *SQLiteStore) Load() (Snapshot, error) {
	var (
		autoApproval   bool
		timeout        int64
		remember       bool
		maxFileSize    int64
		extensionsJoin string
	)
	row := s.db.QueryRow(`SELECT auto_approval, auto_approval_timeout, remember_decision, max_file_size, allowed_extensions FROM policy WHERE id = 1;`)
	if err := row.Scan(&autoApproval, &timeout, &remember, &maxFileSize, &extensionsJoin); err != nil {
		return Snapshot{}, fmt.Errorf("load policy row: %w", err)
	}

	var extensions []string
	if extensionsJoin != "" {
		extensions = strings.Split(extensionsJoin, ",")
	}

	rows, err := s.db.Query(`SELECT request_id, allowed FROM remembered_decisions;`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load remembered decisions: %w", err)
	}
	defer rows.Close()

	remembered := make(map[string]bool)
	for rows.Next() {
		var id string
		var allowed bool
		if err := rows.Scan(&id, &allowed); err != nil {
			return Snapshot{}, fmt.Errorf("scan remembered decision: %w", err)
		}
		remembered[id] = allowed
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate remembered decisions: %w", err)
	}

	return Snapshot{
		AutoApproval: AutoApproval{
			Enabled:          autoApproval,
			Timeout:          timeout,
			RememberDecision: remember,
		},
		Security: Security{
			MaxFileSize:       maxFileSize,
			AllowedExtensions: extensions,
		},
		RememberedDecisions: remembered,
	}, nil
}

// SetAutoApproval implements Store.
func (s *SQLiteStore) SetAutoApproval(a AutoApproval) error {
	_, err := s.db.Exec(
		`UPDATE policy SET auto_approval = ?, auto_approval_timeout = ?, remember_decision = ? WHERE id = 1;`,
		a.Enabled, a.Timeout, a.RememberDecision,
	)
	if err != nil {
		return fmt.Errorf("update auto approval policy: %w", err)
	}
	return nil
}

// SetSecurity implements Store.
func (s *SQLiteStore) SetSecurity(sec Security) error {
	_, err := s.db.Exec(
		`UPDATE policy SET max_file_size = ?, allowed_extensions = ? WHERE id = 1;`,
		sec.MaxFileSize, strings.Join(sec.AllowedExtensions, ","),
	)
	if err != nil {
		return fmt.Errorf("update security policy: %w", err)
	}
	return nil
}

// SetRememberedDecision implements Store.
func (s *SQLiteStore) SetRememberedDecision(requestID string, allowed bool) error {
	_, err := s.db.Exec(
		`INSERT INTO remembered_decisions (request_id, allowed) VALUES (?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET allowed = excluded.allowed;`,
		requestID, allowed,
	)
	if err != nil {
		return fmt.Errorf("set remembered decision: %w", err)
	}
	return nil
}

// ClearRememberedDecision implements Store.
func (s *SQLiteStore) ClearRememberedDecision(requestID string) error {
	_, err := s.db.Exec(`DELETE FROM remembered_decisions WHERE request_id = ?;`, requestID)
	if err != nil {
		return fmt.Errorf("clear remembered decision: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
