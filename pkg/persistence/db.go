// Package persistence provides SQLite-backed storage for jobs, the command
// log, per-user dialogue state and the delivered-report ledger.
package persistence

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"omegaclaw/pkg/config"
	"omegaclaw/pkg/logx"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the database handle and the optional field cipher.
type Store struct {
	db     *sql.DB
	cipher *config.FieldCipher
	logger *logx.Logger
}

// Open opens (creating if needed) the database at dbPath and migrates the
// schema. With a non-empty passphrase, command text and wizard answers are
// encrypted at rest.
func Open(dbPath, passphrase string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	store := &Store{db: db, logger: logx.NewLogger("persistence")}

	if passphrase != "" {
		salt, err := store.loadOrCreateSalt()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		c, err := config.NewFieldCipher(passphrase, salt)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create field cipher: %w", err)
		}
		store.cipher = c
	} else {
		store.logger.Warn("⚠️ No database passphrase set; command log is stored in plaintext")
	}

	store.logger.Info("📦 Database initialized: %s", dbPath)
	return store, nil
}

// DB exposes the raw handle for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Encrypted reports whether sensitive fields are sealed.
func (s *Store) Encrypted() bool {
	return s.cipher != nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (s *Store) loadOrCreateSalt() ([]byte, error) {
	var encoded string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'field_salt'`).Scan(&encoded)
	switch {
	case err == nil:
		salt, decodeErr := base64.StdEncoding.DecodeString(encoded)
		if decodeErr != nil {
			return nil, fmt.Errorf("corrupt field salt: %w", decodeErr)
		}
		return salt, nil
	case errors.Is(err, sql.ErrNoRows):
		salt, genErr := config.NewSalt()
		if genErr != nil {
			return nil, genErr
		}
		if _, err := s.db.Exec(`INSERT INTO meta (key, value) VALUES ('field_salt', ?)`,
			base64.StdEncoding.EncodeToString(salt)); err != nil {
			return nil, fmt.Errorf("failed to store field salt: %w", err)
		}
		return salt, nil
	default:
		return nil, fmt.Errorf("failed to read field salt: %w", err)
	}
}

func (s *Store) seal(value string) (string, error) {
	if s.cipher == nil || value == "" {
		return value, nil
	}
	sealed, err := s.cipher.Seal(value)
	if err != nil {
		return "", fmt.Errorf("failed to seal field: %w", err)
	}
	return sealed, nil
}

func (s *Store) open(value string) (string, error) {
	if !config.IsSealed(value) {
		return value, nil
	}
	if s.cipher == nil {
		return "", fmt.Errorf("encrypted field but no passphrase configured: %w", config.ErrDecrypt)
	}
	plain, err := s.cipher.Open(value)
	if err != nil {
		return "", fmt.Errorf("failed to open field: %w", err)
	}
	return plain, nil
}
