package keystore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	kerrors "github.com/PolarWolf314/whanau/internal/errors"
	"github.com/PolarWolf314/whanau/internal/fingerprint"
	"github.com/PolarWolf314/whanau/internal/keypair"
	"github.com/PolarWolf314/whanau/internal/sealing"
	"golang.org/x/sync/singleflight"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Transition names a step in the store's key-derivation state machine.
type Transition string

const (
	// TransitionInitialized is reported when a fresh store records its key check value.
	TransitionInitialized Transition = "Initialized"

	// TransitionKeyDerivationChanged is reported when the device key differs from the one the store was written under.
	TransitionKeyDerivationChanged Transition = "KeyDerivationChanged"

	// TransitionWipeAndReinitialize is reported once the protected tables have been cleared and the new key recorded.
	TransitionWipeAndReinitialize Transition = "WipeAndReinitialize"
)

const keyCheckName = "key_check"

// Options configures a Store.
type Options struct {
	// Path is the SQLite database file.
	Path string

	// Environment supplies the device fingerprint the store key is derived from.
	Environment fingerprint.Environment

	// OnTransition, if set, is called for every key-derivation transition.
	OnTransition func(Transition)
}

// Store persists private keys sealed under the device key.
//
// The database handle is opened lazily and shared; concurrent first callers
// wait for a single in-flight open.
type Store struct {
	opts Options

	group singleflight.Group

	mu     sync.Mutex
	db     *sql.DB
	sealer *sealing.Sealer

	opens atomic.Int32
	wipes atomic.Int32
}

type handle struct {
	db     *sql.DB
	sealer *sealing.Sealer
}

// New returns a store that opens its database on first use.
func New(opts Options) *Store {
	if opts.Environment == nil {
		opts.Environment = fingerprint.SystemEnvironment{}
	}
	return &Store{opts: opts}
}

// Opens reports how many times the underlying database was actually opened.
func (s *Store) Opens() int {
	return int(s.opens.Load())
}

// Wipes reports how many key-derivation wipes this store has performed.
func (s *Store) Wipes() int {
	return int(s.wipes.Load())
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.opts.Path
}

func (s *Store) cached() (*handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, false
	}
	return &handle{db: s.db, sealer: s.sealer}, true
}

func (s *Store) handle(ctx context.Context) (*handle, error) {
	if h, ok := s.cached(); ok {
		return h, nil
	}

	// One caller's cancellation must not fail the open for the others waiting on it.
	openCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do("open", func() (any, error) {
		if h, ok := s.cached(); ok {
			return h, nil
		}
		h, err := s.open(openCtx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.db, s.sealer = h.db, h.sealer
		s.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*handle), nil
}

func (s *Store) open(ctx context.Context) (*handle, error) {
	s.opens.Add(1)

	if s.opts.Path == "" {
		return nil, fmt.Errorf("key store path is empty: %w", kerrors.ErrEnvironmentUnsupported)
	}
	if s.opts.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.opts.Path), 0700); err != nil {
			return nil, fmt.Errorf("creating key store directory: %w", classifyWriteErr(err))
		}
	}

	db, err := sql.Open("sqlite", s.opts.Path)
	if err != nil {
		return nil, fmt.Errorf("opening key store: %w: %v", kerrors.ErrEnvironmentUnsupported, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to key store: %w: %v", kerrors.ErrEnvironmentUnsupported, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w: %v", pragma, kerrors.ErrEnvironmentUnsupported, err)
		}
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	sealer, err := sealing.New(fingerprint.DeriveKey(s.opts.Environment))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("deriving key store key: %w: %v", kerrors.ErrEnvironmentUnsupported, err)
	}

	if err := s.reconcileKey(ctx, db, sealer.CheckValue()); err != nil {
		db.Close()
		return nil, err
	}

	return &handle{db: db, sealer: sealer}, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS private_keys (
		user_id TEXT PRIMARY KEY,
		secret_key TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initializing key store schema: %w", classifyWriteErr(err))
	}
	return nil
}

// reconcileKey compares the derived key with the one the store was written
// under. A mismatch wipes every protected table: values sealed under an
// unrecoverable key are useless.
func (s *Store) reconcileKey(ctx context.Context, db *sql.DB, check string) error {
	var stored string
	err := db.QueryRowContext(ctx, `SELECT value FROM store_metadata WHERE key = ?`, keyCheckName).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := putMetadata(ctx, db, keyCheckName, check); err != nil {
			return err
		}
		s.report(TransitionInitialized)
		return nil
	case err != nil:
		return fmt.Errorf("reading key store metadata: %w", err)
	case stored == check:
		return nil
	}

	s.report(TransitionKeyDerivationChanged)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting key store wipe: %w", classifyWriteErr(err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM private_keys`); err != nil {
		return fmt.Errorf("wiping private keys: %w", classifyWriteErr(err))
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO store_metadata (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		keyCheckName, check, time.Now().Unix()); err != nil {
		return fmt.Errorf("recording key check: %w", classifyWriteErr(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing key store wipe: %w", classifyWriteErr(err))
	}

	s.wipes.Add(1)
	s.report(TransitionWipeAndReinitialize)
	return nil
}

func putMetadata(ctx context.Context, db *sql.DB, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO store_metadata (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("writing key store metadata: %w", classifyWriteErr(err))
	}
	return nil
}

func (s *Store) report(t Transition) {
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(t)
	}
}

// Open forces the lazy open. It is safe to call concurrently.
func (s *Store) Open(ctx context.Context) error {
	_, err := s.handle(ctx)
	return err
}

// Close releases the database. A later call reopens it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db, s.sealer = nil, nil
	return err
}

// StorePrivateKey seals and writes a user's secret key, replacing any existing one.
func (s *Store) StorePrivateKey(ctx context.Context, userID string, secretKey []byte) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if len(secretKey) != keypair.SecretKeySize {
		return fmt.Errorf("secret key must be %d bytes, got %d: %w", keypair.SecretKeySize, len(secretKey), kerrors.ErrInvalidKeyLength)
	}

	h, err := s.handle(ctx)
	if err != nil {
		return err
	}

	sealed, err := h.sealer.Seal([]byte(base64.StdEncoding.EncodeToString(secretKey)))
	if err != nil {
		return fmt.Errorf("sealing private key: %w: %v", kerrors.ErrEnvironmentUnsupported, err)
	}

	_, err = h.db.ExecContext(ctx,
		`INSERT INTO private_keys (user_id, secret_key, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET secret_key = excluded.secret_key, updated_at = excluded.updated_at`,
		userID, sealed, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("storing private key: %w", classifyWriteErr(err))
	}
	return nil
}

// GetPrivateKey returns the user's secret key, or nil if none is stored.
func (s *Store) GetPrivateKey(ctx context.Context, userID string) ([]byte, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	h, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	var sealed string
	err = h.db.QueryRowContext(ctx, `SELECT secret_key FROM private_keys WHERE user_id = ?`, userID).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	encoded, err := h.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("stored private key is unreadable: %w", kerrors.ErrDecryptionFailed)
	}
	raw, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("stored private key is corrupt: %w", kerrors.ErrInvalidKeyFormat)
	}
	if len(raw) != keypair.SecretKeySize {
		return nil, fmt.Errorf("stored private key has %d bytes: %w", len(raw), kerrors.ErrInvalidKeyLength)
	}
	return raw, nil
}

// HasPrivateKey reports whether a secret key is stored for the user.
func (s *Store) HasPrivateKey(ctx context.Context, userID string) (bool, error) {
	if err := validateUserID(userID); err != nil {
		return false, err
	}

	h, err := s.handle(ctx)
	if err != nil {
		return false, err
	}

	var n int
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM private_keys WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return false, fmt.Errorf("checking private key: %w", err)
	}
	return n > 0, nil
}

// DeletePrivateKey removes the user's secret key. Removing a missing key is not an error.
func (s *Store) DeletePrivateKey(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}

	h, err := s.handle(ctx)
	if err != nil {
		return err
	}

	if _, err := h.db.ExecContext(ctx, `DELETE FROM private_keys WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting private key: %w", classifyWriteErr(err))
	}
	return nil
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id must not be empty: %w", kerrors.ErrInvalidUserID)
	}
	return nil
}

// classifyWriteErr maps out-of-space conditions to ErrStorageQuotaExceeded.
func classifyWriteErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", kerrors.ErrStorageQuotaExceeded, err)
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_FULL {
		return fmt.Errorf("%w: %v", kerrors.ErrStorageQuotaExceeded, err)
	}
	return err
}
