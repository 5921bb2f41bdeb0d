package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raine/wallet-session/internal/auth"
	_ "modernc.org/sqlite"
)

const (
	settingDeviceID = "device_id"
)

// SQLiteStore persists the wallet session: the encrypted token set, device
// settings and a short history of auth events.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey []byte
	mu            sync.RWMutex
}

// NewSQLiteStore opens (or creates) the database at dbPath. Tokens are
// encrypted with encryptionKey, which must be 16, 24 or 32 bytes.
func NewSQLiteStore(dbPath string, encryptionKey []byte) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers on the file.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:            db,
		encryptionKey: encryptionKey,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	if dbPath != ":memory:" {
		if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
			db.Close()
			return nil, fmt.Errorf("failed to restrict database permissions: %w", err)
		}
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	tokensQuery := `
	CREATE TABLE IF NOT EXISTS auth_tokens (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		encrypted_tokens TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(tokensQuery); err != nil {
		return fmt.Errorf("failed to create auth_tokens table: %w", err)
	}

	settingsQuery := `
	CREATE TABLE IF NOT EXISTS device_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(settingsQuery); err != nil {
		return fmt.Errorf("failed to create device_settings table: %w", err)
	}

	eventsQuery := `
	CREATE TABLE IF NOT EXISTS auth_events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		occurred_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(eventsQuery); err != nil {
		return fmt.Errorf("failed to create auth_events table: %w", err)
	}

	_, err := s.db.Exec("CREATE INDEX IF NOT EXISTS auth_events_occurred_at ON auth_events (occurred_at)")
	if err != nil {
		return fmt.Errorf("failed to create auth_events index: %w", err)
	}

	return nil
}

// LoadTokens returns the persisted token set, or nil, nil if none is stored.
func (s *SQLiteStore) LoadTokens(ctx context.Context) (*auth.TokenSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var encryptedTokens string
	err := s.db.QueryRowContext(ctx,
		"SELECT encrypted_tokens FROM auth_tokens WHERE id = 1",
	).Scan(&encryptedTokens)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}

	tokensJSON, err := Decrypt(encryptedTokens, s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt tokens: %w", err)
	}

	var tokens auth.TokenSet
	if err := json.Unmarshal(tokensJSON, &tokens); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tokens: %w", err)
	}

	return &tokens, nil
}

// SaveTokens replaces the persisted token set.
func (s *SQLiteStore) SaveTokens(ctx context.Context, tokens auth.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokensJSON, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}

	encryptedTokens, err := Encrypt(tokensJSON, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt tokens: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_tokens (id, encrypted_tokens, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			encrypted_tokens = excluded.encrypted_tokens,
			updated_at = excluded.updated_at
	`, encryptedTokens, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}

	return nil
}

// ClearTokens removes the persisted token set. Device settings are kept.
func (s *SQLiteStore) ClearTokens(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM auth_tokens"); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

// GetToken returns the stored access token, or "" if there is none.
func (s *SQLiteStore) GetToken(ctx context.Context) (string, error) {
	tokens, err := s.LoadTokens(ctx)
	if err != nil || tokens == nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// GetRefreshToken returns the stored refresh token, or "" if there is none.
func (s *SQLiteStore) GetRefreshToken(ctx context.Context) (string, error) {
	tokens, err := s.LoadTokens(ctx)
	if err != nil || tokens == nil {
		return "", err
	}
	return tokens.RefreshToken, nil
}

// SetAuthTokens stores a token pair, keeping the device ID from the current
// token set when there is one.
func (s *SQLiteStore) SetAuthTokens(ctx context.Context, accessToken, refreshToken string, expiresAt time.Time) error {
	current, err := s.LoadTokens(ctx)
	if err != nil {
		return err
	}

	tokens := auth.TokenSet{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}
	if current != nil {
		tokens.DeviceID = current.DeviceID
	}
	return s.SaveTokens(ctx, tokens)
}

// DeviceID returns the installation's device ID, generating and persisting
// one on first use.
func (s *SQLiteStore) DeviceID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deviceID string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM device_settings WHERE key = ?", settingDeviceID,
	).Scan(&deviceID)

	if err == nil {
		return deviceID, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to query device id: %w", err)
	}

	deviceID = uuid.NewString()
	if err := s.setSetting(ctx, settingDeviceID, deviceID); err != nil {
		return "", err
	}
	return deviceID, nil
}

// SetDeviceID overrides the stored device ID.
func (s *SQLiteStore) SetDeviceID(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setSetting(ctx, settingDeviceID, deviceID)
}

func (s *SQLiteStore) setSetting(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO device_settings (key, value)
	VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value;
	`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ auth.TokenStore = (*SQLiteStore)(nil)
