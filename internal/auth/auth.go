// Package auth manages API keys for the HTTP API. Keys are stored hashed with
// a pepper in a SQLite database next to the DuckDB file.
package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Auth manages API key authentication.
type Auth struct {
	db     *sql.DB
	pepper string
	log    *logrus.Logger
	now    func() time.Time
}

// New opens (creating if needed) the key database at dbPath.
func New(dbPath, pepper string, log *logrus.Logger) (*Auth, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create auth db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open auth db: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping auth db: %w", err)
	}

	a := &Auth{db: db, pepper: pepper, log: log, now: time.Now}

	if err := a.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init auth schema: %w", err)
	}

	return a, nil
}

// Close closes the auth database.
func (a *Auth) Close() error {
	return a.db.Close()
}

func (a *Auth) initSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			key_hash TEXT NOT NULL UNIQUE,
			key_prefix TEXT NOT NULL,
			scopes INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT,
			revoked_at TEXT,
			last_used_at TEXT,
			created_by TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash);
	`)
	return err
}

// hashKey computes SHA-256(key + pepper).
func (a *Auth) hashKey(key string) string {
	h := sha256.Sum256([]byte(key + a.pepper))
	return hex.EncodeToString(h[:])
}

func (a *Auth) timestamp() string {
	return a.now().UTC().Format(time.RFC3339)
}

// Bootstrap installs bootstrapKey as an admin key when no keys exist yet.
func (a *Auth) Bootstrap(ctx context.Context, bootstrapKey string) error {
	if bootstrapKey == "" {
		return nil
	}
	if !strings.HasPrefix(bootstrapKey, KeyPrefix) {
		return fmt.Errorf("bootstrap key must start with %q", KeyPrefix)
	}

	var count int
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_keys").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if _, err := a.insertKey(ctx, "bootstrap-admin", ScopeAdmin, nil, bootstrapKey, "system"); err != nil {
		return err
	}

	a.log.Warn("bootstrap admin key created, unset WATCHDATA_BOOTSTRAP_KEY")
	return nil
}

// ValidateKey validates an API key and returns its info.
func (a *Auth) ValidateKey(ctx context.Context, key string) (*KeyInfo, error) {
	if !strings.HasPrefix(key, KeyPrefix) {
		return nil, ErrInvalidKey
	}

	var (
		info                 KeyInfo
		expiresAt, revokedAt sql.NullString
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT id, name, key_prefix, scopes, expires_at, revoked_at
		FROM api_keys WHERE key_hash = ?
	`, a.hashKey(key)).Scan(&info.ID, &info.Name, &info.Prefix, &info.Scopes, &expiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}

	if revokedAt.Valid {
		return nil, ErrKeyRevoked
	}

	if expiresAt.Valid {
		t, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil || !a.now().Before(t) {
			return nil, ErrKeyExpired
		}
		info.ExpiresAt = &t
	}

	if _, err := a.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = ? WHERE id = ?", a.timestamp(), info.ID); err != nil {
		a.log.WithError(err).WithField("key_id", info.ID).Warn("failed to record key use")
	}

	return &info, nil
}

// CreateKey creates a new API key. The full key is only ever returned here.
func (a *Auth) CreateKey(ctx context.Context, name string, scopes Scope, expiresAt *time.Time, createdBy string) (string, *KeyInfo, error) {
	key, err := generateKey()
	if err != nil {
		return "", nil, err
	}
	info, err := a.insertKey(ctx, name, scopes, expiresAt, key, createdBy)
	if err != nil {
		return "", nil, err
	}
	return key, info, nil
}

func (a *Auth) insertKey(ctx context.Context, name string, scopes Scope, expiresAt *time.Time, key, createdBy string) (*KeyInfo, error) {
	info := &KeyInfo{
		ID:        generateID(),
		Name:      name,
		Prefix:    key[:min(prefixLen, len(key))],
		Scopes:    scopes,
		CreatedAt: a.now().UTC().Truncate(time.Second),
		ExpiresAt: expiresAt,
	}

	var expires sql.NullString
	if expiresAt != nil {
		expires = sql.NullString{String: expiresAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, expires_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, info.ID, name, a.hashKey(key), info.Prefix, scopes, info.CreatedAt.Format(time.RFC3339), expires, createdBy)
	if err != nil {
		return nil, err
	}

	a.log.WithFields(logrus.Fields{"key_id": info.ID, "name": name, "scopes": scopes.String()}).Info("api key created")
	return info, nil
}

// RevokeKey revokes an API key.
func (a *Auth) RevokeKey(ctx context.Context, keyID string) error {
	res, err := a.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
	`, a.timestamp(), keyID)
	if err != nil {
		return err
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrKeyNotFound
	}
	a.log.WithField("key_id", keyID).Info("api key revoked")
	return nil
}

// ListKeys returns all API keys (without sensitive data), newest first.
func (a *Auth) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, name, key_prefix, scopes, created_at, expires_at, revoked_at, last_used_at
		FROM api_keys ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []KeyInfo{}
	for rows.Next() {
		var k KeyInfo
		var createdAt string
		var expiresAt, revokedAt, lastUsedAt sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.Prefix, &k.Scopes, &createdAt, &expiresAt, &revokedAt, &lastUsedAt); err != nil {
			return nil, err
		}

		k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		k.ExpiresAt = parseNullTime(expiresAt)
		k.Revoked = revokedAt.Valid
		k.LastUsedAt = parseNullTime(lastUsedAt)
		keys = append(keys, k)
	}

	return keys, rows.Err()
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
