package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix starts every watchdata API key.
const KeyPrefix = "wd_"

// prefixLen is how much of a key is stored in clear for identification.
const prefixLen = len(KeyPrefix) + 8

// KeyInfo contains API key metadata (no secrets).
type KeyInfo struct {
	ID         string
	Name       string
	Prefix     string
	Scopes     Scope
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	Revoked    bool
}

// generateKey creates a new API key: wd_<32 random hex chars>
func generateKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}

func generateID() string {
	return uuid.New().String()
}
