// Package apikey issues the secret keys merchants authenticate API calls
// with. Only a SHA-256 hash of each key is stored; the plaintext is returned
// once, at issue time.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Prefix starts every live key.
const Prefix = "gtp_live_"

// prefixLength is how much of the plaintext is kept for display.
const prefixLength = 15

var (
	ErrNotFound   = errors.New("api key not found")
	ErrInvalidKey = errors.New("invalid api key")
)

// Key is a stored API key
type Key struct {
	ID         string     `json:"id"`
	MerchantID string     `json:"merchant_id"`
	Prefix     string     `json:"key_prefix"`
	Hash       string     `json:"-"`
	Active     bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Issued is a freshly generated key together with its only plaintext copy
type Issued struct {
	*Key
	Secret string `json:"api_key"`
}

// Generate returns a new plaintext key
func Generate() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return Prefix + hex.EncodeToString(b), nil
}

// Hash returns the stored form of a plaintext key
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix is the part of the key shown back to the merchant
func DisplayPrefix(secret string) string {
	if len(secret) < prefixLength {
		return secret
	}
	return secret[:prefixLength]
}

// Store persists keys
type Store interface {
	Insert(ctx context.Context, k *Key) error
	List(ctx context.Context, merchantID string) ([]*Key, error)
	// Rotate deactivates the merchant's key oldID and inserts next in one
	// transaction. It returns ErrNotFound when oldID is not an active key of
	// the merchant.
	Rotate(ctx context.Context, merchantID, oldID string, next *Key) error
	Deactivate(ctx context.Context, merchantID, id string) error
	// FindActive returns the active key with the given hash.
	FindActive(ctx context.Context, hash string) (*Key, error)
	Touch(ctx context.Context, id string, at time.Time) error
}
