package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"zkdpp/pkg/errors"
)

const keyPrefix = "zkdpp_live_"

// Caller is the authenticated identity behind an API key.
type Caller struct {
	// KeyID is a short, non-secret prefix of the key hash, safe to log.
	KeyID string
	Tier  string
}

// APIKeyService validates raw API keys against configured sha256 hashes.
type APIKeyService struct {
	byHash map[string]string
}

// NewAPIKeyService parses "sha256hex:tier" entries.
func NewAPIKeyService(entries []string) (*APIKeyService, error) {
	s := &APIKeyService{byHash: make(map[string]string, len(entries))}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		hash, tier, ok := strings.Cut(entry, ":")
		hash = strings.ToLower(strings.TrimSpace(hash))
		tier = strings.ToLower(strings.TrimSpace(tier))
		if !ok || tier == "" {
			return nil, fmt.Errorf("api key entry %q: expected sha256hex:tier", truncate(entry))
		}
		if b, err := hex.DecodeString(hash); err != nil || len(b) != sha256.Size {
			return nil, fmt.Errorf("api key entry %q: hash must be 64 hex characters", truncate(entry))
		}
		s.byHash[hash] = tier
	}
	return s, nil
}

// Enabled reports whether any keys are configured. With none, the API is open.
func (s *APIKeyService) Enabled() bool {
	return s != nil && len(s.byHash) > 0
}

// ValidateKey hashes the incoming key and resolves its tier.
func (s *APIKeyService) ValidateKey(rawKey string) (*Caller, error) {
	hash := HashKey(rawKey)
	tier, ok := s.byHash[hash]
	if !ok {
		return nil, errors.ErrInvalidAPIKey
	}
	return &Caller{KeyID: hash[:12], Tier: tier}, nil
}

// HashKey returns the hex sha256 of a raw key.
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(rawKey)))
	return hex.EncodeToString(hash[:])
}

// GenerateKey creates a random key and the configuration entry that admits it.
func GenerateKey(tier string) (rawKey, entry string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", errors.Wrap(err, "failed to generate random bytes")
	}
	rawKey = keyPrefix + hex.EncodeToString(keyBytes)
	return rawKey, HashKey(rawKey) + ":" + strings.ToLower(tier), nil
}

func truncate(s string) string {
	if len(s) > 16 {
		return s[:16] + "..."
	}
	return s
}
