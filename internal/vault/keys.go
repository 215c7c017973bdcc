// Package vault derives per-user message keys and seals message bodies.
//
// No key material is persisted: a user's key is recomputed from the user id
// and the account secret, so changing either orphans earlier messages.
package vault

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize       = 32
	KDFIterations = 100_000
)

// Key is 256-bit symmetric key material.
type Key [KeySize]byte

// String returns the URL-safe base64 form of the key.
func (k Key) String() string {
	return base64.URLEncoding.EncodeToString(k[:])
}

// ParseKey decodes the form produced by Key.String.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("vault: decode key: %w", err)
	}
	if len(b) != KeySize {
		return k, fmt.Errorf("vault: key is %d bytes, want %d", len(b), KeySize)
	}
	copy(k[:], b)
	return k, nil
}

// DeriveKey runs PBKDF2-HMAC-SHA256 with the secret as password and the
// decimal user id as salt.
func DeriveKey(userID uint64, secret string) Key {
	salt := []byte(strconv.FormatUint(userID, 10))
	var k Key
	copy(k[:], pbkdf2.Key([]byte(secret), salt, KDFIterations, KeySize, sha256.New))
	return k
}

// KeyCache memoises DeriveKey per user id for the life of the cache.
// Entries are never evicted or invalidated.
type KeyCache struct {
	mu     sync.RWMutex
	keys   map[uint64]Key
	derive func(uint64, string) Key
}

func NewKeyCache() *KeyCache {
	return &KeyCache{keys: make(map[uint64]Key), derive: DeriveKey}
}

// Get returns the cached key for userID, deriving it from secret on first
// use. Two callers racing on the same user may both derive; they store the
// same value.
func (c *KeyCache) Get(userID uint64, secret string) Key {
	c.mu.RLock()
	k, ok := c.keys[userID]
	c.mu.RUnlock()
	if ok {
		return k
	}

	k = c.derive(userID, secret)

	c.mu.Lock()
	c.keys[userID] = k
	c.mu.Unlock()
	return k
}

// Len reports how many users have a cached key.
func (c *KeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}
