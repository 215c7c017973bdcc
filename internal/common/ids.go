package common

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// NewOpaqueID returns 16 random bytes in padded URL-safe base64 (24 chars).
func NewOpaqueID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// NewULID returns a time-sortable id, used for request correlation.
func NewULID() string {
	return ulid.Make().String()
}
