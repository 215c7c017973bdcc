package vault

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Placeholder replaces message content that cannot be opened.
const Placeholder = "***Message Encrypted***"

const tokenVersion byte = 0x01

var (
	ErrMalformedToken = errors.New("vault: malformed token")
	ErrAuthFailed     = errors.New("vault: message authentication failed")
)

// Seal encrypts plaintext with XChaCha20-Poly1305 under a fresh random
// nonce. The token is URL-safe base64 of version || nonce || ciphertext.
func Seal(plaintext string, key Key) (string, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return "", fmt.Errorf("vault: init cipher: %w", err)
	}

	buf := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	buf[0] = tokenVersion
	if _, err := rand.Read(buf[1:]); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	nonce := buf[1:]

	out := aead.Seal(buf, nonce, []byte(plaintext), buf[:1])
	return base64.URLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. It fails with ErrMalformedToken when the token cannot
// be parsed and ErrAuthFailed when the tag does not verify under key.
func Open(token string, key Key) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return "", fmt.Errorf("vault: init cipher: %w", err)
	}
	if len(raw) < 1+aead.NonceSize()+aead.Overhead() || raw[0] != tokenVersion {
		return "", ErrMalformedToken
	}

	nonce := raw[1 : 1+aead.NonceSize()]
	plain, err := aead.Open(nil, nonce, raw[1+aead.NonceSize():], raw[:1])
	if err != nil {
		return "", ErrAuthFailed
	}
	return string(plain), nil
}

// OpenOrPlaceholder is Open with every failure mapped to Placeholder.
func OpenOrPlaceholder(token string, key Key) string {
	plain, err := Open(token, key)
	if err != nil {
		return Placeholder
	}
	return plain
}
