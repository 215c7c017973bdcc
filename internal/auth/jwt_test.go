package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignAndParse(t *testing.T) {
	tok, err := SignJWT(42, "s3cret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := ParseJWT(tok, "s3cret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != 42 {
		t.Fatalf("id = %d", id)
	}
}

func TestSignJWT_UniqueIDs(t *testing.T) {
	a, _ := SignJWT(1, "k", time.Hour)
	b, _ := SignJWT(1, "k", time.Hour)
	if a == b {
		t.Fatalf("two tokens issued in the same second should differ by jti")
	}
}

func TestParseJWT_Rejects(t *testing.T) {
	good, _ := SignJWT(7, "right", time.Hour)
	expired, _ := SignJWT(7, "right", -time.Minute)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noSub, _ := noSubject.SignedString([]byte("right"))

	cases := map[string]struct {
		token, secret string
	}{
		"wrong secret": {good, "wrong"},
		"expired":      {expired, "right"},
		"alg none":     {unsigned, "right"},
		"no subject":   {noSub, "right"},
		"garbage":      {"not.a.jwt", "right"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseJWT(tc.token, tc.secret); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
