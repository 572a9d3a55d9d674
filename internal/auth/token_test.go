// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, invalid tokens, expired tokens and the legacy userId claim

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key-for-jwt-signing!")

func newTestVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	return v
}

func TestNewJWTVerifier_WeakSecret(t *testing.T) {
	if _, err := NewJWTVerifier([]byte("short")); !errors.Is(err, ErrWeakSecret) {
		t.Errorf("NewJWTVerifier() error = %v, want ErrWeakSecret", err)
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate(42, "carla@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	gotID, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if gotID != 42 {
		t.Errorf("Verify() = %d, want 42", gotID)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	other, err := NewJWTVerifier([]byte("a-completely-different-secret-32"))
	if err != nil {
		t.Fatal(err)
	}
	wrongSecret, _ := other.Generate(42, "", time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not-a-jwt-token"},
		{"malformed JWT", "header.payload.signature"},
		{"wrong secret", wrongSecret},
		{"alg none", signed(t, jwt.SigningMethodNone, jwt.MapClaims{"sub": "42"}, jwt.UnsafeAllowNoneSignatureType)},
		{"non numeric sub", signed(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "carla"}, testSecret)},
		{"negative sub", signed(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "-3"}, testSecret)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t)

	token, err := verifier.Generate(42, "", -time.Minute)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_LegacyUserIDClaim(t *testing.T) {
	verifier := newTestVerifier(t)
	token := signed(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": 7,
		"email":  "agent@example.com",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	id, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id != 7 {
		t.Errorf("Verify() = %d, want 7", id)
	}
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	verifier := newTestVerifier(t)
	token := signed(t, jwt.SigningMethodHS256, jwt.MapClaims{"email": "x@example.com"}, testSecret)

	if _, err := verifier.Verify(token); !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
	}
}

func signed(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims, key interface{}) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func TestJWTVerifier_ExpiresAt(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := verifier.Generate(42, "", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	exp, err := verifier.ExpiresAt(token)
	if err != nil {
		t.Fatalf("ExpiresAt() error = %v", err)
	}
	if d := time.Until(exp); d <= 59*time.Minute || d > time.Hour {
		t.Errorf("ExpiresAt() is %v away, want about an hour", d)
	}

	noExp := signed(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "42"}, testSecret)
	if _, err := verifier.ExpiresAt(noExp); !errors.Is(err, ErrMissingClaim) {
		t.Errorf("ExpiresAt() error = %v, want ErrMissingClaim", err)
	}
	if _, err := verifier.ExpiresAt("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ExpiresAt() error = %v, want ErrInvalidToken", err)
	}
}
