package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestBearerTokenSuccess(t *testing.T) {
	token, err := bearerToken("Bearer header.payload.signature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenMissing(t *testing.T) {
	if _, err := bearerToken(""); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
	if _, err := bearerToken("   "); err != errMissingAuthorization {
		t.Fatalf("expected missing header error for blanks, got %v", err)
	}
}

func TestBearerTokenWrongScheme(t *testing.T) {
	if _, err := bearerToken("Basic dXNlcjpwYXNz"); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
	if _, err := bearerToken("Bearer "); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error for empty token, got %v", err)
	}
}

func TestBearerTokenManyPeriods(t *testing.T) {
	header := "Bearer " + strings.Repeat(".", 1000)
	if _, err := bearerToken(header); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestIdentityFromBearerHS256(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"sub":     "user-123",
		"name":    "Test User",
		"picture": "https://avatars/u123.png",
		"aud":     "api://aud",
		"iss":     "https://issuer/",
		"exp":     time.Now().Add(5 * time.Minute).Unix(),
		"nbf":     time.Now().Add(-time.Minute).Unix(),
		"iat":     time.Now().Add(-time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	auth := &Auth{
		Audience:   "api://aud",
		Issuer:     "https://issuer/",
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}

	identity, err := auth.IdentityFromBearer(signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if identity.UserID != "user-123" {
		t.Fatalf("unexpected user id: %s", identity.UserID)
	}
	if identity.DisplayName != "Test User" {
		t.Fatalf("unexpected display name: %s", identity.DisplayName)
	}
	if identity.AvatarRef != "https://avatars/u123.png" {
		t.Fatalf("unexpected avatar ref: %s", identity.AvatarRef)
	}
}

func TestIdentityFromBearerExpired(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-5 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	auth := &Auth{
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation()),
	}

	if _, err := auth.IdentityFromBearer(signed); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestIdentityFromBearerMissingSub(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	auth := &Auth{
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}

	if _, err := auth.IdentityFromBearer(signed); err == nil || err.Error() != "missing sub" {
		t.Fatalf("expected missing sub error, got %v", err)
	}
}
