package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionIssuer        = "gymapi"
)

func testValidator(t *testing.T, clockNow time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signSessionToken(t *testing.T, secret, issuer, subject string, clockNow time.Time, lifetime time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		Email: "member@example.com",
		Name:  "Member One",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(lifetime)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	validator := testValidator(t, clockNow)
	signed := signSessionToken(t, testSessionSigningSecret, testSessionIssuer, "42", clockNow, time.Hour)

	session, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if session.UserID != 42 {
		t.Fatalf("unexpected user id: %d", session.UserID)
	}
	if session.Email != "member@example.com" {
		t.Fatalf("unexpected email: %s", session.Email)
	}
}

func TestSessionValidatorValidateTokenExpired(t *testing.T) {
	clockNow := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	validator := testValidator(t, clockNow)
	signed := signSessionToken(t, testSessionSigningSecret, testSessionIssuer, "42", clockNow.Add(-2*time.Hour), time.Hour)

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionValidatorValidateTokenRejectsWrongSecret(t *testing.T) {
	clockNow := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	validator := testValidator(t, clockNow)
	signed := signSessionToken(t, "other-secret", testSessionIssuer, "42", clockNow, time.Hour)

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestSessionValidatorValidateTokenRejectsWrongIssuer(t *testing.T) {
	clockNow := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	validator := testValidator(t, clockNow)
	signed := signSessionToken(t, testSessionSigningSecret, "someone-else", "42", clockNow, time.Hour)

	if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestSessionValidatorValidateTokenRejectsNonNumericSubject(t *testing.T) {
	clockNow := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	validator := testValidator(t, clockNow)

	for _, subject := range []string{"", "auth0|abc123", "-7", "0"} {
		signed := signSessionToken(t, testSessionSigningSecret, testSessionIssuer, subject, clockNow, time.Hour)
		if _, err := validator.ValidateToken(signed); !errors.Is(err, ErrInvalidSessionSubject) {
			t.Fatalf("subject %q: expected subject error, got %v", subject, err)
		}
	}
}

func TestSessionValidatorValidateRequestUsesBearerHeader(t *testing.T) {
	clockNow := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	validator := testValidator(t, clockNow)
	signed := signSessionToken(t, testSessionSigningSecret, testSessionIssuer, "42", clockNow, time.Hour)

	request := httptest.NewRequest(http.MethodGet, "/api/v1/chat/rooms", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+signed)

	session, err := validator.ValidateRequest(request)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if session.UserID != 42 {
		t.Fatalf("unexpected user id: %d", session.UserID)
	}
}

func TestSessionValidatorValidateRequestRejectsMissingHeader(t *testing.T) {
	validator := testValidator(t, time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC))

	request := httptest.NewRequest(http.MethodGet, "/api/v1/chat/rooms", http.NoBody)
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}

	request.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if _, err := validator.ValidateRequest(request); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error for non-bearer scheme, got %v", err)
	}
}
