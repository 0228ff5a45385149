package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Alexmontesino96/GymAPI-sub000/internal/provider"
)

func TestIssueTokenOverHTTP(t *testing.T) {
	env := newServerEnv(t)
	env.seedGyms(t, 2, 3)
	env.seedUser(t, 1, 2, 3)

	recorder := env.do(t, http.MethodGet, "/api/v1/chat/token", "", 1, 2)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["external_id"] != "user_2_1" {
		t.Fatalf("unexpected external id: %v", payload["external_id"])
	}
	if payload["stale"] != false {
		t.Fatalf("expected a fresh token, got %v", payload["stale"])
	}

	// The token must verify against the provider secret and carry the
	// external id.
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(payload["token"].(string), claims, func(*jwt.Token) (interface{}, error) {
		return []byte(serverProviderSecret), nil
	}, jwt.WithTimeFunc(serverClock), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		t.Fatalf("parsing issued token: %v", err)
	}
	if claims["user_id"] != "user_2_1" {
		t.Fatalf("unexpected token subject: %v", claims["user_id"])
	}
}

func TestIssueTokenRejectsForeignGym(t *testing.T) {
	env := newServerEnv(t)
	env.seedGyms(t, 2, 5)
	env.seedUser(t, 1, 2)

	recorder := env.do(t, http.MethodGet, "/api/v1/chat/token", "", 1, 5)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	if payload := decodeBody(t, recorder); payload["error"] != "not_a_member" {
		t.Fatalf("unexpected error code: %v", payload["error"])
	}
}

func TestIssueTokenOutageMapsToServiceUnavailable(t *testing.T) {
	env := newServerEnv(t)
	env.seedGyms(t, 2)
	env.seedUser(t, 1, 2)
	env.backend.FailWith = func(operation string) error {
		if operation == "UpsertUser" {
			return fmt.Errorf("%w: simulated outage", provider.ErrTransient)
		}
		return nil
	}

	recorder := env.do(t, http.MethodGet, "/api/v1/chat/token", "", 1, 2)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
	if payload := decodeBody(t, recorder); payload["error"] != "token_unavailable" {
		t.Fatalf("unexpected error code: %v", payload["error"])
	}
}
