package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/Alexmontesino96/GymAPI-sub000/internal/auth"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/cache"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/chat"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/provider"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/retry"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/tenancy"
)

const (
	serverSessionSecret  = "server-session-secret"
	serverSessionIssuer  = "gymapi"
	serverProviderSecret = "server-provider-secret"
)

var serverInstant = time.Date(2025, time.March, 9, 12, 0, 0, 0, time.UTC)

func serverClock() time.Time {
	return serverInstant
}

type serverEnv struct {
	db      *gorm.DB
	backend *provider.InMemory
	handler http.Handler
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("accessing database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&chat.Room{}, &chat.Membership{}, &tenancy.Gym{}, &tenancy.User{}, &tenancy.GymMembership{}); err != nil {
		t.Fatalf("migrating schema: %v", err)
	}

	store, err := chat.NewStore(chat.StoreConfig{Database: db, Clock: serverClock})
	if err != nil {
		t.Fatalf("building store: %v", err)
	}
	tenants, err := tenancy.NewService(tenancy.ServiceConfig{Database: db, Clock: serverClock})
	if err != nil {
		t.Fatalf("building tenancy service: %v", err)
	}
	backend := provider.NewInMemoryWithClock(serverClock)
	cacheBackend := cache.NewMemory(cache.MemoryConfig{Clock: serverClock})
	retryPolicy := retry.Policy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	resolver, err := chat.NewResolver(chat.ResolverConfig{
		Store:    store,
		Tenancy:  tenants,
		Provider: backend,
		Cache:    cacheBackend,
		Retry:    retryPolicy,
		Clock:    serverClock,
	})
	if err != nil {
		t.Fatalf("building resolver: %v", err)
	}
	signer, err := provider.NewTokenSigner(provider.TokenSignerConfig{APISecret: []byte(serverProviderSecret), Clock: serverClock})
	if err != nil {
		t.Fatalf("building signer: %v", err)
	}
	tokens, err := chat.NewTokenService(chat.TokenServiceConfig{
		Tenancy:  tenants,
		Provider: backend,
		Signer:   signer,
		Cache:    cacheBackend,
		Retry:    retryPolicy,
		Clock:    serverClock,
	})
	if err != nil {
		t.Fatalf("building token service: %v", err)
	}
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(serverSessionSecret),
		Issuer:        serverSessionIssuer,
		Clock:         serverClock,
	})
	if err != nil {
		t.Fatalf("building session validator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions: sessions,
		Resolver: resolver,
		Tokens:   tokens,
		Database: db,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("building handler: %v", err)
	}

	return &serverEnv{db: db, backend: backend, handler: handler}
}

func (e *serverEnv) seedGyms(t *testing.T, gymIDs ...int64) {
	t.Helper()
	for _, gymID := range gymIDs {
		gym := tenancy.Gym{
			ID:        gymID,
			Name:      fmt.Sprintf("Gym %d", gymID),
			Subdomain: fmt.Sprintf("gym-%d", gymID),
		}
		if err := e.db.Create(&gym).Error; err != nil {
			t.Fatalf("seeding gym %d: %v", gymID, err)
		}
	}
}

func (e *serverEnv) seedUser(t *testing.T, userID int64, gymIDs ...int64) {
	t.Helper()
	user := tenancy.User{
		ID:          userID,
		AuthSubject: fmt.Sprintf("auth0|u%d", userID),
		Email:       fmt.Sprintf("member%d@example.com", userID),
		DisplayName: fmt.Sprintf("Member %d", userID),
	}
	if err := e.db.Create(&user).Error; err != nil {
		t.Fatalf("seeding user %d: %v", userID, err)
	}
	for _, gymID := range gymIDs {
		membership := tenancy.GymMembership{GymID: gymID, UserID: userID, Role: "MEMBER"}
		if err := e.db.Create(&membership).Error; err != nil {
			t.Fatalf("seeding membership %d/%d: %v", gymID, userID, err)
		}
	}
}

func (e *serverEnv) bearerFor(t *testing.T, userID int64) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    serverSessionIssuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(serverInstant.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(serverInstant.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(serverSessionSecret))
	if err != nil {
		t.Fatalf("signing session token: %v", err)
	}
	return signed
}

// do performs an authenticated request as userID under gymID. A zero userID
// omits the Authorization header and a zero gymID omits the tenant header.
func (e *serverEnv) do(t *testing.T, method, path, body string, userID, gymID int64) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if userID > 0 {
		request.Header.Set("Authorization", "Bearer "+e.bearerFor(t, userID))
	}
	if gymID > 0 {
		request.Header.Set(gymHeader, strconv.FormatInt(gymID, 10))
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestRouterRejectsMissingSession(t *testing.T) {
	env := newServerEnv(t)

	recorder := env.do(t, http.MethodGet, "/api/v1/chat/rooms", "", 0, 2)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodGet, "/api/v1/chat/rooms", http.NoBody)
	request.Header.Set("Authorization", "Bearer not-a-jwt")
	request.Header.Set(gymHeader, "2")
	recorder = httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a malformed token, got %d", recorder.Code)
	}
}

func TestRouterRequiresGymHeader(t *testing.T) {
	env := newServerEnv(t)
	env.seedGyms(t, 2)
	env.seedUser(t, 1, 2)

	recorder := env.do(t, http.MethodGet, "/api/v1/chat/rooms", "", 1, 0)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without the tenant header, got %d", recorder.Code)
	}
	if payload := decodeBody(t, recorder); payload["error"] != "missing_gym" {
		t.Fatalf("unexpected error code: %v", payload["error"])
	}

	request := httptest.NewRequest(http.MethodGet, "/api/v1/chat/rooms", http.NoBody)
	request.Header.Set("Authorization", "Bearer "+env.bearerFor(t, 1))
	request.Header.Set(gymHeader, "not-a-number")
	recorder = httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed tenant header, got %d", recorder.Code)
	}
}

func TestHealthEndpointSkipsAuth(t *testing.T) {
	env := newServerEnv(t)

	recorder := env.do(t, http.MethodGet, "/healthz", "", 0, 0)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", recorder.Code)
	}
	if payload := decodeBody(t, recorder); payload["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", payload)
	}
}

func TestAuthorizeRequestLogsInvalidTokenAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/v1/chat/rooms", http.NoBody)
	request.Header.Set("Authorization", "Bearer tampered-token")
	ctx.Request = request

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(serverSessionSecret),
		Clock:         serverClock,
	})
	if err != nil {
		t.Fatalf("building session validator: %v", err)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{sessions: sessions, logger: zap.New(core)}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %s", entries[0].Level)
	}
	if entries[0].Message != "session validation failed" {
		t.Fatalf("unexpected log message: %q", entries[0].Message)
	}
}

func TestAuthorizeRequestStaysQuietForMissingTokens(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/v1/chat/rooms", http.NoBody)

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(serverSessionSecret),
		Clock:         serverClock,
	})
	if err != nil {
		t.Fatalf("building session validator: %v", err)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{sessions: sessions, logger: zap.New(core)}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	if entries := logs.All(); len(entries) != 0 {
		t.Fatalf("expected no log entries for an absent header, got %d", len(entries))
	}
}

func TestCORSMiddlewareAllowsTenantHeader(t *testing.T) {
	env := newServerEnv(t)

	request := httptest.NewRequest(http.MethodOptions, "/api/v1/chat/rooms", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", gymHeader)

	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), strings.ToLower(gymHeader)) {
		t.Fatalf("expected Access-Control-Allow-Headers to include %s, got %q", gymHeader, allowHeaders)
	}
}
