package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Alexmontesino96/GymAPI-sub000/internal/cache"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/identity"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/provider"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/retry"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/tenancy"
)

// DefaultTokenRetention keeps issued tokens cached past their expiry so an
// expired token can still be served when the provider is down.
const DefaultTokenRetention = 24 * time.Hour

// tokenExpiryMargin is how much remaining lifetime a cached token needs to
// be served as fresh.
const tokenExpiryMargin = 30 * time.Second

// Token is a provider credential for one user under one gym. Stale tokens
// come from the degraded fallback and may already be expired.
type Token struct {
	Value      string
	ExternalID string
	ExpiresAt  time.Time
	Stale      bool
}

// TokenServiceConfig describes the dependencies of the token service.
type TokenServiceConfig struct {
	Tenancy  *tenancy.Service
	Provider provider.Client
	Signer   *provider.TokenSigner
	Cache    cache.Cache
	Retry    retry.Policy
	Clock    func() time.Time
	Logger   *zap.Logger
	// TokenTTL is the lifetime of freshly signed tokens.
	TokenTTL time.Duration
	// Retention is how long issued tokens stay cached for the degraded
	// fallback.
	Retention time.Duration
}

// TokenService issues provider credentials, caching them per (gym, user).
// The provider identity is upserted before signing so a first-time user can
// connect immediately with the returned token.
type TokenService struct {
	tenancy   *tenancy.Service
	provider  provider.Client
	signer    *provider.TokenSigner
	cache     cache.Cache
	retry     retry.Policy
	clock     func() time.Time
	logger    *zap.Logger
	tokenTTL  time.Duration
	retention time.Duration
}

// NewTokenService validates the configuration and returns a ready service.
func NewTokenService(cfg TokenServiceConfig) (*TokenService, error) {
	if cfg.Tenancy == nil {
		return nil, fmt.Errorf("chat: tenancy service required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("chat: provider client required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("chat: token signer required")
	}

	cacheBackend := cfg.Cache
	if cacheBackend == nil {
		cacheBackend = cache.NewMemory(cache.MemoryConfig{Clock: cfg.Clock})
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retryPolicy := cfg.Retry
	if retryPolicy.Retryable == nil {
		retryPolicy.Retryable = provider.Retryable
	}
	tokenTTL := cfg.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = provider.DefaultTokenTTL
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultTokenRetention
	}

	return &TokenService{
		tenancy:   cfg.Tenancy,
		provider:  cfg.Provider,
		signer:    cfg.Signer,
		cache:     cacheBackend,
		retry:     retryPolicy,
		clock:     clock,
		logger:    logger,
		tokenTTL:  tokenTTL,
		retention: retention,
	}, nil
}

type tokenEnvelope struct {
	Token      string    `json:"token"`
	ExternalID string    `json:"external_id"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func tokenKey(gymID, userID int64) string {
	return fmt.Sprintf("chat:token:%d:%d", gymID, userID)
}

// IssueToken returns a provider credential for the user scoped to the gym.
// A cached token with enough remaining lifetime is reused as is. When a
// fresh token cannot be produced, the most recent cached one is returned
// marked stale instead of failing the caller.
func (s *TokenService) IssueToken(ctx context.Context, userID, gymID int64) (Token, error) {
	if userID <= 0 {
		return Token{}, tenancy.ErrInvalidUserID
	}
	if gymID <= 0 {
		return Token{}, tenancy.ErrInvalidGymID
	}

	belongs, err := s.tenancy.MemberOfTenant(ctx, userID, gymID)
	if err != nil {
		return Token{}, err
	}
	if !belongs {
		return Token{}, fmt.Errorf("%w: user %d, gym %d", ErrNotAMember, userID, gymID)
	}

	key := tokenKey(gymID, userID)
	cached, hasCached := s.cachedEnvelope(ctx, key)
	now := s.clock().UTC()
	if hasCached && cached.ExpiresAt.After(now.Add(tokenExpiryMargin)) {
		return Token{Value: cached.Token, ExternalID: cached.ExternalID, ExpiresAt: cached.ExpiresAt}, nil
	}

	token, issueErr := s.issueFresh(ctx, userID, gymID, now)
	if issueErr == nil {
		return token, nil
	}
	if hasCached {
		s.logger.Warn("serving stale chat token after issuance failure",
			zap.Int64("user_id", userID),
			zap.Int64("gym_id", gymID),
			zap.Error(issueErr))
		return Token{Value: cached.Token, ExternalID: cached.ExternalID, ExpiresAt: cached.ExpiresAt, Stale: true}, nil
	}
	return Token{}, fmt.Errorf("%w: %v", ErrTokenIssuance, issueErr)
}

// InvalidateToken drops the cached token for the (gym, user) pair.
func (s *TokenService) InvalidateToken(ctx context.Context, userID, gymID int64) error {
	return s.cache.Delete(ctx, tokenKey(gymID, userID))
}

func (s *TokenService) issueFresh(ctx context.Context, userID, gymID int64, now time.Time) (Token, error) {
	user, err := s.tenancy.UserByID(ctx, userID)
	if err != nil {
		return Token{}, err
	}
	tenants, err := s.tenancy.TenantsOf(ctx, userID)
	if err != nil {
		return Token{}, err
	}
	externalID, err := identity.External(userID, gymID)
	if err != nil {
		return Token{}, err
	}

	if _, upsertErr := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.provider.UpsertUser(ctx, provider.User{ID: externalID, Name: user.Name(), Teams: gymTeams(tenants)})
	}); upsertErr != nil {
		return Token{}, fmt.Errorf("upserting provider user %q: %w", externalID, upsertErr)
	}

	signed, expiresAt, err := s.signer.UserToken(externalID, s.tokenTTL)
	if err != nil {
		return Token{}, err
	}

	envelope := tokenEnvelope{Token: signed, ExternalID: externalID, IssuedAt: now, ExpiresAt: expiresAt}
	encoded, err := json.Marshal(envelope)
	if err == nil {
		if cacheErr := s.cache.Set(ctx, tokenKey(gymID, userID), string(encoded), s.retention); cacheErr != nil {
			s.logger.Debug("caching chat token failed", zap.Error(cacheErr))
		}
	}
	return Token{Value: signed, ExternalID: externalID, ExpiresAt: expiresAt}, nil
}

func (s *TokenService) cachedEnvelope(ctx context.Context, key string) (tokenEnvelope, bool) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Debug("reading cached chat token failed", zap.Error(err))
		}
		return tokenEnvelope{}, false
	}
	var envelope tokenEnvelope
	if json.Unmarshal([]byte(raw), &envelope) != nil {
		return tokenEnvelope{}, false
	}
	if envelope.Token == "" || envelope.ExternalID == "" {
		return tokenEnvelope{}, false
	}
	return envelope, true
}
