package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL bounds user tokens when the caller does not choose one.
const DefaultTokenTTL = time.Hour

var (
	// ErrMissingAPISecret is returned when a signer is built without the
	// provider's signing secret.
	ErrMissingAPISecret = errors.New("provider: missing api secret")
	// ErrEmptyUserID is returned when a token is requested for no user.
	ErrEmptyUserID = errors.New("provider: empty user id")
)

// TokenSignerConfig carries the signing material for user tokens.
type TokenSignerConfig struct {
	APISecret []byte
	Clock     func() time.Time
}

// TokenSigner mints the short-lived credentials chat clients present to the
// provider. Tokens are HS256 JWTs over the provider's shared secret.
type TokenSigner struct {
	apiSecret []byte
	clock     func() time.Time
}

// NewTokenSigner validates the configuration and returns a ready signer.
func NewTokenSigner(config TokenSignerConfig) (*TokenSigner, error) {
	if len(config.APISecret) == 0 {
		return nil, ErrMissingAPISecret
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenSigner{apiSecret: config.APISecret, clock: clock}, nil
}

// UserToken signs a token for the given provider user id and returns it with
// its expiry instant.
func (s *TokenSigner) UserToken(externalID string, ttl time.Duration) (string, time.Time, error) {
	if externalID == "" {
		return "", time.Time{}, ErrEmptyUserID
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	issuedAt := s.clock().UTC()
	expiresAt := issuedAt.Add(ttl)
	claims := jwt.MapClaims{
		"user_id": externalID,
		"iat":     issuedAt.Unix(),
		"exp":     expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.apiSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("provider: signing user token: %w", err)
	}
	return signed, expiresAt, nil
}
