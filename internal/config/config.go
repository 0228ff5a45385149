package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "GYMAPI"

	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabaseDSN   = "gymapi.db"
	defaultLogLevel      = "info"
	defaultSessionIssuer = "gymapi"
	defaultCacheURL      = "memory://"
	defaultMaxInFlight   = 8
	defaultRetryAttempts = 3
	defaultTokenTTL      = time.Hour
	defaultVerifiedTTL   = 10 * time.Minute
)

// AppConfig captures runtime configuration for the chat API server and the
// identity migration tool.
type AppConfig struct {
	HTTPAddress         string
	DatabaseDSN         string
	LogLevel            string
	SessionSigningKey   string
	SessionIssuer       string
	ProviderBaseURL     string
	ProviderAPIKey      string
	ProviderAPISecret   string
	ProviderMaxInFlight int
	RetryAttempts       int
	CacheURL            string
	TokenTTL            time.Duration
	VerifiedTTL         time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("provider.max_in_flight", defaultMaxInFlight)
	configViper.SetDefault("retry.attempts", defaultRetryAttempts)
	configViper.SetDefault("cache.url", defaultCacheURL)
	configViper.SetDefault("token.ttl", defaultTokenTTL)
	configViper.SetDefault("chat.verified_ttl", defaultVerifiedTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabaseDSN:         configViper.GetString("database.dsn"),
		LogLevel:            configViper.GetString("log.level"),
		SessionSigningKey:   configViper.GetString("session.signing_secret"),
		SessionIssuer:       configViper.GetString("session.issuer"),
		ProviderBaseURL:     configViper.GetString("provider.base_url"),
		ProviderAPIKey:      configViper.GetString("provider.api_key"),
		ProviderAPISecret:   configViper.GetString("provider.api_secret"),
		ProviderMaxInFlight: configViper.GetInt("provider.max_in_flight"),
		RetryAttempts:       configViper.GetInt("retry.attempts"),
		CacheURL:            configViper.GetString("cache.url"),
		TokenTTL:            configViper.GetDuration("token.ttl"),
		VerifiedTTL:         configViper.GetDuration("chat.verified_ttl"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if strings.TrimSpace(c.ProviderBaseURL) == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if strings.TrimSpace(c.ProviderAPIKey) == "" || strings.TrimSpace(c.ProviderAPISecret) == "" {
		return fmt.Errorf("provider.api_key and provider.api_secret are required")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl must be positive")
	}
	if c.VerifiedTTL <= 0 {
		return fmt.Errorf("chat.verified_ttl must be positive")
	}
	return nil
}
