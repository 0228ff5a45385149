package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Alexmontesino96/GymAPI-sub000/internal/auth"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/cache"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/chat"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/config"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/database"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/logging"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/migrate"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/provider"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/retry"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/server"
	"github.com/Alexmontesino96/GymAPI-sub000/internal/tenancy"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "chat-api",
		Short: "GymAPI chat identity and channel resolution service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newMigrateCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN (SQLite path or postgres:// URL)")
	cmd.PersistentFlags().String("cache-url", defaults.GetString("cache.url"), "Cache URL (memory:// or redis://)")
	cmd.PersistentFlags().String("provider-base-url", defaults.GetString("provider.base_url"), "Chat provider base URL")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("session-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "cache.url", "cache-url")
	bindFlag(cmd, "provider.base_url", "provider-base-url")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "session-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func newMigrateCommand() *cobra.Command {
	var (
		dryRun       bool
		deleteLegacy bool
		pageSize     int
	)

	cmd := &cobra.Command{
		Use:   "migrate-identities",
		Short: "Rewrite legacy provider identities to tenant-qualified ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigration(cmd.Context(), dryRun, deleteLegacy, pageSize)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without mutating the provider")
	cmd.Flags().BoolVar(&deleteLegacy, "delete-legacy", false, "Delete legacy identities after their channels are repointed")
	cmd.Flags().IntVar(&pageSize, "page-size", migrate.DefaultPageSize, "Provider listing page size")
	return cmd
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	cacheBackend, err := cache.BuildFromURL(ctx, appConfig.CacheURL)
	if err != nil {
		return err
	}
	defer cacheBackend.Close()

	providerClient, err := provider.NewHTTPClient(provider.HTTPClientConfig{
		BaseURL:       appConfig.ProviderBaseURL,
		APIKey:        appConfig.ProviderAPIKey,
		APISecret:     appConfig.ProviderAPISecret,
		MaxConcurrent: appConfig.ProviderMaxInFlight,
	})
	if err != nil {
		return err
	}

	signer, err := provider.NewTokenSigner(provider.TokenSignerConfig{
		APISecret: []byte(appConfig.ProviderAPISecret),
	})
	if err != nil {
		return err
	}

	retryPolicy := retry.Policy{
		Attempts:  appConfig.RetryAttempts,
		Retryable: provider.Retryable,
	}

	tenants, err := tenancy.NewService(tenancy.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	store, err := chat.NewStore(chat.StoreConfig{Database: db})
	if err != nil {
		return err
	}

	resolver, err := chat.NewResolver(chat.ResolverConfig{
		Store:       store,
		Tenancy:     tenants,
		Provider:    providerClient,
		Cache:       cacheBackend,
		Retry:       retryPolicy,
		Logger:      logger,
		VerifiedTTL: appConfig.VerifiedTTL,
	})
	if err != nil {
		return err
	}

	tokens, err := chat.NewTokenService(chat.TokenServiceConfig{
		Tenancy:  tenants,
		Provider: providerClient,
		Signer:   signer,
		Cache:    cacheBackend,
		Retry:    retryPolicy,
		Logger:   logger,
		TokenTTL: appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSigningKey),
		Issuer:        appConfig.SessionIssuer,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions: sessions,
		Resolver: resolver,
		Tokens:   tokens,
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runMigration(ctx context.Context, dryRun, deleteLegacy bool, pageSize int) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	providerClient, err := provider.NewHTTPClient(provider.HTTPClientConfig{
		BaseURL:       appConfig.ProviderBaseURL,
		APIKey:        appConfig.ProviderAPIKey,
		APISecret:     appConfig.ProviderAPISecret,
		MaxConcurrent: appConfig.ProviderMaxInFlight,
	})
	if err != nil {
		return err
	}

	tenants, err := tenancy.NewService(tenancy.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	migrator, err := migrate.New(migrate.Config{
		Tenancy:  tenants,
		Provider: providerClient,
		Retry: retry.Policy{
			Attempts:  appConfig.RetryAttempts,
			Retryable: provider.Retryable,
		},
		Logger:       logger,
		PageSize:     pageSize,
		DryRun:       dryRun,
		DeleteLegacy: deleteLegacy,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err = migrator.Run(signalCtx)
	return err
}
