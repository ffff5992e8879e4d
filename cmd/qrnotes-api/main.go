package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/config"
	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/database"
	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/mail"
	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/qr"
	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/qrnotes/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "qrnotes-api",
		Short: "QR Notes backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	provisionCmd := &cobra.Command{
		Use:   "provision <slug>...",
		Short: "Create unclaimed QR codes for the given slugs",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(args)
		},
	}
	rootCmd.AddCommand(provisionCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address")
	cmd.PersistentFlags().String("app-base-url", defaults.GetString("urls.app_base"), "Base URL magic links point at")
	cmd.PersistentFlags().String("frontend-base-url", defaults.GetString("urls.frontend_base"), "Base URL for claim/edit pages")
	cmd.PersistentFlags().Int("claim-token-ttl-minutes", defaults.GetInt("auth.claim_token_ttl_minutes"), "Magic-link token TTL in minutes")
	cmd.PersistentFlags().Int("session-ttl-hours", defaults.GetInt("auth.session_ttl_hours"), "Session token TTL in hours")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "urls.app_base", "app-base-url")
	bindFlag(cmd, "urls.frontend_base", "frontend-base-url")
	bindFlag(cmd, "auth.claim_token_ttl_minutes", "claim-token-ttl-minutes")
	bindFlag(cmd, "auth.session_ttl_hours", "session-ttl-hours")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
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

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	redisStore, err := cache.NewRedisStore(ctx, cache.RedisConfig{
		Address:  appConfig.RedisAddress,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
	})
	if err != nil {
		return err
	}
	defer redisStore.Close()

	tokenService, err := auth.NewTokenService(auth.TokenServiceConfig{
		SigningSecret:   []byte(appConfig.SigningSecret),
		Issuer:          appConfig.Issuer,
		CookieName:      appConfig.CookieName,
		ClaimTokenTTL:   appConfig.ClaimTokenTTL,
		SessionTokenTTL: appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}

	cachedStore, err := qr.NewCachedStore(qr.CachedStoreConfig{
		Database: db,
		Cache:    redisStore,
		TTL:      appConfig.CacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	claimService, err := qr.NewService(qr.ServiceConfig{
		Database:   db,
		Store:      cachedStore,
		IDProvider: qr.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	authorizer, err := qr.NewAuthorizer(qr.AuthorizerConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	scanLimiter, err := ratelimit.NewLimiter(ratelimit.Config{
		Store:    redisStore,
		Capacity: appConfig.ScanCapacity,
		Window:   appConfig.ScanWindow,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	editLimiter, err := ratelimit.NewLimiter(ratelimit.Config{
		Store:    redisStore,
		Capacity: appConfig.EditCapacity,
		Window:   appConfig.EditWindow,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	var sender mail.Sender
	if appConfig.ResendAPIKey != "" {
		sender, err = mail.NewResendSender(mail.ResendConfig{
			APIKey: appConfig.ResendAPIKey,
			From:   appConfig.MailFrom,
		})
		if err != nil {
			return err
		}
	} else {
		sender = mail.NewLogSender(logger)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:           cachedStore,
		Service:         claimService,
		Authorizer:      authorizer,
		Tokens:          tokenService,
		ScanLimiter:     scanLimiter,
		EditLimiter:     editLimiter,
		Mail:            sender,
		AppBaseURL:      appConfig.AppBaseURL,
		FrontendBaseURL: appConfig.FrontendBaseURL,
		Logger:          logger,
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

// runProvision creates unclaimed code rows for slugs printed out-of-band.
// Slugs are stored lowercase; lookups are byte-exact.
func runProvision(slugs []string) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	idProvider := qr.NewUUIDProvider()
	now := time.Now().UTC().Unix()

	for _, raw := range slugs {
		slug, err := qr.NewSlug(strings.ToLower(raw))
		if err != nil {
			return err
		}
		id, err := idProvider.NewID()
		if err != nil {
			return err
		}
		code := qr.Code{
			ID:               id,
			Slug:             slug.String(),
			Status:           qr.StatusUnclaimed,
			CreatedAtSeconds: now,
		}
		if err := db.Create(&code).Error; err != nil {
			return fmt.Errorf("provisioning %q: %w", slug.String(), err)
		}
		fmt.Printf("%s\t%s\n", code.Slug, code.ID)
	}

	return nil
}
