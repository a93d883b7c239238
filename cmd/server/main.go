package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mprlab/coursedeck/internal/authstate"
	"github.com/mprlab/coursedeck/internal/catalog"
	"github.com/mprlab/coursedeck/internal/claimsync"
	"github.com/mprlab/coursedeck/internal/identity"
	"github.com/mprlab/coursedeck/internal/identitypg"
	"github.com/mprlab/coursedeck/internal/roleadmin"
	"github.com/mprlab/coursedeck/internal/rolegate"
	"github.com/mprlab/coursedeck/internal/web"
	"github.com/mprlab/coursedeck/pkg/sessionvalidator"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildGoogleTokenValidator = func(ctx context.Context) (identity.GoogleTokenValidator, error) {
	return identity.NewGoogleTokenValidator(ctx)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "coursedeck",
		Short:   "Learning-management service with role-claims sessions and cookie-mirror route gating",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().String("google_web_client_id", "", "Google Web OAuth Client ID; empty disables Google sign-in")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for session tokens")
	rootCmd.Flags().Duration("session_ttl", 15*time.Minute, "Session token TTL")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP for local dev")
	rootCmd.Flags().String("database_url", "sqlite::memory:", "Database URL for the course catalog (postgres:// or sqlite://)")
	rootCmd.Flags().String("identity_database_url", "", "PostgreSQL URL for the identity store; empty uses the in-memory provider")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin clients (required to set SameSite=None cookies)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("cookie_domain", rootCmd.Flags().Lookup("cookie_domain"))
	_ = viper.BindPFlag("google_web_client_id", rootCmd.Flags().Lookup("google_web_client_id"))
	_ = viper.BindPFlag("jwt_signing_key", rootCmd.Flags().Lookup("jwt_signing_key"))
	_ = viper.BindPFlag("session_ttl", rootCmd.Flags().Lookup("session_ttl"))
	_ = viper.BindPFlag("dev_insecure_http", rootCmd.Flags().Lookup("dev_insecure_http"))
	_ = viper.BindPFlag("database_url", rootCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("identity_database_url", rootCmd.Flags().Lookup("identity_database_url"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	sessionIssuer = "coursedeck-auth"

	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeInvalidSessionTTL       = "config.invalid_session_ttl"
	configCodeMissingDatabaseURL      = "config.missing_database_url"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeGoogleValidatorInit     = "config.google_validator_init"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

// ServerConfig is the validated runtime configuration.
type ServerConfig struct {
	GoogleWebClientID   string
	JWTSigningKey       []byte
	CookieDomain        string
	SessionTTL          time.Duration
	DatabaseURL         string
	IdentityDatabaseURL string
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadServerConfig reads and validates configuration from viper.
func LoadServerConfig() (ServerConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return ServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return ServerConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	databaseURL := viper.GetString("database_url")
	if databaseURL == "" {
		return ServerConfig{}, configError(configCodeMissingDatabaseURL, "database_url must be provided")
	}

	return ServerConfig{
		GoogleWebClientID:   viper.GetString("google_web_client_id"),
		JWTSigningKey:       []byte(jwtSigningKey),
		CookieDomain:        viper.GetString("cookie_domain"),
		SessionTTL:          sessionTTL,
		DatabaseURL:         databaseURL,
		IdentityDatabaseURL: viper.GetString("identity_database_url"),
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	devInsecureHTTP := viper.GetBool("dev_insecure_http")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, corsAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	sameSiteMode := http.SameSiteStrictMode
	if enableCORS {
		sameSiteMode = http.SameSiteNoneMode
	}

	var googleValidator identity.GoogleTokenValidator
	if serverConfig.GoogleWebClientID != "" {
		validator, validatorErr := buildGoogleTokenValidator(command.Context())
		if validatorErr != nil {
			return fmt.Errorf("%s: %w", configCodeGoogleValidatorInit, validatorErr)
		}
		googleValidator = validator
	} else {
		logger.Info("google sign-in disabled; no client id configured")
	}

	serverContext, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	provider, providerErr := buildIdentityProvider(serverContext, serverConfig, googleValidator, logger)
	if providerErr != nil {
		return providerErr
	}

	synchronizer := claimsync.NewSynchronizer(provider, logger)
	authStore := authstate.NewStore(provider, synchronizer, logger)
	authStore.Initialize(serverContext, nil)

	sessionValidator, validatorErr := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: serverConfig.JWTSigningKey,
		Issuer:     sessionIssuer,
		CookieName: claimsync.SessionCookieName,
	})
	if validatorErr != nil {
		return validatorErr
	}

	catalogStore, catalogErr := catalog.NewStore(serverContext, serverConfig.DatabaseURL)
	if catalogErr != nil {
		return catalogErr
	}
	logger.Info("catalog store ready", zap.String("driver", catalogStore.Driver()))

	mirrorConfig := claimsync.MirrorConfig{
		CookieDomain: serverConfig.CookieDomain,
		SameSiteMode: sameSiteMode,
	}

	web.MountAuthRoutes(router, web.AuthConfig{
		AllowInsecureHTTP: devInsecureHTTP,
		Mirror:            mirrorConfig,
	}, authStore, logger)
	web.MountCatalogRoutes(router, sessionValidator, catalogStore, logger)
	roleadmin.MountRoleAdminRoutes(router, sessionValidator, roleadmin.NewService(provider, logger), logger)

	protected := router.Group("/api")
	protected.Use(sessionValidator.GinMiddleware(""))
	protected.GET("/me", web.HandleWhoAmI(logger))

	// Only the page routes sit behind the request-time gate; the JSON APIs
	// answer 401/403 themselves off the signed session token.
	pages := router.Group("/")
	pages.Use(rolegate.Middleware(rolegate.DefaultConfig(), logger))
	web.MountPages(pages)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(serverContext, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

// buildIdentityProvider selects the Postgres-backed provider when an identity
// database is configured, otherwise the in-memory one.
func buildIdentityProvider(ctx context.Context, serverConfig ServerConfig, googleValidator identity.GoogleTokenValidator, logger *zap.Logger) (identity.Provider, error) {
	if serverConfig.IdentityDatabaseURL == "" {
		logger.Info("identity provider ready", zap.String("backend", "memory"))
		return identity.NewMemoryProvider(identity.MemoryProviderConfig{
			SessionSigningKey: serverConfig.JWTSigningKey,
			SessionIssuer:     sessionIssuer,
			SessionTTL:        serverConfig.SessionTTL,
			GoogleAudience:    serverConfig.GoogleWebClientID,
			GoogleValidator:   googleValidator,
			Clock:             identity.NewSystemClock(),
		}), nil
	}

	pool, poolErr := identitypg.BuildPool(ctx, serverConfig.IdentityDatabaseURL)
	if poolErr != nil {
		return nil, fmt.Errorf("identity_pg.pool: %w", poolErr)
	}
	if schemaErr := identitypg.EnsureSchema(ctx, pool); schemaErr != nil {
		return nil, fmt.Errorf("identity_pg.schema: %w", schemaErr)
	}
	logger.Info("identity provider ready", zap.String("backend", "postgres"))
	return identitypg.NewProvider(identitypg.NewPostgresIdentityStore(pool), identitypg.ProviderConfig{
		SessionSigningKey: serverConfig.JWTSigningKey,
		SessionIssuer:     sessionIssuer,
		SessionTTL:        serverConfig.SessionTTL,
		GoogleAudience:    serverConfig.GoogleWebClientID,
		GoogleValidator:   googleValidator,
		Clock:             identity.NewSystemClock(),
	}), nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
