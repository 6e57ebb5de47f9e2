package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"nottu-serverless/internal/auth"
	"nottu-serverless/internal/config"
	"nottu-serverless/internal/db"
	"nottu-serverless/internal/httpjson"
	"nottu-serverless/internal/maintenance"
	"nottu-serverless/internal/media"
	"nottu-serverless/internal/observability"
	"nottu-serverless/internal/passkey"
	"nottu-serverless/internal/profile"
	"nottu-serverless/internal/user"
)

type Options struct {
	LoadDotEnv bool
	// RunMigrations forces migrations even when RUN_MIGRATIONS_ON_STARTUP is off.
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Config  *config.Config
	Logger  *observability.Logger
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL, cfg.DB)
	if err != nil {
		return nil, err
	}

	if options.RunMigrations || cfg.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	photos, err := media.NewS3Store(ctx, cfg.S3)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init photo storage: %w", err)
	}

	userRepo := user.NewRepository(database)
	passkeyRepo := passkey.NewRepository(database)
	issuer := auth.NewIssuer(cfg.JWT.Secret, cfg.JWT.Expire)

	passkeyService, err := passkey.NewService(passkeyRepo, userRepo, issuer, photos, cfg.WebAuthn, logger)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init passkey service: %w", err)
	}

	h := routes{
		passkeys:    passkey.NewHandler(passkeyService, logger),
		me:          auth.NewHandler(photos, logger),
		profile:     profile.NewHandler(userRepo, photos, logger),
		cleanup:     maintenance.NewCleanupHandler(passkeyRepo, logger, cfg.CronSecret, cfg.CleanupBatch),
		health:      healthHandler(database),
		requireUser: func(next http.Handler) http.Handler { return auth.Middleware(issuer, userRepo, logger, next) },
	}

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			observability.CORSMiddleware(cfg.CORSOrigin, h.mux())))

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			_ = logger.Sync()
			return database.Close()
		},
	}, nil
}

type routes struct {
	passkeys    *passkey.Handler
	me          *auth.Handler
	profile     *profile.Handler
	cleanup     *maintenance.CleanupHandler
	health      http.HandlerFunc
	requireUser func(http.Handler) http.Handler
}

func (rt routes) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", rt.health)

	mux.HandleFunc("POST /auth/register/options", rt.passkeys.RegisterOptions)
	mux.HandleFunc("POST /auth/register/verify", rt.passkeys.RegisterVerify)
	mux.HandleFunc("POST /auth/login/options", rt.passkeys.LoginOptions)
	mux.HandleFunc("POST /auth/login/verify", rt.passkeys.LoginVerify)
	mux.Handle("GET /auth/me", rt.requireUser(http.HandlerFunc(rt.me.Me)))

	mux.Handle("PUT /profile/name", rt.requireUser(http.HandlerFunc(rt.profile.UpdateName)))
	mux.Handle("PUT /profile/photo", rt.requireUser(http.HandlerFunc(rt.profile.UpdatePhoto)))
	mux.Handle("DELETE /profile/photo", rt.requireUser(http.HandlerFunc(rt.profile.DeletePhoto)))

	mux.HandleFunc("GET /internal/maintenance/cleanup", rt.cleanup.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", rt.cleanup.Handle)

	mux.HandleFunc("/", notFound)
	return mux
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	httpjson.WriteError(w, http.StatusNotFound, "Route not found")
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func healthHandler(database pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		httpjson.WriteJSON(w, status, body)
	}
}
