package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"keymanager/internal/auth"
	"keymanager/internal/config"
	categoriesHandler "keymanager/internal/http_server/handlers/categories"
	"keymanager/internal/http_server/handlers/health"
	licensesHandler "keymanager/internal/http_server/handlers/licenses"
	"keymanager/internal/http_server/handlers/login"
	usersHandler "keymanager/internal/http_server/handlers/users"
	sl "keymanager/internal/lib/logger"
	"keymanager/internal/licenses"
	"keymanager/internal/mailer"
	"keymanager/internal/middleware/authn"
	"keymanager/internal/middleware/headers"
	rateLimit "keymanager/internal/middleware/ratelimit"
	"keymanager/internal/storage/postgres"
	redisrepo "keymanager/internal/storage/redis"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const (
	defaultAdminUsername = "admin"
	defaultAdminPassword = "ChangeMe!123"
	defaultAdminEmail    = "admin@example.com"
	defaultAdminFullName = "Administrator"
)

func main() {
	cfg := config.MustLoad(configPath())

	log := setupLogger(cfg.Env)

	log.Info("starting license manager", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutdown signal received")
		cancel()
	}()

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", sl.Err(err))
		os.Exit(1)
	}
	defer storage.Close()

	if err := seedAdmin(ctx, storage); err != nil {
		log.Error("failed to seed default admin", sl.Err(err))
		os.Exit(1)
	}

	// The Redis backend is optional; without it the rate limiter keeps
	// its windows in process memory.
	var counter rateLimit.Counter
	if cfg.Redis.Addr != "" {
		rdb, err := redisrepo.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("redis unavailable, rate limiter falls back to memory", sl.Err(err))
		} else {
			defer rdb.Close()
			counter = rdb
		}
	}

	mail := mailer.New(log, cfg.SMTP.Settings())
	authService := auth.New(log, storage, cfg.Tokens.Secret, cfg.Tokens.AccessTokenTTL)
	usageService := licenses.New(log, storage, mail)

	router := setupRouter(log, cfg, authService, usageService, storage, mail, counter)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", sl.Err(err))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", sl.Err(err))
	} else {
		log.Info("Server stopped gracefully")
	}
}

func setupRouter(
	log *slog.Logger,
	cfg *config.Config,
	authService *auth.Auth,
	usageService *licenses.Service,
	storage *postgres.PostgresRepo,
	mail *mailer.Mailer,
	counter rateLimit.Counter,
) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(headers.New())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(rateLimit.New(log, cfg.RateLimit.Requests, cfg.RateLimit.Window, counter))

	validate := validator.New()

	r.Get("/health", health.New())
	r.Post("/auth/login", login.New(log, validate, authService))

	r.Group(func(r chi.Router) {
		r.Use(authn.New(log, authService))

		r.Route("/categories", func(r chi.Router) {
			r.Post("/", categoriesHandler.NewCreate(log, validate, storage))
			r.Get("/", categoriesHandler.NewList(log, storage))
			r.Put("/{id}", categoriesHandler.NewUpdate(log, validate, storage))
			r.Delete("/{id}", categoriesHandler.NewDelete(log, storage))
		})

		r.Route("/licenses", func(r chi.Router) {
			r.Post("/", licensesHandler.NewCreate(log, validate, storage))
			r.Get("/", licensesHandler.NewList(log, storage))
			r.Put("/{id}", licensesHandler.NewUpdate(log, validate, storage))
			r.Delete("/{id}", licensesHandler.NewDelete(log, storage))
			r.Post("/{id}/use", licensesHandler.NewUse(log, usageService))
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/me", usersHandler.NewMe())
			r.Put("/me", usersHandler.NewUpdateMe(log, validate, storage))
			r.Post("/change-password", usersHandler.NewChangePassword(log, validate, authService))
			r.Get("/me/smtp", usersHandler.NewSMTP())
			r.Put("/me/smtp", usersHandler.NewUpdateSMTP(log, storage))
			r.Delete("/me/smtp", usersHandler.NewResetSMTP(log, storage))
			r.Post("/me/smtp/test", usersHandler.NewTestSMTP(log, mail))
		})
	})

	return r
}

// seedAdmin creates the default account on a fresh store; the password is
// expected to be changed on first login.
func seedAdmin(ctx context.Context, storage *postgres.PostgresRepo) error {
	passHash, err := bcrypt.GenerateFromPassword([]byte(defaultAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return storage.EnsureAdmin(ctx, defaultAdminUsername, defaultAdminEmail, defaultAdminFullName, passHash)
}

func configPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "./config/config.yaml"
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
