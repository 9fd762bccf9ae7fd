package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"formbuilder/internal/auth"
	"formbuilder/internal/config"
	"formbuilder/internal/forms"
	formshandler "formbuilder/internal/http_server/handlers/forms"
	"formbuilder/internal/http_server/handlers/login"
	"formbuilder/internal/http_server/handlers/logout"
	"formbuilder/internal/http_server/handlers/password"
	"formbuilder/internal/http_server/handlers/refresh"
	responseshandler "formbuilder/internal/http_server/handlers/responses"
	"formbuilder/internal/http_server/handlers/signup"
	usershandler "formbuilder/internal/http_server/handlers/users"
	"formbuilder/internal/middleware/authjwt"
	"formbuilder/internal/middleware/ratelimit"
	"formbuilder/internal/rabbitmq"
	"formbuilder/internal/storage/postgres"
	"formbuilder/internal/token"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := setupLogger(cfg.Env)

	log.Info("starting form builder api", slog.String("env", cfg.Env))

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
		log.Error("failed to connect postgres", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer storage.Close()

	msgBroker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		log.Error("failed to connect rabbitmq", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer msgBroker.Close()

	tm := token.NewManager(
		cfg.Tokens.AccessTokenSecret,
		cfg.Tokens.RefreshTokenSecret,
		cfg.Tokens.AccessTokenTTL,
		cfg.Tokens.RefreshTokenTTL,
	)

	authService := auth.New(log, storage, storage, storage, tm, msgBroker, cfg.Tokens.ResetTokenTTL)
	formService := forms.New(log, storage, storage)

	router := setupRouter(log, cfg, authService, formService, tm, storage)

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
			log.Error("Server failed", slog.String("err", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", slog.String("err", err.Error()))
	} else {
		log.Info("Server stopped gracefully")
	}

	log.Info("Main service stopped")
}

func setupRouter(
	log *slog.Logger,
	cfg *config.Config,
	authService *auth.Auth,
	formService *forms.Service,
	tm *token.Manager,
	storage *postgres.PostgresRepo,
) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	validate := validator.New()
	requireAuth := authjwt.New(log, tm, storage)
	cookieTTL := cfg.Tokens.RefreshTokenTTL

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(ratelimit.Signup()).Post("/signup", signup.New(log, validate, authService, cookieTTL))
			r.With(ratelimit.Login()).Post("/login", login.New(log, validate, authService, cookieTTL))
			r.With(ratelimit.Refresh()).Get("/refresh", refresh.New(log, authService, cookieTTL))
			r.With(ratelimit.Logout()).Get("/logout", logout.New(log, authService))
			r.With(ratelimit.ForgotPassword()).Post("/forgot-password", password.NewForgot(log, validate, authService))
			r.Patch("/reset-password/{token}", password.NewReset(log, validate, authService))
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me", usershandler.NewProfile(log, authService))
			r.Patch("/me", usershandler.NewUpdate(log, validate, authService))
			r.Delete("/me", usershandler.NewDelete(log, authService))
			r.Patch("/change-password", password.NewChange(log, validate, authService))
		})

		r.Route("/forms", func(r chi.Router) {
			r.With(requireAuth).Get("/", formshandler.NewList(log, formService))
			r.With(requireAuth).Post("/", formshandler.NewCreate(log, validate, formService))
			r.With(requireAuth).Patch("/bulk-delete", formshandler.NewBulkDelete(log, validate, formService))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", formshandler.NewGet(log, formService))
				r.With(requireAuth).Patch("/", formshandler.NewUpdate(log, formService))
				r.With(requireAuth).Delete("/", formshandler.NewDelete(log, formService))

				r.With(requireAuth).Get("/responses", responseshandler.NewList(log, formService))
				r.With(ratelimit.Submit()).Post("/responses", responseshandler.NewSubmit(log, formService))
				r.With(requireAuth).Get("/csv", responseshandler.NewExportCSV(log, formService))
			})
		})
	})

	return r
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
