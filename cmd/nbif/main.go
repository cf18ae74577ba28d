package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-nbif/internal/config"
	"github.com/noah-isme/gema-nbif/internal/database"
	"github.com/noah-isme/gema-nbif/internal/handler"
	"github.com/noah-isme/gema-nbif/internal/middleware"
	"github.com/noah-isme/gema-nbif/internal/platform"
	"github.com/noah-isme/gema-nbif/internal/repository"
	"github.com/noah-isme/gema-nbif/internal/router"
	"github.com/noah-isme/gema-nbif/internal/service"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger = logger.With().Str("service", cfg.AppName).Logger()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	redisClient, err := database.ConnectRedis(context.Background(), cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("question cache disabled")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	loader := platform.NewFSLoader(cfg.CourseRoot)
	renderer := platform.NewRenderer(logger)
	tokenService := service.NewTokenService(repository.NewAPITokenRepository(db), logger)
	nbifService := service.NewNBIFService(loader, renderer, tokenService, redisClient, service.NBIFOptions{CacheTTL: cfg.QuestionCacheTTL}, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{
		Logger:      &logger,
		CORSOrigins: cfg.CORSOrigins,
		Identity: middleware.IdentityConfig{
			Secret: cfg.JWTSecret,
			Cookie: cfg.AuthCookie,
			Tokens: tokenService,
		},
	})
	router.Register(app, cfg, router.Dependencies{
		NBIFHandler:   handler.NewNBIFHandler(nbifService, renderer, validate, cfg.URLRoot, logger),
		StaticHandler: handler.NewStaticHandler(loader, logger),
		RateLimiter:   middleware.RateLimit("nbif", cfg.RateLimitMax, cfg.RateLimitWindow),
	})

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress()).Str("course_root", cfg.CourseRoot).Msg("nbif server listening")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, logger)
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
