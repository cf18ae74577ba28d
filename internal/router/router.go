package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-nbif/internal/config"
	"github.com/noah-isme/gema-nbif/internal/handler"
	"github.com/noah-isme/gema-nbif/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	NBIFHandler   *handler.NBIFHandler
	StaticHandler *handler.StaticHandler
	RateLimiter   fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	if deps.StaticHandler != nil {
		deps.StaticHandler.Register(app)
	}

	if deps.NBIFHandler != nil {
		var before []fiber.Handler
		if deps.RateLimiter != nil {
			before = append(before, deps.RateLimiter)
		}
		deps.NBIFHandler.Register(app, before...)
	}
}
