package handler

import (
	"os"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-nbif/internal/config"
	"github.com/noah-isme/gema-nbif/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	CourseRoot  bool      `json:"course_root"`
}

// HealthCheck reports service health, including whether the course root is
// readable.
func HealthCheck(cfg config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}
		if info, err := os.Stat(cfg.CourseRoot); err == nil && info.IsDir() {
			payload.CourseRoot = true
		} else {
			payload.Status = "degraded"
		}

		return utils.OK(c, payload, "service healthy", nil)
	}
}
