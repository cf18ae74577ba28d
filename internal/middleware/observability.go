package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-nbif/internal/observability"
)

// nbif endpoint suffixes and the action they force, if any.
var nbifEndpoints = map[string]string{
	"/nbif":       "",
	"/nbauth":     "auth",
	"/nbquestion": "question",
}

// Observability records Prometheus metrics and a structured access log for
// the page controller routes. Other routes pass through untouched.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		forced, ok := nbifEndpoint(c.Path())
		if !ok {
			return err
		}
		recordNBIF(c, logger, forced, time.Since(start))
		return err
	}
}

func recordNBIF(c *fiber.Ctx, base zerolog.Logger, forced string, elapsed time.Duration) {
	route := c.Path()
	if r := c.Route(); r != nil && r.Path != "" {
		route = r.Path
	}
	method := c.Method()
	status := c.Response().StatusCode()
	code := strconv.Itoa(status)
	action := actionLabel(forced, c.FormValue("do"))

	observability.NBIFRequests().WithLabelValues(method, route, action, code).Inc()
	observability.NBIFLatency().WithLabelValues(method, route).Observe(elapsed.Seconds())
	if status >= fiber.StatusBadRequest {
		observability.NBIFErrors().WithLabelValues(method, route, code).Inc()
	}

	entry := RequestLogger(c, base).With().
		Str("course", c.Params("course")).
		Str("page", c.FormValue("page")).
		Str("action", action).
		Int("status", status).
		Dur("elapsed", elapsed).
		Logger()

	switch {
	case status >= fiber.StatusInternalServerError:
		entry.Error().Msg("nbif request failed")
	case status >= fiber.StatusBadRequest:
		entry.Warn().Msg("nbif request rejected")
	case elapsed > 500*time.Millisecond:
		entry.Warn().Msg("slow nbif request")
	default:
		entry.Info().Msg("nbif request served")
	}
}

func nbifEndpoint(path string) (string, bool) {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		forced, ok := nbifEndpoints[path[i:]]
		return forced, ok
	}
	return "", false
}

// actionLabel bounds the metric label to the known actions.
func actionLabel(forced, do string) string {
	if forced == "auth" {
		return forced
	}
	switch do {
	case "", "question":
		return "question"
	case "auth", "list", "debug":
		return do
	default:
		return "other"
	}
}
