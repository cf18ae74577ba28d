package observability_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-nbif/internal/observability"
)

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	observability.NBIFRequests().WithLabelValues("GET", "/:course/nbif", "list", "200").Inc()
	observability.QuestionCache().WithLabelValues("miss").Inc()

	app := fiber.New()
	app.Get("/metrics", observability.MetricsHandler())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Contains(t, string(body), `nbif_requests_total{action="list",method="GET",route="/:course/nbif",status="200"}`)
	require.Contains(t, string(body), `nbif_question_cache_lookups_total{result="miss"}`)
}
