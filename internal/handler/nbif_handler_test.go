package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-nbif/internal/config"
	"github.com/noah-isme/gema-nbif/internal/handler"
	"github.com/noah-isme/gema-nbif/internal/middleware"
	"github.com/noah-isme/gema-nbif/internal/platform"
	"github.com/noah-isme/gema-nbif/internal/router"
	"github.com/noah-isme/gema-nbif/internal/service"
)

const handlerPage = `<section>Problems</section>
<question pythoncode>
csq_name = "sum42"
csq_prompt = "Add"
</question>
`

func newTestApp(t *testing.T, username, role string) (*fiber.App, string) {
	t.Helper()
	root := t.TempDir()
	pageDir := filepath.Join(root, "6.01", "test_problems")
	require.NoError(t, os.MkdirAll(filepath.Join(pageDir, platform.StaticDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pageDir, platform.PageFile), []byte(handlerPage), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pageDir, platform.StaticDir, "fig.png"), []byte("\x89PNG\r\n\x1a\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(pageDir, platform.StaticDir, "img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pageDir, platform.StaticDir, "img", "plot.png"), []byte("\x89PNG\r\n\x1a\nplot"), 0o644))

	logger := zerolog.New(io.Discard)
	loader := platform.NewFSLoader(root)
	renderer := platform.NewRenderer(logger)
	svc := service.NewNBIFService(loader, renderer, nil, nil, service.NBIFOptions{}, logger)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if username != "" {
			c.Locals(middleware.LocalUsername, username)
			c.Locals(middleware.LocalRole, role)
		}
		return c.Next()
	})
	cfg := config.Config{AppName: "nbif-test", AppEnv: "test", CourseRoot: root}
	router.Register(app, cfg, router.Dependencies{
		NBIFHandler:   handler.NewNBIFHandler(svc, renderer, validator.New(), "https://cat.example.edu", logger),
		StaticHandler: handler.NewStaticHandler(loader, logger),
	})
	return app, root
}

func send(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestNBQuestionRendersHTML(t *testing.T) {
	app, _ := newTestApp(t, "alice", "Student")

	resp, body := send(t, app, httptest.NewRequest(http.MethodGet, "/6.01/nbquestion?page=test_problems&csq_name=sum42", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
	require.Contains(t, body, `id="cs_qdiv_sum42"`)
	require.Contains(t, body, `<footer style="display:none">`)
}

func TestNBIFListAcceptsPostedForm(t *testing.T) {
	app, _ := newTestApp(t, "alice", "Student")

	form := url.Values{"do": {"list"}, "page": {"test_problems"}}
	req := httptest.NewRequest(http.MethodPost, "/6.01/nbif", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, body := send(t, app, req)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var payload map[string][]string
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	require.Equal(t, []string{"sum42"}, payload["problem_names"])
}

func TestNBAuthAnonymousRendersLoginPage(t *testing.T) {
	app, _ := newTestApp(t, "", "")

	resp, body := send(t, app, httptest.NewRequest(http.MethodGet, "/6.01/nbauth?do=list", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Contains(t, body, "https://cat.example.edu/6.01/nbif?do=auth&amp;loginaction=login")
	require.Contains(t, body, `id="cs_body"`)
}

func TestNBIFErrorsMapToStatus(t *testing.T) {
	app, _ := newTestApp(t, "alice", "Student")

	resp, body := send(t, app, httptest.NewRequest(http.MethodGet, "/6.01/nbif", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "unknown nbif action", body)

	resp, _ = send(t, app, httptest.NewRequest(http.MethodGet, "/6.01/nbif?do=debug&page=test_problems", nil))
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = send(t, app, httptest.NewRequest(http.MethodGet, "/6.01/nbif?page=..%2F..%2Fetc&csq_name=x", nil))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = send(t, app, httptest.NewRequest(http.MethodGet, "/6.01/nbif?do=a-b&page=test_problems", nil))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, body = send(t, app, httptest.NewRequest(http.MethodGet, "/6.01/nbquestion?page=test_problems&csq_name=nope", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "question with csq_name=nope in page=test_problems not found", body)
}

func TestNBIFDebugForStaff(t *testing.T) {
	app, _ := newTestApp(t, "bob", "Instructor")

	resp, body := send(t, app, httptest.NewRequest(http.MethodGet, "/6.01/nbif?do=debug&page=test_problems", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Contains(t, body, "<li><pre>")
}

func TestStaticHandlerServesAssets(t *testing.T) {
	app, _ := newTestApp(t, "", "")

	resp, body := send(t, app, httptest.NewRequest(http.MethodGet, "/6.01/test_problems/__STATIC__/fig.png", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.Equal(t, "\x89PNG\r\n\x1a\n", body)

	resp, _ = send(t, app, httptest.NewRequest(http.MethodGet, "/6.01/test_problems/__STATIC__/missing.png", nil))
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHealthReportsCourseRoot(t *testing.T) {
	app, _ := newTestApp(t, "", "")

	resp, body := send(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "nbif-test", resp.Header.Get("X-Application"))

	var payload struct {
		Success bool                   `json:"success"`
		Data    handler.HealthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	require.True(t, payload.Success)
	require.Equal(t, "ok", payload.Data.Status)
	require.True(t, payload.Data.CourseRoot)
}

func TestStaticHandlerServesNestedAssets(t *testing.T) {
	app, _ := newTestApp(t, "", "")

	resp, body := send(t, app, httptest.NewRequest(http.MethodGet, "/6.01/test_problems/__STATIC__/img/plot.png", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.Equal(t, "\x89PNG\r\n\x1a\nplot", body)

	resp, _ = send(t, app, httptest.NewRequest(http.MethodGet, "/6.01/test_problems/__STATIC__/img/missing.png", nil))
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

type failingService struct{ err error }

func (s failingService) Respond(ctx context.Context, pctx *platform.Context) error {
	return s.err
}

func TestNBIFServiceFailuresMapToStatus(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{fmt.Errorf("load page: %w", errors.New("disk unavailable")), fiber.StatusInternalServerError, "failed to process nbif request"},
		{fmt.Errorf("issue api token: %w", service.ErrAnonymousUser), fiber.StatusUnauthorized, "authentication required"},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			logger := zerolog.New(io.Discard)
			app := fiber.New()
			h := handler.NewNBIFHandler(failingService{err: tc.err}, platform.NewRenderer(logger), validator.New(), "https://cat.example.edu", logger)
			h.Register(app)

			resp, body := send(t, app, httptest.NewRequest(http.MethodGet, "/6.01/nbif?page=test_problems&csq_name=sum42", nil))
			require.Equal(t, tc.status, resp.StatusCode)

			var payload struct {
				Success bool   `json:"success"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &payload))
			require.False(t, payload.Success)
			require.Equal(t, tc.message, payload.Message)
		})
	}
}
