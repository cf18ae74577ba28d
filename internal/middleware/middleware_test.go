package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-nbif/internal/middleware"
	"github.com/noah-isme/gema-nbif/internal/observability"
)

const testSecret = "secret"

type tokenStub map[string]string

func (s tokenStub) Resolve(ctx context.Context, token string) (string, error) {
	if username, ok := s[token]; ok {
		return username, nil
	}
	return "", errors.New("unknown token")
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func identityApp() *fiber.App {
	app := fiber.New()
	app.Use(middleware.CorrelationID())
	app.Use(middleware.Identity(middleware.IdentityConfig{Secret: testSecret, Cookie: "nbif_session", Tokens: tokenStub{"tok": "carol"}}))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.SendString(middleware.Username(c) + "|" + middleware.Role(c) + "|" + middleware.APIToken(c))
	})
	return app
}

func do(t *testing.T, app *fiber.App, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("GET", "/whoami", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestIdentityResolvesUsers(t *testing.T) {
	app := identityApp()

	status, out := do(t, app, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "||", out)

	token := signed(t, jwt.MapClaims{"sub": "alice", "role": "TA", "exp": time.Now().Add(time.Hour).Unix()})
	status, out = do(t, app, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "alice|TA|", out)

	cookie := signed(t, jwt.MapClaims{"username": "bob", "roles": []string{"Instructor"}})
	status, out = do(t, app, map[string]string{"Cookie": "nbif_session=" + cookie})
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "bob|Instructor|", out)

	status, out = do(t, app, map[string]string{middleware.APITokenHeader: "tok"})
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "carol||tok", out)
}

func TestIdentityRejectsBadCredentials(t *testing.T) {
	app := identityApp()

	status, _ := do(t, app, map[string]string{"Authorization": "Bearer not-a-jwt"})
	require.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = do(t, app, map[string]string{"Authorization": "Basic abc"})
	require.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = do(t, app, map[string]string{middleware.APITokenHeader: "unknown"})
	require.Equal(t, fiber.StatusUnauthorized, status)

	status, out := do(t, app, map[string]string{"Cookie": "nbif_session=garbage"})
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "||", out)
}

func TestCorrelationIDEchoesOrGenerates(t *testing.T) {
	app := identityApp()

	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set(middleware.CorrelationHeader, "abc-123")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, "abc-123", resp.Header.Get(middleware.CorrelationHeader))

	resp, err = app.Test(httptest.NewRequest("GET", "/whoami", nil), -1)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Header.Get(middleware.CorrelationHeader))
}

func TestRateLimitPerUser(t *testing.T) {
	app := fiber.New()
	app.Use(middleware.RateLimit("nbif", 1, time.Minute))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestObservabilityRecordsNBIFRoutesOnly(t *testing.T) {
	var logs bytes.Buffer
	app := fiber.New()
	app.Use(middleware.CorrelationID())
	app.Use(middleware.Observability(zerolog.New(&logs)))
	app.Get("/:course/nbauth", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/:course/nbif", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusForbidden) })
	app.Get("/api/v1/health", func(c *fiber.Ctx) error { return c.SendString("ok") })

	auth := observability.NBIFRequests().WithLabelValues("GET", "/:course/nbauth", "auth", "200")
	denied := observability.NBIFErrors().WithLabelValues("GET", "/:course/nbif", "403")
	authBefore, deniedBefore := testutil.ToFloat64(auth), testutil.ToFloat64(denied)

	for _, path := range []string{"/6.01/nbauth?do=list", "/6.01/nbif?do=debug&page=p1", "/api/v1/health"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil), -1)
		require.NoError(t, err)
		resp.Body.Close()
	}

	require.Equal(t, authBefore+1, testutil.ToFloat64(auth))
	require.Equal(t, deniedBefore+1, testutil.ToFloat64(denied))

	require.Equal(t, 2, bytes.Count(logs.Bytes(), []byte("\n")))
	out := logs.String()
	require.Contains(t, out, `"action":"auth"`)
	require.Contains(t, out, `"message":"nbif request rejected"`)
	require.Contains(t, out, `"course":"6.01"`)
	require.Contains(t, out, `"page":"p1"`)
}
