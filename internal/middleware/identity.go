package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-nbif/internal/utils"
)

// Locals keys written by Identity.
const (
	LocalUsername = "username"
	LocalRole     = "user_role"
	LocalAPIToken = "api_token"
)

// APITokenHeader carries a notebook API token instead of a session.
const APITokenHeader = "X-API-Token"

// TokenResolver maps an API token to its username.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// IdentityConfig configures Identity.
type IdentityConfig struct {
	// Secret verifies HS256 session tokens. Empty disables JWT sessions.
	Secret string
	// Cookie names the session cookie read when no bearer header is sent.
	Cookie string
	Tokens TokenResolver
}

// Identity resolves the requesting user from a bearer JWT, the session
// cookie or an API token header. Requests without credentials continue
// anonymously; a malformed bearer header is rejected.
func Identity(cfg IdentityConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if authorization := c.Get(fiber.HeaderAuthorization); authorization != "" && cfg.Secret != "" {
			const bearer = "Bearer "
			if !strings.HasPrefix(strings.ToLower(authorization), strings.ToLower(bearer)) {
				return utils.SendError(c, fiber.StatusUnauthorized, "invalid authorization header")
			}
			claims, err := parseSession(strings.TrimSpace(authorization[len(bearer):]), cfg.Secret)
			if err != nil {
				return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
			}
			bindClaims(c, claims)
			return c.Next()
		}

		if cfg.Cookie != "" && cfg.Secret != "" {
			if raw := c.Cookies(cfg.Cookie); raw != "" {
				if claims, err := parseSession(raw, cfg.Secret); err == nil {
					bindClaims(c, claims)
					return c.Next()
				}
			}
		}

		if token := strings.TrimSpace(c.Get(APITokenHeader)); token != "" && cfg.Tokens != nil {
			username, err := cfg.Tokens.Resolve(c.UserContext(), token)
			if err != nil {
				return utils.SendError(c, fiber.StatusUnauthorized, "invalid api token")
			}
			c.Locals(LocalUsername, username)
			c.Locals(LocalAPIToken, token)
		}

		return c.Next()
	}
}

func parseSession(tokenString, secret string) (jwt.MapClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("empty token")
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

func bindClaims(c *fiber.Ctx, claims jwt.MapClaims) {
	if username := claimString(claims, "username", "preferred_username", "sub"); username != "" {
		c.Locals(LocalUsername, username)
	}
	if role := extractRole(claims); role != "" {
		c.Locals(LocalRole, role)
	}
}

func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if value, ok := claims[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// extractRole keeps the platform's role spelling (TA, Instructor, ...).
func extractRole(claims jwt.MapClaims) string {
	for _, key := range []string{"role", "roles"} {
		switch v := claims[key].(type) {
		case string:
			if role := strings.TrimSpace(v); role != "" {
				return role
			}
		case []interface{}:
			for _, item := range v {
				if str, ok := item.(string); ok && strings.TrimSpace(str) != "" {
					return strings.TrimSpace(str)
				}
			}
		}
	}
	return ""
}

// Username returns the username bound by Identity, or "".
func Username(c *fiber.Ctx) string {
	value, _ := c.Locals(LocalUsername).(string)
	return value
}

// Role returns the role bound by Identity, or "".
func Role(c *fiber.Ctx) string {
	value, _ := c.Locals(LocalRole).(string)
	return value
}

// APIToken returns the API token the request authenticated with, or "".
func APIToken(c *fiber.Ctx) string {
	value, _ := c.Locals(LocalAPIToken).(string)
	return value
}
