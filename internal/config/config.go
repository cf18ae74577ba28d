package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable read by the server and CLIs.
const EnvPrefix = "NBIF"

// Config holds runtime configuration values for the nbif server.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	CourseRoot       string
	URLRoot          string
	DatabaseURL      string
	RedisURL         string
	JWTSecret        string
	AuthCookie       string
	QuestionCacheTTL time.Duration
	RateLimitMax     int
	RateLimitWindow  time.Duration
	CORSOrigins      string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// New returns a viper instance reading NBIF_* variables and an optional .env
// file. CLIs bind their flags into the same instance.
func New() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads server configuration from the environment.
func Load() (Config, error) {
	return FromViper(New())
}

// FromViper builds the server configuration from v.
func FromViper(v *viper.Viper) (Config, error) {
	v.SetDefault("app.name", "nbif")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "6010")
	v.SetDefault("course.root", "./courses")
	v.SetDefault("url.root", "")
	v.SetDefault("database.url", "file:nbif.db?cache=shared")
	v.SetDefault("auth.cookie", "nbif_session")
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("rate_limit.max", 120)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("cors.origins", "*")

	ttl, err := parseDuration(v, "cache.ttl", 10*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid question cache ttl: %w", err)
	}
	window, err := parseDuration(v, "rate_limit.window", time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid rate limit window: %w", err)
	}

	cfg := Config{
		AppName:          v.GetString("app.name"),
		AppEnv:           v.GetString("app.env"),
		AppPort:          v.GetString("app.port"),
		CourseRoot:       v.GetString("course.root"),
		URLRoot:          strings.TrimRight(v.GetString("url.root"), "/"),
		DatabaseURL:      v.GetString("database.url"),
		RedisURL:         v.GetString("redis.url"),
		JWTSecret:        v.GetString("jwt.secret"),
		AuthCookie:       v.GetString("auth.cookie"),
		QuestionCacheTTL: ttl,
		RateLimitMax:     v.GetInt("rate_limit.max"),
		RateLimitWindow:  window,
		CORSOrigins:      v.GetString("cors.origins"),
	}

	if cfg.CourseRoot == "" {
		return Config{}, fmt.Errorf("course root must be provided")
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 120
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}
