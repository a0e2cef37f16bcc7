package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultBind         = ":8080"
	DefaultTagMaxLength = 64
)

type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthAPIKey AuthMode = "apikey"
	AuthOIDC   AuthMode = "oidc"
)

type Config struct {
	Bind               string
	DBDSN              string
	TagMaxLength       int
	TagPattern         *regexp.Regexp
	AuthMode           AuthMode
	APIKeysFile        string
	CORSAllowedOrigins []string
	LogLevel           string
	SwaggerUIPath      string
	OpenAPIPath        string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Bind:               getenv("INKWELL_BIND", DefaultBind),
		TagMaxLength:       getInt("INKWELL_TAG_MAX_LENGTH", DefaultTagMaxLength),
		AuthMode:           AuthMode(getenv("INKWELL_AUTH_MODE", string(AuthAPIKey))),
		CORSAllowedOrigins: splitAndTrim(os.Getenv("INKWELL_CORS_ALLOWED_ORIGINS")),
		LogLevel:           os.Getenv("INKWELL_LOG_LEVEL"),
		SwaggerUIPath:      "/swagger",
		OpenAPIPath:        "/openapi.yaml",
	}

	cfg.DBDSN = os.Getenv("INKWELL_DB_DSN")
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("INKWELL_DB_DSN is required")
	}

	if pattern := os.Getenv("INKWELL_TAG_PATTERN"); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid INKWELL_TAG_PATTERN: %w", err)
		}
		cfg.TagPattern = re
	}

	switch cfg.AuthMode {
	case AuthNone, AuthAPIKey, AuthOIDC:
	default:
		return nil, fmt.Errorf("invalid INKWELL_AUTH_MODE: %s", cfg.AuthMode)
	}

	if cfg.AuthMode == AuthAPIKey {
		cfg.APIKeysFile = getenv("INKWELL_API_KEYS_FILE", "api-keys.yaml")
		if cfg.APIKeysFile == "" {
			return nil, fmt.Errorf("INKWELL_API_KEYS_FILE is required when INKWELL_AUTH_MODE=apikey")
		}
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func splitAndTrim(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
