// Package config provides configuration helpers that define runtime defaults,
// validation, and environment overrides for the relay service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transport mode identifiers accepted in WEBSOCKET_TYPE.
const (
	ModeGrouped = "grouped"
	ModeRaw     = "raw"
)

// Echo policy identifiers accepted in RELAY_ECHO.
const (
	EchoAll    = "all"
	EchoOthers = "others"
)

// ErrInvalidMode is returned when WEBSOCKET_TYPE names no known transport.
var ErrInvalidMode = errors.New("invalid websocket type")

// ErrInvalidEcho is returned when RELAY_ECHO names no known policy.
var ErrInvalidEcho = errors.New("invalid echo policy")

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// DatabaseConfig describes the database the deployment is paired with.
// The relay only reports it; it never connects.
type DatabaseConfig struct {
	Type string
	Host string
	Name string
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           int
	Mode           string
	Echo           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	Logging        LoggingConfig
	Database       DatabaseConfig
	Version        string
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Port: 3001,
		Mode: ModeGrouped,
		AllowedOrigins: []string{
			"http://localhost",
			"http://localhost:80",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Version: "dev",
	}
}

// FromEnv creates a Config from environment variables, falling back to
// defaults for anything unset or unparsable. Only the transport mode and echo
// policy are strict since a typo there changes the relay's behaviour.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	if port := get("PORT"); port != "" {
		cfg.Port = parseIntValue(port, cfg.Port)
	}

	if mode := get("WEBSOCKET_TYPE"); mode != "" {
		parsed, err := ParseMode(mode)
		if err != nil {
			return Config{}, err
		}
		cfg.Mode = parsed
	}

	if echo := get("RELAY_ECHO"); echo != "" {
		parsed, err := ParseEcho(echo)
		if err != nil {
			return Config{}, err
		}
		cfg.Echo = parsed
	}

	if origins := get("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := get("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := get("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := get("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if level := get("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := get("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	cfg.Database = DatabaseConfig{
		Type: get("DB_TYPE"),
		Host: get("DB_HOST"),
		Name: get("DB_NAME"),
	}

	if version := get("APP_VERSION"); version != "" {
		cfg.Version = version
	}

	return cfg.Sanitize(), nil
}

// ParseMode maps a WEBSOCKET_TYPE value to a transport mode. The legacy
// names "socketio" and "native" are accepted as aliases.
func ParseMode(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case ModeGrouped, "socketio":
		return ModeGrouped, nil
	case ModeRaw, "native":
		return ModeRaw, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, value)
	}
}

// ParseEcho maps a RELAY_ECHO value to EchoAll or EchoOthers. An empty
// value stays empty and leaves the choice to the transport.
func ParseEcho(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return "", nil
	case EchoAll:
		return EchoAll, nil
	case EchoOthers:
		return EchoOthers, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEcho, value)
	}
}

// Sanitize replaces zero or out-of-range values with defaults and
// normalises the origin allow-list.
func (c Config) Sanitize() Config {
	def := Default()

	if c.Port <= 0 || c.Port > 65535 {
		c.Port = def.Port
	}

	if c.Mode == "" {
		c.Mode = def.Mode
	}

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}

	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}

	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	if c.Version == "" {
		c.Version = def.Version
	}

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// Addr returns the listen address for the configured port.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Origins builds the origin allow-list from the configured origins.
func (c Config) Origins() *OriginList {
	return NewOriginList(c.AllowedOrigins)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
