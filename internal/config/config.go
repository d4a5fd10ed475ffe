// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string
	// Debug enables debug logging and gin debug mode.
	Debug bool
	// LogLevel is the logger threshold ("trace".."error").
	LogLevel string
	// HibernateAfter is the idle interval after which sessions may
	// hibernate.
	HibernateAfter time.Duration
	// AllowedOrigins restricts CORS.
	AllowedOrigins []string
}

// Overrides optionally overrides values from environment variables.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	Addr           *string
	Debug          *bool
	LogLevel       *string
	HibernateAfter *time.Duration
}

// Load loads server configuration from environment variables and applies
// any explicit overrides.
func Load(overrides Overrides) (*Config, error) {
	port := 4004
	if portStr := os.Getenv("PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", portStr, err)
		}
		port = p
	}

	addr := fmt.Sprintf(":%d", port)
	if overrides.Addr != nil {
		addr = *overrides.Addr
	}

	debug := false
	if debugStr := os.Getenv("DEBUG"); debugStr == "true" || debugStr == "1" {
		debug = true
	}
	if overrides.Debug != nil {
		debug = *overrides.Debug
	}

	logLevel := os.Getenv("LIVEDATA_LOG_LEVEL")
	if overrides.LogLevel != nil {
		logLevel = *overrides.LogLevel
	}

	hibernate := 15 * time.Second
	if raw := os.Getenv("LIVEDATA_HIBERNATE_AFTER_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid LIVEDATA_HIBERNATE_AFTER_MS %q: %w", raw, err)
		}
		hibernate = time.Duration(ms) * time.Millisecond
	}
	if overrides.HibernateAfter != nil {
		hibernate = *overrides.HibernateAfter
	}

	return &Config{
		Addr:           addr,
		Debug:          debug,
		LogLevel:       logLevel,
		HibernateAfter: hibernate,
		AllowedOrigins: []string{"*"}, // For self-hosted, allow all origins
	}, nil
}
