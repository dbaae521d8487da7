// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config loads server settings from YAML, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jommar/preflight-mcp/internal/system"
)

const (
	projectConfigName = "preflight.yaml"
	homeConfigDir     = ".preflight"
	homeConfigName    = "config.yaml"
)

// Environment variables overriding file values.
const (
	EnvDefaultTimezone = "PREFLIGHT_DEFAULT_TIMEZONE"
	EnvHTTPAddr        = "PREFLIGHT_HTTP_ADDR"
	EnvLogLevel        = "PREFLIGHT_LOG_LEVEL"
	EnvLogFormat       = "PREFLIGHT_LOG_FORMAT"
	EnvCallTimeout     = "PREFLIGHT_CALL_TIMEOUT"
	EnvOTLPEndpoint    = "PREFLIGHT_OTLP_ENDPOINT"
)

// Config is the full server configuration.
type Config struct {
	Server          ServerConfig    `yaml:"server"`
	DefaultTimezone string          `yaml:"defaultTimezone"`
	CallTimeout     time.Duration   `yaml:"callTimeout"`
	HTTP            HTTPConfig      `yaml:"http"`
	Log             LogConfig       `yaml:"log"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig is the identity reported to MCP clients.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// HTTPConfig enables the secondary HTTP transport when Addr is set.
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig enables OTLP/HTTP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Name:    "preflight-mcp",
			Version: "dev",
		},
		DefaultTimezone: "UTC",
		HTTP: HTTPConfig{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves the config file, applies it over Default, then applies
// environment overrides. It returns the file used, or "" if none was found.
func Load(explicitPath string) (Config, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, "", fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = ""
	}
	return LoadFrom(explicitPath, cwd, homeDir, os.LookupEnv)
}

// LoadFrom is a testable variant of Load.
func LoadFrom(explicitPath, cwd, homeDir string, lookupEnv func(string) (string, bool)) (Config, string, error) {
	cfg := Default()

	path, found, err := DiscoverPathFrom(explicitPath, cwd, homeDir)
	if err != nil {
		return Config{}, "", err
	}
	if found {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, "", err
		}
	}
	if err := cfg.applyEnv(lookupEnv); err != nil {
		return Config{}, "", err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	if !found {
		path = ""
	}
	return cfg, path, nil
}

// DiscoverPathFrom resolves the config location with first-match semantics:
// explicit path, then ./preflight.yaml, then ~/.preflight/config.yaml.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	explicit := strings.TrimSpace(explicitPath)
	if explicit != "" {
		candidates = append(candidates, filepath.Clean(explicit))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if explicit != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parsing config %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) error {
	if lookupEnv == nil {
		return nil
	}
	str := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvDefaultTimezone, &c.DefaultTimezone)
	str(EnvHTTPAddr, &c.HTTP.Addr)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)
	str(EnvOTLPEndpoint, &c.Telemetry.Endpoint)

	if v, ok := lookupEnv(EnvCallTimeout); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCallTimeout, err)
		}
		c.CallTimeout = d
	}
	return nil
}

// Validate checks values that would otherwise fail late at startup.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Name) == "" {
		errs = append(errs, errors.New("server.name is required"))
	}
	if _, err := system.LoadTimezone(c.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("defaultTimezone: %w", err))
	}
	if c.CallTimeout < 0 {
		errs = append(errs, errors.New("callTimeout must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}
	return errors.Join(errs...)
}
