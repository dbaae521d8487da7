// Copyright 2025 The preflight-mcp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadDefaults(t *testing.T) {
	cfg, path, err := LoadFrom("", t.TempDir(), t.TempDir(), noEnv)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, Default(), cfg)
}

func TestLoadProjectFile(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, projectConfigName), `
server:
  name: preflight-test
defaultTimezone: Asia/Tokyo
callTimeout: 5s
http:
  addr: ":9090"
log:
  level: debug
  format: json
`)

	cfg, path, err := LoadFrom("", cwd, t.TempDir(), noEnv)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, projectConfigName), path)
	assert.Equal(t, "preflight-test", cfg.Server.Name)
	assert.Equal(t, "dev", cfg.Server.Version, "unset keys keep defaults")
	assert.Equal(t, "Asia/Tokyo", cfg.DefaultTimezone)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadHomeFileWhenNoProjectFile(t *testing.T) {
	home := t.TempDir()
	writeFile(t, filepath.Join(home, homeConfigDir, homeConfigName), "defaultTimezone: Europe/Madrid\n")

	cfg, path, err := LoadFrom("", t.TempDir(), home, noEnv)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, homeConfigDir, homeConfigName), path)
	assert.Equal(t, "Europe/Madrid", cfg.DefaultTimezone)
}

func TestLoadExplicitMissingFails(t *testing.T) {
	_, _, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"), t.TempDir(), t.TempDir(), noEnv)
	assert.ErrorContains(t, err, "not found")
}

func TestEnvOverridesFile(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, projectConfigName), "defaultTimezone: Asia/Tokyo\n")

	cfg, _, err := LoadFrom("", cwd, "", envMap(map[string]string{
		EnvDefaultTimezone: "America/Chicago",
		EnvHTTPAddr:        "127.0.0.1:8081",
		EnvCallTimeout:     "750ms",
		EnvOTLPEndpoint:    "localhost:4318",
		EnvLogLevel:        "  ",
	}))
	require.NoError(t, err)
	assert.Equal(t, "America/Chicago", cfg.DefaultTimezone)
	assert.Equal(t, "127.0.0.1:8081", cfg.HTTP.Addr)
	assert.Equal(t, 750*time.Millisecond, cfg.CallTimeout)
	assert.Equal(t, "localhost:4318", cfg.Telemetry.Endpoint)
	assert.Equal(t, "info", cfg.Log.Level, "blank env values are ignored")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.DefaultTimezone = "Not/AZone"
	cfg.Log.Format = "xml"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "defaultTimezone")
	assert.ErrorContains(t, err, "log.format")
	assert.ErrorContains(t, err, "log.level")
}

func TestBadYAML(t *testing.T) {
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, projectConfigName), "server: [unterminated\n")

	_, _, err := LoadFrom("", cwd, "", noEnv)
	assert.ErrorContains(t, err, "parsing config")
}
