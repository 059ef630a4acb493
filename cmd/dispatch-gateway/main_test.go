// ABOUTME: Tests for dispatch-gateway CLI helpers
// ABOUTME: Covers config path resolution, bootstrap flags and operator creation

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/dispatch-gateway/internal/agent"
	"github.com/2389/dispatch-gateway/internal/store"
)

func TestGetConfigPath(t *testing.T) {
	t.Run("env var wins", func(t *testing.T) {
		t.Setenv("DISPATCH_CONFIG", "/etc/dispatch/custom.toml")
		assert.Equal(t, "/etc/dispatch/custom.toml", getConfigPath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("DISPATCH_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		assert.Equal(t, "/tmp/xdg/dispatch/gateway.yaml", getConfigPath())
	})

	t.Run("home fallback", func(t *testing.T) {
		t.Setenv("DISPATCH_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", "/home/ops")
		assert.Equal(t, "/home/ops/.config/dispatch/gateway.yaml", getConfigPath())
	})
}

func TestLoadConfig_MissingDefaultUsesDefaults(t *testing.T) {
	t.Setenv("DISPATCH_CONFIG", "")
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:5000", cfg.Server.HTTPAddr)
}

func TestLoadConfig_MissingExplicitFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	t.Setenv("DISPATCH_CONFIG", path)
	_, err := loadConfig(path)
	assert.Error(t, err)
}

func TestServerURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:5000", serverURL("0.0.0.0:5000"))
	assert.Equal(t, "http://127.0.0.1:5000", serverURL(":5000"))
	assert.Equal(t, "http://10.0.0.4:8080", serverURL("10.0.0.4:8080"))
	assert.Equal(t, "http://gateway", serverURL("gateway"))
}

func TestParseBootstrapFlags(t *testing.T) {
	opts, err := parseBootstrapFlags([]string{"--username", "alice", "--password", "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, "alice", opts.username)
	assert.Equal(t, "alice", opts.fullName)
	assert.Equal(t, store.RoleAdmin, opts.role)

	opts, err = parseBootstrapFlags([]string{"-u", "bob", "-p", "hunter22", "--role=operator", "--name", "Bob B"})
	require.NoError(t, err)
	assert.Equal(t, store.RoleOperator, opts.role)
	assert.Equal(t, "Bob B", opts.fullName)

	_, err = parseBootstrapFlags([]string{"--password", "x"})
	assert.ErrorContains(t, err, "--username")

	_, err = parseBootstrapFlags([]string{"--username", "alice"})
	assert.ErrorContains(t, err, "--password")

	_, err = parseBootstrapFlags([]string{"-u", "a", "-p", "b", "--role", "root"})
	assert.ErrorContains(t, err, "unknown role")

	_, err = parseBootstrapFlags([]string{"-u", "a", "-p", "b", "extra"})
	assert.ErrorContains(t, err, "unexpected argument")
}

func TestEnsureConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config", "gateway.yaml")
	dataPath := filepath.Join(dir, "data")

	cfg, created, err := ensureConfig(configPath, dataPath)
	require.NoError(t, err)
	assert.True(t, created)
	assert.GreaterOrEqual(t, len(cfg.Auth.JWTSecret), 32)
	assert.Equal(t, filepath.Join(dataPath, "gateway.db"), cfg.Database.Path)

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, created, err := ensureConfig(configPath, dataPath)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cfg.Auth.JWTSecret, again.Auth.JWTSecret)
}

func TestCreateOperator(t *testing.T) {
	s := store.NewMockStore()
	opts := bootstrapOptions{username: "alice", password: "correct-horse", fullName: "Alice", role: store.RoleAdmin}

	user, err := createOperator(context.Background(), s, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.NotEqual(t, "correct-horse", user.PasswordHash)

	_, err = createOperator(context.Background(), s, opts)
	assert.ErrorContains(t, err, "already exists")
}

func TestPrintClients(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	printClients(&buf, nil)
	assert.Contains(t, buf.String(), "no agents waiting")

	buf.Reset()
	printClients(&buf, []agent.ConnectionInfo{{
		ID: "c1", Hostname: "HOST-1", ClassID: "58.0.6", IP: "10.0.0.9",
		Transport: agent.KindSocket, Duration: "3m",
	}})
	assert.Contains(t, buf.String(), "HOST-1")
	assert.Contains(t, buf.String(), "socket")
	assert.Contains(t, buf.String(), "58.0.6")
}
