package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "config.yaml")
	body := fmt.Sprintf("storage:\n  driver: file\n  path: %s\nlog:\n  file: %s\nartifacts:\n  dir: %s\n",
		filepath.Join(root, "accounts_config.json"),
		filepath.Join(root, "keepalive.log"),
		filepath.Join(root, "static"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCLI(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--config", cfgPath, "--env", filepath.Join(filepath.Dir(cfgPath), "missing.env")}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestAccountsLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	out, err := runCLI(t, cfg, "accounts", "add", "--name", "Alice", "--account", "alice@example.com", "--password", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "added account 1")

	out, err = runCLI(t, cfg, "accounts", "disable", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "enabled=false")

	_, err = runCLI(t, cfg, "accounts", "edit", "1", "--name", "Alicia")
	require.NoError(t, err)

	out, err = runCLI(t, cfg, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Alicia")
	assert.Contains(t, out, "alice@example.com")
	assert.NotContains(t, out, "secret")

	_, err = runCLI(t, cfg, "accounts", "remove", "1")
	require.NoError(t, err)
	_, err = runCLI(t, cfg, "accounts", "remove", "1")
	assert.Error(t, err)
}

func TestAccountsAdd_RequiresFlags(t *testing.T) {
	cfg := writeConfig(t)
	_, err := runCLI(t, cfg, "accounts", "add", "--name", "Alice")
	assert.Error(t, err)
}

func TestScheduleSetShowReset(t *testing.T) {
	cfg := writeConfig(t)

	out, err := runCLI(t, cfg, "schedule", "set", "--interval", "15", "--weekend=false")
	require.NoError(t, err)
	assert.Contains(t, out, "interval: 15 minutes")
	assert.Contains(t, out, "weekend:  false")

	out, err = runCLI(t, cfg, "schedule", "set", "--full-day")
	require.NoError(t, err)
	assert.Contains(t, out, "window:   00:00-23:59")
	assert.Contains(t, out, "interval: 15 minutes")

	_, err = runCLI(t, cfg, "schedule", "set", "--interval", "0")
	assert.Error(t, err)

	out, err = runCLI(t, cfg, "schedule", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "window:   08:00-22:00")
}

func TestRun_NoAccounts(t *testing.T) {
	cfg := writeConfig(t)
	_, err := runCLI(t, cfg, "run")
	assert.Error(t, err)

	_, err = runCLI(t, cfg, "run", "abc")
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	cfg := writeConfig(t)
	_, err := runCLI(t, cfg, "accounts", "add", "--name", "A", "--account", "a", "--password", "p")
	require.NoError(t, err)

	out, err := runCLI(t, cfg, "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "1 total, 1 enabled")
}
