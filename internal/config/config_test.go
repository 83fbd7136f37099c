package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepalive_engine/internal/session"
)

func TestLoad_EmptyPathGivesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, StorageFile, cfg.Storage.Driver)
	assert.Equal(t, "./accounts_config.json", cfg.Storage.Path)
	assert.Equal(t, "./static", cfg.Artifacts.Dir)
	assert.True(t, cfg.Log.Console)
	assert.Equal(t, "desktop-list", cfg.Site.AuthenticatedMarker)
	assert.Equal(t, "desktop?id=", cfg.Site.TargetReadyMarker)
	assert.Equal(t, session.Class("btn-submit"), cfg.Site.Selectors.Submit)
	require.Len(t, cfg.Site.EntryChain, 3)
	assert.Equal(t, session.ByXPath, cfg.Site.EntryChain[0].Kind)
	assert.Equal(t, session.Class("desktop-main-entry-text"), cfg.Site.EntryChain[2])
	assert.Equal(t, "0000", cfg.Site.ChallengeFallback)

	assert.Equal(t, 3*time.Second, cfg.Timing.LoginSettle())
	assert.Equal(t, 5*time.Second, cfg.Timing.ChallengeSettle())
	assert.Equal(t, 5*time.Second, cfg.Timing.PostLoginWait())
	assert.Equal(t, time.Second, cfg.Timing.ReadyPollInterval())
	assert.Equal(t, 30, cfg.Timing.ReadyPollAttempts)
	assert.Equal(t, 20*time.Second, cfg.Timing.ReadySettle())
	assert.Equal(t, time.Minute, cfg.Scheduler.CheckInterval())
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.HeartbeatInterval())
}

func TestLoad_YAMLOverridesAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: "127.0.0.1:9000"
storage:
  driver: SQLite
log:
  console: false
site:
  loginURL: "http://127.0.0.1:8081/#/login"
  selectors:
    submit: { value: "login-btn" }
  entryChain:
    - { kind: css, value: "button.enter" }
timing:
  readySettleMs: 10
solver:
  endpoint: "http://ocr.local/solve"
  token: "from-yaml"
`), 0o644))

	t.Setenv(EnvSolverToken, "from-env")
	t.Setenv(EnvSMTPPassword, "smtp-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, "./data/keepalive.db", cfg.Storage.Path)
	assert.False(t, cfg.Log.Console)
	assert.Equal(t, session.Class("login-btn"), cfg.Site.Selectors.Submit)
	assert.Equal(t, []session.Selector{session.CSS("button.enter")}, cfg.Site.EntryChain)
	assert.Equal(t, 10*time.Millisecond, cfg.Timing.ReadySettle())
	assert.Equal(t, "from-env", cfg.Solver.Token)
	assert.Equal(t, "smtp-secret", cfg.Email.Password)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"driver":   "storage:\n  driver: postgres\n",
		"selector": "site:\n  entryChain:\n    - { kind: id, value: x }\n",
		"yaml":     "server: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("KEEPALIVE_TEST_DOTENV=hello\n"), 0o644))
	t.Setenv("KEEPALIVE_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("KEEPALIVE_TEST_DOTENV"))
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "hello", os.Getenv("KEEPALIVE_TEST_DOTENV"))
}

func TestCorsConfig_Match(t *testing.T) {
	c := CorsConfig{AllowOrigins: []string{"http://ui.local"}}

	v, ok := c.Match("")
	assert.True(t, ok)
	assert.Empty(t, v)

	v, ok = c.Match("http://UI.local")
	assert.True(t, ok)
	assert.Equal(t, "http://UI.local", v)

	_, ok = c.Match("http://evil.local")
	assert.False(t, ok)

	v, ok = CorsConfig{AllowOrigins: []string{"*"}}.Match("http://any.local")
	assert.True(t, ok)
	assert.Equal(t, "*", v)
}
