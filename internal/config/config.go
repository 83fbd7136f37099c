package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"keepalive_engine/internal/session"
)

const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"

	EnvSolverToken  = "KEEPALIVE_SOLVER_TOKEN"
	EnvSMTPPassword = "KEEPALIVE_SMTP_PASSWORD"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Log       LogConfig       `yaml:"log"`
	Site      SiteConfig      `yaml:"site"`
	Timing    TimingConfig    `yaml:"timing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Solver    SolverConfig    `yaml:"solver"`
	Email     EmailConfig     `yaml:"email"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

// Match returns the value for Access-Control-Allow-Origin, or false when origin is not allowed.
// An empty origin (same-origin or non-browser client) is always allowed.
func (c CorsConfig) Match(origin string) (string, bool) {
	if origin == "" {
		return "", true
	}
	for _, o := range c.AllowOrigins {
		if o == "*" {
			return "*", true
		}
		if strings.EqualFold(o, origin) {
			return origin, true
		}
	}
	return "", false
}

type StorageConfig struct {
	// Driver 为 file（JSON/YAML 文档）或 sqlite。
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	Console    bool   `yaml:"console"`
	BufferSize int    `yaml:"bufferSize"`
}

type SelectorsConfig struct {
	Account        session.Selector `yaml:"account"`
	Password       session.Selector `yaml:"password"`
	Submit         session.Selector `yaml:"submit"`
	ChallengeInput session.Selector `yaml:"challengeInput"`
	ChallengeImage session.Selector `yaml:"challengeImage"`
}

// SiteConfig describes the remote service: where to log in, how its pages are
// recognised and which elements to drive.
type SiteConfig struct {
	LoginURL            string             `yaml:"loginURL"`
	AuthenticatedMarker string             `yaml:"authenticatedMarker"`
	TargetReadyMarker   string             `yaml:"targetReadyMarker"`
	Selectors           SelectorsConfig    `yaml:"selectors"`
	EntryChain          []session.Selector `yaml:"entryChain"`
	KeepaliveScript     string             `yaml:"keepaliveScript"`
	ChallengeFallback   string             `yaml:"challengeFallback"`
	FindTimeoutMs       int                `yaml:"findTimeoutMs"`
}

func (c SiteConfig) FindTimeout() time.Duration {
	return time.Duration(c.FindTimeoutMs) * time.Millisecond
}

type TimingConfig struct {
	LoginSettleMs       int `yaml:"loginSettleMs"`
	SubmitSettleMs      int `yaml:"submitSettleMs"`
	ChallengeSettleMs   int `yaml:"challengeSettleMs"`
	PostLoginWaitMs     int `yaml:"postLoginWaitMs"`
	ReadyPollIntervalMs int `yaml:"readyPollIntervalMs"`
	ReadyPollAttempts   int `yaml:"readyPollAttempts"`
	ReadyProgressEvery  int `yaml:"readyProgressEvery"`
	ReadySettleMs       int `yaml:"readySettleMs"`
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c TimingConfig) LoginSettle() time.Duration       { return ms(c.LoginSettleMs) }
func (c TimingConfig) SubmitSettle() time.Duration      { return ms(c.SubmitSettleMs) }
func (c TimingConfig) ChallengeSettle() time.Duration   { return ms(c.ChallengeSettleMs) }
func (c TimingConfig) PostLoginWait() time.Duration     { return ms(c.PostLoginWaitMs) }
func (c TimingConfig) ReadyPollInterval() time.Duration { return ms(c.ReadyPollIntervalMs) }
func (c TimingConfig) ReadySettle() time.Duration       { return ms(c.ReadySettleMs) }

type SchedulerConfig struct {
	CheckIntervalSeconds     int `yaml:"checkIntervalSeconds"`
	HeartbeatIntervalSeconds int `yaml:"heartbeatIntervalSeconds"`
}

func (c SchedulerConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c SchedulerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

type SolverConfig struct {
	Endpoint      string  `yaml:"endpoint"`
	Token         string  `yaml:"token"`
	Type          string  `yaml:"type"`
	TimeoutMs     int     `yaml:"timeoutMs"`
	RetryCount    int     `yaml:"retryCount"`
	QPS           float64 `yaml:"qps"`
	Burst         int     `yaml:"burst"`
	MaxConcurrent int     `yaml:"maxConcurrent"`
}

func (c SolverConfig) Timeout() time.Duration { return ms(c.TimeoutMs) }

type EmailConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Host          string   `yaml:"host"`
	Port          int      `yaml:"port"`
	SSL           bool     `yaml:"ssl"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	From          string   `yaml:"from"`
	To            []string `yaml:"to"`
	OnlyOnFailure bool     `yaml:"onlyOnFailure"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.Log.Console = true
	cfg.applyDefaults()
	return cfg
}

// Load reads path, applies defaults and environment overrides, then validates.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{Log: LogConfig{Console: true}}
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from path. Missing files are ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageFile
	}
	if c.Storage.Path == "" {
		if c.Storage.Driver == StorageSQLite {
			c.Storage.Path = "./data/keepalive.db"
		} else {
			c.Storage.Path = "./accounts_config.json"
		}
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = "./static"
	}
	if c.Log.File == "" {
		c.Log.File = "./logs/keepalive.log"
	}
	if c.Log.BufferSize <= 0 {
		c.Log.BufferSize = 500
	}

	s := &c.Site
	if s.LoginURL == "" {
		s.LoginURL = "https://pc.ctyun.cn/#/login"
	}
	if s.AuthenticatedMarker == "" {
		s.AuthenticatedMarker = "desktop-list"
	}
	if s.TargetReadyMarker == "" {
		s.TargetReadyMarker = "desktop?id="
	}
	defaultSelector(&s.Selectors.Account, session.Class("account"))
	defaultSelector(&s.Selectors.Password, session.Class("password"))
	defaultSelector(&s.Selectors.Submit, session.Class("btn-submit"))
	defaultSelector(&s.Selectors.ChallengeInput, session.Class("code"))
	defaultSelector(&s.Selectors.ChallengeImage, session.Class("code-img"))
	if len(s.EntryChain) == 0 {
		s.EntryChain = []session.Selector{
			session.XPath("//span[contains(text(), '进入') and contains(@class, 'desktop-main-entry-text')]"),
			session.XPath("//*[contains(text(), '进入')]"),
			session.Class("desktop-main-entry-text"),
		}
	}
	if s.KeepaliveScript == "" {
		s.KeepaliveScript = "() => console.log('keepalive signal')"
	}
	if s.ChallengeFallback == "" {
		s.ChallengeFallback = "0000"
	}
	if s.FindTimeoutMs <= 0 {
		s.FindTimeoutMs = 10000
	}

	t := &c.Timing
	if t.LoginSettleMs <= 0 {
		t.LoginSettleMs = 3000
	}
	if t.SubmitSettleMs <= 0 {
		t.SubmitSettleMs = 3000
	}
	if t.ChallengeSettleMs <= 0 {
		t.ChallengeSettleMs = 5000
	}
	if t.PostLoginWaitMs <= 0 {
		t.PostLoginWaitMs = 5000
	}
	if t.ReadyPollIntervalMs <= 0 {
		t.ReadyPollIntervalMs = 1000
	}
	if t.ReadyPollAttempts <= 0 {
		t.ReadyPollAttempts = 30
	}
	if t.ReadyProgressEvery <= 0 {
		t.ReadyProgressEvery = 5
	}
	if t.ReadySettleMs <= 0 {
		t.ReadySettleMs = 20000
	}

	if c.Scheduler.CheckIntervalSeconds <= 0 {
		c.Scheduler.CheckIntervalSeconds = 60
	}
	if c.Scheduler.HeartbeatIntervalSeconds <= 0 {
		c.Scheduler.HeartbeatIntervalSeconds = 600
	}

	if c.Solver.TimeoutMs <= 0 {
		c.Solver.TimeoutMs = 10000
	}
	if c.Solver.RetryCount < 0 {
		c.Solver.RetryCount = 0
	}
	if c.Solver.MaxConcurrent <= 0 {
		c.Solver.MaxConcurrent = 1
	}
	if c.Solver.Burst <= 0 {
		c.Solver.Burst = 1
	}

	if c.Email.Port <= 0 {
		c.Email.Port = 465
	}
}

func defaultSelector(sel *session.Selector, def session.Selector) {
	if strings.TrimSpace(sel.Value) == "" {
		*sel = def
		return
	}
	if sel.Kind == "" {
		sel.Kind = session.ByClass
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvSolverToken)); v != "" {
		c.Solver.Token = v
	}
	if v := os.Getenv(EnvSMTPPassword); v != "" {
		c.Email.Password = v
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	switch c.Storage.Driver {
	case StorageFile, StorageSQLite:
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Site.LoginURL == "" {
		return errors.New("site.loginURL is required")
	}
	for i, sel := range c.Site.EntryChain {
		if err := validateSelector(sel); err != nil {
			return fmt.Errorf("site.entryChain[%d]: %w", i, err)
		}
	}
	for name, sel := range map[string]session.Selector{
		"account":        c.Site.Selectors.Account,
		"password":       c.Site.Selectors.Password,
		"submit":         c.Site.Selectors.Submit,
		"challengeInput": c.Site.Selectors.ChallengeInput,
		"challengeImage": c.Site.Selectors.ChallengeImage,
	} {
		if err := validateSelector(sel); err != nil {
			return fmt.Errorf("site.selectors.%s: %w", name, err)
		}
	}
	return nil
}

func validateSelector(sel session.Selector) error {
	switch sel.Kind {
	case session.ByClass, session.ByCSS, session.ByXPath:
	default:
		return fmt.Errorf("unknown selector kind %q", sel.Kind)
	}
	if strings.TrimSpace(sel.Value) == "" {
		return errors.New("selector value is required")
	}
	return nil
}
