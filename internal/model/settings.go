package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	BrowserEdge   = "edge"
	BrowserChrome = "chrome"
)

type Settings struct {
	MaxChallengeRetries int    `json:"max_challenge_retries" yaml:"max_challenge_retries"`
	AccountDelaySeconds int    `json:"account_delay_seconds" yaml:"account_delay_seconds"`
	BrowserType         string `json:"browser_type" yaml:"browser_type"`
	BrowserPath         string `json:"browser_path,omitempty" yaml:"browser_path,omitempty"`
	Headless            bool   `json:"headless" yaml:"headless"`
}

func DefaultSettings() Settings {
	return Settings{
		MaxChallengeRetries: 3,
		AccountDelaySeconds: 5,
		BrowserType:         BrowserEdge,
	}
}

func (s Settings) AccountDelay() time.Duration {
	return time.Duration(s.AccountDelaySeconds) * time.Second
}

// Normalize 只做大小写与空白整理，不补缺省值；缺失或越界的取值交给 Validate 报错。
func (s Settings) Normalize() Settings {
	out := s
	out.BrowserType = strings.ToLower(strings.TrimSpace(out.BrowserType))
	out.BrowserPath = strings.TrimSpace(out.BrowserPath)
	return out
}

func (s Settings) Validate() error {
	if s.MaxChallengeRetries < 1 {
		return fmt.Errorf("settings.max_challenge_retries must be >= 1, got %d", s.MaxChallengeRetries)
	}
	if s.AccountDelaySeconds < 0 {
		return fmt.Errorf("settings.account_delay_seconds must be >= 0, got %d", s.AccountDelaySeconds)
	}
	switch s.BrowserType {
	case BrowserEdge, BrowserChrome:
	default:
		return fmt.Errorf("settings.browser_type %q is not supported", s.BrowserType)
	}
	return nil
}
