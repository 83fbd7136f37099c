// Package session describes the browser capabilities the keepalive flow needs.
// internal/browser implements it with go-rod; tests use in-memory fakes.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("element not found")

type SelectorKind string

const (
	ByClass SelectorKind = "class"
	ByCSS   SelectorKind = "css"
	ByXPath SelectorKind = "xpath"
)

type Selector struct {
	Kind  SelectorKind `yaml:"kind" json:"kind"`
	Value string       `yaml:"value" json:"value"`
}

func Class(v string) Selector { return Selector{Kind: ByClass, Value: v} }
func CSS(v string) Selector   { return Selector{Kind: ByCSS, Value: v} }
func XPath(v string) Selector { return Selector{Kind: ByXPath, Value: v} }

func (s Selector) String() string {
	return string(s.Kind) + "=" + s.Value
}

type Options struct {
	Browser     string
	BrowserPath string
	Headless    bool
	// FindTimeout bounds each Find; zero means the implementation default.
	FindTimeout time.Duration
}

type Launcher interface {
	Launch(ctx context.Context, opts Options) (Session, error)
}

type Session interface {
	Navigate(ctx context.Context, url string) error
	// Find returns ErrNotFound (possibly wrapped) when nothing matches in time.
	Find(ctx context.Context, sel Selector) (Element, error)
	CurrentLocation(ctx context.Context) (string, error)
	RunScript(ctx context.Context, script string) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

type Element interface {
	SetValue(ctx context.Context, v string) error
	Click(ctx context.Context) error
	ReadValue(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}
