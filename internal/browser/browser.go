// Package browser drives Chrome or Edge through go-rod.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"keepalive_engine/internal/model"
	"keepalive_engine/internal/session"
)

const defaultFindTimeout = 10 * time.Second

// Launcher picks the concrete browser from Options.Browser.
type Launcher struct {
	Chrome session.Launcher
	Edge   session.Launcher
}

func NewLauncher() *Launcher {
	return &Launcher{Chrome: Chrome{}, Edge: Edge{}}
}

func (l *Launcher) Launch(ctx context.Context, opts session.Options) (session.Session, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Browser)) {
	case model.BrowserChrome:
		return l.Chrome.Launch(ctx, opts)
	case model.BrowserEdge, "":
		return l.Edge.Launch(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported browser %q", opts.Browser)
	}
}

type Chrome struct{}

func (Chrome) Launch(ctx context.Context, opts session.Options) (session.Session, error) {
	bin := strings.TrimSpace(opts.BrowserPath)
	if bin == "" {
		if p, ok := launcher.LookPath(); ok {
			bin = p
		}
	}
	// empty bin lets rod download its own chromium
	return launch(ctx, bin, opts)
}

type Edge struct{}

func (Edge) Launch(ctx context.Context, opts session.Options) (session.Session, error) {
	bin := strings.TrimSpace(opts.BrowserPath)
	if bin == "" {
		bin = firstExisting(edgeCandidates(runtime.GOOS))
	}
	if bin == "" {
		return nil, errors.New("microsoft edge not found, set settings.browser_path")
	}
	return launch(ctx, bin, opts)
}

func edgeCandidates(goos string) []string {
	switch goos {
	case "windows":
		return []string{
			`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
			`C:\Program Files\Microsoft\Edge\Application\msedge.exe`,
		}
	case "darwin":
		return []string{"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"}
	default:
		return []string{
			"/usr/bin/microsoft-edge",
			"/usr/bin/microsoft-edge-stable",
			"/opt/microsoft/msedge/msedge",
		}
	}
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

func launch(ctx context.Context, bin string, opts session.Options) (session.Session, error) {
	l := launcher.New().Context(ctx).Headless(opts.Headless)
	if bin != "" {
		l = l.Bin(bin)
	}
	u, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		l.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}

	timeout := opts.FindTimeout
	if timeout <= 0 {
		timeout = defaultFindTimeout
	}
	return &rodSession{launcher: l, browser: b, page: page, findTimeout: timeout}, nil
}

type rodSession struct {
	launcher    *launcher.Launcher
	browser     *rod.Browser
	page        *rod.Page
	findTimeout time.Duration
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (s *rodSession) Find(ctx context.Context, sel session.Selector) (session.Element, error) {
	p := s.page.Context(ctx).Timeout(s.findTimeout)
	var (
		el  *rod.Element
		err error
	)
	switch sel.Kind {
	case session.ByXPath:
		el, err = p.ElementX(sel.Value)
	case session.ByClass, session.ByCSS:
		el, err = p.Element(cssFor(sel))
	default:
		return nil, fmt.Errorf("unsupported selector kind %q", sel.Kind)
	}
	if err != nil {
		var nf *rod.ElementNotFoundError
		if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s", session.ErrNotFound, sel)
		}
		return nil, fmt.Errorf("find %s: %w", sel, err)
	}
	return &rodElement{el: el.CancelTimeout()}, nil
}

// cssFor turns a class selector into CSS. Multiple classes separated by spaces must all match.
func cssFor(sel session.Selector) string {
	if sel.Kind != session.ByClass {
		return sel.Value
	}
	fields := strings.Fields(sel.Value)
	return "." + strings.Join(fields, ".")
}

func (s *rodSession) CurrentLocation(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

func (s *rodSession) RunScript(ctx context.Context, script string) error {
	_, err := s.page.Context(ctx).Eval(script)
	return err
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (s *rodSession) Close() error {
	var firstErr error
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			firstErr = err
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
	return firstErr
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) SetValue(ctx context.Context, v string) error {
	el := e.el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(v)
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) ReadValue(ctx context.Context) (string, error) {
	v, err := e.el.Context(ctx).Property("value")
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (e *rodElement) Screenshot(ctx context.Context) ([]byte, error) {
	return e.el.Context(ctx).Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}
