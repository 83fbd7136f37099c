package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"keepalive_engine/internal/clock"
	"keepalive_engine/internal/config"
	"keepalive_engine/internal/logbus"
	"keepalive_engine/internal/model"
	"keepalive_engine/internal/notify"
	"keepalive_engine/internal/registry"
	"keepalive_engine/internal/session"
	"keepalive_engine/internal/solver"
	"keepalive_engine/internal/store/file"
)

const (
	loginLocation = "https://pc.example.test/#/login"
	listLocation  = "https://pc.example.test/#/desktop-list"
	readyLocation = "https://pc.example.test/#/desktop?id=42"
)

type fakeElement struct {
	site     *fakeSite
	key      string
	value    string
	history  []string
	shot     []byte
	shotErr  error
	clickErr error
}

func (el *fakeElement) SetValue(_ context.Context, v string) error {
	el.value = v
	el.history = append(el.history, v)
	return nil
}

func (el *fakeElement) Click(context.Context) error {
	if el.clickErr != nil {
		return el.clickErr
	}
	if fn := el.site.onClick[el.key]; fn != nil {
		fn(el.site)
	}
	return nil
}

func (el *fakeElement) ReadValue(context.Context) (string, error) { return el.value, nil }

func (el *fakeElement) Screenshot(context.Context) ([]byte, error) {
	if el.shotErr != nil {
		return nil, el.shotErr
	}
	return el.shot, nil
}

// fakeSite is an in-memory stand-in for the remote service behind one session.
type fakeSite struct {
	location      string
	elements      map[string]*fakeElement
	onClick       map[string]func(*fakeSite)
	screenshotErr error
	locationErr   error
	scriptErr     error
	panicOnNav    bool
	closeErr      error

	navigated []string
	scripts   []string
	closed    int
}

func (s *fakeSite) add(sel session.Selector) *fakeElement {
	el := &fakeElement{site: s, key: sel.String()}
	s.elements[sel.String()] = el
	return el
}

func (s *fakeSite) el(sel session.Selector) *fakeElement { return s.elements[sel.String()] }

func (s *fakeSite) remove(sel session.Selector) { delete(s.elements, sel.String()) }

func (s *fakeSite) Navigate(_ context.Context, url string) error {
	if s.panicOnNav {
		panic("renderer crashed")
	}
	s.navigated = append(s.navigated, url)
	s.location = loginLocation
	return nil
}

func (s *fakeSite) Find(_ context.Context, sel session.Selector) (session.Element, error) {
	el, ok := s.elements[sel.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, sel)
	}
	return el, nil
}

func (s *fakeSite) CurrentLocation(context.Context) (string, error) {
	if s.locationErr != nil {
		return "", s.locationErr
	}
	return s.location, nil
}

func (s *fakeSite) RunScript(_ context.Context, script string) error {
	s.scripts = append(s.scripts, script)
	return s.scriptErr
}

func (s *fakeSite) Screenshot(context.Context) ([]byte, error) {
	if s.screenshotErr != nil {
		return nil, s.screenshotErr
	}
	return []byte("PNG"), nil
}

func (s *fakeSite) Close() error {
	s.closed++
	return s.closeErr
}

// newLoginSite serves a login form whose submit lands on the desktop list and whose
// first entry control opens the desktop.
func newLoginSite(site config.SiteConfig) *fakeSite {
	s := &fakeSite{elements: map[string]*fakeElement{}, onClick: map[string]func(*fakeSite){}}
	s.add(site.Selectors.Account)
	s.add(site.Selectors.Password)
	s.add(site.Selectors.Submit)
	s.add(site.EntryChain[0])
	s.onClick[site.Selectors.Submit.String()] = func(s *fakeSite) { s.location = listLocation }
	s.onClick[site.EntryChain[0].String()] = func(s *fakeSite) { s.location = readyLocation }
	return s
}

// withChallenge adds a challenge that is accepted only when answered with want.
func withChallenge(s *fakeSite, site config.SiteConfig, want string) *fakeSite {
	input := s.add(site.Selectors.ChallengeInput)
	img := s.add(site.Selectors.ChallengeImage)
	img.shot = []byte("challenge-png")
	s.onClick[site.Selectors.Submit.String()] = func(s *fakeSite) {
		if input.value == want {
			s.location = listLocation
			return
		}
		input.value = ""
	}
	return s
}

type fakeLauncher struct {
	mu    sync.Mutex
	sites []*fakeSite
	next  int
	opts  []session.Options
	err   error
}

func (l *fakeLauncher) Launch(_ context.Context, opts session.Options) (session.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opts = append(l.opts, opts)
	if l.err != nil {
		return nil, l.err
	}
	if l.next >= len(l.sites) {
		return nil, errors.New("no more fake sites")
	}
	s := l.sites[l.next]
	l.next++
	return s, nil
}

type logLine struct {
	Level  string
	Msg    string
	Fields map[string]any
}

type harness struct {
	t        *testing.T
	cfg      config.Config
	reg      *registry.Registry
	hub      *notify.Hub
	bus      *logbus.Bus
	clk      *clock.Mock
	launcher *fakeLauncher
	dir      string
	e        *Engine

	mu       sync.Mutex
	statuses []notify.StatusEvent
	logs     []logLine
}

func newHarness(t *testing.T, sv solver.Solver) *harness {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	st, err := file.Open(filepath.Join(root, "accounts_config.json"))
	require.NoError(t, err)
	bus := logbus.New(1000, zerolog.Nop())
	reg, err := registry.Open(ctx, st, bus)
	require.NoError(t, err)
	hub := notify.NewHub(reg, bus)

	h := &harness{
		t:        t,
		cfg:      config.Default(),
		reg:      reg,
		hub:      hub,
		bus:      bus,
		clk:      clock.NewMock(time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)),
		launcher: &fakeLauncher{},
		dir:      filepath.Join(root, "static"),
	}
	hub.SubscribeStatus(notify.StatusFunc(func(_ context.Context, evt notify.StatusEvent) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.statuses = append(h.statuses, evt)
		return nil
	}))
	bus.SubscribeFunc(func(e logbus.Entry) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.logs = append(h.logs, logLine{Level: e.Level, Msg: e.Msg, Fields: e.Fields})
		return nil
	})

	h.e = New(Options{
		Accounts:     reg,
		Publisher:    hub,
		Bus:          bus,
		Launcher:     h.launcher,
		Solver:       sv,
		Clock:        h.clk,
		Site:         h.cfg.Site,
		Timing:       h.cfg.Timing,
		ArtifactsDir: h.dir,
	})
	return h
}

func (h *harness) addAccount(name, identifier string) model.Account {
	h.t.Helper()
	id, err := h.reg.Add(context.Background(), name, identifier, "pw-"+name)
	require.NoError(h.t, err)
	acc, ok := h.reg.Account(id)
	require.True(h.t, ok)
	return acc
}

func (h *harness) statusLabels(accountID int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, s := range h.statuses {
		if s.AccountID == accountID {
			out = append(out, s.Status)
		}
	}
	return out
}

func (h *harness) logsWith(msg string) []logLine {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []logLine
	for _, l := range h.logs {
		if l.Msg == msg {
			out = append(out, l)
		}
	}
	return out
}

func constSolver(answer string, err error) (solver.Solver, *int) {
	calls := 0
	return solver.Func(func(context.Context, []byte) (string, error) {
		calls++
		return answer, err
	}), &calls
}
