package engine

import (
	"context"
	"errors"
	"sync"

	"keepalive_engine/internal/clock"
	"keepalive_engine/internal/config"
	"keepalive_engine/internal/logbus"
	"keepalive_engine/internal/model"
	"keepalive_engine/internal/notify"
	"keepalive_engine/internal/session"
	"keepalive_engine/internal/solver"
)

var (
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrNoAccounts    = errors.New("no enabled accounts to run")
)

// AccountSource is the read side of the account registry.
type AccountSource interface {
	EnabledAccounts() []model.Account
	Settings() model.Settings
}

type Publisher interface {
	PublishStatus(ctx context.Context, evt notify.StatusEvent) error
	PublishRunSummary(ctx context.Context, sum model.RunSummary)
}

type Options struct {
	Accounts     AccountSource
	Publisher    Publisher
	Bus          *logbus.Bus
	Launcher     session.Launcher
	Solver       solver.Solver
	Clock        clock.Clock
	Site         config.SiteConfig
	Timing       config.TimingConfig
	ArtifactsDir string
}

type accountRunner func(ctx context.Context, acc model.Account, settings model.Settings, runID string) error

type Engine struct {
	accounts  AccountSource
	publisher Publisher
	bus       *logbus.Bus
	launcher  session.Launcher
	solver    solver.Solver
	clock     clock.Clock

	site         config.SiteConfig
	timing       config.TimingConfig
	artifactsDir string

	// runSlot admits one pass at a time across manual and scheduled triggers.
	runSlot chan struct{}
	wg      sync.WaitGroup

	runAccount accountRunner
}

func New(opts Options) *Engine {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	sv := opts.Solver
	if sv == nil {
		sv = solver.New(solver.Config{})
	}
	dir := opts.ArtifactsDir
	if dir == "" {
		dir = "static"
	}
	e := &Engine{
		accounts:     opts.Accounts,
		publisher:    opts.Publisher,
		bus:          opts.Bus,
		launcher:     opts.Launcher,
		solver:       sv,
		clock:        clk,
		site:         opts.Site,
		timing:       opts.Timing,
		artifactsDir: dir,
		runSlot:      make(chan struct{}, 1),
	}
	e.runAccount = e.KeepaliveAccount
	return e
}

func (e *Engine) ArtifactsDir() string {
	return e.artifactsDir
}

func (e *Engine) RunInProgress() bool {
	return len(e.runSlot) > 0
}

func (e *Engine) tryAcquireRun() bool {
	select {
	case e.runSlot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *Engine) releaseRun() {
	select {
	case <-e.runSlot:
	default:
	}
}

// Wait blocks until passes started with StartRun have finished.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) log(level, msg string, fields map[string]any) {
	if e.bus != nil {
		e.bus.Log(level, msg, fields)
	}
}

func (e *Engine) publishStatus(ctx context.Context, evt notify.StatusEvent) {
	if e.publisher == nil {
		return
	}
	// 状态写入失败已由 hub 记录，这里不中断保活流程
	_ = e.publisher.PublishStatus(ctx, evt)
}
