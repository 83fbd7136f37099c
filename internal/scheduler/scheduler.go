// Package scheduler fires keepalive passes periodically inside a daily window.
package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"keepalive_engine/internal/clock"
	"keepalive_engine/internal/engine"
	"keepalive_engine/internal/logbus"
	"keepalive_engine/internal/model"
)

type Decision string

const (
	Launched          Decision = "launched"
	SkippedWindow     Decision = "skipped_outside_window"
	SkippedWeekend    Decision = "skipped_weekend"
	SkippedNoAccounts Decision = "skipped_no_accounts"
	SkippedBusy       Decision = "skipped_run_in_progress"
	SkippedPolicy     Decision = "skipped_invalid_policy"
	SkippedStopped    Decision = "skipped_scheduler_stopped"
	LaunchFailed      Decision = "launch_failed"
)

// Policy is read fresh on every evaluation.
type Policy interface {
	Schedule() model.Schedule
	EnabledAccounts() []model.Account
}

type Runner interface {
	StartRun(ids []int) (string, error)
}

type Options struct {
	Policy            Policy
	Runner            Runner
	Bus               *logbus.Bus
	Clock             clock.Clock
	CheckInterval     time.Duration
	HeartbeatInterval time.Duration
}

type Scheduler struct {
	policy    Policy
	runner    Runner
	bus       *logbus.Bus
	clock     clock.Clock
	check     time.Duration
	heartbeat time.Duration

	mu            sync.Mutex
	running       bool
	gen           uint64 // bumped on every start and stop
	every         cron.Schedule
	next          time.Time
	lastHeartbeat time.Time
	stop          chan struct{}
	done          chan struct{}
}

func New(opts Options) *Scheduler {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	check := opts.CheckInterval
	if check <= 0 {
		check = time.Minute
	}
	hb := opts.HeartbeatInterval
	if hb <= 0 {
		hb = 10 * time.Minute
	}
	return &Scheduler{
		policy:    opts.Policy,
		runner:    opts.Runner,
		bus:       opts.Bus,
		clock:     clk,
		check:     check,
		heartbeat: hb,
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Next returns the next due time, or zero when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	return s.next
}

// Start turns the scheduler on and evaluates one trigger right away. It reports
// false when already running or when the policy is disabled.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log("info", "scheduler already running", nil)
		return false
	}
	sched := s.policy.Schedule()
	if !sched.Enabled {
		s.mu.Unlock()
		s.log("info", "scheduler disabled by policy", nil)
		return false
	}

	now := s.clock.Now()
	s.running = true
	s.gen++
	gen := s.gen
	s.every = cron.Every(sched.Interval())
	s.next = s.every.Next(now)
	s.lastHeartbeat = now
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	ticker := s.clock.NewTicker(s.check)
	go s.loop(ticker, s.stop, s.done)
	next := s.next
	s.mu.Unlock()

	s.log("info", "scheduler started", policyFields(sched, map[string]any{"next": next.Format(time.RFC3339)}))
	s.trigger(now, &gen)
	return true
}

// Stop suppresses future triggers. A pass already running is left to finish.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	s.gen++
	s.next = time.Time{}
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	close(stop)
	<-done
	s.log("info", "scheduler stopped", nil)
	return true
}

// Reload restarts a running scheduler so an edited policy takes effect.
func (s *Scheduler) Reload() bool {
	if !s.Stop() {
		return false
	}
	return s.Start()
}

func (s *Scheduler) loop(t clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C():
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	beat := now.Sub(s.lastHeartbeat) >= s.heartbeat
	if beat {
		s.lastHeartbeat = now
	}
	due := !now.Before(s.next)
	if due {
		s.next = s.every.Next(now)
	}
	next := s.next
	gen := s.gen
	s.mu.Unlock()

	if beat {
		s.log("info", "scheduler heartbeat", policyFields(s.policy.Schedule(), map[string]any{
			"now":  now.Format("15:04:05"),
			"next": next.Format(time.RFC3339),
		}))
	}
	if due {
		s.trigger(now, &gen)
	}
}

// Trigger evaluates the policy at now and launches a pass when it allows one.
// It never blocks on the pass itself.
func (s *Scheduler) Trigger(now time.Time) Decision {
	return s.trigger(now, nil)
}

// trigger launches only while the scheduler is still in generation gen when
// gen is set. The check and StartRun share s.mu so a Stop cannot slip between
// them.
func (s *Scheduler) trigger(now time.Time, gen *uint64) Decision {
	sched := s.policy.Schedule()
	win, err := sched.Window()
	if err != nil {
		s.log("warn", "run skipped: invalid schedule", map[string]any{"error": err.Error()})
		return SkippedPolicy
	}

	fullDay := win.FullDay()
	s.log("info", "scheduled trigger", map[string]any{
		"now":     now.Format("2006-01-02 15:04:05"),
		"window":  sched.StartTime + "-" + sched.EndTime,
		"fullDay": fullDay,
	})
	if !fullDay {
		if !win.Contains(now) {
			s.log("info", "run skipped: outside window", map[string]any{"now": now.Format("15:04:05")})
			return SkippedWindow
		}
		if model.IsWeekend(now) && !sched.WeekendEnabled {
			s.log("info", "run skipped: weekend disabled", map[string]any{"weekday": now.Weekday().String()})
			return SkippedWeekend
		}
	}

	enabled := s.policy.EnabledAccounts()
	if len(enabled) == 0 {
		s.log("info", "run skipped: no enabled accounts", nil)
		return SkippedNoAccounts
	}

	s.mu.Lock()
	if gen != nil && (!s.running || s.gen != *gen) {
		s.mu.Unlock()
		s.log("info", "run skipped: scheduler stopped", nil)
		return SkippedStopped
	}
	runID, err := s.runner.StartRun(nil)
	s.mu.Unlock()
	switch {
	case errors.Is(err, engine.ErrRunInProgress):
		return SkippedBusy
	case errors.Is(err, engine.ErrNoAccounts):
		return SkippedNoAccounts
	case err != nil:
		s.log("warn", "scheduled run not started", map[string]any{"error": err.Error()})
		return LaunchFailed
	}
	s.log("info", "scheduled run launched", map[string]any{"runId": runID, "accounts": len(enabled)})
	return Launched
}

func (s *Scheduler) log(level, msg string, fields map[string]any) {
	if s.bus != nil {
		s.bus.Log(level, msg, fields)
	}
}

func policyFields(sched model.Schedule, extra map[string]any) map[string]any {
	out := map[string]any{
		"intervalMinutes": sched.IntervalMinutes,
		"window":          sched.StartTime + "-" + sched.EndTime,
		"weekendEnabled":  sched.WeekendEnabled,
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
