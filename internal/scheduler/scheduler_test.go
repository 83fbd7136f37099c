package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepalive_engine/internal/clock"
	"keepalive_engine/internal/engine"
	"keepalive_engine/internal/logbus"
	"keepalive_engine/internal/model"
)

var (
	monday   = time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	saturday = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
)

type fakePolicy struct {
	mu       sync.Mutex
	sched    model.Schedule
	accounts []model.Account
}

func (p *fakePolicy) Schedule() model.Schedule {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sched
}

func (p *fakePolicy) EnabledAccounts() []model.Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accounts
}

func (p *fakePolicy) set(s model.Schedule) {
	p.mu.Lock()
	p.sched = s
	p.mu.Unlock()
}

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeRunner) StartRun(ids []int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.calls++
	return "run-1", nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fixture struct {
	policy *fakePolicy
	runner *fakeRunner
	clk    *clock.Mock
	bus    *logbus.Bus
	s      *Scheduler
}

func newFixture(t *testing.T, sched model.Schedule, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		policy: &fakePolicy{sched: sched, accounts: []model.Account{{ID: 1, Name: "A", Enabled: true}}},
		runner: &fakeRunner{},
		clk:    clock.NewMock(now),
		bus:    logbus.New(200, zerolog.Nop()),
	}
	f.s = New(Options{
		Policy:            f.policy,
		Runner:            f.runner,
		Bus:               f.bus,
		Clock:             f.clk,
		CheckInterval:     time.Minute,
		HeartbeatInterval: 10 * time.Minute,
	})
	t.Cleanup(func() { f.s.Stop() })
	return f
}

func (f *fixture) logged(msg string) int {
	n := 0
	for _, m := range f.bus.Snapshot() {
		if e, ok := m.Data.(logbus.LogData); ok && e.Msg == msg {
			n++
		}
	}
	return n
}

func weekdaySchedule() model.Schedule {
	return model.Schedule{Enabled: true, IntervalMinutes: 30, StartTime: "08:00", EndTime: "22:00", WeekendEnabled: false}
}

func TestTrigger_FullDayIgnoresWeekendFlag(t *testing.T) {
	sched := model.FullDaySchedule(30)
	sched.WeekendEnabled = false
	f := newFixture(t, sched, saturday)

	assert.Equal(t, Launched, f.s.Trigger(saturday.Add(14*time.Hour)))
	assert.Equal(t, 1, f.runner.count())
}

func TestTrigger_OutsideWindow(t *testing.T) {
	f := newFixture(t, weekdaySchedule(), monday)

	assert.Equal(t, SkippedWindow, f.s.Trigger(time.Date(2026, 10, 12, 7, 59, 59, 0, time.UTC)))
	assert.Equal(t, SkippedWindow, f.s.Trigger(time.Date(2026, 10, 12, 22, 0, 30, 0, time.UTC)))
	assert.Equal(t, Launched, f.s.Trigger(time.Date(2026, 10, 12, 22, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, f.runner.count())
}

func TestTrigger_WeekendDisabled(t *testing.T) {
	f := newFixture(t, weekdaySchedule(), saturday)

	assert.Equal(t, SkippedWeekend, f.s.Trigger(saturday))

	sched := weekdaySchedule()
	sched.WeekendEnabled = true
	f.policy.set(sched)
	assert.Equal(t, Launched, f.s.Trigger(saturday))
}

func TestTrigger_NoEnabledAccounts(t *testing.T) {
	f := newFixture(t, weekdaySchedule(), monday)
	f.policy.accounts = nil

	assert.Equal(t, SkippedNoAccounts, f.s.Trigger(monday))
	assert.Zero(t, f.runner.count())
	assert.Equal(t, 1, f.logged("run skipped: no enabled accounts"))
}

func TestTrigger_RunInProgress(t *testing.T) {
	f := newFixture(t, weekdaySchedule(), monday)
	f.runner.err = engine.ErrRunInProgress

	assert.Equal(t, SkippedBusy, f.s.Trigger(monday))
}

func TestTrigger_InvalidPolicy(t *testing.T) {
	sched := weekdaySchedule()
	sched.StartTime = "8am"
	f := newFixture(t, sched, monday)

	assert.Equal(t, SkippedPolicy, f.s.Trigger(monday))
}

func TestStart_FiresImmediately(t *testing.T) {
	f := newFixture(t, weekdaySchedule(), monday)

	require.True(t, f.s.Start())
	assert.True(t, f.s.Running())
	assert.Equal(t, 1, f.runner.count())
	assert.Equal(t, monday.Add(30*time.Minute), f.s.Next())

	assert.False(t, f.s.Start(), "second start is a no-op")
	assert.Equal(t, 1, f.runner.count())
}

func TestStart_DisabledPolicy(t *testing.T) {
	sched := weekdaySchedule()
	sched.Enabled = false
	f := newFixture(t, sched, monday)

	assert.False(t, f.s.Start())
	assert.False(t, f.s.Running())
	assert.Zero(t, f.runner.count())
}

func TestTick_FiresWhenDue(t *testing.T) {
	f := newFixture(t, weekdaySchedule(), monday)
	require.True(t, f.s.Start())

	f.s.tick(monday.Add(29 * time.Minute))
	assert.Equal(t, 1, f.runner.count())

	f.s.tick(monday.Add(30 * time.Minute))
	assert.Equal(t, 2, f.runner.count())
	assert.Equal(t, monday.Add(60*time.Minute), f.s.Next())
}

func TestTick_StoppedDoesNothing(t *testing.T) {
	f := newFixture(t, weekdaySchedule(), monday)
	require.True(t, f.s.Start())
	require.True(t, f.s.Stop())
	assert.False(t, f.s.Stop())
	assert.True(t, f.s.Next().IsZero())

	f.s.tick(monday.Add(2 * time.Hour))
	assert.Equal(t, 1, f.runner.count())
}

func TestTick_Heartbeat(t *testing.T) {
	f := newFixture(t, weekdaySchedule(), monday)
	require.True(t, f.s.Start())

	f.s.tick(monday.Add(9 * time.Minute))
	assert.Zero(t, f.logged("scheduler heartbeat"))
	f.s.tick(monday.Add(10 * time.Minute))
	assert.Equal(t, 1, f.logged("scheduler heartbeat"))
}

func TestLoop_DrivenByClock(t *testing.T) {
	f := newFixture(t, weekdaySchedule(), monday)
	require.True(t, f.s.Start())

	f.clk.Add(30 * time.Minute)
	assert.Eventually(t, func() bool { return f.runner.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestReload_AppliesNewInterval(t *testing.T) {
	f := newFixture(t, weekdaySchedule(), monday)
	require.True(t, f.s.Start())

	sched := weekdaySchedule()
	sched.IntervalMinutes = 5
	f.policy.set(sched)
	require.True(t, f.s.Reload())
	assert.Equal(t, monday.Add(5*time.Minute), f.s.Next())
	assert.Equal(t, 2, f.runner.count())
}

// blockingPolicy parks the first EnabledAccounts call until release is closed.
type blockingPolicy struct {
	*fakePolicy
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (p *blockingPolicy) EnabledAccounts() []model.Account {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	return p.fakePolicy.EnabledAccounts()
}

func TestStart_StopDuringImmediateTriggerLaunchesNothing(t *testing.T) {
	f := newFixture(t, weekdaySchedule(), monday)
	policy := &blockingPolicy{fakePolicy: f.policy, entered: make(chan struct{}), release: make(chan struct{})}
	f.s.policy = policy

	started := make(chan bool)
	go func() { started <- f.s.Start() }()
	<-policy.entered

	require.True(t, f.s.Stop())
	close(policy.release)
	assert.True(t, <-started)

	assert.Zero(t, f.runner.count())
	assert.False(t, f.s.Running())
	assert.Equal(t, 1, f.logged("run skipped: scheduler stopped"))
}

func TestTick_StaleGenerationLaunchesNothing(t *testing.T) {
	f := newFixture(t, weekdaySchedule(), monday)
	require.True(t, f.s.Start())
	require.True(t, f.s.Reload())
	require.Equal(t, 2, f.runner.count())

	f.s.mu.Lock()
	stale := f.s.gen - 1
	f.s.mu.Unlock()
	assert.Equal(t, SkippedStopped, f.s.trigger(monday.Add(time.Hour), &stale))
	assert.Equal(t, Launched, f.s.Trigger(monday.Add(time.Hour)))
	assert.Equal(t, 3, f.runner.count())
}
