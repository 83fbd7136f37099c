package clock

import (
	"sync"
	"time"
)

// Mock is a manually driven Clock. Sleep advances the mock time instead of blocking
// and is recorded, so tests can assert on every wait a component performed.
type Mock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	tickers []*mockTicker
}

func NewMock(t time.Time) *Mock {
	return &Mock{now: t}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *Mock) Sleep(d time.Duration) {
	m.mu.Lock()
	m.sleeps = append(m.sleeps, d)
	m.mu.Unlock()
	m.Add(d)
}

// Sleeps returns a copy of every duration passed to Sleep so far.
func (m *Mock) Sleeps() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.sleeps))
	copy(out, m.sleeps)
	return out
}

func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
	m.fireLocked()
}

func (m *Mock) Add(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	m.fireLocked()
}

func (m *Mock) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &mockTicker{
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     m.now.Add(d),
	}
	m.tickers = append(m.tickers, t)
	return t
}

func (m *Mock) fireLocked() {
	for _, t := range m.tickers {
		if t.stopped() {
			continue
		}
		for !m.now.Before(t.next) {
			select {
			case t.ch <- m.now:
			default:
			}
			t.next = t.next.Add(t.interval)
		}
	}
}

type mockTicker struct {
	ch       chan time.Time
	interval time.Duration
	next     time.Time

	mu   sync.Mutex
	done bool
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

func (t *mockTicker) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}
