package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"keepalive_engine/internal/logbus"
	"keepalive_engine/internal/model"
)

// StatusEvent 描述单个账号的状态变化；LastSuccess 仅在保活成功时携带。
type StatusEvent struct {
	AccountID   int        `json:"accountId"`
	Name        string     `json:"name,omitempty"`
	Status      string     `json:"status"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	RunID       string     `json:"runId,omitempty"`
}

type StatusSubscriber interface {
	OnStatus(ctx context.Context, evt StatusEvent) error
}

type StatusFunc func(ctx context.Context, evt StatusEvent) error

func (f StatusFunc) OnStatus(ctx context.Context, evt StatusEvent) error { return f(ctx, evt) }

type RunSubscriber interface {
	OnRunFinished(ctx context.Context, sum model.RunSummary) error
}

type RunFunc func(ctx context.Context, sum model.RunSummary) error

func (f RunFunc) OnRunFinished(ctx context.Context, sum model.RunSummary) error { return f(ctx, sum) }

// StatusRecorder is the registry side of a status change.
type StatusRecorder interface {
	UpdateStatus(ctx context.Context, id int, status string, lastSuccess *time.Time) error
}

type statusEntry struct {
	id  uint64
	sub StatusSubscriber
}

type runEntry struct {
	id  uint64
	sub RunSubscriber
}

// Hub fans status and run-summary events out to subscribers. Log events go through the bus.
type Hub struct {
	rec StatusRecorder
	bus *logbus.Bus

	mu     sync.RWMutex
	next   uint64
	status []statusEntry
	runs   []runEntry
}

func NewHub(rec StatusRecorder, bus *logbus.Bus) *Hub {
	return &Hub{rec: rec, bus: bus}
}

func (h *Hub) SubscribeStatus(sub StatusSubscriber) func() {
	if sub == nil {
		return func() {}
	}
	h.mu.Lock()
	h.next++
	id := h.next
	h.status = append(h.status, statusEntry{id: id, sub: sub})
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, e := range h.status {
			if e.id == id {
				h.status = append(h.status[:i:i], h.status[i+1:]...)
				return
			}
		}
	}
}

func (h *Hub) SubscribeRuns(sub RunSubscriber) func() {
	if sub == nil {
		return func() {}
	}
	h.mu.Lock()
	h.next++
	id := h.next
	h.runs = append(h.runs, runEntry{id: id, sub: sub})
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, e := range h.runs {
			if e.id == id {
				h.runs = append(h.runs[:i:i], h.runs[i+1:]...)
				return
			}
		}
	}
}

func (h *Hub) SubscribeLog(fn logbus.LogFunc) func() {
	if h.bus == nil {
		return func() {}
	}
	return h.bus.SubscribeFunc(fn)
}

// PublishStatus records the status in the registry before any subscriber sees it.
// A registry failure is returned but does not stop delivery.
func (h *Hub) PublishStatus(ctx context.Context, evt StatusEvent) error {
	var recErr error
	if h.rec != nil {
		if err := h.rec.UpdateStatus(ctx, evt.AccountID, evt.Status, evt.LastSuccess); err != nil {
			recErr = fmt.Errorf("record status: %w", err)
			h.log("warn", "status not persisted", map[string]any{
				"accountId": evt.AccountID,
				"status":    evt.Status,
				"error":     err.Error(),
			})
		}
	}
	if h.bus != nil {
		h.bus.Publish("status", evt)
	}

	h.mu.RLock()
	subs := make([]statusEntry, len(h.status))
	copy(subs, h.status)
	h.mu.RUnlock()

	for _, e := range subs {
		if err := safeCall(func() error { return e.sub.OnStatus(ctx, evt) }); err != nil {
			h.log("warn", "status subscriber failed", map[string]any{
				"accountId": evt.AccountID,
				"error":     err.Error(),
			})
		}
	}
	return recErr
}

func (h *Hub) PublishRunSummary(ctx context.Context, sum model.RunSummary) {
	if h.bus != nil {
		h.bus.Publish("run", sum)
	}

	h.mu.RLock()
	subs := make([]runEntry, len(h.runs))
	copy(subs, h.runs)
	h.mu.RUnlock()

	for _, e := range subs {
		if err := safeCall(func() error { return e.sub.OnRunFinished(ctx, sum) }); err != nil {
			h.log("warn", "run subscriber failed", map[string]any{
				"runId": sum.RunID,
				"error": err.Error(),
			})
		}
	}
}

func (h *Hub) log(level, msg string, fields map[string]any) {
	if h.bus != nil {
		h.bus.Log(level, msg, fields)
	}
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
