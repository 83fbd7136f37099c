// Package registry is the system of record for accounts, global settings and the
// schedule policy. Every mutating call persists the full document before it returns.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"keepalive_engine/internal/logbus"
	"keepalive_engine/internal/model"
	"keepalive_engine/internal/store"
)

var ErrAccountNotFound = errors.New("account not found")

type Registry struct {
	store store.Store
	bus   *logbus.Bus

	// mu serializes mutate-then-save within this process. Writers in other
	// processes sharing the same store can still overwrite each other.
	mu     sync.RWMutex
	doc    model.Document
	nextID int
}

// Open loads the document from s. A missing document is materialized from defaults
// and persisted; any other load or validation failure is returned unchanged.
func Open(ctx context.Context, s store.Store, bus *logbus.Bus) (*Registry, error) {
	r := &Registry{store: s, bus: bus}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Reload(ctx context.Context) error {
	doc, err := r.store.Load(ctx)
	created := false
	if errors.Is(err, store.ErrNotFound) {
		doc = model.DefaultDocument()
		created = true
	} else if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	doc, err = normalizeDocument(doc)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if created {
		if err := r.store.Save(ctx, doc); err != nil {
			return fmt.Errorf("persist default registry: %w", err)
		}
	}
	r.doc = doc
	maxID := 0
	for _, a := range doc.Accounts {
		if a.ID > maxID {
			maxID = a.ID
		}
	}
	if maxID+1 > r.nextID {
		r.nextID = maxID + 1
	}
	if created {
		r.log("info", "default configuration created", nil)
	}
	return nil
}

func normalizeDocument(doc model.Document) (model.Document, error) {
	if doc.Accounts == nil {
		doc.Accounts = []model.Account{}
	}
	seen := make(map[int]struct{}, len(doc.Accounts))
	for i, a := range doc.Accounts {
		if a.ID <= 0 {
			return doc, fmt.Errorf("account #%d has invalid id %d", i+1, a.ID)
		}
		if _, dup := seen[a.ID]; dup {
			return doc, fmt.Errorf("duplicate account id %d", a.ID)
		}
		seen[a.ID] = struct{}{}
		if strings.TrimSpace(a.Status) == "" {
			doc.Accounts[i].Status = model.StatusNotRun
		}
	}
	doc.Settings = doc.Settings.Normalize()
	if err := doc.Settings.Validate(); err != nil {
		return doc, err
	}
	if err := doc.Schedule.Validate(); err != nil {
		return doc, err
	}
	return doc, nil
}

// commitLocked persists next and only then makes it the in-memory document,
// so a failed write never leaves memory ahead of disk.
func (r *Registry) commitLocked(ctx context.Context, next model.Document) error {
	if err := r.store.Save(ctx, next); err != nil {
		return fmt.Errorf("persist registry: %w", err)
	}
	r.doc = next
	return nil
}

func (r *Registry) Add(ctx context.Context, name, identifier, secret string) (int, error) {
	name = strings.TrimSpace(name)
	identifier = strings.TrimSpace(identifier)
	if name == "" || identifier == "" || secret == "" {
		return 0, errors.New("name, account and password are required")
	}

	r.mu.Lock()
	id := r.nextID
	next := r.doc.Clone()
	next.Accounts = append(next.Accounts, model.Account{
		ID:       id,
		Name:     name,
		Account:  identifier,
		Password: secret,
		Enabled:  true,
		Status:   model.StatusNotRun,
	})
	if err := r.commitLocked(ctx, next); err != nil {
		r.mu.Unlock()
		return 0, err
	}
	r.nextID++
	r.mu.Unlock()

	r.log("info", "account added", map[string]any{"accountId": id, "name": name, "account": identifier})
	return id, nil
}

func (r *Registry) Remove(ctx context.Context, id int) (bool, error) {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return false, nil
	}
	next := r.doc.Clone()
	removed := next.Accounts[idx]
	next.Accounts = append(next.Accounts[:idx], next.Accounts[idx+1:]...)
	if err := r.commitLocked(ctx, next); err != nil {
		r.mu.Unlock()
		return false, err
	}
	r.mu.Unlock()

	r.log("info", "account removed", map[string]any{"accountId": id, "name": removed.Name})
	return true, nil
}

// Update 修改账号名称、登录账号与密码；空字符串表示保持原值。
func (r *Registry) Update(ctx context.Context, id int, name, identifier, secret string) error {
	return r.mutateAccount(ctx, id, func(a *model.Account) {
		if v := strings.TrimSpace(name); v != "" {
			a.Name = v
		}
		if v := strings.TrimSpace(identifier); v != "" {
			a.Account = v
		}
		if secret != "" {
			a.Password = secret
		}
	}, "account updated")
}

func (r *Registry) SetEnabled(ctx context.Context, id int, enabled bool) error {
	return r.mutateAccount(ctx, id, func(a *model.Account) {
		a.Enabled = enabled
	}, "account enabled changed")
}

// UpdateStatus records a status label and, when lastSuccess is non-nil, the success time.
func (r *Registry) UpdateStatus(ctx context.Context, id int, status string, lastSuccess *time.Time) error {
	return r.mutateAccount(ctx, id, func(a *model.Account) {
		a.Status = status
		if lastSuccess != nil {
			t := *lastSuccess
			a.LastKeepalive = &t
		}
	}, "")
}

func (r *Registry) mutateAccount(ctx context.Context, id int, fn func(*model.Account), logMsg string) error {
	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrAccountNotFound, id)
	}
	next := r.doc.Clone()
	fn(&next.Accounts[idx])
	acc := next.Accounts[idx]
	if err := r.commitLocked(ctx, next); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	if logMsg != "" {
		r.log("info", logMsg, map[string]any{"accountId": id, "name": acc.Name, "enabled": acc.Enabled})
	}
	return nil
}

func (r *Registry) indexLocked(id int) int {
	for i, a := range r.doc.Accounts {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) Account(id int) (model.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		return model.Account{}, false
	}
	return r.doc.Clone().Accounts[idx], true
}

func (r *Registry) Accounts() []model.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.Clone().Accounts
}

// EnabledAccounts returns enabled accounts in insertion order.
func (r *Registry) EnabledAccounts() []model.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Account, 0, len(r.doc.Accounts))
	for _, a := range r.doc.Clone().Accounts {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}

func (r *Registry) Document() model.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.Clone()
}

func (r *Registry) Settings() model.Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.Settings
}

func (r *Registry) UpdateSettings(ctx context.Context, s model.Settings) (model.Settings, error) {
	s = s.Normalize()
	if err := s.Validate(); err != nil {
		return model.Settings{}, err
	}
	r.mu.Lock()
	next := r.doc.Clone()
	next.Settings = s
	err := r.commitLocked(ctx, next)
	r.mu.Unlock()
	if err != nil {
		return model.Settings{}, err
	}
	r.log("info", "settings updated", map[string]any{
		"browser":             s.BrowserType,
		"headless":            s.Headless,
		"maxChallengeRetries": s.MaxChallengeRetries,
		"accountDelaySeconds": s.AccountDelaySeconds,
	})
	return s, nil
}

func (r *Registry) Schedule() model.Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.Schedule
}

func (r *Registry) UpdateSchedule(ctx context.Context, s model.Schedule) (model.Schedule, error) {
	s.StartTime = strings.TrimSpace(s.StartTime)
	s.EndTime = strings.TrimSpace(s.EndTime)
	if err := s.Validate(); err != nil {
		return model.Schedule{}, err
	}
	r.mu.Lock()
	next := r.doc.Clone()
	next.Schedule = s
	err := r.commitLocked(ctx, next)
	r.mu.Unlock()
	if err != nil {
		return model.Schedule{}, err
	}
	r.log("info", "schedule updated", map[string]any{
		"enabled":         s.Enabled,
		"intervalMinutes": s.IntervalMinutes,
		"window":          s.StartTime + "-" + s.EndTime,
		"weekendEnabled":  s.WeekendEnabled,
	})
	return s, nil
}

func (r *Registry) ResetSchedule(ctx context.Context) (model.Schedule, error) {
	return r.UpdateSchedule(ctx, model.DefaultSchedule())
}

func (r *Registry) Summary(schedulerRunning bool) model.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := model.Summary{
		TotalAccounts:    len(r.doc.Accounts),
		StatusCounts:     make(map[string]int),
		SchedulerRunning: schedulerRunning,
	}
	for _, a := range r.doc.Accounts {
		if a.Enabled {
			out.EnabledAccounts++
		}
		out.StatusCounts[a.Status]++
	}
	return out
}

func (r *Registry) log(level, msg string, fields map[string]any) {
	if r.bus != nil {
		r.bus.Log(level, msg, fields)
	}
}
