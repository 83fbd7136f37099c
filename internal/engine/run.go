package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"keepalive_engine/internal/model"
)

// RunSequential runs one pass synchronously over ids (or every enabled account when ids is empty).
// It returns ErrRunInProgress if another pass holds the run slot and ErrNoAccounts if nothing is selected.
func (e *Engine) RunSequential(ctx context.Context, ids []int) (model.RunSummary, error) {
	if !e.tryAcquireRun() {
		e.log("info", "run skipped: another run in progress", nil)
		return model.RunSummary{}, ErrRunInProgress
	}
	defer e.releaseRun()

	accounts := e.selectAccounts(ids)
	if len(accounts) == 0 {
		e.log("warn", "run skipped: no enabled accounts", map[string]any{"requested": ids})
		return model.RunSummary{}, ErrNoAccounts
	}
	return e.runPass(ctx, uuid.NewString(), accounts), nil
}

// StartRun claims the run slot and runs the pass on its own goroutine. The returned id
// tags every log and status event of the pass.
func (e *Engine) StartRun(ids []int) (string, error) {
	if !e.tryAcquireRun() {
		e.log("info", "run skipped: another run in progress", nil)
		return "", ErrRunInProgress
	}
	accounts := e.selectAccounts(ids)
	if len(accounts) == 0 {
		e.releaseRun()
		e.log("warn", "run skipped: no enabled accounts", map[string]any{"requested": ids})
		return "", ErrNoAccounts
	}

	runID := uuid.NewString()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.releaseRun()
		e.runPass(context.Background(), runID, accounts)
	}()
	return runID, nil
}

// selectAccounts keeps registry order; an explicit subset is intersected with the enabled set.
func (e *Engine) selectAccounts(ids []int) []model.Account {
	if e.accounts == nil {
		return nil
	}
	enabled := e.accounts.EnabledAccounts()
	if len(ids) == 0 {
		return enabled
	}
	want := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make([]model.Account, 0, len(ids))
	for _, acc := range enabled {
		if _, ok := want[acc.ID]; ok {
			out = append(out, acc)
			delete(want, acc.ID)
		}
	}
	for id := range want {
		e.log("info", "account skipped: unknown or disabled", map[string]any{"accountId": id})
	}
	return out
}

func (e *Engine) runPass(ctx context.Context, runID string, accounts []model.Account) model.RunSummary {
	settings := e.accounts.Settings().Normalize()
	started := e.clock.Now()
	sum := model.RunSummary{
		RunID:          runID,
		StartedAt:      started,
		Total:          len(accounts),
		FailedAccounts: []string{},
		Results:        make([]model.AccountResult, 0, len(accounts)),
	}

	names := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		names = append(names, acc.Name)
	}
	e.log("info", "run started", map[string]any{"runId": runID, "total": len(accounts), "accounts": names})

	for i, acc := range accounts {
		if i > 0 {
			if d := settings.AccountDelay(); d > 0 {
				e.log("debug", "waiting before next account", map[string]any{"runId": runID, "delay": d.String()})
				e.clock.Sleep(d)
			}
		}

		t0 := e.clock.Now()
		err := e.runOne(ctx, acc, settings, runID)
		res := model.AccountResult{
			AccountID: acc.ID,
			Name:      acc.Name,
			Outcome:   model.OutcomeSuccess,
			Duration:  e.clock.Since(t0),
		}
		if err != nil {
			res.Outcome = model.OutcomeFailure
			res.Reason = err.Error()
			sum.FailedAccounts = append(sum.FailedAccounts, acc.Name)
		} else {
			sum.SuccessCount++
		}
		sum.Results = append(sum.Results, res)
	}

	sum.FinishedAt = e.clock.Now()
	sum.Duration = sum.FinishedAt.Sub(started)
	e.log("info", "run finished", map[string]any{
		"runId":    runID,
		"total":    sum.Total,
		"success":  sum.SuccessCount,
		"failed":   len(sum.FailedAccounts),
		"duration": sum.Duration.String(),
	})
	if len(sum.FailedAccounts) > 0 {
		e.log("warn", "failed accounts", map[string]any{"runId": runID, "accounts": sum.FailedAccounts})
	}
	if e.publisher != nil {
		e.publisher.PublishRunSummary(ctx, sum)
	}
	return sum
}

// runOne isolates a single account so a fault never aborts the pass.
func (e *Engine) runOne(ctx context.Context, acc model.Account, settings model.Settings, runID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUnexpectedFault, r)
			e.log("error", "account run panicked", map[string]any{"runId": runID, "accountId": acc.ID, "error": err.Error()})
		}
	}()
	return e.runAccount(ctx, acc, settings, runID)
}
