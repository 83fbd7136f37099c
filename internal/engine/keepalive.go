package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"keepalive_engine/internal/model"
	"keepalive_engine/internal/notify"
	"keepalive_engine/internal/session"
	"keepalive_engine/internal/solver"
)

type State string

const (
	StateInit              State = "init"
	StateLaunchSession     State = "launch_session"
	StateNavigateLogin     State = "navigate_login"
	StateSubmitCredentials State = "submit_credentials"
	StateChallengeLoop     State = "challenge_loop"
	StateAwaitTargetList   State = "await_target_list"
	StateLocateTargetEntry State = "locate_target_entry"
	StateConnectTarget     State = "connect_target"
	StateAwaitTargetReady  State = "await_target_ready"
	StateCaptureEvidence   State = "capture_evidence"
	StateSuccess           State = "success"
	StateFailed            State = "failed"
)

var (
	ErrLaunch                   = errors.New("session launch failed")
	ErrNavigate                 = errors.New("login page unreachable")
	ErrElementNotFound          = errors.New("element not found")
	ErrSubmit                   = errors.New("credential submission failed")
	ErrChallengeRetriesExceeded = errors.New("challenge retries exceeded")
	ErrUnexpectedLocation       = errors.New("unexpected post-login location")
	ErrEntryNotFound            = errors.New("entry control not found")
	ErrUnexpectedFault          = errors.New("unexpected fault")
)

// attempt is one pass of the state machine over one account with its own session.
type attempt struct {
	e        *Engine
	ctx      context.Context
	acc      model.Account
	settings model.Settings
	runID    string

	sess  session.Session
	state State
}

// KeepaliveAccount drives one account from launch to evidence capture. A nil error
// means the account was kept alive. The session is always closed before returning.
func (e *Engine) KeepaliveAccount(ctx context.Context, acc model.Account, settings model.Settings, runID string) (err error) {
	a := &attempt{e: e, ctx: ctx, acc: acc, settings: settings.Normalize(), runID: runID, state: StateInit}
	defer a.teardown()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUnexpectedFault, r)
			a.fail(err)
		}
	}()

	a.log("info", "keepalive started", nil)
	a.status(model.StatusInitializing, nil)

	if err = a.run(); err != nil {
		a.fail(err)
		return err
	}
	a.succeed()
	return nil
}

func (a *attempt) run() error {
	if err := a.launch(); err != nil {
		return err
	}
	if err := a.login(); err != nil {
		return err
	}
	if err := a.challengeLoop(); err != nil {
		return err
	}
	if err := a.awaitTargetList(); err != nil {
		return err
	}
	entry, err := a.locateEntry()
	if err != nil {
		return err
	}
	if err := a.connect(entry); err != nil {
		return err
	}
	a.awaitReady()
	a.captureEvidence()
	return nil
}

func (a *attempt) launch() error {
	a.transition(StateLaunchSession)
	a.status(model.StatusLaunching, nil)
	if a.e.launcher == nil {
		return fmt.Errorf("%w: no launcher configured", ErrLaunch)
	}
	sess, err := a.e.launcher.Launch(a.ctx, session.Options{
		Browser:     a.settings.BrowserType,
		BrowserPath: a.settings.BrowserPath,
		Headless:    a.settings.Headless,
		FindTimeout: a.e.site.FindTimeout(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	a.sess = sess
	a.log("info", "session launched", map[string]any{"browser": a.settings.BrowserType, "headless": a.settings.Headless})
	return nil
}

func (a *attempt) login() error {
	a.transition(StateNavigateLogin)
	a.status(model.StatusOpeningLogin, nil)
	if err := a.sess.Navigate(a.ctx, a.e.site.LoginURL); err != nil {
		return fmt.Errorf("%w: %v", ErrNavigate, err)
	}
	a.e.clock.Sleep(a.e.timing.LoginSettle())

	a.transition(StateSubmitCredentials)
	a.status(model.StatusLoggingIn, nil)
	sel := a.e.site.Selectors

	if err := a.fill(sel.Account, "account field", a.acc.Account); err != nil {
		return err
	}
	if err := a.fill(sel.Password, "password field", a.acc.Password); err != nil {
		return err
	}
	if err := a.submit(); err != nil {
		return err
	}
	a.log("info", "credentials submitted", nil)
	a.e.clock.Sleep(a.e.timing.SubmitSettle())
	return nil
}

func (a *attempt) find(sel session.Selector, what string) (session.Element, error) {
	el, err := a.sess.Find(a.ctx, sel)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s (%s)", ErrElementNotFound, what, sel)
		}
		return nil, fmt.Errorf("find %s: %w", what, err)
	}
	return el, nil
}

func (a *attempt) fill(sel session.Selector, what, value string) error {
	el, err := a.find(sel, what)
	if err != nil {
		return err
	}
	if err := el.SetValue(a.ctx, value); err != nil {
		return fmt.Errorf("%w: fill %s: %v", ErrSubmit, what, err)
	}
	return nil
}

func (a *attempt) submit() error {
	btn, err := a.find(a.e.site.Selectors.Submit, "submit control")
	if err != nil {
		return err
	}
	if err := btn.Click(a.ctx); err != nil {
		return fmt.Errorf("%w: click submit: %v", ErrSubmit, err)
	}
	return nil
}

// challengeLoop runs only while a challenge field is present and empty.
func (a *attempt) challengeLoop() error {
	sel := a.e.site.Selectors
	maxTries := a.settings.MaxChallengeRetries
	tries := 0
	for {
		input, err := a.sess.Find(a.ctx, sel.ChallengeInput)
		if err != nil {
			if tries == 0 {
				a.log("debug", "no challenge present", nil)
			}
			return nil
		}
		img, err := a.sess.Find(a.ctx, sel.ChallengeImage)
		if err != nil {
			return nil
		}
		if v, err := input.ReadValue(a.ctx); err != nil || strings.TrimSpace(v) != "" {
			return nil
		}

		if tries == 0 {
			a.transition(StateChallengeLoop)
		}
		tries++
		a.status(model.ChallengeStatus(tries, maxTries), nil)
		a.log("info", "challenge required", map[string]any{"attempt": tries, "max": maxTries})

		answer := a.solveChallenge(img)
		if err := input.SetValue(a.ctx, answer); err != nil {
			return fmt.Errorf("%w: fill challenge: %v", ErrSubmit, err)
		}
		if err := a.submit(); err != nil {
			return err
		}
		a.e.clock.Sleep(a.e.timing.ChallengeSettle())

		loc, err := a.sess.CurrentLocation(a.ctx)
		switch {
		case err != nil:
			fields := errFields(err)
			fields["attempt"] = tries
			a.log("warn", "challenge result unreadable", fields)
		case strings.Contains(loc, a.e.site.AuthenticatedMarker):
			a.log("info", "challenge accepted", map[string]any{"attempt": tries})
			return nil
		default:
			a.log("info", "challenge rejected", map[string]any{"attempt": tries, "location": loc})
		}
		if tries >= maxTries {
			return fmt.Errorf("%w (%d)", ErrChallengeRetriesExceeded, maxTries)
		}
	}
}

// solveChallenge never fails: anything unusable becomes the configured fallback answer.
func (a *attempt) solveChallenge(img session.Element) string {
	fallback := a.e.site.ChallengeFallback

	data, err := img.Screenshot(a.ctx)
	if err != nil || len(data) == 0 {
		a.log("warn", "challenge image capture failed", errFields(err))
		a.log("info", "challenge fallback used", map[string]any{"answer": fallback})
		return fallback
	}
	if path, err := a.e.writeArtifact(a.acc, artifactChallenge, data); err != nil {
		a.log("warn", "challenge image not saved", errFields(err))
	} else {
		a.log("debug", "challenge image saved", map[string]any{"path": path})
	}

	answer, err := a.e.solver.Solve(a.ctx, data)
	answer = strings.TrimSpace(answer)
	if err != nil || !solver.Usable(answer) {
		fields := map[string]any{"answer": fallback}
		if err != nil {
			fields["error"] = err.Error()
		}
		a.log("info", "challenge fallback used", fields)
		return fallback
	}
	a.log("info", "challenge solved", map[string]any{"answer": answer})
	return answer
}

func (a *attempt) awaitTargetList() error {
	a.transition(StateAwaitTargetList)
	a.e.clock.Sleep(a.e.timing.PostLoginWait())
	loc, err := a.sess.CurrentLocation(a.ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedLocation, err)
	}
	a.log("info", "post-login location", map[string]any{"location": loc})
	if !strings.Contains(loc, a.e.site.AuthenticatedMarker) {
		return fmt.Errorf("%w: %s", ErrUnexpectedLocation, loc)
	}
	return nil
}

// locateEntry tries each lookup in order, most specific first.
func (a *attempt) locateEntry() (session.Element, error) {
	a.transition(StateLocateTargetEntry)
	a.status(model.StatusLocatingTarget, nil)
	for i, sel := range a.e.site.EntryChain {
		el, err := a.sess.Find(a.ctx, sel)
		if err == nil {
			a.log("info", "entry control found", map[string]any{"strategy": i + 1, "selector": sel.String()})
			return el, nil
		}
		a.log("debug", "entry lookup missed", map[string]any{"strategy": i + 1, "selector": sel.String(), "error": err.Error()})
	}
	return nil, ErrEntryNotFound
}

func (a *attempt) connect(entry session.Element) error {
	a.transition(StateConnectTarget)
	a.status(model.StatusConnectingTarget, nil)
	if err := entry.Click(a.ctx); err != nil {
		return fmt.Errorf("click entry control: %w", err)
	}
	return nil
}

// awaitReady polls for the ready marker; running out of attempts is logged, not fatal.
func (a *attempt) awaitReady() {
	a.transition(StateAwaitTargetReady)
	t := a.e.timing
	ready := false
	for i := 1; i <= t.ReadyPollAttempts; i++ {
		a.e.clock.Sleep(t.ReadyPollInterval())
		loc, err := a.sess.CurrentLocation(a.ctx)
		if err == nil && strings.Contains(loc, a.e.site.TargetReadyMarker) {
			a.log("info", "target ready", map[string]any{"location": loc, "attempt": i})
			ready = true
			break
		}
		if t.ReadyProgressEvery > 0 && i%t.ReadyProgressEvery == 0 {
			a.log("info", "waiting for target", map[string]any{"attempt": i, "max": t.ReadyPollAttempts})
		}
	}
	if !ready {
		a.log("warn", "target readiness timed out", map[string]any{"attempts": t.ReadyPollAttempts})
	}
	a.e.clock.Sleep(t.ReadySettle())
}

func (a *attempt) captureEvidence() {
	a.transition(StateCaptureEvidence)
	if data, err := a.sess.Screenshot(a.ctx); err != nil {
		a.log("warn", "screenshot failed", errFields(err))
	} else if path, err := a.e.writeArtifact(a.acc, artifactScreenshot, data); err != nil {
		a.log("warn", "screenshot not saved", errFields(err))
	} else {
		a.log("info", "screenshot saved", map[string]any{"path": path})
	}

	if err := a.sess.RunScript(a.ctx, a.e.site.KeepaliveScript); err != nil {
		a.log("warn", "keepalive signal failed", errFields(err))
	} else {
		a.log("info", "keepalive signal sent", nil)
	}
}

func (a *attempt) succeed() {
	a.transition(StateSuccess)
	now := a.e.clock.Now()
	a.status(model.StatusSucceeded, &now)
	a.log("info", "keepalive succeeded", nil)
}

func (a *attempt) fail(err error) {
	a.transition(StateFailed)
	a.log("error", "keepalive failed", map[string]any{"reason": err.Error()})
	if a.sess != nil {
		a.errorScreenshot()
	}
	a.status(model.FailedStatus(err.Error()), nil)
}

func (a *attempt) errorScreenshot() {
	defer func() {
		if r := recover(); r != nil {
			a.log("warn", "error screenshot failed", map[string]any{"error": fmt.Sprint(r)})
		}
	}()
	data, err := a.sess.Screenshot(a.ctx)
	if err != nil {
		a.log("warn", "error screenshot failed", errFields(err))
		return
	}
	path, err := a.e.writeArtifact(a.acc, artifactError, data)
	if err != nil {
		a.log("warn", "error screenshot not saved", errFields(err))
		return
	}
	a.log("info", "error screenshot saved", map[string]any{"path": path})
}

func (a *attempt) teardown() {
	if a.sess == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.log("warn", "session close failed", map[string]any{"error": fmt.Sprint(r)})
		}
	}()
	if err := a.sess.Close(); err != nil {
		a.log("warn", "session close failed", errFields(err))
		return
	}
	a.log("debug", "session closed", nil)
}

func (a *attempt) transition(to State) {
	if a.state == to {
		return
	}
	from := a.state
	a.state = to
	a.log("debug", "state transition", map[string]any{"from": string(from), "to": string(to)})
}

func (a *attempt) status(label string, lastSuccess *time.Time) {
	a.e.publishStatus(a.ctx, notify.StatusEvent{
		AccountID:   a.acc.ID,
		Name:        a.acc.Name,
		Status:      label,
		LastSuccess: lastSuccess,
		RunID:       a.runID,
	})
}

func (a *attempt) log(level, msg string, fields map[string]any) {
	out := map[string]any{
		"accountId": a.acc.ID,
		"name":      a.acc.Name,
	}
	if a.runID != "" {
		out["runId"] = a.runID
	}
	for k, v := range fields {
		out[k] = v
	}
	a.e.log(level, msg, out)
}

func errFields(err error) map[string]any {
	if err == nil {
		return nil
	}
	return map[string]any{"error": err.Error()}
}
