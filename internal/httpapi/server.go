package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"keepalive_engine/internal/config"
	"keepalive_engine/internal/engine"
	"keepalive_engine/internal/logbus"
	"keepalive_engine/internal/model"
	"keepalive_engine/internal/notify"
	"keepalive_engine/internal/registry"
	"keepalive_engine/internal/scheduler"
	"keepalive_engine/internal/ws"
)

const maxBodyBytes = 1 << 20

type Options struct {
	Cfg       config.Config
	Bus       *logbus.Bus
	Registry  *registry.Registry
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	// Notifier 可为空；为空时邮件测试接口返回 400。
	Notifier notify.RunSubscriber
}

type Server struct {
	cfg   config.Config
	bus   *logbus.Bus
	reg   *registry.Registry
	eng   *engine.Engine
	sched *scheduler.Scheduler
	notif notify.RunSubscriber
	ws    *ws.Handler
}

func New(opts Options) *Server {
	return &Server{
		cfg:   opts.Cfg,
		bus:   opts.Bus,
		reg:   opts.Registry,
		eng:   opts.Engine,
		sched: opts.Scheduler,
		notif: opts.Notifier,
		ws:    ws.NewHandler(opts.Bus, opts.Cfg.Server.Cors),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.ws)
	mux.Handle("/artifacts/", http.StripPrefix("/artifacts/", http.FileServer(http.Dir(s.eng.ArtifactsDir()))))

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/accounts", s.handleAccounts)
	api.HandleFunc("/api/v1/accounts/{id}", s.handleAccount)
	api.HandleFunc("/api/v1/accounts/{id}/enable", s.handleAccountEnabled(true))
	api.HandleFunc("/api/v1/accounts/{id}/disable", s.handleAccountEnabled(false))
	api.HandleFunc("/api/v1/settings", s.handleSettings)
	api.HandleFunc("/api/v1/settings/email/test", s.handleEmailTest)
	api.HandleFunc("/api/v1/schedule", s.handleSchedule)
	api.HandleFunc("/api/v1/schedule/reset", s.handleScheduleReset)
	api.HandleFunc("/api/v1/scheduler/start", s.handleSchedulerStart)
	api.HandleFunc("/api/v1/scheduler/stop", s.handleSchedulerStop)
	api.HandleFunc("/api/v1/scheduler/state", s.handleSchedulerState)
	api.HandleFunc("/api/v1/runs", s.handleRuns)
	api.HandleFunc("/api/v1/summary", s.handleSummary)
	api.HandleFunc("/api/v1/logs", s.handleLogs)
	api.HandleFunc("/api/v1/registry/reload", s.handleRegistryReload)

	mux.Handle("/api/", corsMiddleware(s.cfg.Server.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// accountView 对外展示账号，不返回密码。
type accountView struct {
	ID            int        `json:"id"`
	Name          string     `json:"name"`
	Account       string     `json:"account"`
	Enabled       bool       `json:"enabled"`
	Status        string     `json:"status"`
	LastKeepalive *time.Time `json:"lastKeepalive,omitempty"`
	HasPassword   bool       `json:"hasPassword"`
}

func viewOf(a model.Account) accountView {
	return accountView{
		ID:            a.ID,
		Name:          a.Name,
		Account:       a.Account,
		Enabled:       a.Enabled,
		Status:        a.Status,
		LastKeepalive: a.LastKeepalive,
		HasPassword:   a.Password != "",
	}
}

type accountPayload struct {
	Name     string `json:"name"`
	Account  string `json:"account"`
	Password string `json:"password"`
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		accounts := s.reg.Accounts()
		out := make([]accountView, 0, len(accounts))
		for _, a := range accounts {
			out = append(out, viewOf(a))
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": out})
	case http.MethodPost:
		var body accountPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(body.Name) == "" || strings.TrimSpace(body.Account) == "" || body.Password == "" {
			writeError(w, http.StatusBadRequest, errors.New("name, account and password are required"))
			return
		}
		id, err := s.reg.Add(r.Context(), body.Name, body.Account, body.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		acc, _ := s.reg.Account(id)
		writeJSON(w, http.StatusCreated, map[string]any{"data": viewOf(acc)})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		acc, found := s.reg.Account(id)
		if !found {
			writeError(w, http.StatusNotFound, registry.ErrAccountNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": viewOf(acc)})
	case http.MethodPut:
		var body accountPayload
		if err := readJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.reg.Update(r.Context(), id, body.Name, body.Account, body.Password); err != nil {
			writeRegistryError(w, err)
			return
		}
		acc, _ := s.reg.Account(id)
		writeJSON(w, http.StatusOK, map[string]any{"data": viewOf(acc)})
	case http.MethodDelete:
		removed, err := s.reg.Remove(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !removed {
			writeError(w, http.StatusNotFound, registry.ErrAccountNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAccountEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := s.reg.SetEnabled(r.Context(), id, enabled); err != nil {
			writeRegistryError(w, err)
			return
		}
		acc, _ := s.reg.Account(id)
		writeJSON(w, http.StatusOK, map[string]any{"data": viewOf(acc)})
	}
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"data": s.reg.Settings()})
	case http.MethodPut:
		next := s.reg.Settings()
		if err := readJSON(r, &next); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := next.Normalize().Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		saved, err := s.reg.UpdateSettings(r.Context(), next)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleEmailTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.notif == nil {
		writeError(w, http.StatusBadRequest, errors.New("email notifications are not configured"))
		return
	}
	now := time.Now()
	sum := model.RunSummary{
		RunID:          "email-test",
		StartedAt:      now,
		FinishedAt:     now,
		FailedAccounts: []string{},
	}
	if err := s.notif.OnRunFinished(r.Context(), sum); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"data": s.reg.Schedule()})
	case http.MethodPut:
		next := s.reg.Schedule()
		if err := readJSON(r, &next); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := next.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		saved, err := s.reg.UpdateSchedule(r.Context(), next)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.applySchedule()
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleScheduleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	saved, err := s.reg.ResetSchedule(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.applySchedule()
	writeJSON(w, http.StatusOK, map[string]any{"data": saved})
}

// applySchedule restarts a running scheduler so the saved policy takes effect.
func (s *Server) applySchedule() {
	if s.sched != nil && s.sched.Running() {
		s.sched.Reload()
	}
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("scheduler is not available"))
		return
	}
	started := s.sched.Start()
	writeJSON(w, http.StatusOK, map[string]any{"started": started, "data": s.schedulerState()})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("scheduler is not available"))
		return
	}
	stopped := s.sched.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped, "data": s.schedulerState()})
}

func (s *Server) handleSchedulerState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.schedulerState()})
}

type schedulerState struct {
	Running  bool           `json:"running"`
	Next     *time.Time     `json:"next,omitempty"`
	Schedule model.Schedule `json:"schedule"`
}

func (s *Server) schedulerState() schedulerState {
	out := schedulerState{Schedule: s.reg.Schedule()}
	if s.sched != nil && s.sched.Running() {
		out.Running = true
		if next := s.sched.Next(); !next.IsZero() {
			out.Next = &next
		}
	}
	return out
}

type runPayload struct {
	AccountIDs []int `json:"accountIds"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body runPayload
	if err := readJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	runID, err := s.eng.StartRun(body.AccountIDs)
	switch {
	case errors.Is(err, engine.ErrRunInProgress):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, engine.ErrNoAccounts):
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"runId": runID})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	sum := s.reg.Summary(s.sched != nil && s.sched.Running())
	sum.RunInProgress = s.eng.RunInProgress()
	writeJSON(w, http.StatusOK, map[string]any{"data": sum})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	limit, err := parseInt(q.Get("limit"), 0)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", q.Get("limit")))
		return
	}
	typ := strings.TrimSpace(q.Get("type"))

	msgs := s.bus.Snapshot()
	out := make([]logbus.Message, 0, len(msgs))
	for _, m := range msgs {
		if typ != "" && m.Type != typ {
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) handleRegistryReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.reg.Reload(ctx); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.applySchedule()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "accounts": len(s.reg.Accounts())})
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.PathValue("id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid account id %q", raw))
		return 0, false
	}
	return id, true
}

func parseInt(v string, def int) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeRegistryError(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}
