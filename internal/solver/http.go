package solver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"keepalive_engine/internal/logbus"
)

type Config struct {
	Endpoint      string
	Token         string
	Type          string
	Timeout       time.Duration
	RetryCount    int
	QPS           float64
	Burst         int
	MaxConcurrent int
}

type Option func(*HTTP)

func WithBus(bus *logbus.Bus) Option {
	return func(h *HTTP) { h.bus = bus }
}

// HTTP posts the image as base64 JSON to an OCR endpoint.
type HTTP struct {
	cfg     Config
	client  *resty.Client
	limiter *rate.Limiter
	slots   chan struct{}
	bus     *logbus.Bus
}

type solveRequest struct {
	Image string `json:"image"`
	Token string `json:"token,omitempty"`
	Type  string `json:"type,omitempty"`
}

type solveResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type solveItem struct {
	Code int    `json:"code"`
	Data string `json:"data"`
}

func NewHTTP(cfg Config, opts ...Option) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.QPS > 0 {
		limit = rate.Limit(cfg.QPS)
	}

	h := &HTTP{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		slots:   make(chan struct{}, cfg.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.client = resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			if r == nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	h.client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if h.bus != nil {
			h.bus.Log("debug", "solver request", map[string]any{"url": req.URL})
		}
		return nil
	})
	return h
}

func (h *HTTP) acquire(ctx context.Context) (func(), error) {
	select {
	case h.slots <- struct{}{}:
		return func() { <-h.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *HTTP) Solve(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return Unknown, errors.New("empty challenge image")
	}
	release, err := h.acquire(ctx)
	if err != nil {
		return Unknown, err
	}
	defer release()
	if err := h.limiter.Wait(ctx); err != nil {
		return Unknown, err
	}

	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(solveRequest{
			Image: base64.StdEncoding.EncodeToString(image),
			Token: h.cfg.Token,
			Type:  h.cfg.Type,
		}).
		Post(h.cfg.Endpoint)
	if err != nil {
		return Unknown, fmt.Errorf("solver request: %w", err)
	}
	if resp.IsError() {
		return Unknown, fmt.Errorf("solver http %d", resp.StatusCode())
	}
	var out solveResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return Unknown, fmt.Errorf("decode solver response: %w", err)
	}
	if out.Code != 0 && out.Code != 10000 {
		return Unknown, fmt.Errorf("solver code %d: %s", out.Code, strings.TrimSpace(out.Msg))
	}

	answer := parseAnswer(out.Data)
	if answer == "" {
		return Unknown, nil
	}
	return answer, nil
}

// parseAnswer accepts either a bare string or an object/array of {code, data}.
func parseAnswer(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var items []solveItem
	if json.Unmarshal(raw, &items) != nil || len(items) == 0 {
		var single solveItem
		if json.Unmarshal(raw, &single) == nil {
			items = []solveItem{single}
		}
	}
	for _, it := range items {
		if it.Code != 0 && it.Code != 10000 {
			continue
		}
		if v := strings.TrimSpace(it.Data); v != "" {
			return v
		}
	}
	return ""
}
