// Package solver turns a challenge image into a text answer.
package solver

import (
	"context"
	"strings"
)

// Unknown is returned when the image could not be read.
const Unknown = "nofoundOCR"

type Solver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

type Func func(ctx context.Context, image []byte) (string, error)

func (f Func) Solve(ctx context.Context, image []byte) (string, error) { return f(ctx, image) }

// Usable reports whether an answer can be typed into the challenge field.
func Usable(answer string) bool {
	answer = strings.TrimSpace(answer)
	return answer != "" && answer != Unknown
}

type unknownSolver struct{}

func (unknownSolver) Solve(context.Context, []byte) (string, error) { return Unknown, nil }

// New returns an HTTP solver, or one that always answers Unknown when no endpoint is configured.
func New(cfg Config, opts ...Option) Solver {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return unknownSolver{}
	}
	return NewHTTP(cfg, opts...)
}
