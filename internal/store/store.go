// Package store defines how the account registry document is persisted.
package store

import (
	"context"
	"errors"

	"keepalive_engine/internal/model"
)

// ErrNotFound is returned by Load when no document has been persisted yet.
var ErrNotFound = errors.New("store: document not found")

// ErrMissingSection is returned by Load when a persisted document lacks its
// settings or schedule section. Only an absent document is repaired with defaults.
var ErrMissingSection = errors.New("store: document section missing")

type Store interface {
	Load(ctx context.Context) (model.Document, error)
	// Save replaces the whole persisted document.
	Save(ctx context.Context, doc model.Document) error
	Close() error
}
