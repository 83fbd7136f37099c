package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keepalive_engine/internal/session"
)

type namedLauncher struct {
	name  string
	calls *[]string
}

func (n namedLauncher) Launch(context.Context, session.Options) (session.Session, error) {
	*n.calls = append(*n.calls, n.name)
	return nil, nil
}

func TestLauncher_DispatchesOnBrowserType(t *testing.T) {
	var calls []string
	l := &Launcher{
		Chrome: namedLauncher{name: "chrome", calls: &calls},
		Edge:   namedLauncher{name: "edge", calls: &calls},
	}

	for _, b := range []string{"chrome", "Edge", "", " CHROME "} {
		_, err := l.Launch(context.Background(), session.Options{Browser: b})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"chrome", "edge", "edge", "chrome"}, calls)

	_, err := l.Launch(context.Background(), session.Options{Browser: "safari"})
	require.Error(t, err)
}

func TestCSSFor(t *testing.T) {
	assert.Equal(t, ".btn-submit", cssFor(session.Class("btn-submit")))
	assert.Equal(t, ".a.b", cssFor(session.Class(" a  b ")))
	assert.Equal(t, "input[name=code]", cssFor(session.CSS("input[name=code]")))
}

func TestFirstExisting(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "msedge")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	assert.Equal(t, bin, firstExisting([]string{filepath.Join(dir, "missing"), dir, bin}))
	assert.Empty(t, firstExisting([]string{filepath.Join(dir, "missing")}))
	assert.NotEmpty(t, edgeCandidates("windows"))
	assert.NotEmpty(t, edgeCandidates("linux"))
}
