package logbus

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// OpenSink opens the append-only log file and returns a zerolog logger writing to it,
// optionally mirrored to stderr in console format.
func OpenSink(path string, console bool) (zerolog.Logger, io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer = io.NopCloser(nil)
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return zerolog.Nop(), nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	if console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}
	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger(), closer, nil
}
