package common

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrick/logrotate/rotator"
)

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// Logger writes to stderr and, when configured, to a rotated file.
type Logger struct {
	*slog.Logger

	rotator *rotator.Rotator
	pipe    *io.PipeWriter
	done    chan struct{}
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg LogConfig) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	l := &Logger{}
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
			return nil, fmt.Errorf("log directory: %w", err)
		}
		r, err := rotator.New(cfg.File, cfg.MaxSizeKB, false, cfg.MaxRolls)
		if err != nil {
			return nil, fmt.Errorf("log rotator: %w", err)
		}
		pr, pw := io.Pipe()
		l.rotator, l.pipe, l.done = r, pw, make(chan struct{})
		go func() {
			defer close(l.done)
			if err := r.Run(pr); err != nil {
				fmt.Fprintf(os.Stderr, "log rotator stopped: %v\n", err)
			}
		}()
		out = io.MultiWriter(os.Stderr, pw)
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	l.Logger = slog.New(h)
	return l, nil
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l.rotator == nil {
		return nil
	}
	l.pipe.Close()
	<-l.done
	return l.rotator.Close()
}
