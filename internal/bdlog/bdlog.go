// Package bdlog constructs the daemon's structured logger, grounded on
// the teacher's ambient log/slog usage (cmd/bd/daemon_deprecated.go's
// newSilentLogger) generalized to a real handler selection instead of
// always discarding.
package bdlog

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Options configures logger construction.
type Options struct {
	// Level is the minimum level to emit. Defaults to slog.LevelInfo.
	Level slog.Level
	// Writer receives log output. Defaults to os.Stderr.
	Writer io.Writer
	// Debug forces the text handler regardless of TTY detection, used
	// by the --debug CLI flag.
	Debug bool
}

// New returns a logger using a human-readable text handler on an
// interactive terminal and a JSON handler otherwise (log aggregation,
// redirected output), per golang.org/x/term.IsTerminal.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}

	var handler slog.Handler
	if opts.Debug || isTerminal(w) {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
