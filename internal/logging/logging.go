// Package logging constructs the structured logger the derivation
// pipeline writes progress and drop notices to. It never decides to log
// at a level that would hide a fatal error — those are returned, not
// logged, per spec.md §7.
package logging

import (
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"
)

// New returns a go-ethereum structured logger writing to stderr, using a
// colorized terminal handler when stderr is a tty and a logfmt handler
// otherwise — the same selection op-service/log makes before handing a
// log.Logger to the rest of op-node.
func New(level slog.Level) log.Logger {
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = log.NewTerminalHandler(os.Stderr, true)
	} else {
		handler = log.LogfmtHandler(os.Stderr)
	}
	return log.NewLogger(log.LvlFilterHandler(level, handler))
}

// Discard returns a logger that drops everything, for use where the host
// harness has not wired up an output sink.
func Discard() log.Logger {
	return log.NewLogger(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
