package logger

import (
	"context"
	"io"
	"log/slog"
)

const ansiReset = "\033[0m"

// ColorTextHandler decorates slog.TextHandler output with an ANSI-colored
// level tag. Pass color=false when the sink is not a terminal.
type ColorTextHandler struct {
	*slog.TextHandler
	color bool
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, color bool) *ColorTextHandler {
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		color:       color,
	}
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m" // red
	case l >= slog.LevelWarn:
		return "\033[33m" // yellow
	case l >= slog.LevelInfo:
		return "\033[32m" // green
	default:
		return "\033[36m" // cyan
	}
}

// Handle implements slog.Handler.
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.color {
		r.Message = levelColor(r.Level) + r.Level.String() + ansiReset + "  " + r.Message
	}
	return h.TextHandler.Handle(ctx, r)
}
