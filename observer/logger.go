package observer

import (
	"context"
	"log/slog"

	"github.com/dcshock/defsync/pipeline"
)

// Logger writes stage transitions and publications as log records at
// debug level, one record per event.
type Logger struct {
	log *slog.Logger
}

var _ pipeline.Observer = (*Logger)(nil)

func NewLogger(log *slog.Logger) *Logger {
	return &Logger{log: log.With("component", "observer")}
}

func (o *Logger) StageChanged(ctx context.Context, ev pipeline.StageEvent) error {
	attrs := []any{"run_id", ev.RunID, "stage", ev.Stage, "available", ev.Available, "version", ev.Version, "seq", ev.Seq}
	if ev.Err != nil {
		attrs = append(attrs, "error", ev.Err)
	}
	o.log.DebugContext(ctx, "stage changed", attrs...)
	return nil
}

func (o *Logger) Published(ctx context.Context, pub pipeline.Publication) error {
	o.log.DebugContext(ctx, "publication recorded", "run_id", pub.RunID, "message_id", pub.MessageID, "attempts", pub.Attempts)
	return nil
}
