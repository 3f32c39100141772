package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/progress"
)

// LogSink emits structured logs for progress streams. It is useful during
// development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.Int64("seq", evt.Seq),
			zap.String("type", string(evt.Type)),
			zap.String("tag", string(evt.Tag)),
			zap.String("site", evt.Site),
		}
		if evt.Record != nil {
			fields = append(fields,
				zap.String("apply_link", evt.Record.ApplyLink),
				zap.Float64("confidence", evt.Record.Confidence),
				zap.Stringer("dedup", evt.Record.Dedup))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status), zap.String("reason", evt.Reason))
		}
		if evt.Filename != "" {
			fields = append(fields, zap.String("filename", evt.Filename))
		}
		if evt.Type == progress.TypeFailure {
			s.logger.Warn(evt.Line, fields...)
			continue
		}
		s.logger.Info(evt.Line, fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
