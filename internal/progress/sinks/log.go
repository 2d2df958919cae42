package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/lexcrawl/internal/progress"
)

// LogSink writes each progress event as a structured log line.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("source", evt.Source),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StagePage:
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.Int("found", evt.Found),
				zap.Int("pending", evt.Pending),
			)
		case progress.StageLocator:
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.String("url", evt.URL),
				zap.String("outcome", evt.Outcome),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageRunDone, progress.StageRunError:
			fields = append(fields, zap.String("outcome", evt.Outcome), zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
