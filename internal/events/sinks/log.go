// Package sinks holds the built-in consumers of operation events.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/lancachetools/cacheops/internal/events"
)

// LogSink writes structured log lines for every operation event. Useful in
// development and for audits when no client is connected.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("operation_id", evt.OperationID),
			zap.String("kind", string(evt.Kind)),
			zap.String("type", string(evt.Type)),
			zap.String("entity_key", evt.EntityKey),
			zap.Float64("percent", evt.PercentComplete),
			zap.String("message", evt.Message),
		}
		if evt.Success != nil {
			fields = append(fields, zap.Bool("success", *evt.Success))
		}
		s.logger.Info("operation event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
