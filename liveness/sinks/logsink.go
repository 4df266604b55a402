package sinks

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/imtaco/stream-liveness/internal/log"
	"github.com/imtaco/stream-liveness/liveness"
)

// LogSink writes one line per transition and counts events by state. It is
// always subscribed first, so the audit trail precedes any delivery attempt.
type LogSink struct {
	logger *log.Logger
}

func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Handle(ctx context.Context, ev liveness.Event) error {
	eventsLogged.Add(ctx, 1, metric.WithAttributes(attribute.String("current", ev.Current.String())))
	s.logger.Info("Liveness transition",
		log.StreamID(ev.StreamID),
		log.State("previous", ev.Previous),
		log.State("current", ev.Current),
		log.String("eventId", ev.ID),
		log.Time("at", ev.Timestamp))
	return nil
}
