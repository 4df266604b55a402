package sinks

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/stream-liveness/internal/otel"
)

var (
	redisWrites        metric.Int64Counter
	redisWriteFailures metric.Int64Counter
	webhookDeliveries  metric.Int64Counter
	webhookFailures    metric.Int64Counter
	eventsLogged       metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("liveness.sinks", intotel.PrefixSinks)

	f.Int64Counter(&redisWrites, "redis.writes",
		metric.WithDescription("Events written to redis"))

	f.Int64Counter(&redisWriteFailures, "redis.write.failures",
		metric.WithDescription("Events redis could not take after retries"))

	f.Int64Counter(&webhookDeliveries, "webhook.deliveries",
		metric.WithDescription("Webhook posts acknowledged with 2xx"))

	f.Int64Counter(&webhookFailures, "webhook.failures",
		metric.WithDescription("Webhook posts that failed or got a non-2xx reply"))

	f.Int64Counter(&eventsLogged, "events",
		metric.WithDescription("Transition events seen, by current state"))
}
