package eventbus

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/stream-liveness/internal/otel"
)

var (
	eventsPublished    metric.Int64Counter
	eventsRejected     metric.Int64Counter
	eventsDelivered    metric.Int64Counter
	subscriberFailures metric.Int64Counter
	subscribers        metric.Int64UpDownCounter
)

func init() {
	f := intotel.NewFactory("liveness.eventbus", intotel.PrefixEventBus)

	f.Int64Counter(&eventsPublished, "events.published",
		metric.WithDescription("Events accepted onto the bus queue"))

	f.Int64Counter(&eventsRejected, "events.rejected",
		metric.WithDescription("Events refused because the bus was closed or the caller gave up"))

	f.Int64Counter(&eventsDelivered, "events.delivered",
		metric.WithDescription("Successful handler invocations"))

	f.Int64Counter(&subscriberFailures, "subscriber.failures",
		metric.WithDescription("Handler invocations that returned an error or panicked"))

	f.Int64UpDownCounter(&subscribers, "subscribers",
		metric.WithDescription("Registered subscribers"))
}
