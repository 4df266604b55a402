package transport

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/stream-liveness/internal/otel"
)

var (
	queries          metric.Int64Counter
	staleQueries     metric.Int64Counter
	refreshTriggered metric.Int64Counter
	streamsAdded     metric.Int64Counter
	streamsRemoved   metric.Int64Counter

	wsClients       metric.Int64UpDownCounter
	wsEventsSent    metric.Int64Counter
	wsEventsDropped metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("liveness.api", intotel.PrefixQueryAPI)

	f.Int64Counter(&queries, "queries",
		metric.WithDescription("Single stream liveness queries"))

	f.Int64Counter(&staleQueries, "queries.stale",
		metric.WithDescription("Queries answered from a stale record"))

	f.Int64Counter(&refreshTriggered, "refresh.triggered",
		metric.WithDescription("Out-of-band polls requested by stale queries"))

	f.Int64Counter(&streamsAdded, "streams.added",
		metric.WithDescription("Streams added through the API"))

	f.Int64Counter(&streamsRemoved, "streams.removed",
		metric.WithDescription("Streams removed through the API"))

	f.Int64UpDownCounter(&wsClients, "ws.clients",
		metric.WithDescription("Connected websocket event clients"))

	f.Int64Counter(&wsEventsSent, "ws.events.sent",
		metric.WithDescription("Events written to websocket clients"))

	f.Int64Counter(&wsEventsDropped, "ws.events.dropped",
		metric.WithDescription("Events dropped for slow websocket clients"))
}
