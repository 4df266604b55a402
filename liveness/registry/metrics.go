package registry

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/stream-liveness/internal/otel"
)

var (
	resyncs      metric.Int64Counter
	watchErrors  metric.Int64Counter
	keyEvents    metric.Int64Counter
	keysRejected metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("liveness.registry", intotel.PrefixRegistry)

	f.Int64Counter(&resyncs, "resyncs",
		metric.WithDescription("Full reads of the stream prefix"))

	f.Int64Counter(&watchErrors, "watch.errors",
		metric.WithDescription("Watch channel errors that forced a resync"))

	f.Int64Counter(&keyEvents, "key.events",
		metric.WithDescription("Put and delete events applied to the monitored set"))

	f.Int64Counter(&keysRejected, "keys.rejected",
		metric.WithDescription("Keys under the prefix that are not valid stream IDs"))
}
