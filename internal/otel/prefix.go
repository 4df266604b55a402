package otel

// Metric prefixes for each component of the liveness service.
// Each package defines its own metric names and uses one of these prefixes.
const (
	PrefixPoller   = "liveness.poller"
	PrefixEventBus = "liveness.bus"
	PrefixSinks    = "liveness.sink"
	PrefixQueryAPI = "liveness.api"
	PrefixRegistry = "liveness.registry"
)
