package poller

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/stream-liveness/internal/otel"
)

var (
	polls             metric.Int64Counter
	pollFailures      metric.Int64Counter
	pollDuration      metric.Float64Histogram
	transitions       metric.Int64Counter
	ticksSkipped      metric.Int64Counter
	stragglersDropped metric.Int64Counter
	refreshes         metric.Int64Counter
	publishFailures   metric.Int64Counter
	streamsMonitored  metric.Int64UpDownCounter
	liveStreams       metric.Int64UpDownCounter
)

func init() {
	f := intotel.NewFactory("liveness.poller", intotel.PrefixPoller)

	f.Int64Counter(&polls, "polls",
		metric.WithDescription("Status polls started"))

	f.Int64Counter(&pollFailures, "poll.failures",
		metric.WithDescription("Failed status polls by error kind"))

	f.Float64Histogram(&pollDuration, "poll.duration",
		metric.WithDescription("Status poll duration"),
		metric.WithUnit("s"))

	f.Int64Counter(&transitions, "transitions",
		metric.WithDescription("Liveness state transitions by target state"))

	f.Int64Counter(&ticksSkipped, "ticks.skipped",
		metric.WithDescription("Ticks skipped because the stream was still polling"))

	f.Int64Counter(&stragglersDropped, "stragglers.dropped",
		metric.WithDescription("Poll results discarded because they were superseded or the stream was removed"))

	f.Int64Counter(&refreshes, "refreshes",
		metric.WithDescription("Out-of-band refresh requests by outcome"))

	f.Int64Counter(&publishFailures, "publish.failures",
		metric.WithDescription("Transition events the bus did not accept"))

	f.Int64UpDownCounter(&streamsMonitored, "streams.monitored",
		metric.WithDescription("Streams currently polled"))

	f.Int64UpDownCounter(&liveStreams, "streams.live",
		metric.WithDescription("Streams currently live"))
}
