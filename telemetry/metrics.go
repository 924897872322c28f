package telemetry

// PublishBuckets cover broker round-trip latency: the flush blocks the
// request until broker acknowledgment, so the tail matters.
var PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Change tracking metrics
var (
	// ChangesRecorded counts tracked changes by event kind (create, update, delete)
	ChangesRecorded CounterVec = noopCounterVec{}

	// ChangesDiscarded counts changes that never observed their post-mutation event
	ChangesDiscarded Counter = NoopStat{}

	// SerializeFailures counts renderer failures that degraded to "no snapshot"
	SerializeFailures Counter = NoopStat{}
)

// Publishing metrics
var (
	// MessagesPublished counts messages handed to the broker and flushed
	MessagesPublished Counter = NoopStat{}

	// PublishFailures counts delivery errors surfaced to the request
	PublishFailures Counter = NoopStat{}

	// PublishDuration measures the marshal+enqueue+flush time per batch
	PublishDuration Histogram = NoopStat{}

	// PendingDeliveries gauges messages enqueued but not yet acknowledged
	PendingDeliveries Gauge = NoopStat{}
)

// initializeMetrics swaps the noop variables for prometheus-backed ones.
// Called from InitializeTelemetry after the registry exists.
func initializeMetrics() {
	ChangesRecorded = NewCounterVec("changes_recorded_total", "Tracked changes by event kind", []string{"event"})
	ChangesDiscarded = NewCounter("changes_discarded_total", "Changes dropped because the mutation never committed")
	SerializeFailures = NewCounter("serialize_failures_total", "Entity renders that failed and degraded to no snapshot")
	MessagesPublished = NewCounter("messages_published_total", "Change messages flushed to the broker")
	PublishFailures = NewCounter("publish_failures_total", "Delivery errors surfaced to the request")
	PublishDuration = NewHistogramWithBuckets("publish_duration_seconds", "Batch publish latency", PublishBuckets)
	PendingDeliveries = NewGauge("pending_deliveries", "Messages enqueued to the broker but not yet acknowledged")
}
