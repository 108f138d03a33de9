package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (one event type per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Booking lifecycle event types relayed to the notifier.
const (
	EventBookingCreated   = "scheduling.booking.created.v1"
	EventBookingConfirmed = "scheduling.booking.confirmed.v1"
	EventBookingCancelled = "scheduling.booking.cancelled.v1"
)
