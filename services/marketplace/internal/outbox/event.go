package outbox

// Event types drained to Kafka for downstream consumers (notifications,
// analytics). The in-process bus stays the delivery path for connected
// dashboards; these events carry no guarantee toward the websocket layer.
const (
	EventAppointmentBooked        = "marketplace.appointment.booked.v1"
	EventAppointmentStatusChanged = "marketplace.appointment.status_changed.v1"
)

type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
