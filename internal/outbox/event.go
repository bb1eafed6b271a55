package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types consumed by the excluded analytics/chatbot subsystems.
const (
	EventAppointmentBooked    = "clinic.appointment.booked.v1"
	EventAppointmentConfirmed = "clinic.appointment.confirmed.v1"
	EventAppointmentCancelled = "clinic.appointment.cancelled.v1"
	EventAppointmentPaid      = "clinic.appointment.paid.v1"
	EventReminderSent         = "clinic.reminder.sent.v1"
)
