package engine

// EventType names the outcomes the notification collaborator relays.
type EventType string

const (
	EventComputerAvailable    EventType = "computer_available"
	EventReservationConfirmed EventType = "reservation_confirmed"
	EventFaultReported        EventType = "fault_reported"
	EventFixPendingApproval   EventType = "fix_pending_approval"
)

// Event is a fire-and-forget notification about a committed state
// change. Delivery failures never affect the committed transaction.
type Event struct {
	Type       EventType
	ComputerID int64
}

// Sink receives events after commit. Implementations must not block;
// the engine ignores delivery outcomes entirely.
type Sink interface {
	Emit(ev Event)
}
