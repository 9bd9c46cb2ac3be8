package bus

import "time"

// Event represents a domain event published on the bus. Kind is a
// dot-separated name such as "change.message.insert" or
// "purchase.phase_changed".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
