package bus

import "time"

// Event is one occurrence published on the bus. Kind is dotted and
// namespaced ("sync.run_finished", "webhook.received",
// "daemon.status_changed"); Payload is kind-specific.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
