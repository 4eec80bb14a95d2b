package amqpengine

import "time"

// State is the lifecycle state shared by Connection and Channel (spec.md
// §3: "state (one of Closed, Opening, Open, Closing)").
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// idleWait is the poll interval used by the sleep-poll loops spec.md §4.4
// describes (process_data_events, build_inbound_messages,
// _build_message_body). Kept short since it only governs local polling,
// never I/O.
const idleWait = 5 * time.Millisecond
