package session

// State is a session's lifecycle state. The disabled flag is orthogonal: a
// session in any state can be disabled, which only excludes it from
// broadcast targeting and the idle-wait set.
type State int

const (
	// StatePending means the subprocess is started but the first sentinel
	// prompt has not arrived yet.
	StatePending State = iota

	// StateIdle means the remote shell is at its prompt, ready for input.
	StateIdle

	// StateRunning means a broadcast command is executing.
	StateRunning

	// StateDead means the subprocess exited or its stream closed. The only
	// way out is Reconnect, which starts over at StatePending.
	StateDead
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

// EventKind discriminates reader events.
type EventKind int

const (
	// EventData carries bytes read from the session's subprocess.
	EventData EventKind = iota

	// EventClosed means the subprocess stream reached EOF and the process
	// was reaped.
	EventClosed
)

// Event is one item produced by a session's reader goroutine. All sessions
// funnel into a single event channel consumed by the controller, which is
// the only goroutine that touches session state.
type Event struct {
	Rank     int
	Kind     EventKind
	Data     []byte
	ExitCode int
}
