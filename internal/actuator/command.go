package actuator

import (
	"bytes"
	"time"
)

// Command is a single-byte instruction understood by the servo controller.
type Command byte

const (
	// Activate moves the servo to the sorting position. Acked with 'D'.
	Activate Command = 'A'

	// Reset returns the servo to its rest position. Acked with 'K'.
	Reset Command = 'R'

	// StatusQuery asks the controller to report. Acked with "STATUS" or 'K'.
	StatusQuery Command = 'S'
)

var acks = map[Command][][]byte{
	Activate:    {[]byte("D")},
	Reset:       {[]byte("K")},
	StatusQuery: {[]byte("STATUS"), []byte("K")},
}

func (c Command) String() string {
	switch c {
	case Activate:
		return "activate"
	case Reset:
		return "reset"
	case StatusQuery:
		return "status"
	default:
		return "unknown"
	}
}

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	_, ok := acks[c]
	return ok
}

// acknowledged reports whether resp contains one of cmd's acknowledgments.
func (c Command) acknowledged(resp []byte) bool {
	for _, ack := range acks[c] {
		if bytes.Contains(resp, ack) {
			return true
		}
	}
	return false
}

// Outcome of a command that reached the wire.
type Outcome int

const (
	// Acknowledged means the expected reply arrived in time.
	Acknowledged Outcome = iota

	// TimedOut means the byte was written but no reply arrived in time.
	// The servo may still have moved.
	TimedOut
)

func (o Outcome) String() string {
	if o == Acknowledged {
		return "acknowledged"
	}
	return "timed_out"
}

// Result describes a completed Send.
type Result struct {
	Command  Command
	Outcome  Outcome
	Response []byte
	Elapsed  time.Duration
}
