package detection

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedPayload means the message is not a detection event.
	ErrMalformedPayload = errors.New("malformed detection payload")

	// ErrBelowThreshold means the confidence is under the configured threshold.
	ErrBelowThreshold = errors.New("confidence below threshold")

	// ErrWrongClass means the detected class is not the target label.
	ErrWrongClass = errors.New("detected class is not the target")

	// ErrStaleEvent means the producer timestamp is older than the allowed age.
	ErrStaleEvent = errors.New("detection event is stale")
)

// Event is a detection as received from the producer.
type Event struct {
	Label      string
	Confidence float64

	// ReceivedAt is the bridge's receive time; policy timing uses it.
	ReceivedAt time.Time

	// ProducedAt is the optional producer timestamp. Informational unless
	// MaxEventAge is set.
	ProducedAt *time.Time
}

// Validated is an Event that passed the class and threshold checks. Only
// Validator creates one, so holders never re-check.
type Validated struct {
	event Event
}

// Event returns the underlying event.
func (v Validated) Event() Event { return v.event }

// ValidationError describes why a payload was rejected. It unwraps to one of
// the package sentinel errors.
type ValidationError struct {
	Reason     error
	Label      string
	Confidence float64
	Detail     string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("%v: %s", e.Reason, e.Detail)
	case errors.Is(e.Reason, ErrBelowThreshold):
		return fmt.Sprintf("%v: %q at %.2f", e.Reason, e.Label, e.Confidence)
	default:
		return fmt.Sprintf("%v: %q", e.Reason, e.Label)
	}
}

func (e *ValidationError) Unwrap() error { return e.Reason }
