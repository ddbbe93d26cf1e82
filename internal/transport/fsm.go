package transport

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/servobridge/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/servobridge/internal/pkg/util/fsm"
)

// Session lifecycle states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateClosed       = "closed"
)

const (
	// EventConnect starts a connection attempt.
	EventConnect = "event_connect"
	// EventEstablished marks the broker session usable.
	EventEstablished = "event_established"
	// EventFail ends an attempt that did not produce a usable session.
	EventFail = "event_fail"
	// EventLost reports a drop of an established session.
	EventLost = "event_lost"
	// EventClose is terminal.
	EventClose = "event_close"
)

func (s *Session) newStateMachine() *fsm.FSM {
	events := fsm.Events{
		{Name: EventConnect, Src: []string{StateDisconnected}, Dst: StateConnecting},
		// autopaho may also restore a dropped session on its own.
		{Name: EventEstablished, Src: []string{StateConnecting, StateDisconnected}, Dst: StateConnected},
		{Name: EventFail, Src: []string{StateConnecting}, Dst: StateDisconnected},
		{Name: EventLost, Src: []string{StateConnected}, Dst: StateDisconnected},
		{Name: EventClose, Src: []string{StateDisconnected, StateConnecting, StateConnected}, Dst: StateClosed},
	}

	callbacks := fsm.Callbacks{
		"enter_state":             fsmutil.WrapEvent(s.actionEnterState),
		"enter_" + StateConnected: fsmutil.WrapEvent(s.actionEnterConnected),
		"leave_" + StateConnected: fsmutil.WrapEvent(s.actionLeaveConnected),
	}

	return fsm.NewFSM(StateDisconnected, events, callbacks)
}

func (s *Session) actionEnterState(_ context.Context, e *fsm.Event) error {
	s.log.Debug("Transport state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
	return nil
}

func (s *Session) actionEnterConnected(_ context.Context, _ *fsm.Event) error {
	s.healthy.Store(true)
	metrics.TransportConnected.Set(1)
	return nil
}

func (s *Session) actionLeaveConnected(_ context.Context, _ *fsm.Event) error {
	s.healthy.Store(false)
	metrics.TransportConnected.Set(0)
	return nil
}

// fire triggers event and logs failures other than events that do not
// apply to the current state.
func (s *Session) fire(event string) {
	if err := s.fsm.Event(context.Background(), event); fsmutil.IsRealError(err) {
		s.log.Error(err, "Transport state transition failed", "event", event, "state", s.fsm.Current())
	}
}
