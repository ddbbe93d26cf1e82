package controller

import (
	"time"
)

// Phase is derived from the state timestamps, never stored.
type Phase int

const (
	// Idle: no pending reset and no cooldown in progress.
	Idle Phase = iota
	// CooldownActive: a command was issued less than Cooldown ago.
	CooldownActive
	// AwaitingReset: a valid detection is waiting for the inactivity reset.
	AwaitingReset
)

func (p Phase) String() string {
	switch p {
	case CooldownActive:
		return "cooldown_active"
	case AwaitingReset:
		return "awaiting_reset"
	default:
		return "idle"
	}
}

// State is owned by the run loop.
type State struct {
	// LastValidDetectionAt is set by a validated detection and cleared by the
	// inactivity reset.
	LastValidDetectionAt *time.Time

	// LastMoveAt is when the last Activate or Reset was issued. Zero means
	// never. It only moves forward.
	LastMoveAt time.Time

	// LastMoveConfirmed is false when the last issued command was never
	// acknowledged. Observability only; cooldown timing ignores it.
	LastMoveConfirmed bool

	TransportHealthy bool
	LastHeartbeatAt  time.Time
}

// phase derives the Phase at now.
func (s *State) phase(now time.Time, cooldown time.Duration) Phase {
	switch {
	case s.inCooldown(now, cooldown):
		return CooldownActive
	case s.LastValidDetectionAt != nil:
		return AwaitingReset
	default:
		return Idle
	}
}

// inCooldown reports whether a command at now would violate the cooldown.
func (s *State) inCooldown(now time.Time, cooldown time.Duration) bool {
	return !s.LastMoveAt.IsZero() && now.Sub(s.LastMoveAt) < cooldown
}

// Snapshot is a point-in-time copy of the controller state, safe to read
// from any goroutine.
type Snapshot struct {
	Phase                string     `json:"phase"`
	LastValidDetectionAt *time.Time `json:"lastValidDetectionAt,omitempty"`
	LastMoveAt           *time.Time `json:"lastMoveAt,omitempty"`
	LastMoveConfirmed    bool       `json:"lastMoveConfirmed"`
	TransportHealthy     bool       `json:"transportHealthy"`
	LastHeartbeatAt      time.Time  `json:"lastHeartbeatAt"`
	InboxDepth           int        `json:"inboxDepth"`
	TakenAt              time.Time  `json:"takenAt"`
}

func (s *State) snapshot(now time.Time, cooldown time.Duration) Snapshot {
	snap := Snapshot{
		Phase:             s.phase(now, cooldown).String(),
		LastMoveConfirmed: s.LastMoveConfirmed,
		TransportHealthy:  s.TransportHealthy,
		LastHeartbeatAt:   s.LastHeartbeatAt,
		TakenAt:           now,
	}
	if s.LastValidDetectionAt != nil {
		t := *s.LastValidDetectionAt
		snap.LastValidDetectionAt = &t
	}
	if !s.LastMoveAt.IsZero() {
		t := s.LastMoveAt
		snap.LastMoveAt = &t
	}
	return snap
}
