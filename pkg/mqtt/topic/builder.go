package topic

import (
	"fmt"
	"strings"
)

// Segments under {root}/bridge/{clientID}/ published by the bridge.
// Consumers (dashboards, the detection producer) depend on these names.
const (
	// SegmentPresence carries the retained online/offline marker and the LWT.
	SegmentPresence = "presence"

	// SegmentHeartbeat receives the QoS 1 liveness probe.
	SegmentHeartbeat = "heartbeat"

	// SegmentActuator receives one event per issued actuator command.
	SegmentActuator = "actuator"
)

// Builder constructs the topics a bridge instance publishes to.
type Builder struct {
	// root is the base namespace, e.g. "robot".
	root string
}

// NewBuilder creates a Builder for the given root namespace.
// Leading and trailing slashes are ignored.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Presence returns {root}/bridge/{id}/presence.
func (b *Builder) Presence(id string) string {
	return b.Build(SegmentPresence, id)
}

// Heartbeat returns {root}/bridge/{id}/heartbeat.
func (b *Builder) Heartbeat(id string) string {
	return b.Build(SegmentHeartbeat, id)
}

// Actuator returns {root}/bridge/{id}/actuator.
func (b *Builder) Actuator(id string) string {
	return b.Build(SegmentActuator, id)
}

// Build returns {root}/bridge/{id}/{segment}.
func (b *Builder) Build(segment, id string) string {
	return fmt.Sprintf("%s/bridge/%s/%s", b.root, id, segment)
}

// ValidateFilter checks a subscription filter: it must be non-empty and
// wildcards must occupy whole levels, with "#" only as the last level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("topic filter is empty")
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == MultiWildcard && i != len(levels)-1:
			return fmt.Errorf("topic filter %q: %q must be the last level", filter, MultiWildcard)
		case level != MultiWildcard && strings.Contains(level, MultiWildcard),
			level != Wildcard && strings.Contains(level, Wildcard):
			return fmt.Errorf("topic filter %q: wildcard must occupy a whole level", filter)
		}
	}
	return nil
}
