package topic

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	// It matches exactly one topic level.
	// Example: "robot/+/estado" matches "robot/pico/estado".
	Wildcard = "+"

	// MultiWildcard is the multi-level wildcard "#".
	// It matches the current level and all subsequent levels.
	// It must be the last character in the topic filter.
	// Example: "robot/bridge/#" matches "robot/bridge/rpi5/heartbeat".
	MultiWildcard = "#"
)
