package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/autopeer-io/servobridge/internal/actuator"
	"github.com/autopeer-io/servobridge/pkg/mqtt/topic"
)

// Publisher sends a payload to one of the bridge's own topic segments.
type Publisher interface {
	Publish(ctx context.Context, segment string, qos int, retain bool, payload []byte) error
}

// OutcomeEvent is the JSON document published for every issued command.
type OutcomeEvent struct {
	Command   string    `json:"command"`
	Outcome   string    `json:"outcome"`
	Response  string    `json:"response,omitempty"`
	ElapsedMs int64     `json:"elapsedMs"`
	Timestamp time.Time `json:"timestamp"`
}

// MQTTNotifier publishes actuator outcomes to {root}/bridge/{id}/actuator.
type MQTTNotifier struct {
	publisher Publisher
}

func NewMQTTNotifier(publisher Publisher) *MQTTNotifier {
	return &MQTTNotifier{publisher: publisher}
}

// Notify publishes res at QoS 1, not retained.
func (n *MQTTNotifier) Notify(ctx context.Context, res actuator.Result, at time.Time) error {
	payload, err := json.Marshal(OutcomeEvent{
		Command:   res.Command.String(),
		Outcome:   res.Outcome.String(),
		Response:  string(res.Response),
		ElapsedMs: res.Elapsed.Milliseconds(),
		Timestamp: at.UTC(),
	})
	if err != nil {
		return err
	}

	qos := 1
	retain := false
	return n.publisher.Publish(ctx, topic.SegmentActuator, qos, retain, payload)
}
