package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/servobridge/pkg/log"
	"github.com/autopeer-io/servobridge/pkg/mqtt"
)

// ExampleClient shows the lifecycle the transport session drives: start,
// subscribe to the detection topic, wait for the broker, publish a QoS 1
// heartbeat and disconnect.
func ExampleClient() {
	cfg := &mqtt.ClientConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "servobridge-example",
		KeepAlive:      60,
		ConnectTimeout: 10 * time.Second,
		ReconnectDelay: 5 * time.Second,
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}

	// Handlers run inline on the receive path, in delivery order.
	onDetection := func(ctx context.Context, topic string, payload []byte) {
		fmt.Printf("detection on %s: %s\n", topic, payload)
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.AwaitConnection(waitCtx); err != nil {
		log.Error(err, "Broker did not accept the connection in time")
		return
	}

	if err := client.Subscribe(ctx, "robot/pico/estado", 1, onDetection); err != nil {
		log.Error(err, "Failed to subscribe")
	}

	if err := client.Publish(ctx, "robot/bridge/servobridge-example/heartbeat", 1, false, []byte(`{"alive":true}`)); err != nil {
		log.Error(err, "Heartbeat publish failed")
	}

	client.Disconnect(ctx)
}
