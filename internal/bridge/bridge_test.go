package bridge

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/autopeer-io/servobridge/internal/actuator"
	"github.com/autopeer-io/servobridge/internal/controller"
	"github.com/autopeer-io/servobridge/internal/transport"
	"github.com/autopeer-io/servobridge/pkg/options"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	detectionTopic = "robot/pico/estado"
	presenceTopic  = "robot/bridge/bridge-test/presence"
	actuatorTopic  = "robot/bridge/bridge-test/actuator"
)

func testConfig(port *actuator.TestablePort, client *fakeClient) *Config {
	mqttOpts := options.NewMqttOptions()
	mqttOpts.ClientID = "bridge-test"
	mqttOpts.ConnectTimeout = time.Second

	serialOpts := options.NewSerialOptions()
	serialOpts.SettleDelay = 0
	serialOpts.AckTimeout = 500 * time.Millisecond

	policy := options.NewPolicyOptions()
	policy.Cooldown = time.Millisecond
	policy.NoDetectionTimeout = time.Hour
	policy.TickInterval = 10 * time.Millisecond
	policy.HeartbeatInterval = time.Hour
	policy.MaxReconnectAttempts = 2
	policy.ReconnectDelay = time.Millisecond

	httpOpts := options.NewHttpOptions()
	httpOpts.Addr = "127.0.0.1:0"

	return &Config{
		MqttOptions:   mqttOpts,
		SerialOptions: serialOpts,
		PolicyOptions: policy,
		HttpOptions:   httpOpts,
		PortOpener: func(string, actuator.PortOptions) (actuator.Port, error) {
			return port, nil
		},
		NewClient: client.factory,
	}
}

func newPort() *actuator.TestablePort {
	port := actuator.NewTestablePort()
	port.Respond(actuator.Activate, []byte("D\n"))
	port.Respond(actuator.Reset, []byte("K\n"))
	return port
}

func TestBridgeActivatesOnDetection(t *testing.T) {
	port, client := newPort(), newFakeClient()
	b, err := testConfig(port, client).NewBridge()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return client.subscribed(detectionTopic) }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, b.TransportHealthy())
	assert.True(t, b.ActuatorReady())

	// Let the homing move fall out of the cooldown window.
	require.Eventually(t, func() bool { return string(port.Written()) == "R" }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	client.deliver(detectionTopic, []byte(`{"objeto":"Pistachio","confianza":0.92}`))
	require.Eventually(t, func() bool {
		return strings.Contains(string(port.Written()), "A")
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(client.publishedTo(actuatorTopic)) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}

	assert.Equal(t, "RAR", string(port.Written()), "home, activate, home on stop")
	assert.True(t, port.Closed)
	assert.Equal(t, []string{"online", "offline"}, client.publishedTo(presenceTopic))
	assert.False(t, b.ActuatorReady())
	assert.False(t, b.TransportHealthy())
}

func TestBridgeFailsWhenBrokerUnreachable(t *testing.T) {
	port, client := newPort(), newFakeClient()
	client.refuse = errors.New("connection refused")
	b, err := testConfig(port, client).NewBridge()
	require.NoError(t, err)

	err = b.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, controller.ErrFatal)
	assert.ErrorIs(t, err, transport.ErrReconnectExhausted)
	assert.Equal(t, 2, client.startCount())
	assert.Empty(t, port.Written(), "no command is sent without a broker")
	assert.True(t, port.Closed)
}

func TestBridgeFailsWhenPortCannotOpen(t *testing.T) {
	cfg := testConfig(newPort(), newFakeClient())
	cfg.PortOpener = func(string, actuator.PortOptions) (actuator.Port, error) {
		return nil, errors.New("no such file or directory")
	}

	_, err := cfg.NewBridge()
	require.Error(t, err)
	assert.ErrorIs(t, err, controller.ErrFatal)
	assert.Contains(t, err.Error(), "/dev/ttyUSB0")
}

func TestBridgeWithoutOutcomePublishing(t *testing.T) {
	port, client := newPort(), newFakeClient()
	cfg := testConfig(port, client)
	cfg.PolicyOptions.PublishOutcomes = false
	cfg.HttpOptions.Enabled = false

	b, err := cfg.NewBridge()
	require.NoError(t, err)
	assert.Nil(t, b.httpServer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return client.subscribed(detectionTopic) }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(port.Written()) >= 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, client.publishedTo(actuatorTopic))
}

func TestBridgeKeepsRunningWhenHTTPCannotBind(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	port, client := newPort(), newFakeClient()
	cfg := testConfig(port, client)
	cfg.HttpOptions.Addr = busy.Addr().String()

	b, err := cfg.NewBridge()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return string(port.Written()) == "R" }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	client.deliver(detectionTopic, []byte(`{"objeto":"pistachio","confianza":0.8}`))
	require.Eventually(t, func() bool {
		return strings.Contains(string(port.Written()), "A")
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("bridge stopped early: %v", err)
	default:
	}

	cancel()
	require.NoError(t, <-done)
}
