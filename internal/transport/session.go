package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/servobridge/internal/pkg/metrics"
	"github.com/autopeer-io/servobridge/pkg/log"
	"github.com/autopeer-io/servobridge/pkg/mqtt"
	"github.com/autopeer-io/servobridge/pkg/mqtt/topic"
)

var (
	// ErrConnectTimeout means no CONNACK arrived within ConnectTimeout.
	ErrConnectTimeout = errors.New("mqtt connect timed out")

	// ErrConnectRefused means the broker rejected the connection or the subscription.
	ErrConnectRefused = errors.New("mqtt connect refused")

	// ErrReconnectExhausted means every reconnection attempt failed.
	ErrReconnectExhausted = errors.New("mqtt reconnect attempts exhausted")

	// ErrNotConnected is returned by Ping when the session is down.
	ErrNotConnected = errors.New("mqtt session not connected")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("mqtt session closed")
)

const (
	presenceOnline  = "online"
	presenceOffline = "offline"

	disconnectTimeout = 2 * time.Second
)

// MessageFunc receives detection payloads with the local receive time.
type MessageFunc func(payload []byte, receivedAt time.Time)

// ClientFactory builds the underlying MQTT client.
type ClientFactory func(cfg *mqtt.ClientConfig) (mqtt.Client, error)

// Config configures a Session.
type Config struct {
	// Client is the base client configuration. Its connection hooks are
	// owned by the session.
	Client *mqtt.ClientConfig

	// NewClient defaults to mqtt.NewClient.
	NewClient ClientFactory

	DetectionTopic string
	QoS            int
	TopicRoot      string

	ConnectTimeout       time.Duration
	PingTimeout          time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	Clock  clock.Clock
	Logger log.Logger
}

// Session owns the broker connection: it subscribes to the detection topic,
// tracks liveness and reconnects with a bounded budget.
type Session struct {
	cfg    Config
	topics *topic.Builder
	clock  clock.Clock
	log    log.Logger

	client  mqtt.Client
	fsm     *fsm.FSM
	healthy atomic.Bool

	mu      sync.Mutex
	handler MessageFunc
}

// NewSession creates a Session. Nothing touches the network until Connect.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Client == nil {
		return nil, errors.New("mqtt client config is required")
	}
	if cfg.NewClient == nil {
		cfg.NewClient = mqtt.NewClient
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithName("transport")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}

	s := &Session{
		cfg:    cfg,
		topics: topic.NewBuilder(cfg.TopicRoot),
		clock:  cfg.Clock,
		log:    cfg.Logger,
	}
	s.fsm = s.newStateMachine()

	clientCfg := *cfg.Client
	clientCfg.OnConnectionUp = s.onConnectionUp
	clientCfg.OnConnectionDown = s.onConnectionDown
	if clientCfg.Logger == nil {
		clientCfg.Logger = s.log.WithName("mqtt")
	}

	client, err := cfg.NewClient(&clientCfg)
	if err != nil {
		return nil, err
	}
	s.client = client

	return s, nil
}

// OnMessage registers the single detection callback. It is invoked in
// arrival order, never concurrently.
func (s *Session) OnMessage(fn MessageFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// Connect starts the client, waits for the broker to accept the session and
// subscribes to the detection topic. ctx bounds the client's background
// work, the attempt itself is bounded by ConnectTimeout.
func (s *Session) Connect(ctx context.Context) error {
	switch s.fsm.Current() {
	case StateClosed:
		return ErrClosed
	case StateConnected:
		return nil
	}
	s.fire(EventConnect)

	if err := s.connect(ctx); err != nil {
		s.teardown()
		s.fire(EventFail)
		return err
	}

	s.fire(EventEstablished)
	s.log.Info("Transport session established", "topic", s.cfg.DetectionTopic)
	return nil
}

func (s *Session) connect(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectRefused, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	if err := s.client.AwaitConnection(attemptCtx); err != nil {
		return s.classify(ctx, err)
	}

	if err := s.client.Subscribe(attemptCtx, s.cfg.DetectionTopic, s.cfg.QoS, s.dispatch); err != nil {
		if attemptCtx.Err() != nil {
			return s.classify(ctx, err)
		}
		return fmt.Errorf("%w: subscribe %s: %v", ErrConnectRefused, s.cfg.DetectionTopic, err)
	}

	if err := s.publishPresence(attemptCtx, presenceOnline); err != nil {
		s.log.Warn("Failed to publish presence", "error", err)
	}
	return nil
}

// classify maps a failed wait to the connect error taxonomy.
func (s *Session) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	cause := s.client.LastConnectError()
	if cause == nil {
		cause = err
	}
	if mqtt.IsConnackError(cause) {
		return fmt.Errorf("%w: %v", ErrConnectRefused, cause)
	}
	return fmt.Errorf("%w after %s: %v", ErrConnectTimeout, s.cfg.ConnectTimeout, cause)
}

func (s *Session) dispatch(_ context.Context, _ string, payload []byte) {
	receivedAt := s.clock.Now()

	s.mu.Lock()
	fn := s.handler
	s.mu.Unlock()

	if fn != nil {
		fn(payload, receivedAt)
	}
}

// IsHealthy reports the cached connection state. No network round trip.
func (s *Session) IsHealthy() bool {
	return s.healthy.Load()
}

// State returns the lifecycle state.
func (s *Session) State() string {
	return s.fsm.Current()
}

// ClientID returns the MQTT client identifier.
func (s *Session) ClientID() string {
	return s.cfg.Client.ClientID
}

type heartbeat struct {
	ClientID  string    `json:"clientId"`
	Timestamp time.Time `json:"timestamp"`
}

// Ping performs a liveness round trip: a QoS 1 heartbeat publish that
// returns once the broker acknowledged it.
func (s *Session) Ping(ctx context.Context) error {
	if !s.IsHealthy() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(heartbeat{ClientID: s.ClientID(), Timestamp: s.clock.Now().UTC()})
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
	defer cancel()

	if err := s.client.Publish(pingCtx, s.topics.Heartbeat(s.ClientID()), 1, false, payload); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Publish sends payload to one of the bridge's own topic segments.
func (s *Session) Publish(ctx context.Context, segment string, qos int, retain bool, payload []byte) error {
	if s.fsm.Current() == StateClosed {
		return ErrClosed
	}
	return s.client.Publish(ctx, s.topics.Build(segment, s.ClientID()), qos, retain, payload)
}

// ConnectWithRetry runs Connect up to MaxReconnectAttempts times,
// ReconnectDelay apart. Each attempt starts from a fresh client session.
func (s *Session) ConnectWithRetry(ctx context.Context) error {
	if s.fsm.Current() == StateClosed {
		return ErrClosed
	}

	backoff := wait.Backoff{
		Duration: s.cfg.ReconnectDelay,
		Factor:   1,
		Steps:    s.cfg.MaxReconnectAttempts,
	}

	var errs []error
	for attempt := 1; ; attempt++ {
		s.teardown()

		err := s.Connect(ctx)
		if err == nil {
			if attempt > 1 {
				s.log.Info("Connected after retrying", "attempt", attempt)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.log.Error(err, "Connection attempt failed", "attempt", attempt, "maxAttempts", s.cfg.MaxReconnectAttempts)
		errs = append(errs, err)

		delay := backoff.Step()
		if backoff.Steps == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(delay):
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, len(errs), utilerrors.NewAggregate(errs))
}

// Reconnect drops the current session and reconnects with the bounded
// retry budget of ConnectWithRetry.
func (s *Session) Reconnect(ctx context.Context) error {
	if s.fsm.Current() == StateClosed {
		return ErrClosed
	}
	s.fire(EventLost)
	s.log.Info("Reconnecting", "maxAttempts", s.cfg.MaxReconnectAttempts, "delay", s.cfg.ReconnectDelay)

	err := s.ConnectWithRetry(ctx)
	switch {
	case err == nil:
		metrics.ReconnectsTotal.WithLabelValues("success").Inc()
	case ctx.Err() == nil:
		metrics.ReconnectsTotal.WithLabelValues("exhausted").Inc()
	}
	return err
}

// Close announces offline presence and disconnects. It is idempotent.
func (s *Session) Close(ctx context.Context) {
	if s.fsm.Current() == StateClosed {
		return
	}

	if s.IsHealthy() {
		if err := s.publishPresence(ctx, presenceOffline); err != nil {
			s.log.Warn("Failed to publish offline presence", "error", err)
		}
	}
	s.teardown()
	s.fire(EventClose)
	s.log.Info("Transport session closed")
}

func (s *Session) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	s.client.Disconnect(ctx)
}

func (s *Session) publishPresence(ctx context.Context, state string) error {
	return s.client.Publish(ctx, s.topics.Presence(s.ClientID()), 1, true, []byte(state))
}

// onConnectionUp runs on the client's goroutine after every (re)connection.
func (s *Session) onConnectionUp() {
	if s.fsm.Current() != StateDisconnected {
		return
	}
	// The client restored the session by itself between heartbeats.
	s.fire(EventEstablished)
	s.log.Info("Transport session restored by client")
}

// onConnectionDown runs on the client's goroutine.
func (s *Session) onConnectionDown(err error) {
	if s.fsm.Current() != StateConnected {
		return
	}
	s.log.Warn("Transport connection lost", "error", err)
	s.fire(EventLost)
}
