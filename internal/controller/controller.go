package controller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/servobridge/internal/actuator"
	"github.com/autopeer-io/servobridge/internal/detection"
	"github.com/autopeer-io/servobridge/internal/pkg/metrics"
	"github.com/autopeer-io/servobridge/internal/transport"
	"github.com/autopeer-io/servobridge/pkg/log"
)

// ErrFatal is returned by Run when the bridge cannot continue.
var ErrFatal = errors.New("bridge cannot continue")

// publishTimeout bounds outcome publishing so a slow broker cannot stall the loop.
const publishTimeout = 2 * time.Second

// Actuator sends commands to the servo controller.
type Actuator interface {
	Send(cmd actuator.Command, ackTimeout time.Duration) (actuator.Result, error)
}

// Transport is the broker session the controller supervises.
type Transport interface {
	OnMessage(fn transport.MessageFunc)
	IsHealthy() bool
	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) error
}

// Notifier reports issued commands to interested parties.
type Notifier interface {
	Notify(ctx context.Context, res actuator.Result, at time.Time) error
}

// Config holds the policy parameters.
type Config struct {
	Validator *detection.Validator

	Cooldown           time.Duration
	NoDetectionTimeout time.Duration
	TickInterval       time.Duration
	HeartbeatInterval  time.Duration
	AckTimeout         time.Duration

	InboxSize   int
	HomeOnStart bool
	HomeOnStop  bool

	// Notifier is optional. Outcomes are only reported while the transport
	// is healthy.
	Notifier Notifier

	Clock  clock.WithTicker
	Logger log.Logger
}

type message struct {
	payload    []byte
	receivedAt time.Time
}

// Controller applies the actuation policy. Detections and timer ticks are
// handled on a single goroutine, so State needs no locking.
type Controller struct {
	cfg       Config
	validator *detection.Validator
	link      Actuator
	transport Transport
	clock     clock.WithTicker
	log       log.Logger

	state State
	inbox chan message

	snap atomic.Pointer[Snapshot]
}

// New creates a Controller and registers it as the transport's message
// callback. Messages arriving before Run are buffered in the inbox.
func New(cfg Config, link Actuator, tr Transport) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithName("controller")
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	c := &Controller{
		cfg:       cfg,
		validator: cfg.Validator,
		link:      link,
		transport: tr,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		inbox:     make(chan message, cfg.InboxSize),
	}
	c.state.LastHeartbeatAt = c.clock.Now()
	c.state.TransportHealthy = tr.IsHealthy()
	c.storeSnapshot()

	tr.OnMessage(c.enqueue)
	return c
}

// enqueue runs on the transport's delivery goroutine. It never blocks: when
// the inbox is full the newest message is dropped.
func (c *Controller) enqueue(payload []byte, receivedAt time.Time) {
	select {
	case c.inbox <- message{payload: payload, receivedAt: receivedAt}:
	default:
		metrics.DetectionsTotal.WithLabelValues("dropped").Inc()
		c.log.Warn("Inbox full, dropping detection", "capacity", cap(c.inbox))
	}
}

// Run processes detections and ticks until ctx ends or a fatal error occurs.
// A canceled context is a clean shutdown and returns nil.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Info("Controller started",
		"cooldown", c.cfg.Cooldown,
		"noDetectionTimeout", c.cfg.NoDetectionTimeout,
		"heartbeatInterval", c.cfg.HeartbeatInterval)

	if c.cfg.HomeOnStart {
		c.log.Info("Homing actuator")
		c.issue(ctx, actuator.Reset, c.clock.Now())
		c.storeSnapshot()
	}

	ticker := c.clock.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil

		case msg := <-c.inbox:
			c.HandleDetection(ctx, msg.payload, msg.receivedAt)

		case <-ticker.C():
			if err := c.Tick(ctx); err != nil {
				c.shutdown()
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// HandleDetection applies the policy to one message.
func (c *Controller) HandleDetection(ctx context.Context, payload []byte, receivedAt time.Time) {
	defer c.storeSnapshot()

	ev, err := c.validator.Validate(payload, receivedAt)
	if err != nil {
		c.logRejected(err)
		return
	}

	now := c.clock.Now()
	c.state.LastValidDetectionAt = &now

	if c.state.inCooldown(now, c.cfg.Cooldown) {
		metrics.DetectionsTotal.WithLabelValues("cooldown").Inc()
		c.log.Info("Cooldown active, ignoring detection",
			"label", ev.Event().Label,
			"confidence", ev.Event().Confidence,
			"remaining", c.cfg.Cooldown-now.Sub(c.state.LastMoveAt))
		return
	}

	metrics.DetectionsTotal.WithLabelValues("accepted").Inc()
	c.log.Info("Target detected, activating", "label", ev.Event().Label, "confidence", ev.Event().Confidence)
	c.issue(ctx, actuator.Activate, now)
}

func (c *Controller) logRejected(err error) {
	switch {
	case errors.Is(err, detection.ErrBelowThreshold):
		metrics.DetectionsTotal.WithLabelValues("below_threshold").Inc()
		c.log.Info("Ignoring detection", "reason", err.Error())
	case errors.Is(err, detection.ErrWrongClass):
		metrics.DetectionsTotal.WithLabelValues("wrong_class").Inc()
		c.log.Info("Ignoring detection", "reason", err.Error())
	case errors.Is(err, detection.ErrStaleEvent):
		metrics.DetectionsTotal.WithLabelValues("stale").Inc()
		c.log.Info("Ignoring detection", "reason", err.Error())
	default:
		metrics.DetectionsTotal.WithLabelValues("malformed").Inc()
		c.log.Warn("Dropping malformed detection", "error", err)
	}
}

// Tick evaluates the inactivity reset and the transport heartbeat. It
// returns an error wrapping ErrFatal when reconnection is exhausted.
func (c *Controller) Tick(ctx context.Context) error {
	defer c.storeSnapshot()

	now := c.clock.Now()
	c.checkInactivity(ctx, now)
	return c.checkHeartbeat(ctx, now)
}

func (c *Controller) checkInactivity(ctx context.Context, now time.Time) {
	last := c.state.LastValidDetectionAt
	if last == nil || now.Sub(*last) < c.cfg.NoDetectionTimeout {
		return
	}
	if c.state.inCooldown(now, c.cfg.Cooldown) {
		return
	}

	c.log.Info("No detections, resetting actuator", "idle", now.Sub(*last))
	if c.issue(ctx, actuator.Reset, now) {
		c.state.LastValidDetectionAt = nil
	}
}

func (c *Controller) checkHeartbeat(ctx context.Context, now time.Time) error {
	if now.Sub(c.state.LastHeartbeatAt) < c.cfg.HeartbeatInterval {
		return nil
	}
	c.state.LastHeartbeatAt = now

	healthy := c.transport.IsHealthy()
	if healthy {
		if err := c.transport.Ping(ctx); err != nil {
			c.log.Warn("Heartbeat failed", "error", err)
			healthy = false
		}
	} else {
		c.log.Warn("Transport reported unhealthy")
	}
	c.state.TransportHealthy = healthy
	if healthy {
		return nil
	}

	c.storeSnapshot()
	if err := c.transport.Reconnect(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}

	c.state.TransportHealthy = true
	c.state.LastHeartbeatAt = c.clock.Now()
	c.log.Info("Transport recovered")
	return nil
}

// issue sends cmd and records the move. It reports whether the command
// reached the wire; link errors leave the state untouched.
func (c *Controller) issue(ctx context.Context, cmd actuator.Command, now time.Time) bool {
	res, err := c.link.Send(cmd, c.cfg.AckTimeout)
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(cmd.String(), "error").Inc()
		c.log.Error(err, "Actuator command failed", "command", cmd.String())
		return false
	}

	c.state.LastMoveAt = now
	c.recordOutcome(res)
	c.publishOutcome(ctx, res, now)
	return true
}

func (c *Controller) recordOutcome(res actuator.Result) {
	metrics.CommandsTotal.WithLabelValues(res.Command.String(), res.Outcome.String()).Inc()

	switch res.Outcome {
	case actuator.Acknowledged:
		c.state.LastMoveConfirmed = true
		metrics.AckLatency.WithLabelValues(res.Command.String()).Observe(res.Elapsed.Seconds())
		c.log.Info("Actuator acknowledged", "command", res.Command.String(), "elapsed", res.Elapsed)
	case actuator.TimedOut:
		c.state.LastMoveConfirmed = false
		metrics.UnconfirmedMovesTotal.Inc()
		c.log.Warn("Actuator did not acknowledge", "command", res.Command.String(),
			"timeout", c.cfg.AckTimeout, "response", string(res.Response))
	}
}

func (c *Controller) publishOutcome(ctx context.Context, res actuator.Result, now time.Time) {
	if c.cfg.Notifier == nil || !c.transport.IsHealthy() {
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := c.cfg.Notifier.Notify(pubCtx, res, now); err != nil {
		c.log.Warn("Failed to publish actuator outcome", "error", err)
	}
}

// shutdown homes the actuator on the way out. This is the only move that
// ignores the cooldown: it may land inside the window of the previous move,
// since the process is exiting and a later Reset will never come.
func (c *Controller) shutdown() {
	defer c.storeSnapshot()

	if !c.cfg.HomeOnStop {
		return
	}
	res, err := c.link.Send(actuator.Reset, c.cfg.AckTimeout)
	if err != nil {
		c.log.Error(err, "Failed to home actuator on shutdown")
		return
	}
	c.state.LastMoveAt = c.clock.Now()
	c.recordOutcome(res)
}

func (c *Controller) storeSnapshot() {
	snap := c.state.snapshot(c.clock.Now(), c.cfg.Cooldown)
	snap.InboxDepth = len(c.inbox)
	c.snap.Store(&snap)
}

// Snapshot returns the state as of the last handled event. Safe for
// concurrent use.
func (c *Controller) Snapshot() Snapshot {
	return *c.snap.Load()
}

// Phase derives the current phase. Run-loop goroutine only.
func (c *Controller) Phase() Phase {
	return c.state.phase(c.clock.Now(), c.cfg.Cooldown)
}

// State returns a copy of the state. Run-loop goroutine only.
func (c *Controller) State() State {
	s := c.state
	if s.LastValidDetectionAt != nil {
		t := *s.LastValidDetectionAt
		s.LastValidDetectionAt = &t
	}
	return s
}
