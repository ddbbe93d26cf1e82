package controller

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/servobridge/internal/actuator"
	"github.com/autopeer-io/servobridge/internal/detection"
	"github.com/autopeer-io/servobridge/internal/transport"
	"github.com/autopeer-io/servobridge/pkg/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	pistachio = `{"objeto":"pistachio","confianza":0.85}`
	weak      = `{"objeto":"pistachio","confianza":0.4}`
	almond    = `{"objeto":"almond","confianza":0.95}`
	garbage   = `{"objeto":`
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	c        *Controller
	clk      *clocktesting.FakeClock
	link     *fakeActuator
	trans    *fakeTransport
	notifier *fakeNotifier
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	clk := clocktesting.NewFakeClock(epoch)
	notifier := &fakeNotifier{}
	cfg := Config{
		Validator:          detection.NewValidator(detection.Config{Threshold: 0.6, TargetLabel: "pistachio"}),
		Cooldown:           5 * time.Second,
		NoDetectionTimeout: 5 * time.Second,
		TickInterval:       time.Second,
		HeartbeatInterval:  10 * time.Second,
		AckTimeout:         3 * time.Second,
		InboxSize:          64,
		Notifier:           notifier,
		Clock:              clk,
		Logger:             log.NewNopLogger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	link := newFakeActuator(clk)
	trans := newFakeTransport()
	return &harness{c: New(cfg, link, trans), clk: clk, link: link, trans: trans, notifier: notifier}
}

func (h *harness) detect(payload string) {
	h.c.HandleDetection(context.Background(), []byte(payload), h.clk.Now())
}

// advance moves the clock one second at a time, ticking after each step.
func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	for elapsed := time.Duration(0); elapsed < d; elapsed += time.Second {
		h.clk.Step(time.Second)
		require.NoError(t, h.c.Tick(context.Background()))
	}
}

func TestValidDetectionActivates(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, Idle, h.c.Phase())

	h.detect(pistachio)

	assert.Equal(t, []actuator.Command{actuator.Activate}, h.link.commands())
	st := h.c.State()
	assert.Equal(t, epoch, st.LastMoveAt)
	require.NotNil(t, st.LastValidDetectionAt)
	assert.Equal(t, epoch, *st.LastValidDetectionAt)
	assert.True(t, st.LastMoveConfirmed)
	assert.Equal(t, CooldownActive, h.c.Phase())
}

func TestRejectedDetectionsLeaveStateUntouched(t *testing.T) {
	for _, payload := range []string{weak, almond, garbage, `[]`, `{"confianza":0.9}`} {
		t.Run(payload, func(t *testing.T) {
			h := newHarness(t)
			before := h.c.State()

			h.detect(payload)

			assert.Empty(t, h.link.commands())
			if diff := cmp.Diff(before, h.c.State()); diff != "" {
				t.Errorf("state changed (-before +after):\n%s", diff)
			}
		})
	}
}

func TestCooldownSuppressesActivation(t *testing.T) {
	h := newHarness(t)

	h.detect(pistachio)
	h.clk.Step(2 * time.Second)
	h.detect(pistachio)

	assert.Equal(t, []actuator.Command{actuator.Activate}, h.link.commands())
	st := h.c.State()
	assert.Equal(t, epoch, st.LastMoveAt, "suppressed detection does not move LastMoveAt")
	assert.Equal(t, epoch.Add(2*time.Second), *st.LastValidDetectionAt, "but refreshes the detection time")

	h.clk.Step(3 * time.Second) // cooldown boundary is inclusive
	h.detect(pistachio)
	assert.Equal(t, []actuator.Command{actuator.Activate, actuator.Activate}, h.link.commands())
	assert.Equal(t, epoch.Add(5*time.Second), h.c.State().LastMoveAt)
}

func TestInactivityReset(t *testing.T) {
	h := newHarness(t)
	h.detect(pistachio)

	h.advance(t, 4*time.Second)
	assert.Equal(t, []actuator.Command{actuator.Activate}, h.link.commands())
	assert.Equal(t, CooldownActive, h.c.Phase())

	h.advance(t, time.Second)
	assert.Equal(t, []actuator.Command{actuator.Activate, actuator.Reset}, h.link.commands())
	st := h.c.State()
	assert.Nil(t, st.LastValidDetectionAt)
	assert.Equal(t, epoch.Add(5*time.Second), st.LastMoveAt)

	h.advance(t, 20*time.Second)
	assert.Len(t, h.link.commands(), 2, "one reset per inactivity window")
	assert.Equal(t, Idle, h.c.Phase())
}

func TestResetWaitsForCooldown(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Cooldown = 8 * time.Second
		c.NoDetectionTimeout = 3 * time.Second
	})
	h.detect(pistachio)

	h.advance(t, 7*time.Second)
	assert.Equal(t, []actuator.Command{actuator.Activate}, h.link.commands())
	assert.Equal(t, CooldownActive, h.c.Phase())

	h.advance(t, time.Second)
	assert.Equal(t, []actuator.Command{actuator.Activate, actuator.Reset}, h.link.commands())
	assert.Equal(t, epoch.Add(8*time.Second), h.link.history()[1].At)
}

func TestDetectionsKeepPostponingReset(t *testing.T) {
	h := newHarness(t)
	h.detect(pistachio)

	for range 4 {
		h.advance(t, 3*time.Second)
		h.detect(pistachio)
	}
	for _, cmd := range h.link.commands() {
		assert.Equal(t, actuator.Activate, cmd)
	}
	assert.NotNil(t, h.c.State().LastValidDetectionAt)
}

func TestLinkNotReady(t *testing.T) {
	h := newHarness(t)
	h.link.setErr(actuator.ErrNotReady)

	h.detect(pistachio)
	st := h.c.State()
	assert.True(t, st.LastMoveAt.IsZero(), "no command was issued")
	require.NotNil(t, st.LastValidDetectionAt)

	h.advance(t, 6*time.Second)
	assert.NotNil(t, h.c.State().LastValidDetectionAt, "failed reset is retried")

	h.link.setErr(nil)
	h.advance(t, time.Second)
	assert.Equal(t, []actuator.Command{actuator.Reset}, h.link.commands())
	assert.Nil(t, h.c.State().LastValidDetectionAt)
}

func TestAckTimeoutAdvancesCooldown(t *testing.T) {
	h := newHarness(t)
	h.link.outcomes[actuator.Activate] = actuator.TimedOut

	h.detect(pistachio)

	st := h.c.State()
	assert.Equal(t, epoch, st.LastMoveAt)
	assert.False(t, st.LastMoveConfirmed)
	assert.False(t, h.c.Snapshot().LastMoveConfirmed)

	h.clk.Step(time.Second)
	h.detect(pistachio)
	assert.Len(t, h.link.commands(), 1, "unacknowledged move still starts the cooldown")
}

func TestOutcomeNotified(t *testing.T) {
	h := newHarness(t)
	h.detect(pistachio)

	require.Len(t, h.notifier.notified, 1)
	assert.Equal(t, actuator.Activate, h.notifier.notified[0].Result.Command)
	assert.Equal(t, epoch, h.notifier.notified[0].At)

	h.trans.set(func(f *fakeTransport) { f.healthy = false })
	h.clk.Step(5 * time.Second)
	h.detect(pistachio)
	assert.Len(t, h.link.commands(), 2)
	assert.Len(t, h.notifier.notified, 1, "no notification while the transport is down")

	h2 := newHarness(t, func(c *Config) { c.Notifier = nil })
	h2.detect(pistachio)
	assert.Len(t, h2.link.commands(), 1)
}

func TestHeartbeat(t *testing.T) {
	h := newHarness(t)

	h.advance(t, 9*time.Second)
	pings, _ := h.trans.counts()
	assert.Zero(t, pings)

	h.advance(t, time.Second)
	pings, reconnects := h.trans.counts()
	assert.Equal(t, 1, pings)
	assert.Zero(t, reconnects)
	assert.Equal(t, epoch.Add(10*time.Second), h.c.State().LastHeartbeatAt)

	h.advance(t, 10*time.Second)
	pings, _ = h.trans.counts()
	assert.Equal(t, 2, pings)
}

func TestHeartbeatReconnects(t *testing.T) {
	t.Run("ping failure", func(t *testing.T) {
		h := newHarness(t)
		h.detect(pistachio)
		h.trans.set(func(f *fakeTransport) { f.pingErr = errors.New("puback timeout") })

		h.advance(t, 9*time.Second)
		before := h.c.State()
		h.advance(t, time.Second)

		_, reconnects := h.trans.counts()
		assert.Equal(t, 1, reconnects)
		st := h.c.State()
		assert.True(t, st.TransportHealthy)
		assert.Equal(t, before.LastMoveAt, st.LastMoveAt, "policy state survives a reconnect")
	})

	t.Run("unhealthy skips ping", func(t *testing.T) {
		h := newHarness(t)
		h.trans.set(func(f *fakeTransport) { f.healthy = false })

		h.advance(t, 10*time.Second)

		pings, reconnects := h.trans.counts()
		assert.Zero(t, pings)
		assert.Equal(t, 1, reconnects)
	})

	t.Run("exhausted is fatal", func(t *testing.T) {
		h := newHarness(t)
		h.trans.set(func(f *fakeTransport) {
			f.healthy = false
			f.reconnectErr = transport.ErrReconnectExhausted
		})

		h.clk.Step(10 * time.Second)
		err := h.c.Tick(context.Background())
		require.ErrorIs(t, err, ErrFatal)
		assert.ErrorIs(t, err, transport.ErrReconnectExhausted)
		assert.False(t, h.c.Snapshot().TransportHealthy)
	})
}

func TestInboxDropsNewestWhenFull(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.InboxSize = 2 })

	h.trans.deliver(pistachio, epoch)
	h.trans.deliver(weak, epoch)
	h.trans.deliver(almond, epoch) // dropped

	require.Len(t, h.c.inbox, 2)
	assert.Equal(t, pistachio, string((<-h.c.inbox).payload))
	assert.Equal(t, weak, string((<-h.c.inbox).payload))
}

func TestAtMostOneMovePerCooldown(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	h := newHarness(t)

	for range 500 {
		h.clk.Step(time.Duration(rng.Intn(1500)) * time.Millisecond)
		switch rng.Intn(3) {
		case 0:
			h.detect(pistachio)
		case 1:
			h.detect(almond)
		default:
			require.NoError(t, h.c.Tick(context.Background()))
		}
	}

	hist := h.link.history()
	require.NotEmpty(t, hist)
	for i := 1; i < len(hist); i++ {
		gap := hist[i].At.Sub(hist[i-1].At)
		assert.GreaterOrEqual(t, gap, 5*time.Second, "commands %d and %d", i-1, i)
	}
}

func TestPhase(t *testing.T) {
	s := State{}
	assert.Equal(t, Idle, s.phase(epoch, 5*time.Second))

	det := epoch
	s = State{LastValidDetectionAt: &det, LastMoveAt: epoch}
	assert.Equal(t, CooldownActive, s.phase(epoch.Add(4*time.Second), 5*time.Second))
	assert.Equal(t, AwaitingReset, s.phase(epoch.Add(5*time.Second), 5*time.Second))

	s.LastValidDetectionAt = nil
	assert.Equal(t, Idle, s.phase(epoch.Add(5*time.Second), 5*time.Second))
}
