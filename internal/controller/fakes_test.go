package controller

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/servobridge/internal/actuator"
	"github.com/autopeer-io/servobridge/internal/transport"
)

type sent struct {
	Command actuator.Command
	At      time.Time
}

// fakeActuator records commands. Outcomes default to Acknowledged.
type fakeActuator struct {
	mu    sync.Mutex
	clock clock.PassiveClock

	sent     []sent
	err      error
	outcomes map[actuator.Command]actuator.Outcome
}

func newFakeActuator(clk clock.PassiveClock) *fakeActuator {
	return &fakeActuator{clock: clk, outcomes: map[actuator.Command]actuator.Outcome{}}
}

func (f *fakeActuator) Send(cmd actuator.Command, _ time.Duration) (actuator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return actuator.Result{}, f.err
	}
	f.sent = append(f.sent, sent{Command: cmd, At: f.clock.Now()})
	return actuator.Result{Command: cmd, Outcome: f.outcomes[cmd], Elapsed: 20 * time.Millisecond}, nil
}

func (f *fakeActuator) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeActuator) commands() []actuator.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]actuator.Command, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.Command)
	}
	return out
}

func (f *fakeActuator) history() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type notified struct {
	Result actuator.Result
	At     time.Time
}

// fakeNotifier records outcome notifications.
type fakeNotifier struct {
	mu       sync.Mutex
	notified []notified
}

func (f *fakeNotifier) Notify(_ context.Context, res actuator.Result, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, notified{Result: res, At: at})
	return nil
}

// fakeTransport is a scriptable Transport.
type fakeTransport struct {
	mu sync.Mutex

	handler      transport.MessageFunc
	healthy      bool
	pingErr      error
	reconnectErr error
	pings        int
	reconnects   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{healthy: true}
}

func (f *fakeTransport) OnMessage(fn transport.MessageFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *fakeTransport) IsHealthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeTransport) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeTransport) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if f.reconnectErr != nil {
		return f.reconnectErr
	}
	f.healthy = true
	f.pingErr = nil
	return nil
}

func (f *fakeTransport) deliver(payload string, at time.Time) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h([]byte(payload), at)
}

func (f *fakeTransport) set(fn func(f *fakeTransport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTransport) counts() (pings, reconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings, f.reconnects
}
