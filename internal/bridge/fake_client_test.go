package bridge

import (
	"context"
	"sync"

	"github.com/autopeer-io/servobridge/pkg/mqtt"
)

// fakeClient is an in-memory broker connection. A non-nil refuse makes every
// connection attempt fail.
type fakeClient struct {
	mu  sync.Mutex
	cfg *mqtt.ClientConfig

	refuse    error
	connected bool
	starts    int

	handlers  map[string]mqtt.MessageHandler
	published map[string][][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		handlers:  map[string]mqtt.MessageHandler{},
		published: map[string][][]byte{},
	}
}

func (f *fakeClient) factory(cfg *mqtt.ClientConfig) (mqtt.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return f, nil
}

func (f *fakeClient) Start(context.Context) error {
	f.mu.Lock()
	f.starts++
	f.connected = f.refuse == nil
	up, hook := f.connected, f.cfg.OnConnectionUp
	f.mu.Unlock()

	if up && hook != nil {
		hook()
	}
	return nil
}

func (f *fakeClient) AwaitConnection(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refuse
}

func (f *fakeClient) Disconnect(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeClient) Publish(_ context.Context, topic string, _ int, _ bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = append(f.published[topic], payload)
	return nil
}

func (f *fakeClient) Subscribe(_ context.Context, topic string, _ int, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeClient) Unsubscribe(_ context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) LastConnectError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refuse
}

func (f *fakeClient) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[topic] != nil
}

func (f *fakeClient) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	h(context.Background(), topic, payload)
}

func (f *fakeClient) publishedTo(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.published[topic]))
	for _, p := range f.published[topic] {
		out = append(out, string(p))
	}
	return out
}

func (f *fakeClient) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}
