package transport

import (
	"context"
	"sync"

	"github.com/autopeer-io/servobridge/pkg/mqtt"
)

type published struct {
	Topic   string
	QoS     int
	Retain  bool
	Payload []byte
}

// fakeClient is an in-memory mqtt.Client. Every Start consumes one entry of
// connectResults: nil connects, an error fails the attempt, and
// errHang blocks AwaitConnection until its context ends.
type fakeClient struct {
	mu  sync.Mutex
	cfg *mqtt.ClientConfig

	connectResults []error
	current        error
	started        bool
	connected      bool

	starts      int
	disconnects int
	publishErr  error
	subErr      error
	lastConnErr error

	handlers  map[string]mqtt.MessageHandler
	published []published
}

type hangError struct{}

func (hangError) Error() string { return "hang" }

var errHang error = hangError{}

func newFakeClient(results ...error) *fakeClient {
	return &fakeClient{connectResults: results, handlers: map[string]mqtt.MessageHandler{}}
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
	f.started = true
	f.current = nil
	if len(f.connectResults) > 0 {
		f.current = f.connectResults[0]
		f.connectResults = f.connectResults[1:]
	}
	up := f.current == nil
	if up {
		f.connected = true
	} else if f.current != errHang {
		f.lastConnErr = f.current
	}
	hook := f.cfg.OnConnectionUp
	f.mu.Unlock()

	if up && hook != nil {
		hook()
	}
	return nil
}

func (f *fakeClient) AwaitConnection(ctx context.Context) error {
	f.mu.Lock()
	cur := f.current
	f.mu.Unlock()

	if cur == nil {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeClient) Disconnect(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		f.disconnects++
	}
	f.started = false
	f.connected = false
}

func (f *fakeClient) Publish(_ context.Context, topic string, qos int, retain bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{topic, qos, retain, payload})
	return nil
}

func (f *fakeClient) Subscribe(_ context.Context, topic string, _ int, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
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
	return f.lastConnErr
}

// deliver simulates an inbound message.
func (f *fakeClient) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		h(context.Background(), topic, payload)
	}
}

// drop simulates the client noticing a lost connection.
func (f *fakeClient) drop(err error) {
	f.mu.Lock()
	f.connected = false
	hook := f.cfg.OnConnectionDown
	f.mu.Unlock()
	hook(err)
}

func (f *fakeClient) publishedTo(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeClient) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}
