package actuator

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

var _ Port = (*TestablePort)(nil)

// TestablePort implements Port with configurable behaviour for testing.
// Replies queued with Respond are released after the matching command byte
// is written, which mimics the controller answering a command.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls.
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port.
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set.
	ReadError error

	// WriteError is returned by the next Write call if set.
	WriteError error

	// CloseError is returned by Close if set.
	CloseError error

	// Closed indicates whether Close was called.
	Closed bool

	// ReadTimeout is the current read timeout.
	ReadTimeout time.Duration

	// ResetCalls counts ResetInputBuffer calls.
	ResetCalls int

	// OnIdle runs, unlocked, when a Read finds no data. Tests with a fake
	// clock step it here. When nil the read sleeps for ReadTimeout.
	OnIdle func(timeout time.Duration)

	replies map[byte][]byte
}

// NewTestablePort creates a new TestablePort for testing.
func NewTestablePort() *TestablePort {
	return &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		replies:     map[byte][]byte{},
	}
}

// Respond queues reply to be readable after cmd is written.
func (t *TestablePort) Respond(cmd Command, reply []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[byte(cmd)] = reply
}

// AddReadData makes data readable immediately.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
}

// Written returns a copy of everything written so far.
func (t *TestablePort) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.WriteBuffer.Bytes())
}

func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()

	if t.Closed {
		t.mu.Unlock()
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		t.mu.Unlock()
		return 0, err
	}
	if t.ReadBuffer.Len() > 0 {
		n, _ := t.ReadBuffer.Read(p)
		t.mu.Unlock()
		return n, nil
	}

	idle, timeout := t.OnIdle, t.ReadTimeout
	t.mu.Unlock()

	if idle != nil {
		idle(timeout)
	} else {
		time.Sleep(timeout)
	}
	return 0, nil
}

func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	for _, b := range p {
		if reply, ok := t.replies[b]; ok {
			t.ReadBuffer.Write(reply)
		}
	}
	return t.WriteBuffer.Write(p)
}

func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return t.CloseError
}

func (t *TestablePort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ResetCalls++
	t.ReadBuffer.Reset()
	return nil
}

func (t *TestablePort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}
