package websocket

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockConnection is a Connection for tests. ReadMessage blocks until a frame
// is pushed or the connection is closed.
type MockConnection struct {
	mu sync.Mutex

	// WriteMessageFunc, when set, decides the outcome of each write.
	WriteMessageFunc func(messageType int, data []byte) error
	written          []MockMessage
	writes           chan MockMessage

	incoming  chan MockMessage
	closed    chan struct{}
	closeOnce sync.Once

	PongHandler   func(string) error
	RemoteAddress string
	ReadLimit     int64
}

// MockMessage represents a message for mocking
type MockMessage struct {
	Type int
	Data []byte
	Err  error
}

// NewMockConnection creates a new mock connection
func NewMockConnection() *MockConnection {
	return &MockConnection{
		writes:        make(chan MockMessage, 256),
		incoming:      make(chan MockMessage, 64),
		closed:        make(chan struct{}),
		RemoteAddress: "127.0.0.1:8080",
	}
}

// Push queues a text frame for ReadMessage.
func (m *MockConnection) Push(data []byte) {
	m.incoming <- MockMessage{Type: websocket.TextMessage, Data: data}
}

// PushError makes the next ReadMessage fail with err.
func (m *MockConnection) PushError(err error) {
	m.incoming <- MockMessage{Err: err}
}

// WriteMessage implements Connection.WriteMessage
func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	if m.IsClosed() {
		return net.ErrClosed
	}

	m.mu.Lock()
	fn := m.WriteMessageFunc
	m.mu.Unlock()
	if fn != nil {
		if err := fn(messageType, data); err != nil {
			return err
		}
	}

	msg := MockMessage{Type: messageType, Data: append([]byte(nil), data...)}
	m.mu.Lock()
	m.written = append(m.written, msg)
	m.mu.Unlock()

	select {
	case m.writes <- msg:
	default:
	}
	return nil
}

// ReadMessage implements Connection.ReadMessage
func (m *MockConnection) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-m.incoming:
		return msg.Type, msg.Data, msg.Err
	case <-m.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

// Close implements Connection.Close
func (m *MockConnection) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockConnection) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// SetWriteFunc replaces WriteMessageFunc safely while pumps are running.
func (m *MockConnection) SetWriteFunc(fn func(messageType int, data []byte) error) {
	m.mu.Lock()
	m.WriteMessageFunc = fn
	m.mu.Unlock()
}

// Writes receives every successful write.
func (m *MockConnection) Writes() <-chan MockMessage { return m.writes }

// GetWrittenMessages returns all successful writes in order.
func (m *MockConnection) GetWrittenMessages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.written))
	copy(out, m.written)
	return out
}

func (m *MockConnection) SetReadDeadline(time.Time) error  { return nil }
func (m *MockConnection) SetWriteDeadline(time.Time) error { return nil }

func (m *MockConnection) SetReadLimit(limit int64) {
	m.mu.Lock()
	m.ReadLimit = limit
	m.mu.Unlock()
}

// Limit returns the last read limit set.
func (m *MockConnection) Limit() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ReadLimit
}

func (m *MockConnection) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	m.PongHandler = h
	m.mu.Unlock()
}

func (m *MockConnection) RemoteAddr() string { return m.RemoteAddress }

// ErrMockWrite is a convenience write failure for tests.
var ErrMockWrite = errors.New("mock write failure")
