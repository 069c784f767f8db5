package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Delivery is one call observed by MockCallback.
type Delivery struct {
	Notification string
	Payload      []string
}

// MockCallback is a Callback for tests. DeliverFunc, when set, decides the
// outcome of each delivery attempt; successful attempts are recorded.
type MockCallback struct {
	id string

	mu          sync.Mutex
	attempts    int
	deliveries  []Delivery
	DeliverFunc func(attempt int, d Delivery) error
	delivered   chan Delivery
}

// NewMockCallback creates a mock with a fresh connection id.
func NewMockCallback() *MockCallback {
	return NewMockCallbackWithID(uuid.NewString())
}

// NewMockCallbackWithID creates a mock sharing an existing connection id.
func NewMockCallbackWithID(id string) *MockCallback {
	return &MockCallback{id: id, delivered: make(chan Delivery, 64)}
}

func (m *MockCallback) ID() string { return m.id }

func (m *MockCallback) OnPolicyChanged(ctx context.Context) error {
	return m.record(Delivery{Notification: PolicyChanged{}.Name()})
}

func (m *MockCallback) OnPolicyContentsChanged(ctx context.Context, payload []string) error {
	return m.record(Delivery{Notification: PolicyContentsChanged{}.Name(), Payload: payload})
}

func (m *MockCallback) CheckAvailability(ctx context.Context) error {
	return nil
}

func (m *MockCallback) record(d Delivery) error {
	m.mu.Lock()
	m.attempts++
	attempt := m.attempts
	fn := m.DeliverFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(attempt, d); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.deliveries = append(m.deliveries, d)
	m.mu.Unlock()

	select {
	case m.delivered <- d:
	default:
	}
	return nil
}

// SetDeliverFunc replaces DeliverFunc safely while a worker is running.
func (m *MockCallback) SetDeliverFunc(fn func(attempt int, d Delivery) error) {
	m.mu.Lock()
	m.DeliverFunc = fn
	m.mu.Unlock()
}

// Attempts returns how many deliveries were attempted.
func (m *MockCallback) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Deliveries returns the successful deliveries in order.
func (m *MockCallback) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

// Delivered receives each successful delivery.
func (m *MockCallback) Delivered() <-chan Delivery { return m.delivered }
