package websocket

import (
	"context"
	"time"

	"github.com/google/uuid"

	"policyhub/internal/notify"
)

// Connection defines the interface for WebSocket connections
// This allows for proper mocking in tests
type Connection interface {
	// WriteMessage writes a message with the given message type and payload
	WriteMessage(messageType int, data []byte) error

	// ReadMessage reads a message from the connection
	// Returns the message type and payload
	ReadMessage() (messageType int, p []byte, err error)

	// Close closes the connection
	Close() error

	// SetReadDeadline sets the read deadline on the connection
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline sets the write deadline on the connection
	SetWriteDeadline(t time.Time) error

	// SetReadLimit sets the maximum size for a message read from the connection
	SetReadLimit(limit int64)

	// SetPongHandler sets the handler for pong messages
	SetPongHandler(h func(string) error)

	// RemoteAddr returns the remote network address
	RemoteAddr() string
}

// PolicyService is the part of the license service a subscriber connection
// talks to. *license.Service implements it.
type PolicyService interface {
	GetSecurityPolicy(ctx context.Context, appID uuid.UUID) []string
	RegisterListener(ctx context.Context, appID uuid.UUID, kind notify.SubscriptionKind, cb notify.Callback) bool
	UnregisterListener(ctx context.Context, cb notify.Callback)
}
