// Package events contains the message contracts of the policy subscription
// websocket channel.
package events

import (
	"time"
)

// ProtocolVersion is sent in the connect message.
const ProtocolVersion = "1.0"

// MessageType names a websocket frame.
type MessageType string

const (
	// Client to server
	MessageTypeRegister          MessageType = "register"
	MessageTypeUnregister        MessageType = "unregister"
	MessageTypeGetSecurityPolicy MessageType = "get_security_policy"
	MessageTypeHeartbeat         MessageType = "heartbeat"

	// Server to client replies
	MessageTypeConnect        MessageType = "connect"
	MessageTypeRegisterResult MessageType = "register_result"
	MessageTypeSecurityPolicy MessageType = "security_policy"
	MessageTypeHeartbeatAck   MessageType = "heartbeat_ack"
	MessageTypeError          MessageType = "error"

	// Server to client notifications
	MessageTypePolicyChanged         MessageType = "on_security_policy_changed"
	MessageTypePolicyContentsChanged MessageType = "on_security_policy_contents_changed"
	MessageTypeCheckAvailability     MessageType = "check_availability"
)

// ClientMessage is any frame sent by a subscriber. Fields not used by Type
// are ignored.
type ClientMessage struct {
	Type             MessageType `json:"type"`
	RequestID        string      `json:"request_id,omitempty"`
	ApplicationID    string      `json:"application_id,omitempty"`
	SubscriptionType string      `json:"subscription_type,omitempty"`
}

// ServerMessage is any frame sent to a subscriber.
type ServerMessage struct {
	Type       MessageType    `json:"type"`
	RequestID  string         `json:"request_id,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	ClientID   string         `json:"client_id,omitempty"`
	Version    string         `json:"version,omitempty"`
	Success    *bool          `json:"success,omitempty"`
	PolicyData []string       `json:"policy_data,omitempty"`
	Error      *ProtocolError `json:"error,omitempty"`
}

// ProtocolError describes a frame the server could not handle.
type ProtocolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Protocol error codes
const (
	ErrCodeInvalidFrame     = "INVALID_FRAME"
	ErrCodeUnsupportedType  = "UNSUPPORTED_TYPE"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
)

// NewServerMessage creates a message of type t stamped with the current time.
func NewServerMessage(t MessageType) ServerMessage {
	return ServerMessage{Type: t, Timestamp: time.Now().UTC()}
}

// NewErrorMessage creates an error reply for requestID.
func NewErrorMessage(requestID, code, message string) ServerMessage {
	msg := NewServerMessage(MessageTypeError)
	msg.RequestID = requestID
	msg.Error = &ProtocolError{Code: code, Message: message}
	return msg
}
