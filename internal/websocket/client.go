package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"policyhub/internal/config"
	"policyhub/internal/infrastructure"
	"policyhub/internal/notify"
	api "policyhub/pkg/contracts/api/v1"
	"policyhub/pkg/contracts/events"
)

// sendBufferSize bounds the outbound frames queued for one connection.
const sendBufferSize = 256

var (
	// ErrClientClosed is returned when pushing to a connection that went away.
	ErrClientClosed = errors.New("websocket client closed")
	// ErrSendTimeout is returned when the outbound buffer stayed full for a
	// whole write wait.
	ErrSendTimeout = errors.New("websocket send buffer full")
)

// Client is one subscriber connection. It is the notify.Callback handed to
// the license service: deliveries are queued on the outbound buffer and
// written by WritePump. Failures to queue are transient so a worker gets its
// one retry before giving up on the connection.
type Client struct {
	hub *Hub

	// The websocket connection
	conn Connection

	// Buffered channel of outbound messages. Never closed; closed signals
	// shutdown instead.
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	// Client metadata
	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time
	ctx         context.Context
	cancel      context.CancelFunc

	cfg      config.WebSocketConfig
	service  PolicyService
	validate *validator.Validate
	metrics  *OTelMetrics
	logger   *slog.Logger

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
}

func newClient(hub *Hub, conn Connection, traceID string) *Client {
	id := uuid.NewString()
	if traceID == "" {
		traceID = infrastructure.GenerateTraceID()
	}
	ctx, cancel := context.WithCancel(infrastructure.WithTraceID(context.Background(), traceID))

	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		closed:      make(chan struct{}),
		id:          id,
		traceID:     traceID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		cfg:         hub.cfg,
		service:     hub.service,
		validate:    hub.validate,
		metrics:     hub.metrics,
		logger: hub.logger.With(
			slog.String("component", "websocket.client"),
			slog.String("client_id", id),
		),
	}
}

// ID returns the connection id. It identifies the subscriber in the hub.
func (c *Client) ID() string { return c.id }

// OnPolicyChanged queues a content-free change notification.
func (c *Client) OnPolicyChanged(ctx context.Context) error {
	return c.push(ctx, events.NewServerMessage(events.MessageTypePolicyChanged))
}

// OnPolicyContentsChanged queues the changed fragments of the subscribed application.
func (c *Client) OnPolicyContentsChanged(ctx context.Context, payload []string) error {
	msg := events.NewServerMessage(events.MessageTypePolicyContentsChanged)
	msg.PolicyData = payload
	return c.push(ctx, msg)
}

// CheckAvailability queues a probe frame.
func (c *Client) CheckAvailability(ctx context.Context) error {
	return c.push(ctx, events.NewServerMessage(events.MessageTypeCheckAvailability))
}

// Closed is closed once the connection is shutting down.
func (c *Client) Closed() <-chan struct{} { return c.closed }

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
	})
}

func (c *Client) push(ctx context.Context, msg events.ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	select {
	case <-c.closed:
		return notify.Transient(ErrClientClosed)
	default:
	}

	timer := time.NewTimer(c.cfg.WriteWait)
	defer timer.Stop()

	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return notify.Transient(ErrClientClosed)
	case <-ctx.Done():
		return notify.Transient(ctx.Err())
	case <-timer.C:
		return notify.Transient(ErrSendTimeout)
	}
}

func (c *Client) reply(msg events.ServerMessage) {
	if err := c.push(c.ctx, msg); err != nil {
		c.logger.DebugContext(c.ctx, "reply dropped",
			slog.String("type", string(msg.Type)),
			slog.String("error", err.Error()))
	}
}

func (c *Client) replyError(requestID, code, message string) {
	c.metrics.RecordFrameError(c.ctx, code)
	c.reply(events.NewErrorMessage(requestID, code, message))
}

// ReadPump reads request frames until the connection fails, then unregisters
// the subscriber and detaches the client from the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.service.UnregisterListener(c.ctx, c)
		c.hub.detach(c)
		c.conn.Close()
		c.logger.InfoContext(c.ctx, "websocket client disconnected",
			slog.Duration("connection_duration", time.Since(c.connectedAt)),
			slog.Int64("messages_received", c.messagesReceived.Load()))
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WarnContext(c.ctx, "unexpected websocket close",
					slog.String("error", err.Error()))
			}
			return
		}
		c.messagesReceived.Add(1)
		c.handle(message)
	}
}

func (c *Client) handle(data []byte) {
	var msg events.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.metrics.RecordMessage(c.ctx, "inbound", "invalid", len(data))
		c.replyError("", events.ErrCodeInvalidFrame, "frame is not valid JSON")
		return
	}
	c.metrics.RecordMessage(c.ctx, "inbound", string(msg.Type), len(data))

	switch msg.Type {
	case events.MessageTypeRegister:
		c.handleRegister(msg)
	case events.MessageTypeUnregister:
		c.service.UnregisterListener(c.ctx, c)
	case events.MessageTypeGetSecurityPolicy:
		c.handleGetPolicy(msg)
	case events.MessageTypeHeartbeat:
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		c.reply(events.NewServerMessage(events.MessageTypeHeartbeatAck))
	default:
		c.replyError(msg.RequestID, events.ErrCodeUnsupportedType,
			fmt.Sprintf("unsupported message type %q", msg.Type))
	}
}

func (c *Client) handleRegister(msg events.ClientMessage) {
	req := api.RegisterRequest{
		ApplicationID:    msg.ApplicationID,
		SubscriptionType: msg.SubscriptionType,
	}
	if err := c.validate.Struct(req); err != nil {
		c.replyError(msg.RequestID, events.ErrCodeValidationFailed, err.Error())
		return
	}

	appID := uuid.MustParse(req.ApplicationID)
	kind, err := notify.ParseSubscriptionKind(req.SubscriptionType)
	if err != nil {
		c.replyError(msg.RequestID, events.ErrCodeValidationFailed, err.Error())
		return
	}

	ok := c.service.RegisterListener(c.ctx, appID, kind, c)

	resp := events.NewServerMessage(events.MessageTypeRegisterResult)
	resp.RequestID = msg.RequestID
	resp.Success = &ok
	c.reply(resp)
}

func (c *Client) handleGetPolicy(msg events.ClientMessage) {
	req := api.PolicyRequest{ApplicationID: msg.ApplicationID}
	if err := c.validate.Struct(req); err != nil {
		c.replyError(msg.RequestID, events.ErrCodeValidationFailed, err.Error())
		return
	}

	resp := events.NewServerMessage(events.MessageTypeSecurityPolicy)
	resp.RequestID = msg.RequestID
	resp.PolicyData = c.service.GetSecurityPolicy(c.ctx, uuid.MustParse(req.ApplicationID))
	c.reply(resp)
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
		c.logger.DebugContext(c.ctx, "websocket write pump stopped",
			slog.Int64("messages_sent", c.messagesSent.Load()))
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.WarnContext(c.ctx, "error writing websocket message",
					slog.String("error", err.Error()))
				return
			}
			c.messagesSent.Add(1)
			c.metrics.RecordMessage(c.ctx, "outbound", "server_message", len(message))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(c.ctx, "failed to send ping",
					slog.String("error", err.Error()))
				return
			}

		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) connectMessage() events.ServerMessage {
	msg := events.NewServerMessage(events.MessageTypeConnect)
	msg.ClientID = c.id
	msg.Version = events.ProtocolVersion
	return msg
}
