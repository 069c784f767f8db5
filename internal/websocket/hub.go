package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"policyhub/internal/config"
	"policyhub/internal/infrastructure"
)

// Hub maintains the set of open subscriber connections. Membership changes
// are serialized through the Run loop.
type Hub struct {
	// Registered clients
	clients map[*Client]struct{}

	// Register requests from new connections
	register chan *Client

	// Unregister requests from closing connections
	unregister chan *Client

	mu sync.RWMutex

	service  PolicyService
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	validate *validator.Validate
	metrics  *OTelMetrics
	logger   *slog.Logger

	// Control
	quit     chan struct{}
	done     chan struct{}
	pumps    sync.WaitGroup
	running  bool
	stopOnce sync.Once
}

// HubOptions configures a Hub.
type HubOptions struct {
	Config         config.WebSocketConfig
	AllowedOrigins []string
	Metrics        *OTelMetrics
	Logger         *slog.Logger
}

// NewHub creates a hub serving subscriber connections for service.
func NewHub(service PolicyService, opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	cfg := opts.Config
	def := config.Default().WebSocket
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = (cfg.PongWait * 9) / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	h := &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		service:    service,
		cfg:        cfg,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		metrics:    opts.Metrics,
		logger:     logger.With(slog.String("component", "websocket.hub")),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// Start starts the hub loop. Subsequent calls do nothing.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	go h.Run()
}

// Run runs the membership loop until Stop.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[*Client]struct{})
			h.mu.Unlock()

			for client := range clients {
				client.close()
			}
			h.logger.Info("hub shutting down", slog.Int("closed_clients", len(clients)))
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()

			h.metrics.RecordConnection(client.ctx)
			h.logger.InfoContext(client.ctx, "client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))

			if data, err := json.Marshal(client.connectMessage()); err == nil {
				select {
				case client.send <- data:
				default:
					h.logger.WarnContext(client.ctx, "failed to send connect message, client buffer full",
						slog.String("client_id", client.id))
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			delete(h.clients, client)
			count := len(h.clients)
			h.mu.Unlock()

			client.close()
			if !ok {
				continue
			}

			h.metrics.RecordDisconnection(client.ctx, time.Since(client.connectedAt))
			h.logger.InfoContext(client.ctx, "client unregistered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.Duration("connection_duration", time.Since(client.connectedAt)))
		}
	}
}

// ServeWS upgrades the request and starts serving the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		return
	}

	if h.Attach(NewConnectionWrapper(conn), infrastructure.GetTraceID(r.Context())) == nil {
		conn.Close()
	}
}

// Attach registers conn and starts its pumps. It returns nil once the hub is stopping.
func (h *Hub) Attach(conn Connection, traceID string) *Client {
	client := newClient(h, conn, traceID)

	select {
	case h.register <- client:
	case <-h.quit:
		client.close()
		return nil
	}

	h.pumps.Add(2)
	go func() {
		defer h.pumps.Done()
		client.WritePump()
	}()
	go func() {
		defer h.pumps.Done()
		client.ReadPump()
	}()
	return client
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
		c.close()
	}
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop closes every connection and waits for their pumps to exit or ctx to end.
func (h *Hub) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.quit) })

	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if running {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	pumpsDone := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(pumpsDone)
	}()

	select {
	case <-pumpsDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// originChecker allows requests without an Origin header, and browser
// requests whose origin is listed. "*" allows every origin.
func originChecker(allowed []string) func(*http.Request) bool {
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}
