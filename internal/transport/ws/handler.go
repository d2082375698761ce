package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vyrodovalexey/speechrelay/internal/auth"
	"github.com/vyrodovalexey/speechrelay/internal/observability"
	"github.com/vyrodovalexey/speechrelay/internal/ratelimit"
	"github.com/vyrodovalexey/speechrelay/internal/relay"
)

const channelName = "ws"

// Handler authenticates, upgrades and serves relay WebSocket connections.
type Handler struct {
	authenticator *auth.Authenticator
	registry      *relay.Registry
	service       *relay.Service
	upgrader      websocket.Upgrader
	keyFunc       ratelimit.KeyFunc
	logger        observability.Logger
	metrics       *observability.Metrics

	rateLimitMessage string

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// HandlerOption is a functional option for configuring the Handler.
type HandlerOption func(*Handler)

// WithLogger sets the logger for the handler.
func WithLogger(logger observability.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics sets the metrics for the handler.
func WithMetrics(metrics *observability.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = metrics
	}
}

// WithKeyFunc sets how the rate limit key is derived from the handshake.
func WithKeyFunc(fn ratelimit.KeyFunc) HandlerOption {
	return func(h *Handler) {
		h.keyFunc = fn
	}
}

// WithCheckOrigin sets the origin check of the upgrader.
func WithCheckOrigin(fn func(r *http.Request) bool) HandlerOption {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = fn
	}
}

// NewHandler creates a Handler.
func NewHandler(
	authenticator *auth.Authenticator,
	registry *relay.Registry,
	service *relay.Service,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		authenticator: authenticator,
		registry:      registry,
		service:       service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		keyFunc: ratelimit.RemoteIPKeyFunc,
		logger:  observability.NopLogger(),
		conns:   make(map[*Conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	window := 5 * time.Second
	if limit := service.Limiter().GetLimit(); limit != nil {
		window = limit.Window
	}
	h.rateLimitMessage = RateLimitMessage(window)

	return h
}

// ServeHTTP implements http.Handler. It blocks until the connection ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if err := h.authenticator.Authenticate(query.Get(QueryKey)); err != nil {
		h.metrics.RecordAuth(false)
		h.logger.Debug("websocket authentication failed",
			observability.String("remote_addr", r.RemoteAddr),
		)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}
	h.metrics.RecordAuth(true)

	role := relay.ParseRole(query.Get(QueryType))
	source := h.keyFunc(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", observability.Error(err))
		return
	}

	c := newConn(uuid.NewString(), role, source, ws)
	h.admit(c)
	defer h.release(c)

	go c.writeLoop()

	h.readLoop(r.Context(), c)
}

func (h *Handler) admit(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.registry.Register(c.id, c.role, c)
	h.metrics.RecordConnection(c.role.String())

	h.logger.Info("client connected",
		observability.String("id", c.id),
		observability.String("role", c.role.String()),
		observability.Int("clients", h.registry.Count()),
	)
}

func (h *Handler) release(c *Conn) {
	h.registry.Unregister(c.id)
	c.Close()

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()

	h.metrics.RecordDisconnection(c.role.String())

	h.logger.Info("client disconnected",
		observability.String("id", c.id),
		observability.Int("clients", h.registry.Count()),
	)
}

func (h *Handler) readLoop(ctx context.Context, c *Conn) {
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed",
					observability.String("id", c.id),
					observability.Error(err),
				)
			}
			return
		}

		h.handleFrame(ctx, c, frame)
	}
}

func (h *Handler) handleFrame(ctx context.Context, c *Conn, frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		h.logger.Warn("ignoring malformed frame",
			observability.String("id", c.id),
			observability.Error(err),
		)
		return
	}

	switch env.Event {
	case EventSpeak:
		if c.role != relay.RoleSender {
			return
		}
		h.handleSpeak(ctx, c, env)
	default:
		h.logger.Debug("ignoring unknown event",
			observability.String("id", c.id),
			observability.String("event", env.Event),
		)
	}
}

// handleSpeak relays a sender's text. A payload that does not decode is
// treated as empty text, after the rate limit has been consumed.
func (h *Handler) handleSpeak(ctx context.Context, c *Conn, env *Envelope) {
	var payload SpeakPayload
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &payload)
	}

	result, err := h.service.Submit(ctx, c.source, payload.Text)

	event, message, outcome := EventSuccess, MessageSent, relay.OutcomeDelivered.String()
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrRateLimited):
		event, message, outcome = EventError, h.rateLimitMessage, "rate_limited"
	case errors.Is(err, relay.ErrEmptyText):
		event, message, outcome = EventError, MessageEmptyText, "empty_text"
	case errors.Is(err, relay.ErrNoRecipients):
		event, message, outcome = EventError, MessageNoSpeaker, relay.OutcomeNoRecipients.String()
	default:
		h.logger.Error("submit failed",
			observability.String("id", c.id),
			observability.Error(err),
		)
		event, message, outcome = EventError, MessageInternalErr, "error"
	}
	h.metrics.RecordSubmit(channelName, outcome)

	if err == nil {
		h.logger.Info("text relayed",
			observability.String("id", c.id),
			observability.Int("recipients", result.Count),
		)
	}

	if err := c.Emit(event, ReplyPayload{Message: message}); err != nil {
		h.logger.Debug("failed to reply to sender",
			observability.String("id", c.id),
			observability.Error(err),
		)
	}
}

// CloseAll closes every open connection. Connections unregister themselves
// as their read loops end.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Len returns the number of open connections.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
