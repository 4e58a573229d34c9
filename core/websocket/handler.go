package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/wsgate/core/gateway"
	"github.com/dmitrymomot/wsgate/core/logger"
	"github.com/dmitrymomot/wsgate/core/session"
)

// Gateway is the connection lifecycle the handler drives.
type Gateway interface {
	Handshake(ctx context.Context, creds gateway.Credentials) (gateway.Identity, error)
	Bind(ctx context.Context, id gateway.Identity, sink gateway.Sink) (*gateway.Conn, error)
	HandleMessage(ctx context.Context, c *gateway.Conn, event string, data json.RawMessage) error
	Disconnect(ctx context.Context, c *gateway.Conn) error
}

// Credential sources: query parameters first, then headers.
const (
	SessionIDParam  = "sessionID"
	UserIDParam     = "userID"
	SessionIDHeader = "X-Session-ID"
	UserIDHeader    = "X-User-ID"
)

// Handler upgrades HTTP requests to websocket connections bound through a Gateway.
type Handler struct {
	gw             Gateway
	upgrader       websocket.Upgrader
	responseHeader http.Header
	cfg            Config
	logger         *slog.Logger

	mu       sync.Mutex
	clients  map[*client]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

// Option configures a Handler.
type Option func(*Handler)

func WithReadBuffer(size int) Option {
	return func(h *Handler) { h.upgrader.ReadBufferSize = size }
}

func WithWriteBuffer(size int) Option {
	return func(h *Handler) { h.upgrader.WriteBufferSize = size }
}

func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(h *Handler) { h.upgrader.HandshakeTimeout = timeout }
}

// WithOriginCheck replaces the origin policy.
func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// WithAllowedOrigins accepts upgrades only from the listed origins.
// A single "*" allows any origin. Empty keeps the same-origin default.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) {
		if len(origins) == 0 {
			return
		}
		h.upgrader.CheckOrigin = originChecker(origins)
	}
}

func WithAllowAnyOrigin() Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
}

func WithUpgradeHeaders(header http.Header) Option {
	return func(h *Handler) { h.responseHeader = header }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.cfg.WriteTimeout = d
		}
	}
}

// WithKeepalive sets the ping interval and how long to wait for a pong.
func WithKeepalive(ping, pong time.Duration) Option {
	return func(h *Handler) {
		if ping > 0 {
			h.cfg.PingInterval = ping
		}
		if pong > 0 {
			h.cfg.PongTimeout = pong
		}
	}
}

func WithMaxMessageSize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.cfg.MaxMessageSize = n
		}
	}
}

// WithSendQueue sets the per-connection outbound queue length.
func WithSendQueue(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.cfg.SendQueueSize = n
		}
	}
}

// WithMessageRate limits inbound frames per connection to a burst of burst,
// refilled by rate every interval. Frames over the limit are answered with
// an error frame and dropped.
func WithMessageRate(burst, rate int, interval time.Duration) Option {
	return func(h *Handler) {
		h.cfg.MessageBurst = burst
		h.cfg.MessageRate = rate
		h.cfg.MessageInterval = interval
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler creates a websocket handler with DefaultConfig.
func NewHandler(gw Gateway, opts ...Option) *Handler {
	cfg := DefaultConfig()
	h := &Handler{
		gw:  gw,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:  logger.Discard(),
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewHandlerFromConfig creates a handler from Config. Options override config values.
func NewHandlerFromConfig(gw Gateway, cfg Config, opts ...Option) *Handler {
	base := []Option{
		WithReadBuffer(cfg.ReadBufferSize),
		WithWriteBuffer(cfg.WriteBufferSize),
		WithHandshakeTimeout(cfg.HandshakeTimeout),
		WithWriteTimeout(cfg.WriteTimeout),
		WithKeepalive(cfg.PingInterval, cfg.PongTimeout),
		WithMaxMessageSize(cfg.MaxMessageSize),
		WithSendQueue(cfg.SendQueueSize),
		WithAllowedOrigins(cfg.AllowedOrigins...),
		WithMessageRate(cfg.MessageBurst, cfg.MessageRate, cfg.MessageInterval),
	}
	h := NewHandler(gw, append(base, opts...)...)
	if cfg.RetryAfter > 0 {
		h.cfg.RetryAfter = cfg.RetryAfter
	}
	return h
}

// ServeHTTP runs the handshake, upgrades, binds and serves the connection
// until either side closes it. Handshake failures are plain HTTP errors; a
// bind failure after the upgrade closes the socket with 1013 (try again later).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !websocket.IsWebSocketUpgrade(r) {
		h.writeError(w, http.StatusBadRequest, ErrUpgradeRequired)
		return
	}
	if h.upgrader.CheckOrigin != nil && !h.upgrader.CheckOrigin(r) {
		h.writeError(w, http.StatusForbidden, ErrOriginNotAllowed)
		return
	}

	cl := newClient(h.cfg.SendQueueSize)
	if !h.register(cl) {
		h.writeError(w, http.StatusServiceUnavailable, ErrShuttingDown)
		return
	}
	defer h.unregister(cl)

	id, err := h.gw.Handshake(ctx, credentials(r))
	if err != nil {
		h.handshakeError(w, r, err)
		return
	}

	log := h.logger.With(
		logger.UserID(id.UserID),
		logger.RemoteAddr(r.RemoteAddr),
	)

	// Bind only after the upgrade: a refused upgrade must not join, persist
	// or announce anything. Upgrade writes its own HTTP error.
	ws, err := h.upgrader.Upgrade(w, r, h.responseHeader)
	if err != nil {
		log.DebugContext(ctx, "websocket upgrade refused", logger.Error(err))
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ws, cl, log)
	}()

	conn, err := h.gw.Bind(ctx, id, cl)
	if err != nil {
		log.WarnContext(ctx, "bind failed after upgrade", logger.Error(err))
		cl.close(websocket.CloseTryAgainLater, bindFailureReason(err))
		<-writerDone
		_ = ws.Close()
		return
	}
	log = log.With(logger.ConnID(conn.ID()))

	h.readPump(ctx, ws, cl, conn, log)

	cl.close(websocket.CloseNormalClosure, "")
	<-writerDone
	_ = ws.Close()

	if cl.slow.Load() {
		log.WarnContext(ctx, "closed slow consumer", logger.Error(ErrSlowConsumer))
	}
	h.disconnect(ctx, conn, log)
}

func bindFailureReason(err error) string {
	if errors.Is(err, session.ErrStoreUnavailable) {
		return session.ErrStoreUnavailable.Error()
	}
	return "internal error"
}

func (h *Handler) disconnect(ctx context.Context, conn *gateway.Conn, log *slog.Logger) {
	if err := h.gw.Disconnect(ctx, conn); err != nil {
		log.WarnContext(ctx, "disconnect cleanup incomplete", logger.Error(err))
	}
}

func (h *Handler) readPump(ctx context.Context, ws *websocket.Conn, cl *client, conn *gateway.Conn, log *slog.Logger) {
	ws.SetReadLimit(h.cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})
	limit := newBucket(h.cfg.MessageBurst, h.cfg.MessageRate, h.cfg.MessageInterval)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !cl.closed() {
				log.DebugContext(ctx, "websocket read failed", logger.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if !limit.allow(time.Now()) {
			h.reject(cl, "rate limit exceeded")
			continue
		}

		f, err := decodeFrame(data)
		if err != nil || f.Event == "" {
			h.reject(cl, "malformed frame")
			continue
		}

		// Errors are already reported to the client by the gateway.
		_ = h.gw.HandleMessage(ctx, conn, f.Event, f.Data)
	}
}

func (h *Handler) reject(cl *client, reason string) {
	payload, _ := json.Marshal(gateway.ErrorInfo{Message: reason})
	_ = cl.Send(gateway.EventError, payload)
}

func (h *Handler) writePump(ws *websocket.Conn, cl *client, log *slog.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		// Unblocks the read pump.
		_ = ws.Close()
	}()

	for {
		select {
		case frame := <-cl.send:
			if err := h.write(ws, websocket.TextMessage, frame); err != nil {
				log.Debug("websocket write failed", logger.Error(err))
				cl.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := h.write(ws, websocket.PingMessage, nil); err != nil {
				cl.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-cl.done:
			if cl.closeCode == websocket.CloseGoingAway {
				h.flush(ws, cl)
			}
			if cl.closeCode != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(cl.closeCode, cl.closeReason)
				_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteTimeout))
			}
			return
		}
	}
}

// flush writes frames still queued at shutdown.
func (h *Handler) flush(ws *websocket.Conn, cl *client) {
	for {
		select {
		case frame := <-cl.send:
			if err := h.write(ws, websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *Handler) write(ws *websocket.Conn, messageType int, data []byte) error {
	if err := ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
		return err
	}
	return ws.WriteMessage(messageType, data)
}

// Len returns the number of connections currently served.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown refuses new upgrades, closes every connection with "going away"
// and waits until their disconnect handling has finished or ctx expires.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shutdown = true
	for cl := range h.clients {
		cl.close(websocket.CloseGoingAway, "server shutting down")
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) register(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return false
	}
	h.clients[cl] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) unregister(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
	h.wg.Done()
}

func (h *Handler) handshakeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gateway.ErrHandshakeRejected):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, session.ErrStoreUnavailable):
		w.Header().Set("Retry-After", strconv.Itoa(int(h.cfg.RetryAfter.Seconds())))
		h.writeError(w, http.StatusServiceUnavailable, session.ErrStoreUnavailable)
	default:
		h.logger.ErrorContext(r.Context(), "handshake failed", logger.RemoteAddr(r.RemoteAddr), logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, errors.New(http.StatusText(http.StatusInternalServerError)))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func credentials(r *http.Request) gateway.Credentials {
	q := r.URL.Query()
	creds := gateway.Credentials{
		SessionID: q.Get(SessionIDParam),
		UserID:    q.Get(UserIDParam),
	}
	if creds.SessionID == "" {
		creds.SessionID = r.Header.Get(SessionIDHeader)
	}
	if creds.UserID == "" {
		creds.UserID = r.Header.Get(UserIDHeader)
	}
	creds.SessionID = strings.TrimSpace(creds.SessionID)
	creds.UserID = strings.TrimSpace(creds.UserID)
	return creds
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			allowed[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}
