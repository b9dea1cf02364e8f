// Package gateway exposes the orchestrator over HTTP (SSE) and WebSocket.
package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/courier/internal/config"
	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/hooks"
	"github.com/soyeahso/courier/internal/logging"
	"github.com/soyeahso/courier/internal/orchestrator"
	"github.com/soyeahso/courier/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

const (
	maxRequestBytes = 1 << 20
	wsWriteTimeout  = 10 * time.Second
)

// TurnHandler runs one chat turn.
type TurnHandler interface {
	Handle(ctx context.Context, req domain.ChatRequest, out orchestrator.Emitter) orchestrator.Outcome
}

// MessageRecorder schedules a message for persistence without blocking.
type MessageRecorder interface {
	Append(conversationID string, msg domain.Message)
}

// HistoryReader serves the conversation history route.
type HistoryReader interface {
	RecentHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

// AttachmentWriter records metadata from the upload step.
type AttachmentWriter interface {
	PutAttachment(ctx context.Context, conversationID string, meta domain.AttachmentMetadata) error
}

// Server is the courier HTTP + WebSocket server.
type Server struct {
	cfg     config.ServerConfig
	log     *logging.Logger
	clients *ClientRegistry
	version string

	turns       TurnHandler
	recorder    MessageRecorder
	recordUser  bool
	history     HistoryReader
	historyMax  int
	attachments AttachmentWriter
	agentNames  []string
	hooks       *hooks.Manager

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithRecorder records each user message before its turn runs.
func WithRecorder(r MessageRecorder) ServerOption {
	return func(s *Server) {
		s.recorder = r
		s.recordUser = true
	}
}

// WithHistory enables GET /orchestrator/conversations/{id}/messages.
// max caps the limit query parameter.
func WithHistory(h HistoryReader, max int) ServerOption {
	return func(s *Server) {
		s.history = h
		s.historyMax = max
	}
}

// WithAttachments enables POST /orchestrator/attachments.
func WithAttachments(a AttachmentWriter) ServerOption {
	return func(s *Server) {
		s.attachments = a
	}
}

// WithAgents lists the registered agents on the health route.
func WithAgents(names []string) ServerOption {
	return func(s *Server) {
		s.agentNames = names
	}
}

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// New creates a new gateway server.
func New(cfg config.ServerConfig, turns TurnHandler, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log.Sub("gateway"),
		clients:    NewClientRegistry(log.Sub("clients")),
		version:    version.Version,
		turns:      turns,
		historyMax: 200,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return isOriginAllowed(origin, allowed)
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins)
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	// WriteTimeout stays zero: chat responses are long-lived streams bounded
	// by the orchestrator's own ceiling.
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln = tls.NewListener(ln, tlsCfg)
		s.log.Info().Msg("TLS enabled")
	}

	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Strs("agents", s.agentNames).
		Msg("server ready")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventServerStart, map[string]any{
			"addr": ln.Addr().String(),
		})
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down server")
		if s.hooks != nil {
			s.hooks.Emit(context.Background(), hooks.EventServerStop, nil)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// recordUserMessage performs the caller's input-echo duty: the user's turn
// is queued before the agent's reply, so history keeps their order. The
// message id is stamped on req so the turn can skip its own entry.
func (s *Server) recordUserMessage(req *domain.ChatRequest) {
	if !s.recordUser || s.recorder == nil || req.Validate() != nil {
		return
	}
	req.MessageID = newMessageID()
	s.recorder.Append(req.ConversationID, domain.Message{
		ID:         req.MessageID,
		Role:       domain.RoleUser,
		UserID:     req.UserID,
		Content:    req.Message,
		Attachment: req.Attachment(),
		Timestamp:  time.Now().UTC(),
	})
}

// handleWebSocket upgrades HTTP to WebSocket and serves chat turns over it,
// one at a time per connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxRequestBytes)

	client := NewClient(conn, s.log.Sub("ws"))
	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(r.Context(), client)
}

type inbound struct {
	req domain.ChatRequest
	ok  bool
}

// readLoop runs a turn for each request frame until the client goes away.
// Frames are read on their own goroutine so a dropped connection cancels
// the turn in flight instead of going unnoticed until it ends.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan inbound, 1)
	go func() {
		defer close(frames)
		defer cancel()
		for {
			req, ok, err := client.ReadRequest()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
				} else {
					s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
				}
				return
			}
			select {
			case frames <- inbound{req: req, ok: ok}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for f := range frames {
		req := f.req
		out := client.Emitter(req.ConversationID)
		if !f.ok {
			if err := out.Send(domain.Fail(domain.ErrMalformedRequest, "")); err != nil {
				return
			}
			continue
		}

		s.recordUserMessage(&req)
		outcome := s.turns.Handle(ctx, req, out)
		if outcome.Disconnected || ctx.Err() != nil {
			return
		}
	}
}
