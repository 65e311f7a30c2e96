package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/retrosoft-labs/retrosoft/internal/metrics"
	"go.uber.org/zap"
)

const (
	maxWebhookBody  = 5 << 20
	shutdownTimeout = 5 * time.Second
)

// Server is the webhook ingress and WebSocket fan-out.
type Server struct {
	hub      *Hub
	secret   []byte
	logger   *zap.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics enables client and webhook metrics and the /metrics route.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a server verifying webhooks with secret.
func NewServer(secret string, opts ...Option) (*Server, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	s := &Server{
		secret: []byte(secret),
		logger: zap.NewNop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Installed clients are not browsers; there is no origin to check.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger, s.metrics)
	return s, nil
}

// Hub returns the client hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWS)
	r.Post("/github-webhook", s.handleWebhook)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.hub.serve(newClient(conn))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.metrics.ObserveWebhook("malformed")
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"detail": "body too large"})
		return
	}

	if err := VerifySignature(s.secret, body, r.Header.Get(SignatureHeader)); err != nil {
		s.metrics.ObserveWebhook("rejected")
		s.logger.Warn("webhook rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Invalid signature"})
		return
	}

	if !json.Valid(body) {
		s.metrics.ObserveWebhook("malformed")
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON payload"})
		return
	}

	msg, err := json.Marshal(Message{Type: TypeUpdate, Data: body})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	n := s.hub.Broadcast(msg)
	s.metrics.ObserveWebhook("accepted")
	s.logger.Info("update broadcast",
		zap.String("event", r.Header.Get("X-GitHub-Event")),
		zap.Int("clients", n))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": s.hub.Count()})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully and disconnects all clients.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("notifier listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
