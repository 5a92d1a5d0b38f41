// Package api is the HTTP front door: chat over JSON and websocket, plus a
// health check.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/joebot/toolbot/internal/agent"
	"github.com/joebot/toolbot/internal/errors"
)

// ChatService answers one user message within a session.
type ChatService interface {
	ProcessMessage(ctx context.Context, message, sessionID string) (*agent.ChatResponse, error)
}

// ChatRequest is the body of POST /api/chat and of each websocket frame.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrorResponse is returned when a message could not be processed.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// Options configures a Server.
type Options struct {
	// AllowedOrigins lists CORS origins. Empty or "*" allows any origin.
	AllowedOrigins []string
	// Health is checked by GET /api/health when set.
	Health func(ctx context.Context) error
	// RequestTimeout bounds one chat request; zero means no limit.
	RequestTimeout time.Duration
}

// Server routes HTTP requests to a ChatService.
type Server struct {
	chat ChatService
	opts Options
}

// NewServer creates a Server.
func NewServer(chat ChatService, opts Options) *Server {
	return &Server{chat: chat, opts: opts}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/api/health", s.handleHealth)
	r.Post("/api/chat", s.handleChat)
	r.Get("/api/chat/ws", s.handleChatWS)
	return r
}

func (s *Server) corsOrigins() []string {
	if allowAny(s.opts.AllowedOrigins) {
		return []string{"*"}
	}
	return s.opts.AllowedOrigins
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: "message is required"})
		return
	}

	resp, errResp := s.process(r.Context(), req)
	if errResp != nil {
		writeJSON(w, http.StatusInternalServerError, errResp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// process runs one chat request and converts failures to the error body.
func (s *Server) process(ctx context.Context, req ChatRequest) (*agent.ChatResponse, *ErrorResponse) {
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	resp, err := s.chat.ProcessMessage(ctx, req.Message, req.SessionID)
	if err != nil {
		kind := errors.KindOf(err)
		slog.Error("Error processing chat message", "kind", kind, "session", req.SessionID, "err", err)
		return nil, &ErrorResponse{
			Error:   "Failed to process message",
			Message: err.Error(),
			Kind:    kind.String(),
		}
	}
	return resp, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func allowAny(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// originHosts converts CORS origins to the host patterns the websocket
// handshake checks.
func originHosts(origins []string) []string {
	if allowAny(origins) {
		return []string{"*"}
	}
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		} else {
			hosts = append(hosts, o)
		}
	}
	return hosts
}
