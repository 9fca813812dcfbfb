package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jinzhu/copier"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hupe1980/relaymesh/logging"
	"github.com/hupe1980/relaymesh/runner"
	"github.com/hupe1980/relaymesh/store"
)

// DefaultOrigin is allowed by CORS and the WebSocket upgrader when no
// origins are configured.
const DefaultOrigin = "http://localhost:3000"

// DefaultSessionLimit bounds GET /sessions.
const DefaultSessionLimit = 50

// wsApology is sent over the WebSocket when a turn fails.
const wsApology = "I apologize, but I encountered an error processing your message."

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string

	// AllowedOrigins lists origins accepted by CORS and the WebSocket
	// upgrader. "*" allows any origin.
	AllowedOrigins []string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger logging.Logger
}

// Server is the HTTP front of a Runner.
type Server struct {
	runner   *runner.Runner
	hub      *Hub
	opts     Options
	logger   logging.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// New creates a server. hub must be the Sender the runner delivers to.
func New(r *runner.Runner, hub *Hub, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:           ":8000",
		AllowedOrigins: []string{DefaultOrigin},
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   120 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		runner: r,
		hub:    hub,
		opts:   opts,
		logger: logging.OrNoOp(opts.Logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowed(origin)
		},
	}
	return s
}

// Handler returns the instrumented route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /end-session", s.handleEndSession)
	mux.HandleFunc("GET /sessions", s.handleSessionList)
	mux.HandleFunc("GET /sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("GET /ws/{session_id}", s.handleWebSocket)

	return otelhttp.NewHandler(s.withLogging(s.withCORS(mux)), "relaymesh.http")
}

// Start serves until the server is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	s.logger.Info("server.starting", "addr", s.opts.Addr)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and closes all WebSocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type chatRequest struct {
	Message        string `json:"message"`
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatResponse struct {
	Status            string   `json:"status"`
	SessionID         string   `json:"session_id"`
	Message           string   `json:"message"`
	Sources           []string `json:"sources"`
	FollowUpQuestions []string `json:"follow_up_questions"`
	ConversationID    string   `json:"conversation_id"`
}

type errorResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
	ErrorID   string `json:"error_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type messageView struct {
	Role              string    `json:"role"`
	Content           string    `json:"content"`
	Timestamp         time.Time `json:"timestamp"`
	Sources           []string  `json:"sources,omitempty"`
	FollowUpQuestions []string  `json:"follow_up_questions,omitempty"`
}

type sessionView struct {
	ID           string        `json:"id"`
	FirstMessage string        `json:"first_message"`
	Timestamp    time.Time     `json:"timestamp"`
	LastUpdated  time.Time     `json:"last_updated"`
	MessageCount int           `json:"message_count"`
	Messages     []messageView `json:"messages,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Status: "error", Message: "invalid request body", ErrorType: "invalid_request",
		})
		return
	}

	reply, err := s.runner.Run(r.Context(), runner.Request{
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		UserInput:      req.Message,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		s.writeTurnError(w, req.SessionID, err)
		return
	}

	var resp chatResponse
	if err := copier.Copy(&resp, &reply); err != nil {
		s.writeTurnError(w, reply.SessionID, err)
		return
	}
	resp.Status = "success"
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeTurnError(w http.ResponseWriter, sessionID string, err error) {
	if errors.Is(err, runner.ErrTurnInProgress) {
		s.writeJSON(w, http.StatusConflict, errorResponse{
			Status:    "error",
			Message:   "A message for this conversation is already being processed.",
			ErrorType: "conflict",
			SessionID: sessionID,
		})
		return
	}

	resp := errorResponse{
		Status:    "error",
		Message:   runner.Apology,
		ErrorType: "internal_error",
		SessionID: sessionID,
	}
	var terr *runner.TurnError
	if errors.As(err, &terr) {
		resp.ErrorType = "turn_error"
		resp.ErrorID = terr.ID
		resp.SessionID = terr.SessionID
	} else {
		resp.ErrorID = uuid.NewString()
		s.logger.Error("server.chat.failed", "error_id", resp.ErrorID, "error", err)
	}
	s.writeJSON(w, http.StatusInternalServerError, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"connections": s.hub.Connections(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Status: "error", Message: "session_id is required", ErrorType: "invalid_request",
		})
		return
	}

	ok, err := s.runner.EndSession(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("server.end_session.failed", "session_id", sessionID, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Status: "error", Message: "Failed to end session", ErrorType: "internal_error",
		})
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "not_found", "message": "Session not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Session ended"})
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		userID = runner.DefaultUserID
	}
	limit := DefaultSessionLimit
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}

	list, err := s.runner.ListSessions(r.Context(), userID, limit)
	if err != nil {
		s.logger.Error("server.sessions.failed", "user_id", userID, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Status: "error", Message: "Failed to load sessions", ErrorType: "internal_error",
		})
		return
	}

	views := make([]sessionView, 0, len(list))
	for _, sum := range list {
		views = append(views, sessionView{
			ID:           sum.ID,
			FirstMessage: sum.FirstMessage,
			Timestamp:    sum.Timestamp,
			LastUpdated:  sum.LastUpdated,
			MessageCount: len(sum.Messages),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "success", "sessions": views})
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sum, err := s.runner.Session(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{
			Status: "not_found", Message: "Session not found", ErrorType: "not_found",
		})
		return
	}
	if err != nil {
		s.logger.Error("server.session.failed", "session_id", id, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Status: "error", Message: "Failed to load session", ErrorType: "internal_error",
		})
		return
	}

	var v sessionView
	if err := copier.Copy(&v, &sum); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Status: "error", Message: "Failed to load session", ErrorType: "internal_error",
		})
		return
	}
	v.MessageCount = len(sum.Messages)
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "success", "session": v})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("server.write_failed", "error", err)
	}
}

func (s *Server) allowed(origin string) bool {
	return slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.allowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			return
		}
		s.logger.Info("server.request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
