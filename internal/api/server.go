package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"presenceboard/internal/dispatch"
	"presenceboard/pkg/types"
)

// Narrow local interfaces keep the HTTP layer decoupled from the concrete
// roster, dispatcher and registry implementations.
type RosterProvider interface {
	OnlineTeachers(ctx context.Context) []types.TeacherInfo
}

type Notifier interface {
	Notify(targetUserID string, payload json.RawMessage) (int, error)
}

type StatsProvider interface {
	Stats() map[string]int
}

// Server is the HTTP surface: the dual websocket/query endpoint, the push
// endpoint, and liveness. No business logic lives here, only HTTP handling
// and JSON serialization.
type Server struct {
	roster     RosterProvider
	dispatcher Notifier
	registry   StatsProvider
	wsHandler  http.HandlerFunc
	router     *http.ServeMux
	logger     *zap.Logger
}

// NewServer creates the API server and sets up its routes. wsHandler
// receives /ws requests that carry a websocket upgrade.
func NewServer(roster RosterProvider, dispatcher Notifier, registry StatsProvider, wsHandler http.HandlerFunc, logger *zap.Logger) *Server {
	s := &Server{
		roster:     roster,
		dispatcher: dispatcher,
		registry:   registry,
		wsHandler:  wsHandler,
		router:     http.NewServeMux(),
		logger:     logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// /ws is not wrapped in the JSON middleware: upgrade responses must not
	// carry a content type.
	s.router.Handle("/ws", s.corsMiddleware(http.HandlerFunc(s.handleWS)))
	s.router.Handle("/notify", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleNotify))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleHealth))))
	s.router.Handle("/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRoot))))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response types for JSON serialization
type NotifyRequest struct {
	TeacherID string          `json:"teacher_id"`
	Data      json.RawMessage `json:"data"`
}

type NotifyResponse struct {
	OK        bool `json:"ok"`
	Delivered int  `json:"delivered"`
}

type NotifyErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Service     string         `json:"service"`
	Connections map[string]int `json:"connections,omitempty"`
}

// handleWS serves the shared /ws endpoint: upgrade requests become duplex
// connections, plain GETs are roster queries.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.wsHandler(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.sendErrorEvent(w, http.StatusMethodNotAllowed, "Invalid request")
		return
	}

	if r.URL.Query().Get("type") != "list_teachers" {
		s.sendErrorEvent(w, http.StatusBadRequest, "Invalid request")
		return
	}

	teachers := s.roster.OnlineTeachers(r.Context())
	if err := json.NewEncoder(w).Encode(types.TeachersOnlineEvent{
		Type:     types.EventTypeTeachersOnline,
		Teachers: teachers,
	}); err != nil {
		s.logger.Warn("failed to encode roster response", zap.Error(err))
	}
}

// handleNotify accepts a push from the external event source and fans it
// out to the target's live channels.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		s.sendNotifyError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendNotifyError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	delivered, err := s.dispatcher.Notify(req.TeacherID, req.Data)
	if err != nil {
		if errors.Is(err, dispatch.ErrMissingTeacherID) || errors.Is(err, dispatch.ErrMissingPayload) {
			s.sendNotifyError(w, http.StatusBadRequest, "teacher_id and data are required")
			return
		}
		s.logger.Error("notify failed", zap.String("teacher_id", req.TeacherID), zap.Error(err))
		s.sendNotifyError(w, http.StatusInternalServerError, "delivery failed")
		return
	}

	if err := json.NewEncoder(w).Encode(NotifyResponse{OK: true, Delivered: delivered}); err != nil {
		s.logger.Warn("failed to encode notify response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Service: "presenceboard",
	}
	if s.registry != nil {
		response.Connections = s.registry.Stats()
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Warn("failed to encode health response", zap.Error(err))
	}
}

// handleRoot serves the bare liveness payload on / and rejects everything
// the mux falls through to.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.sendErrorEvent(w, http.StatusNotFound, "Not found")
		return
	}

	if err := json.NewEncoder(w).Encode(HealthResponse{
		Status:  "ok",
		Service: "presenceboard",
	}); err != nil {
		s.logger.Warn("failed to encode liveness response", zap.Error(err))
	}
}

func (s *Server) sendErrorEvent(w http.ResponseWriter, code int, message string) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(types.ErrorEvent{
		Type:    types.EventTypeError,
		Message: message,
	})
}

func (s *Server) sendNotifyError(w http.ResponseWriter, code int, message string) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(NotifyErrorResponse{OK: false, Error: message})
}

// corsMiddleware mirrors the permissive policy of the frontend deployments
// this backend serves.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}
