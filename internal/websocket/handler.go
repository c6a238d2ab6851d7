package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"presenceboard/internal/config"
	"presenceboard/internal/presence"
	"presenceboard/internal/session"
	"presenceboard/pkg/interfaces"
	"presenceboard/pkg/types"
)

// Handler owns the duplex endpoint: it upgrades requests, drives each
// connection's session state machine through the inbound protocol, and
// tears down registry state when the connection ends.
type Handler struct {
	registry  *Registry
	presence  *presence.Registry
	roster    *presence.Roster
	verifier  interfaces.TokenVerifier
	directory interfaces.ProfileDirectory
	cfg       *config.WebSocketConfig
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	// trackMu orders the paired presence/connection-registry mutations for
	// an identity. Without it, a teardown interleaved with a concurrent
	// authenticate could remove the presence entry of a teacher who still
	// has a registered channel.
	trackMu sync.Mutex
}

// NewHandler creates a websocket handler with its dependencies injected.
func NewHandler(
	registry *Registry,
	presenceRegistry *presence.Registry,
	roster *presence.Roster,
	verifier interfaces.TokenVerifier,
	directory interfaces.ProfileDirectory,
	cfg *config.WebSocketConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		registry:  registry,
		presence:  presenceRegistry,
		roster:    roster,
		verifier:  verifier,
		directory: directory,
		cfg:       cfg,
		logger:    logger,
		upgrader: websocket.Upgrader{
			// The browser clients are served from other origins; origin
			// policy is handled by the deployment, not the backend.
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// HandleWebSocket upgrades the request and starts the per-connection
// goroutine. Connections start unauthenticated; no query parameters are
// required, the protocol authenticates in-band.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(wsConn, h.cfg.BufferSize, h.cfg.WriteTimeout)
	sess := session.New()

	go h.serveConnection(conn, sess)
}

// serveConnection is the read pump: one goroutine per connection, messages
// processed strictly in arrival order. It also runs the control-frame
// heartbeat that detects silently dead peers.
func (h *Handler) serveConnection(conn *Connection, sess *session.Session) {
	defer h.teardown(conn, sess)

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		h.logger.Warn("failed to set read deadline", zap.Error(err))
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.cfg.WriteTimeout)
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("channel", conn.ID()), zap.Error(err))
			}
			return
		}

		if messageType == websocket.TextMessage {
			h.handleMessage(conn, sess, data)
		}
	}
}

// teardown closes the session exactly once and unwinds shared state for
// authenticated teachers.
func (h *Handler) teardown(conn *Connection, sess *session.Session) {
	userID, role, wasAuthenticated := sess.Close()

	if wasAuthenticated && role == types.RoleTeacher {
		h.releaseTeacher(userID, conn)
	}

	_ = conn.Close()
}

// registerTeacher records presence and dispatch reachability for an
// authenticated teacher channel, as one atomic step per identity.
func (h *Handler) registerTeacher(userID, fullName string, department, designation *string, conn *Connection) {
	h.trackMu.Lock()
	defer h.trackMu.Unlock()

	h.presence.Upsert(userID, fullName, department, designation)
	h.registry.Register(userID, conn)

	h.logger.Info("teacher online",
		zap.String("user_id", userID),
		zap.String("channel", conn.ID()))
}

// releaseTeacher unregisters the channel and, under the same lock as
// registerTeacher, removes the presence entry only when no channels remain.
// Presence is tied to "at least one live connection".
func (h *Handler) releaseTeacher(userID string, conn *Connection) {
	h.trackMu.Lock()
	defer h.trackMu.Unlock()

	remaining := h.registry.Unregister(userID, conn)
	if remaining == 0 {
		h.presence.Remove(userID)
		h.logger.Info("teacher offline", zap.String("user_id", userID))
	} else {
		h.logger.Debug("teacher channel closed, others remain",
			zap.String("user_id", userID),
			zap.Int("remaining", remaining))
	}
}

// handleMessage dispatches one inbound message by its type tag. Unknown
// and malformed messages are ignored; they never change session state.
func (h *Handler) handleMessage(conn *Connection, sess *session.Session, data []byte) {
	var msg types.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Debug("ignoring malformed message", zap.String("channel", conn.ID()), zap.Error(err))
		return
	}

	// The token never reaches the logs.
	h.logger.Debug("inbound message",
		zap.String("channel", conn.ID()),
		zap.String("type", msg.Type))

	switch msg.Type {
	case types.MessageTypeAuthenticate:
		h.handleAuthenticate(conn, sess, msg.Token)

	case types.MessageTypeListTeachers:
		// Read-only roster query, deliberately allowed in any state.
		h.handleListTeachers(conn)

	case types.MessageTypePing:
		if sess.IsAuthenticatedTeacher() {
			h.presence.Touch(sess.UserID())
		}

	case types.MessageTypeSubscribeAchievements:
		// Reserved extension point; accepted without effect.

	default:
		h.logger.Debug("ignoring unknown message type",
			zap.String("channel", conn.ID()),
			zap.String("type", msg.Type))
	}
}

// handleAuthenticate verifies the token, resolves the profile, and on
// success moves the session to authenticated. Only teacher identities get a
// presence entry and a registered channel; other roles authenticate but
// stay untracked for dispatch.
func (h *Handler) handleAuthenticate(conn *Connection, sess *session.Session, token string) {
	if sess.State() != session.StateUnauthenticated {
		h.logger.Debug("ignoring authenticate in state",
			zap.String("channel", conn.ID()),
			zap.Stringer("state", sess.State()))
		return
	}

	if token == "" {
		h.sendError(conn, "Invalid token")
		return
	}

	// conn.ctx scopes the external calls to the connection's lifetime; the
	// verifier and directory apply their own timeouts on top.
	userID, err := h.verifier.VerifyToken(conn.ctx, token)
	if err != nil {
		h.logger.Info("authentication failed", zap.String("channel", conn.ID()), zap.Error(err))
		h.sendError(conn, "Invalid token")
		return
	}

	role := types.RoleStudent
	var profile types.Profile

	profiles, err := h.directory.Profiles(conn.ctx, []string{userID})
	if err != nil {
		h.logger.Warn("profile lookup failed, defaulting role",
			zap.String("user_id", userID),
			zap.Error(err))
	} else if p, exists := profiles[userID]; exists {
		profile = p
		if p.Role != "" {
			role = p.Role
		}
	}

	if err := sess.Authenticate(userID, role); err != nil {
		// Connection closed while the external calls were in flight; the
		// verification result is discarded.
		h.logger.Debug("discarding authentication result",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	if role == types.RoleTeacher {
		fullName := profile.FullName
		if fullName == "" {
			fullName = "Teacher"
		}
		h.registerTeacher(userID, fullName, profile.Department, profile.Designation, conn)
	}

	if err := conn.WriteJSON(types.AuthenticatedEvent{
		Type:   types.EventTypeAuthenticated,
		UserID: userID,
		Role:   role,
	}); err != nil {
		h.logger.Warn("failed to send authenticated event", zap.Error(err))
	}
}

func (h *Handler) handleListTeachers(conn *Connection) {
	teachers := h.roster.OnlineTeachers(conn.ctx)

	if err := conn.WriteJSON(types.TeachersOnlineEvent{
		Type:     types.EventTypeTeachersOnline,
		Teachers: teachers,
	}); err != nil {
		h.logger.Warn("failed to send roster", zap.Error(err))
	}
}

func (h *Handler) sendError(conn *Connection, message string) {
	if err := conn.WriteJSON(types.ErrorEvent{
		Type:    types.EventTypeError,
		Message: message,
	}); err != nil {
		h.logger.Warn("failed to send error event", zap.Error(err))
	}
}
