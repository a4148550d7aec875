package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const hubWriteTimeout = 10 * time.Second

// Hub serves the realtime channel: per-connection authenticate gate,
// request/response correlation and fleet notifications.
type Hub struct {
	logger   *zap.Logger
	tokens   *TokenService
	store    *Store
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*wsSession]struct{}
}

// NewHub builds the websocket hub.
func NewHub(tokens *TokenService, store *Store, logger *zap.Logger) *Hub {
	return &Hub{
		logger:   logger,
		tokens:   tokens,
		store:    store,
		sessions: make(map[*wsSession]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// wsSession is one client connection. mu guards writes and the auth flag:
// the read loop flips authenticated while Broadcast reads it concurrently.
type wsSession struct {
	ws *websocket.Conn

	mu            sync.Mutex
	authenticated bool
	username      string
}

func (s *wsSession) write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	return s.ws.WriteJSON(v)
}

func (s *wsSession) setAuthenticated(username string) {
	s.mu.Lock()
	s.authenticated = true
	s.username = username
	s.mu.Unlock()
}

func (s *wsSession) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

type wsRequest struct {
	RequestID string          `json:"requestId"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
}

// HandleWS upgrades the connection and runs its request loop.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	session := &wsSession{ws: ws}
	h.mu.Lock()
	h.sessions[session] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("client connected", zap.String("remote", r.RemoteAddr))
	h.readLoop(session)

	h.mu.Lock()
	delete(h.sessions, session)
	h.mu.Unlock()
	ws.Close()
	h.logger.Info("client disconnected", zap.String("remote", r.RemoteAddr))
}

func (h *Hub) readLoop(session *wsSession) {
	for {
		_, data, err := session.ws.ReadMessage()
		if err != nil {
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.logger.Warn("dropping unparseable request", zap.Error(err))
			continue
		}
		if req.RequestID == "" || req.Action == "" {
			h.logger.Warn("dropping incomplete request")
			continue
		}

		h.handle(session, req)
	}
}

func (h *Hub) handle(session *wsSession, req wsRequest) {
	action := strings.ToLower(req.Action)

	if action == "authenticate" {
		h.authenticate(session, req)
		return
	}

	if !session.isAuthenticated() {
		h.fail(session, req.RequestID, "unauthenticated")
		return
	}

	switch action {
	case "getchargers":
		h.succeed(session, req.RequestID, map[string]any{"chargers": h.store.Chargers()})
	case "getcars":
		h.succeed(session, req.RequestID, map[string]any{"cars": h.store.Cars()})
	case "getchargingsessions":
		var filter struct {
			CarID string `json:"carId"`
		}
		if len(req.Payload) > 0 {
			_ = json.Unmarshal(req.Payload, &filter)
		}
		h.succeed(session, req.RequestID, map[string]any{"sessions": h.store.Sessions(filter.CarID)})
	case "ping":
		h.succeed(session, req.RequestID, map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)})
	default:
		h.fail(session, req.RequestID, "unknownAction")
	}
}

func (h *Hub) authenticate(session *wsSession, req wsRequest) {
	var payload struct {
		Token string `json:"token"`
	}
	if len(req.Payload) > 0 {
		_ = json.Unmarshal(req.Payload, &payload)
	}

	claims, err := h.tokens.Validate(payload.Token)
	if err != nil {
		h.logger.Info("authenticate rejected", zap.Error(err))
		h.fail(session, req.RequestID, "unauthenticated")
		return
	}

	session.setAuthenticated(claims.Username)
	h.succeed(session, req.RequestID, map[string]any{"username": claims.Username})
	h.logger.Info("client authenticated", zap.String("username", claims.Username))
}

func (h *Hub) succeed(session *wsSession, requestID string, payload any) {
	reply := map[string]any{"requestId": requestID, "success": true, "payload": payload}
	if err := session.write(reply); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (h *Hub) fail(session *wsSession, requestID, code string) {
	reply := map[string]any{"requestId": requestID, "success": false, "error": code}
	if err := session.write(reply); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

// Broadcast pushes a notification to every authenticated client.
func (h *Hub) Broadcast(event string, payload any) {
	message := map[string]any{"event": event, "payload": payload}

	h.mu.Lock()
	targets := make([]*wsSession, 0, len(h.sessions))
	for session := range h.sessions {
		targets = append(targets, session)
	}
	h.mu.Unlock()

	for _, session := range targets {
		if !session.isAuthenticated() {
			continue
		}
		if err := session.write(message); err != nil {
			h.logger.Warn("failed to push notification", zap.String("event", event), zap.Error(err))
		}
	}
}
