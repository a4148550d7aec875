package client

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"evdash/internal/protocol"
	"evdash/internal/things"
)

// responseHandler completes a correlated request of one kind.
type responseHandler func(env *protocol.Envelope)

// eventHandler consumes one notification payload.
type eventHandler func(payload json.RawMessage)

// shapeHandler routes a legacy untyped push by payload shape. Returns whether
// it consumed the payload.
type shapeHandler func(payload json.RawMessage) bool

// Router decides for every inbound envelope whether it completes a pending
// request, matches a known notification, or reports an authentication
// failure, and dispatches accordingly. Dispatch order: correlation by
// requestId, then event name (case-insensitive), then payload shape, then
// the unauthenticated escalation.
type Router struct {
	logger      *zap.Logger
	pending     *PendingTable
	responses   map[string]responseHandler
	events      map[string]eventHandler
	shapes      []shapeHandler
	onAuthError func(reason string)
}

// NewRouter builds an empty router over the given pending table.
func NewRouter(pending *PendingTable, onAuthError func(string), logger *zap.Logger) *Router {
	return &Router{
		logger:      logger,
		pending:     pending,
		responses:   make(map[string]responseHandler),
		events:      make(map[string]eventHandler),
		onAuthError: onAuthError,
	}
}

// HandleResponse registers the handler completing requests of the given kind.
func (r *Router) HandleResponse(kind string, handler responseHandler) {
	r.responses[strings.ToLower(kind)] = handler
}

// HandleEvent registers the handler for a notification event name.
func (r *Router) HandleEvent(event string, handler eventHandler) {
	r.events[strings.ToLower(event)] = handler
}

// HandleShape appends a payload-shape fallback for untyped pushes.
func (r *Router) HandleShape(handler shapeHandler) {
	r.shapes = append(r.shapes, handler)
}

// Dispatch routes one raw inbound frame. Unparseable frames are logged and
// dropped; they never affect state.
func (r *Router) Dispatch(raw []byte) {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		r.logger.Warn("dropping unparseable message", zap.Error(err))
		return
	}

	if env.IsResponse() {
		if kind, ok := r.pending.Take(env.RequestID); ok {
			handler, known := r.responses[kind]
			if !known {
				r.logger.Warn("no handler for pending request kind", zap.String("kind", kind))
				return
			}
			handler(env)
			return
		}
	}

	if env.Event != "" {
		if handler, ok := r.events[strings.ToLower(env.Event)]; ok {
			handler(env.Payload)
			return
		}
	}

	if len(env.Payload) > 0 {
		for _, handler := range r.shapes {
			if handler(env.Payload) {
				return
			}
		}
	}

	if env.ReportsUnauthenticated() {
		r.onAuthError(protocol.ErrUnauthenticated)
		return
	}

	r.logger.Debug("unhandled message", zap.String("event", env.Event), zap.String("request_id", env.RequestID))
}

// decodeThing accepts a notification payload that is either a raw key string
// or an entity object.
func decodeThing(payload json.RawMessage) (any, bool) {
	var key string
	if err := json.Unmarshal(payload, &key); err == nil {
		return key, key != ""
	}
	var thing things.Thing
	if err := json.Unmarshal(payload, &thing); err == nil {
		return thing, true
	}
	return nil, false
}
