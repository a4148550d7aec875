// Package client implements the evdash connection and synchronization core:
// the connection state machine, request correlation, notification routing and
// credential lifecycle against the backend realtime channel.
package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"evdash/internal/credential"
	"evdash/internal/protocol"
	"evdash/internal/things"
)

// State is the connection state. Exactly one value at any time, owned solely
// by the Manager.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateConnected      State = "connected"
	StateFailed         State = "failed"
)

const (
	actionAuthenticate        = "authenticate"
	actionGetChargers         = "GetChargers"
	actionGetCars             = "GetCars"
	actionGetChargingSessions = "GetChargingSessions"

	defaultReconnectDelay = 3 * time.Second
	defaultRefreshLead    = 60 * time.Second
	defaultRefreshFloor   = 5 * time.Second
	exchangeTimeout       = 15 * time.Second
)

// AuthClient exchanges user credentials or a token for a fresh credential.
type AuthClient interface {
	Login(ctx context.Context, username, password string) (credential.Credential, error)
	Refresh(ctx context.Context, token string) (credential.Credential, error)
}

// Options configures a Manager.
type Options struct {
	WebsocketURL   string
	ReconnectDelay time.Duration
	RefreshLead    time.Duration
	RefreshFloor   time.Duration

	Dialer Dialer
	Auth   AuthClient
	Store  credential.Store
	Logger *zap.Logger

	// OnLoginRequired fires whenever the session ends and fresh user action
	// is needed (auth rejection, refresh failure, logout).
	OnLoginRequired func(reason string)
	// OnStateChange observes connection state transitions.
	OnStateChange func(State)
	// OnRequestError observes application-level request failures.
	OnRequestError func(kind, errorCode string)
	// OnSessions observes every accepted charging sessions list.
	OnSessions func([]things.Thing)
}

// Manager owns one physical connection at a time, the current credential and
// all timers. All state transitions are serialized under one mutex; the read
// loop, timer firings and caller-initiated operations funnel through it, so
// handlers run to completion before the next event is processed.
type Manager struct {
	opts   Options
	logger *zap.Logger

	chargers *things.Collection
	cars     *things.Collection
	sessions *things.SessionList

	pending *PendingTable
	router  *Router

	mu              sync.Mutex
	state           State
	cred            credential.Credential
	hasCred         bool
	conn            Conn
	connGen         int
	reconnectTimer  *time.Timer
	refreshTimer    *time.Timer
	refreshInFlight bool

	now func() time.Time
}

// NewManager builds the synchronization core.
func NewManager(opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.RefreshLead <= 0 {
		opts.RefreshLead = defaultRefreshLead
	}
	if opts.RefreshFloor <= 0 {
		opts.RefreshFloor = defaultRefreshFloor
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &Manager{
		opts:     opts,
		logger:   opts.Logger,
		chargers: things.NewCollection(),
		cars:     things.NewCollection(),
		pending:  NewPendingTable(),
		state:    StateDisconnected,
		now:      time.Now,
	}
	m.sessions = things.NewSessionList(opts.OnSessions)
	m.router = NewRouter(m.pending, m.handleAuthError, opts.Logger)
	m.registerRoutes()
	return m
}

func (m *Manager) registerRoutes() {
	m.router.HandleResponse(actionAuthenticate, m.onAuthenticateResponse)
	m.router.HandleResponse(actionGetChargers, m.listResponse("chargers", func(p json.RawMessage) {
		m.applyChargerList(p)
	}))
	m.router.HandleResponse(actionGetCars, m.listResponse("cars", func(p json.RawMessage) {
		m.applyCarList(p)
	}))
	m.router.HandleResponse(actionGetChargingSessions, m.onSessionsResponse)

	m.router.HandleEvent("chargerAdded", m.upsertChargerEvent)
	m.router.HandleEvent("chargerChanged", m.upsertChargerEvent)
	m.router.HandleEvent("chargerRemoved", func(p json.RawMessage) { m.removeEvent(m.chargers, "charger", p) })
	m.router.HandleEvent("carAdded", m.upsertCarEvent)
	m.router.HandleEvent("carChanged", m.upsertCarEvent)
	m.router.HandleEvent("carRemoved", func(p json.RawMessage) { m.removeEvent(m.cars, "car", p) })
	m.router.HandleEvent("chargingSessionsUpdated", m.applySessionList)

	m.router.HandleShape(m.legacyShapeFallback)
}

// Chargers returns the charger collection.
func (m *Manager) Chargers() *things.Collection { return m.chargers }

// Cars returns the car collection.
func (m *Manager) Cars() *things.Collection { return m.cars }

// Sessions returns the charging sessions list.
func (m *Manager) Sessions() *things.SessionList { return m.sessions }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Credential returns the current in-memory credential.
func (m *Manager) Credential() (credential.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred, m.hasCred
}

// Restore loads a persisted credential and, when one is available, connects.
// Returns whether a session was restored.
func (m *Manager) Restore() bool {
	cred, ok := m.opts.Store.Load()
	if !ok {
		return false
	}

	m.mu.Lock()
	m.setCredentialLocked(cred, false)
	m.mu.Unlock()

	m.Connect()
	return true
}

// Login exchanges username/password for a credential and connects.
func (m *Manager) Login(ctx context.Context, username, password string) error {
	cred, err := m.opts.Auth.Login(ctx, username, password)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.setCredentialLocked(cred, true)
	m.mu.Unlock()

	m.logger.Info("login succeeded", zap.String("username", username), zap.Time("expires_at", cred.ExpiresAt))
	m.Connect()
	return nil
}

// Logout ends the session: credential cleared, timers cancelled, connection
// closed, collections reset.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.clearSessionLocked()
	m.mu.Unlock()

	m.logger.Info("logged out")
	m.notifyLoginRequired("loggedOut")
}

// Connect starts the connection state machine. A no-op while already
// connecting, authenticating or connected; without a valid credential the
// manager stays disconnected awaiting login.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectLocked()
}

func (m *Manager) connectLocked() {
	switch m.state {
	case StateConnecting, StateAuthenticating, StateConnected:
		return
	}

	if !m.hasCred {
		m.setStateLocked(StateDisconnected)
		m.logger.Info("awaiting login")
		return
	}
	if !m.cred.Valid(m.now()) {
		m.logger.Info("stored credential expired")
		m.clearSessionLocked()
		m.notifyLoginRequired("expired")
		return
	}

	m.stopReconnectLocked()
	m.setStateLocked(StateConnecting)
	m.connGen++
	gen := m.connGen

	go m.dial(gen)
}

func (m *Manager) dial(gen int) {
	conn, err := m.opts.Dialer.Dial(context.Background(), m.opts.WebsocketURL)

	m.mu.Lock()
	if gen != m.connGen || m.state != StateConnecting {
		m.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		m.logger.Warn("connection failed", zap.String("url", m.opts.WebsocketURL), zap.Error(err))
		m.enterFailedLocked()
		m.mu.Unlock()
		return
	}

	m.conn = conn
	m.setStateLocked(StateAuthenticating)
	m.sendLocked(actionAuthenticate, map[string]string{"token": m.cred.Token})
	m.mu.Unlock()

	go m.readLoop(conn, gen)
}

func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClosed(gen, err)
			return
		}
		m.router.Dispatch(data)
	}
}

func (m *Manager) handleClosed(gen int, cause error) {
	m.mu.Lock()
	if gen != m.connGen {
		m.mu.Unlock()
		return
	}

	m.logger.Info("connection closed", zap.Error(cause))
	m.conn = nil
	m.pending.Clear()

	if !m.hasCred {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		return
	}

	m.enterFailedLocked()
	m.mu.Unlock()
}

// enterFailedLocked schedules the fixed-delay reconnect. Indefinite as long
// as a credential exists; auth failures never reach here with one.
func (m *Manager) enterFailedLocked() {
	m.setStateLocked(StateFailed)
	m.stopReconnectLocked()
	m.reconnectTimer = time.AfterFunc(m.opts.ReconnectDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state != StateFailed || !m.hasCred {
			return
		}
		m.connectLocked()
	})
}

// Send transmits a request envelope and registers it for correlation.
// Refused (ok=false) when no connection is open or before the connection
// reached Connected; only the authenticate request itself may go out earlier.
func (m *Manager) Send(action string, payload any) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendLocked(action, payload)
}

func (m *Manager) sendLocked(action string, payload any) (string, bool) {
	if m.conn == nil {
		m.logger.Warn("cannot send, no open connection", zap.String("action", action))
		return "", false
	}

	norm := strings.ToLower(action)
	if norm != actionAuthenticate && m.state != StateConnected {
		m.logger.Warn("cannot send before authentication completes",
			zap.String("action", action), zap.String("state", string(m.state)))
		return "", false
	}

	id := m.pending.Add(norm)
	data, err := protocol.Encode(protocol.Request{RequestID: id, Action: action, Payload: payload})
	if err != nil {
		m.pending.Remove(id)
		m.logger.Error("failed to encode request", zap.String("action", action), zap.Error(err))
		return "", false
	}

	if err := m.conn.WriteMessage(data); err != nil {
		m.pending.Remove(id)
		m.logger.Warn("send failed", zap.String("action", action), zap.Error(err))
		return "", false
	}

	return id, true
}

// FetchChargers requests a fresh authoritative charger list.
func (m *Manager) FetchChargers() (string, bool) {
	return m.Send(actionGetChargers, map[string]any{})
}

// FetchCars requests a fresh authoritative car list.
func (m *Manager) FetchCars() (string, bool) {
	return m.Send(actionGetCars, map[string]any{})
}

// FetchChargingSessions requests the charging sessions list, optionally
// filtered by car.
func (m *Manager) FetchChargingSessions(carID string) (string, bool) {
	payload := map[string]any{}
	if carID != "" {
		payload["carId"] = carID
	}
	return m.Send(actionGetChargingSessions, payload)
}

// Close tears the manager down: timers stopped, connection closed. The
// persisted credential is left intact for the next process.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopReconnectLocked()
	m.stopRefreshLocked()
	m.connGen++
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.pending.Clear()
	m.setStateLocked(StateDisconnected)
}

// --- response and notification handlers (invoked from the read loop) ---

func (m *Manager) onAuthenticateResponse(env *protocol.Envelope) {
	if env.Succeeded() {
		m.onAuthenticated()
		return
	}

	reason := env.Error
	if reason == "" {
		reason = "unauthorized"
	}
	m.handleAuthError(reason)
}

func (m *Manager) onAuthenticated() {
	m.mu.Lock()
	if m.state != StateAuthenticating {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateConnected)
	m.stopReconnectLocked()
	m.scheduleRefreshLocked()

	// Initial batch of data fetches for downstream consumers.
	m.sendLocked(actionGetCars, map[string]any{})
	m.sendLocked(actionGetChargers, map[string]any{})
	m.sendLocked(actionGetChargingSessions, map[string]any{})
	m.mu.Unlock()

	m.logger.Info("authenticated")
}

// handleAuthError is the terminal authentication-failure path: credential
// invalidated, pending requests abandoned, timers cancelled, connection
// closed. No silent retry with a dead credential.
func (m *Manager) handleAuthError(reason string) {
	m.mu.Lock()
	m.setStateLocked(StateFailed)
	m.clearSessionLocked()
	m.mu.Unlock()

	m.logger.Warn("authentication failed", zap.String("reason", reason))
	m.notifyLoginRequired(reason)
}

func (m *Manager) listResponse(field string, apply func(json.RawMessage)) responseHandler {
	return func(env *protocol.Envelope) {
		if env.Succeeded() {
			apply(env.Payload)
			return
		}
		if env.Error == protocol.ErrUnauthenticated {
			m.handleAuthError(protocol.ErrUnauthenticated)
			return
		}
		m.reportRequestError("get"+field, env.Error)
	}
}

func (m *Manager) onSessionsResponse(env *protocol.Envelope) {
	if env.Succeeded() {
		m.applySessionList(env.Payload)
		return
	}
	if env.Error == protocol.ErrUnauthenticated {
		m.handleAuthError(protocol.ErrUnauthenticated)
		return
	}
	m.sessions.Clear()
	m.reportRequestError("getchargingsessions", env.Error)
}

func (m *Manager) reportRequestError(kind, code string) {
	if code == "" {
		code = "unknownError"
	}
	m.logger.Warn("request failed", zap.String("kind", kind), zap.String("error", code))
	if m.opts.OnRequestError != nil {
		m.opts.OnRequestError(kind, code)
	}
}

func (m *Manager) applyChargerList(payload json.RawMessage) {
	list, err := protocol.Decode[struct {
		Chargers []things.Thing `json:"chargers"`
	}](payload)
	if err != nil {
		m.logger.Warn("dropping malformed charger list", zap.Error(err))
		return
	}
	created, removed := m.chargers.ReplaceAll(list.Chargers)
	m.logger.Debug("charger list reconciled",
		zap.Int("total", m.chargers.Len()), zap.Int("created", created), zap.Int("removed", removed))
}

func (m *Manager) applyCarList(payload json.RawMessage) {
	list, err := protocol.Decode[struct {
		Cars []things.Thing `json:"cars"`
	}](payload)
	if err != nil {
		m.logger.Warn("dropping malformed car list", zap.Error(err))
		return
	}
	created, removed := m.cars.ReplaceAll(list.Cars)
	m.logger.Debug("car list reconciled",
		zap.Int("total", m.cars.Len()), zap.Int("created", created), zap.Int("removed", removed))
}

func (m *Manager) applySessionList(payload json.RawMessage) {
	list, err := protocol.Decode[struct {
		Sessions []things.Thing `json:"sessions"`
	}](payload)
	if err != nil {
		m.logger.Warn("dropping malformed session list", zap.Error(err))
		return
	}
	m.sessions.Replace(list.Sessions)
	m.logger.Debug("charging sessions updated", zap.Int("count", len(list.Sessions)))
}

func (m *Manager) upsertChargerEvent(payload json.RawMessage) {
	m.upsertEvent(m.chargers, "charger", payload)
}

func (m *Manager) upsertCarEvent(payload json.RawMessage) {
	m.upsertEvent(m.cars, "car", payload)
}

func (m *Manager) upsertEvent(col *things.Collection, entity string, payload json.RawMessage) {
	thing, err := protocol.Decode[things.Thing](payload)
	if err != nil {
		m.logger.Warn("dropping malformed entity payload", zap.String("entity", entity), zap.Error(err))
		return
	}
	if _, ok := col.Upsert(thing); !ok {
		m.logger.Warn("entity without usable identifier", zap.String("entity", entity))
	}
}

func (m *Manager) removeEvent(col *things.Collection, entity string, payload json.RawMessage) {
	source, ok := decodeThing(payload)
	if !ok {
		m.logger.Warn("dropping malformed removal payload", zap.String("entity", entity))
		return
	}
	col.Remove(source)
}

// legacyShapeFallback routes untyped pushes by payload shape, matching what
// older backends sent before notification events existed.
func (m *Manager) legacyShapeFallback(payload json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return false
	}

	if raw, ok := fields["chargers"]; ok && isArray(raw) {
		m.applyChargerList(payload)
		return true
	}
	if raw, ok := fields["cars"]; ok && isArray(raw) {
		m.applyCarList(payload)
		return true
	}
	if raw, ok := fields["sessions"]; ok && isArray(raw) {
		m.applySessionList(payload)
		return true
	}
	if raw, ok := fields["charger"]; ok && isObject(raw) {
		m.upsertEvent(m.chargers, "charger", raw)
		return true
	}
	if raw, ok := fields["car"]; ok && isObject(raw) {
		m.upsertEvent(m.cars, "car", raw)
		return true
	}
	return false
}

func isArray(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "[")
}

func isObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{")
}

// --- credential lifecycle ---

func (m *Manager) setCredentialLocked(cred credential.Credential, persist bool) {
	m.cred = cred
	m.hasCred = true
	if persist {
		m.opts.Store.Save(cred)
	}
	m.scheduleRefreshLocked()
}

// clearSessionLocked destroys the session: credential, pending requests,
// timers, connection and reconciled collections.
func (m *Manager) clearSessionLocked() {
	m.cred = credential.Credential{}
	m.hasCred = false
	m.pending.Clear()
	m.stopReconnectLocked()
	m.stopRefreshLocked()
	m.refreshInFlight = false

	m.connGen++
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}

	m.chargers.ReplaceAll(nil)
	m.cars.ReplaceAll(nil)
	m.sessions.Clear()
	m.opts.Store.Clear()

	m.setStateLocked(StateDisconnected)
}

// scheduleRefreshLocked arms the one-shot refresh timer at
// max(expiresAt - lead, now + floor).
func (m *Manager) scheduleRefreshLocked() {
	m.stopRefreshLocked()
	if !m.hasCred {
		return
	}

	delay := time.Until(m.cred.ExpiresAt) - m.opts.RefreshLead
	if delay < m.opts.RefreshFloor {
		delay = m.opts.RefreshFloor
	}

	m.refreshTimer = time.AfterFunc(delay, m.refreshCredential)
	m.logger.Debug("refresh scheduled", zap.Duration("in", delay))
}

// refreshCredential exchanges the current token shortly before expiry.
// Exactly one attempt may be in flight; failure is terminal for the session.
func (m *Manager) refreshCredential() {
	m.mu.Lock()
	if !m.hasCred || m.refreshInFlight {
		m.mu.Unlock()
		return
	}
	m.refreshInFlight = true
	token := m.cred.Token
	username := m.cred.Username
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), exchangeTimeout)
	fresh, err := m.opts.Auth.Refresh(ctx, token)
	cancel()

	m.mu.Lock()
	m.refreshInFlight = false
	if !m.hasCred || m.cred.Token != token {
		// Superseded by logout or a newer credential while in flight.
		m.mu.Unlock()
		return
	}

	if err != nil {
		m.clearSessionLocked()
		m.mu.Unlock()
		m.logger.Warn("token refresh failed", zap.Error(err))
		m.notifyLoginRequired("refreshFailed")
		return
	}

	fresh.Username = username
	m.setCredentialLocked(fresh, true)
	m.mu.Unlock()

	m.logger.Info("token refreshed", zap.Time("expires_at", fresh.ExpiresAt))
}

func (m *Manager) setStateLocked(next State) {
	if m.state == next {
		return
	}
	m.state = next
	m.logger.Debug("connection state", zap.String("state", string(next)))
	if m.opts.OnStateChange != nil {
		go m.opts.OnStateChange(next)
	}
}

func (m *Manager) notifyLoginRequired(reason string) {
	if m.opts.OnLoginRequired != nil {
		go m.opts.OnLoginRequired(reason)
	}
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) stopRefreshLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}
