package controller

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/openvocs/vocsd/internal/broadcast"
	"github.com/openvocs/vocsd/internal/correlator"
	"github.com/openvocs/vocsd/internal/loop"
	"github.com/openvocs/vocsd/internal/protocol"
	"github.com/openvocs/vocsd/internal/result"
	"github.com/openvocs/vocsd/internal/sessions"
)

// DefaultRequestTimeout is the deadline for every asynchronous chained
// request (spec.md §5: "default 5s").
const DefaultRequestTimeout = 5 * time.Second

// Config bundles the Controller's external collaborators. A nil field
// disables the corresponding event group: requests for it fail with
// result.ErrConfig rather than panicking, so a partially wired deployment
// (e.g. no SIP bridge configured) degrades gracefully.
type Config struct {
	Credentials CredentialStore
	Directory   Directory // nil disables directory auth; local credentials are used instead
	Roles       RoleStore
	Mixer       MixerClient
	Frontend    FrontendClient
	SIP         SIPBridge
	Recordings  RecordingStore

	RequestTimeout time.Duration // defaults to DefaultRequestTimeout

	// UserDataPath persists per-user keyset layouts and client data
	// (set_user_data, set_keyset_layout) to disk using the same
	// overwrite-then-rename discipline as internal/sessions.Store. Empty
	// keeps the blob store in-memory only, mirroring the other Config
	// fields' nil-disables-persistence convention.
	UserDataPath string
}

// Controller is the session/participation controller (spec.md §4.1).
type Controller struct {
	mu          sync.Mutex
	connections map[string]*conn

	loops      *loop.Table
	broadcast  *broadcast.Registry
	correlator *correlator.Correlator
	sessions   *sessions.Store

	cfg Config

	userData *blobStore
}

// New returns a ready Controller. loops, bcast, corr and sess are the
// already-constructed shared components; cfg supplies the external
// collaborators.
func New(loops *loop.Table, bcast *broadcast.Registry, corr *correlator.Correlator, sess *sessions.Store, cfg Config) *Controller {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	userData := newBlobStore()
	if cfg.UserDataPath != "" {
		store, err := openBlobStore(cfg.UserDataPath)
		if err != nil {
			slog.Error("open user data store, falling back to in-memory", "path", cfg.UserDataPath, "err", err)
		} else {
			userData = store
		}
	}
	return &Controller{
		connections: make(map[string]*conn),
		loops:       loops,
		broadcast:   bcast,
		correlator:  corr,
		sessions:    sess,
		cfg:         cfg,
		userData:    userData,
	}
}

// Connect registers a new, unauthenticated connection for socket.
func (c *Controller) Connect(socket string, tr Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connections[socket] = newConn(socket, tr)
}

// ConnectionCount returns the number of live connections.
func (c *Controller) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connections)
}

// Dispatch handles one decoded request on behalf of socket.
func (c *Controller) Dispatch(socket string, msg protocol.Message) {
	c.mu.Lock()
	cn, ok := c.connections[socket]
	c.mu.Unlock()
	if !ok {
		slog.Warn("dispatch on unknown socket", "socket", socket, "event", msg.Event)
		return
	}

	switch msg.Event {
	case protocol.EventLogin, protocol.EventAuthenticate:
		c.handleLogin(cn, msg)
	case protocol.EventUpdateLogin:
		c.handleUpdateLogin(cn, msg)
	case protocol.EventLogout:
		c.handleLogout(cn, msg)
	case protocol.EventAuthorize:
		c.handleAuthorize(cn, msg)
	case protocol.EventGet:
		c.handleGet(cn, msg)
	case protocol.EventUserRoles:
		c.handleUserRoles(cn, msg)
	case protocol.EventRoleLoops:
		c.handleRoleLoops(cn, msg)
	case protocol.EventMedia:
		c.handleMedia(cn, msg)
	case protocol.EventCandidate:
		c.handleCandidate(cn, msg)
	case protocol.EventEndOfCandidates:
		c.handleEndOfCandidates(cn, msg)
	case protocol.EventSwitchLoopState:
		c.handleSwitchLoopState(cn, msg)
	case protocol.EventSwitchLoopVolume:
		c.handleSwitchLoopVolume(cn, msg)
	case protocol.EventTalking:
		c.handleTalking(cn, msg)
	case protocol.EventCall, protocol.EventHangup, protocol.EventPermitCall,
		protocol.EventRevokeCall, protocol.EventListCalls, protocol.EventListCallPerms,
		protocol.EventListSIPStatus, protocol.EventSIP, protocol.EventRegister:
		c.handleSIPEvent(cn, msg)
	case protocol.EventGetRecording:
		c.handleGetRecording(cn, msg)
	case protocol.EventSetKeysetLayout, protocol.EventGetKeysetLayout,
		protocol.EventSetUserData, protocol.EventGetUserData:
		c.handleUserDataEvent(cn, msg)
	case protocol.EventSetRolePermission:
		c.handleSetRolePermission(cn, msg)
	default:
		c.sendError(cn, msg.ID, result.ErrInput, "unknown event: "+msg.Event)
	}
}

// Drop tears a connection down: releases the mixer, drops the ICE session,
// removes the socket from every loop it participated in (broadcasting None
// for each), cancels pending async requests without firing their timeout
// handlers, unsubscribes from all broadcast scopes, and closes the
// transport (spec.md §4.1 "Drop connection").
func (c *Controller) Drop(socket string) {
	c.mu.Lock()
	cn, ok := c.connections[socket]
	if ok {
		delete(c.connections, socket)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if cn.mixerReady && c.cfg.Mixer != nil {
		c.cfg.Mixer.ReleaseMixer(socket)
	}
	if cn.iceReady && c.cfg.Frontend != nil {
		c.cfg.Frontend.DropSession(socket)
	}

	for _, loopName := range c.loops.LeaveAll(socket) {
		c.broadcast.Send(broadcast.ScopeLoop, loopName, protocol.Message{
			Type: protocol.TypeLoopBroadcast,
			Parameter: map[string]any{
				"loop":  loopName,
				"user":  cn.user,
				"role":  cn.role,
				"state": loop.None.String(),
			},
		})
	}

	c.correlator.Drop(socket)
	c.broadcast.Drop(socket)

	if err := cn.tr.Close(); err != nil {
		slog.Debug("transport close error on drop", "socket", socket, "err", err)
	}
	slog.Info("connection dropped", "socket", socket, "user", cn.user, "client", cn.client)
}

func (c *Controller) sendResponse(cn *conn, id string, response map[string]any) {
	if err := cn.tr.Send(protocol.Message{ID: id, Response: response, Type: protocol.TypeUnicast}); err != nil {
		slog.Debug("send response failed", "socket", cn.socket, "id", id, "err", err)
	}
}

func (c *Controller) sendError(cn *conn, id string, code result.Code, desc string) {
	msg := protocol.Message{
		ID:   id,
		Type: protocol.TypeUnicast,
		Error: &protocol.ErrorBody{
			Code:        uint64(code),
			Description: desc,
		},
	}
	if err := cn.tr.Send(msg); err != nil {
		slog.Debug("send error failed", "socket", cn.socket, "id", id, "err", err)
	}
}

func paramString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func paramInt(params map[string]any, key string) (int, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// authPayload is the correlator payload for a suspended directory bind.
type authPayload struct {
	socket, client, user string
	requestID            string
}

func (p authPayload) RequestID() string { return p.requestID }

// handleLogin implements the authentication protocol (spec.md §4.1).
func (c *Controller) handleLogin(cn *conn, msg protocol.Message) {
	if cn.authenticated {
		c.sendError(cn, msg.ID, result.ErrAlreadyAuthenticated, "connection is already authenticated")
		return
	}

	user := paramString(msg.Parameter, "user")
	password := paramString(msg.Parameter, "password")
	client := paramString(msg.Parameter, "client")
	if client == "" {
		client = cn.socket
	}
	if user == "" {
		c.sendError(cn, msg.ID, result.ErrParameterMissing, "user is required")
		return
	}

	// Step 5: a previously issued session token re-presented as password
	// completes login without directory interaction.
	if password != "" && c.sessions != nil && c.sessions.Verify(client, user, password) {
		c.finalizeLogin(cn, msg.ID, client, user, password)
		return
	}

	if c.cfg.Directory != nil {
		payload := authPayload{socket: cn.socket, client: client, user: user, requestID: msg.ID}
		c.correlator.Set(msg.ID, correlator.Entry{
			Socket:  cn.socket,
			Payload: payload,
			OnTimeout: func(e correlator.Entry) {
				c.onRequestTimeout(e)
			},
		}, c.cfg.RequestTimeout)

		c.cfg.Directory.Bind(user, password, func(res BindResult) {
			entry, ok := c.correlator.Unset(msg.ID)
			if !ok {
				return // already timed out or connection dropped
			}
			p := entry.Payload.(authPayload)
			c.mu.Lock()
			connection, live := c.connections[p.socket]
			c.mu.Unlock()
			if !live {
				return
			}
			if !res.OK {
				desc := "directory bind failed"
				if res.Err != nil {
					desc = res.Err.Error()
				}
				c.sendError(connection, p.requestID, result.ErrAuthFailed, desc)
				return
			}
			c.finalizeLogin(connection, p.requestID, p.client, p.user, "")
		})
		return
	}

	if c.cfg.Credentials == nil || !c.cfg.Credentials.Verify(user, password) {
		c.sendError(cn, msg.ID, result.ErrAuthFailed, "invalid credentials")
		return
	}
	c.finalizeLogin(cn, msg.ID, client, user, "")
}

// finalizeLogin mints (or accepts a re-presented) session token, binds it to
// the connection, subscribes to the user and system broadcast scopes, and
// responds with {id: user, session: token}.
func (c *Controller) finalizeLogin(cn *conn, requestID, client, user, existingToken string) {
	token := existingToken
	if token == "" && c.sessions != nil {
		rec, err := c.sessions.Init(client, user)
		if err != nil {
			slog.Warn("session persist failed", "client", client, "user", user, "err", err)
		}
		token = rec.ID
	}

	c.mu.Lock()
	cn.authenticated = true
	cn.client = client
	cn.user = user
	cn.sessionToken = token
	c.mu.Unlock()

	c.broadcast.Subscribe(broadcast.ScopeUser, user, cn.socket, senderAdapter{cn})
	c.broadcast.Subscribe(broadcast.ScopeSystem, "system", cn.socket, senderAdapter{cn})

	c.sendResponse(cn, requestID, map[string]any{"id": user, "session": token})
	slog.Info("login", "socket", cn.socket, "user", user, "client", client)
}

func (c *Controller) handleUpdateLogin(cn *conn, msg protocol.Message) {
	if !cn.authenticated {
		c.sendError(cn, msg.ID, result.ErrNotAuthenticated, "not authenticated")
		return
	}
	oldUser := cn.user
	c.broadcast.Unsubscribe(broadcast.ScopeUser, oldUser, cn.socket)

	c.mu.Lock()
	cn.authenticated = false
	cn.role = ""
	c.mu.Unlock()

	c.handleLogin(cn, msg)
}

func (c *Controller) handleLogout(cn *conn, msg protocol.Message) {
	if !cn.authenticated {
		c.sendError(cn, msg.ID, result.ErrNotAuthenticated, "not authenticated")
		return
	}
	c.teardownAuth(cn)
	c.sendResponse(cn, msg.ID, map[string]any{})
}

// teardownAuth releases the authenticated identity of a connection without
// closing its transport (used by logout; the full Drop path additionally
// releases media resources and closes the socket).
func (c *Controller) teardownAuth(cn *conn) {
	for _, loopName := range c.loops.LeaveAll(cn.socket) {
		c.broadcast.Send(broadcast.ScopeLoop, loopName, protocol.Message{
			Type: protocol.TypeLoopBroadcast,
			Parameter: map[string]any{
				"loop": loopName, "user": cn.user, "role": cn.role, "state": loop.None.String(),
			},
		})
	}
	c.broadcast.Unsubscribe(broadcast.ScopeUser, cn.user, cn.socket)
	c.broadcast.Unsubscribe(broadcast.ScopeSystem, "system", cn.socket)
	if cn.role != "" {
		c.broadcast.Unsubscribe(broadcast.ScopeRole, cn.role, cn.socket)
	}

	c.mu.Lock()
	cn.authenticated = false
	cn.role = ""
	cn.sessionToken = ""
	cn.loops = make(map[string]*loopState)
	c.mu.Unlock()
}

func (c *Controller) handleAuthorize(cn *conn, msg protocol.Message) {
	if !cn.authenticated {
		c.sendError(cn, msg.ID, result.ErrNotAuthenticated, "not authenticated")
		return
	}
	if cn.role != "" {
		c.sendError(cn, msg.ID, result.ErrPermission, "role already assumed; logout to change role")
		return
	}
	role := paramString(msg.Parameter, "role")
	if role == "" {
		c.sendError(cn, msg.ID, result.ErrParameterMissing, "role is required")
		return
	}
	if c.cfg.Roles == nil || !c.cfg.Roles.Validate(cn.user, role) {
		c.sendError(cn, msg.ID, result.ErrPermission, "role not permitted for user")
		return
	}

	c.mu.Lock()
	cn.role = role
	c.mu.Unlock()
	c.broadcast.Subscribe(broadcast.ScopeRole, role, cn.socket, senderAdapter{cn})

	c.sendResponse(cn, msg.ID, map[string]any{"role": role})
}

func (c *Controller) handleGet(cn *conn, msg protocol.Message) {
	c.mu.Lock()
	snap := map[string]any{
		"client":        cn.client,
		"user":          cn.user,
		"role":          cn.role,
		"authenticated": cn.authenticated,
		"media_state":   cn.media.String(),
	}
	loops := cn.activeLoops()
	c.mu.Unlock()
	sort.Strings(loops)
	snap["loops"] = loops
	c.sendResponse(cn, msg.ID, snap)
}

func (c *Controller) handleUserRoles(cn *conn, msg protocol.Message) {
	if !cn.authenticated {
		c.sendError(cn, msg.ID, result.ErrNotAuthenticated, "not authenticated")
		return
	}
	var roles []string
	if c.cfg.Roles != nil {
		roles = c.cfg.Roles.RolesForUser(cn.user)
	}
	sort.Strings(roles)
	c.sendResponse(cn, msg.ID, map[string]any{"roles": roles})
}

func (c *Controller) handleRoleLoops(cn *conn, msg protocol.Message) {
	if cn.role == "" {
		c.sendError(cn, msg.ID, result.ErrPermission, "no role assumed")
		return
	}
	names := c.loops.GrantedLoops(cn.role)
	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]any{
			"loop":       name,
			"permission": c.loops.Get(name).RolePermission(cn.role).String(),
		})
	}
	c.sendResponse(cn, msg.ID, map[string]any{"loops": out})
}

// handleSetRolePermission grants role the given permission in loopName,
// mutating the live role->loop permission table consulted by role_loops and
// by the loop join path. Restricted to connections that have assumed the
// "admin" role, mirroring authorize's role-gated shape.
func (c *Controller) handleSetRolePermission(cn *conn, msg protocol.Message) {
	if cn.role != "admin" {
		c.sendError(cn, msg.ID, result.ErrPermission, "admin role required")
		return
	}
	role := paramString(msg.Parameter, "role")
	loopName := paramString(msg.Parameter, "loop")
	if role == "" || loopName == "" {
		c.sendError(cn, msg.ID, result.ErrParameterMissing, "role and loop are required")
		return
	}
	perm, ok := loop.ParsePermission(paramString(msg.Parameter, "permission"))
	if !ok {
		c.sendError(cn, msg.ID, result.ErrInput, "permission must be none, recv or send")
		return
	}
	c.loops.GetOrCreate(loopName).SetRolePermission(role, perm)
	c.sendResponse(cn, msg.ID, map[string]any{"loop": loopName, "role": role, "permission": perm.String()})
}

// onRequestTimeout is the shared correlator timeout handler: it sends a
// TIMEOUT error to the originating socket and drops the connection
// (spec.md §4.1 Failure semantics).
func (c *Controller) onRequestTimeout(e correlator.Entry) {
	c.mu.Lock()
	cn, ok := c.connections[e.Socket]
	c.mu.Unlock()
	if !ok {
		return
	}
	requestID := ""
	if rid, ok := requestIDOf(e.Payload); ok {
		requestID = rid
	}
	c.sendError(cn, requestID, result.ErrTimeout, "request timed out")
	c.Drop(e.Socket)
}

// requestIDOf extracts the originating request id from a correlator payload
// via a tiny interface, so every chained payload type stays free to carry
// its own fields without a shared base struct.
type hasRequestID interface{ RequestID() string }

func requestIDOf(payload any) (string, bool) {
	if h, ok := payload.(hasRequestID); ok {
		return h.RequestID(), true
	}
	return "", false
}

// senderAdapter makes *conn satisfy broadcast.Sender by writing through its
// Transport.
type senderAdapter struct{ cn *conn }

func (s senderAdapter) Send(msg any) error { return s.cn.tr.Send(msg) }
