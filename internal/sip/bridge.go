// Package sip bridges the controller's call-control events (spec.md §4.1:
// call, hangup, permit_call, revoke_call, list_calls, list_call_permissions,
// list_sip_status, sip, register) onto a real SIP provider via sipgo,
// grounded on the teacher-adjacent flowpbx-flowpbx's internal/sip package
// (UA/Client construction, registration-state tracking, digest auth,
// outbound INVITE response loop), trimmed from full B2BUA trunk routing down
// to a single configured provider since this repository has no trunk/
// extension database of its own. Media bridging between a SIP leg and a
// loop's mixed audio is not implemented here — spec.md names "the SIP
// signalling endpoint" as an external collaborator exposed to the core only
// via the interfaces it implements (controller.SIPBridge); this package is
// that boundary's call-control implementation, not a media relay.
package sip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// InviteTransaction is the subset of sipgo's sip.ClientTransaction this
// package needs, narrowed so tests can substitute a fake instead of driving
// a real UDP/TCP transaction (mirrors internal/mixer.Decoder and
// internal/gateway's device/codec test-seam interfaces).
type InviteTransaction interface {
	Responses() <-chan *sip.Response
	Done() <-chan struct{}
	Err() error
	Terminate() error
}

// Client is the subset of sipgo's *sipgo.Client this package depends on.
type Client interface {
	TransactionRequest(ctx context.Context, req *sip.Request) (InviteTransaction, error)
	WriteRequest(req *sip.Request) error
}

// sipgoClient adapts a real *sipgo.Client to Client. The conversion from
// sip.ClientTransaction to InviteTransaction is implicit: sipgo's
// ClientTransaction's method set is a superset of InviteTransaction's.
type sipgoClient struct {
	c *sipgo.Client
}

func (s *sipgoClient) TransactionRequest(ctx context.Context, req *sip.Request) (InviteTransaction, error) {
	tx, err := s.c.TransactionRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sipgoClient) WriteRequest(req *sip.Request) error {
	return s.c.WriteRequest(req)
}

// RegistrationStatus mirrors the teacher's TrunkStatus, trimmed to the
// states a single configured provider can be in.
type RegistrationStatus string

const (
	StatusUnregistered RegistrationStatus = "unregistered"
	StatusRegistering  RegistrationStatus = "registering"
	StatusRegistered   RegistrationStatus = "registered"
	StatusFailed       RegistrationStatus = "failed"
)

// Config describes the single upstream SIP provider this gateway registers
// with and dials out through.
type Config struct {
	Host         string
	Port         int
	Transport    string
	Username     string
	Password     string
	DisplayName  string
	LocalDomain  string
	RegisterTTL  time.Duration
	RegisterEach time.Duration
}

func (c Config) recipient() string {
	return fmt.Sprintf("sip:%s:%d", c.Host, c.Port)
}

// Bridge implements controller.SIPBridge against a single upstream SIP
// provider. Call state lives in a CallManager, permissions in a
// PermissionTable; both are grounded on the teacher's DialogManager and
// trunk-state-map idioms.
type Bridge struct {
	cfg    Config
	ua     *sipgo.UserAgent
	client Client
	perms  *PermissionTable
	calls  *CallManager
	logger *slog.Logger

	mu       sync.RWMutex
	status   RegistrationStatus
	lastErr  string
	regSince time.Time
}

// New creates a Bridge bound to an already-constructed UA and client. Use
// Dial for the common case of constructing a real sipgo UA/client pair.
func New(cfg Config, ua *sipgo.UserAgent, client Client) *Bridge {
	return &Bridge{
		cfg:    cfg,
		ua:     ua,
		client: client,
		perms:  NewPermissionTable(),
		calls:  NewCallManager(),
		logger: slog.Default().With("component", "sip"),
		status: StatusUnregistered,
	}
}

// Dial constructs a real sipgo user agent and client for cfg and wraps them
// in a Bridge.
func Dial(cfg Config) (*Bridge, error) {
	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("vocsd"),
		sipgo.WithUserAgentHostname(cfg.LocalDomain),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sip user agent: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("creating sip client: %w", err)
	}
	return New(cfg, ua, &sipgoClient{c: client}), nil
}

// Close releases the underlying user agent.
func (b *Bridge) Close() error {
	if b.ua != nil {
		return b.ua.Close()
	}
	return nil
}

// Register sends a REGISTER to the configured provider and reports the
// outcome. satisfies controller.SIPBridge's register event.
func (b *Bridge) Register(socket string, params map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b.setStatus(StatusRegistering, "")

	var recipient sip.Uri
	if err := sip.ParseUri(b.cfg.recipient(), &recipient); err != nil {
		b.setStatus(StatusFailed, err.Error())
		return nil, fmt.Errorf("parsing provider uri: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.AppendHeader(sip.NewHeader("Expires", fmt.Sprintf("%d", int(b.cfg.RegisterTTL.Seconds()))))

	tx, err := b.client.TransactionRequest(ctx, req)
	if err != nil {
		b.setStatus(StatusFailed, err.Error())
		return nil, fmt.Errorf("sending register: %w", err)
	}
	defer tx.Terminate()

	select {
	case <-ctx.Done():
		b.setStatus(StatusFailed, ctx.Err().Error())
		return nil, ctx.Err()
	case res := <-tx.Responses():
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			b.setStatus(StatusRegistered, "")
			return map[string]any{"status": string(StatusRegistered)}, nil
		}
		b.setStatus(StatusFailed, res.Reason)
		return nil, fmt.Errorf("provider rejected register: %d %s", res.StatusCode, res.Reason)
	}
}

func (b *Bridge) setStatus(s RegistrationStatus, lastErr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
	b.lastErr = lastErr
	if s == StatusRegistered {
		b.regSince = time.Now()
	}
}

// ListSIPStatus reports the provider's current registration status.
func (b *Bridge) ListSIPStatus(socket string) (map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := map[string]any{"status": string(b.status)}
	if b.lastErr != "" {
		out["last_error"] = b.lastErr
	}
	if b.status == StatusRegistered {
		out["registered_since"] = b.regSince
	}
	return out, nil
}

// PermitCall grants a user SIP call permission.
func (b *Bridge) PermitCall(socket string, params map[string]any) (map[string]any, error) {
	user, _ := params["user"].(string)
	if user == "" {
		return nil, fmt.Errorf("permit_call: missing user")
	}
	b.perms.Permit(user)
	return map[string]any{"user": user}, nil
}

// RevokeCall withdraws a user's SIP call permission.
func (b *Bridge) RevokeCall(socket string, params map[string]any) (map[string]any, error) {
	user, _ := params["user"].(string)
	if user == "" {
		return nil, fmt.Errorf("revoke_call: missing user")
	}
	b.perms.Revoke(user)
	return map[string]any{"user": user}, nil
}

// ListCallPermissions lists every user currently holding call permission.
func (b *Bridge) ListCallPermissions(socket string) (map[string]any, error) {
	return map[string]any{"users": b.perms.List()}, nil
}

// ListCalls lists currently active calls.
func (b *Bridge) ListCalls(socket string) (map[string]any, error) {
	active := b.calls.Active()
	out := make([]map[string]any, 0, len(active))
	for _, c := range active {
		out = append(out, map[string]any{
			"id":     c.ID,
			"user":   c.User,
			"loop":   c.Loop,
			"target": c.Target,
			"state":  string(c.State),
		})
	}
	return map[string]any{"calls": out}, nil
}

// Call places an outbound call to params["target"] on behalf of the user
// bridging it into params["loop"]. It blocks until the provider answers or
// rejects, mirroring the teacher's sendOutboundInvite response loop but
// without trunk failover (there is exactly one configured provider).
func (b *Bridge) Call(socket string, params map[string]any) (map[string]any, error) {
	user, _ := params["user"].(string)
	target, _ := params["target"].(string)
	loop, _ := params["loop"].(string)
	if target == "" {
		return nil, fmt.Errorf("call: missing target")
	}
	if !b.perms.Allowed(user) {
		return nil, fmt.Errorf("call: %s is not permitted to place sip calls", user)
	}

	callID := uuid.NewString()
	var recipient sip.Uri
	if err := sip.ParseUri(fmt.Sprintf("sip:%s@%s:%d", target, b.cfg.Host, b.cfg.Port), &recipient); err != nil {
		return nil, fmt.Errorf("parsing call target: %w", err)
	}

	req := sip.NewRequest(sip.INVITE, recipient)
	req.AppendHeader(sip.NewHeader("Call-ID", callID))
	from := &sip.FromHeader{
		DisplayName: b.cfg.DisplayName,
		Address:     sip.Uri{Scheme: "sip", User: user, Host: b.cfg.LocalDomain},
	}
	from.Params.Add("tag", sip.GenerateTagN(16))
	req.AppendHeader(from)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	tx, err := b.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sending invite: %w", err)
	}

	call := &Call{ID: callID, User: user, Loop: loop, Target: target, State: CallRinging, StartTime: time.Now(), tx: tx}
	b.calls.Add(call)

	for {
		select {
		case <-ctx.Done():
			tx.Terminate()
			b.calls.Terminate(callID)
			return nil, ctx.Err()
		case res := <-tx.Responses():
			switch {
			case res.StatusCode < 200:
				continue
			case res.StatusCode < 300:
				b.calls.SetActive(callID)
				return map[string]any{"id": callID, "state": string(CallActive)}, nil
			default:
				b.calls.Terminate(callID)
				return nil, fmt.Errorf("call rejected: %d %s", res.StatusCode, res.Reason)
			}
		}
	}
}

// Hangup terminates an active call by id.
func (b *Bridge) Hangup(socket string, params map[string]any) (map[string]any, error) {
	id, _ := params["id"].(string)
	c := b.calls.Get(id)
	if c == nil {
		return nil, fmt.Errorf("hangup: unknown call %q", id)
	}

	var recipient sip.Uri
	if err := sip.ParseUri(fmt.Sprintf("sip:%s@%s:%d", c.Target, b.cfg.Host, b.cfg.Port), &recipient); err == nil {
		bye := sip.NewRequest(sip.BYE, recipient)
		bye.AppendHeader(sip.NewHeader("Call-ID", c.ID))
		if err := b.client.WriteRequest(bye); err != nil {
			b.logger.Warn("failed to send bye", "call_id", c.ID, "error", err)
		}
	}
	if c.tx != nil {
		c.tx.Terminate()
	}
	b.calls.Terminate(id)
	return map[string]any{"id": id}, nil
}

// RawSIP forwards an operator-supplied raw SIP method/body pair to the
// provider for diagnostics (spec.md's `sip` event), without interpreting
// the response beyond its status line.
func (b *Bridge) RawSIP(socket string, params map[string]any) (map[string]any, error) {
	method, _ := params["method"].(string)
	body, _ := params["body"].(string)
	if method == "" {
		return nil, fmt.Errorf("sip: missing method")
	}

	var recipient sip.Uri
	if err := sip.ParseUri(b.cfg.recipient(), &recipient); err != nil {
		return nil, fmt.Errorf("parsing provider uri: %w", err)
	}

	var req *sip.Request
	switch method {
	case "OPTIONS":
		req = sip.NewRequest(sip.OPTIONS, recipient)
	case "INVITE":
		req = sip.NewRequest(sip.INVITE, recipient)
	case "REGISTER":
		req = sip.NewRequest(sip.REGISTER, recipient)
	default:
		return nil, fmt.Errorf("sip: unsupported raw method %q", method)
	}
	if body != "" {
		req.SetBody([]byte(body))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := b.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sending raw sip request: %w", err)
	}
	defer tx.Terminate()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-tx.Responses():
		return map[string]any{"status_code": res.StatusCode, "reason": res.Reason}, nil
	}
}
