// Package controller implements the session/participation controller
// (spec.md §4.1): per-connection state, event dispatch, the media setup
// state machine, the loop-switch chain, and connection teardown. It is the
// hub wiring together internal/correlator, internal/broadcast, internal/loop
// and internal/sessions, grounded on the teacher's internal/core.ChannelState
// (single RWMutex-guarded map, snapshot-then-release reads, sync/atomic
// counters, structured slog logging) generalized from chat presence to
// voice-loop participation.
package controller

// Transport is the per-socket outbound channel: one unicast response/event
// write, plus the ability to close the underlying connection on drop.
type Transport interface {
	Send(msg any) error
	Close() error
}

// CredentialStore validates a (user, password) pair against the local
// credential backend, used when the directory service is disabled or absent.
type CredentialStore interface {
	Verify(user, password string) bool
}

// BindResult is delivered to the callback passed to Directory.Bind.
type BindResult struct {
	OK  bool
	Err error
}

// Directory is the LDAP external collaborator boundary (spec.md §4.1 step 2;
// Non-goals scope out an actual LDAP client — see DESIGN.md). Bind is
// asynchronous: the implementation calls done exactly once, from any
// goroutine, once the remote bind completes.
type Directory interface {
	Bind(user, password string, done func(BindResult))
}

// RoleStore resolves which roles a user may assume. Per-role loop
// permissions are NOT duplicated here: internal/loop.Loop already owns that
// table (SetRolePermission/RolePermission), so the Controller consults the
// loop.Table directly rather than through a second collaborator.
type RoleStore interface {
	// Validate reports whether user may assume role.
	Validate(user, role string) bool
	// RolesForUser lists the roles user is permitted to assume.
	RolesForUser(user string) []string
}

// MixerResult reports the outcome of an asynchronous mixer operation.
type MixerResult struct {
	OK  bool
	Err error
}

// MixerClient is the mixer-acquisition and loop-membership collaborator.
// Every method suspends: the controller registers a correlation id and
// resumes when cb fires (spec.md §5 suspension-point discipline).
type MixerClient interface {
	AcquireMixer(socket string, cb func(MixerResult))
	ReleaseMixer(socket string)
	JoinLoop(socket, loopName string, cb func(MixerResult))
	LeaveLoop(socket, loopName string, cb func(MixerResult))
	SetVolume(socket, loopName string, volume int, cb func(MixerResult))
}

// ICEResult reports the outcome of an asynchronous ICE/frontend operation.
type ICEResult struct {
	OK  bool
	Err error
}

// FrontendClient is the ICE/media-session collaborator on the client-facing
// side of the media state machine.
type FrontendClient interface {
	CreateSession(socket string, offer map[string]any, cb func(ICEResult))
	Candidate(socket string, candidate map[string]any)
	EndOfCandidates(socket string)
	TalkOn(socket, loopName string, cb func(ICEResult))
	TalkOff(socket, loopName string, cb func(ICEResult))
	DropSession(socket string)
}

// SIPBridge fronts the call-control surface (spec.md §4.1 event list: call,
// hangup, permit_call, revoke_call, list_calls, list_call_permissions,
// list_sip_status, sip, register). Implemented by internal/sip.
type SIPBridge interface {
	Call(socket string, params map[string]any) (map[string]any, error)
	Hangup(socket string, params map[string]any) (map[string]any, error)
	PermitCall(socket string, params map[string]any) (map[string]any, error)
	RevokeCall(socket string, params map[string]any) (map[string]any, error)
	ListCalls(socket string) (map[string]any, error)
	ListCallPermissions(socket string) (map[string]any, error)
	ListSIPStatus(socket string) (map[string]any, error)
	RawSIP(socket string, params map[string]any) (map[string]any, error)
	Register(socket string, params map[string]any) (map[string]any, error)
}

// RecordingStore resolves a recording id to its playback location.
type RecordingStore interface {
	GetRecording(id string) (uri string, err error)
}
