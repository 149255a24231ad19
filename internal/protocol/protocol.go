// Package protocol defines the wire envelope exchanged between clients and
// the session controller, and between the controller and its Backend/
// Frontend collaborators. It generalizes the teacher's per-era ControlMsg
// types into the single envelope spec.md §6 describes.
package protocol

import "github.com/openvocs/vocsd/internal/loop"

// Event names handled by the controller. Exhaustive per spec.md §4.1.
const (
	EventLogin             = "login"
	EventAuthenticate      = "authenticate"
	EventLogout            = "logout"
	EventUpdateLogin       = "update_login"
	EventMedia             = "media"
	EventCandidate         = "candidate"
	EventEndOfCandidates   = "end_of_candidates"
	EventAuthorize         = "authorize"
	EventGet               = "get"
	EventUserRoles         = "user_roles"
	EventRoleLoops         = "role_loops"
	EventSwitchLoopState   = "switch_loop_state"
	EventSwitchLoopVolume  = "switch_loop_volume"
	EventTalking           = "talking"
	EventCall              = "call"
	EventHangup            = "hangup"
	EventPermitCall        = "permit_call"
	EventRevokeCall        = "revoke_call"
	EventListCalls         = "list_calls"
	EventListCallPerms     = "list_call_permissions"
	EventListSIPStatus     = "list_sip_status"
	EventGetRecording      = "get_recording"
	EventSIP               = "sip"
	EventRegister          = "register"
	EventSetKeysetLayout   = "set_keyset_layout"
	EventGetKeysetLayout   = "get_keyset_layout"
	EventSetUserData       = "set_user_data"
	EventGetUserData       = "get_user_data"
	EventSetRolePermission = "set_role_permission"
)

// MessageType classifies how a message was delivered, per spec.md §6.
type MessageType string

const (
	TypeUnicast        MessageType = "unicast"
	TypeLoopBroadcast  MessageType = "loop_broadcast"
	TypeUserBroadcast  MessageType = "user_broadcast"
	TypeRoleBroadcast  MessageType = "role_broadcast"
	TypeSystemBroadcast MessageType = "system_broadcast"
)

// ErrorBody is the error envelope field.
type ErrorBody struct {
	Code        uint64 `json:"code"`
	Description string `json:"description,omitempty"`
}

// Message is the JSON request/response/broadcast envelope to and from
// clients (spec.md §6). Parameter/Response are left as raw maps so each
// event handler can decode the fields it cares about without a combinatorial
// struct.
type Message struct {
	Event     string         `json:"event,omitempty"`
	ID        string         `json:"id,omitempty"`
	Client    string         `json:"client,omitempty"`
	Parameter map[string]any `json:"parameter,omitempty"`
	Response  map[string]any `json:"response,omitempty"`
	Error     *ErrorBody     `json:"error,omitempty"`
	Type      MessageType    `json:"type,omitempty"`
}

// BackendMessage is the envelope exchanged with the mixer-owning Backend and
// the ICE-terminating Frontend (spec.md §6): same shape plus a mandatory
// correlation id that responses MUST echo.
type BackendMessage struct {
	Event     string         `json:"event"`
	ID        string         `json:"id"`
	Parameter map[string]any `json:"parameter,omitempty"`
	Response  map[string]any `json:"response,omitempty"`
	Error     *ErrorBody     `json:"error,omitempty"`
}

// Backend/Frontend event names (spec.md §6).
const (
	BackendRegister     = "register"
	BackendAcquireMixer = "acquire_mixer"
	BackendReleaseMixer = "release_mixer"
	BackendJoinLoop     = "join_loop"
	BackendLeaveLoop    = "leave_loop"
	BackendSetVolume    = "set_volume"
	BackendGetState     = "get_state"

	FrontendCreateSession  = "create_session"
	FrontendUpdateSession  = "update_session"
	FrontendCandidate      = "candidate"
	FrontendEndOfCandidates = "end_of_candidates"
	FrontendTalk           = "talk"
	FrontendDropSession    = "drop_session"
)

// UserInfo is a participant snapshot for loop/user_list style responses.
type UserInfo struct {
	User      string          `json:"user"`
	Role      string          `json:"role"`
	Client    string          `json:"client,omitempty"`
	Loop      string          `json:"loop,omitempty"`
	State     string          `json:"state,omitempty"`
	Permission loop.Permission `json:"-"`
}
