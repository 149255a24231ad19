package controller

import (
	"github.com/openvocs/vocsd/internal/protocol"
	"github.com/openvocs/vocsd/internal/result"
)

// handleSIPEvent forwards the call-control surface (call, hangup,
// permit_call, revoke_call, list_calls, list_call_permissions,
// list_sip_status, sip, register) to the SIP bridge. These are synchronous
// from the controller's point of view: the bridge either has an answer
// immediately or the controller surfaces its error, without a chained
// suspension (unlike the media/loop state machines, spec.md §4.1 does not
// describe these as part of the media suspension protocol).
func (c *Controller) handleSIPEvent(cn *conn, msg protocol.Message) {
	if !cn.authenticated {
		c.sendError(cn, msg.ID, result.ErrNotAuthenticated, "not authenticated")
		return
	}
	if c.cfg.SIP == nil {
		c.sendError(cn, msg.ID, result.ErrConfig, "SIP bridge not configured")
		return
	}

	var (
		resp map[string]any
		err  error
	)
	switch msg.Event {
	case protocol.EventCall:
		resp, err = c.cfg.SIP.Call(cn.socket, msg.Parameter)
	case protocol.EventHangup:
		resp, err = c.cfg.SIP.Hangup(cn.socket, msg.Parameter)
	case protocol.EventPermitCall:
		resp, err = c.cfg.SIP.PermitCall(cn.socket, msg.Parameter)
	case protocol.EventRevokeCall:
		resp, err = c.cfg.SIP.RevokeCall(cn.socket, msg.Parameter)
	case protocol.EventListCalls:
		resp, err = c.cfg.SIP.ListCalls(cn.socket)
	case protocol.EventListCallPerms:
		resp, err = c.cfg.SIP.ListCallPermissions(cn.socket)
	case protocol.EventListSIPStatus:
		resp, err = c.cfg.SIP.ListSIPStatus(cn.socket)
	case protocol.EventSIP:
		resp, err = c.cfg.SIP.RawSIP(cn.socket, msg.Parameter)
	case protocol.EventRegister:
		resp, err = c.cfg.SIP.Register(cn.socket, msg.Parameter)
	default:
		c.sendError(cn, msg.ID, result.ErrInput, "unhandled SIP event: "+msg.Event)
		return
	}
	if err != nil {
		c.sendError(cn, msg.ID, result.ErrBackendLost, err.Error())
		return
	}
	c.sendResponse(cn, msg.ID, resp)
}

func (c *Controller) handleGetRecording(cn *conn, msg protocol.Message) {
	if !cn.authenticated {
		c.sendError(cn, msg.ID, result.ErrNotAuthenticated, "not authenticated")
		return
	}
	if c.cfg.Recordings == nil {
		c.sendError(cn, msg.ID, result.ErrConfig, "recording store not configured")
		return
	}
	id := paramString(msg.Parameter, "id")
	if id == "" {
		c.sendError(cn, msg.ID, result.ErrParameterMissing, "id is required")
		return
	}
	uri, err := c.cfg.Recordings.GetRecording(id)
	if err != nil {
		c.sendError(cn, msg.ID, result.ErrNotFound, err.Error())
		return
	}
	c.sendResponse(cn, msg.ID, map[string]any{"id": id, "uri": uri})
}
