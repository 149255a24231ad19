package controller

import (
	"github.com/google/uuid"

	"github.com/openvocs/vocsd/internal/broadcast"
	"github.com/openvocs/vocsd/internal/correlator"
	"github.com/openvocs/vocsd/internal/loop"
	"github.com/openvocs/vocsd/internal/protocol"
	"github.com/openvocs/vocsd/internal/result"
)

// handleMedia drives the media setup state machine (spec.md §4.1 diagram).
func (c *Controller) handleMedia(cn *conn, msg protocol.Message) {
	if !cn.authenticated || cn.role == "" {
		c.sendError(cn, msg.ID, result.ErrNotAuthenticated, "authenticate and authorize first")
		return
	}

	switch cn.media {
	case MediaIdle:
		if c.cfg.Mixer == nil || c.cfg.Frontend == nil {
			c.sendError(cn, msg.ID, result.ErrConfig, "media subsystem not configured")
			return
		}
		c.mu.Lock()
		cn.media = MediaICEPending
		cn.mediaRequest = msg.ID
		c.mu.Unlock()

		c.cfg.Mixer.AcquireMixer(cn.socket, func(res MixerResult) { c.onMixerAcquireResult(cn.socket, res) })
		c.cfg.Frontend.CreateSession(cn.socket, msg.Parameter, func(res ICEResult) { c.onICESessionResult(cn.socket, res) })

	case MediaICEOfferSent:
		if _, hasAnswer := msg.Parameter["answer"]; hasAnswer {
			c.mu.Lock()
			cn.media = MediaICENegotiating
			c.mu.Unlock()
			c.sendResponse(cn, msg.ID, map[string]any{"state": cn.media.String()})
			return
		}
		c.sendError(cn, msg.ID, result.ErrInput, "expected an answer in current media state")

	default:
		c.sendError(cn, msg.ID, result.ErrInput, "media setup already in progress or complete")
	}
}

func (c *Controller) onMixerAcquireResult(socket string, res MixerResult) {
	c.mu.Lock()
	cn, ok := c.connections[socket]
	c.mu.Unlock()
	if !ok {
		return
	}
	if !res.OK {
		if cn.mediaRequest != "" {
			c.sendError(cn, cn.mediaRequest, result.ErrBackendLost, "mixer acquisition failed")
		}
		c.Drop(socket)
		return
	}
	c.mu.Lock()
	cn.mixerReady = true
	if cn.media == MediaICEPending || cn.media == MediaICEOfferSent || cn.media == MediaICENegotiating {
		cn.media = MediaMixerAcquired
	}
	c.mu.Unlock()
	c.checkMediaReady(cn)
}

func (c *Controller) onICESessionResult(socket string, res ICEResult) {
	c.mu.Lock()
	cn, ok := c.connections[socket]
	c.mu.Unlock()
	if !ok {
		return
	}
	if !res.OK {
		if cn.mediaRequest != "" {
			c.sendError(cn, cn.mediaRequest, result.ErrBackendLost, "ICE session creation failed")
		}
		c.Drop(socket)
		return
	}
	c.mu.Lock()
	if cn.media == MediaICEPending {
		cn.media = MediaICEOfferSent
	}
	c.mu.Unlock()
	if cn.mediaRequest != "" {
		c.sendResponse(cn, cn.mediaRequest, map[string]any{"state": cn.media.String()})
	}
}

// OnICECompleted is the external hook the ICE/frontend subsystem calls once
// negotiation finishes out of band (spec.md §4.1 "[ice completed]").
func (c *Controller) OnICECompleted(socket string) {
	c.mu.Lock()
	cn, ok := c.connections[socket]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.mu.Lock()
	cn.iceReady = true
	c.mu.Unlock()
	c.checkMediaReady(cn)
}

// OnMixerLost handles the out-of-band "mixer lost" event: drop the
// connection, keeping the mixer side untouched since it has already been
// destroyed (spec.md §4.1 Failure semantics).
func (c *Controller) OnMixerLost(socket string) {
	c.mu.Lock()
	cn, ok := c.connections[socket]
	if ok {
		cn.mixerReady = false // already gone; Drop must not try to release it again
	}
	c.mu.Unlock()
	if ok {
		c.Drop(socket)
	}
}

// checkMediaReady emits media_ready exactly once, when both ICE completion
// and mixer acquisition have occurred.
func (c *Controller) checkMediaReady(cn *conn) {
	c.mu.Lock()
	ready := cn.iceReady && cn.mixerReady && cn.media != MediaBothReady
	if ready {
		cn.media = MediaBothReady
	}
	c.mu.Unlock()
	if !ready {
		return
	}
	_ = cn.tr.Send(protocol.Message{
		Event:    protocol.EventMedia,
		Type:     protocol.TypeUnicast,
		Response: map[string]any{"media_ready": true},
	})
}

func (c *Controller) handleCandidate(cn *conn, msg protocol.Message) {
	if c.cfg.Frontend != nil {
		c.cfg.Frontend.Candidate(cn.socket, msg.Parameter)
	}
}

func (c *Controller) handleEndOfCandidates(cn *conn, msg protocol.Message) {
	if c.cfg.Frontend != nil {
		c.cfg.Frontend.EndOfCandidates(cn.socket)
	}
}

// switchChainPayload threads context through the switch_loop_state chain:
// mixer-join -> [talk-on] -> respond, or talk-off -> mixer-leave -> respond.
type switchChainPayload struct {
	socket, requestID, loopName string
	target                      loop.Permission
}

func (p switchChainPayload) RequestID() string { return p.requestID }

// handleSwitchLoopState implements the loop switch request (spec.md §4.1).
func (c *Controller) handleSwitchLoopState(cn *conn, msg protocol.Message) {
	if !cn.authenticated || cn.role == "" || cn.sessionToken == "" {
		c.sendError(cn, msg.ID, result.ErrNotAuthenticated, "user, role and session are required")
		return
	}
	if cn.media != MediaBothReady {
		c.sendError(cn, msg.ID, result.ErrInput, "ICE and mixer must both be ready")
		return
	}

	loopName := paramString(msg.Parameter, "loop")
	stateStr := paramString(msg.Parameter, "state")
	if loopName == "" || stateStr == "" {
		c.sendError(cn, msg.ID, result.ErrParameterMissing, "loop and state are required")
		return
	}
	target, ok := loop.ParsePermission(stateStr)
	if !ok {
		c.sendError(cn, msg.ID, result.ErrInput, "state must be one of none, recv, send")
		return
	}

	rolePerm := c.loops.GetOrCreate(loopName).RolePermission(cn.role)
	if target > rolePerm {
		c.sendError(cn, msg.ID, result.ErrPermission, "role does not permit the requested state on this loop")
		return
	}

	current := cn.loopPermission(loopName)
	if current == target {
		c.sendResponse(cn, msg.ID, map[string]any{"loop": loopName, "state": target.String()})
		return
	}

	switch {
	case current == loop.None:
		c.switchLoopJoin(cn, msg.ID, loopName, target)
	case current == loop.Recv && target == loop.Send:
		c.switchLoopTalk(cn, msg.ID, loopName, true, func(cn2 *conn) {
			c.sendResponse(cn2, msg.ID, map[string]any{"loop": loopName, "state": loop.Send.String()})
		})
	case current == loop.Send && target == loop.Recv:
		c.switchLoopTalk(cn, msg.ID, loopName, false, func(cn2 *conn) {
			c.sendResponse(cn2, msg.ID, map[string]any{"loop": loopName, "state": loop.Recv.String()})
		})
	case target == loop.None:
		if current == loop.Send {
			c.switchLoopTalk(cn, msg.ID, loopName, false, func(cn2 *conn) {
				c.switchLoopLeave(cn2, msg.ID, loopName)
			})
		} else {
			c.switchLoopLeave(cn, msg.ID, loopName)
		}
	}
}

func (c *Controller) switchLoopJoin(cn *conn, requestID, loopName string, target loop.Permission) {
	if c.cfg.Mixer == nil {
		c.sendError(cn, requestID, result.ErrConfig, "mixer not configured")
		return
	}
	stepID := uuid.NewString()
	payload := switchChainPayload{socket: cn.socket, requestID: requestID, loopName: loopName, target: target}
	c.correlator.Set(stepID, correlator.Entry{Socket: cn.socket, Payload: payload, OnTimeout: c.onRequestTimeout}, c.cfg.RequestTimeout)

	c.cfg.Mixer.JoinLoop(cn.socket, loopName, func(res MixerResult) {
		entry, ok := c.correlator.Unset(stepID)
		if !ok {
			return
		}
		p := entry.Payload.(switchChainPayload)
		c.mu.Lock()
		connection, live := c.connections[p.socket]
		c.mu.Unlock()
		if !live {
			return
		}
		if !res.OK {
			c.sendError(connection, p.requestID, result.ErrBackendLost, "mixer join failed")
			return
		}
		c.syncLoopMembership(connection, p.loopName, loop.Recv)
		c.broadcastLoopState(connection, p.loopName, loop.Recv)

		if p.target == loop.Send {
			c.switchLoopTalk(connection, p.requestID, p.loopName, true, func(cn2 *conn) {
				c.sendResponse(cn2, p.requestID, map[string]any{"loop": p.loopName, "state": loop.Send.String()})
			})
			return
		}
		c.sendResponse(connection, p.requestID, map[string]any{"loop": p.loopName, "state": loop.Recv.String()})
	})
}

func (c *Controller) switchLoopTalk(cn *conn, requestID, loopName string, on bool, onDone func(*conn)) {
	if c.cfg.Frontend == nil {
		c.sendError(cn, requestID, result.ErrConfig, "frontend not configured")
		return
	}
	targetPerm := loop.Recv
	if on {
		targetPerm = loop.Send
	}
	stepID := uuid.NewString()
	payload := switchChainPayload{socket: cn.socket, requestID: requestID, loopName: loopName, target: targetPerm}
	c.correlator.Set(stepID, correlator.Entry{Socket: cn.socket, Payload: payload, OnTimeout: c.onRequestTimeout}, c.cfg.RequestTimeout)

	cb := func(res ICEResult) {
		entry, ok := c.correlator.Unset(stepID)
		if !ok {
			return
		}
		p := entry.Payload.(switchChainPayload)
		c.mu.Lock()
		connection, live := c.connections[p.socket]
		c.mu.Unlock()
		if !live {
			return
		}
		if !res.OK {
			c.sendError(connection, p.requestID, result.ErrBackendLost, "talk toggle failed")
			return
		}
		c.syncLoopMembership(connection, p.loopName, p.target)
		c.mu.Lock()
		if on {
			connection.talkingLoop = p.loopName
		} else if connection.talkingLoop == p.loopName {
			connection.talkingLoop = ""
		}
		c.mu.Unlock()
		c.broadcastLoopState(connection, p.loopName, p.target)
		onDone(connection)
	}
	if on {
		c.cfg.Frontend.TalkOn(cn.socket, loopName, cb)
	} else {
		c.cfg.Frontend.TalkOff(cn.socket, loopName, cb)
	}
}

func (c *Controller) switchLoopLeave(cn *conn, requestID, loopName string) {
	if c.cfg.Mixer == nil {
		c.sendError(cn, requestID, result.ErrConfig, "mixer not configured")
		return
	}
	stepID := uuid.NewString()
	payload := switchChainPayload{socket: cn.socket, requestID: requestID, loopName: loopName, target: loop.None}
	c.correlator.Set(stepID, correlator.Entry{Socket: cn.socket, Payload: payload, OnTimeout: c.onRequestTimeout}, c.cfg.RequestTimeout)

	c.cfg.Mixer.LeaveLoop(cn.socket, loopName, func(res MixerResult) {
		entry, ok := c.correlator.Unset(stepID)
		if !ok {
			return
		}
		p := entry.Payload.(switchChainPayload)
		c.mu.Lock()
		connection, live := c.connections[p.socket]
		c.mu.Unlock()
		if !live {
			return
		}
		if !res.OK {
			c.sendError(connection, p.requestID, result.ErrBackendLost, "mixer leave failed")
			return
		}
		c.syncLoopMembership(connection, p.loopName, loop.None)
		c.broadcastLoopState(connection, p.loopName, loop.None)
		c.sendResponse(connection, p.requestID, map[string]any{"loop": p.loopName, "state": loop.None.String()})
	})
}

func (c *Controller) broadcastLoopState(cn *conn, loopName string, state loop.Permission) {
	c.broadcast.Send(broadcast.ScopeLoop, loopName, protocol.Message{
		Type: protocol.TypeLoopBroadcast,
		Parameter: map[string]any{
			"loop": loopName, "user": cn.user, "role": cn.role, "state": state.String(),
		},
	})
}

// syncLoopMembership keeps a connection's local loop-permission map and the
// shared loop.Table's participant record in lockstep: the former is what
// switch_loop_state/talking consult for fast per-connection checks, the
// latter is what Drop's LeaveAll and any external query of loop membership
// (e.g. an admin "who is in this loop" lookup) consult.
func (c *Controller) syncLoopMembership(cn *conn, loopName string, perm loop.Permission) {
	c.mu.Lock()
	volume := 0
	if ls, ok := cn.loops[loopName]; ok {
		volume = ls.volume
	}
	cn.setLoopPermission(loopName, perm)
	client, user, role := cn.client, cn.user, cn.role
	c.mu.Unlock()

	l := c.loops.GetOrCreate(loopName)
	if perm == loop.None {
		l.Leave(cn.socket)
		return
	}
	l.Join(loop.Participant{Socket: cn.socket, Client: client, User: user, Role: role, Permission: perm, Volume: volume})
}

// handleSwitchLoopVolume forwards a per-loop gain change to the mixer.
func (c *Controller) handleSwitchLoopVolume(cn *conn, msg protocol.Message) {
	if !cn.authenticated {
		c.sendError(cn, msg.ID, result.ErrNotAuthenticated, "not authenticated")
		return
	}
	loopName := paramString(msg.Parameter, "loop")
	volume, ok := paramInt(msg.Parameter, "volume")
	if loopName == "" || !ok || volume < 0 || volume > 100 {
		c.sendError(cn, msg.ID, result.ErrInput, "loop and volume in [0,100] are required")
		return
	}
	if cn.loopPermission(loopName) == loop.None {
		c.sendError(cn, msg.ID, result.ErrPermission, "not a member of the loop")
		return
	}
	if c.cfg.Mixer == nil {
		c.sendError(cn, msg.ID, result.ErrConfig, "mixer not configured")
		return
	}

	stepID := uuid.NewString()
	payload := switchChainPayload{socket: cn.socket, requestID: msg.ID, loopName: loopName}
	c.correlator.Set(stepID, correlator.Entry{Socket: cn.socket, Payload: payload, OnTimeout: c.onRequestTimeout}, c.cfg.RequestTimeout)

	c.cfg.Mixer.SetVolume(cn.socket, loopName, volume, func(res MixerResult) {
		entry, ok := c.correlator.Unset(stepID)
		if !ok {
			return
		}
		p := entry.Payload.(switchChainPayload)
		c.mu.Lock()
		connection, live := c.connections[p.socket]
		if live {
			if ls, ok := connection.loops[p.loopName]; ok {
				ls.volume = volume
			}
		}
		c.mu.Unlock()
		if !live {
			return
		}
		if !res.OK {
			c.sendError(connection, p.requestID, result.ErrBackendLost, "volume change failed")
			return
		}
		c.loops.GetOrCreate(p.loopName).SetVolume(p.socket, volume)
		c.broadcast.Send(broadcast.ScopeUser, connection.user, protocol.Message{
			Type: protocol.TypeUserBroadcast,
			Parameter: map[string]any{
				"loop": p.loopName, "volume": volume,
			},
		})
		c.sendResponse(connection, p.requestID, map[string]any{"loop": p.loopName, "volume": volume})
	})
}

// handleTalking reports PTT activity on a loop the connection already holds
// SEND permission on.
func (c *Controller) handleTalking(cn *conn, msg protocol.Message) {
	if !cn.authenticated {
		c.sendError(cn, msg.ID, result.ErrNotAuthenticated, "not authenticated")
		return
	}
	loopName := paramString(msg.Parameter, "loop")
	state := paramString(msg.Parameter, "state")
	if loopName == "" {
		c.sendError(cn, msg.ID, result.ErrParameterMissing, "loop is required")
		return
	}
	if cn.loopPermission(loopName) != loop.Send {
		c.sendError(cn, msg.ID, result.ErrPermission, "not permitted to talk on this loop")
		return
	}
	c.broadcast.Send(broadcast.ScopeLoop, loopName, protocol.Message{
		Type: protocol.TypeLoopBroadcast,
		Parameter: map[string]any{
			"user": cn.user, "role": cn.role, "loop": loopName, "state": state,
		},
	})
	c.sendResponse(cn, msg.ID, map[string]any{})
}
