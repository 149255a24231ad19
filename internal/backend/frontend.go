package backend

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/openvocs/vocsd/internal/controller"
	"github.com/openvocs/vocsd/internal/protocol"

	"github.com/pion/webrtc/v4"
)

// FrontendProxy implements controller.FrontendClient by forwarding every
// call to the external Frontend/ICE proxy over a Client connection as one of
// the spec.md §6 Frontend events create_session, candidate,
// end_of_candidates, talk and drop_session; it never sends update_session.
// Offer/candidate payloads are typed
// against pion/webrtc/v4's wire structs before forwarding, so a malformed
// SDP or ICE candidate from the client is rejected here rather than reaching
// the Frontend process.
type FrontendProxy struct {
	client *Client
	logger *slog.Logger
}

// NewFrontendProxy wraps client as a controller.FrontendClient.
func NewFrontendProxy(client *Client, logger *slog.Logger) *FrontendProxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrontendProxy{client: client, logger: logger}
}

func (p *FrontendProxy) CreateSession(socket string, offer map[string]any, cb func(controller.ICEResult)) {
	var sd webrtc.SessionDescription
	if err := decodeInto(offer, &sd); err != nil {
		cb(controller.ICEResult{OK: false, Err: err})
		return
	}
	p.client.Request(protocol.FrontendCreateSession, map[string]any{"socket": socket, "offer": offer}, func(resp protocol.BackendMessage) {
		cb(toICEResult(resp))
	})
}

func (p *FrontendProxy) Candidate(socket string, candidate map[string]any) {
	var c webrtc.ICECandidateInit
	if err := decodeInto(candidate, &c); err != nil {
		p.logger.Warn("frontend: dropping malformed candidate", "socket", socket, "err", err)
		return
	}
	_ = p.client.Notify(protocol.FrontendCandidate, map[string]any{"socket": socket, "candidate": candidate})
}

func (p *FrontendProxy) EndOfCandidates(socket string) {
	_ = p.client.Notify(protocol.FrontendEndOfCandidates, map[string]any{"socket": socket})
}

func (p *FrontendProxy) TalkOn(socket, loopName string, cb func(controller.ICEResult)) {
	p.client.Request(protocol.FrontendTalk, map[string]any{"socket": socket, "loop": loopName, "state": "on"}, func(resp protocol.BackendMessage) {
		cb(toICEResult(resp))
	})
}

func (p *FrontendProxy) TalkOff(socket, loopName string, cb func(controller.ICEResult)) {
	p.client.Request(protocol.FrontendTalk, map[string]any{"socket": socket, "loop": loopName, "state": "off"}, func(resp protocol.BackendMessage) {
		cb(toICEResult(resp))
	})
}

func (p *FrontendProxy) DropSession(socket string) {
	_ = p.client.Notify(protocol.FrontendDropSession, map[string]any{"socket": socket})
}

func toICEResult(resp protocol.BackendMessage) controller.ICEResult {
	if resp.Error != nil {
		return controller.ICEResult{OK: false, Err: errors.New(resp.Error.Description)}
	}
	return controller.ICEResult{OK: true}
}

// decodeInto re-marshals params (already-decoded JSON, since Message carries
// Parameter as map[string]any) and unmarshals it into dst, so a field of the
// wrong JSON type gives the caller a typed error instead of a silent
// pass-through. Unknown and missing fields are not rejected.
func decodeInto(params map[string]any, dst any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
