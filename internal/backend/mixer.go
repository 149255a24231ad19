package backend

import (
	"errors"

	"github.com/openvocs/vocsd/internal/controller"
	"github.com/openvocs/vocsd/internal/protocol"
)

// MixerProxy implements controller.MixerClient by forwarding every call to
// the external Backend process over a Client connection (spec.md §6 Backend
// events: acquire_mixer, release_mixer, join_loop, leave_loop, set_volume).
type MixerProxy struct {
	client *Client
}

// NewMixerProxy wraps client as a controller.MixerClient.
func NewMixerProxy(client *Client) *MixerProxy {
	return &MixerProxy{client: client}
}

func (p *MixerProxy) AcquireMixer(socket string, cb func(controller.MixerResult)) {
	p.client.Request(protocol.BackendAcquireMixer, map[string]any{"socket": socket}, func(resp protocol.BackendMessage) {
		cb(toMixerResult(resp))
	})
}

func (p *MixerProxy) ReleaseMixer(socket string) {
	_ = p.client.Notify(protocol.BackendReleaseMixer, map[string]any{"socket": socket})
}

func (p *MixerProxy) JoinLoop(socket, loopName string, cb func(controller.MixerResult)) {
	p.client.Request(protocol.BackendJoinLoop, map[string]any{"socket": socket, "loop": loopName}, func(resp protocol.BackendMessage) {
		cb(toMixerResult(resp))
	})
}

func (p *MixerProxy) LeaveLoop(socket, loopName string, cb func(controller.MixerResult)) {
	p.client.Request(protocol.BackendLeaveLoop, map[string]any{"socket": socket, "loop": loopName}, func(resp protocol.BackendMessage) {
		cb(toMixerResult(resp))
	})
}

func (p *MixerProxy) SetVolume(socket, loopName string, volume int, cb func(controller.MixerResult)) {
	p.client.Request(protocol.BackendSetVolume, map[string]any{"socket": socket, "loop": loopName, "volume": volume}, func(resp protocol.BackendMessage) {
		cb(toMixerResult(resp))
	})
}

func toMixerResult(resp protocol.BackendMessage) controller.MixerResult {
	if resp.Error != nil {
		return controller.MixerResult{OK: false, Err: errors.New(resp.Error.Description)}
	}
	return controller.MixerResult{OK: true}
}
