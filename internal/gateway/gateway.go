package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openvocs/vocsd/internal/mixer"
)

// StaticBinding configures a channel bound to a multicast group at startup,
// creating a long-lived playback and record pipeline without client
// mediation (spec.md §4.6), modeled after the teacher's main.go flag-driven
// static setup (-test-user).
type StaticBinding struct {
	Loop             string
	MulticastAddr    string
	PlaybackDeviceID int
	CaptureDeviceID  int
	SSRCToCancel     uint32
}

// DeviceFactory opens the playback/capture devices and RTP sender/mixer
// feed a static binding needs; supplied by the cmd/ binary so this package
// stays free of any direct portaudio/net dependency in its core logic.
type DeviceFactory interface {
	OpenPlayback(deviceID int) (PlaybackDevice, error)
	OpenCapture(deviceID int) (CaptureDevice, error)
	OpenSender(multicastAddr string) (Sender, error)
	NewEncoder() (Encoder, error)
}

// Channel ties together one loop's mixer, playback channel, and capture
// channel for a StaticBinding.
type Channel struct {
	Binding  StaticBinding
	Mixer    *mixer.Mixer
	Playback *PlaybackChannel
	Capture  *CaptureChannel
}

// Open realizes a StaticBinding into a running Channel: opens the playback
// and capture devices, wires the mixer's own SSRC into SSRCToCancel so the
// channel never plays back its own transmission. It does not start the
// mixer's tick loop; Start does that.
func Open(binding StaticBinding, factory DeviceFactory, mixerCfg mixer.Config) (*Channel, error) {
	cancel := binding.SSRCToCancel
	mixerCfg.SSRCToCancel = &cancel
	m := mixer.New(mixerCfg)

	playbackDev, err := factory.OpenPlayback(binding.PlaybackDeviceID)
	if err != nil {
		return nil, fmt.Errorf("open playback device for loop %s: %w", binding.Loop, err)
	}
	captureDev, err := factory.OpenCapture(binding.CaptureDeviceID)
	if err != nil {
		_ = playbackDev.Close()
		return nil, fmt.Errorf("open capture device for loop %s: %w", binding.Loop, err)
	}
	sender, err := factory.OpenSender(binding.MulticastAddr)
	if err != nil {
		_ = playbackDev.Close()
		_ = captureDev.Close()
		return nil, fmt.Errorf("open multicast sender for loop %s: %w", binding.Loop, err)
	}
	encoder, err := factory.NewEncoder()
	if err != nil {
		_ = playbackDev.Close()
		_ = captureDev.Close()
		return nil, fmt.Errorf("create encoder for loop %s: %w", binding.Loop, err)
	}

	samplesPerFrame := mixerCfg.SamplesPerFrame()
	slog.Info("gateway: static binding opened", "loop", binding.Loop, "multicast", binding.MulticastAddr)

	return &Channel{
		Binding: binding,
		Mixer:   m,
		// Playback starts unwired; the caller passes the mixer's Run()
		// channel in once the tick loop has a context to run under.
		Capture: NewCaptureChannel(captureDev, encoder, sender, binding.SSRCToCancel, samplesPerFrame),
		Playback: &PlaybackChannel{
			device:        playbackDev,
			periodSamples: samplesPerFrame,
		},
	}, nil
}

// Start begins the channel's mixer tick loop and wires its chunk output
// into the playback side. Must be called once before driving Playback.Tick.
func (c *Channel) Start(ctx context.Context) {
	c.Playback.chunks = c.Mixer.Run(ctx)
}
