// Command vocs-gateway is the ALSA/PortAudio hardware endpoint for one
// statically-bound loop (spec.md §4.6): it mixes the loop's multicast RTP
// into a playback stream and encodes its own capture stream back onto the
// same multicast group, without any client mediation.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openvocs/vocsd/internal/config"
	"github.com/openvocs/vocsd/internal/gateway"
	"github.com/openvocs/vocsd/internal/mixer"

	"github.com/gordonklaus/portaudio"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		slog.Error("parse flags", "err", err)
		os.Exit(1)
	}
	if cfg.GatewayLoop == "" || cfg.GatewayMulticastAddr == "" {
		slog.Error("vocs-gateway requires -loop and -multicast-addr")
		os.Exit(1)
	}

	if err := portaudio.Initialize(); err != nil {
		slog.Error("portaudio init", "err", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	if err := run(cfg); err != nil {
		slog.Error("vocs-gateway exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mixerCfg := mixer.Config{
		FrameLengthMs: cfg.MixerFrameLengthMs,
		SampleRate:    cfg.MixerSampleRate,
	}
	samplesPerFrame := mixerCfg.SamplesPerFrame()
	if samplesPerFrame <= 0 {
		samplesPerFrame = mixer.DefaultFrameLengthMs * mixer.DefaultSampleRate / 1000
	}

	factory := newPortaudioFactory(cfg.MixerSampleRate, samplesPerFrame)

	binding := gateway.StaticBinding{
		Loop:             cfg.GatewayLoop,
		MulticastAddr:    cfg.GatewayMulticastAddr,
		PlaybackDeviceID: cfg.PlaybackDeviceID,
		CaptureDeviceID:  cfg.CaptureDeviceID,
		SSRCToCancel:     uint32(cfg.SSRCToCancel),
	}

	channel, err := gateway.Open(binding, factory, mixerCfg)
	if err != nil {
		return err
	}
	defer channel.Playback.Close()
	defer channel.Capture.Close()

	recv, err := listenMulticast(cfg.GatewayMulticastAddr)
	if err != nil {
		return err
	}
	defer recv.Close()

	channel.Start(ctx)

	go pumpMulticastIntoMixer(ctx, recv, channel.Mixer)
	go pumpCapture(ctx, channel.Capture)

	slog.Info("vocs-gateway bound", "loop", binding.Loop, "multicast", binding.MulticastAddr)

	tickPeriod := time.Duration(mixerCfg.FrameLengthMs) * time.Millisecond
	if tickPeriod <= 0 {
		tickPeriod = mixer.DefaultFrameLengthMs * time.Millisecond
	}
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			switch channel.Playback.Tick() {
			case gateway.PlaybackFailed:
				slog.Error("playback device write failed", "loop", binding.Loop)
			case gateway.PlaybackInsufficient:
				slog.Debug("playback underrun", "loop", binding.Loop)
			}
		}
	}
}

// listenMulticast joins the loop's multicast group for inbound RTP.
func listenMulticast(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenMulticastUDP("udp", nil, udpAddr)
}

// pumpMulticastIntoMixer feeds arriving RTP packets into the mixer's
// per-SSRC reorder buffers until ctx is canceled.
func pumpMulticastIntoMixer(ctx context.Context, conn *net.UDPConn, m *mixer.Mixer) {
	buf := make([]byte, 1500)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		if err := m.Push(packet); err != nil {
			slog.Debug("mixer push failed", "err", err)
		}
	}
}

// pumpCapture drives the capture channel's blocking hardware read loop.
func pumpCapture(ctx context.Context, capture *gateway.CaptureChannel) {
	for ctx.Err() == nil {
		if err := capture.Pump(); err != nil {
			slog.Error("capture pump failed", "err", err)
			return
		}
	}
}
