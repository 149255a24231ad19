package main

import (
	"fmt"
	"net"

	"github.com/openvocs/vocsd/internal/gateway"

	"github.com/gordonklaus/portaudio"
	"gopkg.in/hraban/opus.v2"
)

// portaudioFactory implements gateway.DeviceFactory against real hardware,
// grounded on the teacher client's audio.go Start() (device resolution,
// portaudio.StreamParameters, stream open/start sequencing) — adapted from
// one bidirectional client stream pair to the gateway's separate playback
// and capture channels per statically-bound loop.
type portaudioFactory struct {
	sampleRate      int
	samplesPerFrame int
}

func newPortaudioFactory(sampleRate, samplesPerFrame int) *portaudioFactory {
	return &portaudioFactory{sampleRate: sampleRate, samplesPerFrame: samplesPerFrame}
}

func (f *portaudioFactory) OpenPlayback(deviceID int) (gateway.PlaybackDevice, error) {
	dev, err := resolveDevice(deviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		return nil, err
	}
	buf := make([]float32, f.samplesPerFrame)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(f.sampleRate),
		FramesPerBuffer: f.samplesPerFrame,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open playback stream on %s: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start playback stream on %s: %w", dev.Name, err)
	}
	return &paPlaybackDevice{stream: stream, buf: buf}, nil
}

func (f *portaudioFactory) OpenCapture(deviceID int) (gateway.CaptureDevice, error) {
	dev, err := resolveDevice(deviceID, portaudio.DefaultInputDevice)
	if err != nil {
		return nil, err
	}
	buf := make([]float32, f.samplesPerFrame)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(f.sampleRate),
		FramesPerBuffer: f.samplesPerFrame,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open capture stream on %s: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start capture stream on %s: %w", dev.Name, err)
	}
	return &paCaptureDevice{stream: stream, buf: buf}, nil
}

func (f *portaudioFactory) OpenSender(multicastAddr string) (gateway.Sender, error) {
	addr, err := net.ResolveUDPAddr("udp", multicastAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve multicast addr %s: %w", multicastAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial multicast %s: %w", multicastAddr, err)
	}
	return &udpSender{conn: conn}, nil
}

func (f *portaudioFactory) NewEncoder() (gateway.Encoder, error) {
	return opus.NewEncoder(f.sampleRate, 1, opus.AppVoIP)
}

func resolveDevice(idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx < 0 {
		return fallback()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if idx >= len(devices) {
		return nil, fmt.Errorf("device index %d out of range (have %d devices)", idx, len(devices))
	}
	return devices[idx], nil
}

type paPlaybackDevice struct {
	stream *portaudio.Stream
	buf    []float32
}

func (d *paPlaybackDevice) Write(period []float32) error {
	copy(d.buf, period)
	return d.stream.Write()
}

func (d *paPlaybackDevice) Close() error {
	d.stream.Stop()
	return d.stream.Close()
}

type paCaptureDevice struct {
	stream *portaudio.Stream
	buf    []float32
}

func (d *paCaptureDevice) Read() ([]float32, error) {
	if err := d.stream.Read(); err != nil {
		return nil, err
	}
	out := make([]float32, len(d.buf))
	copy(out, d.buf)
	return out, nil
}

func (d *paCaptureDevice) Close() error {
	d.stream.Stop()
	return d.stream.Close()
}

// udpSender is the "socket owned by the capture thread alone" spec.md §5
// calls for: one dialed UDP socket per CaptureChannel, written to only from
// CaptureChannel.Pump's goroutine.
type udpSender struct {
	conn *net.UDPConn
}

func (s *udpSender) Send(packet []byte) error {
	_, err := s.conn.Write(packet)
	return err
}

func (s *udpSender) Close() error {
	return s.conn.Close()
}
