package gateway

import (
	"sync"
	"testing"

	"github.com/pion/rtp"
)

type fakePlaybackDevice struct {
	mu      sync.Mutex
	writes  [][]float32
	failing bool
}

func (f *fakePlaybackDevice) Write(period []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errFailed
	}
	cp := make([]float32, len(period))
	copy(cp, period)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakePlaybackDevice) Close() error { return nil }

var errFailed = &fakeErr{"device failed"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func isSilence(buf []float32) bool {
	for _, v := range buf {
		if v != 0 {
			return false
		}
	}
	return true
}

func TestPlaybackTickOKWhenChunkAvailable(t *testing.T) {
	chunks := make(chan []int16, 1)
	chunks <- []int16{1, 2, 3, 4}
	dev := &fakePlaybackDevice{}
	p := NewPlaybackChannel(dev, 4, chunks)

	if outcome := p.Tick(); outcome != PlaybackOK {
		t.Fatalf("expected OK, got %v", outcome)
	}
	if len(dev.writes) != 1 || isSilence(dev.writes[0]) {
		t.Fatalf("expected a non-silent write, got %v", dev.writes)
	}
}

func TestPlaybackInsufficientThenPreBuffers(t *testing.T) {
	chunks := make(chan []int16, 4)
	dev := &fakePlaybackDevice{}
	p := NewPlaybackChannel(dev, 4, chunks)

	// No chunk yet: INSUFFICIENT, enters after-interrupt.
	if outcome := p.Tick(); outcome != PlaybackInsufficient {
		t.Fatalf("expected INSUFFICIENT on empty input, got %v", outcome)
	}

	// One chunk arrives — still below preBufferFrames(2), stays INSUFFICIENT.
	chunks <- []int16{1, 1, 1, 1}
	if outcome := p.Tick(); outcome != PlaybackInsufficient {
		t.Fatalf("expected INSUFFICIENT while pre-buffering, got %v", outcome)
	}

	// Second chunk arrives — now at preBufferFrames, resumes normal flow.
	chunks <- []int16{2, 2, 2, 2}
	if outcome := p.Tick(); outcome != PlaybackOK {
		t.Fatalf("expected OK once pre-buffered, got %v", outcome)
	}
}

func TestPlaybackFailedOnDeviceError(t *testing.T) {
	chunks := make(chan []int16, 1)
	chunks <- []int16{1, 2, 3, 4}
	dev := &fakePlaybackDevice{failing: true}
	p := NewPlaybackChannel(dev, 4, chunks)

	if outcome := p.Tick(); outcome != PlaybackFailed {
		t.Fatalf("expected FAILED, got %v", outcome)
	}
}

type fakeCaptureDevice struct {
	periods [][]float32
	i       int
}

func (f *fakeCaptureDevice) Read() ([]float32, error) {
	if f.i >= len(f.periods) {
		return nil, errFailed
	}
	p := f.periods[f.i]
	f.i++
	return p, nil
}

func (f *fakeCaptureDevice) Close() error { return nil }

type passthroughEncoder struct{}

func (passthroughEncoder) Encode(pcm []int16, out []byte) (int, error) {
	n := 0
	for _, s := range pcm {
		out[n] = byte(s)
		out[n+1] = byte(s >> 8)
		n += 2
	}
	return n, nil
}

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) Send(packet []byte) error {
	cp := make([]byte, len(packet))
	copy(cp, packet)
	f.sent = append(f.sent, cp)
	return nil
}

func TestCaptureChannelChunksAndSendsMonotonicRTP(t *testing.T) {
	// Two periods of 2 samples each fill one 4-sample frame.
	dev := &fakeCaptureDevice{periods: [][]float32{
		{0.1, 0.2},
		{0.3, 0.4},
		{0.5, 0.6},
		{0.7, 0.8},
	}}
	sender := &fakeSender{}
	c := NewCaptureChannel(dev, passthroughEncoder{}, sender, 7, 4)

	for i := 0; i < 4; i++ {
		if err := c.Pump(); err != nil {
			t.Fatalf("pump %d: %v", i, err)
		}
	}

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 RTP frames sent, got %d", len(sender.sent))
	}

	var first, second rtp.Packet
	if err := first.Unmarshal(sender.sent[0]); err != nil {
		t.Fatalf("unmarshal first packet: %v", err)
	}
	if err := second.Unmarshal(sender.sent[1]); err != nil {
		t.Fatalf("unmarshal second packet: %v", err)
	}

	if first.SSRC != 7 || second.SSRC != 7 {
		t.Fatalf("expected SSRC 7 on both packets, got %d and %d", first.SSRC, second.SSRC)
	}
	if second.SequenceNumber != first.SequenceNumber+1 {
		t.Fatalf("expected monotonically increasing sequence, got %d then %d", first.SequenceNumber, second.SequenceNumber)
	}
	if second.Timestamp != first.Timestamp+4 {
		t.Fatalf("expected timestamp to advance by samples_per_frame(4), got %d then %d", first.Timestamp, second.Timestamp)
	}
}
