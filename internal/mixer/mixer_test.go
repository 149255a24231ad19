package mixer

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/pion/rtp"
)

// fakeDecoder treats its input as raw little-endian int16 samples instead of
// real Opus, so tests can assert exact PCM values. A nil input (PLC request)
// decodes to one frame of silence.
type fakeDecoder struct{ samples int }

func (f *fakeDecoder) Decode(data []byte, pcm []int16) (int, error) {
	if data == nil {
		for i := 0; i < f.samples; i++ {
			pcm[i] = 0
		}
		return f.samples, nil
	}
	n := len(data) / 2
	for i := 0; i < n; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return n, nil
}

func fakeFactory(samples int) DecoderFactory {
	return func() (Decoder, error) { return &fakeDecoder{samples: samples}, nil }
}

func encodeSamples(vals ...int16) []byte {
	buf := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func buildPacket(t *testing.T, ssrc uint32, seq uint16, payload []byte) []byte {
	t.Helper()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SSRC:           ssrc,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 960,
		},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal rtp packet: %v", err)
	}
	return raw
}

func TestMixIdempotence(t *testing.T) {
	m := New(Config{FrameLengthMs: 20, SampleRate: 200, NewDecoder: fakeFactory(4)})
	payload := encodeSamples(100, 200, 300, 400)

	once := New(Config{FrameLengthMs: 20, SampleRate: 200, NewDecoder: fakeFactory(4)})
	if err := once.Push(buildPacket(t, 1, 0, payload)); err != nil {
		t.Fatal(err)
	}
	wantChunk, err := once.Tick()
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Push(buildPacket(t, 1, 0, payload)); err != nil {
		t.Fatal(err)
	}
	if err := m.Push(buildPacket(t, 1, 0, payload)); err != nil {
		t.Fatal(err)
	}
	gotChunk, err := m.Tick()
	if err != nil {
		t.Fatal(err)
	}

	for i := range wantChunk {
		if gotChunk[i] != wantChunk[i] {
			t.Fatalf("duplicate frame changed mix output at %d: want %d got %d", i, wantChunk[i], gotChunk[i])
		}
	}
}

func TestOwnSSRCCancelled(t *testing.T) {
	cancel := uint32(42)
	m := New(Config{FrameLengthMs: 20, SampleRate: 200, SSRCToCancel: &cancel, NewDecoder: fakeFactory(4)})

	if err := m.Push(buildPacket(t, cancel, 0, encodeSamples(1, 2, 3, 4))); err != nil {
		t.Fatal(err)
	}
	if m.ActiveStreams() != 0 {
		t.Fatalf("expected own-SSRC frames to never create a stream, got %d active streams", m.ActiveStreams())
	}

	chunk, err := m.Tick()
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range chunk {
		if v != 0 {
			t.Fatalf("expected silence at %d, got %d", i, v)
		}
	}
}

func TestSaturationClipping(t *testing.T) {
	m := New(Config{FrameLengthMs: 20, SampleRate: 200, NewDecoder: fakeFactory(4)})

	if err := m.Push(buildPacket(t, 1, 0, encodeSamples(30000, -30000, 0, 0))); err != nil {
		t.Fatal(err)
	}
	if err := m.Push(buildPacket(t, 2, 0, encodeSamples(30000, -30000, 0, 0))); err != nil {
		t.Fatal(err)
	}

	chunk, err := m.Tick()
	if err != nil {
		t.Fatal(err)
	}
	if chunk[0] != 32767 {
		t.Fatalf("expected positive clip to 32767, got %d", chunk[0])
	}
	if chunk[1] != -32767 {
		t.Fatalf("expected negative clip to -32767, got %d", chunk[1])
	}
}

func TestStaleStreamGC(t *testing.T) {
	m := New(Config{
		FrameLengthMs:  20,
		SampleRate:     200,
		StaleThreshold: 10 * time.Millisecond,
		NewDecoder:     fakeFactory(4),
	})

	if err := m.Push(buildPacket(t, 1, 0, encodeSamples(1, 2, 3, 4))); err != nil {
		t.Fatal(err)
	}
	if m.ActiveStreams() != 1 {
		t.Fatalf("expected 1 active stream, got %d", m.ActiveStreams())
	}

	time.Sleep(20 * time.Millisecond)
	m.GC()
	if m.ActiveStreams() != 0 {
		t.Fatalf("expected stale stream to be pruned, got %d active streams", m.ActiveStreams())
	}
}

func TestMaxFramesPerStreamDiscardsLateFrames(t *testing.T) {
	m := New(Config{
		FrameLengthMs:      20,
		SampleRate:         200,
		MaxFramesPerStream: 2,
		NewDecoder:         fakeFactory(4),
	})

	// Establish the stream at seq 10, then advance the mix position to 12
	// via two ticks before a very late frame (seq 0) arrives.
	if err := m.Push(buildPacket(t, 1, 10, encodeSamples(1, 2, 3, 4))); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Tick(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Tick(); err != nil {
		t.Fatal(err)
	}

	if err := m.Push(buildPacket(t, 1, 0, encodeSamples(9, 9, 9, 9))); err != nil {
		t.Fatal(err)
	}

	s := m.streams[1]
	if _, ok := s.buf[0]; ok {
		t.Fatal("expected the far-late frame to be discarded, not buffered")
	}
}
