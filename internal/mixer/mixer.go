// Package mixer implements the RTP mixer (spec.md §4.5): per-SSRC reorder
// buffers fed by arriving RTP frames, combined on a steady tick into a single
// mixed PCM chunk.
//
// Grounded on the teacher client's internal/jitter package — the per-sender
// buffer (here a map keyed by RTP sequence number rather than a ring),
// stale-sender pruning, and "missing frame signals PLC"
// contract are carried over directly, adapted from "opus passthrough to a
// local speaker" to "decode, linear-sum with saturation, emit a PCM chunk
// stream" for a server-side multi-loop mixer rather than one client's
// playback device.
package mixer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"
)

const (
	// DefaultFrameLengthMs is the mix tick period (spec.md §4.5).
	DefaultFrameLengthMs = 20
	// DefaultSampleRate matches the teacher client's Opus configuration.
	DefaultSampleRate = 48000
	// DefaultMaxFramesPerStream bounds how far behind the mix position a
	// stream's reorder buffer tolerates before discarding a late frame.
	DefaultMaxFramesPerStream = 50
	// DefaultStaleThreshold is how long a stream may go silent before GC
	// prunes it.
	DefaultStaleThreshold = 5 * time.Second
	// gcIntervalTicks runs GC roughly every 5s at the default frame length.
	gcIntervalTicks = 250
)

// Decoder abstracts Opus decoding so tests can substitute a fake; satisfied
// by *opus.Decoder. A nil data argument requests packet-loss concealment,
// matching gopkg.in/hraban/opus.v2's Decode(nil, pcm) contract.
type Decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// DecoderFactory constructs a fresh per-stream decoder.
type DecoderFactory func() (Decoder, error)

func defaultDecoderFactory(sampleRate, channels int) DecoderFactory {
	return func() (Decoder, error) {
		return opus.NewDecoder(sampleRate, channels)
	}
}

// Config configures a Mixer. Zero values take the documented defaults.
type Config struct {
	// SSRCToCancel, when non-nil, names this mixer's own loopback SSRC;
	// frames carrying it are dropped silently before reaching any stream
	// buffer (spec.md §4.5 "own-loopback").
	SSRCToCancel       *uint32
	FrameLengthMs      int
	SampleRate         int
	MaxFramesPerStream int
	StaleThreshold     time.Duration
	NewDecoder         DecoderFactory
}

func (c *Config) setDefaults() {
	if c.FrameLengthMs <= 0 {
		c.FrameLengthMs = DefaultFrameLengthMs
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.MaxFramesPerStream <= 0 {
		c.MaxFramesPerStream = DefaultMaxFramesPerStream
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = DefaultStaleThreshold
	}
	if c.NewDecoder == nil {
		c.NewDecoder = defaultDecoderFactory(c.SampleRate, 1)
	}
}

// SamplesPerFrame returns the number of PCM samples mixed into one tick's
// output chunk.
func (c Config) SamplesPerFrame() int {
	return c.FrameLengthMs * c.SampleRate / 1000
}

// Mixer demultiplexes arriving RTP frames by SSRC into per-stream reorder
// buffers and combines them into PCM chunks on a steady tick.
//
// The enqueue side (Push, driven by the RTP receive goroutine) and the
// dequeue side (Tick, driven by the mixer's own ticker) synchronize through
// mu, a single lock shared by all of the mixer's streams (there is no
// separate lock per stream); the output
// chunk channel Run returns is single-producer/single-consumer.
type Mixer struct {
	cfg Config

	mu      sync.Mutex
	streams map[uint32]*stream
	ticks   int
}

// New creates a Mixer.
func New(cfg Config) *Mixer {
	cfg.setDefaults()
	return &Mixer{cfg: cfg, streams: make(map[uint32]*stream)}
}

// Push parses a raw RTP datagram and inserts its payload into the
// originating SSRC's reorder buffer. Malformed packets, empty payloads, and
// frames carrying cfg.SSRCToCancel are dropped silently.
func (m *Mixer) Push(packet []byte) error {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(packet); err != nil {
		return err
	}
	if len(pkt.Payload) == 0 {
		return nil
	}
	if m.cfg.SSRCToCancel != nil && pkt.SSRC == *m.cfg.SSRCToCancel {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[pkt.SSRC]
	if !ok {
		dec, err := m.cfg.NewDecoder()
		if err != nil {
			return err
		}
		s = newStream(pkt.SSRC, dec, pkt.SequenceNumber)
		m.streams[pkt.SSRC] = s
	}
	s.insert(pkt.SequenceNumber, pkt.Payload, m.cfg.MaxFramesPerStream)
	return nil
}

// Tick executes one mix cycle: decodes one frame per active stream at its
// current mix position (missing frames decode via the codec's own PLC),
// linearly sums the result, and clips once at the end to ±32767.
func (m *Mixer) Tick() ([]int16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	samples := m.cfg.SamplesPerFrame()
	mix := make([]int32, samples)
	pcm := make([]int16, samples)

	for ssrc, s := range m.streams {
		payload := s.popAt()
		n, err := s.decoder.Decode(payload, pcm)
		if err != nil {
			slog.Warn("mixer: decode failed", "ssrc", ssrc, "error", err)
			continue
		}
		for i := 0; i < n && i < samples; i++ {
			mix[i] += int32(pcm[i])
		}
	}

	m.ticks++
	if m.ticks >= gcIntervalTicks {
		m.ticks = 0
		m.gcLocked()
	}

	out := make([]int16, samples)
	for i, v := range mix {
		out[i] = saturate(v)
	}
	return out, nil
}

func saturate(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32767:
		return -32767
	default:
		return int16(v)
	}
}

// GC removes streams that have gone silent for longer than
// cfg.StaleThreshold. Tick calls this automatically every gcIntervalTicks;
// exported so callers can also force an off-cycle sweep.
func (m *Mixer) GC() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gcLocked()
}

func (m *Mixer) gcLocked() {
	now := time.Now()
	for ssrc, s := range m.streams {
		if now.Sub(s.lastSeen) > m.cfg.StaleThreshold {
			delete(m.streams, ssrc)
		}
	}
}

// ActiveStreams returns the number of SSRCs currently buffered.
func (m *Mixer) ActiveStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Run starts the mixer's tick loop on its own goroutine, emitting one chunk
// into the returned channel every FrameLengthMs until ctx is done. The
// channel is closed when Run returns.
func (m *Mixer) Run(ctx context.Context) <-chan []int16 {
	out := make(chan []int16, 4)
	go func() {
		defer close(out)
		ticker := time.NewTicker(time.Duration(m.cfg.FrameLengthMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				chunk, err := m.Tick()
				if err != nil {
					slog.Error("mixer: tick failed", "error", err)
					continue
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
