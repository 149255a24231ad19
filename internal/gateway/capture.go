package gateway

import "github.com/pion/rtp"

// CaptureDevice abstracts a blocking hardware audio source: Read blocks
// until one hardware period is available.
type CaptureDevice interface {
	Read() ([]float32, error)
	Close() error
}

// Encoder abstracts Opus encoding so tests can substitute a fake instead of
// the cgo-backed codec, mirroring internal/mixer's Decoder abstraction.
type Encoder interface {
	Encode(pcm []int16, out []byte) (int, error)
}

// Sender is the UDP socket a capture thread owns exclusively (spec.md §5:
// "ALSA capture synthesizes RTP and sends on a socket owned by that thread
// alone").
type Sender interface {
	Send(packet []byte) error
}

// CaptureChannel reads one ALSA period at a time from its device,
// accumulates samples in a chunker until one RTP frame's worth is
// available, encodes with Opus, and sends the result as RTP with
// monotonically increasing sequence number and timestamp.
type CaptureChannel struct {
	device          CaptureDevice
	encoder         Encoder
	sender          Sender
	ssrc            uint32
	samplesPerFrame int

	chunk     []float32
	seq       uint16
	timestamp uint32
}

// NewCaptureChannel creates a CaptureChannel. ssrc identifies this
// channel's outgoing RTP stream.
func NewCaptureChannel(device CaptureDevice, encoder Encoder, sender Sender, ssrc uint32, samplesPerFrame int) *CaptureChannel {
	return &CaptureChannel{
		device:          device,
		encoder:         encoder,
		sender:          sender,
		ssrc:            ssrc,
		samplesPerFrame: samplesPerFrame,
	}
}

// Pump blocks reading one hardware period, feeds it through the chunker,
// and sends any RTP frames that become ready as a result.
func (c *CaptureChannel) Pump() error {
	period, err := c.device.Read()
	if err != nil {
		return err
	}
	c.chunk = append(c.chunk, period...)

	for len(c.chunk) >= c.samplesPerFrame {
		frame := c.chunk[:c.samplesPerFrame]
		c.chunk = c.chunk[c.samplesPerFrame:]
		if err := c.sendFrame(frame); err != nil {
			return err
		}
	}
	return nil
}

func (c *CaptureChannel) sendFrame(frame []float32) error {
	pcm := make([]int16, len(frame))
	for i, s := range frame {
		pcm[i] = floatToInt16(s)
	}

	buf := make([]byte, opusMaxPacketBytes)
	n, err := c.encoder.Encode(pcm, buf)
	if err != nil {
		return err
	}

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SSRC:           c.ssrc,
			SequenceNumber: c.seq,
			Timestamp:      c.timestamp,
		},
		Payload: buf[:n],
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return err
	}

	c.seq++
	c.timestamp += uint32(c.samplesPerFrame)

	return c.sender.Send(raw)
}

// Close releases the underlying device.
func (c *CaptureChannel) Close() error {
	return c.device.Close()
}
