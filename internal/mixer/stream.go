package mixer

import "time"

// slot holds one still-buffered frame awaiting its turn at the mix position.
type slot struct {
	payload []byte
	set     bool
}

// stream is the per-SSRC reorder buffer (spec.md §4.5). Frames are indexed
// by RTP sequence number; mixPos is the sequence the next Tick will consume.
type stream struct {
	ssrc     uint32
	decoder  Decoder
	buf      map[uint16]slot
	mixPos   uint16
	lastSeen time.Time
}

func newStream(ssrc uint32, dec Decoder, seq uint16) *stream {
	return &stream{
		ssrc:     ssrc,
		decoder:  dec,
		buf:      make(map[uint16]slot),
		mixPos:   seq,
		lastSeen: time.Now(),
	}
}

// insert stores payload at seq. Re-inserting the same seq is idempotent: it
// simply overwrites the slot, so a duplicate frame never contributes twice
// to a mix tick. Frames more than maxBehind sequence numbers behind the
// current mix position are discarded as stale.
func (s *stream) insert(seq uint16, payload []byte, maxBehind int) {
	s.lastSeen = time.Now()
	dist := int16(seq - s.mixPos)
	if int(dist) < -maxBehind {
		return
	}
	s.buf[seq] = slot{payload: payload, set: true}
}

// popAt returns the payload at the current mix position (nil if the frame
// never arrived, signalling PLC to the decoder) and advances the position.
func (s *stream) popAt() []byte {
	sl, ok := s.buf[s.mixPos]
	delete(s.buf, s.mixPos)
	s.mixPos++
	if !ok || !sl.set {
		return nil
	}
	return sl.payload
}
