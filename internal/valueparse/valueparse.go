// Package valueparse implements the streaming structured-value parser/serde
// described in spec.md §4.7: consume octets, emit fully-parsed values (null,
// bool, number, string, list, object), return Progress on partial input, and
// Error (with the buffer cleared on demand) on a malformed token.
//
// The original source dispatches on a runtime "magic bytes" tag to pick a
// concrete parser implementation; spec.md §9 calls for that to become a
// compile-time interface instead. Serde is that interface. No example repo
// in the pack ships a hand-rolled streaming value tokenizer — every one of
// them decodes complete JSON documents with encoding/json directly — so this
// package's framing logic is built on encoding/json.Decoder's incremental
// token reader rather than adapting a third-party library (see DESIGN.md).
package valueparse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// State is the outcome of a PopDatum call.
type State int

const (
	// Done means a complete value was popped; the Value return is valid.
	Done State = iota
	// Progress means the buffer holds an incomplete value; call AddRaw with
	// more data and try again. The buffer is left unchanged.
	Progress
	// Error means the buffered bytes do not form a valid value prefix.
	// Callers should call ClearBuffer to discard the bad data, or close the
	// connection, depending on the caller's recovery policy (spec.md §7).
	Error
)

// Serde is the minimal contract the original's magic-bytes dispatch
// approximated: accumulate raw bytes, pop fully-parsed values, serialize a
// value back to canonical text, and clear the accumulation buffer.
type Serde interface {
	AddRaw(data []byte) error
	PopDatum() (any, State)
	Serialize(w io.Writer, v any) error
	ClearBuffer()
}

// jsonSerde is the sole Serde implementation: JSON is the wire format for
// every envelope in this repo (spec.md §6).
type jsonSerde struct {
	buf bytes.Buffer
}

// New returns a Serde backed by JSON framing.
func New() Serde {
	return &jsonSerde{}
}

// AddRaw appends data to the internal accumulation buffer.
func (s *jsonSerde) AddRaw(data []byte) error {
	_, err := s.buf.Write(data)
	return err
}

// PopDatum attempts to decode one complete value from the front of the
// buffer. On Done, the consumed bytes are dropped from the buffer so the
// next PopDatum starts at the following value (values may be concatenated
// without delimiters, as with newline-free JSON framing). On Progress, the
// buffer is left untouched so the caller can append more bytes and retry.
func (s *jsonSerde) PopDatum() (any, State) {
	if s.buf.Len() == 0 {
		return nil, Progress
	}

	dec := json.NewDecoder(bytes.NewReader(s.buf.Bytes()))
	var v any
	err := dec.Decode(&v)
	switch {
	case err == nil:
		consumed := dec.InputOffset()
		remaining := make([]byte, s.buf.Len()-int(consumed))
		copy(remaining, s.buf.Bytes()[consumed:])
		s.buf.Reset()
		s.buf.Write(remaining)
		return v, Done

	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return nil, Progress

	default:
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return nil, Error
		}
		// A type error (e.g. a malformed number literal) is also a
		// malformed-token condition by this package's contract.
		var typ *json.UnmarshalTypeError
		if errors.As(err, &typ) {
			return nil, Error
		}
		return nil, Error
	}
}

// ClearBuffer discards all buffered, unconsumed bytes. Intended to be called
// after an Error result when the caller has decided to resynchronize or
// abandon the stream.
func (s *jsonSerde) ClearBuffer() {
	s.buf.Reset()
}

// Serialize writes the canonical textual form of v to w.
func (s *jsonSerde) Serialize(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("valueparse: serialize: %w", err)
	}
	_, err = w.Write(data)
	return err
}
