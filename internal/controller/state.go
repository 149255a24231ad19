package controller

import "github.com/openvocs/vocsd/internal/loop"

// MediaState is the per-connection media setup state (spec.md §4.1 diagram).
type MediaState int

const (
	MediaIdle MediaState = iota
	MediaICEPending
	MediaICEOfferSent
	MediaICENegotiating
	MediaMixerAcquired
	MediaBothReady
)

func (m MediaState) String() string {
	switch m {
	case MediaIdle:
		return "idle"
	case MediaICEPending:
		return "ice_pending"
	case MediaICEOfferSent:
		return "ice_offer_sent"
	case MediaICENegotiating:
		return "ice_negotiating"
	case MediaMixerAcquired:
		return "mixer_acquired"
	case MediaBothReady:
		return "both_ready"
	default:
		return "unknown"
	}
}

// loopState is one connection's participation in one loop.
type loopState struct {
	permission loop.Permission // current state: None, Recv, or Send
	volume     int
}

// conn is one connection's full session/participation state. It is only
// ever mutated while Controller.mu is held (spec.md §5: the controller is
// conceptually single-owner; the mutex exists for the same defensive reason
// the teacher's ChannelState carries one despite its own single-writer
// discipline).
type conn struct {
	socket string
	tr     Transport

	authenticated bool
	client        string
	user          string
	role          string
	sessionToken  string

	iceReady      bool
	mixerReady    bool
	media         MediaState
	mediaRequest  string // request id of the media event that started setup
	talkingLoop   string // loop currently in SEND and actively talking, "" if none

	loops map[string]*loopState // loop name -> state
}

func newConn(socket string, tr Transport) *conn {
	return &conn{socket: socket, tr: tr, loops: make(map[string]*loopState)}
}

func (c *conn) loopPermission(loopName string) loop.Permission {
	if ls, ok := c.loops[loopName]; ok {
		return ls.permission
	}
	return loop.None
}

func (c *conn) setLoopPermission(loopName string, p loop.Permission) {
	if p == loop.None {
		delete(c.loops, loopName)
		return
	}
	ls, ok := c.loops[loopName]
	if !ok {
		ls = &loopState{}
		c.loops[loopName] = ls
	}
	ls.permission = p
}

func (c *conn) activeLoops() []string {
	out := make([]string, 0, len(c.loops))
	for name := range c.loops {
		out = append(out, name)
	}
	return out
}
