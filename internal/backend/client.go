// Package backend is the outbound half of spec.md §6's "Wire protocol to
// Backend/Frontend": a websocket RPC client that sends protocol.BackendMessage
// requests carrying a fresh correlation id and resolves the matching response
// against a callback, timing out exactly like the controller's own inbound
// correlator does. Both the Backend (mixer manager) and the Frontend
// (WebRTC/ICE proxy) are external subsystems per spec.md's Glossary — this
// package never implements mixing or ICE termination itself, only the
// request/response plumbing to whichever process does.
package backend

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openvocs/vocsd/internal/correlator"
	"github.com/openvocs/vocsd/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// pendingSocket is the correlator.Entry.Socket value used for every request
// this client issues; the client has exactly one outbound connection, so
// there is nothing to distinguish per-request beyond the correlation id.
const pendingSocket = "backend"

// Client is a correlating RPC connection to one Backend or Frontend process.
type Client struct {
	conn    *websocket.Conn
	corr    *correlator.Correlator
	timeout time.Duration

	writeMu sync.Mutex
	logger  *slog.Logger
}

// Dial opens a websocket connection to url and starts its read loop.
func Dial(url string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: dial %s: %w", url, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{conn: conn, corr: correlator.New(), timeout: timeout, logger: logger}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		var msg protocol.BackendMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.logger.Debug("backend: connection closed", "err", err)
			return
		}
		entry, ok := c.corr.Unset(msg.ID)
		if !ok {
			c.logger.Warn("backend: response for unknown correlation id", "id", msg.ID, "event", msg.Event)
			continue
		}
		cb, ok := entry.Payload.(func(protocol.BackendMessage))
		if !ok {
			c.logger.Error("backend: correlation entry had wrong payload type", "id", msg.ID)
			continue
		}
		cb(msg)
	}
}

// Request issues event with params and invokes cb with the matching
// response, or with a synthetic timeout error BackendMessage if none arrives
// within the configured timeout.
func (c *Client) Request(event string, params map[string]any, cb func(protocol.BackendMessage)) {
	id := uuid.NewString()
	c.corr.Set(id, correlator.Entry{
		Socket:  pendingSocket,
		Payload: cb,
		OnTimeout: func(correlator.Entry) {
			cb(protocol.BackendMessage{
				Event: event,
				ID:    id,
				Error: &protocol.ErrorBody{Code: 1, Description: "backend request timed out"},
			})
		},
	}, c.timeout)

	req := protocol.BackendMessage{Event: event, ID: id, Parameter: params}
	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		if _, ok := c.corr.Unset(id); ok {
			cb(protocol.BackendMessage{
				Event: event,
				ID:    id,
				Error: &protocol.ErrorBody{Code: 1, Description: err.Error()},
			})
		}
	}
}

// Notify sends event without registering a correlation entry, for
// fire-and-forget notifications (candidate, end_of_candidates, drop_session,
// release_mixer).
func (c *Client) Notify(event string, params map[string]any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(protocol.BackendMessage{Event: event, ID: uuid.NewString(), Parameter: params})
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
