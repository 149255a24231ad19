package sip

import (
	"sync"
	"time"
)

// CallState is the lifecycle state of a bridged SIP call, grounded on the
// teacher's Dialog/CallState shape (internal/sip/dialog.go) and trimmed to
// the states the controller's call/hangup/list_calls events need.
type CallState string

const (
	CallRinging    CallState = "ringing"
	CallActive     CallState = "active"
	CallTerminated CallState = "terminated"
)

// Call is one bridged SIP call: a local user, a loop whose audio the call
// is bridged to, and the remote party dialed or calling in.
type Call struct {
	ID        string
	User      string
	Loop      string
	Target    string
	State     CallState
	StartTime time.Time
	EndTime   time.Time

	tx InviteTransaction
}

// CallManager tracks calls until they terminate (Terminate removes a call
// from the table), grounded on the
// teacher's DialogManager (single RWMutex-guarded map, snapshot-then-release
// reads, no per-call locking).
type CallManager struct {
	mu    sync.RWMutex
	calls map[string]*Call
}

// NewCallManager creates an empty call manager.
func NewCallManager() *CallManager {
	return &CallManager{calls: make(map[string]*Call)}
}

// Add registers a new call, keyed by its SIP call id.
func (m *CallManager) Add(c *Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[c.ID] = c
}

// Get returns the call for id, or nil if none is tracked.
func (m *CallManager) Get(id string) *Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[id]
}

// SetActive transitions a ringing call to active.
func (m *CallManager) SetActive(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.calls[id]; ok {
		c.State = CallActive
	}
}

// Terminate marks a call terminated and returns it, or nil if id is unknown.
func (m *CallManager) Terminate(id string) *Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[id]
	if !ok {
		return nil
	}
	c.State = CallTerminated
	c.EndTime = time.Now()
	delete(m.calls, id)
	return c
}

// Active returns a snapshot of every call not yet terminated.
func (m *CallManager) Active() []*Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c)
	}
	return out
}

// ForUser returns the active calls belonging to user.
func (m *CallManager) ForUser(user string) []*Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Call
	for _, c := range m.calls {
		if c.User == user {
			out = append(out, c)
		}
	}
	return out
}
