// Package broadcast implements the multi-scope subscriber registry
// (spec.md §4.3): loop, role, user, and system scopes, each keyed by a
// scope-specific string key, fanning out to every subscribed socket.
package broadcast

import (
	"log/slog"
	"sync"
)

// Scope names, matching the wire "type" prefixes in spec.md §6
// ("loop_broadcast", "role_broadcast", ...).
type Scope string

const (
	ScopeLoop   Scope = "loop"
	ScopeRole   Scope = "role"
	ScopeUser   Scope = "user"
	ScopeSystem Scope = "system"
)

// Sender is anything that can receive a fanned-out message. Controller
// connections implement this; tests can supply a mock.
type Sender interface {
	Send(msg any) error
}

// target is a snapshot of one subscriber, captured under the read lock so
// the actual send happens outside it (mirrors Room.Broadcast in the teacher:
// one slow subscriber must never block the registry for everyone else).
type target struct {
	socket string
	sender Sender
}

// Registry owns all subscriptions across all four scopes.
type Registry struct {
	mu   sync.RWMutex
	subs map[Scope]map[string]map[string]Sender // scope -> key -> socket -> sender
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{subs: make(map[Scope]map[string]map[string]Sender)}
}

// Subscribe adds socket (identified by sender) to scope/key.
func (r *Registry) Subscribe(scope Scope, key, socket string, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byKey, ok := r.subs[scope]
	if !ok {
		byKey = make(map[string]map[string]Sender)
		r.subs[scope] = byKey
	}
	bySocket, ok := byKey[key]
	if !ok {
		bySocket = make(map[string]Sender)
		byKey[key] = bySocket
	}
	bySocket[socket] = sender
}

// Unsubscribe removes socket from one scope/key.
func (r *Registry) Unsubscribe(scope Scope, key, socket string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bySocket, ok := r.subs[scope][key]; ok {
		delete(bySocket, socket)
		if len(bySocket) == 0 {
			delete(r.subs[scope], key)
		}
	}
}

// Drop removes socket from every scope/key it is subscribed to. Called by
// the controller when a connection closes (spec.md §4.1 Drop connection).
func (r *Registry) Drop(socket string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for scope, byKey := range r.subs {
		for key, bySocket := range byKey {
			if _, ok := bySocket[socket]; ok {
				delete(bySocket, socket)
				if len(bySocket) == 0 {
					delete(byKey, key)
				}
			}
		}
		_ = scope
	}
}

// Send fans msg out to every subscriber of scope/key. A send failure on one
// socket is logged and does not abort the fan-out, and does not affect the
// order in which the remaining subscribers are reached (spec.md §5).
func (r *Registry) Send(scope Scope, key string, msg any) int {
	r.mu.RLock()
	bySocket := r.subs[scope][key]
	targets := make([]target, 0, len(bySocket))
	for socket, sender := range bySocket {
		targets = append(targets, target{socket: socket, sender: sender})
	}
	r.mu.RUnlock()

	sent := 0
	for _, t := range targets {
		if err := t.sender.Send(msg); err != nil {
			slog.Warn("broadcast send failed", "scope", scope, "key", key, "socket", t.socket, "err", err)
			continue
		}
		sent++
	}
	return sent
}

// Subscribers returns the sockets currently subscribed to scope/key.
func (r *Registry) Subscribers(scope Scope, key string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bySocket := r.subs[scope][key]
	out := make([]string, 0, len(bySocket))
	for socket := range bySocket {
		out = append(out, socket)
	}
	return out
}
