// Package loop holds the loop (multicast group) table: named loops, their
// participants, and per-role permission grants. Ownership follows spec.md
// §3: participant references are weak (removing a socket removes it from
// every loop), and a loop is not destroyed when it becomes empty.
package loop

import (
	"sort"
	"sync"
)

// Permission is a loop participation grant, totally ordered NONE < RECV < SEND.
type Permission int

const (
	None Permission = iota
	Recv
	Send
)

// String renders the wire representation of a Permission.
func (p Permission) String() string {
	switch p {
	case Recv:
		return "recv"
	case Send:
		return "send"
	default:
		return "none"
	}
}

// ParsePermission parses the wire string form of a Permission.
func ParsePermission(s string) (Permission, bool) {
	switch s {
	case "none":
		return None, true
	case "recv":
		return Recv, true
	case "send":
		return Send, true
	default:
		return None, false
	}
}

// Participant is one connection's membership in a loop.
type Participant struct {
	Socket     string // socket id assigned by the transport
	Client     string
	User       string
	Role       string
	Permission Permission
	Volume     int // 0..100
}

// Loop is one named multicast group.
type Loop struct {
	Name        string
	Multicast   string // "host:port" of the loop's multicast socket, if bound
	mu          sync.RWMutex
	participants map[string]*Participant // keyed by Socket
	rolePerm     map[string]Permission   // role -> granted permission for this loop
}

func newLoop(name string) *Loop {
	return &Loop{
		Name:         name,
		participants: make(map[string]*Participant),
		rolePerm:     make(map[string]Permission),
	}
}

// SetRolePermission grants role the given permission in this loop.
func (l *Loop) SetRolePermission(role string, perm Permission) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolePerm[role] = perm
}

// RolePermission returns the permission granted to role (None if ungranted).
func (l *Loop) RolePermission(role string) Permission {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rolePerm[role]
}

// Join adds or updates a participant's state in the loop.
func (l *Loop) Join(p Participant) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := p
	l.participants[p.Socket] = &cp
}

// Leave removes a socket from the loop. A no-op, not an error, if absent —
// the loop itself is never destroyed here (spec.md §3: weak references).
func (l *Loop) Leave(socket string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.participants, socket)
}

// Get returns a copy of a participant's state, or false if not a member.
func (l *Loop) Get(socket string) (Participant, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.participants[socket]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// SetVolume updates a participant's per-loop gain.
func (l *Loop) SetVolume(socket string, volume int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.participants[socket]
	if !ok {
		return false
	}
	p.Volume = volume
	return true
}

// Participants returns a stable-ordered snapshot of current members.
func (l *Loop) Participants() []Participant {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Participant, 0, len(l.participants))
	for _, p := range l.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Socket < out[j].Socket })
	return out
}

// Count returns the current participant count.
func (l *Loop) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.participants)
}

// Table owns the full set of loops, keyed by name. One Table per Controller.
type Table struct {
	mu    sync.RWMutex
	loops map[string]*Loop
}

// NewTable returns an empty loop table.
func NewTable() *Table {
	return &Table{loops: make(map[string]*Loop)}
}

// GetOrCreate returns the named loop, creating it (empty, no permissions) if
// it doesn't yet exist.
func (t *Table) GetOrCreate(name string) *Loop {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.loops[name]
	if !ok {
		l = newLoop(name)
		t.loops[name] = l
	}
	return l
}

// Get returns the named loop, or nil if it doesn't exist.
func (t *Table) Get(name string) *Loop {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loops[name]
}

// Release explicitly destroys a loop (spec.md §3: a loop is only destroyed
// on an explicit release, never implicitly when it becomes empty).
func (t *Table) Release(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.loops, name)
}

// Names returns all known loop names.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.loops))
	for name := range t.loops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GrantedLoops returns the names of every loop that grants role a
// non-None permission, sorted.
func (t *Table) GrantedLoops(role string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0)
	for name, l := range t.loops {
		if l.RolePermission(role) != None {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// LeaveAll removes socket from every loop it participates in, returning the
// names of loops it was removed from (for broadcasting NONE transitions).
func (t *Table) LeaveAll(socket string) []string {
	t.mu.RLock()
	loops := make([]*Loop, 0, len(t.loops))
	for _, l := range t.loops {
		loops = append(loops, l)
	}
	t.mu.RUnlock()

	var left []string
	for _, l := range loops {
		if _, ok := l.Get(socket); ok {
			l.Leave(socket)
			left = append(left, l.Name)
		}
	}
	sort.Strings(left)
	return left
}
