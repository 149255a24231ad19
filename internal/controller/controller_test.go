package controller

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openvocs/vocsd/internal/broadcast"
	"github.com/openvocs/vocsd/internal/correlator"
	"github.com/openvocs/vocsd/internal/loop"
	"github.com/openvocs/vocsd/internal/protocol"
	"github.com/openvocs/vocsd/internal/sessions"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []protocol.Message
	closed bool
}

func (f *fakeTransport) Send(msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg.(protocol.Message))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) last() protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeCreds struct{ user, password string }

func (f fakeCreds) Verify(user, password string) bool {
	return user == f.user && password == f.password
}

type fakeRoles struct {
	userRoles map[string][]string
}

func (f fakeRoles) Validate(user, role string) bool {
	for _, r := range f.userRoles[user] {
		if r == role {
			return true
		}
	}
	return false
}

func (f fakeRoles) RolesForUser(user string) []string {
	return f.userRoles[user]
}

type fakeMixer struct{ failJoin bool }

func (f *fakeMixer) AcquireMixer(socket string, cb func(MixerResult)) { cb(MixerResult{OK: true}) }
func (f *fakeMixer) ReleaseMixer(socket string)                       {}
func (f *fakeMixer) JoinLoop(socket, loopName string, cb func(MixerResult)) {
	cb(MixerResult{OK: !f.failJoin})
}
func (f *fakeMixer) LeaveLoop(socket, loopName string, cb func(MixerResult)) { cb(MixerResult{OK: true}) }
func (f *fakeMixer) SetVolume(socket, loopName string, volume int, cb func(MixerResult)) {
	cb(MixerResult{OK: true})
}

type fakeFrontend struct{}

func (f *fakeFrontend) CreateSession(socket string, offer map[string]any, cb func(ICEResult)) {
	cb(ICEResult{OK: true})
}
func (f *fakeFrontend) Candidate(socket string, candidate map[string]any) {}
func (f *fakeFrontend) EndOfCandidates(socket string)                    {}
func (f *fakeFrontend) TalkOn(socket, loopName string, cb func(ICEResult)) {
	cb(ICEResult{OK: true})
}
func (f *fakeFrontend) TalkOff(socket, loopName string, cb func(ICEResult)) {
	cb(ICEResult{OK: true})
}
func (f *fakeFrontend) DropSession(socket string) {}

func newTestController(t *testing.T, cfg Config) (*Controller, *loop.Table, *broadcast.Registry) {
	t.Helper()
	loops := loop.NewTable()
	bcast := broadcast.New()
	corr := correlator.New()
	sess, err := sessions.Open(filepath.Join(t.TempDir(), "sessions.json"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return New(loops, bcast, corr, sess, cfg), loops, bcast
}

func loginAndAuthorize(t *testing.T, c *Controller, tr *fakeTransport, socket, user, role string) {
	t.Helper()
	c.Connect(socket, tr)
	c.Dispatch(socket, protocol.Message{Event: protocol.EventLogin, ID: "r1", Parameter: map[string]any{"user": user, "password": "pw", "client": socket}})
	if tr.last().Error != nil {
		t.Fatalf("login failed: %+v", tr.last().Error)
	}
	c.Dispatch(socket, protocol.Message{Event: protocol.EventAuthorize, ID: "r2", Parameter: map[string]any{"role": role}})
	if tr.last().Error != nil {
		t.Fatalf("authorize failed: %+v", tr.last().Error)
	}
}

func bringMediaReady(t *testing.T, c *Controller, tr *fakeTransport, socket string) {
	t.Helper()
	c.Dispatch(socket, protocol.Message{Event: protocol.EventMedia, ID: "media1", Parameter: map[string]any{}})
	c.OnICECompleted(socket)
	c.mu.Lock()
	cn := c.connections[socket]
	c.mu.Unlock()
	if cn.media != MediaBothReady {
		t.Fatalf("expected BothReady, got %v", cn.media)
	}
}

func testConfig() Config {
	return Config{
		Credentials: fakeCreds{user: "alice", password: "pw"},
		Roles: fakeRoles{
			userRoles: map[string][]string{"alice": {"operator"}},
		},
		Mixer:    &fakeMixer{},
		Frontend: &fakeFrontend{},
	}
}

func TestLoginAuthorizeFlow(t *testing.T) {
	c, loops, _ := newTestController(t, testConfig())
	loops.GetOrCreate("L1").SetRolePermission("operator", loop.Send)
	tr := &fakeTransport{}
	loginAndAuthorize(t, c, tr, "sock1", "alice", "operator")

	loginResp := tr.sent[0]
	if loginResp.Response["id"] != "alice" {
		t.Fatalf("unexpected login response: %+v", loginResp.Response)
	}
	if tr.sent[1].Response["role"] != "operator" {
		t.Fatalf("unexpected authorize response: %+v", tr.sent[1].Response)
	}
}

func TestLoginRejectsAlreadyAuthenticated(t *testing.T) {
	c, _, _ := newTestController(t, testConfig())
	tr := &fakeTransport{}
	loginAndAuthorize(t, c, tr, "sock1", "alice", "operator")

	c.Dispatch("sock1", protocol.Message{Event: protocol.EventLogin, ID: "r3", Parameter: map[string]any{"user": "alice", "password": "pw"}})
	if tr.last().Error == nil {
		t.Fatal("expected an error for re-login on an already authenticated connection")
	}
}

func TestSwitchLoopStateFullChainToSend(t *testing.T) {
	c, loops, bcast := newTestController(t, testConfig())
	loops.GetOrCreate("L1").SetRolePermission("operator", loop.Send)
	tr := &fakeTransport{}
	loginAndAuthorize(t, c, tr, "sock1", "alice", "operator")
	bringMediaReady(t, c, tr, "sock1")

	sub := &fakeTransport{}
	bcast.Subscribe(broadcast.ScopeLoop, "L1", "observer", senderAdapter{&conn{socket: "observer", tr: sub}})

	c.Dispatch("sock1", protocol.Message{Event: protocol.EventSwitchLoopState, ID: "sw1", Parameter: map[string]any{"loop": "L1", "state": "send"}})

	resp := tr.last()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Response["state"] != "send" {
		t.Fatalf("expected final state send, got %+v", resp.Response)
	}

	l := loops.Get("L1")
	if l == nil {
		t.Fatal("expected loop L1 to exist")
	}
	if l.Count() != 1 {
		t.Fatalf("expected 1 participant in L1, got %d", l.Count())
	}

	// Two loop broadcasts expected: one for the RECV step, one for the SEND step.
	if sub.count() != 2 {
		t.Fatalf("expected 2 loop broadcasts, got %d", sub.count())
	}
}

func TestSwitchLoopStateIdempotent(t *testing.T) {
	c, _, _ := newTestController(t, testConfig())
	tr := &fakeTransport{}
	loginAndAuthorize(t, c, tr, "sock1", "alice", "operator")
	bringMediaReady(t, c, tr, "sock1")

	c.Dispatch("sock1", protocol.Message{Event: protocol.EventSwitchLoopState, ID: "sw1", Parameter: map[string]any{"loop": "L1", "state": "none"}})
	if tr.last().Error != nil {
		t.Fatalf("unexpected error on idempotent none->none: %+v", tr.last().Error)
	}
	if tr.last().Response["state"] != "none" {
		t.Fatalf("expected state none, got %+v", tr.last().Response)
	}
}

func TestSwitchLoopStateRejectsOverPermission(t *testing.T) {
	c, _, _ := newTestController(t, testConfig())
	tr := &fakeTransport{}
	loginAndAuthorize(t, c, tr, "sock1", "alice", "operator")
	bringMediaReady(t, c, tr, "sock1")

	// L2 has no grant for "operator" (defaults to loop.None), so even recv must fail.
	c.Dispatch("sock1", protocol.Message{Event: protocol.EventSwitchLoopState, ID: "sw1", Parameter: map[string]any{"loop": "L2", "state": "recv"}})
	if tr.last().Error == nil {
		t.Fatal("expected a permission error")
	}
}

func TestTalkingRequiresSendPermission(t *testing.T) {
	c, loops, _ := newTestController(t, testConfig())
	loops.GetOrCreate("L1").SetRolePermission("operator", loop.Send)
	tr := &fakeTransport{}
	loginAndAuthorize(t, c, tr, "sock1", "alice", "operator")
	bringMediaReady(t, c, tr, "sock1")

	c.Dispatch("sock1", protocol.Message{Event: protocol.EventTalking, ID: "t1", Parameter: map[string]any{"loop": "L1", "state": "on"}})
	if tr.last().Error == nil {
		t.Fatal("expected permission error before joining the loop")
	}

	c.Dispatch("sock1", protocol.Message{Event: protocol.EventSwitchLoopState, ID: "sw1", Parameter: map[string]any{"loop": "L1", "state": "send"}})
	c.Dispatch("sock1", protocol.Message{Event: protocol.EventTalking, ID: "t2", Parameter: map[string]any{"loop": "L1", "state": "on"}})
	if tr.last().Error != nil {
		t.Fatalf("expected talking to succeed once in send state: %+v", tr.last().Error)
	}
}

func TestDropConnectionClearsLoopsAndCancelsPending(t *testing.T) {
	c, loops, _ := newTestController(t, testConfig())
	loops.GetOrCreate("L1").SetRolePermission("operator", loop.Send)
	tr := &fakeTransport{}
	loginAndAuthorize(t, c, tr, "sock1", "alice", "operator")
	bringMediaReady(t, c, tr, "sock1")
	c.Dispatch("sock1", protocol.Message{Event: protocol.EventSwitchLoopState, ID: "sw1", Parameter: map[string]any{"loop": "L1", "state": "recv"}})

	c.Drop("sock1")

	if !tr.closed {
		t.Fatal("expected the transport to be closed on drop")
	}
	l := loops.Get("L1")
	if l == nil || l.Count() != 0 {
		t.Fatal("expected the connection to be removed from L1 on drop")
	}
	if c.ConnectionCount() != 0 {
		t.Fatal("expected no connections after drop")
	}
}

func TestSetRolePermissionRequiresAdmin(t *testing.T) {
	c, _, _ := newTestController(t, testConfig())
	tr := &fakeTransport{}
	loginAndAuthorize(t, c, tr, "sock1", "alice", "operator")

	c.Dispatch("sock1", protocol.Message{Event: protocol.EventSetRolePermission, ID: "p1", Parameter: map[string]any{"loop": "L1", "role": "operator", "permission": "send"}})

	if tr.last().Error == nil {
		t.Fatal("expected permission error for a non-admin connection")
	}
}

func TestSetRolePermissionGrantsLiveUpdate(t *testing.T) {
	cfg := testConfig()
	cfg.Roles = fakeRoles{userRoles: map[string][]string{"alice": {"operator", "admin"}}}
	c, loops, _ := newTestController(t, cfg)
	tr := &fakeTransport{}
	loginAndAuthorize(t, c, tr, "sock1", "alice", "admin")

	c.Dispatch("sock1", protocol.Message{Event: protocol.EventSetRolePermission, ID: "p1", Parameter: map[string]any{"loop": "L1", "role": "operator", "permission": "send"}})

	if tr.last().Error != nil {
		t.Fatalf("unexpected error: %+v", tr.last().Error)
	}
	if tr.last().Response["permission"] != "send" {
		t.Fatalf("unexpected response: %+v", tr.last().Response)
	}
	l := loops.Get("L1")
	if l == nil {
		t.Fatal("expected set_role_permission to create loop L1")
	}
	if l.RolePermission("operator") != loop.Send {
		t.Fatalf("expected operator to be granted send on L1, got %v", l.RolePermission("operator"))
	}
}

func TestSetRolePermissionRejectsUnknownPermission(t *testing.T) {
	cfg := testConfig()
	cfg.Roles = fakeRoles{userRoles: map[string][]string{"alice": {"admin"}}}
	c, _, _ := newTestController(t, cfg)
	tr := &fakeTransport{}
	loginAndAuthorize(t, c, tr, "sock1", "alice", "admin")

	c.Dispatch("sock1", protocol.Message{Event: protocol.EventSetRolePermission, ID: "p1", Parameter: map[string]any{"loop": "L1", "role": "operator", "permission": "bogus"}})

	if tr.last().Error == nil {
		t.Fatal("expected an error for an unrecognized permission string")
	}
}
