package broadcast

import (
	"errors"
	"testing"
)

type fakeSender struct {
	received []any
	fail     bool
}

func (f *fakeSender) Send(msg any) error {
	if f.fail {
		return errors.New("boom")
	}
	f.received = append(f.received, msg)
	return nil
}

func TestSubscribeAndSend(t *testing.T) {
	r := New()
	a := &fakeSender{}
	b := &fakeSender{}
	r.Subscribe(ScopeLoop, "L1", "sockA", a)
	r.Subscribe(ScopeLoop, "L1", "sockB", b)

	n := r.Send(ScopeLoop, "L1", "hello")
	if n != 2 {
		t.Fatalf("expected 2 sends, got %d", n)
	}
	if len(a.received) != 1 || len(b.received) != 1 {
		t.Fatal("both subscribers should have received the message")
	}
}

func TestScopesAreIndependent(t *testing.T) {
	r := New()
	a := &fakeSender{}
	r.Subscribe(ScopeUser, "alice", "sockA", a)
	n := r.Send(ScopeLoop, "alice", "hi") // same key, different scope
	if n != 0 {
		t.Fatal("scopes must not leak subscribers across each other")
	}
}

func TestSendFailureDoesNotAbortFanout(t *testing.T) {
	r := New()
	bad := &fakeSender{fail: true}
	good := &fakeSender{}
	r.Subscribe(ScopeSystem, "sys", "bad", bad)
	r.Subscribe(ScopeSystem, "sys", "good", good)

	n := r.Send(ScopeSystem, "sys", "ping")
	if n != 1 {
		t.Fatalf("expected 1 successful send despite one failure, got %d", n)
	}
	if len(good.received) != 1 {
		t.Fatal("the good subscriber must still receive the message")
	}
}

func TestDropRemovesFromAllScopes(t *testing.T) {
	r := New()
	a := &fakeSender{}
	r.Subscribe(ScopeLoop, "L1", "sockA", a)
	r.Subscribe(ScopeUser, "alice", "sockA", a)
	r.Subscribe(ScopeSystem, "system", "sockA", a)

	r.Drop("sockA")

	if n := r.Send(ScopeLoop, "L1", "x"); n != 0 {
		t.Fatal("expected no loop subscribers after drop")
	}
	if n := r.Send(ScopeUser, "alice", "x"); n != 0 {
		t.Fatal("expected no user subscribers after drop")
	}
	if n := r.Send(ScopeSystem, "system", "x"); n != 0 {
		t.Fatal("expected no system subscribers after drop")
	}
}

func TestUnsubscribe(t *testing.T) {
	r := New()
	a := &fakeSender{}
	r.Subscribe(ScopeRole, "operator", "sockA", a)
	r.Unsubscribe(ScopeRole, "operator", "sockA")
	if subs := r.Subscribers(ScopeRole, "operator"); len(subs) != 0 {
		t.Fatalf("expected no subscribers after unsubscribe, got %v", subs)
	}
}
