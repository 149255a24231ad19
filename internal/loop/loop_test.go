package loop

import "testing"

func TestPermissionOrder(t *testing.T) {
	if !(None < Recv && Recv < Send) {
		t.Fatal("permission order must be NONE < RECV < SEND")
	}
}

func TestParsePermission(t *testing.T) {
	for _, s := range []string{"none", "recv", "send"} {
		p, ok := ParsePermission(s)
		if !ok {
			t.Fatalf("ParsePermission(%q) failed", s)
		}
		if p.String() != s {
			t.Fatalf("round-trip mismatch for %q: got %q", s, p.String())
		}
	}
	if _, ok := ParsePermission("bogus"); ok {
		t.Fatal("expected ParsePermission to reject unknown string")
	}
}

func TestTableJoinLeaveWeakReferences(t *testing.T) {
	tbl := NewTable()
	l1 := tbl.GetOrCreate("L1")
	l2 := tbl.GetOrCreate("L2")

	l1.Join(Participant{Socket: "s1", User: "alice", Role: "operator", Permission: Send})
	l2.Join(Participant{Socket: "s1", User: "alice", Role: "operator", Permission: Recv})

	left := tbl.LeaveAll("s1")
	if len(left) != 2 || left[0] != "L1" || left[1] != "L2" {
		t.Fatalf("expected to leave both loops, got %v", left)
	}
	// Loops themselves survive an empty-out; only explicit Release destroys them.
	if tbl.Get("L1") == nil || tbl.Get("L2") == nil {
		t.Fatal("loops must not be destroyed when they become empty")
	}
	if l1.Count() != 0 {
		t.Fatalf("expected 0 participants after LeaveAll, got %d", l1.Count())
	}
}

func TestRolePermissionGrant(t *testing.T) {
	l := newLoop("L1")
	if l.RolePermission("operator") != None {
		t.Fatal("expected no grant by default")
	}
	l.SetRolePermission("operator", Send)
	if l.RolePermission("operator") != Send {
		t.Fatal("expected SEND grant for operator")
	}
}

func TestGrantedLoops(t *testing.T) {
	tbl := NewTable()
	tbl.GetOrCreate("L1").SetRolePermission("operator", Send)
	tbl.GetOrCreate("L2").SetRolePermission("operator", None)
	tbl.GetOrCreate("L3").SetRolePermission("operator", Recv)
	tbl.GetOrCreate("L4").SetRolePermission("listener", Recv)

	got := tbl.GrantedLoops("operator")
	if len(got) != 2 || got[0] != "L1" || got[1] != "L3" {
		t.Fatalf("expected [L1 L3], got %v", got)
	}
}

func TestSetVolumeRequiresMembership(t *testing.T) {
	l := newLoop("L1")
	if l.SetVolume("s1", 50) {
		t.Fatal("SetVolume should fail for a non-member socket")
	}
	l.Join(Participant{Socket: "s1"})
	if !l.SetVolume("s1", 50) {
		t.Fatal("SetVolume should succeed for a member socket")
	}
	p, _ := l.Get("s1")
	if p.Volume != 50 {
		t.Fatalf("expected volume 50, got %d", p.Volume)
	}
}
