package auth

import (
	"path/filepath"
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ok, err := checkPassword("correct horse battery staple", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	ok, err = checkPassword("wrong password", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestStoreVerifyAndRoles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := s.SetUser("alice", hash, []string{"operator", "admin"}); err != nil {
		t.Fatalf("SetUser: %v", err)
	}

	if !s.Verify("alice", "s3cret") {
		t.Fatal("expected alice to verify")
	}
	if s.Verify("alice", "wrong") {
		t.Fatal("expected wrong password to fail")
	}
	if s.Verify("bob", "s3cret") {
		t.Fatal("expected unknown user to fail")
	}

	if !s.Validate("alice", "operator") {
		t.Fatal("expected alice to hold operator role")
	}
	if s.Validate("alice", "guest") {
		t.Fatal("expected alice not to hold guest role")
	}

	roles := s.RolesForUser("alice")
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %v", roles)
	}

	// Reopen from disk and confirm the record persisted.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !s2.Verify("alice", "s3cret") {
		t.Fatal("expected persisted record to verify after reopen")
	}
}

func TestRemoveUser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	hash, _ := HashPassword("pw")
	_ = s.SetUser("bob", hash, []string{"listener"})

	removed, err := s.RemoveUser("bob")
	if err != nil || !removed {
		t.Fatalf("expected removal, got removed=%v err=%v", removed, err)
	}
	if s.Verify("bob", "pw") {
		t.Fatal("expected bob to no longer verify")
	}

	removed, err = s.RemoveUser("bob")
	if err != nil || removed {
		t.Fatalf("expected second removal to report false, got removed=%v err=%v", removed, err)
	}
}
