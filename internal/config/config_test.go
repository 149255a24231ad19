package config

import (
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionLifetime != time.Hour {
		t.Fatalf("expected default session lifetime of 1h, got %v", cfg.SessionLifetime)
	}
	if cfg.ResponseTimeout != 5*time.Second {
		t.Fatalf("expected default response timeout of 5s, got %v", cfg.ResponseTimeout)
	}
	if cfg.MixerFrameLengthMs != 20 {
		t.Fatalf("expected default mixer frame length of 20ms, got %d", cfg.MixerFrameLengthMs)
	}
	if cfg.LDAPEnabled {
		t.Fatal("expected LDAP disabled by default")
	}
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]string{
		"-ldap",
		"-directory-url", "ldap://directory.example",
		"-session-lifetime", "2h",
		"-sip-host", "provider.example",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.LDAPEnabled {
		t.Fatal("expected LDAP enabled")
	}
	if cfg.DirectoryURL != "ldap://directory.example" {
		t.Fatalf("unexpected directory url: %s", cfg.DirectoryURL)
	}
	if cfg.SessionLifetime != 2*time.Hour {
		t.Fatalf("unexpected session lifetime: %v", cfg.SessionLifetime)
	}
	if cfg.SIPHost != "provider.example" {
		t.Fatalf("unexpected sip host: %s", cfg.SIPHost)
	}
}
