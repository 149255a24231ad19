package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// User is one account's persisted record.
type User struct {
	PasswordHash string   `json:"password_hash"`
	Roles        []string `json:"roles"`
}

// Store is the local credential and role-assignment backend (spec.md §4.1),
// persisted as a single JSON file of user records, mirroring
// internal/sessions' "whole table, overwrite-then-rename" discipline.
type Store struct {
	mu    sync.RWMutex
	path  string
	users map[string]*User
}

// Open loads path (missing file is not an error) and returns a ready Store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, users: make(map[string]*User)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth: read %s: %w", s.path, err)
	}
	return json.Unmarshal(data, &s.users)
}

func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".auth-*.tmp")
	if err != nil {
		return fmt.Errorf("auth: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("auth: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("auth: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("auth: rename into place: %w", err)
	}
	return nil
}

// Verify implements controller.CredentialStore.
func (s *Store) Verify(user, password string) bool {
	s.mu.RLock()
	u, ok := s.users[user]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	match, err := checkPassword(password, u.PasswordHash)
	return err == nil && match
}

// Validate implements controller.RoleStore.
func (s *Store) Validate(user, role string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[user]
	if !ok {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RolesForUser implements controller.RoleStore.
func (s *Store) RolesForUser(user string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[user]
	if !ok {
		return nil
	}
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	return roles
}

// SetUser creates or replaces user's password hash and role list, persisting
// the change. Administrative operation, driven by cmd/vocsctl.
func (s *Store) SetUser(user, passwordHash string, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user] = &User{PasswordHash: passwordHash, Roles: roles}
	return s.persist()
}

// RemoveUser deletes user, persisting the change. Reports whether the user
// existed.
func (s *Store) RemoveUser(user string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user]; !ok {
		return false, nil
	}
	delete(s.users, user)
	return true, s.persist()
}

// Users lists every known username.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	return names
}
