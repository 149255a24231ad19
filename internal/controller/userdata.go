package controller

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/openvocs/vocsd/internal/protocol"
	"github.com/openvocs/vocsd/internal/result"
)

// blobRecord is one user's opaque client-side data, keyed by user (the data
// management events are explicitly per-user, not per-connection, so a user
// logged in from two clients sees the same layout/data on both).
type blobRecord struct {
	KeysetLayout map[string]any `json:"keyset_layout,omitempty"`
	UserData     map[string]any `json:"user_data,omitempty"`
}

// blobStore is a small per-user JSON blob table, persisted with the same
// overwrite-then-rename discipline as internal/sessions.Store (spec.md §6
// only mandates atomicity for the sessions file, but the same concern
// applies to any persisted controller-owned state, so the idiom is reused
// rather than inventing a second persistence strategy).
type blobStore struct {
	mu   sync.Mutex
	path string
	data map[string]*blobRecord
}

func newBlobStore() *blobStore {
	return &blobStore{data: make(map[string]*blobRecord)}
}

// openBlobStore loads path (if present) and returns a store that persists
// back to it on every mutation.
func openBlobStore(path string) (*blobStore, error) {
	s := &blobStore{path: path, data: make(map[string]*blobRecord)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("controller: read user data %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.data); err != nil {
		return nil, fmt.Errorf("controller: decode user data %s: %w", path, err)
	}
	return s, nil
}

func (s *blobStore) persist() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".userdata-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *blobStore) recordFor(user string) *blobRecord {
	rec, ok := s.data[user]
	if !ok {
		rec = &blobRecord{}
		s.data[user] = rec
	}
	return rec
}

func (s *blobStore) setKeysetLayout(user string, layout map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordFor(user).KeysetLayout = layout
	return s.persist()
}

func (s *blobStore) getKeysetLayout(user string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.data[user]; ok {
		return rec.KeysetLayout
	}
	return nil
}

func (s *blobStore) setUserData(user string, userData map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordFor(user).UserData = userData
	return s.persist()
}

func (s *blobStore) getUserData(user string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.data[user]; ok {
		return rec.UserData
	}
	return nil
}

// handleUserDataEvent dispatches the four data-management events.
func (c *Controller) handleUserDataEvent(cn *conn, msg protocol.Message) {
	if !cn.authenticated {
		c.sendError(cn, msg.ID, result.ErrNotAuthenticated, "not authenticated")
		return
	}
	switch msg.Event {
	case protocol.EventSetKeysetLayout:
		layout, _ := msg.Parameter["layout"].(map[string]any)
		if err := c.userData.setKeysetLayout(cn.user, layout); err != nil {
			c.sendError(cn, msg.ID, result.ErrConfig, err.Error())
			return
		}
		c.sendResponse(cn, msg.ID, map[string]any{})

	case protocol.EventGetKeysetLayout:
		c.sendResponse(cn, msg.ID, map[string]any{"layout": c.userData.getKeysetLayout(cn.user)})

	case protocol.EventSetUserData:
		data, _ := msg.Parameter["data"].(map[string]any)
		if err := c.userData.setUserData(cn.user, data); err != nil {
			c.sendError(cn, msg.ID, result.ErrConfig, err.Error())
			return
		}
		c.sendResponse(cn, msg.ID, map[string]any{})

	case protocol.EventGetUserData:
		c.sendResponse(cn, msg.ID, map[string]any{"data": c.userData.getUserData(cn.user)})
	}
}
