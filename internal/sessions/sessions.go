// Package sessions implements the client-to-session binding that survives
// short reconnects (spec.md §4.4). A record maps a client id to the user it
// last logged in as, an opaque session token, and a last-update timestamp.
// Records are garbage-collected after max_lifetime of inactivity and
// persisted to a single JSON file on every mutation (overwrite-then-rename),
// mirroring the teacher's "single exclusive writer, startup-only reader"
// discipline for its SQLite store, generalized to a flat file per spec.md §6.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxLifetime is the default record lifetime (spec.md §3: 1 hour).
const DefaultMaxLifetime = time.Hour

// Record is one client's session binding.
type Record struct {
	Client     string `json:"client"`
	User       string `json:"user"`
	ID         string `json:"id"` // session token (UUID)
	LastUpdate int64  `json:"last_update"` // microseconds since epoch
}

// Store is the in-memory sessions table, persisted to path on every mutation.
type Store struct {
	mu          sync.Mutex
	path        string
	records     map[string]*Record // client -> record
	maxLifetime time.Duration
	now         func() time.Time // overridable for tests
}

// Open loads path (if present; missing file is not an error — unknown
// fields in an existing file are tolerated by encoding/json's default
// unmarshal behaviour) and returns a ready Store.
func Open(path string, maxLifetime time.Duration) (*Store, error) {
	if maxLifetime <= 0 {
		maxLifetime = DefaultMaxLifetime
	}
	s := &Store{
		path:        path,
		records:     make(map[string]*Record),
		maxLifetime: maxLifetime,
		now:         time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sessions: read %s: %w", s.path, err)
	}
	var raw map[string]*Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("sessions: decode %s: %w", s.path, err)
	}
	for client, rec := range raw {
		rec.Client = client
		s.records[client] = rec
	}
	return nil
}

// persist writes the full table as {"<client>": {...}} via
// overwrite-then-rename, per spec.md §6. Called with mu held.
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("sessions: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("sessions: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sessions: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sessions: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sessions: rename into place: %w", err)
	}
	return nil
}

// Init mints a fresh session token for client/user and persists. Per the
// error handling design (spec.md §7), a persistence failure is logged by the
// caller via the returned error but the in-memory binding still takes
// effect — the next mutation retries the write.
func (s *Store) Init(client, user string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &Record{
		Client:     client,
		User:       user,
		ID:         uuid.NewString(),
		LastUpdate: s.now().UnixMicro(),
	}
	s.records[client] = rec
	err := s.persist()
	return *rec, err
}

// Update refreshes last_update iff (user, token) matches the stored record.
func (s *Store) Update(client, user, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[client]
	if !ok || rec.User != user || rec.ID != token {
		return false, nil
	}
	rec.LastUpdate = s.now().UnixMicro()
	return true, s.persist()
}

// Verify is the read-side check: does (user, token) match client's record?
func (s *Store) Verify(client, user, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[client]
	if !ok {
		return false
	}
	if now := s.now().UnixMicro(); now-rec.LastUpdate > s.maxLifetime.Microseconds() {
		return false
	}
	return rec.User == user && rec.ID == token
}

// Get returns a copy of client's record, honoring the lifetime check.
func (s *Store) Get(client string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[client]
	if !ok {
		return Record{}, false
	}
	if now := s.now().UnixMicro(); now-rec.LastUpdate > s.maxLifetime.Microseconds() {
		return Record{}, false
	}
	return *rec, true
}

// EvictExpired removes every record whose last_update is older than
// max_lifetime. Intended to be called from a 1-minute ticker, per spec.md §3.
func (s *Store) EvictExpired() (evicted int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UnixMicro()
	limit := s.maxLifetime.Microseconds()
	changed := false
	for client, rec := range s.records {
		if now-rec.LastUpdate > limit {
			delete(s.records, client)
			changed = true
			evicted++
		}
	}
	if changed {
		err = s.persist()
	}
	return evicted, err
}

// Count returns the number of currently-held records (including ones that
// would fail the lifetime check on next read — eviction is tick-driven).
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
