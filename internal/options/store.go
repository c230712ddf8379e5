// Package options implements the pipeline driver's process-wide
// key/value stores: the colon-namespaced option store plugins use to
// communicate, the install-properties store written verbatim at the
// end of a run, and the kernel-cmdline store. All three are simple
// string maps guarded by a mutex — the Go replacement for the hashmap
// the original installer built over util.c's str_hash/str_equals.
package options

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Store is a string-keyed, string-valued map safe for concurrent use.
// It backs the option store, the install-properties store, and the
// kernel-cmdline store described in spec §4.1/§4.4 — each gets its own
// Store instance. The pipeline driver hands all three stores to every
// handler in every phase; no per-phase writability rule is enforced.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Get returns the value for key. Absence with no default supplied is
// fatal to the caller's pipeline run (spec §4.1 "get(key) → value ...
// absence with no default is fatal"); Get itself just reports ok=false
// so callers can choose how to surface that.
func (s *Store) Get(key string) (value string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok = s.data[key]
	return value, ok
}

// GetDefault returns the value for key, or def if key is absent.
func (s *Store) GetDefault(key, def string) string {
	if v, ok := s.Get(key); ok {
		return v
	}
	return def
}

// MustGet returns the value for key, or returns a descriptive error if
// absent — the Go analogue of the original's fatal "key not found".
func (s *Store) MustGet(key string) (string, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}
	return "", errors.Errorf("option store: required key %q is not set", key)
}

// Put stores value under key, overwriting any prior value (spec §4.1
// "put(key, value) stores and takes ownership; if the key exists, the
// old value is freed"). Go's GC makes the ownership half of that
// contract moot; the overwrite semantics are what's preserved.
func (s *Store) Put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// PutFormatted composes a key from format and args, then stores value
// under it (spec §4.1 "put_formatted(fmt, args…) composes the key").
func (s *Store) PutFormatted(value string, format string, args ...interface{}) {
	s.Put(fmt.Sprintf(format, args...), value)
}

// Delete removes key, if present.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// IterateStringList treats value as a whitespace-separated token list
// and calls fn once per token with its 0-based index, stopping early
// if fn returns false (spec §4.1 "iterate_string_list(value)").
func IterateStringList(value string, fn func(index int, token string) bool) {
	for i, token := range strings.Fields(value) {
		if !fn(i, token) {
			return
		}
	}
}

// AppendToList appends token to the space-separated list value already
// stored at key (creating it if absent), used for accumulating entries
// like `base:disks` during disk discovery (spec §4.3.1).
func (s *Store) AppendToList(key, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.data[key]
	if existing == "" {
		s.data[key] = token
		return
	}
	s.data[key] = existing + " " + token
}

// Keys returns every key currently stored, sorted, primarily for
// snapshotting and debugging (e.g. the original's hashmap_dump).
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the store's contents, safe to range over
// without holding the store's lock.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Load replaces the store's contents with snapshot, used when
// restoring from a durable snapshot (see Persistence in persist.go).
func (s *Store) Load(snapshot map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]string, len(snapshot))
	for k, v := range snapshot {
		s.data[k] = v
	}
}
