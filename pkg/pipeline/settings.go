package pipeline

import (
	"io"
	"strings"
	"sync"
)

// Settings is the read-mostly configuration store consulted by enablement
// predicates. Defaults and overrides are independent layers; overrides win.
// Keys are case-insensitive.
//
// Once Lock is called the store is frozen: further writes fail with a
// SETTINGS_LOCKED configuration error. Contained resources registered via
// RegisterCloser are released by an explicit Close from the owner.
type Settings struct {
	mu        sync.RWMutex
	defaults  map[string]any
	overrides map[string]any
	closers   []io.Closer
	locked    bool
}

// NewSettings creates an empty, unlocked Settings store.
func NewSettings() *Settings {
	return &Settings{
		defaults:  make(map[string]any),
		overrides: make(map[string]any),
	}
}

func settingsKey(key string) string {
	return strings.ToLower(key)
}

// Set writes an override value.
func (s *Settings) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return NewErrorf(ErrCodeLocked, "cannot set %q: settings are locked", key)
	}
	s.overrides[settingsKey(key)] = value
	return nil
}

// SetDefault writes a default value, consulted only when no override exists.
func (s *Settings) SetDefault(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return NewErrorf(ErrCodeLocked, "cannot set default %q: settings are locked", key)
	}
	s.defaults[settingsKey(key)] = value
	return nil
}

// Get returns the value for key, overrides before defaults.
func (s *Settings) Get(key string) (any, error) {
	if v, ok := s.TryGet(key); ok {
		return v, nil
	}
	return nil, NewErrorf(ErrCodeNotFound, "setting %q not found", key)
}

// TryGet returns the value for key and whether it exists.
func (s *Settings) TryGet(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := settingsKey(key)
	if v, ok := s.overrides[k]; ok {
		return v, true
	}
	if v, ok := s.defaults[k]; ok {
		return v, true
	}
	return nil, false
}

// GetOrDefault returns the value for key, or fallback when absent.
func (s *Settings) GetOrDefault(key string, fallback any) any {
	if v, ok := s.TryGet(key); ok {
		return v
	}
	return fallback
}

// GetBool returns the value for key as a bool; absent or non-bool is false.
func (s *Settings) GetBool(key string) bool {
	v, ok := s.TryGet(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Has reports whether key exists in either layer.
func (s *Settings) Has(key string) bool {
	_, ok := s.TryGet(key)
	return ok
}

// Lock freezes the store. Locking twice is a no-op.
func (s *Settings) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = true
}

// Locked reports whether the store has been frozen.
func (s *Settings) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locked
}

// Snapshot returns a merged copy of both layers, overrides winning. Used as
// the evaluation environment for string enablement conditions.
func (s *Settings) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.defaults)+len(s.overrides))
	for k, v := range s.defaults {
		out[k] = v
	}
	for k, v := range s.overrides {
		out[k] = v
	}
	return out
}

// RegisterCloser records a resource to be released by Close. Registration is
// allowed after Lock: locking freezes values, not teardown bookkeeping.
func (s *Settings) RegisterCloser(c io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, c)
}

// Close releases all registered resources in reverse registration order and
// returns the first error encountered.
func (s *Settings) Close() error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
