package cache

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// Store is an in-process TTL key/value cache shared by the webhook
// pipeline and the read endpoints.
//
// Values are not deep-copied on Set/Get; callers must treat returned
// values as read-only snapshots. Staleness up to the entry TTL is the
// accepted trade-off against database load.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	defaultTTL time.Duration
	maxKeys    int

	stop chan struct{}
	once sync.Once

	now func() time.Time
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Options tune the store. Zero values fall back to defaults.
type Options struct {
	DefaultTTL    time.Duration
	MaxKeys       int
	SweepInterval time.Duration
}

var ErrFull = errors.New("cache: max key count reached")

func New(opts Options) *Store {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = 10000
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}

	s := &Store{
		entries:    make(map[string]entry),
		defaultTTL: opts.DefaultTTL,
		maxKeys:    opts.MaxKeys,
		stop:       make(chan struct{}),
		now:        time.Now,
	}
	go s.sweepLoop(opts.SweepInterval)
	return s
}

// Close stops the sweep goroutine. The store remains usable.
func (s *Store) Close() {
	s.once.Do(func() { close(s.stop) })
}

// Set stores value under key for ttl. ttl <= 0 applies the default.
func (s *Store) Set(key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	exp := s.now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxKeys {
		return ErrFull
	}
	s.entries[key] = entry{value: value, expiresAt: exp}
	return nil
}

// Get returns the live value for key, or ok=false on miss/expiry.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; another Set may have refreshed it.
		if cur, still := s.entries[key]; still && s.now().After(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Delete removes the given keys and returns how many existed.
func (s *Store) Delete(keys ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, k := range keys {
		if _, ok := s.entries[k]; ok {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Keys returns all non-expired keys.
func (s *Store) Keys() []string {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			continue
		}
		out = append(out, k)
	}
	return out
}

// Len reports the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// FlushAll drops every entry.
func (s *Store) FlushAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry)
}

// InvalidatePattern deletes all live keys matching a glob pattern
// where '*' matches any run of characters. Returns the delete count.
func (s *Store) InvalidatePattern(pattern string) int {
	var matched []string
	for _, k := range s.Keys() {
		if globMatch(pattern, k) {
			matched = append(matched, k)
		}
	}
	if len(matched) == 0 {
		return 0
	}
	return s.Delete(matched...)
}

func (s *Store) sweepLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}

// globMatch matches pattern against s, expanding '*' wildcards only.
func globMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, last)
}
