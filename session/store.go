package session

import (
	"sort"
	"sync"
)

// DefaultCapacity is the number of entries kept per session
const DefaultCapacity = 25

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one exchange in a conversation
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is the ordered list of entries for a single session key.
// It is only handed out while the key's lock is held, see Store.Do.
type History struct {
	mutex    sync.Mutex
	capacity int
	entries  []Entry
}

// Append adds an entry and drops the oldest ones once capacity is exceeded
func (h *History) Append(e Entry) {
	h.entries = append(h.entries, e)
	if over := len(h.entries) - h.capacity; over > 0 {
		// copy so the backing array does not keep growing
		h.entries = append([]Entry(nil), h.entries[over:]...)
	}
}

// Entries returns a copy of the stored entries in insertion order
func (h *History) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)

	return out
}

func (h *History) Len() int {
	return len(h.entries)
}

// Store keeps bounded conversation histories keyed by session.
type Store struct {
	sync.Mutex
	capacity int
	sessions map[string]*History
}

func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Store{
		capacity: capacity,
		sessions: make(map[string]*History),
	}
}

func (s *Store) Capacity() int {
	return s.capacity
}

// history returns the history for key, creating an empty one for unseen keys
func (s *Store) history(key string) *History {
	s.Lock()
	defer s.Unlock()
	h, ok := s.sessions[key]
	if !ok {
		h = &History{capacity: s.capacity}
		s.sessions[key] = h
	}

	return h
}

// Do runs fn while holding the lock of the given session. Calls for the same key
// are serialized, calls for different keys run in parallel.
func (s *Store) Do(key string, fn func(h *History) error) error {
	h := s.history(key)
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return fn(h)
}

func (s *Store) Append(key string, e Entry) {
	_ = s.Do(key, func(h *History) error {
		h.Append(e)
		return nil
	})
}

func (s *Store) Get(key string) []Entry {
	s.Lock()
	h, ok := s.sessions[key]
	s.Unlock()
	if !ok {
		return []Entry{}
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.Entries()
}

func (s *Store) Len(key string) int {
	return len(s.Get(key))
}

// Keys lists known session keys, sorted
func (s *Store) Keys() []string {
	s.Lock()
	defer s.Unlock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
