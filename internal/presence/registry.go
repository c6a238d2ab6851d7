package presence

import (
	"sync"
	"time"
)

// Entry records that a teacher identity is currently online, with the last
// known display metadata and a liveness timestamp in epoch milliseconds.
type Entry struct {
	UserID      string
	FullName    string
	Department  *string
	Designation *string
	LastSeen    int64
}

// Registry is the presence registry: user ID to Entry, guarded by its own
// lock. The registry itself is role-agnostic; callers only upsert teacher
// identities. An entry exists only while at least one connection for the
// identity is live.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	// nowMillis is swapped in tests to make LastSeen deterministic.
	nowMillis func() int64
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[string]*Entry),
		nowMillis: func() int64 { return time.Now().UnixMilli() },
	}
}

// Upsert inserts or overwrites the entry for userID and sets LastSeen to
// now. It always succeeds.
func (r *Registry) Upsert(userID, fullName string, department, designation *string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[userID] = &Entry{
		UserID:      userID,
		FullName:    fullName,
		Department:  department,
		Designation: designation,
		LastSeen:    r.nowMillis(),
	}
}

// Touch updates LastSeen for an existing entry. Touching an unknown
// identity is a no-op and never creates an entry.
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[userID]; exists {
		entry.LastSeen = r.nowMillis()
	}
}

// Remove deletes the entry for userID. Idempotent.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, userID)
}

// Get returns a copy of the entry for userID.
func (r *Registry) Get(userID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[userID]
	if !exists {
		return Entry{}, false
	}
	return cloneEntry(entry), true
}

// Snapshot returns copies of the entries for the given identities, or of
// all entries when called without arguments. Callers never see internal
// references, so concurrent writers cannot corrupt a snapshot mid-read.
func (r *Registry) Snapshot(userIDs ...string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(userIDs) == 0 {
		snapshot := make([]Entry, 0, len(r.entries))
		for _, entry := range r.entries {
			snapshot = append(snapshot, cloneEntry(entry))
		}
		return snapshot
	}

	snapshot := make([]Entry, 0, len(userIDs))
	for _, userID := range userIDs {
		if entry, exists := r.entries[userID]; exists {
			snapshot = append(snapshot, cloneEntry(entry))
		}
	}
	return snapshot
}

// cloneEntry copies an entry including its pointer fields, so callers never
// alias registry-internal memory.
func cloneEntry(entry *Entry) Entry {
	copied := *entry
	copied.Department = cloneString(entry.Department)
	copied.Designation = cloneString(entry.Designation)
	return copied
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Len returns the number of tracked identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
