package websocket

import (
	"sync"

	"presenceboard/pkg/interfaces"
)

// Registry is the connection registry: user ID to the set of live channels
// for that identity, keyed by channel ID. It holds lookup references only;
// channel lifetime is owned by the per-connection handler.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]interfaces.Channel
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]map[string]interfaces.Channel),
	}
}

// Register adds a channel to the identity's set, creating the set lazily on
// the first channel. The identity becomes reachable for dispatch.
func (r *Registry) Register(userID string, ch interfaces.Channel) {
	if userID == "" || ch == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, exists := r.channels[userID]
	if !exists {
		set = make(map[string]interfaces.Channel)
		r.channels[userID] = set
	}
	set[ch.ID()] = ch
}

// Unregister removes a channel from the identity's set and deletes the set
// once it is empty, so no empty entries leak. It is an idempotent no-op for
// channels that were never registered. The return value is the number of
// channels still registered for the identity; callers use zero to decide
// the identity has gone offline.
func (r *Registry) Unregister(userID string, ch interfaces.Channel) int {
	if userID == "" || ch == nil {
		return r.count(userID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, exists := r.channels[userID]
	if !exists {
		return 0
	}

	delete(set, ch.ID())
	if len(set) == 0 {
		delete(r.channels, userID)
		return 0
	}
	return len(set)
}

// ChannelsFor returns a copied snapshot of the identity's channels, safe to
// iterate while other goroutines register and unregister.
func (r *Registry) ChannelsFor(userID string) []interfaces.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, exists := r.channels[userID]
	if !exists {
		return nil
	}

	channels := make([]interfaces.Channel, 0, len(set))
	for _, ch := range set {
		channels = append(channels, ch)
	}
	return channels
}

// Stats returns registry counters for health reporting.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, set := range r.channels {
		total += len(set)
	}

	return map[string]int{
		"tracked_identities": len(r.channels),
		"total_channels":     total,
	}
}

func (r *Registry) count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[userID])
}
