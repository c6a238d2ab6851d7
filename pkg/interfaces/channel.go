package interfaces

// Channel is one live duplex connection as seen by the registries and the
// dispatcher. Implementations must serialize their own writes; WriteJSON is
// safe to call from multiple goroutines.
type Channel interface {
	// ID uniquely identifies this channel among all channels for the same
	// identity (multi-tab, multi-device).
	ID() string
	WriteJSON(v interface{}) error
	Close() error
}
