package interfaces

import (
	"context"

	"presenceboard/pkg/types"
)

// TokenVerifier validates a session token against the external identity
// provider and resolves the identity it belongs to.
type TokenVerifier interface {
	// VerifyToken returns the user ID for a valid token. Any failure
	// (bad token, unreachable verifier, timeout) is an error; callers treat
	// all of them as authentication failure.
	VerifyToken(ctx context.Context, token string) (string, error)
}

// ProfileDirectory batch-fetches display metadata for identities.
type ProfileDirectory interface {
	// Profiles returns the resolved profiles keyed by user ID. Identities
	// the directory cannot resolve are absent from the map. An error means
	// no enrichment data is available; it is never fatal to callers.
	Profiles(ctx context.Context, userIDs []string) (map[string]types.Profile, error)
}
