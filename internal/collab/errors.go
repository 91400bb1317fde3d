package collab

import "errors"

// ErrIdentifyingPeer is returned by PeerManager.EnsurePeerCredentials when
// the calling peer's identity cannot be resolved.
var ErrIdentifyingPeer = errors.New("identifying peer")

// ErrCancelled is returned instead of ErrIdentifyingPeer when an in-flight
// identity resolution is aborted by shutdown. Distinct from
// ErrIdentifyingPeer so callers can tell a deliberate shutdown apart from
// a genuine resolution failure.
var ErrCancelled = errors.New("cancelled")
