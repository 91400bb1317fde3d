// Package collab defines the Scheduler's external collaborator contracts:
// ConnectionMonitor, PeerManager, and Clock. Each is a capability interface
// with a caller-driven mock for tests and, for Clock only, a minimal
// production backend — production ConnectionMonitor/PeerManager backends
// talk to a host network-configuration service or bus daemon that this
// module does not provide.
package collab

import (
	"context"
	"time"

	"github.com/mogwaid/mogwaid/internal/tariff"
)

// ConnectionDetails is the per-connection policy snapshot returned by
// ConnectionMonitor.ConnectionDetails.
type ConnectionDetails struct {
	Metered                   bool
	AllowDownloadsWhenMetered bool
	AllowDownloads            bool
	Tariff                    *tariff.Tariff
}

// ConnectionMonitor enumerates network connections and their current
// policy, and notifies the Scheduler of changes.
type ConnectionMonitor interface {
	// ConnectionIDs returns the current connection snapshot.
	ConnectionIDs() []string
	// ConnectionDetails returns the details for id, or ok=false if id is
	// not currently known.
	ConnectionDetails(id string) (details ConnectionDetails, ok bool)
	// SetOnConnectionsChanged installs the connections-changed signal
	// handler. Must be called before the monitor is driven.
	SetOnConnectionsChanged(fn func(added, removed []string))
	// SetOnConnectionDetailsChanged installs the per-connection
	// details-changed signal handler.
	SetOnConnectionDetailsChanged(fn func(id string))
}

// PeerManager resolves an opaque caller handle (e.g. a bus unique name) to
// a stable owner identity, and reports when that handle vanishes.
type PeerManager interface {
	// EnsurePeerCredentials resolves handle to a stable identity string.
	// May suspend; fails with ErrIdentifyingPeer on resolution failure, or
	// ErrCancelled if ctx is cancelled first.
	EnsurePeerCredentials(ctx context.Context, handle string) (identity string, err error)
	// GetPeerCredentials is a non-suspending cache lookup.
	GetPeerCredentials(handle string) (identity string, ok bool)
	// SetOnPeerVanished installs the peer-vanished signal handler, called
	// with the handle after its cache entry has already been removed.
	SetOnPeerVanished(fn func(handle string))
}

// AlarmID identifies an armed alarm. The zero value never denotes a live
// alarm.
type AlarmID uint64

// Clock provides wall-time reads and one-shot alarm scheduling, and
// signals when the wall-clock offset from monotonic time has moved (e.g.
// NTP step, suspend/resume).
type Clock interface {
	NowLocal() time.Time
	AddAlarm(instant time.Time, callback func()) AlarmID
	RemoveAlarm(id AlarmID)
	SetOnOffsetChanged(fn func())
}
