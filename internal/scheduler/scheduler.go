// Package scheduler implements the Scheduler: the stateful arbiter that
// tracks schedule entries, computes the active subset from connection
// policy and tariffs, and emits change notifications.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/mogwaid/mogwaid/internal/collab"
	"github.com/mogwaid/mogwaid/internal/entry"
)

const (
	defaultMaxEntries       = 1024
	defaultMaxActiveEntries = 1
	identityCacheSize       = 256
)

// Config wires a Scheduler's collaborators and quotas.
type Config struct {
	// MaxEntries is the soft global cap on tracked entries (default 1024).
	MaxEntries uint32
	// MaxActiveEntries is the hard cap on concurrently active entries
	// (default 1, reflecting a sequential download policy).
	MaxActiveEntries uint32

	ConnectionMonitor collab.ConnectionMonitor
	PeerManager       collab.PeerManager
	Clock             collab.Clock
}

// Scheduler maintains schedule entries and the derived active subset. All
// state mutation is serialized by mu: every external collaborator signal
// and every public mutator funnels through the same lock before touching
// state, so the Scheduler behaves as a single logical event loop even
// though signals arrive on arbitrary goroutines. entries is an xsync.Map
// so the read-only accessors (GetEntries, GetEntry) never contend with
// that lock.
type Scheduler struct {
	mu sync.Mutex

	entries *xsync.Map[string, *entry.Entry]
	active  map[string]struct{}

	connMonitor collab.ConnectionMonitor
	peerManager collab.PeerManager
	clock       collab.Clock

	// identityCache mirrors the source's peer_identities: handle -> the
	// resolved owner identity, so peer-vanished (keyed by handle) can find
	// which owner's entries to sweep.
	identityCache otter.Cache[string, string]

	maxEntries       uint32
	maxActiveEntries uint32

	allowDownloads bool
	hasAlarm       bool
	alarmID        collab.AlarmID

	onEntriesChanged        func(added, removed []string)
	onActiveEntriesChanged  func(added, removed []string)
	onAllowDownloadsChanged func(allow bool)
	onEntryFieldChanged     func(id, field string)

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// New constructs a Scheduler and subscribes to its collaborators' signals.
func New(cfg Config) (*Scheduler, error) {
	if cfg.ConnectionMonitor == nil || cfg.PeerManager == nil || cfg.Clock == nil {
		return nil, fmt.Errorf("scheduler: ConnectionMonitor, PeerManager, and Clock are required")
	}

	maxEntries := cfg.MaxEntries
	if maxEntries == 0 {
		maxEntries = defaultMaxEntries
	}
	maxActive := cfg.MaxActiveEntries
	if maxActive == 0 {
		maxActive = defaultMaxActiveEntries
	}

	cache, err := otter.MustBuilder[string, string](identityCacheSize).
		Cost(func(_ string, _ string) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, fmt.Errorf("scheduler: building identity cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		entries:          xsync.NewMap[string, *entry.Entry](),
		active:           make(map[string]struct{}),
		connMonitor:      cfg.ConnectionMonitor,
		peerManager:      cfg.PeerManager,
		clock:            cfg.Clock,
		identityCache:    cache,
		maxEntries:       maxEntries,
		maxActiveEntries: maxActive,
		shutdownCtx:      ctx,
		shutdownCancel:   cancel,
	}

	s.connMonitor.SetOnConnectionsChanged(s.handleConnectionsChanged)
	s.connMonitor.SetOnConnectionDetailsChanged(s.handleConnectionDetailsChanged)
	s.peerManager.SetOnPeerVanished(s.handlePeerVanished)
	s.clock.SetOnOffsetChanged(s.handleOffsetChanged)

	s.mu.Lock()
	s.recomputeAndNotifyLocked(nil, nil)
	s.mu.Unlock()

	return s, nil
}

// Shutdown cancels all in-flight peer-identity resolutions (they resolve to
// collab.ErrCancelled) and disarms any pending alarm.
func (s *Scheduler) Shutdown() {
	s.shutdownCancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasAlarm {
		s.clock.RemoveAlarm(s.alarmID)
		s.hasAlarm = false
	}
}

func (s *Scheduler) SetOnEntriesChanged(fn func(added, removed []string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEntriesChanged = fn
}

func (s *Scheduler) SetOnActiveEntriesChanged(fn func(added, removed []string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onActiveEntriesChanged = fn
}

func (s *Scheduler) SetOnAllowDownloadsChanged(fn func(allow bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAllowDownloadsChanged = fn
}

// SetOnEntryFieldChanged installs the per-field notification hook fired
// when SetEntryPriority/SetEntryResumable actually change a value. This
// always fires before any entries_changed notification for the same
// update, trivially: a pure field mutation never touches entry-set
// membership, so it never produces an entries_changed of its own.
func (s *Scheduler) SetOnEntryFieldChanged(fn func(id, field string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEntryFieldChanged = fn
}

// PeerManager returns the collaborator Schedule uses to resolve callers.
func (s *Scheduler) PeerManager() collab.PeerManager { return s.peerManager }

func (s *Scheduler) AllowDownloads() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowDownloads
}

// GetEntries returns a snapshot mapping of every tracked entry.
func (s *Scheduler) GetEntries() map[string]*entry.Entry {
	out := make(map[string]*entry.Entry)
	s.entries.Range(func(id string, e *entry.Entry) bool {
		out[id] = e
		return true
	})
	return out
}

func (s *Scheduler) GetEntry(id string) (*entry.Entry, bool) {
	return s.entries.Load(id)
}

func (s *Scheduler) IsEntryActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

// UpdateEntries atomically adds the (de-duplicated) entries in add and
// removes the ids in remove. Unknown ids in remove are ignored. Returns
// ErrEntryFull, applying no change, if accepting every entry in add would
// exceed the configured quota.
func (s *Scheduler) UpdateEntries(add []*entry.Entry, removeIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateEntriesLocked(add, removeIDs)
}

// RemoveEntriesForOwner removes every entry whose owner matches. Silently
// succeeds (no-op) if none match.
func (s *Scheduler) RemoveEntriesForOwner(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeEntriesForOwnerLocked(owner)
}

func (s *Scheduler) updateEntriesLocked(add []*entry.Entry, removeIDs []string) error {
	order := make([]string, 0, len(add))
	byID := make(map[string]*entry.Entry, len(add))
	for _, e := range add {
		if _, seen := byID[e.ID()]; !seen {
			order = append(order, e.ID())
		}
		byID[e.ID()] = e
	}

	removeSet := make(map[string]struct{}, len(removeIDs))
	for _, id := range removeIDs {
		removeSet[id] = struct{}{}
	}

	existingCount := s.entries.Size()
	removedExisting := 0
	for id := range removeSet {
		if _, ok := s.entries.Load(id); ok {
			removedExisting++
		}
	}
	newAdds := 0
	for _, id := range order {
		if _, ok := s.entries.Load(id); !ok {
			newAdds++
		}
	}
	if existingCount-removedExisting+newAdds > int(s.maxEntries) {
		return ErrEntryFull
	}

	var structAdded, structRemoved []string

	for id := range removeSet {
		if _, ok := s.entries.LoadAndDelete(id); ok {
			structRemoved = append(structRemoved, id)
		}
	}
	for _, id := range order {
		e := byID[id]
		e.SetOnChange(func(field string) { s.emitEntryFieldChanged(id, field) })
		_, existed := s.entries.Load(id)
		s.entries.Store(id, e)
		if !existed {
			structAdded = append(structAdded, id)
		}
	}

	s.recomputeAndNotifyLocked(structAdded, structRemoved)
	return nil
}

func (s *Scheduler) removeEntriesForOwnerLocked(owner string) {
	var toRemove []string
	s.entries.Range(func(id string, e *entry.Entry) bool {
		if e.Owner() == owner {
			toRemove = append(toRemove, id)
		}
		return true
	})
	if len(toRemove) == 0 {
		return
	}
	for _, id := range toRemove {
		s.entries.Delete(id)
	}
	s.recomputeAndNotifyLocked(nil, toRemove)
}

func (s *Scheduler) emitEntryFieldChanged(id, field string) {
	s.mu.Lock()
	fn := s.onEntryFieldChanged
	s.mu.Unlock()
	if fn != nil {
		fn(id, field)
	}
}

// SetEntryPriority looks up id, applies the new priority (firing the
// per-field hook synchronously), and recomputes the active set. The hook
// runs before mu is taken, since emitEntryFieldChanged takes mu itself.
func (s *Scheduler) SetEntryPriority(id string, priority uint32) error {
	e, ok := s.entries.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}
	e.SetPriority(priority)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recomputeAndNotifyLocked(nil, nil)
	return nil
}

// SetEntryResumable is SetEntryPriority's counterpart for the resumable
// flag.
func (s *Scheduler) SetEntryResumable(id string, resumable bool) error {
	e, ok := s.entries.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}
	e.SetResumable(resumable)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recomputeAndNotifyLocked(nil, nil)
	return nil
}

// recomputeAndNotifyLocked recomputes the active subset from the current
// entries and usable connections, then fires notifications in a fixed
// order: active removals, the structural entries_changed for this call (if
// any), active additions, then allow_downloads if it flipped.
// structAdded/structRemoved are the entry ids actually added/removed by the
// update_entries or owner-removal call that triggered this recompute. They
// are empty for the other recomputes (connection, clock, alarm and
// per-field changes), which produce no entries_changed notification.
func (s *Scheduler) recomputeAndNotifyLocked(structAdded, structRemoved []string) {
	usable := s.usableConnectionsLocked()
	newAllow := len(usable) > 0

	var candidates []*entry.Entry
	s.entries.Range(func(id string, e *entry.Entry) bool {
		candidates = append(candidates, e)
		return true
	})

	newActive := make(map[string]struct{})
	if newAllow && len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool {
			pi, pj := candidates[i].Priority(), candidates[j].Priority()
			if pi != pj {
				return pi > pj
			}
			return candidates[i].ID() < candidates[j].ID()
		})
		n := int(s.maxActiveEntries)
		if n > len(candidates) {
			n = len(candidates)
		}
		for i := 0; i < n; i++ {
			newActive[candidates[i].ID()] = struct{}{}
		}
	}

	removedActive := setDiff(s.active, newActive)
	addedActive := setDiff(newActive, s.active)
	s.active = newActive

	if len(removedActive) > 0 && s.onActiveEntriesChanged != nil {
		s.onActiveEntriesChanged(nil, removedActive)
	}
	if (len(structAdded) > 0 || len(structRemoved) > 0) && s.onEntriesChanged != nil {
		s.onEntriesChanged(structAdded, structRemoved)
	}
	if len(addedActive) > 0 && s.onActiveEntriesChanged != nil {
		s.onActiveEntriesChanged(addedActive, nil)
	}

	allowChanged := newAllow != s.allowDownloads
	s.allowDownloads = newAllow
	if allowChanged && s.onAllowDownloadsChanged != nil {
		s.onAllowDownloadsChanged(newAllow)
	}

	s.rearmAlarmLocked(usable)
}

// usableConnectionsLocked returns the ids of connections whose policy and
// current tariff period permit downloading.
func (s *Scheduler) usableConnectionsLocked() []string {
	now := s.clock.NowLocal()
	var usable []string
	for _, id := range s.connMonitor.ConnectionIDs() {
		d, ok := s.connMonitor.ConnectionDetails(id)
		if !ok || !d.AllowDownloads {
			continue
		}
		if d.Metered && !d.AllowDownloadsWhenMetered {
			continue
		}
		if d.Tariff != nil {
			if p := d.Tariff.LookupPeriod(now); p != nil && p.CapacityLimit() == 0 {
				continue
			}
		}
		usable = append(usable, id)
	}
	return usable
}

// rearmAlarmLocked cancels any previously armed alarm and arms a new one at
// the earliest tariff transition across usable connections, if any.
func (s *Scheduler) rearmAlarmLocked(usable []string) {
	if s.hasAlarm {
		s.clock.RemoveAlarm(s.alarmID)
		s.hasAlarm = false
	}

	now := s.clock.NowLocal()
	var earliest time.Time
	found := false
	for _, id := range usable {
		d, ok := s.connMonitor.ConnectionDetails(id)
		if !ok || d.Tariff == nil {
			continue
		}
		instant, _, _, ok2 := d.Tariff.NextTransition(&now)
		if !ok2 {
			continue
		}
		if !found || instant.Before(earliest) {
			earliest, found = instant, true
		}
	}
	if !found {
		return
	}
	s.alarmID = s.clock.AddAlarm(earliest, s.handleAlarmFired)
	s.hasAlarm = true
}

func (s *Scheduler) handleConnectionsChanged(_, _ []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recomputeAndNotifyLocked(nil, nil)
}

func (s *Scheduler) handleConnectionDetailsChanged(_ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recomputeAndNotifyLocked(nil, nil)
}

func (s *Scheduler) handleOffsetChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recomputeAndNotifyLocked(nil, nil)
}

func (s *Scheduler) handleAlarmFired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasAlarm = false
	s.recomputeAndNotifyLocked(nil, nil)
}

func (s *Scheduler) handlePeerVanished(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identityCache.Get(handle)
	s.identityCache.Delete(handle)
	if !ok {
		return
	}
	s.removeEntriesForOwnerLocked(identity)
}

func setDiff(a, b map[string]struct{}) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
