package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mogwaid/mogwaid/internal/collab"
	"github.com/mogwaid/mogwaid/internal/entry"
	"github.com/mogwaid/mogwaid/internal/period"
	"github.com/mogwaid/mogwaid/internal/tariff"
)

type harness struct {
	t    *testing.T
	sch  *Scheduler
	conn *collab.MockConnectionMonitor
	peer *collab.MockPeerManager
	clk  *collab.MockClock

	entriesEvents       [][2][]string
	activeEntriesEvents [][2][]string
	allowEvents         []bool
}

func newHarness(t *testing.T, maxActive uint32) *harness {
	t.Helper()
	h := &harness{
		t:    t,
		conn: collab.NewMockConnectionMonitor(),
		peer: collab.NewMockPeerManager(),
		clk:  collab.NewMockClock(time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	// One always-usable connection so allow_downloads is true by default.
	h.conn.AddConnection("eth0", collab.ConnectionDetails{AllowDownloads: true})

	sch, err := New(Config{
		MaxActiveEntries:  maxActive,
		ConnectionMonitor: h.conn,
		PeerManager:       h.peer,
		Clock:             h.clk,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.sch = sch

	sch.SetOnEntriesChanged(func(added, removed []string) {
		h.entriesEvents = append(h.entriesEvents, [2][]string{added, removed})
	})
	sch.SetOnActiveEntriesChanged(func(added, removed []string) {
		h.activeEntriesEvents = append(h.activeEntriesEvents, [2][]string{added, removed})
	})
	sch.SetOnAllowDownloadsChanged(func(allow bool) {
		h.allowEvents = append(h.allowEvents, allow)
	})
	return h
}

func (h *harness) addEntry(id, owner string, priority uint32) *entry.Entry {
	return entry.New(id, owner, priority, false)
}

func TestUpdateEntries_AddRemoveRoundTrip_S4(t *testing.T) {
	h := newHarness(t, 1)
	e := h.addEntry("e1", "owner-a", 0)

	if err := h.sch.UpdateEntries([]*entry.Entry{e}, nil); err != nil {
		t.Fatal(err)
	}
	if !h.sch.IsEntryActive("e1") {
		t.Fatal("expected e1 active")
	}
	if len(h.activeEntriesEvents) != 1 || len(h.activeEntriesEvents[0][0]) != 1 || h.activeEntriesEvents[0][0][0] != "e1" {
		t.Errorf("expected active_entries_changed(added=[e1]), got %v", h.activeEntriesEvents)
	}

	h.activeEntriesEvents = nil
	h.entriesEvents = nil

	if err := h.sch.UpdateEntries(nil, []string{"e1"}); err != nil {
		t.Fatal(err)
	}
	if h.sch.IsEntryActive("e1") {
		t.Fatal("expected e1 no longer active")
	}
	if _, ok := h.sch.GetEntry("e1"); ok {
		t.Fatal("expected e1 removed")
	}

	// Both active_entries_changed(removed) and entries_changed(removed) fire;
	// the harness records them in separate slices, so their relative order
	// is not checked here.
	if len(h.activeEntriesEvents) != 1 || len(h.activeEntriesEvents[0][1]) != 1 || h.activeEntriesEvents[0][1][0] != "e1" {
		t.Errorf("expected active_entries_changed(removed=[e1]), got %v", h.activeEntriesEvents)
	}
	if len(h.entriesEvents) != 1 || len(h.entriesEvents[0][1]) != 1 || h.entriesEvents[0][1][0] != "e1" {
		t.Errorf("expected entries_changed(removed=[e1]), got %v", h.entriesEvents)
	}
}

func TestRemoveEntriesForOwner_VanishCascade_S5(t *testing.T) {
	h := newHarness(t, 10)
	e1 := h.addEntry("e1", "o1", 0)
	e2 := h.addEntry("e2", "o1", 0)
	e3 := h.addEntry("e3", "o2", 0)
	if err := h.sch.UpdateEntries([]*entry.Entry{e1, e2, e3}, nil); err != nil {
		t.Fatal(err)
	}

	h.peer.SetIdentity(":1.1", "o1")
	h.sch.identityCache.Set(":1.1", "o1")

	h.entriesEvents = nil
	h.peer.Vanish(":1.1")

	if _, ok := h.sch.GetEntry("e1"); ok {
		t.Error("expected e1 removed")
	}
	if _, ok := h.sch.GetEntry("e2"); ok {
		t.Error("expected e2 removed")
	}
	if _, ok := h.sch.GetEntry("e3"); !ok {
		t.Error("expected e3 to remain")
	}
	if len(h.entriesEvents) != 1 || len(h.entriesEvents[0][1]) != 2 {
		t.Errorf("expected a single entries_changed removing 2 entries, got %v", h.entriesEvents)
	}
}

func TestPriorityPromotion_S6(t *testing.T) {
	h := newHarness(t, 1)
	e1 := h.addEntry("e1", "o1", 0)
	if err := h.sch.UpdateEntries([]*entry.Entry{e1}, nil); err != nil {
		t.Fatal(err)
	}
	if !h.sch.IsEntryActive("e1") {
		t.Fatal("expected e1 active")
	}

	h.entriesEvents = nil
	h.activeEntriesEvents = nil

	e2 := h.addEntry("e2", "o2", 5)
	if err := h.sch.UpdateEntries([]*entry.Entry{e2}, nil); err != nil {
		t.Fatal(err)
	}

	if h.sch.IsEntryActive("e1") {
		t.Error("expected e1 demoted")
	}
	if !h.sch.IsEntryActive("e2") {
		t.Error("expected e2 active")
	}

	if len(h.activeEntriesEvents) != 2 {
		t.Fatalf("expected 2 active_entries_changed events, got %v", h.activeEntriesEvents)
	}
	if len(h.activeEntriesEvents[0][1]) != 1 || h.activeEntriesEvents[0][1][0] != "e1" {
		t.Errorf("expected first event to remove e1, got %v", h.activeEntriesEvents[0])
	}
	if len(h.activeEntriesEvents[1][0]) != 1 || h.activeEntriesEvents[1][0][0] != "e2" {
		t.Errorf("expected second event to add e2, got %v", h.activeEntriesEvents[1])
	}
	if len(h.entriesEvents) != 1 || len(h.entriesEvents[0][0]) != 1 || h.entriesEvents[0][0][0] != "e2" {
		t.Errorf("expected entries_changed(added=[e2]), got %v", h.entriesEvents)
	}
}

func TestUpdateEntries_UnknownRemoveIsNotAnError(t *testing.T) {
	h := newHarness(t, 1)
	if err := h.sch.UpdateEntries(nil, []string{"does-not-exist"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestUpdateEntries_EntryFullRejectsWholeBatch(t *testing.T) {
	h := newHarness(t, 1)
	h.sch.maxEntries = 2

	e1 := h.addEntry("e1", "o1", 0)
	e2 := h.addEntry("e2", "o1", 0)
	e3 := h.addEntry("e3", "o1", 0)

	err := h.sch.UpdateEntries([]*entry.Entry{e1, e2, e3}, nil)
	if !errors.Is(err, ErrEntryFull) {
		t.Fatalf("expected ErrEntryFull, got %v", err)
	}
	if _, ok := h.sch.GetEntry("e1"); ok {
		t.Error("expected no partial application")
	}
}

func TestAllowDownloads_DerivedFromUsableConnections(t *testing.T) {
	h := newHarness(t, 1)
	if !h.sch.AllowDownloads() {
		t.Fatal("expected allow_downloads true with the default usable connection")
	}

	h.allowEvents = nil
	h.conn.UpdateDetails("eth0", collab.ConnectionDetails{AllowDownloads: false})
	if h.sch.AllowDownloads() {
		t.Error("expected allow_downloads false once the only connection disallows downloads")
	}
	if len(h.allowEvents) != 1 || h.allowEvents[0] != false {
		t.Errorf("expected a single allow_downloads(false) event, got %v", h.allowEvents)
	}
}

func TestAllowDownloads_MeteredConnectionRequiresOptIn(t *testing.T) {
	h := newHarness(t, 1)
	h.conn.UpdateDetails("eth0", collab.ConnectionDetails{
		AllowDownloads:            true,
		Metered:                   true,
		AllowDownloadsWhenMetered: false,
	})
	if h.sch.AllowDownloads() {
		t.Error("expected metered connection without opt-in to be unusable")
	}

	h.conn.UpdateDetails("eth0", collab.ConnectionDetails{
		AllowDownloads:            true,
		Metered:                   true,
		AllowDownloadsWhenMetered: true,
	})
	if !h.sch.AllowDownloads() {
		t.Error("expected metered connection with opt-in to be usable")
	}
}

func TestSchedule_IdentifyingPeerFailureDoesNotBlockBatch(t *testing.T) {
	h := newHarness(t, 10)
	h.peer.SetIdentity(":1.1", "owner-a")
	h.peer.FailResolution(":1.2")

	results, err := h.sch.Schedule(context.Background(), []ScheduleRequest{
		{Handle: ":1.1", Properties: map[string]any{"priority": float64(1)}},
		{Handle: ":1.2", Properties: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("unexpected batch-level error: %v", err)
	}
	if results[0].Err != nil || results[0].EntryID == "" {
		t.Errorf("expected request 0 to succeed, got %+v", results[0])
	}
	if !errors.Is(results[1].Err, collab.ErrIdentifyingPeer) {
		t.Errorf("expected request 1 to fail with ErrIdentifyingPeer, got %v", results[1].Err)
	}
	if _, ok := h.sch.GetEntry(results[0].EntryID); !ok {
		t.Error("expected the successfully resolved entry to be admitted")
	}
}

func TestSchedule_InvalidParametersRejectsOnlyThatEntry(t *testing.T) {
	h := newHarness(t, 10)
	h.peer.SetIdentity(":1.1", "owner-a")

	results, err := h.sch.Schedule(context.Background(), []ScheduleRequest{
		{Handle: ":1.1", Properties: map[string]any{"priority": "not-a-number"}},
	})
	if err != nil {
		t.Fatalf("unexpected batch-level error: %v", err)
	}
	if !errors.Is(results[0].Err, entry.ErrInvalidParameters) {
		t.Errorf("expected ErrInvalidParameters, got %v", results[0].Err)
	}
}

func TestRemove_UnknownIDIsNotAnError(t *testing.T) {
	h := newHarness(t, 1)
	if err := h.sch.Remove("never-existed"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestAlarm_TariffTransitionTriggersRecompute(t *testing.T) {
	h := newHarness(t, 1)

	start := time.Date(2018, 1, 10, 2, 0, 0, 0, time.UTC)
	end := time.Date(2018, 1, 10, 6, 0, 0, 0, time.UTC)
	p, err := period.New(start, end, period.RepeatDay, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	tf, err := tariff.New("daytime-cap", []*period.Period{p})
	if err != nil {
		t.Fatal(err)
	}

	h.clk.AdvanceTo(time.Date(2018, 1, 10, 1, 0, 0, 0, time.UTC))
	h.conn.UpdateDetails("eth0", collab.ConnectionDetails{AllowDownloads: true, Tariff: tf})

	if !h.sch.hasAlarm {
		t.Fatal("expected an alarm armed for the upcoming capacity-forbidden period")
	}

	h.allowEvents = nil
	h.clk.AdvanceTo(start)
	if h.sch.AllowDownloads() {
		t.Error("expected allow_downloads false once the zero-capacity period starts")
	}
	if len(h.allowEvents) != 1 || h.allowEvents[0] != false {
		t.Errorf("expected allow_downloads(false) fired by the alarm, got %v", h.allowEvents)
	}
}
