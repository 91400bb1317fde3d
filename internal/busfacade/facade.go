// Package busfacade exposes the Scheduler over D-Bus: the
// Schedule/ScheduleEntries/Remove methods and the EntryCount/
// ActiveEntryCount/DownloadNow/Priority/Resumable properties. Bus-name
// ownership, activation, and service lifecycle are the daemon's
// responsibility (see cmd/mogwaid), not this package's.
package busfacade

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"

	"github.com/mogwaid/mogwaid/internal/collab"
	"github.com/mogwaid/mogwaid/internal/entry"
	"github.com/mogwaid/mogwaid/internal/scheduler"
)

const (
	// SchedulerInterface is the object-capability interface implementing
	// Schedule/ScheduleEntries and the scheduler-level properties.
	SchedulerInterface = "com.mogwaid.Scheduler1"
	// EntryInterface is the interface implemented by each exported
	// schedule-entry object.
	EntryInterface = "com.mogwaid.ScheduleEntry1"
	// SchedulerPath is the well-known object path for the Scheduler
	// singleton.
	SchedulerPath = dbus.ObjectPath("/com/mogwaid/Scheduler")
	entryPathBase = "/com/mogwaid/Entry/"
)

// Facade wires a scheduler.Scheduler onto a D-Bus connection. It owns the
// mapping from scheduler entry ids to exported object paths; the
// Scheduler itself has no notion of D-Bus.
type Facade struct {
	conn *dbus.Conn
	sch  *scheduler.Scheduler

	mu        sync.Mutex
	nextSeq   uint64
	pathByID  map[string]dbus.ObjectPath
	entryProp map[string]*prop.Properties

	schedulerProp *prop.Properties
}

// New constructs a Facade bound to sch. Call Export to publish it on conn.
func New(sch *scheduler.Scheduler) *Facade {
	f := &Facade{
		sch:       sch,
		pathByID:  make(map[string]dbus.ObjectPath),
		entryProp: make(map[string]*prop.Properties),
	}

	sch.SetOnEntriesChanged(func(added, removed []string) {
		f.handleEntriesChanged(added, removed)
	})
	sch.SetOnActiveEntriesChanged(func(added, removed []string) {
		f.handleActiveEntriesChanged(added, removed)
	})
	sch.SetOnAllowDownloadsChanged(func(bool) {
		f.refreshEntryCounts()
	})
	sch.SetOnEntryFieldChanged(func(id, field string) {
		f.handleEntryFieldChanged(id, field)
	})

	return f
}

// Export publishes the Scheduler object and the scheduler-level properties
// on conn. Per-entry objects are exported lazily as entries are added.
func (f *Facade) Export(conn *dbus.Conn) error {
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	if err := conn.Export(f, SchedulerPath, SchedulerInterface); err != nil {
		return fmt.Errorf("busfacade: exporting %s: %w", SchedulerInterface, err)
	}

	props := map[string]map[string]*prop.Prop{
		SchedulerInterface: {
			"EntryCount": {
				Value:    uint32(len(f.sch.GetEntries())),
				Writable: false,
				Emit:     prop.EmitTrue,
			},
			"ActiveEntryCount": {
				Value:    f.activeEntryCount(),
				Writable: false,
				Emit:     prop.EmitTrue,
			},
		},
	}
	exported, err := prop.Export(conn, SchedulerPath, props)
	if err != nil {
		return fmt.Errorf("busfacade: exporting scheduler properties: %w", err)
	}
	f.mu.Lock()
	f.schedulerProp = exported
	f.mu.Unlock()
	return nil
}

// Schedule implements the bus method of the same name: deserialize
// properties, resolve the caller's peer identity, and admit one entry.
func (f *Facade) Schedule(sender dbus.Sender, properties map[string]dbus.Variant) (dbus.ObjectPath, *dbus.Error) {
	paths, dErr := f.scheduleBatch(sender, []map[string]dbus.Variant{properties})
	if dErr != nil {
		return "", dErr
	}
	return paths[0], nil
}

// ScheduleEntries batches Schedule across multiple property maps.
func (f *Facade) ScheduleEntries(sender dbus.Sender, batch []map[string]dbus.Variant) ([]dbus.ObjectPath, *dbus.Error) {
	return f.scheduleBatch(sender, batch)
}

func (f *Facade) scheduleBatch(sender dbus.Sender, batch []map[string]dbus.Variant) ([]dbus.ObjectPath, *dbus.Error) {
	reqs := make([]scheduler.ScheduleRequest, len(batch))
	for i, variants := range batch {
		reqs[i] = scheduler.ScheduleRequest{
			Handle:     string(sender),
			Properties: variantsToProperties(variants),
		}
	}

	results, err := f.sch.Schedule(context.Background(), reqs)
	if err != nil {
		return nil, dbusError(err)
	}

	paths := make([]dbus.ObjectPath, len(results))
	for i, r := range results {
		if r.Err != nil {
			return nil, dbusError(r.Err)
		}
		paths[i] = f.ensureEntryExported(r.EntryID)
	}
	return paths, nil
}

// ensureEntryExported lazily exports a schedule-entry object and its
// properties the first time it is referenced.
func (f *Facade) ensureEntryExported(id string) dbus.ObjectPath {
	f.mu.Lock()
	if p, ok := f.pathByID[id]; ok {
		f.mu.Unlock()
		return p
	}
	f.nextSeq++
	path := dbus.ObjectPath(entryPathBase + strconv.FormatUint(f.nextSeq, 10))
	f.pathByID[id] = path
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		return path
	}

	obj := &entryObject{facade: f, id: id}
	if err := conn.Export(obj, path, EntryInterface); err != nil {
		return path
	}

	e, ok := f.sch.GetEntry(id)
	if !ok {
		return path
	}
	propSpec := map[string]map[string]*prop.Prop{
		EntryInterface: {
			"DownloadNow": {Value: f.sch.IsEntryActive(id), Writable: false, Emit: prop.EmitTrue},
			"Priority": {
				Value: e.Priority(), Writable: true, Emit: prop.EmitTrue,
				Callback: func(c *prop.Change) *dbus.Error {
					return dbusError(f.sch.SetEntryPriority(id, c.Value.(uint32)))
				},
			},
			"Resumable": {
				Value: e.Resumable(), Writable: true, Emit: prop.EmitTrue,
				Callback: func(c *prop.Change) *dbus.Error {
					return dbusError(f.sch.SetEntryResumable(id, c.Value.(bool)))
				},
			},
		},
	}
	exported, err := prop.Export(conn, path, propSpec)
	if err == nil {
		f.mu.Lock()
		f.entryProp[id] = exported
		f.mu.Unlock()
	}
	return path
}

// entryObject is the per-entry D-Bus object implementing Remove.
type entryObject struct {
	facade *Facade
	id     string
}

func (e *entryObject) Remove() *dbus.Error {
	return dbusError(e.facade.sch.Remove(e.id))
}

func (f *Facade) activeEntryCount() uint32 {
	var n uint32
	for id := range f.sch.GetEntries() {
		if f.sch.IsEntryActive(id) {
			n++
		}
	}
	return n
}

func (f *Facade) handleEntriesChanged(added, removed []string) {
	f.mu.Lock()
	for _, id := range removed {
		delete(f.pathByID, id)
		delete(f.entryProp, id)
	}
	schedProp := f.schedulerProp
	f.mu.Unlock()

	if schedProp != nil {
		schedProp.SetMust(SchedulerInterface, "EntryCount", uint32(len(f.sch.GetEntries())))
	}
}

func (f *Facade) handleActiveEntriesChanged(added, removed []string) {
	f.mu.Lock()
	schedProp := f.schedulerProp
	epByID := make(map[string]*prop.Properties, len(added)+len(removed))
	for _, id := range added {
		epByID[id] = f.entryProp[id]
	}
	for _, id := range removed {
		epByID[id] = f.entryProp[id]
	}
	f.mu.Unlock()

	if schedProp != nil {
		schedProp.SetMust(SchedulerInterface, "ActiveEntryCount", f.activeEntryCount())
	}
	for id, ep := range epByID {
		if ep == nil {
			continue
		}
		ep.SetMust(EntryInterface, "DownloadNow", f.sch.IsEntryActive(id))
	}
}

func (f *Facade) handleEntryFieldChanged(id, field string) {
	f.mu.Lock()
	ep := f.entryProp[id]
	f.mu.Unlock()
	if ep == nil {
		return
	}
	e, ok := f.sch.GetEntry(id)
	if !ok {
		return
	}
	switch field {
	case "priority":
		ep.SetMust(EntryInterface, "Priority", e.Priority())
	case "resumable":
		ep.SetMust(EntryInterface, "Resumable", e.Resumable())
	}
}

func (f *Facade) refreshEntryCounts() {
	f.mu.Lock()
	schedProp := f.schedulerProp
	f.mu.Unlock()
	if schedProp != nil {
		schedProp.SetMust(SchedulerInterface, "ActiveEntryCount", f.activeEntryCount())
	}
}

// variantsToProperties strips the dbus.Variant envelope so entry.FromProperties
// can type-switch on plain Go values.
func variantsToProperties(variants map[string]dbus.Variant) map[string]any {
	out := make(map[string]any, len(variants))
	for k, v := range variants {
		out[k] = v.Value()
	}
	return out
}

// dbusError maps a scheduler/entry error to a distinct bus error name, so
// a caller can tell EntryFull apart from IdentifyingPeer, UnknownEntry,
// InvalidParameters, Invalidated, and Cancelled instead of getting one
// generic failure.
func dbusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	name := "com.mogwaid.Error.Failed"
	for _, m := range errorNameTable {
		if errors.Is(err, m.sentinel) {
			name = m.name
			break
		}
	}
	return dbus.NewError(name, []interface{}{err.Error()})
}

var errorNameTable = []struct {
	sentinel error
	name     string
}{
	{scheduler.ErrEntryFull, "com.mogwaid.Error.EntryFull"},
	{collab.ErrIdentifyingPeer, "com.mogwaid.Error.IdentifyingPeer"},
	{collab.ErrCancelled, "com.mogwaid.Error.Cancelled"},
	{entry.ErrInvalidParameters, "com.mogwaid.Error.InvalidParameters"},
	{scheduler.ErrUnknownEntry, "com.mogwaid.Error.UnknownEntry"},
	{scheduler.ErrInvalidated, "com.mogwaid.Error.Invalidated"},
}
