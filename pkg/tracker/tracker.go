// Package tracker implements PendingTracker: the thread-safe, in-memory
// store of command lifecycle state and per-device failure/alarm state
// shared by Matchmaker, DeviceWorker, and Orchestrator. Every operation
// is independently atomic — there are no compound transactions.
package tracker

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wcsconnector/core/pkg/model"
)

// Entry is a command's tracked lifecycle state. Copies returned by query
// methods are snapshots; mutating them has no effect on the tracker.
type Entry struct {
	CommandID   string
	State       model.CommandState
	Device      string
	Kind        model.Kind
	Source      *model.Location
	Destination *model.Location

	SubmittedAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	Status            model.Status
	LastError         string
	PalletAvailable   bool
	PalletUnavailable bool
}

// Tracker is PendingTracker: a lock-free concurrent map of command state
// plus atomic submission/completion counters and per-device alarm/
// failure state.
type Tracker struct {
	commands sync.Map // command_id -> *Entry

	totalSubmitted atomic.Int64
	totalCompleted atomic.Int64
	totalErrors    atomic.Int64

	alarms   sync.Map // device_id -> model.DeviceAlarmEntry
	failures sync.Map // device_id -> model.DeviceFailureEntry

	activeAlarmCount atomic.Int32
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

// MarkPending records a newly submitted command. It overwrites any
// stale entry for the same id (command ids are caller-asserted unique)
// and increments total_submitted.
func (t *Tracker) MarkPending(cmd model.Command) {
	t.commands.Store(cmd.CommandID, &Entry{
		CommandID:   cmd.CommandID,
		State:       model.Pending,
		Device:      cmd.DeviceAffinity,
		Kind:        cmd.Kind,
		Source:      cmd.Source,
		Destination: cmd.Destination,
		SubmittedAt: cmd.SubmittedAt,
	})
	t.totalSubmitted.Add(1)
}

// MarkProcessing transitions id from Pending to Processing, recording
// the assigned device and start time. Returns false if id was not
// Pending (already dispatched, removed, or unknown).
func (t *Tracker) MarkProcessing(id, device string) bool {
	v, ok := t.commands.Load(id)
	if !ok {
		return false
	}
	e := v.(*Entry)
	if e.State != model.Pending {
		return false
	}
	next := *e
	next.State = model.Processing
	next.Device = device
	next.StartedAt = time.Now()
	return t.commands.CompareAndSwap(id, v, &next)
}

// MarkCompleted records a terminal CommandResult. Unlike MarkProcessing,
// this is unconditional: a command mid-execution always reaches a
// terminal status, so there is no legal state to guard against here.
func (t *Tracker) MarkCompleted(id string, result model.CommandResult) {
	v, ok := t.commands.Load(id)
	var e Entry
	if ok {
		e = *v.(*Entry)
	} else {
		e = Entry{CommandID: id}
	}
	e.State = model.Completed
	e.Status = result.Status
	e.CompletedAt = result.CompletedAt
	e.LastError = result.Message
	e.PalletAvailable = result.PalletAvailable
	e.PalletUnavailable = result.PalletUnavailable
	t.commands.Store(id, &e)

	t.totalCompleted.Add(1)
	if result.Status != model.Success {
		t.totalErrors.Add(1)
	}
}

// MarkRemoved transitions id from Pending to Removed. Returns whether it
// happened — false if the command was already dispatched, completed, or
// unknown.
func (t *Tracker) MarkRemoved(id string) bool {
	v, ok := t.commands.Load(id)
	if !ok {
		return false
	}
	e := v.(*Entry)
	if e.State != model.Pending {
		return false
	}
	next := *e
	next.State = model.Removed
	return t.commands.CompareAndSwap(id, v, &next)
}

// Get returns a snapshot of the tracked entry for id.
func (t *Tracker) Get(id string) (Entry, bool) {
	v, ok := t.commands.Load(id)
	if !ok {
		return Entry{}, false
	}
	return *v.(*Entry), true
}

// InFlightKind returns the Kind currently Processing on device, if any —
// consulted by Matchmaker's per-device compatibility rules.
func (t *Tracker) InFlightKind(device string) (model.Kind, bool) {
	var kind model.Kind
	found := false
	t.commands.Range(func(_, value any) bool {
		e := value.(*Entry)
		if e.State == model.Processing && e.Device == device {
			kind = e.Kind
			found = true
			return false
		}
		return true
	})
	return kind, found
}

// PendingList returns every command currently Pending, ordered by
// submission time (oldest first), matching the FIFO fairness model.
func (t *Tracker) PendingList() []Entry {
	return t.listByState(model.Pending, func(e Entry) time.Time { return e.SubmittedAt })
}

// ProcessingList returns every command currently Processing, ordered by
// start time.
func (t *Tracker) ProcessingList() []Entry {
	return t.listByState(model.Processing, func(e Entry) time.Time { return e.StartedAt })
}

func (t *Tracker) listByState(state model.CommandState, sortKey func(Entry) time.Time) []Entry {
	var out []Entry
	t.commands.Range(func(_, value any) bool {
		e := *value.(*Entry)
		if e.State == state {
			out = append(out, e)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return sortKey(out[i]).Before(sortKey(out[j])) })
	return out
}

// TotalSubmitted, TotalCompleted, TotalErrors back the invariant
// total_submitted ≥ total_completed + pending + processing.
func (t *Tracker) TotalSubmitted() int64 { return t.totalSubmitted.Load() }
func (t *Tracker) TotalCompleted() int64 { return t.totalCompleted.Load() }
func (t *Tracker) TotalErrors() int64    { return t.totalErrors.Load() }

// SetAlarm records that device is currently reporting a non-zero PLC
// error code. Cleared only by ClearAlarm (the PLC clears it, not the
// core).
func (t *Tracker) SetAlarm(device string, code int, message string) {
	_, existed := t.alarms.Swap(device, model.DeviceAlarmEntry{
		DeviceID: device, ErrorCode: code, ErrorMessage: message, RaisedAt: time.Now(),
	})
	if !existed {
		t.activeAlarmCount.Add(1)
	}
}

// ClearAlarm removes device's alarm entry, if any.
func (t *Tracker) ClearAlarm(device string) {
	if _, existed := t.alarms.LoadAndDelete(device); existed {
		t.activeAlarmCount.Add(-1)
	}
}

// HasAlarm reports whether device currently has an active alarm.
func (t *Tracker) HasAlarm(device string) bool {
	_, ok := t.alarms.Load(device)
	return ok
}

// HasAnyActiveAlarm is Matchmaker's admission gate: while true, no
// command is dispatched to any device.
func (t *Tracker) HasAnyActiveAlarm() bool {
	return t.activeAlarmCount.Load() > 0
}

// SetFailure records that device requires recovery before accepting
// further commands.
func (t *Tracker) SetFailure(device, message string) {
	t.failures.Store(device, model.DeviceFailureEntry{
		DeviceID: device, LastErrorMessage: message, FailedAt: time.Now(),
	})
}

// ClearFailure removes device's failure entry, if any — called once the
// worker's recovery gate passes.
func (t *Tracker) ClearFailure(device string) {
	t.failures.Delete(device)
}

// HasFailure reports whether device is currently marked as requiring
// recovery.
func (t *Tracker) HasFailure(device string) bool {
	_, ok := t.failures.Load(device)
	return ok
}

// DeviceStats aggregates per-device counts for status queries.
type DeviceStats struct {
	Pending    int
	Processing int
	Completed  int
	Errors     int
}

// DeviceStats computes an aggregate snapshot for one device. It is O(n)
// in the number of tracked commands, acceptable at the query rates the
// Gateway's status endpoints see.
func (t *Tracker) DeviceStats(device string) DeviceStats {
	var s DeviceStats
	t.commands.Range(func(_, value any) bool {
		e := value.(*Entry)
		if e.Device != device {
			return true
		}
		switch e.State {
		case model.Pending:
			s.Pending++
		case model.Processing:
			s.Processing++
		case model.Completed:
			s.Completed++
			if e.Status != model.Success {
				s.Errors++
			}
		}
		return true
	})
	return s
}
