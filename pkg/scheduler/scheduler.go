// Package scheduler implements Matchmaker: the singleton coordinator
// that correlates pending commands with device availability tickets,
// applies the cross-device compatibility rules and alarm admission
// gate, and dispatches with a stagger delay between successive
// dispatches in one sweep.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wcsconnector/core/pkg/model"
	"github.com/wcsconnector/core/pkg/tracker"
)

// Stagger is the pause between two successive dispatches within one
// sweep.
const Stagger = 2 * time.Second

// idleTick is how often the matchmaker re-sweeps while it has nothing
// new to read, so conditions that change independently of new
// input/availability (the alarm admission gate clearing) are still
// noticed promptly.
const idleTick = 100 * time.Millisecond

// Matchmaker is the scheduling core described above.
type Matchmaker struct {
	inputCh        <-chan model.Command
	availabilityCh <-chan model.ReadyTicket
	deviceChannels map[string]chan<- model.Command
	tracker        *tracker.Tracker
	supports       func(deviceID string, kind model.Kind) bool
	log            *slog.Logger

	paused atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Pause sets the pause gate: sweeps stop dispatching new commands, but
// in-flight commands are unaffected.
func (m *Matchmaker) Pause() { m.paused.Store(true) }

// Resume clears the pause gate.
func (m *Matchmaker) Resume() { m.paused.Store(false) }

// IsPaused reports the current pause gate state.
func (m *Matchmaker) IsPaused() bool { return m.paused.Load() }

// New builds a Matchmaker. deviceChannels must contain one entry per
// registered device (capacity-1 channels owned by the Orchestrator).
// supports reports whether a device can handle a given command kind; it
// is consulted when picking a device for an affinity-free command.
func New(inputCh <-chan model.Command, availabilityCh <-chan model.ReadyTicket, deviceChannels map[string]chan<- model.Command, trk *tracker.Tracker, supports func(deviceID string, kind model.Kind) bool) *Matchmaker {
	return &Matchmaker{
		inputCh:        inputCh,
		availabilityCh: availabilityCh,
		deviceChannels: deviceChannels,
		tracker:        trk,
		supports:       supports,
		log:            slog.With("component", "matchmaker"),
		stopCh:         make(chan struct{}),
	}
}

// Start begins the matchmaker's loop in a goroutine.
func (m *Matchmaker) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop signals shutdown and waits for the loop to exit.
func (m *Matchmaker) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Matchmaker) run(ctx context.Context) {
	defer m.wg.Done()

	var pending []model.Command
	available := make(map[string]model.ReadyTicket)

	ticker := time.NewTicker(idleTick)
	defer ticker.Stop()

	for {
		m.sweep(ctx, &pending, available)

		select {
		case <-m.stopCh:
			m.requeue(pending)
			return
		case <-ctx.Done():
			m.requeue(pending)
			return
		case cmd := <-m.inputCh:
			pending = append(pending, cmd)
		case t := <-m.availabilityCh:
			available[t.DeviceID] = t
		case <-ticker.C:
		}
	}
}

// sweep performs one FIFO dispatch pass: the head-of-line command is
// never skipped in favour of a later, dispatchable one — an
// undispatchable head stops the whole sweep.
func (m *Matchmaker) sweep(ctx context.Context, pending *[]model.Command, available map[string]model.ReadyTicket) {
	if m.paused.Load() {
		return
	}
	dispatchedOne := false
	for len(*pending) > 0 {
		if m.tracker.HasAnyActiveAlarm() {
			return
		}
		cmd := (*pending)[0]

		deviceID, ok := m.selectDevice(cmd, available)
		if !ok {
			return
		}

		if dispatchedOne {
			if !m.sleepStagger(ctx) {
				return
			}
		}

		*pending = (*pending)[1:]
		if m.dispatch(ctx, cmd, deviceID) {
			delete(available, deviceID)
			dispatchedOne = true
		}
	}
}

// selectDevice resolves which ready device cmd should run on: the named
// device if DeviceAffinity is set, or the lowest-id compatible ready
// device otherwise — the "any capable device" rule for an
// affinity-free command.
func (m *Matchmaker) selectDevice(cmd model.Command, available map[string]model.ReadyTicket) (string, bool) {
	if cmd.DeviceAffinity != "" {
		if _, ok := available[cmd.DeviceAffinity]; !ok {
			return "", false
		}
		if !m.supports(cmd.DeviceAffinity, cmd.Kind) || !m.compatible(cmd.DeviceAffinity, cmd.Kind) {
			return "", false
		}
		return cmd.DeviceAffinity, true
	}

	ids := make([]string, 0, len(available))
	for id := range available {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if m.supports(id, cmd.Kind) && m.compatible(id, cmd.Kind) {
			return id, true
		}
	}
	return "", false
}

// compatible applies the per-device dispatch-pair admission rules.
func (m *Matchmaker) compatible(deviceID string, kind model.Kind) bool {
	inFlight, ok := m.tracker.InFlightKind(deviceID)
	if !ok {
		return true
	}
	if inFlight == model.Transfer || inFlight == model.CheckPallet {
		return false
	}
	if kind == model.Transfer || kind == model.CheckPallet {
		return false
	}
	switch inFlight {
	case model.Inbound:
		return kind == model.Inbound
	case model.Outbound:
		return kind == model.Outbound
	default:
		return true
	}
}

// dispatch hands cmd to deviceID's worker channel, but only once the
// tracker confirms the command is still Pending: MarkProcessing returns
// false if cmd was concurrently Removed while sitting in the local FIFO,
// in which case it is dropped here rather than executed against the
// PLC and later marked Completed over a terminal Removed state. Reports
// whether deviceID was actually claimed, so the caller only evicts it
// from the availability pool on a real dispatch.
func (m *Matchmaker) dispatch(ctx context.Context, cmd model.Command, deviceID string) bool {
	ch, ok := m.deviceChannels[deviceID]
	if !ok {
		m.log.Error("dispatch to unregistered device", "device_id", deviceID, "command_id", cmd.CommandID)
		return false
	}
	if !m.tracker.MarkProcessing(cmd.CommandID, deviceID) {
		m.log.Info("dropping command no longer pending", "command_id", cmd.CommandID, "device_id", deviceID)
		return false
	}
	select {
	case ch <- cmd:
	case <-m.stopCh:
	case <-ctx.Done():
	}
	return true
}

func (m *Matchmaker) sleepStagger(ctx context.Context) bool {
	select {
	case <-m.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(Stagger):
		return true
	}
}

// requeue is invoked at shutdown. Commands collected in the local FIFO
// were dequeued from the input channel but never dispatched, so their
// tracker state is still Pending — nothing further to mutate, but a
// restart can retry them from PendingTracker's query methods.
func (m *Matchmaker) requeue(pending []model.Command) {
	if len(pending) == 0 {
		return
	}
	m.log.Info("shutdown with undispatched commands remaining Pending", "count", len(pending))
}
