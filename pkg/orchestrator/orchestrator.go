// Package orchestrator implements Orchestrator and ReplyHub: the
// top-level facade that owns PendingTracker, the input/availability/
// result channels, the Matchmaker, and every DeviceWorker, following a
// new → register_devices → start → (serving) → stop → dispose
// lifecycle.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wcsconnector/core/pkg/connection"
	"github.com/wcsconnector/core/pkg/executor"
	"github.com/wcsconnector/core/pkg/model"
	"github.com/wcsconnector/core/pkg/scheduler"
	"github.com/wcsconnector/core/pkg/signal"
	"github.com/wcsconnector/core/pkg/tracker"
	"github.com/wcsconnector/core/pkg/worker"
)

// InputCapacity is the bounded input channel's capacity.
const InputCapacity = 20

// ErrAlreadyStarted is returned by RegisterDevice once the orchestrator
// has started — device registration is only legal beforehand.
var ErrAlreadyStarted = fmt.Errorf("orchestrator: already started")

// ErrNotStarted is returned by operations that require Start to have
// run first.
var ErrNotStarted = fmt.Errorf("orchestrator: not started")

// ErrUnknownDevice is returned when an operation names a device that
// was never registered.
var ErrUnknownDevice = fmt.Errorf("orchestrator: unknown device")

// Orchestrator is the top-level facade described above.
type Orchestrator struct {
	log *slog.Logger

	trk     *tracker.Tracker
	inputCh chan model.Command

	availability *unbounded[model.ReadyTicket]
	results      *unbounded[model.CommandResult]

	mu             sync.Mutex
	started        bool
	deviceChannels map[string]chan model.Command
	workers        map[string]*worker.Worker
	capabilities   map[string]func(model.Kind) bool

	matchmaker *scheduler.Matchmaker
	hub        *replyHub
	auditSink  AuditSink
}

// AuditSink receives every terminal or alarm CommandResult ReplyHub
// processes. It is purely a reporting fan-out target: nothing in the
// orchestration core reads it back.
type AuditSink interface {
	Record(ctx context.Context, result model.CommandResult)
}

// Option configures optional Orchestrator behavior at construction time.
type Option func(*Orchestrator)

// WithAuditSink wires sink into ReplyHub so every terminal/alarm result
// is also recorded there. Nil disables auditing (the default).
func WithAuditSink(sink AuditSink) Option {
	return func(o *Orchestrator) { o.auditSink = sink }
}

// New builds an Orchestrator bound to trk, which the caller constructs
// and may also hand to a Gateway for status queries.
func New(trk *tracker.Tracker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:            slog.With("component", "orchestrator"),
		trk:            trk,
		inputCh:        make(chan model.Command, InputCapacity),
		availability:   newUnbounded[model.ReadyTicket](),
		results:        newUnbounded[model.CommandResult](),
		deviceChannels: make(map[string]chan model.Command),
		workers:        make(map[string]*worker.Worker),
		capabilities:   make(map[string]func(model.Kind) bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterDevice creates the DeviceWorker for deviceID. Legal only
// before Start. supports reports whether the device can handle a given
// command kind — used by the Matchmaker to pick a device for an
// affinity-free ("any capable device") command.
func (o *Orchestrator) RegisterDevice(cfg worker.Config, conn *connection.Manager, signals *signal.Map, barcodes *executor.BarcodeHub, onBarcodeReceived func(deviceID, commandID, barcode string), supports func(model.Kind) bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return ErrAlreadyStarted
	}

	deviceCh := make(chan model.Command, 1)
	w, err := worker.New(cfg, conn, signals, o.trk, deviceCh, o.results.In(), o.availability.In(), barcodes, onBarcodeReceived)
	if err != nil {
		return fmt.Errorf("register device %q: %w", cfg.DeviceID, err)
	}

	o.deviceChannels[cfg.DeviceID] = deviceCh
	o.workers[cfg.DeviceID] = w
	o.capabilities[cfg.DeviceID] = supports
	return nil
}

// Start spawns the matchmaker and reply-hub goroutines and starts every
// registered worker.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return nil
	}
	o.started = true

	deviceChannels := make(map[string]chan<- model.Command, len(o.deviceChannels))
	for id, ch := range o.deviceChannels {
		deviceChannels[id] = ch
	}

	capabilities := o.capabilities
	supports := func(deviceID string, kind model.Kind) bool {
		fn, ok := capabilities[deviceID]
		return ok && fn(kind)
	}

	o.matchmaker = scheduler.New(o.inputCh, o.availability.Out(), deviceChannels, o.trk, supports)
	o.hub = newReplyHub(o.trk, o.results.Out(), o.auditSink)

	go o.hub.run()
	o.matchmaker.Start(ctx)
	for _, w := range o.workers {
		w.Start(ctx)
	}

	o.log.Info("orchestrator started", "device_count", len(o.workers))
	return nil
}

// Submit marks cmd Pending and enqueues it on the bounded input channel,
// blocking if it is full (backpressure).
func (o *Orchestrator) Submit(ctx context.Context, cmd model.Command) error {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	o.trk.MarkPending(cmd)
	select {
	case o.inputCh <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Remove succeeds only if id is still Pending.
func (o *Orchestrator) Remove(id string) bool {
	return o.trk.MarkRemoved(id)
}

// PauseScheduling/ResumeScheduling reset/set the matchmaker's pause
// gate; in-flight commands are unaffected.
func (o *Orchestrator) PauseScheduling() {
	if o.matchmaker != nil {
		o.matchmaker.Pause()
	}
}

func (o *Orchestrator) ResumeScheduling() {
	if o.matchmaker != nil {
		o.matchmaker.Resume()
	}
}

func (o *Orchestrator) IsPaused() bool {
	return o.matchmaker != nil && o.matchmaker.IsPaused()
}

// TriggerDeviceRecovery delegates to the named device's worker. It is a
// no-op (via Worker.TriggerRecovery) if the device is not currently in a
// recovery wait.
func (o *Orchestrator) TriggerDeviceRecovery(deviceID string) error {
	o.mu.Lock()
	w, ok := o.workers[deviceID]
	o.mu.Unlock()
	if !ok {
		return ErrUnknownDevice
	}
	w.TriggerRecovery()
	return nil
}

// ObserveResults returns a lazy, cancellable, restartable result stream.
// Multiple independent observers are supported; the returned unsubscribe
// func must be called once the caller is done (e.g. via defer) to stop
// receiving.
func (o *Orchestrator) ObserveResults() (<-chan model.CommandResult, func()) {
	return o.hub.subscribe()
}

// DeviceHealth returns a worker's current activity snapshot.
func (o *Orchestrator) DeviceHealth(deviceID string) (worker.Health, bool) {
	o.mu.Lock()
	w, ok := o.workers[deviceID]
	o.mu.Unlock()
	if !ok {
		return worker.Health{}, false
	}
	return w.Health(), true
}

// Stop shuts down workers and the matchmaker, then drains and closes the
// shared queues so ReplyHub and its observers see a clean end-of-stream.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		return
	}

	if o.matchmaker != nil {
		o.matchmaker.Stop()
	}
	for _, w := range o.workers {
		w.Stop()
	}

	o.availability.Close()
	o.results.Close()
	<-o.hub.done
}
