// Package worker implements DeviceWorker: the per-device serial loop
// that reads one command at a time from its device channel, runs
// pre-flight checks, invokes the right executor, publishes results, and
// gates the next read on a stagger delay or a recovery wait.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wcsconnector/core/pkg/connection"
	"github.com/wcsconnector/core/pkg/executor"
	"github.com/wcsconnector/core/pkg/model"
	"github.com/wcsconnector/core/pkg/signal"
	"github.com/wcsconnector/core/pkg/tracker"
)

// Stagger is the pause between a successful command and the next
// ReadyTicket.
const Stagger = 5 * time.Second

// Status is the worker's externally-observable activity state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusExecuting Status = "executing"
	StatusRecovery  Status = "recovery"
)

// Health is a point-in-time snapshot returned by Worker.Health.
type Health struct {
	DeviceID         string
	Status           Status
	CurrentCommandID string
	CommandsHandled  int
	LastActivity     time.Time
}

// Config bundles the per-device settings DeviceWorker needs beyond its
// Connection/Signals/Tracker collaborators.
type Config struct {
	DeviceID             string
	CommandTimeout       time.Duration
	StopOnAlarm          bool
	HandshakeSettleDelay time.Duration
	AutoRecoveryEnabled  bool
	RecoveryPollInterval time.Duration
}

// Worker is DeviceWorker. It owns its ConnectionManager (via the IO
// interface), the four executors built over the device's SignalMap, and
// a manual-recovery one-shot signal.
type Worker struct {
	cfg     Config
	conn    *connection.Manager
	signals *signal.Map
	tracker *tracker.Tracker
	log     *slog.Logger

	commandCh      <-chan model.Command
	resultCh       chan<- model.CommandResult
	availabilityCh chan<- model.ReadyTicket

	barcodes          *executor.BarcodeHub
	onBarcodeReceived func(deviceID, commandID, barcode string)

	executors map[model.Kind]executor.Executor

	manualRecoveryCh chan struct{}
	inRecovery       atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu               sync.Mutex
	status           Status
	currentCommandID string
	commandsHandled  int
	lastActivity     time.Time
}

// New builds a DeviceWorker. commandCh is the device's per-device
// channel (capacity 1); resultCh and availabilityCh are the
// orchestrator-owned result/availability channels.
func New(cfg Config, conn *connection.Manager, signals *signal.Map, trk *tracker.Tracker, commandCh <-chan model.Command, resultCh chan<- model.CommandResult, availabilityCh chan<- model.ReadyTicket, barcodes *executor.BarcodeHub, onBarcodeReceived func(deviceID, commandID, barcode string)) (*Worker, error) {
	w := &Worker{
		cfg:               cfg,
		conn:              conn,
		signals:           signals,
		tracker:           trk,
		log:               slog.With("device_id", cfg.DeviceID),
		commandCh:         commandCh,
		resultCh:          resultCh,
		availabilityCh:    availabilityCh,
		barcodes:          barcodes,
		onBarcodeReceived: onBarcodeReceived,
		manualRecoveryCh:  make(chan struct{}, 1),
		stopCh:            make(chan struct{}),
		status:            StatusIdle,
		lastActivity:      time.Now(),
	}

	deps := executor.Deps{
		DeviceID:             cfg.DeviceID,
		Signals:              signals,
		IO:                   conn,
		StopOnAlarm:          cfg.StopOnAlarm,
		HandshakeSettleDelay: cfg.HandshakeSettleDelay,
		Barcodes:             barcodes,
		OnBarcodeReceived:    onBarcodeReceived,
		OnAlarm:              w.handleAlarm,
	}

	w.executors = make(map[model.Kind]executor.Executor, 4)
	for _, kind := range []model.Kind{model.Inbound, model.Outbound, model.Transfer, model.CheckPallet} {
		ex, err := executor.Dispatch(kind, deps)
		if err != nil {
			return nil, err
		}
		w.executors[kind] = ex
	}

	return w, nil
}

// Start begins the worker's main loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to shut down and waits for it to exit. Safe to
// call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// TriggerRecovery raises the manual-recovery signal. It is a no-op if
// the worker is not currently in a recovery wait; otherwise it also
// clears the connection manager's exhausted-reconnect state.
func (w *Worker) TriggerRecovery() {
	if !w.inRecovery.Load() {
		return
	}
	w.conn.ResetReconnect()
	select {
	case w.manualRecoveryCh <- struct{}{}:
	default:
	}
}

// Health returns a snapshot of the worker's current activity.
func (w *Worker) Health() Health {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Health{
		DeviceID:         w.cfg.DeviceID,
		Status:           w.status,
		CurrentCommandID: w.currentCommandID,
		CommandsHandled:  w.commandsHandled,
		LastActivity:     w.lastActivity,
	}
}

func (w *Worker) setStatus(status Status, commandID string) {
	w.mu.Lock()
	w.status = status
	w.currentCommandID = commandID
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	w.emitReadyTicket()

	for {
		var cmd model.Command
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case cmd = <-w.commandCh:
		}

		w.setStatus(StatusExecuting, cmd.CommandID)
		result := w.handleOne(ctx, cmd)
		w.publish(result)

		w.mu.Lock()
		w.commandsHandled++
		w.mu.Unlock()

		if result.Status == model.Success {
			w.setStatus(StatusIdle, "")
			if !w.sleep(ctx, Stagger) {
				return
			}
			w.emitReadyTicket()
			continue
		}

		w.setStatus(StatusRecovery, "")
		if !w.recoveryWait(ctx) {
			return
		}
		w.setStatus(StatusIdle, "")
		w.emitReadyTicket()
	}
}

// handleOne runs pre-flight, then (if it passes) the command-kind
// executor under a deadline combining shutdown with command_timeout.
func (w *Worker) handleOne(ctx context.Context, cmd model.Command) model.CommandResult {
	startedAt := time.Now()

	ready, reason := w.preFlight(ctx)
	if !ready {
		return model.CommandResult{
			CommandID:   cmd.CommandID,
			DeviceID:    w.cfg.DeviceID,
			Status:      model.Failed,
			Message:     reason,
			StartedAt:   startedAt,
			CompletedAt: time.Now(),
		}
	}

	ex, ok := w.executors[cmd.Kind]
	if !ok {
		return model.CommandResult{
			CommandID:   cmd.CommandID,
			DeviceID:    w.cfg.DeviceID,
			Status:      model.Failed,
			Message:     "no executor registered for command kind " + string(cmd.Kind),
			StartedAt:   startedAt,
			CompletedAt: time.Now(),
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, w.cfg.CommandTimeout)
	defer cancel()

	result, err := ex.Execute(execCtx, cmd)
	if err != nil {
		w.log.Error("executor returned an unexpected error", "command_id", cmd.CommandID, "error", err)
		return model.CommandResult{
			CommandID:   cmd.CommandID,
			DeviceID:    w.cfg.DeviceID,
			Status:      model.Failed,
			Message:     err.Error(),
			StartedAt:   startedAt,
			CompletedAt: time.Now(),
		}
	}

	// The admission gate applies only while the alarm is unresolved at
	// completion time (per the chosen reading of the source's
	// inconsistent stopOnAlarm/gate interaction): if the PLC's error code
	// has returned to zero by now, release it.
	w.reconcileAlarm(ctx)

	return result
}

func (w *Worker) reconcileAlarm(ctx context.Context) {
	addr, err := w.signals.Get(signal.ErrorCode)
	if err != nil {
		return
	}
	code, err := w.conn.ReadI32(ctx, addr)
	if err == nil && code == 0 {
		w.tracker.ClearAlarm(w.cfg.DeviceID)
	}
}

// preFlight reads SoftwareConnected and DeviceReady; both must be true
// before a command is attempted.
func (w *Worker) preFlight(ctx context.Context) (bool, string) {
	swAddr, err := w.signals.Get(signal.SoftwareConnected)
	if err != nil {
		return false, err.Error()
	}
	sw, err := w.conn.ReadBool(ctx, swAddr)
	if err != nil {
		return false, "reading SoftwareConnected: " + err.Error()
	}
	if !sw {
		return false, "pre-flight failed: software not connected"
	}

	rdyAddr, err := w.signals.Get(signal.DeviceReady)
	if err != nil {
		return false, err.Error()
	}
	ready, err := w.conn.ReadBool(ctx, rdyAddr)
	if err != nil {
		return false, "reading DeviceReady: " + err.Error()
	}
	if !ready {
		return false, "pre-flight failed: device not ready"
	}
	return true, ""
}

func (w *Worker) deviceReady(ctx context.Context) bool {
	addr, err := w.signals.Get(signal.DeviceReady)
	if err != nil {
		return false
	}
	ready, err := w.conn.ReadBool(ctx, addr)
	return err == nil && ready
}

// recoveryWait blocks until the device is ready again, per the device's
// configured recovery mode. Returns false if shutdown/cancellation won
// the race instead.
func (w *Worker) recoveryWait(ctx context.Context) bool {
	w.inRecovery.Store(true)
	defer w.inRecovery.Store(false)

	if w.cfg.AutoRecoveryEnabled {
		interval := w.cfg.RecoveryPollInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return false
			case <-ctx.Done():
				return false
			case <-ticker.C:
				if w.deviceReady(ctx) {
					w.tracker.ClearFailure(w.cfg.DeviceID)
					return true
				}
			}
		}
	}

	for {
		select {
		case <-w.stopCh:
			return false
		case <-ctx.Done():
			return false
		case <-w.manualRecoveryCh:
			if w.deviceReady(ctx) {
				w.tracker.ClearFailure(w.cfg.DeviceID)
				return true
			}
			// Not ready yet: keep waiting on the next trigger.
		}
	}
}

func (w *Worker) emitReadyTicket() {
	select {
	case w.availabilityCh <- model.ReadyTicket{DeviceID: w.cfg.DeviceID, ReadyAt: time.Now()}:
	case <-w.stopCh:
	}
}

// publish sends the terminal result to the orchestrator-owned result
// channel. ReplyHub (pkg/orchestrator) is responsible for updating the
// tracker and broadcasting to external observers: it drains the result
// channel and updates the tracker as results arrive.
func (w *Worker) publish(result model.CommandResult) {
	select {
	case w.resultCh <- result:
	case <-w.stopCh:
	}
}

// handleAlarm is the executor's OnAlarm callback: emit an intermediate
// Alarm result ahead of the command's eventual terminal result. Alarm
// bookkeeping on the tracker happens in ReplyHub, not here.
func (w *Worker) handleAlarm(code int, message string) {
	w.mu.Lock()
	cmdID := w.currentCommandID
	w.mu.Unlock()

	select {
	case w.resultCh <- model.CommandResult{
		CommandID:       cmdID,
		DeviceID:        w.cfg.DeviceID,
		Status:          model.Alarm,
		Message:         message,
		PlcErrorCode:    code,
		PlcErrorMessage: message,
		StartedAt:       time.Now(),
	}:
	case <-w.stopCh:
	}
}

// sleep waits for d or until shutdown/cancellation. Returns false if
// shutdown won the race.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-w.stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
