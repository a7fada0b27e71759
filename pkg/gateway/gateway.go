// Package gateway implements Gateway: the public entry point that wraps
// Orchestrator with request validation (unknown device, capability
// mismatch, malformed request, layout violation), device activation,
// status queries, and the TaskSucceeded/TaskFailed/TaskAlarm/
// BarcodeReceived event projections consumed by pkg/api.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wcsconnector/core/pkg/audit"
	"github.com/wcsconnector/core/pkg/config"
	"github.com/wcsconnector/core/pkg/connection"
	"github.com/wcsconnector/core/pkg/executor"
	"github.com/wcsconnector/core/pkg/model"
	"github.com/wcsconnector/core/pkg/orchestrator"
	"github.com/wcsconnector/core/pkg/plc"
	"github.com/wcsconnector/core/pkg/signal"
	"github.com/wcsconnector/core/pkg/tracker"
	"github.com/wcsconnector/core/pkg/worker"
)

// Rejection reasons returned by SendCommand/SendMultipleCommands.
var (
	ErrUnknownDevice      = errors.New("gateway: unknown device")
	ErrCapabilityMismatch = errors.New("gateway: device does not support this command kind")
	ErrMalformedCommand   = errors.New("gateway: malformed command")
	ErrLayoutViolation    = errors.New("gateway: location is outside the configured layout or disabled")
	ErrDeviceNotActivated = errors.New("gateway: device has not been activated")
)

// deviceState bundles one device's runtime collaborators.
type deviceState struct {
	cfg       config.DeviceConfig
	transport plc.Transport
	conn      *connection.Manager
	signals   *signal.Map
}

// SubmissionResult is returned by SendMultipleCommands.
type SubmissionResult struct {
	Submitted []string
	Rejected  []RejectedCommand
}

// RejectedCommand names why one command in a batch was not admitted.
type RejectedCommand struct {
	CommandID string
	Reason    string
}

// DeviceStatus answers GetDeviceStatus.
type DeviceStatus struct {
	DeviceID          string
	IsConnected       bool
	IsLinkEstablished bool
	IsReady           bool
	CurrentCommandID  string
	CurrentLocation   *model.Location
	Capabilities      config.Capabilities
	Timestamp         time.Time
}

// TaskSucceeded, TaskFailed, TaskAlarm, BarcodeReceivedEvent are the
// Gateway's filtered projections over Orchestrator.ObserveResults.
type TaskSucceeded struct {
	DeviceID, CommandID string
}

type TaskFailed struct {
	DeviceID, CommandID, Error string
}

type TaskAlarm struct {
	DeviceID, CommandID, Error string
}

type BarcodeReceivedEvent struct {
	DeviceID, CommandID, Barcode string
}

// Gateway is the top-level public surface.
type Gateway struct {
	cfg  *config.Config
	trk  *tracker.Tracker
	orch *orchestrator.Orchestrator

	barcodes  *executor.BarcodeHub
	auditSink *audit.Sink

	mu      sync.RWMutex
	devices map[string]*deviceState

	succeeded chan TaskSucceeded
	failed    chan TaskFailed
	alarm     chan TaskAlarm
	barcode   chan BarcodeReceivedEvent

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// eventBuffer bounds how far the event projection channels can fall
// behind a slow consumer; once a channel is full, each new event for it
// is dropped.
const eventBuffer = 256

// New initializes a Gateway from already-loaded configuration: builds a
// transport (Emulated or TCP, per each device's Mode), its
// ConnectionManager, resolves its SignalMap, and registers a DeviceWorker
// for it with the Orchestrator. Devices are not yet connected — call
// ActivateDevice/ActivateAll for that. If cfg.Audit.Enabled, opens the
// Postgres history sink and wires it into ReplyHub.
func New(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	trk := tracker.New()

	var sink *audit.Sink
	var opts []orchestrator.Option
	if cfg.Audit.Enabled {
		s, err := audit.Open(ctx, cfg.Audit.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open audit sink: %w", err)
		}
		sink = s
		opts = append(opts, orchestrator.WithAuditSink(sink))
	}

	orch := orchestrator.New(trk, opts...)

	g := &Gateway{
		cfg:       cfg,
		trk:       trk,
		orch:      orch,
		barcodes:  executor.NewBarcodeHub(),
		auditSink: sink,
		devices:   make(map[string]*deviceState),
		succeeded: make(chan TaskSucceeded, eventBuffer),
		failed:    make(chan TaskFailed, eventBuffer),
		alarm:     make(chan TaskAlarm, eventBuffer),
		barcode:   make(chan BarcodeReceivedEvent, eventBuffer),
		stopCh:    make(chan struct{}),
	}

	for _, dev := range cfg.Devices {
		if err := g.registerDevice(dev); err != nil {
			sink.Close()
			return nil, fmt.Errorf("initialize device %q: %w", dev.DeviceID, err)
		}
	}

	return g, nil
}

func (g *Gateway) registerDevice(dev config.DeviceConfig) error {
	signals, err := signal.NewMap(dev.SignalMap)
	if err != nil {
		return err
	}

	var transport plc.Transport
	if dev.Mode == config.ModeEmulated {
		transport = plc.NewEmulated()
	} else {
		transport = plc.NewTCPTransport(dev.IPAddr, dev.Port, dev.ConnectTimeout.Std())
	}

	conn := connection.New(transport, connection.Config{
		DeviceID:             dev.DeviceID,
		HealthCheckInterval:  dev.HealthCheckInterval.Std(),
		MaxReconnectAttempts: dev.MaxReconnectAttempts,
		ReconnectBaseDelay:   dev.ReconnectBaseDelay.Std(),
	})

	deviceID := dev.DeviceID
	onBarcodeReceived := func(devID, commandID, barcode string) {
		g.emitBarcode(BarcodeReceivedEvent{DeviceID: devID, CommandID: commandID, Barcode: barcode})
	}

	caps := dev.Capabilities
	supports := func(kind model.Kind) bool { return capabilityFor(caps, kind) }

	if err := g.orch.RegisterDevice(worker.Config{
		DeviceID:             deviceID,
		CommandTimeout:       dev.CommandTimeout.Std(),
		StopOnAlarm:          dev.StopOnAlarm,
		HandshakeSettleDelay: dev.HandshakeSettleDelay.Std(),
		AutoRecoveryEnabled:  dev.AutoRecoveryEnabled,
		RecoveryPollInterval: dev.RecoveryPollInterval.Std(),
	}, conn, signals, g.barcodes, onBarcodeReceived, supports); err != nil {
		return err
	}

	g.mu.Lock()
	g.devices[deviceID] = &deviceState{cfg: dev, transport: transport, conn: conn, signals: signals}
	g.mu.Unlock()
	return nil
}

// Start brings up the Orchestrator (matchmaker, reply hub, workers) and
// the event-projection goroutine. Devices must still be activated
// separately.
func (g *Gateway) Start(ctx context.Context) error {
	if err := g.orch.Start(ctx); err != nil {
		return err
	}
	g.wg.Add(1)
	go g.projectEvents()
	return nil
}

// ActivateDevice connects the named device's transport.
func (g *Gateway) ActivateDevice(ctx context.Context, deviceID string) error {
	g.mu.RLock()
	d, ok := g.devices[deviceID]
	g.mu.RUnlock()
	if !ok {
		return ErrUnknownDevice
	}
	return d.conn.Connect(ctx)
}

// ActivateAll connects every registered device, collecting (not
// short-circuiting on) individual failures.
func (g *Gateway) ActivateAll(ctx context.Context) error {
	g.mu.RLock()
	ids := make([]string, 0, len(g.devices))
	for id := range g.devices {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := g.ActivateDevice(ctx, id); err != nil {
			slog.Error("failed to activate device", "device_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SendCommand validates and admits cmd, returning a rejection reason if
// any pre-validation check fails.
func (g *Gateway) SendCommand(ctx context.Context, cmd model.Command) error {
	if err := g.validate(cmd); err != nil {
		return err
	}
	return g.orch.Submit(ctx, cmd)
}

// SendMultipleCommands submits a batch, collecting per-command rejection
// reasons instead of failing the whole batch on the first bad entry.
func (g *Gateway) SendMultipleCommands(ctx context.Context, cmds []model.Command) SubmissionResult {
	var res SubmissionResult
	for _, cmd := range cmds {
		if err := g.SendCommand(ctx, cmd); err != nil {
			res.Rejected = append(res.Rejected, RejectedCommand{CommandID: cmd.CommandID, Reason: err.Error()})
			continue
		}
		res.Submitted = append(res.Submitted, cmd.CommandID)
	}
	return res
}

func (g *Gateway) validate(cmd model.Command) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	// Empty DeviceAffinity means "any capable device" (model.Command's
	// DeviceAffinity doc comment): admit it as long as at least one
	// registered device supports this command kind, and leave the actual
	// device choice to the Matchmaker.
	if cmd.DeviceAffinity == "" {
		if !g.anyDeviceSupports(cmd.Kind) {
			return ErrCapabilityMismatch
		}
	} else {
		d, ok := g.devices[cmd.DeviceAffinity]
		if !ok {
			return ErrUnknownDevice
		}
		if !capabilityFor(d.cfg.Capabilities, cmd.Kind) {
			return ErrCapabilityMismatch
		}
	}

	if g.cfg.Layout != nil {
		for _, loc := range []*model.Location{cmd.Source, cmd.Destination} {
			if loc == nil {
				continue
			}
			if !g.cfg.Layout.IsValidLocation(loc.Floor, loc.Rail, loc.Block, loc.Depth) {
				return ErrLayoutViolation
			}
		}
	}
	return nil
}

// anyDeviceSupports reports whether at least one registered device can
// handle kind. Caller must hold g.mu.
func (g *Gateway) anyDeviceSupports(kind model.Kind) bool {
	for _, d := range g.devices {
		if capabilityFor(d.cfg.Capabilities, kind) {
			return true
		}
	}
	return false
}

func capabilityFor(caps config.Capabilities, kind model.Kind) bool {
	switch kind {
	case model.Inbound:
		return caps.SupportsInbound
	case model.Outbound:
		return caps.SupportsOutbound
	case model.Transfer:
		return caps.SupportsTransfer
	case model.CheckPallet:
		return caps.SupportsCheckPallet
	default:
		return false
	}
}

// SendValidationResult answers a pending barcode rendezvous.
func (g *Gateway) SendValidationResult(commandID string, valid bool, destination *model.Location, gate int, enterDirection *model.Direction, reason string) error {
	return g.barcodes.Respond(commandID, executor.BarcodeResponse{
		Valid:          valid,
		Destination:    destination,
		GateNumber:     gate,
		EnterDirection: enterDirection,
		Reason:         reason,
	})
}

// RemoveCommand succeeds only if id is still Pending.
func (g *Gateway) RemoveCommand(id string) bool {
	return g.orch.Remove(id)
}

// RemoveCommands removes a batch, reporting which ids actually were
// removed.
func (g *Gateway) RemoveCommands(ids []string) []string {
	var removed []string
	for _, id := range ids {
		if g.orch.Remove(id) {
			removed = append(removed, id)
		}
	}
	return removed
}

// AuditSink returns the Postgres history sink, or nil if Audit.Enabled was
// false at construction. Used to wire pkg/cleanup's retention sweep.
func (g *Gateway) AuditSink() *audit.Sink { return g.auditSink }

func (g *Gateway) PauseQueue()    { g.orch.PauseScheduling() }
func (g *Gateway) ResumeQueue()   { g.orch.ResumeScheduling() }
func (g *Gateway) IsPaused() bool { return g.orch.IsPaused() }

// TriggerDeviceRecovery delegates to the Orchestrator/DeviceWorker.
func (g *Gateway) TriggerDeviceRecovery(deviceID string) error {
	return g.orch.TriggerDeviceRecovery(deviceID)
}

// GetDeviceStatus reports a device's current connection/readiness/
// in-flight state.
func (g *Gateway) GetDeviceStatus(ctx context.Context, deviceID string) (DeviceStatus, error) {
	g.mu.RLock()
	d, ok := g.devices[deviceID]
	g.mu.RUnlock()
	if !ok {
		return DeviceStatus{}, ErrUnknownDevice
	}

	status := DeviceStatus{
		DeviceID:          deviceID,
		IsConnected:       d.conn.IsConnected(),
		IsLinkEstablished: d.conn.IsConnected(),
		Capabilities:      d.cfg.Capabilities,
		Timestamp:         time.Now(),
	}

	if rdyAddr, err := d.signals.Get(signal.DeviceReady); err == nil {
		if ready, err := d.conn.ReadBool(ctx, rdyAddr); err == nil {
			status.IsReady = ready
		}
	}

	if h, ok := g.orch.DeviceHealth(deviceID); ok {
		status.CurrentCommandID = h.CurrentCommandID
	}

	if loc, err := g.GetActualLocation(ctx, deviceID); err == nil {
		status.CurrentLocation = &loc
	}

	return status, nil
}

// GetActualLocation reads CurrentFloor/Rail/Block/Depth at call time.
func (g *Gateway) GetActualLocation(ctx context.Context, deviceID string) (model.Location, error) {
	g.mu.RLock()
	d, ok := g.devices[deviceID]
	g.mu.RUnlock()
	if !ok {
		return model.Location{}, ErrUnknownDevice
	}

	read := func(sig string) (int, error) {
		addr, err := d.signals.Get(sig)
		if err != nil {
			return 0, err
		}
		v, err := d.conn.ReadI16(ctx, addr)
		return int(v), err
	}

	floor, err := read(signal.CurrentFloor)
	if err != nil {
		return model.Location{}, err
	}
	rail, err := read(signal.CurrentRail)
	if err != nil {
		return model.Location{}, err
	}
	block, err := read(signal.CurrentBlock)
	if err != nil {
		return model.Location{}, err
	}
	depth, err := read(signal.CurrentDepth)
	if err != nil {
		return model.Location{}, err
	}
	return model.Location{Floor: floor, Rail: rail, Block: block, Depth: depth}, nil
}

// Events returns the filtered projection channels over
// Orchestrator.ObserveResults, consumed by pkg/api's WebSocket fan-out.
func (g *Gateway) Events() (succeeded <-chan TaskSucceeded, failed <-chan TaskFailed, alarm <-chan TaskAlarm, barcode <-chan BarcodeReceivedEvent) {
	return g.succeeded, g.failed, g.alarm, g.barcode
}

func (g *Gateway) projectEvents() {
	defer g.wg.Done()
	results, unsubscribe := g.orch.ObserveResults()
	defer unsubscribe()

	for {
		select {
		case <-g.stopCh:
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			g.project(res)
		}
	}
}

func (g *Gateway) project(res model.CommandResult) {
	switch res.Status {
	case model.Success:
		ev := TaskSucceeded{DeviceID: res.DeviceID, CommandID: res.CommandID}
		select {
		case g.succeeded <- ev:
		default:
		}
	case model.Failed, model.Timeout:
		ev := TaskFailed{DeviceID: res.DeviceID, CommandID: res.CommandID, Error: res.Message}
		select {
		case g.failed <- ev:
		default:
		}
	case model.Alarm:
		ev := TaskAlarm{DeviceID: res.DeviceID, CommandID: res.CommandID, Error: res.PlcErrorMessage}
		select {
		case g.alarm <- ev:
		default:
		}
	}
}

func (g *Gateway) emitBarcode(ev BarcodeReceivedEvent) {
	select {
	case g.barcode <- ev:
	default:
	}
}

// Stop shuts down the event projector, the Orchestrator, and the audit
// sink (if any).
func (g *Gateway) Stop() {
	close(g.stopCh)
	g.wg.Wait()
	g.orch.Stop()
	g.auditSink.Close()
}
