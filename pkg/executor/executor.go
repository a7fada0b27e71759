// Package executor implements the four command-kind-specific protocol
// drivers: Inbound, Outbound, Transfer, CheckPallet. Each writes the
// command's input registers, pulses the kind's trigger bit and
// StartProcess, drives signal.Monitor to a terminal verdict, and cleans
// up the trigger/StartProcess bits on every exit path.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wcsconnector/core/pkg/model"
	"github.com/wcsconnector/core/pkg/plc"
	"github.com/wcsconnector/core/pkg/signal"
)

// IO is the subset of connection.Manager an executor needs: typed
// read/write against the device's resolved signal addresses. Kept local
// so pkg/executor does not import pkg/connection directly.
type IO interface {
	ReadBool(ctx context.Context, addr plc.Address) (bool, error)
	WriteBool(ctx context.Context, addr plc.Address, v bool) error
	ReadI16(ctx context.Context, addr plc.Address) (int16, error)
	WriteI16(ctx context.Context, addr plc.Address, v int16) error
	ReadI32(ctx context.Context, addr plc.Address) (int32, error)
	WriteI32(ctx context.Context, addr plc.Address, v int32) error
}

// Executor runs the protocol for one command to completion, returning
// the terminal CommandResult. It does not itself enforce the
// command_timeout — DeviceWorker combines shutdown and the per-command
// deadline into the ctx it passes in.
type Executor interface {
	Execute(ctx context.Context, cmd model.Command) (model.CommandResult, error)
}

// Deps bundles everything a Base executor needs, built per device by
// DeviceWorker from its config.DeviceConfig and signal.Map.
type Deps struct {
	DeviceID             string
	Signals              *signal.Map
	IO                    IO
	StopOnAlarm           bool
	HandshakeSettleDelay time.Duration

	// Barcodes and OnBarcodeReceived are only consulted by the Inbound
	// executor.
	Barcodes          *BarcodeHub
	OnBarcodeReceived func(deviceID, commandID, barcode string)

	// OnAlarm is invoked at most once per command by SignalMonitor when it
	// first observes a non-zero ErrorCode, so the worker can emit an
	// intermediate Alarm result and record the device's alarm state.
	OnAlarm signal.OnAlarm
}

// Dispatch returns the Executor for kind, built over deps. This mirrors
// the tagged-variant-plus-small-dispatch-function shape used elsewhere
// in the corpus for per-type construction.
func Dispatch(kind model.Kind, deps Deps) (Executor, error) {
	base := base{
		deviceID:             deps.DeviceID,
		signals:              deps.Signals,
		io:                   deps.IO,
		monitor:              signal.New(deps.Signals),
		stopOnAlarm:          deps.StopOnAlarm,
		handshakeSettleDelay: deps.HandshakeSettleDelay,
		onAlarm:              deps.OnAlarm,
	}

	switch kind {
	case model.Inbound:
		return &inboundExecutor{base: base, barcodes: deps.Barcodes, onBarcodeReceived: deps.OnBarcodeReceived}, nil
	case model.Outbound:
		return &outboundExecutor{base: base}, nil
	case model.Transfer:
		return &transferExecutor{base: base}, nil
	case model.CheckPallet:
		return &checkPalletExecutor{base: base}, nil
	default:
		return nil, fmt.Errorf("executor: unknown command kind %q", kind)
	}
}

// base implements the shared protocol steps common to all four
// executors: writing locations, pulsing bits, running SignalMonitor, and
// cleanup-on-every-exit-path.
type base struct {
	deviceID             string
	signals              *signal.Map
	io                    IO
	monitor              *signal.Monitor
	stopOnAlarm          bool
	handshakeSettleDelay time.Duration
	onAlarm              signal.OnAlarm
}

// pulse writes true, waits the handshake settle delay, then writes
// false — step 2/3 of the common protocol.
func (b *base) pulse(ctx context.Context, signalName string) error {
	addr, err := b.signals.Get(signalName)
	if err != nil {
		return err
	}
	if err := b.io.WriteBool(ctx, addr, true); err != nil {
		return err
	}
	select {
	case <-time.After(b.handshakeSettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.io.WriteBool(ctx, addr, false)
}

// clearBit forces a named bit signal low; used by cleanup, which must
// run on every exit path regardless of outcome.
func (b *base) clearBit(ctx context.Context, signalName string) {
	addr, err := b.signals.Get(signalName)
	if err != nil {
		return
	}
	// Cleanup must still run when ctx is already cancelled/timed out, so
	// use a short-lived background context rather than the caller's.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = b.io.WriteBool(cleanupCtx, addr, false)
}

func (b *base) cleanup(ctx context.Context, triggerSignal string) {
	b.clearBit(ctx, triggerSignal)
	b.clearBit(ctx, signal.StartProcess)
}

func (b *base) writeLocation(ctx context.Context, floorSig, railSig, blockSig, depthSig string, loc model.Location) error {
	for sig, v := range map[string]int{floorSig: loc.Floor, railSig: loc.Rail, blockSig: loc.Block, depthSig: loc.Depth} {
		addr, err := b.signals.Get(sig)
		if err != nil {
			return err
		}
		if err := b.io.WriteI16(ctx, addr, int16(v)); err != nil {
			return err
		}
	}
	return nil
}

func (b *base) writeGateAndDirections(ctx context.Context, gate int, enter, exit *model.Direction) error {
	if gate != 0 {
		addr, err := b.signals.Get(signal.GateNumber)
		if err != nil {
			return err
		}
		if err := b.io.WriteI16(ctx, addr, int16(gate)); err != nil {
			return err
		}
	}
	if enter != nil {
		if err := b.writeDirection(ctx, signal.EnterDirection, *enter); err != nil {
			return err
		}
	}
	if exit != nil {
		if err := b.writeDirection(ctx, signal.ExitDirection, *exit); err != nil {
			return err
		}
	}
	return nil
}

func (b *base) writeDirection(ctx context.Context, sig string, dir model.Direction) error {
	addr, err := b.signals.Get(sig)
	if err != nil {
		return err
	}
	v := int16(0)
	if dir == model.Bottom {
		v = 1
	}
	return b.io.WriteI16(ctx, addr, v)
}

// runMonitor drives SignalMonitor to a terminal verdict, reporting an
// Alarm intermediate result through b.onAlarm exactly once if raised.
func (b *base) runMonitor(ctx context.Context, completionSignal string) (*signal.Verdict, error) {
	return b.monitor.Run(ctx, b.io, completionSignal, b.stopOnAlarm, b.onAlarm)
}

// toResult converts a terminal signal.Verdict into the CommandResult
// status vocabulary used on the broadcast channel.
func (b *base) toResult(cmd model.Command, startedAt time.Time, v *signal.Verdict) model.CommandResult {
	res := model.CommandResult{
		CommandID:       cmd.CommandID,
		DeviceID:        b.deviceID,
		StartedAt:       startedAt,
		CompletedAt:     time.Now(),
		PlcErrorCode:    v.AlarmCode,
		PlcErrorMessage: v.AlarmMessage,
	}
	switch v.Outcome {
	case signal.OutcomeSuccess:
		res.Status = model.Success
	case signal.OutcomeFailed:
		res.Status = model.Failed
		res.Message = "PLC reported CommandFailed"
	case signal.OutcomeAlarm:
		res.Status = model.Failed
		res.Message = fmt.Sprintf("stopped on alarm: %s", v.AlarmMessage)
	}
	return res
}

func fatalResult(cmd model.Command, deviceID string, startedAt time.Time, err error) model.CommandResult {
	return model.CommandResult{
		CommandID:   cmd.CommandID,
		DeviceID:    deviceID,
		Status:      model.Failed,
		Message:     err.Error(),
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
	}
}

func timeoutResult(cmd model.Command, deviceID string, startedAt time.Time) model.CommandResult {
	return model.CommandResult{
		CommandID:   cmd.CommandID,
		DeviceID:    deviceID,
		Status:      model.Timeout,
		Message:     "command timed out",
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
	}
}

// ctxResult maps a cancellation/deadline error from a protocol step into
// the CommandResult vocabulary: a deadline gives Timeout, anything else
// (shutdown, transport failure) gives Failed.
func (b *base) ctxResult(cmd model.Command, startedAt time.Time, err error) model.CommandResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutResult(cmd, b.deviceID, startedAt)
	}
	return fatalResult(cmd, b.deviceID, startedAt, err)
}

func errMissingForKind(field string, kind model.Kind) error {
	return fmt.Errorf("%s: missing required field %q", kind, field)
}
