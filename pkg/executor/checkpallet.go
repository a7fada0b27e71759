package executor

import (
	"context"
	"time"

	"github.com/wcsconnector/core/pkg/model"
	"github.com/wcsconnector/core/pkg/signal"
)

type checkPalletExecutor struct {
	base
}

// Execute runs the common protocol for a CheckPallet command: write
// source, pulse CheckPalletTrigger, pulse StartProcess, monitor
// PalletCheckCompleted, then additionally read AvailablePallet /
// UnavailablePallet and fold them into the result.
func (e *checkPalletExecutor) Execute(ctx context.Context, cmd model.Command) (model.CommandResult, error) {
	startedAt := time.Now()

	if cmd.Source == nil {
		return fatalResult(cmd, e.deviceID, startedAt, errMissingForKind("source", cmd.Kind)), nil
	}

	defer e.cleanup(ctx, signal.CheckPalletTrigger)

	if err := e.writeLocation(ctx, signal.SourceFloor, signal.SourceRail, signal.SourceBlock, signal.SourceDepth, *cmd.Source); err != nil {
		return fatalResult(cmd, e.deviceID, startedAt, err), nil
	}

	if err := e.pulse(ctx, signal.CheckPalletTrigger); err != nil {
		return e.ctxResult(cmd, startedAt, err), nil
	}
	if err := e.pulse(ctx, signal.StartProcess); err != nil {
		return e.ctxResult(cmd, startedAt, err), nil
	}

	verdict, err := e.runMonitor(ctx, signal.PalletCheckCompleted)
	if err != nil {
		return e.ctxResult(cmd, startedAt, err), nil
	}

	result := e.toResult(cmd, startedAt, verdict)
	if result.Status == model.Success {
		if avail, gerr := e.readPalletFlag(ctx, signal.AvailablePallet); gerr == nil {
			result.PalletAvailable = avail
		}
		if unavail, gerr := e.readPalletFlag(ctx, signal.UnavailablePallet); gerr == nil {
			result.PalletUnavailable = unavail
		}
	}
	return result, nil
}

func (e *checkPalletExecutor) readPalletFlag(ctx context.Context, sig string) (bool, error) {
	addr, err := e.signals.Get(sig)
	if err != nil {
		return false, err
	}
	return e.io.ReadBool(ctx, addr)
}
