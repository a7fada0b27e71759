package executor

import (
	"context"
	"time"

	"github.com/wcsconnector/core/pkg/model"
	"github.com/wcsconnector/core/pkg/signal"
)

type transferExecutor struct {
	base
}

// Execute runs the common protocol for a Transfer command: write
// source + destination, pulse TransferTrigger, pulse StartProcess,
// monitor TransferCompleted.
func (e *transferExecutor) Execute(ctx context.Context, cmd model.Command) (model.CommandResult, error) {
	startedAt := time.Now()

	if cmd.Source == nil {
		return fatalResult(cmd, e.deviceID, startedAt, errMissingForKind("source", cmd.Kind)), nil
	}
	if cmd.Destination == nil {
		return fatalResult(cmd, e.deviceID, startedAt, errMissingForKind("destination", cmd.Kind)), nil
	}

	defer e.cleanup(ctx, signal.TransferTrigger)

	if err := e.writeLocation(ctx, signal.SourceFloor, signal.SourceRail, signal.SourceBlock, signal.SourceDepth, *cmd.Source); err != nil {
		return fatalResult(cmd, e.deviceID, startedAt, err), nil
	}
	if err := e.writeLocation(ctx, signal.TargetFloor, signal.TargetRail, signal.TargetBlock, signal.TargetDepth, *cmd.Destination); err != nil {
		return fatalResult(cmd, e.deviceID, startedAt, err), nil
	}

	if err := e.pulse(ctx, signal.TransferTrigger); err != nil {
		return e.ctxResult(cmd, startedAt, err), nil
	}
	if err := e.pulse(ctx, signal.StartProcess); err != nil {
		return e.ctxResult(cmd, startedAt, err), nil
	}

	verdict, err := e.runMonitor(ctx, signal.TransferCompleted)
	if err != nil {
		return e.ctxResult(cmd, startedAt, err), nil
	}
	return e.toResult(cmd, startedAt, verdict), nil
}
