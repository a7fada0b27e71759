package executor

import (
	"context"
	"time"

	"github.com/wcsconnector/core/pkg/model"
	"github.com/wcsconnector/core/pkg/signal"
)

type outboundExecutor struct {
	base
}

// Execute runs the common protocol for an Outbound command: write
// source + gate + directions, pulse InboundTrigger's Outbound
// equivalent, pulse StartProcess, monitor OutboundCompleted.
func (e *outboundExecutor) Execute(ctx context.Context, cmd model.Command) (model.CommandResult, error) {
	startedAt := time.Now()

	if cmd.Source == nil {
		return fatalResult(cmd, e.deviceID, startedAt, errMissingForKind("source", cmd.Kind)), nil
	}

	defer e.cleanup(ctx, signal.OutboundTrigger)

	if err := e.writeLocation(ctx, signal.SourceFloor, signal.SourceRail, signal.SourceBlock, signal.SourceDepth, *cmd.Source); err != nil {
		return fatalResult(cmd, e.deviceID, startedAt, err), nil
	}
	if err := e.writeGateAndDirections(ctx, cmd.GateNumber, cmd.EnterDirection, cmd.ExitDirection); err != nil {
		return fatalResult(cmd, e.deviceID, startedAt, err), nil
	}

	if err := e.pulse(ctx, signal.OutboundTrigger); err != nil {
		return e.ctxResult(cmd, startedAt, err), nil
	}
	if err := e.pulse(ctx, signal.StartProcess); err != nil {
		return e.ctxResult(cmd, startedAt, err), nil
	}

	verdict, err := e.runMonitor(ctx, signal.OutboundCompleted)
	if err != nil {
		return e.ctxResult(cmd, startedAt, err), nil
	}
	return e.toResult(cmd, startedAt, verdict), nil
}
