package executor

import (
	"context"
	"time"

	"github.com/wcsconnector/core/pkg/model"
	"github.com/wcsconnector/core/pkg/signal"
)

// barcodePollInterval is the cadence for polling the ten barcode
// character registers while waiting for the PLC to populate them.
const barcodePollInterval = 200 * time.Millisecond

type inboundExecutor struct {
	base
	barcodes          *BarcodeHub
	onBarcodeReceived func(deviceID, commandID, barcode string)
}

// Execute runs the Inbound protocol: pulse InboundTrigger and
// StartProcess, poll the barcode registers, raise BarcodeReceived and
// await a correlated validation response (5-minute hard timeout), then
// either write the validated destination and monitor InboundCompleted,
// or terminate Failed/Timeout per the response. The reply slot is opened
// when the command starts, so a response that arrives before the barcode
// has been read is held until then.
func (e *inboundExecutor) Execute(ctx context.Context, cmd model.Command) (model.CommandResult, error) {
	startedAt := time.Now()

	replyCh, err := e.barcodes.Register(cmd.CommandID)
	if err != nil {
		return fatalResult(cmd, e.deviceID, startedAt, err), nil
	}
	defer e.barcodes.Cancel(cmd.CommandID)

	defer e.cleanup(ctx, signal.InboundTrigger)

	if err := e.pulse(ctx, signal.InboundTrigger); err != nil {
		return e.ctxResult(cmd, startedAt, err), nil
	}
	if err := e.pulse(ctx, signal.StartProcess); err != nil {
		return e.ctxResult(cmd, startedAt, err), nil
	}

	barcode, err := e.pollBarcode(ctx)
	if err != nil {
		return e.ctxResult(cmd, startedAt, err), nil
	}

	if e.onBarcodeReceived != nil {
		e.onBarcodeReceived(e.deviceID, cmd.CommandID, barcode)
	}

	timer := time.NewTimer(BarcodeTimeout * time.Second)
	defer timer.Stop()

	select {
	case resp := <-replyCh:
		return e.handleResponse(ctx, cmd, startedAt, resp)
	case <-timer.C:
		e.barcodes.Cancel(cmd.CommandID)
		e.setBarcodeInvalid(ctx)
		return timeoutResult(cmd, e.deviceID, startedAt), nil
	case <-ctx.Done():
		e.barcodes.Cancel(cmd.CommandID)
		return e.ctxResult(cmd, startedAt, ctx.Err()), nil
	}
}

func (e *inboundExecutor) pollBarcode(ctx context.Context) (string, error) {
	ticker := time.NewTicker(barcodePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			chars := make([]byte, 10)
			nonZero := false
			for i := 1; i <= 10; i++ {
				addr, err := e.signals.Get(signal.BarcodeChar(i))
				if err != nil {
					return "", err
				}
				v, err := e.io.ReadI16(ctx, addr)
				if err != nil {
					return "", err
				}
				if v != 0 {
					nonZero = true
				}
				chars[i-1] = byte(v)
			}
			if nonZero {
				return string(chars), nil
			}
		}
	}
}

func (e *inboundExecutor) handleResponse(ctx context.Context, cmd model.Command, startedAt time.Time, resp BarcodeResponse) (model.CommandResult, error) {
	if !resp.Valid {
		e.setBarcodeInvalid(ctx)
		reason := resp.Reason
		if reason == "" {
			reason = "barcode rejected by caller"
		}
		return model.CommandResult{
			CommandID:   cmd.CommandID,
			DeviceID:    e.deviceID,
			Status:      model.Failed,
			Message:     reason,
			StartedAt:   startedAt,
			CompletedAt: time.Now(),
		}, nil
	}

	if resp.Destination != nil {
		if err := e.writeLocation(ctx, signal.TargetFloor, signal.TargetRail, signal.TargetBlock, signal.TargetDepth, *resp.Destination); err != nil {
			return fatalResult(cmd, e.deviceID, startedAt, err), nil
		}
	}
	if err := e.writeGateAndDirections(ctx, resp.GateNumber, resp.EnterDirection, nil); err != nil {
		return fatalResult(cmd, e.deviceID, startedAt, err), nil
	}

	if addr, err := e.signals.Get(signal.BarcodeValid); err == nil {
		_ = e.io.WriteBool(ctx, addr, true)
	}

	verdict, err := e.runMonitor(ctx, signal.InboundCompleted)
	if err != nil {
		return e.ctxResult(cmd, startedAt, err), nil
	}
	return e.toResult(cmd, startedAt, verdict), nil
}

func (e *inboundExecutor) setBarcodeInvalid(ctx context.Context) {
	addr, err := e.signals.Get(signal.BarcodeInvalid)
	if err != nil {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = e.io.WriteBool(cleanupCtx, addr, true)
}
