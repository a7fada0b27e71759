package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/wcsconnector/core/pkg/plc"
)

// PollInterval is the fixed cadence between ticks.
const PollInterval = 200 * time.Millisecond

// Reader is the subset of connection.Manager that Monitor needs. Kept
// narrow and local so pkg/signal does not import pkg/connection.
type Reader interface {
	ReadI32(ctx context.Context, addr plc.Address) (int32, error)
	ReadBool(ctx context.Context, addr plc.Address) (bool, error)
}

// Outcome is Monitor's terminal verdict for one command session.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFailed  Outcome = "Failed"
	OutcomeAlarm   Outcome = "Alarm"
)

// Verdict carries the terminal outcome plus any alarm detail observed
// during the session (set even on OutcomeSuccess, as a warning).
type Verdict struct {
	Outcome      Outcome
	AlarmCode    int
	AlarmMessage string
}

// Monitor polls the alarm/failed/completed flags for one command
// session. A Monitor instance is reused command-to-command but its
// per-session "alarm already reported" flag resets on every Run.
type Monitor struct {
	signals *Map
}

// New returns a Monitor bound to a device's resolved signal map.
func New(signals *Map) *Monitor {
	return &Monitor{signals: signals}
}

// OnAlarm is invoked exactly once per session, the first time a
// non-zero ErrorCode is observed.
type OnAlarm func(code int, message string)

// Run polls until the command-kind-specific completionSignal becomes
// true, CommandFailed becomes true, ctx is cancelled, or (if
// failOnAlarm) an alarm is raised. Ordering within each tick is alarm,
// then failed, then completed.
func (m *Monitor) Run(ctx context.Context, reader Reader, completionSignal string, failOnAlarm bool, onAlarm OnAlarm) (*Verdict, error) {
	errorCodeAddr, err := m.signals.Get(ErrorCode)
	if err != nil {
		return nil, err
	}
	failedAddr, err := m.signals.Get(CommandFailed)
	if err != nil {
		return nil, err
	}
	completedAddr, err := m.signals.Get(completionSignal)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	alarmReported := false
	var lastAlarm Verdict

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			code, err := reader.ReadI32(ctx, errorCodeAddr)
			if err != nil {
				return nil, err
			}
			if code != 0 {
				if !alarmReported {
					alarmReported = true
					lastAlarm = Verdict{Outcome: OutcomeAlarm, AlarmCode: int(code), AlarmMessage: decodeAlarm(code)}
					if onAlarm != nil {
						onAlarm(int(code), lastAlarm.AlarmMessage)
					}
				}
				if failOnAlarm {
					return &lastAlarm, nil
				}
			}

			failed, err := reader.ReadBool(ctx, failedAddr)
			if err != nil {
				return nil, err
			}
			if failed {
				v := Verdict{Outcome: OutcomeFailed}
				if alarmReported {
					v.AlarmCode, v.AlarmMessage = lastAlarm.AlarmCode, lastAlarm.AlarmMessage
				}
				return &v, nil
			}

			completed, err := reader.ReadBool(ctx, completedAddr)
			if err != nil {
				return nil, err
			}
			if completed {
				v := Verdict{Outcome: OutcomeSuccess}
				if alarmReported {
					v.AlarmCode, v.AlarmMessage = lastAlarm.AlarmCode, lastAlarm.AlarmMessage
				}
				return &v, nil
			}
		}
	}
}

func decodeAlarm(code int32) string {
	return fmt.Sprintf("plc reported error code %d", code)
}
