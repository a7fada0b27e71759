package model

import "time"

// CommandResult is emitted onto the result/broadcast channels. Alarm is
// intermediate — it does not mark the command completed in PendingTracker.
type CommandResult struct {
	CommandID string
	DeviceID  string
	Status    Status
	Message   string

	StartedAt   time.Time
	CompletedAt time.Time

	PlcErrorCode    int
	PlcErrorMessage string

	PalletAvailable   bool
	PalletUnavailable bool
}

// ReadyTicket advertises that a DeviceWorker is idle and able to accept a
// new command.
type ReadyTicket struct {
	DeviceID       string
	ReadyAt        time.Time
	QueueDepthHint int
}

// DeviceFailureEntry is present in PendingTracker iff a device currently
// requires recovery before it will accept further commands.
type DeviceFailureEntry struct {
	DeviceID         string
	LastErrorMessage string
	FailedAt         time.Time
}

// DeviceAlarmEntry is present in PendingTracker iff the PLC is currently
// reporting a non-zero error code. It is cleared by the PLC, not by the
// core.
type DeviceAlarmEntry struct {
	DeviceID     string
	ErrorCode    int
	ErrorMessage string
	RaisedAt     time.Time
}
