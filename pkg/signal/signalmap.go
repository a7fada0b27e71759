// Package signal holds the parsed SignalMap and SignalMonitor: the
// former resolves named signals to PLC addresses once at config load,
// the latter polls the three completion conditions during a command.
package signal

import (
	"fmt"

	"github.com/wcsconnector/core/pkg/plc"
)

// Well-known signal names referenced by pkg/executor. SignalMap is not
// restricted to these — CheckPallet and locations use additional
// per-field names — but these are the fixed set every device config is
// expected to provide.
const (
	DeviceReady       = "DeviceReady"
	SoftwareConnected = "SoftwareConnected"
	CommandFailed     = "CommandFailed"
	StartProcess      = "StartProcess"

	InboundTrigger     = "InboundTrigger"
	OutboundTrigger    = "OutboundTrigger"
	TransferTrigger    = "TransferTrigger"
	CheckPalletTrigger = "CheckPalletTrigger"

	InboundCompleted     = "InboundCompleted"
	OutboundCompleted    = "OutboundCompleted"
	TransferCompleted    = "TransferCompleted"
	PalletCheckCompleted = "PalletCheckCompleted"

	ErrorAlarm = "ErrorAlarm"
	ErrorCode  = "ErrorCode"

	SourceFloor, SourceRail, SourceBlock, SourceDepth = "SourceFloor", "SourceRail", "SourceBlock", "SourceDepth"
	TargetFloor, TargetRail, TargetBlock, TargetDepth = "TargetFloor", "TargetRail", "TargetBlock", "TargetDepth"
	CurrentFloor, CurrentRail, CurrentBlock, CurrentDepth = "CurrentFloor", "CurrentRail", "CurrentBlock", "CurrentDepth"

	GateNumber     = "GateNumber"
	EnterDirection = "EnterDirection"
	ExitDirection  = "ExitDirection"

	BarcodeValid   = "BarcodeValid"
	BarcodeInvalid = "BarcodeInvalid"

	AvailablePallet   = "AvailablePallet"
	UnavailablePallet = "UnavailablePallet"
)

// BarcodeChar returns the signal name for barcode character i (1..10).
func BarcodeChar(i int) string { return fmt.Sprintf("BarcodeChar%d", i) }

// Map resolves named signals to parsed PLC addresses. It is built once
// per device at config load time, where a malformed address is reported
// at once; a name the map does not define is reported by Get at first use.
type Map struct {
	addresses map[string]plc.Address
}

// NewMap parses every address in raw, returning an error naming the
// signal on the first bad entry.
func NewMap(raw map[string]string) (*Map, error) {
	addresses := make(map[string]plc.Address, len(raw))
	for name, addrStr := range raw {
		addr, err := plc.ParseAddress(addrStr)
		if err != nil {
			return nil, fmt.Errorf("signal %q: %w", name, err)
		}
		addresses[name] = addr
	}
	return &Map{addresses: addresses}, nil
}

// Get returns the address for name, or an error if the device's
// SignalMap does not define it.
func (m *Map) Get(name string) (plc.Address, error) {
	addr, ok := m.addresses[name]
	if !ok {
		return plc.Address{}, fmt.Errorf("signal %q not present in device signal map", name)
	}
	return addr, nil
}

// Has reports whether name is defined.
func (m *Map) Has(name string) bool {
	_, ok := m.addresses[name]
	return ok
}
