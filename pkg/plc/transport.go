package plc

import (
	"context"
	"errors"
)

// Sentinel errors returned by Transport operations.
var (
	ErrConnectionFailed = errors.New("plc: connection failed")
	ErrConnectionLost    = errors.New("plc: connection lost")
	ErrInvalidAddress    = errors.New("plc: invalid address")
	ErrTimeout           = errors.New("plc: operation timed out")
	ErrDataFormat        = errors.New("plc: unexpected data format")
)

// Transport is the PlcTransport external contract: typed read/write of
// PLC memory addresses, connection lifecycle, and a cheap liveness probe.
// Every concrete implementation serializes its own operations behind an
// internal mutex; ConnectionManager additionally serializes every call
// it makes behind its own single mutex.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error

	ReadBool(ctx context.Context, addr Address) (bool, error)
	ReadU8(ctx context.Context, addr Address) (uint8, error)
	ReadI16(ctx context.Context, addr Address) (int16, error)
	ReadI32(ctx context.Context, addr Address) (int32, error)

	WriteBool(ctx context.Context, addr Address, v bool) error
	WriteU8(ctx context.Context, addr Address, v uint8) error
	WriteI16(ctx context.Context, addr Address, v int16) error
	WriteI32(ctx context.Context, addr Address, v int32) error

	// IsConnected is cheap: it must never touch the network.
	IsConnected() bool
}
