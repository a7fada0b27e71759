package plc

import (
	"context"
	"sync"
)

// Emulated is an in-memory stand-in for a real PLC connection, used by
// "mode": "Emulated" devices and by tests that exercise the executor and
// worker pipeline without hardware. Bit addresses perform read-modify-
// write on the backing byte, matching the real transport's documented
// semantics.
type Emulated struct {
	mu        sync.Mutex
	connected bool
	bytes     map[int]uint8 // DB block<<20 + offset -> byte value
	words     map[int]int16
	dwords    map[int]int32
}

// NewEmulated returns a disconnected emulated transport with an empty
// address space.
func NewEmulated() *Emulated {
	return &Emulated{
		bytes:  make(map[int]uint8),
		words:  make(map[int]int16),
		dwords: make(map[int]int32),
	}
}

func byteKey(a Address) int { return a.DBBlock*1<<20 + a.Offset }

func (e *Emulated) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = true
	return nil
}

func (e *Emulated) Disconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
	return nil
}

func (e *Emulated) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *Emulated) ReadBool(ctx context.Context, addr Address) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return false, ErrConnectionLost
	}
	b := e.bytes[byteKey(addr)]
	return b&(1<<uint(addr.Bit)) != 0, nil
}

func (e *Emulated) WriteBool(ctx context.Context, addr Address, v bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return ErrConnectionLost
	}
	k := byteKey(addr)
	b := e.bytes[k]
	if v {
		b |= 1 << uint(addr.Bit)
	} else {
		b &^= 1 << uint(addr.Bit)
	}
	e.bytes[k] = b
	return nil
}

func (e *Emulated) ReadU8(ctx context.Context, addr Address) (uint8, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return 0, ErrConnectionLost
	}
	return e.bytes[byteKey(addr)], nil
}

func (e *Emulated) WriteU8(ctx context.Context, addr Address, v uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return ErrConnectionLost
	}
	e.bytes[byteKey(addr)] = v
	return nil
}

func (e *Emulated) ReadI16(ctx context.Context, addr Address) (int16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return 0, ErrConnectionLost
	}
	return e.words[byteKey(addr)], nil
}

func (e *Emulated) WriteI16(ctx context.Context, addr Address, v int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return ErrConnectionLost
	}
	e.words[byteKey(addr)] = v
	return nil
}

func (e *Emulated) ReadI32(ctx context.Context, addr Address) (int32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return 0, ErrConnectionLost
	}
	return e.dwords[byteKey(addr)], nil
}

func (e *Emulated) WriteI32(ctx context.Context, addr Address, v int32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.connected {
		return ErrConnectionLost
	}
	e.dwords[byteKey(addr)] = v
	return nil
}

// Disconnected forces the transport offline, for tests exercising
// ConnectionManager's reconnect path.
func (e *Emulated) Disconnected() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = false
}
