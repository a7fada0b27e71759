// Package plc defines the PlcTransport contract consumed by
// ConnectionManager and the Executors, plus two concrete
// implementations: an in-memory Emulated transport for tests and
// Emulated-mode devices, and a minimal TCPTransport for Real-mode
// devices.
package plc

import (
	"fmt"
	"strconv"
	"strings"
)

// AddrType is the Siemens S7 data width encoded in an address string.
type AddrType byte

const (
	TypeBit   AddrType = 'X'
	TypeByte  AddrType = 'B'
	TypeWord  AddrType = 'W'
	TypeDWord AddrType = 'D'
)

// Address is a parsed S7-style signal address of the form
// "DB<blk>.DB<T><offset>[.bit]". The core treats addresses as opaque
// beyond this parse — interpreting DB contents is the PLC firmware's
// contract, not the orchestration core's.
type Address struct {
	DBBlock int
	Type    AddrType
	Offset  int
	Bit     int // only meaningful when Type == TypeBit
	Raw     string
}

// ParseAddress parses the S7-style form "DB<blk>.DB<T><offset>[.bit]",
// e.g. "DB10.DBX4.2" (bit), "DB10.DBB4" (byte), "DB10.DBW4" (word),
// "DB10.DBD4" (dword).
func ParseAddress(s string) (Address, error) {
	orig := s
	if !strings.HasPrefix(s, "DB") {
		return Address{}, fmt.Errorf("invalid address %q: expected DB prefix", orig)
	}
	s = s[2:]

	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return Address{}, fmt.Errorf("invalid address %q: missing block separator", orig)
	}
	blockStr, rest := s[:dot], s[dot+1:]
	block, err := strconv.Atoi(blockStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: bad block number: %w", orig, err)
	}

	if !strings.HasPrefix(rest, "DB") || len(rest) < 3 {
		return Address{}, fmt.Errorf("invalid address %q: expected DB<T><offset>", orig)
	}
	rest = rest[2:]
	t := AddrType(rest[0])
	switch t {
	case TypeBit, TypeByte, TypeWord, TypeDWord:
	default:
		return Address{}, fmt.Errorf("invalid address %q: unknown type %q", orig, rest[0])
	}
	rest = rest[1:]

	offsetStr, bitStr, hasBit := strings.Cut(rest, ".")
	offset, err := strconv.Atoi(offsetStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: bad offset: %w", orig, err)
	}

	bit := 0
	if t == TypeBit {
		if !hasBit {
			return Address{}, fmt.Errorf("invalid address %q: bit addresses require .<bit>", orig)
		}
		bit, err = strconv.Atoi(bitStr)
		if err != nil || bit < 0 || bit > 7 {
			return Address{}, fmt.Errorf("invalid address %q: bad bit offset", orig)
		}
	}

	return Address{DBBlock: block, Type: t, Offset: offset, Bit: bit, Raw: orig}, nil
}

// String renders the address back to its canonical S7 form.
func (a Address) String() string {
	if a.Type == TypeBit {
		return fmt.Sprintf("DB%d.DB%c%d.%d", a.DBBlock, a.Type, a.Offset, a.Bit)
	}
	return fmt.Sprintf("DB%d.DB%c%d", a.DBBlock, a.Type, a.Offset)
}
