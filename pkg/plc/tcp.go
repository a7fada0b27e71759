package plc

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

// opcode identifies the operation requested in a frame sent to the PLC
// endpoint. The wire format is a minimal length-prefixed frame: this
// stands in for the real S7 protocol, which is explicitly out of scope
// (see DESIGN.md) — no importable Go S7 client exists in the reference
// corpus this was built from.
type opcode byte

const (
	opReadBool opcode = iota
	opReadU8
	opReadI16
	opReadI32
	opWriteBool
	opWriteU8
	opWriteI16
	opWriteI32
)

// TCPTransport is a minimal length-prefixed frame client over net.Conn,
// used for "mode": "Real" devices.
type TCPTransport struct {
	addr    string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewTCPTransport returns a transport that dials host:port on Connect.
func NewTCPTransport(host string, port uint, dialTimeout time.Duration) *TCPTransport {
	return &TCPTransport{
		addr:        fmt.Sprintf("%s:%d", host, port),
		dialTimeout: dialTimeout,
	}
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := net.Dialer{Timeout: t.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		if ctx.Err() != nil {
			return ErrTimeout
		}
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	t.conn = conn
	return nil
}

func (t *TCPTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *TCPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// frame is: [1 byte opcode][2 bytes DB block][1 byte type][2 bytes offset]
// [1 byte bit][4 bytes value] request; the response is a bare 4-byte
// value holding the read result (ignored on writes).
func (t *TCPTransport) roundTrip(ctx context.Context, op opcode, addr Address, value int32) (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return 0, ErrConnectionLost
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetDeadline(dl)
		defer t.conn.SetDeadline(time.Time{})
	}

	var buf [11]byte
	buf[0] = byte(op)
	binary.BigEndian.PutUint16(buf[1:3], uint16(addr.DBBlock))
	buf[3] = byte(addr.Type)
	binary.BigEndian.PutUint16(buf[4:6], uint16(addr.Offset))
	buf[6] = byte(addr.Bit)
	binary.BigEndian.PutUint32(buf[7:11], uint32(value))

	if _, err := t.conn.Write(buf[:]); err != nil {
		t.closeLocked()
		return 0, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	var resp [4]byte
	if _, err := readFull(t.conn, resp[:]); err != nil {
		t.closeLocked()
		return 0, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return int32(binary.BigEndian.Uint32(resp[:])), nil
}

func (t *TCPTransport) closeLocked() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (t *TCPTransport) ReadBool(ctx context.Context, addr Address) (bool, error) {
	v, err := t.roundTrip(ctx, opReadBool, addr, 0)
	return v != 0, err
}

func (t *TCPTransport) WriteBool(ctx context.Context, addr Address, v bool) error {
	val := int32(0)
	if v {
		val = 1
	}
	_, err := t.roundTrip(ctx, opWriteBool, addr, val)
	return err
}

func (t *TCPTransport) ReadU8(ctx context.Context, addr Address) (uint8, error) {
	v, err := t.roundTrip(ctx, opReadU8, addr, 0)
	return uint8(v), err
}

func (t *TCPTransport) WriteU8(ctx context.Context, addr Address, v uint8) error {
	_, err := t.roundTrip(ctx, opWriteU8, addr, int32(v))
	return err
}

func (t *TCPTransport) ReadI16(ctx context.Context, addr Address) (int16, error) {
	v, err := t.roundTrip(ctx, opReadI16, addr, 0)
	return int16(v), err
}

func (t *TCPTransport) WriteI16(ctx context.Context, addr Address, v int16) error {
	_, err := t.roundTrip(ctx, opWriteI16, addr, int32(v))
	return err
}

func (t *TCPTransport) ReadI32(ctx context.Context, addr Address) (int32, error) {
	return t.roundTrip(ctx, opReadI32, addr, 0)
}

func (t *TCPTransport) WriteI32(ctx context.Context, addr Address, v int32) error {
	_, err := t.roundTrip(ctx, opWriteI32, addr, v)
	return err
}
