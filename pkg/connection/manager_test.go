package connection

import (
	"context"
	"testing"
	"time"

	"github.com/wcsconnector/core/pkg/plc"
)

func TestManagerConnectAndReadWrite(t *testing.T) {
	tr := plc.NewEmulated()
	m := New(tr, Config{
		DeviceID:             "dev-1",
		HealthCheckInterval:  50 * time.Millisecond,
		MaxReconnectAttempts: 3,
		ReconnectBaseDelay:   10 * time.Millisecond,
	})

	ctx := context.Background()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	addr, _ := plc.ParseAddress("DB1.DBX0.0")
	if err := m.WriteBool(ctx, addr, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := m.ReadBool(ctx, addr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got {
		t.Errorf("expected true")
	}
}

func TestManagerReconnectsAfterDrop(t *testing.T) {
	tr := plc.NewEmulated()
	m := New(tr, Config{
		DeviceID:             "dev-2",
		HealthCheckInterval:  20 * time.Millisecond,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   5 * time.Millisecond,
	})

	ctx := context.Background()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	tr.Disconnected()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.IsConnected() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected health loop to reconnect the emulated transport")
}
