package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/wcsconnector/core/pkg/config"
	"github.com/wcsconnector/core/pkg/model"
	"github.com/wcsconnector/core/pkg/signal"
)

func testSignalMap() map[string]string {
	raw := map[string]string{
		signal.ErrorCode:         "DB1.DBD0",
		signal.CommandFailed:     "DB1.DBX4.0",
		signal.StartProcess:      "DB1.DBX4.1",
		signal.SoftwareConnected: "DB1.DBX4.2",
		signal.DeviceReady:       "DB1.DBX4.3",
		signal.OutboundTrigger:   "DB1.DBX4.4",
		signal.OutboundCompleted: "DB1.DBX4.5",
		signal.SourceFloor:       "DB1.DBW10",
		signal.SourceRail:        "DB1.DBW12",
		signal.SourceBlock:       "DB1.DBW14",
		signal.SourceDepth:       "DB1.DBW16",
		signal.GateNumber:        "DB1.DBW30",
		signal.EnterDirection:    "DB1.DBW32",
		signal.ExitDirection:     "DB1.DBW34",
		signal.CurrentFloor:      "DB1.DBW50",
		signal.CurrentRail:       "DB1.DBW52",
		signal.CurrentBlock:      "DB1.DBW54",
		signal.CurrentDepth:      "DB1.DBW56",
	}
	for i := 1; i <= 10; i++ {
		raw[signal.BarcodeChar(i)] = fmt.Sprintf("DB1.DBW%d", 60+2*i)
	}
	return raw
}

func testConfig() *config.Config {
	dev := config.DeviceConfig{
		DeviceID:             "dev-1",
		Mode:                 config.ModeEmulated,
		ConnectTimeout:       config.Duration(time.Second),
		HealthCheckInterval:  config.Duration(time.Hour),
		MaxReconnectAttempts: 1,
		ReconnectBaseDelay:   config.Duration(time.Second),
		CommandTimeout:       config.Duration(2 * time.Second),
		HandshakeSettleDelay: config.Duration(time.Millisecond),
		AutoRecoveryEnabled:  true,
		RecoveryPollInterval: config.Duration(50 * time.Millisecond),
		SignalMap:            testSignalMap(),
		Capabilities:         config.Capabilities{SupportsOutbound: true},
	}
	return &config.Config{Devices: []config.DeviceConfig{dev}}
}

func TestSendCommandRejectsUnknownDevice(t *testing.T) {
	ctx := context.Background()
	g, err := New(ctx, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := g.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Stop()

	err = g.SendCommand(ctx, model.Command{CommandID: "c1", Kind: model.Outbound, DeviceAffinity: "nope", Source: &model.Location{Block: 1}, GateNumber: 1})
	if err != ErrUnknownDevice {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestSendCommandRejectsCapabilityMismatch(t *testing.T) {
	ctx := context.Background()
	g, err := New(ctx, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := g.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Stop()

	err = g.SendCommand(ctx, model.Command{CommandID: "c1", Kind: model.Inbound, DeviceAffinity: "dev-1", GateNumber: 1})
	if err != ErrCapabilityMismatch {
		t.Fatalf("expected ErrCapabilityMismatch, got %v", err)
	}
}

func TestEndToEndOutboundSucceeds(t *testing.T) {
	ctx := context.Background()
	g, err := New(ctx, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := g.ActivateAll(ctx); err != nil {
		t.Fatalf("ActivateAll: %v", err)
	}
	if err := g.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Stop()

	d := g.devices["dev-1"]
	swAddr, _ := d.signals.Get(signal.SoftwareConnected)
	rdyAddr, _ := d.signals.Get(signal.DeviceReady)
	d.conn.WriteBool(ctx, swAddr, true)
	d.conn.WriteBool(ctx, rdyAddr, true)

	tr := d.transport
	completedAddr, _ := d.signals.Get(signal.OutboundCompleted)
	go func() {
		time.Sleep(100 * time.Millisecond)
		tr.WriteBool(ctx, completedAddr, true)
	}()

	succeeded, _, _, _ := g.Events()

	if err := g.SendCommand(ctx, model.Command{
		CommandID:      "c1",
		Kind:           model.Outbound,
		DeviceAffinity: "dev-1",
		Source:         &model.Location{Block: 1},
		GateNumber:     3,
		SubmittedAt:    time.Now(),
	}); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	select {
	case ev := <-succeeded:
		if ev.CommandID != "c1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for TaskSucceeded")
	}
}

// TestSendCommandAcceptsAffinityFreeCommand covers the "any capable
// device" rule: a command naming no DeviceAffinity must be admitted as
// long as some registered device supports its kind, not rejected as an
// unknown device.
func TestSendCommandAcceptsAffinityFreeCommand(t *testing.T) {
	ctx := context.Background()
	g, err := New(ctx, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := g.ActivateAll(ctx); err != nil {
		t.Fatalf("ActivateAll: %v", err)
	}
	if err := g.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Stop()

	d := g.devices["dev-1"]
	swAddr, _ := d.signals.Get(signal.SoftwareConnected)
	rdyAddr, _ := d.signals.Get(signal.DeviceReady)
	d.conn.WriteBool(ctx, swAddr, true)
	d.conn.WriteBool(ctx, rdyAddr, true)

	tr := d.transport
	completedAddr, _ := d.signals.Get(signal.OutboundCompleted)
	go func() {
		time.Sleep(100 * time.Millisecond)
		tr.WriteBool(ctx, completedAddr, true)
	}()

	succeeded, _, _, _ := g.Events()

	if err := g.SendCommand(ctx, model.Command{
		CommandID:   "c1",
		Kind:        model.Outbound,
		Source:      &model.Location{Block: 1},
		GateNumber:  3,
		SubmittedAt: time.Now(),
	}); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	select {
	case ev := <-succeeded:
		if ev.CommandID != "c1" || ev.DeviceID != "dev-1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for TaskSucceeded")
	}
}

// TestSendCommandRejectsAffinityFreeCommandWithNoCapableDevice covers
// the case where no registered device supports the command's kind at
// all, even without naming one.
func TestSendCommandRejectsAffinityFreeCommandWithNoCapableDevice(t *testing.T) {
	ctx := context.Background()
	g, err := New(ctx, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := g.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Stop()

	err = g.SendCommand(ctx, model.Command{CommandID: "c1", Kind: model.Inbound, GateNumber: 1})
	if err != ErrCapabilityMismatch {
		t.Fatalf("expected ErrCapabilityMismatch, got %v", err)
	}
}

func TestRemoveCommandOnlySucceedsWhilePending(t *testing.T) {
	ctx := context.Background()
	g, err := New(ctx, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := g.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Stop()

	g.PauseQueue()
	if !g.IsPaused() {
		t.Fatal("expected IsPaused true")
	}

	if err := g.SendCommand(ctx, model.Command{CommandID: "c2", Kind: model.Outbound, DeviceAffinity: "dev-1", Source: &model.Location{Block: 1}, GateNumber: 1}); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	if !g.RemoveCommand("c2") {
		t.Fatal("expected RemoveCommand to succeed while paused/pending")
	}
	if g.RemoveCommand("c2") {
		t.Fatal("expected second RemoveCommand to fail")
	}

	g.ResumeQueue()
}
