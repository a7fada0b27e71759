package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/wcsconnector/core/pkg/model"
	"github.com/wcsconnector/core/pkg/tracker"
)

// alwaysSupports is a capability predicate for tests that don't exercise
// capability-based device selection.
func alwaysSupports(string, model.Kind) bool { return true }

func TestDispatchHonoursDeviceAffinity(t *testing.T) {
	trk := tracker.New()
	inputCh := make(chan model.Command, 5)
	availCh := make(chan model.ReadyTicket, 5)
	devCh := make(chan model.Command, 1)
	deviceChannels := map[string]chan<- model.Command{"dev-1": devCh}

	m := New(inputCh, availCh, deviceChannels, trk, alwaysSupports)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	cmd := model.Command{CommandID: "c1", DeviceAffinity: "dev-1", Kind: model.Outbound}
	trk.MarkPending(cmd)
	inputCh <- cmd
	availCh <- model.ReadyTicket{DeviceID: "dev-1"}

	select {
	case got := <-devCh:
		if got.CommandID != "c1" {
			t.Fatalf("expected c1 dispatched, got %q", got.CommandID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	entry, ok := trk.Get("c1")
	if !ok || entry.State != model.Processing {
		t.Fatalf("expected c1 marked Processing, got %+v ok=%v", entry, ok)
	}
}

func TestHeadOfLineBlockingNotSkipped(t *testing.T) {
	trk := tracker.New()
	inputCh := make(chan model.Command, 5)
	availCh := make(chan model.ReadyTicket, 5)
	dev1 := make(chan model.Command, 1)
	dev2 := make(chan model.Command, 1)
	deviceChannels := map[string]chan<- model.Command{"dev-1": dev1, "dev-2": dev2}

	m := New(inputCh, availCh, deviceChannels, trk, alwaysSupports)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	head := model.Command{CommandID: "head", DeviceAffinity: "dev-1", Kind: model.Outbound}
	tail := model.Command{CommandID: "tail", DeviceAffinity: "dev-2", Kind: model.Outbound}
	trk.MarkPending(head)
	trk.MarkPending(tail)
	inputCh <- head
	inputCh <- tail
	// Only dev-2 becomes available; head (dev-1) must still block tail.
	availCh <- model.ReadyTicket{DeviceID: "dev-2"}

	select {
	case <-dev2:
		t.Fatal("tail dispatched ahead of blocked head; FIFO violated")
	case <-time.After(300 * time.Millisecond):
	}

	availCh <- model.ReadyTicket{DeviceID: "dev-1"}

	select {
	case got := <-dev1:
		if got.CommandID != "head" {
			t.Fatalf("expected head dispatched to dev-1, got %q", got.CommandID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for head dispatch")
	}
}

func TestAlarmAdmissionGateBlocksAllDispatch(t *testing.T) {
	trk := tracker.New()
	inputCh := make(chan model.Command, 5)
	availCh := make(chan model.ReadyTicket, 5)
	devCh := make(chan model.Command, 1)
	deviceChannels := map[string]chan<- model.Command{"dev-1": devCh}

	m := New(inputCh, availCh, deviceChannels, trk, alwaysSupports)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	trk.SetAlarm("dev-1", 42, "jam")

	cmd := model.Command{CommandID: "c1", DeviceAffinity: "dev-1", Kind: model.Outbound}
	trk.MarkPending(cmd)
	inputCh <- cmd
	availCh <- model.ReadyTicket{DeviceID: "dev-1"}

	select {
	case <-devCh:
		t.Fatal("expected no dispatch while admission gate is set")
	case <-time.After(300 * time.Millisecond):
	}

	trk.ClearAlarm("dev-1")

	select {
	case <-devCh:
	case <-time.After(time.Second):
		t.Fatal("expected dispatch once alarm cleared")
	}
}

func TestCompatibilityRules(t *testing.T) {
	trk := tracker.New()
	m := &Matchmaker{tracker: trk}

	trk.MarkPending(model.Command{CommandID: "inflight", DeviceAffinity: "dev-1", Kind: model.Transfer})
	trk.MarkProcessing("inflight", "dev-1")

	if m.compatible("dev-1", model.Inbound) {
		t.Fatal("expected Transfer in-flight to block any new command")
	}
}

// TestAffinityFreeCommandMatchesAnyCapableDevice covers the "any
// capable device" rule: a command with an empty DeviceAffinity must be
// dispatched to whichever ready, compatible device is available, not
// rejected for failing to name one.
func TestAffinityFreeCommandMatchesAnyCapableDevice(t *testing.T) {
	trk := tracker.New()
	inputCh := make(chan model.Command, 5)
	availCh := make(chan model.ReadyTicket, 5)
	devCh := make(chan model.Command, 1)
	deviceChannels := map[string]chan<- model.Command{"dev-1": devCh}

	m := New(inputCh, availCh, deviceChannels, trk, alwaysSupports)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	cmd := model.Command{CommandID: "c1", Kind: model.Inbound}
	trk.MarkPending(cmd)
	inputCh <- cmd
	availCh <- model.ReadyTicket{DeviceID: "dev-1"}

	select {
	case got := <-devCh:
		if got.CommandID != "c1" {
			t.Fatalf("expected c1 dispatched, got %q", got.CommandID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for affinity-free dispatch")
	}

	entry, ok := trk.Get("c1")
	if !ok || entry.Device != "dev-1" {
		t.Fatalf("expected c1 assigned to dev-1, got %+v ok=%v", entry, ok)
	}
}

// TestAffinityFreeCommandSkipsIncapableDevice exercises selectDevice's
// use of the supports predicate: a ready device that cannot handle the
// command's kind must not be picked, even though it is the only ready
// device.
func TestAffinityFreeCommandSkipsIncapableDevice(t *testing.T) {
	trk := tracker.New()
	inputCh := make(chan model.Command, 5)
	availCh := make(chan model.ReadyTicket, 5)
	devCh := make(chan model.Command, 1)
	deviceChannels := map[string]chan<- model.Command{"dev-1": devCh}

	supportsOutboundOnly := func(deviceID string, kind model.Kind) bool { return kind == model.Outbound }
	m := New(inputCh, availCh, deviceChannels, trk, supportsOutboundOnly)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	cmd := model.Command{CommandID: "c1", Kind: model.Inbound}
	trk.MarkPending(cmd)
	inputCh <- cmd
	availCh <- model.ReadyTicket{DeviceID: "dev-1"}

	select {
	case <-devCh:
		t.Fatal("expected no dispatch: dev-1 does not support Inbound")
	case <-time.After(300 * time.Millisecond):
	}
}

// TestDispatchDropsCommandRemovedWhileQueued covers the race where a
// command is Removed (transitioning to a terminal state) after it was
// read off the input channel into the matchmaker's local FIFO but
// before its sweep turn arrives: MarkProcessing then reports false, and
// dispatch must drop the command instead of handing it to the worker.
func TestDispatchDropsCommandRemovedWhileQueued(t *testing.T) {
	trk := tracker.New()
	inputCh := make(chan model.Command, 5)
	availCh := make(chan model.ReadyTicket, 5)
	devCh := make(chan model.Command, 1)
	deviceChannels := map[string]chan<- model.Command{"dev-1": devCh}

	m := New(inputCh, availCh, deviceChannels, trk, alwaysSupports)

	cmd := model.Command{CommandID: "c1", DeviceAffinity: "dev-1", Kind: model.Outbound}
	trk.MarkPending(cmd)
	trk.MarkRemoved(cmd.CommandID)

	pending := []model.Command{cmd}
	available := map[string]model.ReadyTicket{"dev-1": {DeviceID: "dev-1"}}
	m.sweep(context.Background(), &pending, available)

	select {
	case got := <-devCh:
		t.Fatalf("expected Removed command not to be dispatched, got %+v", got)
	default:
	}

	entry, ok := trk.Get("c1")
	if !ok || entry.State != model.Removed {
		t.Fatalf("expected c1 to remain Removed, got %+v ok=%v", entry, ok)
	}
	if len(pending) != 0 {
		t.Fatalf("expected dropped command consumed from local FIFO, got %d remaining", len(pending))
	}
}
