package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wcsconnector/core/pkg/config"
)

type fakeRetainer struct {
	mu       sync.Mutex
	cutoffs  []time.Time
	toDelete int64
}

func (f *fakeRetainer) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.toDelete, nil
}

func (f *fakeRetainer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestServiceRunsImmediatelyOnStart(t *testing.T) {
	r := &fakeRetainer{toDelete: 3}
	svc := NewService(config.AuditConfig{RetentionDays: 30, CleanupInterval: config.Duration(time.Hour)}, r)

	svc.Start(context.Background())
	defer svc.Stop()

	deadline := time.Now().Add(time.Second)
	for r.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if r.calls() == 0 {
		t.Fatal("expected at least one retention sweep after Start")
	}
}

func TestServiceAppliesDefaultsWhenUnset(t *testing.T) {
	svc := NewService(config.AuditConfig{}, &fakeRetainer{})
	if svc.retentionDays != defaultRetentionDays {
		t.Fatalf("expected default retention days %d, got %d", defaultRetentionDays, svc.retentionDays)
	}
	if svc.cleanupInterval != defaultCleanupInterval {
		t.Fatalf("expected default cleanup interval %v, got %v", defaultCleanupInterval, svc.cleanupInterval)
	}
}

func TestServiceStopIsIdempotentBeforeStart(t *testing.T) {
	svc := NewService(config.AuditConfig{}, &fakeRetainer{})
	svc.Stop() // must not panic or block when never started
}

func TestServiceUsesRetentionDaysAsCutoff(t *testing.T) {
	r := &fakeRetainer{}
	svc := NewService(config.AuditConfig{RetentionDays: 10, CleanupInterval: config.Duration(time.Hour)}, r)

	svc.Start(context.Background())
	defer svc.Stop()

	deadline := time.Now().Add(time.Second)
	for r.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cutoffs) == 0 {
		t.Fatal("expected a cutoff to have been recorded")
	}
	wantCutoff := time.Now().AddDate(0, 0, -10)
	if diff := wantCutoff.Sub(r.cutoffs[0]); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff %v not within a minute of expected %v", r.cutoffs[0], wantCutoff)
	}
}
