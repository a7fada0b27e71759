// Package cleanup provides background data retention for the optional
// audit history sink.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/wcsconnector/core/pkg/config"
)

const (
	defaultRetentionDays   = 90
	defaultCleanupInterval = time.Hour
)

// Retainer deletes command_history rows older than cutoff. Implemented by
// *audit.Sink.
type Retainer interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically enforces the audit history retention policy: rows
// older than RetentionDays are deleted on a CleanupInterval ticker.
//
// All operations are idempotent and safe to run from multiple instances.
type Service struct {
	retainer        Retainer
	retentionDays   int
	cleanupInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service for retainer, using cfg's retention
// policy (falling back to package defaults when unset).
func NewService(cfg config.AuditConfig, retainer Retainer) *Service {
	retentionDays := cfg.RetentionDays
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}
	cleanupInterval := cfg.CleanupInterval.Std()
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	return &Service{
		retainer:        retainer,
		retentionDays:   retentionDays,
		cleanupInterval: cleanupInterval,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("audit retention service started",
		"retention_days", s.retentionDays,
		"interval", s.cleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("audit retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	count, err := s.retainer.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("audit retention sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("audit retention: deleted old command_history rows", "count", count)
	}
}
