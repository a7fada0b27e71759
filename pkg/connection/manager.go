// Package connection implements ConnectionManager: the component that
// owns one plc.Transport per device, serializes every operation against
// it, and drives the health-check/exponential-backoff reconnect loop.
package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wcsconnector/core/pkg/plc"
)

// Manager owns one transport. All read/write/connect operations are
// serialized behind a single mutex: each transport instance is
// exclusive, guarded by a single mutual-exclusion token.
type Manager struct {
	deviceID string
	log      *slog.Logger

	transport plc.Transport

	healthCheckInterval time.Duration
	maxReconnectAttempts int
	reconnectBaseDelay   time.Duration

	mu sync.Mutex

	attempts      atomic.Int32
	reconnectDone atomic.Bool // true once max attempts reached

	healthCancel context.CancelFunc
	healthWG     sync.WaitGroup
}

// Config bundles the device-specific reconnect tuning ConnectionManager
// needs; callers build it from config.DeviceConfig.
type Config struct {
	DeviceID             string
	HealthCheckInterval  time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
}

// New returns a Manager for the given transport. The transport is not
// connected yet; call Connect to establish the session and start the
// health-check loop.
func New(transport plc.Transport, cfg Config) *Manager {
	return &Manager{
		deviceID:             cfg.DeviceID,
		log:                  slog.With("device_id", cfg.DeviceID),
		transport:            transport,
		healthCheckInterval:  cfg.HealthCheckInterval,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
		reconnectBaseDelay:   cfg.ReconnectBaseDelay,
	}
}

// Connect establishes the initial session and, on success, starts the
// background health-check task.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	err := m.transport.Connect(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	healthCtx, cancel := context.WithCancel(context.Background())
	m.healthCancel = cancel
	m.healthWG.Add(1)
	go m.healthLoop(healthCtx)

	return nil
}

// Disconnect stops the health-check loop and closes the transport.
func (m *Manager) Disconnect() error {
	if m.healthCancel != nil {
		m.healthCancel()
		m.healthWG.Wait()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport.Disconnect()
}

// IsConnected is a cheap pass-through to the transport.
func (m *Manager) IsConnected() bool {
	return m.transport.IsConnected()
}

func (m *Manager) healthLoop(ctx context.Context) {
	defer m.healthWG.Done()
	ticker := time.NewTicker(m.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.transport.IsConnected() && !m.reconnectDone.Load() {
				m.attemptReconnect(ctx)
			}
		}
	}
}

// attemptReconnect runs the exponential-backoff reconnect sequence:
// delay = base_delay × 2^attempts, one first try plus up to
// maxReconnectAttempts retries (no limit when maxReconnectAttempts is 0).
// On success the attempt counter resets; on exhaustion the device stays
// disconnected until TriggerDeviceRecovery, called while the device's
// worker is in its recovery wait, resets it.
func (m *Manager) attemptReconnect(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.reconnectBaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // bounded by WithMaxRetries instead, not wall-clock

	var policy backoff.BackOff = bo
	if m.maxReconnectAttempts > 0 {
		policy = backoff.WithMaxRetries(bo, uint64(m.maxReconnectAttempts))
	}

	err := backoff.Retry(func() error {
		m.mu.Lock()
		err := m.transport.Connect(ctx)
		m.mu.Unlock()
		if err != nil {
			m.attempts.Add(1)
			m.log.Warn("reconnect attempt failed", "attempt", m.attempts.Load(), "error", err)
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))

	if err != nil {
		m.reconnectDone.Store(true)
		m.log.Error("reconnect attempts exhausted, device requires manual recovery", "attempts", m.attempts.Load())
		return
	}

	m.attempts.Store(0)
	m.log.Info("reconnected")
}

// ResetReconnect clears the "give up" state so the health loop will try
// again; used by TriggerDeviceRecovery.
func (m *Manager) ResetReconnect() {
	m.reconnectDone.Store(false)
	m.attempts.Store(0)
}

func (m *Manager) ReadBool(ctx context.Context, addr plc.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.transport.ReadBool(ctx, addr)
	m.noteResult(err)
	return v, err
}

func (m *Manager) WriteBool(ctx context.Context, addr plc.Address, v bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.transport.WriteBool(ctx, addr, v)
	m.noteResult(err)
	return err
}

func (m *Manager) ReadU8(ctx context.Context, addr plc.Address) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.transport.ReadU8(ctx, addr)
	m.noteResult(err)
	return v, err
}

func (m *Manager) WriteU8(ctx context.Context, addr plc.Address, v uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.transport.WriteU8(ctx, addr, v)
	m.noteResult(err)
	return err
}

func (m *Manager) ReadI16(ctx context.Context, addr plc.Address) (int16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.transport.ReadI16(ctx, addr)
	m.noteResult(err)
	return v, err
}

func (m *Manager) WriteI16(ctx context.Context, addr plc.Address, v int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.transport.WriteI16(ctx, addr, v)
	m.noteResult(err)
	return err
}

func (m *Manager) ReadI32(ctx context.Context, addr plc.Address) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.transport.ReadI32(ctx, addr)
	m.noteResult(err)
	return v, err
}

func (m *Manager) WriteI32(ctx context.Context, addr plc.Address, v int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.transport.WriteI32(ctx, addr, v)
	m.noteResult(err)
	return err
}

// noteResult implements the failure semantics: a ConnectionLost from a
// read/write does not itself force reconnection, it only resets the
// attempt counter so the next health tick retries fast.
func (m *Manager) noteResult(err error) {
	if errors.Is(err, plc.ErrConnectionLost) {
		m.attempts.Store(0)
	}
}
