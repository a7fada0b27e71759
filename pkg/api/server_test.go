package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wcsconnector/core/pkg/config"
	"github.com/wcsconnector/core/pkg/gateway"
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

func newTestServer(t *testing.T) (*Server, *gateway.Gateway) {
	t.Helper()
	ctx := context.Background()
	cfg := testConfig()
	gw, err := gateway.New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, gw.Start(ctx))
	t.Cleanup(gw.Stop)

	return NewServer(cfg, gw), gw
}

func TestHealthHandlerReportsConfiguration(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, 1, resp.Configuration.Devices)
	require.Equal(t, 1, resp.Configuration.EmulatedDevices)
	require.False(t, resp.QueuePaused)
}

func TestSendCommandHandlerRejectsUnknownDevice(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(SendCommandRequest{
		CommandID:  "c1",
		Kind:       "Outbound",
		DeviceID:   "nope",
		Source:     &model.Location{Block: 1},
		GateNumber: 1,
	})
	req := httptest.NewRequest(http.MethodPost, "/commands", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueuePauseResumeHandlers(t *testing.T) {
	s, gw := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/queue/pause", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, gw.IsPaused())

	req = httptest.NewRequest(http.MethodPost, "/queue/resume", nil)
	rec = httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, gw.IsPaused())
}

func TestDeviceStatusHandlerUnknownDevice(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/devices/nope", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
