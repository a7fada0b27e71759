package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadMergesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plc-connections.json", `{
		"deviceDefaults": {
			"port": 102,
			"connectTimeout": 5,
			"operationTimeout": 5,
			"healthCheckInterval": 30,
			"maxReconnectAttempts": 3,
			"reconnectBaseDelay": 1,
			"commandTimeout": 60,
			"recoveryPollInterval": 1,
			"handshakeSettleDelay": 1
		},
		"plcConnections": [
			{
				"deviceId": "gate-1",
				"ipAddress": "10.0.0.1",
				"mode": "Emulated",
				"capabilities": {"supportsOutbound": true}
			}
		]
	}`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(cfg.Devices))
	}
	dev := cfg.Devices[0]
	if dev.ConnectTimeout.Std() != 5*time.Second {
		t.Fatalf("expected merged connectTimeout default, got %v", dev.ConnectTimeout.Std())
	}
	if dev.DeviceID != "gate-1" {
		t.Fatalf("unexpected device id %q", dev.DeviceID)
	}
}

func TestLoadRejectsDuplicateDeviceIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plc-connections.json", `{
		"plcConnections": [
			{"deviceId": "gate-1", "ipAddress": "10.0.0.1", "mode": "Emulated",
			 "connectTimeout": 5, "operationTimeout": 5, "healthCheckInterval": 30,
			 "reconnectBaseDelay": 1, "commandTimeout": 60,
			 "capabilities": {"supportsOutbound": true}},
			{"deviceId": "gate-1", "ipAddress": "10.0.0.2", "mode": "Emulated",
			 "connectTimeout": 5, "operationTimeout": 5, "healthCheckInterval": 30,
			 "reconnectBaseDelay": 1, "commandTimeout": 60,
			 "capabilities": {"supportsOutbound": true}}
		]
	}`)

	if _, err := Load(dir); err == nil {
		t.Fatal("expected duplicate device id error")
	}
}

func TestLoadMissingFileReturnsLoadError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for missing plc-connections.json")
	}
}

func TestLoadExpandsEnvVarsAndLoadsLayout(t *testing.T) {
	t.Setenv("GATE1_IP", "192.168.1.50")
	dir := t.TempDir()
	writeFile(t, dir, "plc-connections.json", `{
		"plcConnections": [
			{"deviceId": "gate-1", "ipAddress": "${GATE1_IP}", "mode": "Emulated",
			 "connectTimeout": 5, "operationTimeout": 5, "healthCheckInterval": 30,
			 "reconnectBaseDelay": 1, "commandTimeout": 60,
			 "capabilities": {"supportsOutbound": true}}
		]
	}`)
	writeFile(t, dir, "layout.json", `{
		"blocks": [{"blockNumber": 1, "maxFloor": 3, "maxRail": 3, "maxDepth": 1}]
	}`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Devices[0].IPAddr != "192.168.1.50" {
		t.Fatalf("expected expanded IP, got %q", cfg.Devices[0].IPAddr)
	}
	if cfg.Layout == nil {
		t.Fatal("expected layout to be loaded")
	}
}

func TestAuditConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUDIT_RETENTION_DAYS", "")
	t.Setenv("AUDIT_CLEANUP_INTERVAL", "")

	cfg := auditConfigFromEnv()
	if cfg.Enabled {
		t.Fatal("expected disabled audit sink without DATABASE_URL")
	}
	if cfg.RetentionDays != defaultAuditRetentionDays {
		t.Fatalf("expected default retention days, got %d", cfg.RetentionDays)
	}
	if cfg.CleanupInterval.Std() != defaultAuditCleanupInterval {
		t.Fatalf("expected default cleanup interval, got %v", cfg.CleanupInterval.Std())
	}
}

func TestAuditConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/db")
	t.Setenv("AUDIT_RETENTION_DAYS", "30")
	t.Setenv("AUDIT_CLEANUP_INTERVAL", "10m")

	cfg := auditConfigFromEnv()
	if !cfg.Enabled {
		t.Fatal("expected enabled audit sink")
	}
	if cfg.RetentionDays != 30 {
		t.Fatalf("expected retention days 30, got %d", cfg.RetentionDays)
	}
	if cfg.CleanupInterval.Std() != 10*time.Minute {
		t.Fatalf("expected 10m cleanup interval, got %v", cfg.CleanupInterval.Std())
	}
}
