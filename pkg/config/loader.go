package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Load reads, merges, and validates configuration from configDir. It is the
// primary entry point for configuration loading.
//
// Steps performed:
//  1. Load plc-connections.json (required) and layout.json (optional)
//  2. Expand environment variable placeholders
//  3. Merge deviceDefaults onto every device entry
//  4. Validate all configuration
//  5. Return a ready *Config
func Load(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("loading configuration")

	root, err := loadPLCConnections(configDir)
	if err != nil {
		return nil, NewLoadError("plc-connections.json", err)
	}

	devices := make([]DeviceConfig, 0, len(root.PLCConnections))
	seen := make(map[string]bool, len(root.PLCConnections))
	for _, dev := range root.PLCConnections {
		merged, err := applyDeviceDefaults(dev, root.DeviceDefaults)
		if err != nil {
			return nil, NewLoadError("plc-connections.json", err)
		}
		if seen[merged.DeviceID] {
			return nil, NewLoadError("plc-connections.json",
				fmt.Errorf("%w: %s", ErrDuplicateDevice, merged.DeviceID))
		}
		seen[merged.DeviceID] = true
		devices = append(devices, merged)
	}

	layout, err := loadLayout(configDir)
	if err != nil {
		return nil, NewLoadError("layout.json", err)
	}

	cfg := &Config{
		configDir: configDir,
		Devices:   devices,
		Layout:    layout,
		Audit:     auditConfigFromEnv(),
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("configuration loaded",
		"devices", stats.Devices,
		"real_devices", stats.RealDevices,
		"emulated_devices", stats.EmulatedDevices,
		"layout_loaded", layout != nil)

	return cfg, nil
}

func loadPLCConnections(configDir string) (*RootConfig, error) {
	path := filepath.Join(configDir, "plc-connections.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var root RootConfig
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return &root, nil
}

// loadLayout loads the optional warehouse layout document. Its absence is
// not an error: a nil Layout admits every location.
func loadLayout(configDir string) (*Layout, error) {
	path := filepath.Join(configDir, "layout.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var layout Layout
	if err := json.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return &layout, nil
}

// defaultAuditRetentionDays and defaultAuditCleanupInterval are applied
// when the corresponding environment variable is unset.
const (
	defaultAuditRetentionDays   = 90
	defaultAuditCleanupInterval = time.Hour
)

// auditConfigFromEnv enables the optional history sink when DATABASE_URL
// is set and reads its retention/cleanup policy from the environment.
func auditConfigFromEnv() AuditConfig {
	url := os.Getenv("DATABASE_URL")

	retentionDays := defaultAuditRetentionDays
	if v := os.Getenv("AUDIT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			retentionDays = n
		}
	}

	cleanupInterval := defaultAuditCleanupInterval
	if v := os.Getenv("AUDIT_CLEANUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cleanupInterval = d
		}
	}

	return AuditConfig{
		Enabled:         url != "",
		DatabaseURL:     url,
		RetentionDays:   retentionDays,
		CleanupInterval: Duration(cleanupInterval),
	}
}
