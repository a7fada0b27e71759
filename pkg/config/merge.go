package config

import (
	"fmt"

	"dario.cat/mergo"
)

// applyDeviceDefaults merges the deviceDefaults block onto a single
// device's configuration. Only zero-valued fields on dev are overwritten,
// so an explicit per-device setting always wins over the default.
func applyDeviceDefaults(dev DeviceConfig, defaults *DeviceDefaults) (DeviceConfig, error) {
	if defaults == nil {
		return dev, nil
	}

	merged := DeviceConfig{
		Port:                 defaults.Port,
		ConnectTimeout:        defaults.ConnectTimeout,
		OperationTimeout:      defaults.OperationTimeout,
		HealthCheckInterval:   defaults.HealthCheckInterval,
		MaxReconnectAttempts:  defaults.MaxReconnectAttempts,
		ReconnectBaseDelay:    defaults.ReconnectBaseDelay,
		CommandTimeout:        defaults.CommandTimeout,
		RecoveryPollInterval:  defaults.RecoveryPollInterval,
		HandshakeSettleDelay:  defaults.HandshakeSettleDelay,
	}

	if err := mergo.Merge(&merged, dev, mergo.WithOverride); err != nil {
		return DeviceConfig{}, fmt.Errorf("merge device defaults for %q: %w", dev.DeviceID, err)
	}
	return merged, nil
}
