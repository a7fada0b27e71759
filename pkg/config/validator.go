package config

import "fmt"

// Validate performs comprehensive validation on loaded configuration,
// fail-fast on the first error found.
func Validate(cfg *Config) error {
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("at least one device must be configured")
	}

	for _, dev := range cfg.Devices {
		if err := validateDevice(dev); err != nil {
			return err
		}
	}

	if err := validateLayout(cfg.Layout); err != nil {
		return err
	}

	return nil
}

func validateDevice(dev DeviceConfig) error {
	if dev.DeviceID == "" {
		return NewValidationError("device", "", "deviceId", fmt.Errorf("%w", ErrMissingRequiredField))
	}
	if dev.IPAddr == "" {
		return NewValidationError("device", dev.DeviceID, "ipAddress", fmt.Errorf("%w", ErrMissingRequiredField))
	}
	if !dev.Mode.IsValid() {
		return NewValidationError("device", dev.DeviceID, "mode", fmt.Errorf("%w: %q", ErrInvalidValue, dev.Mode))
	}
	if dev.Mode == ModeReal && dev.Port == 0 {
		return NewValidationError("device", dev.DeviceID, "port", fmt.Errorf("%w", ErrMissingRequiredField))
	}
	if dev.ConnectTimeout.Std() <= 0 {
		return NewValidationError("device", dev.DeviceID, "connectTimeout", fmt.Errorf("must be positive"))
	}
	if dev.OperationTimeout.Std() <= 0 {
		return NewValidationError("device", dev.DeviceID, "operationTimeout", fmt.Errorf("must be positive"))
	}
	if dev.CommandTimeout.Std() <= 0 {
		return NewValidationError("device", dev.DeviceID, "commandTimeout", fmt.Errorf("must be positive"))
	}
	if dev.HealthCheckInterval.Std() <= 0 {
		return NewValidationError("device", dev.DeviceID, "healthCheckInterval", fmt.Errorf("must be positive"))
	}
	if dev.MaxReconnectAttempts < 0 {
		return NewValidationError("device", dev.DeviceID, "maxReconnectAttempts", fmt.Errorf("must be non-negative"))
	}
	if dev.ReconnectBaseDelay.Std() <= 0 {
		return NewValidationError("device", dev.DeviceID, "reconnectBaseDelay", fmt.Errorf("must be positive"))
	}
	if dev.AutoRecoveryEnabled && dev.RecoveryPollInterval.Std() <= 0 {
		return NewValidationError("device", dev.DeviceID, "recoveryPollInterval", fmt.Errorf("must be positive when autoRecoveryEnabled"))
	}
	if !dev.Capabilities.SupportsInbound && !dev.Capabilities.SupportsOutbound &&
		!dev.Capabilities.SupportsTransfer && !dev.Capabilities.SupportsCheckPallet {
		return NewValidationError("device", dev.DeviceID, "capabilities", fmt.Errorf("device must support at least one command kind"))
	}

	return nil
}

func validateLayout(layout *Layout) error {
	if layout == nil {
		return nil
	}
	seen := make(map[int]bool, len(layout.Blocks))
	for _, b := range layout.Blocks {
		if seen[b.BlockNumber] {
			return NewValidationError("layout", fmt.Sprintf("block %d", b.BlockNumber), "blockNumber",
				fmt.Errorf("duplicate block number"))
		}
		seen[b.BlockNumber] = true
		if b.MaxFloor < 0 || b.MaxRail < 0 || b.MaxDepth < 0 {
			return NewValidationError("layout", fmt.Sprintf("block %d", b.BlockNumber), "",
				fmt.Errorf("maxFloor/maxRail/maxDepth must be non-negative"))
		}
	}
	return nil
}
