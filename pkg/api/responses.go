package api

import (
	"time"

	"github.com/wcsconnector/core/pkg/gateway"
)

// SubmitResponse is returned by POST /commands and /commands/batch.
type SubmitResponse struct {
	Submitted []string              `json:"submitted"`
	Rejected  []gateway.RejectedCommand `json:"rejected,omitempty"`
}

// RemoveResponse is returned by DELETE /commands/:id and
// POST /commands/remove-batch.
type RemoveResponse struct {
	Removed []string `json:"removed"`
}

// DeviceStatusResponse is returned by GET /devices/:id.
type DeviceStatusResponse struct {
	DeviceID          string               `json:"device_id"`
	IsConnected       bool                 `json:"is_connected"`
	IsLinkEstablished bool                 `json:"is_link_established"`
	IsReady           bool                 `json:"is_ready"`
	CurrentCommandID  string               `json:"current_command_id,omitempty"`
	CurrentLocation   *LocationResponse    `json:"current_location,omitempty"`
	Capabilities      CapabilitiesResponse `json:"capabilities"`
	Timestamp         time.Time            `json:"timestamp"`
}

// LocationResponse is the wire shape of a model.Location.
type LocationResponse struct {
	Floor int `json:"floor"`
	Rail  int `json:"rail"`
	Block int `json:"block"`
	Depth int `json:"depth"`
}

// CapabilitiesResponse is the wire shape of a config.Capabilities.
type CapabilitiesResponse struct {
	SupportsInbound     bool `json:"supports_inbound"`
	SupportsOutbound    bool `json:"supports_outbound"`
	SupportsTransfer    bool `json:"supports_transfer"`
	SupportsCheckPallet bool `json:"supports_check_pallet"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	DeviceCount   int               `json:"device_count"`
	QueuePaused   bool              `json:"queue_paused"`
	Configuration ConfigurationStats `json:"configuration"`
}

// ConfigurationStats summarizes loaded configuration for the health
// endpoint.
type ConfigurationStats struct {
	Devices         int `json:"devices"`
	RealDevices     int `json:"real_devices"`
	EmulatedDevices int `json:"emulated_devices"`
}
