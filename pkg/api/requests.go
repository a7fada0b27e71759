package api

import (
	"time"

	"github.com/wcsconnector/core/pkg/model"
)

// SendCommandRequest is the HTTP request body for POST /commands.
type SendCommandRequest struct {
	CommandID      string           `json:"command_id" binding:"required"`
	Kind           model.Kind       `json:"kind" binding:"required"`
	DeviceID       string           `json:"device_id" binding:"required"`
	Source         *model.Location  `json:"source,omitempty"`
	Destination    *model.Location  `json:"destination,omitempty"`
	GateNumber     int              `json:"gate_number,omitempty"`
	EnterDirection *model.Direction `json:"enter_direction,omitempty"`
	ExitDirection  *model.Direction `json:"exit_direction,omitempty"`
}

func (r SendCommandRequest) toCommand() model.Command {
	return model.Command{
		CommandID:      r.CommandID,
		Kind:           r.Kind,
		DeviceAffinity: r.DeviceID,
		Source:         r.Source,
		Destination:    r.Destination,
		GateNumber:     r.GateNumber,
		EnterDirection: r.EnterDirection,
		ExitDirection:  r.ExitDirection,
		SubmittedAt:    time.Now(),
	}
}

// SendMultipleCommandsRequest is the body for POST /commands/batch.
type SendMultipleCommandsRequest struct {
	Commands []SendCommandRequest `json:"commands" binding:"required"`
}

// SendValidationResultRequest is the body for POST /commands/:id/validation.
type SendValidationResultRequest struct {
	Valid          bool             `json:"valid"`
	Destination    *model.Location  `json:"destination,omitempty"`
	GateNumber     int              `json:"gate_number,omitempty"`
	EnterDirection *model.Direction `json:"enter_direction,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}

// RemoveCommandsRequest is the body for POST /commands/remove-batch.
type RemoveCommandsRequest struct {
	CommandIDs []string `json:"command_ids" binding:"required"`
}
