package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wcsconnector/core/pkg/gateway"
	"github.com/wcsconnector/core/pkg/model"
)

// sendCommandHandler handles POST /commands.
func (s *Server) sendCommandHandler(c *gin.Context) {
	var req SendCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.gw.SendCommand(c.Request.Context(), req.toCommand()); err != nil {
		writeGatewayError(c, err)
		return
	}

	c.JSON(http.StatusOK, SubmitResponse{Submitted: []string{req.CommandID}})
}

// sendMultipleCommandsHandler handles POST /commands/batch.
func (s *Server) sendMultipleCommandsHandler(c *gin.Context) {
	var req SendMultipleCommandsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := s.gw.SendMultipleCommands(c.Request.Context(), toModelCommands(req.Commands))
	c.JSON(http.StatusOK, SubmitResponse{Submitted: result.Submitted, Rejected: result.Rejected})
}

// sendValidationResultHandler handles POST /commands/:id/validation.
func (s *Server) sendValidationResultHandler(c *gin.Context) {
	commandID := c.Param("id")

	var req SendValidationResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.gw.SendValidationResult(commandID, req.Valid, req.Destination, req.GateNumber, req.EnterDirection, req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// removeCommandHandler handles DELETE /commands/:id.
func (s *Server) removeCommandHandler(c *gin.Context) {
	id := c.Param("id")
	if !s.gw.RemoveCommand(id) {
		c.JSON(http.StatusConflict, gin.H{"error": "command is not pending"})
		return
	}
	c.JSON(http.StatusOK, RemoveResponse{Removed: []string{id}})
}

// removeCommandsHandler handles POST /commands/remove-batch.
func (s *Server) removeCommandsHandler(c *gin.Context) {
	var req RemoveCommandsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, RemoveResponse{Removed: s.gw.RemoveCommands(req.CommandIDs)})
}

// pauseQueueHandler handles POST /queue/pause.
func (s *Server) pauseQueueHandler(c *gin.Context) {
	s.gw.PauseQueue()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// resumeQueueHandler handles POST /queue/resume.
func (s *Server) resumeQueueHandler(c *gin.Context) {
	s.gw.ResumeQueue()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// deviceStatusHandler handles GET /devices/:id.
func (s *Server) deviceStatusHandler(c *gin.Context) {
	status, err := s.gw.GetDeviceStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDeviceStatusResponse(status))
}

// deviceLocationHandler handles GET /devices/:id/location.
func (s *Server) deviceLocationHandler(c *gin.Context) {
	loc, err := s.gw.GetActualLocation(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, LocationResponse{Floor: loc.Floor, Rail: loc.Rail, Block: loc.Block, Depth: loc.Depth})
}

// triggerRecoveryHandler handles POST /devices/:id/recover.
func (s *Server) triggerRecoveryHandler(c *gin.Context) {
	if err := s.gw.TriggerDeviceRecovery(c.Param("id")); err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recovery triggered"})
}

func toModelCommands(reqs []SendCommandRequest) []model.Command {
	out := make([]model.Command, len(reqs))
	for i, r := range reqs {
		out[i] = r.toCommand()
	}
	return out
}

func toDeviceStatusResponse(status gateway.DeviceStatus) DeviceStatusResponse {
	resp := DeviceStatusResponse{
		DeviceID:          status.DeviceID,
		IsConnected:       status.IsConnected,
		IsLinkEstablished: status.IsLinkEstablished,
		IsReady:           status.IsReady,
		CurrentCommandID:  status.CurrentCommandID,
		Capabilities: CapabilitiesResponse{
			SupportsInbound:     status.Capabilities.SupportsInbound,
			SupportsOutbound:    status.Capabilities.SupportsOutbound,
			SupportsTransfer:    status.Capabilities.SupportsTransfer,
			SupportsCheckPallet: status.Capabilities.SupportsCheckPallet,
		},
		Timestamp: status.Timestamp,
	}
	if status.CurrentLocation != nil {
		resp.CurrentLocation = &LocationResponse{
			Floor: status.CurrentLocation.Floor,
			Rail:  status.CurrentLocation.Rail,
			Block: status.CurrentLocation.Block,
			Depth: status.CurrentLocation.Depth,
		}
	}
	return resp
}
