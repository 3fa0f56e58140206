package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rconctl/internal/rcon"
	"github.com/energizer-project/rconctl/internal/server"
)

type commandRequest struct {
	Command     string `json:"command" binding:"required"`
	MultiPacket bool   `json:"multi_packet"`
}

// handleCommand executes one command on a named server.
func (s *Server) handleCommand(c *gin.Context) {
	name := c.Param("name")

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	response, err := s.manager.Execute(c.Request.Context(), name, req.Command, req.MultiPacket)
	if err != nil {
		s.logger.Warn().Err(err).Str("server", name).Str("command", req.Command).
			Msg("API: command failed")
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	s.logger.Info().Str("server", name).Str("command", req.Command).
		Int("response_len", len(response)).Msg("API: command executed")

	c.JSON(http.StatusOK, gin.H{
		"server":   name,
		"command":  req.Command,
		"response": response,
	})
}

// handleReconnect drops and re-establishes a server connection.
func (s *Server) handleReconnect(c *gin.Context) {
	name := c.Param("name")

	if err := s.manager.Reconnect(c.Request.Context(), name); err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	s.logger.Info().Str("server", name).Msg("API: server reconnected")

	info, err := s.manager.GetInfo(name)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "reconnected",
		"server": info,
	})
}

// handleBroadcast executes one command on every enabled server.
func (s *Server) handleBroadcast(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	results := s.manager.Broadcast(c.Request.Context(), req.Command, req.MultiPacket)

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}

	s.logger.Info().Str("command", req.Command).Int("servers", len(results)).
		Int("failed", failed).Msg("API: broadcast executed")

	c.JSON(http.StatusOK, gin.H{
		"command": req.Command,
		"results": results,
		"total":   len(results),
		"failed":  failed,
	})
}

// statusForError maps manager and client errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, server.ErrUnknownServer):
		return http.StatusNotFound
	case errors.Is(err, server.ErrDisabled):
		return http.StatusConflict
	case errors.Is(err, server.ErrNotReady), errors.Is(err, rcon.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, server.ErrAuthRejected):
		return http.StatusBadGateway
	case errors.Is(err, rcon.ErrConnectionClosed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, rcon.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
