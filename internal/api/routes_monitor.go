package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// handleListServers returns the status of every configured server.
func (s *Server) handleListServers(c *gin.Context) {
	servers := s.manager.GetAllInfo()
	c.JSON(http.StatusOK, gin.H{
		"servers": servers,
		"total":   len(servers),
		"ready":   s.manager.GetReadyCount(),
	})
}

// handleGetServer returns the status of one server.
func (s *Server) handleGetServer(c *gin.Context) {
	info, err := s.manager.GetInfo(c.Param("name"))
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleGetHostUsage returns current CPU and memory usage.
func (s *Server) handleGetHostUsage(c *gin.Context) {
	usage, err := s.sampleHost()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, usage)
}

// handleGetHistory returns recent commands, optionally for one server.
func (s *Server) handleGetHistory(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	serverName := c.Query("server")

	records, err := s.history.RecentCommands(c.Request.Context(), serverName, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("API: history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"server":   serverName,
		"commands": records,
		"count":    len(records),
	})
}

// handleGetConnections returns recent connection events.
func (s *Server) handleGetConnections(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	records, err := s.history.RecentConnections(c.Request.Context(), c.Query("server"), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("API: connection history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": records,
		"count":  len(records),
	})
}

// handleGetHistoryEntry returns one command by request id.
func (s *Server) handleGetHistoryEntry(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}

	record, err := s.history.GetCommand(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "command not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) requireHistory(c *gin.Context) bool {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "command history is disabled"})
		return false
	}
	return true
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultHistoryLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, true
}
