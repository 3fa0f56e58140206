package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rconctl/internal/util"
)

// Version is reported by the public endpoints.
const Version = "1.0.0"

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rconctl",
		"version": Version,
	})
}

// handleGetInfo returns host information and server counts.
func (s *Server) handleGetInfo(c *gin.Context) {
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"version":         Version,
		"total_servers":   s.manager.GetTotalServers(),
		"ready_servers":   s.manager.GetReadyCount(),
		"hostname":        sysInfo.Hostname,
		"os":              sysInfo.OS,
		"architecture":    sysInfo.Architecture,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}
