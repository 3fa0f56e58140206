package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const redacted = "********"

// handleGetConfig returns the running configuration with secrets removed.
func (s *Server) handleGetConfig(c *gin.Context) {
	servers := s.cfg.GetServers()
	for i := range servers {
		if servers[i].Password != "" {
			servers[i].Password = redacted
		}
	}

	appData := s.cfg.GetApplicationData()
	if appData.API.Token != "" {
		appData.API.Token = redacted
	}
	if appData.MQTT.Password != "" {
		appData.MQTT.Password = redacted
	}

	c.JSON(http.StatusOK, gin.H{
		"path":             s.cfg.Path(),
		"servers":          servers,
		"application_data": appData,
	})
}
