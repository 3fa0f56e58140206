package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/energizer-project/rconctl/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	servers := cfg.GetServers()
	app := cfg.GetApplicationData()

	validateServers(servers, result)
	validateApplicationData(&app, servers, result)

	return result
}

func validateServers(servers []ServerConfig, result *ValidationResult) {
	if len(servers) == 0 {
		result.AddWarning("servers", "no servers configured")
	}

	seen := make(map[string]bool, len(servers))
	for i, s := range servers {
		field := fmt.Sprintf("servers[%d]", i)

		name := strings.TrimSpace(s.Name)
		switch {
		case name == "":
			result.AddError(field+".name", "server name is required")
		case name == "*":
			result.AddError(field+".name", `"*" is reserved for broadcast targets`)
		case seen[name]:
			result.AddError(field+".name", fmt.Sprintf("duplicate server name %q", name))
		}
		seen[name] = true

		if strings.TrimSpace(s.Host) == "" {
			result.AddError(field+".host", "host is required")
		}
		validatePort(s.Port, field+".port", result)

		if s.Enabled && s.Password == "" {
			result.AddError(field+".password", "RCON password is required for enabled servers")
		}
		if s.Encoding != "" {
			if _, err := protocol.CodecByName(s.Encoding); err != nil {
				result.AddError(field+".encoding", err.Error())
			}
		}
		if s.TimeoutSec < 0 || s.CommandTimeoutSec < 0 {
			result.AddError(field+".timeout_sec", "timeouts cannot be negative")
		}
	}
}

func validateApplicationData(data *ApplicationData, servers []ServerConfig, result *ValidationResult) {
	validateTimers(&data.Timers, result)

	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if (data.API.TLSCertFile == "") != (data.API.TLSKeyFile == "") {
			result.AddError("application_data.api.tls_cert_file",
				"TLS certificate and key must be set together")
		}
		if data.API.Token == "" && !isLoopback(data.API.Host) {
			result.AddWarning("application_data.api.token",
				"API is reachable off-host without a token")
		}
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application_data.api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if data.History.Enabled {
		if strings.TrimSpace(data.History.Path) == "" {
			result.AddError("application_data.history.path", "history database path is required when enabled")
		}
		if data.History.RetentionDays < 1 {
			result.AddWarning("application_data.history.retention_days", "history is never pruned")
		}
	}

	names := make(map[string]bool, len(servers))
	for _, s := range servers {
		names[s.Name] = true
	}
	for i, task := range data.Scheduler {
		field := fmt.Sprintf("application_data.scheduler[%d]", i)
		if strings.TrimSpace(task.Command) == "" {
			result.AddError(field+".command", "command is required")
		}
		if task.IntervalSec < 1 {
			result.AddError(field+".interval_sec", "interval must be at least 1 second")
		}
		if task.Target != "*" && !names[task.Target] {
			result.AddError(field+".target", fmt.Sprintf("unknown server %q", task.Target))
		}
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.HealthInterval > 0 && timers.HealthInterval < 5 {
		result.AddWarning("timers.health_interval_sec",
			"health interval less than 5s may cause excessive reconnect attempts")
	}
	if timers.KeepAliveInterval > 0 && strings.TrimSpace(timers.KeepAliveCommand) == "" {
		result.AddError("timers.keepalive_command", "keep-alive command is required when the interval is set")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
