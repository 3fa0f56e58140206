// Package events defines the event types exchanged between rconctl components.
package events

import "time"

// EventType names an event published on the Bus.
type EventType string

const (
	// Connection lifecycle
	EventConnected     EventType = "connected"
	EventDisconnected  EventType = "disconnected"
	EventAuthenticated EventType = "authenticated"
	EventAuthFailed    EventType = "auth_failed"

	// Commands
	EventCommandExecuted EventType = "command_executed"
	EventCommandFailed   EventType = "command_failed"

	// Control
	EventReconnectRequested EventType = "reconnect_requested"
	EventHostMetrics        EventType = "host_metrics"
	EventShutdown           EventType = "shutdown"
)

// Event is a single message on the bus. Source is the server name, or the
// component that raised it.
type Event struct {
	Type    EventType
	Source  string
	Payload any
}

// ConnectionPayload accompanies connection lifecycle events.
type ConnectionPayload struct {
	Server  string
	Address string
	Error   string
	At      time.Time
}

// CommandPayload accompanies command events.
type CommandPayload struct {
	RequestID   string
	Server      string
	Command     string
	MultiPacket bool
	Response    string
	Error       string
	Duration    time.Duration
	At          time.Time
}

// HostMetricsPayload carries a host resource sample.
type HostMetricsPayload struct {
	CPUPercent    float64
	MemoryPercent float64
	MemoryUsedMB  uint64
	MemoryTotalMB uint64
	Connected     int
	Total         int
}
