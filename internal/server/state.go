// Package server manages the configured RCON targets: one Instance per
// server, and a Manager that connects, commands and monitors them all.
package server

import (
	"sync"
	"time"
)

// Status is the connection status of an instance.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusAuthenticated
	StatusAuthFailed
	StatusDisabled
)

var statusStrings = map[Status]string{
	StatusDisconnected:  "disconnected",
	StatusConnecting:    "connecting",
	StatusConnected:     "connected",
	StatusAuthenticated: "authenticated",
	StatusAuthFailed:    "auth_failed",
	StatusDisabled:      "disabled",
}

// String returns the string representation of Status.
func (s Status) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes Status as a JSON string (e.g. "authenticated").
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// latencyWindow bounds how many recent command round trips are kept.
const latencyWindow = 50

// State tracks an instance's connection status and command statistics.
type State struct {
	mu sync.RWMutex

	status          Status
	statusChangedAt time.Time
	connectedAt     time.Time
	lastError       string

	commands     int
	failures     int
	lastCommand  time.Time
	latencies    []time.Duration
	reconnects   int
	disconnected int
}

// NewState creates a disconnected state.
func NewState() *State {
	return &State{
		status:          StatusDisconnected,
		statusChangedAt: time.Now(),
	}
}

// SetStatus updates the status and returns the previous one.
func (s *State) SetStatus(status Status) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.status
	if old == status {
		return old
	}
	now := time.Now()
	s.status = status
	s.statusChangedAt = now

	switch status {
	case StatusAuthenticated:
		s.connectedAt = now
		s.lastError = ""
	case StatusDisconnected:
		s.connectedAt = time.Time{}
		if old == StatusAuthenticated {
			s.disconnected++
		}
	}
	return old
}

// MarkDisconnected records a closed connection. A rejected password stays
// visible as StatusAuthFailed.
func (s *State) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case StatusAuthFailed, StatusDisabled, StatusDisconnected:
		return
	case StatusAuthenticated:
		s.disconnected++
	}
	s.status = StatusDisconnected
	s.statusChangedAt = time.Now()
	s.connectedAt = time.Time{}
}

// Status returns the current status.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetError records the last error seen on the instance.
func (s *State) SetError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

// RecordCommand accounts for one finished command.
func (s *State) RecordCommand(d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands++
	s.lastCommand = time.Now()
	if err != nil {
		s.failures++
		s.lastError = err.Error()
		return
	}
	s.latencies = append(s.latencies, d)
	if len(s.latencies) > latencyWindow {
		s.latencies = s.latencies[len(s.latencies)-latencyWindow:]
	}
}

// RecordReconnect counts a reconnect attempt.
func (s *State) RecordReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StateSnapshot{
		Status:          s.status,
		StatusChangedAt: s.statusChangedAt,
		LastError:       s.lastError,
		Commands:        s.commands,
		Failures:        s.failures,
		Reconnects:      s.reconnects,
		Disconnects:     s.disconnected,
	}
	if !s.connectedAt.IsZero() {
		at := s.connectedAt
		snap.ConnectedAt = &at
		snap.Uptime = time.Since(s.connectedAt).Round(time.Second).String()
	}
	if !s.lastCommand.IsZero() {
		at := s.lastCommand
		snap.LastCommandAt = &at
	}
	if n := len(s.latencies); n > 0 {
		var total, peak time.Duration
		for _, d := range s.latencies {
			total += d
			peak = max(peak, d)
		}
		snap.AvgLatencyMs = float64(total.Microseconds()) / float64(n) / 1000
		snap.MaxLatencyMs = float64(peak.Microseconds()) / 1000
	}
	return snap
}

// StateSnapshot is an immutable view of State.
type StateSnapshot struct {
	Status          Status     `json:"status"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
	ConnectedAt     *time.Time `json:"connected_at,omitempty"`
	Uptime          string     `json:"uptime,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastCommandAt   *time.Time `json:"last_command_at,omitempty"`
	Commands        int        `json:"commands"`
	Failures        int        `json:"failures"`
	Reconnects      int        `json:"reconnects"`
	Disconnects     int        `json:"disconnects"`
	AvgLatencyMs    float64    `json:"avg_latency_ms"`
	MaxLatencyMs    float64    `json:"max_latency_ms"`
}
