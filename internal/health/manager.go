// Package health runs periodic checks over the configured RCON servers:
// reconnecting dropped connections, probing idle ones with a keep-alive
// command, and sampling host resource usage.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/server"
	"github.com/energizer-project/rconctl/internal/util"
)

// Manager runs the health checks.
type Manager struct {
	cfg     *config.Config
	bus     *events.Bus
	servers *server.Manager

	sampleHost func() (util.HostUsage, error)
	totalMemMB uint64
}

// NewManager creates a health check manager.
func NewManager(cfg *config.Config, bus *events.Bus, servers *server.Manager) *Manager {
	return &Manager{
		cfg:        cfg,
		bus:        bus,
		servers:    servers,
		sampleHost: util.GetHostUsage,
		totalMemMB: util.GetSystemInfo().TotalMemory,
	}
}

// Start launches every check with a positive interval and blocks until ctx
// ends.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.GetApplicationData().Timers

	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"connections", timers.HealthInterval, m.checkConnections},
		{"keepalive", timers.KeepAliveInterval, m.keepAlive},
		{"host_metrics", timers.HostMetricsInterval, m.sampleHostMetrics},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// checkConnections brings back enabled servers that lost their connection.
func (m *Manager) checkConnections(ctx context.Context) {
	delay := time.Duration(m.cfg.GetApplicationData().Timers.ReconnectDelay) * time.Second

	for _, inst := range m.servers.Instances() {
		if !inst.NeedsReconnect() {
			continue
		}
		// Give a server that just dropped a moment before hammering it.
		if snap := inst.State().Snapshot(); time.Since(snap.StatusChangedAt) < delay {
			continue
		}
		inst.State().RecordReconnect()
		if err := inst.Connect(ctx); err != nil {
			log.Debug().Err(err).Str("server", inst.Name()).Msg("reconnect attempt failed")
			continue
		}
		log.Info().Str("server", inst.Name()).Msg("connection restored")
	}
}

// keepAlive sends the keep-alive command to every ready server. A server
// that does not answer in time gets a reconnect request.
func (m *Manager) keepAlive(ctx context.Context) {
	command := m.cfg.GetApplicationData().Timers.KeepAliveCommand
	if command == "" {
		return
	}

	for _, inst := range m.servers.Instances() {
		if !inst.IsReady() {
			continue
		}
		if _, err := inst.Execute(ctx, command, false); err != nil {
			log.Warn().Err(err).Str("server", inst.Name()).Msg("keep-alive failed")
			if errors.Is(err, context.DeadlineExceeded) {
				m.bus.Emit(ctx, events.Event{
					Type:   events.EventReconnectRequested,
					Source: inst.Name(),
				})
			}
		}
	}
}

// sampleHostMetrics publishes CPU and memory usage with connection counts.
func (m *Manager) sampleHostMetrics(ctx context.Context) {
	usage, err := m.sampleHost()
	if err != nil {
		log.Warn().Err(err).Msg("host metrics sample failed")
		return
	}

	payload := events.HostMetricsPayload{
		CPUPercent:    usage.CPUPercent,
		MemoryPercent: usage.MemoryPercent,
		MemoryUsedMB:  usage.MemoryUsedMB,
		MemoryTotalMB: m.totalMemMB,
		Connected:     m.servers.GetReadyCount(),
		Total:         m.servers.GetTotalServers(),
	}

	log.Debug().
		Float64("cpu_percent", payload.CPUPercent).
		Float64("memory_percent", payload.MemoryPercent).
		Int("connected", payload.Connected).
		Int("total", payload.Total).
		Msg("host metrics")

	m.bus.Emit(ctx, events.Event{
		Type:    events.EventHostMetrics,
		Source:  "health",
		Payload: payload,
	})
}
