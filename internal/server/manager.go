package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/rcon"
)

// maxParallelConnects bounds simultaneous connect attempts.
const maxParallelConnects = 4

// Manager owns every configured instance.
type Manager struct {
	mu sync.RWMutex

	cfg *config.Config
	bus *events.Bus

	servers map[string]*Instance
}

// NewManager creates an instance per configured server. Client options are
// passed to every instance.
func NewManager(cfg *config.Config, bus *events.Bus, opts ...rcon.Option) (*Manager, error) {
	m := &Manager{
		cfg:     cfg,
		bus:     bus,
		servers: make(map[string]*Instance),
	}

	for _, sc := range cfg.GetServers() {
		if _, dup := m.servers[sc.Name]; dup {
			return nil, fmt.Errorf("duplicate server name %q", sc.Name)
		}
		inst, err := NewInstance(sc, bus, opts...)
		if err != nil {
			return nil, err
		}
		m.servers[sc.Name] = inst
		log.Debug().Str("server", sc.Name).Str("address", sc.Address()).Bool("enabled", sc.Enabled).Msg("server instance created")
	}

	m.subscribeEvents()
	return m, nil
}

func (m *Manager) subscribeEvents() {
	m.bus.Subscribe(events.EventReconnectRequested, "manager.reconnect", m.onReconnectRequested)
	m.bus.Subscribe(events.EventShutdown, "manager.shutdown", m.onShutdown)
}

// ConnectAll connects every enabled server. Individual failures are logged;
// an error is returned only if no server could be brought up.
func (m *Manager) ConnectAll(ctx context.Context) error {
	instances := m.enabled()
	if len(instances) == 0 {
		return nil
	}

	log.Info().Int("count", len(instances)).Msg("connecting all servers")

	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelConnects)
	for _, inst := range instances {
		g.Go(func() error {
			if err := inst.Connect(gctx); err != nil {
				log.Warn().Err(err).Str("server", inst.Name()).Msg("failed to connect server")
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	log.Info().
		Int("connected", len(instances)-failed).
		Int("failed", failed).
		Int("total", len(instances)).
		Msg("server connect complete")

	if failed == len(instances) {
		return fmt.Errorf("all %d servers failed to connect", failed)
	}
	return nil
}

// DisconnectAll closes every connection and waits for pending commands to be
// cancelled.
func (m *Manager) DisconnectAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range m.Instances() {
		g.Go(func() error {
			if err := inst.Disconnect(gctx); err != nil {
				log.Warn().Err(err).Str("server", inst.Name()).Msg("disconnect did not settle")
			}
			return nil
		})
	}
	g.Wait()
	log.Info().Msg("all servers disconnected")
}

// Execute runs command on the named server.
func (m *Manager) Execute(ctx context.Context, name, command string, multiPacket bool) (string, error) {
	inst, ok := m.GetInstance(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	return inst.Execute(ctx, command, multiPacket)
}

// BroadcastResult is one server's outcome of a broadcast.
type BroadcastResult struct {
	Server   string `json:"server"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Broadcast runs command on every ready server in parallel. Results are
// ordered by server name.
func (m *Manager) Broadcast(ctx context.Context, command string, multiPacket bool) []BroadcastResult {
	instances := m.Instances()
	results := make([]BroadcastResult, len(instances))

	var g errgroup.Group
	for idx, inst := range instances {
		g.Go(func() error {
			res := BroadcastResult{Server: inst.Name()}
			resp, err := inst.Execute(ctx, command, multiPacket)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Response = resp
			}
			results[idx] = res
			return nil
		})
	}
	g.Wait()
	return results
}

// Reconnect drops and re-establishes the named server's connection.
func (m *Manager) Reconnect(ctx context.Context, name string) error {
	inst, ok := m.GetInstance(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	return inst.Reconnect(ctx)
}

// ReconnectDown connects every enabled instance that has lost its connection
// and returns how many came back.
func (m *Manager) ReconnectDown(ctx context.Context) int {
	var (
		mu       sync.Mutex
		restored int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelConnects)
	for _, inst := range m.Instances() {
		if !inst.NeedsReconnect() {
			continue
		}
		g.Go(func() error {
			inst.State().RecordReconnect()
			if err := inst.Connect(gctx); err != nil {
				log.Debug().Err(err).Str("server", inst.Name()).Msg("reconnect attempt failed")
				return nil
			}
			mu.Lock()
			restored++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return restored
}

// GetInstance returns an instance by name.
func (m *Manager) GetInstance(name string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.servers[name]
	return inst, ok
}

// Instances returns all instances sorted by name.
func (m *Manager) Instances() []*Instance {
	m.mu.RLock()
	out := make([]*Instance, 0, len(m.servers))
	for _, inst := range m.servers {
		out = append(out, inst)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		return out[a].Name() < out[b].Name()
	})
	return out
}

func (m *Manager) enabled() []*Instance {
	all := m.Instances()
	out := all[:0]
	for _, inst := range all {
		if inst.IsEnabled() {
			out = append(out, inst)
		}
	}
	return out
}

// GetAllInfo returns status information for all servers, sorted by name.
func (m *Manager) GetAllInfo() []InstanceInfo {
	instances := m.Instances()
	info := make([]InstanceInfo, 0, len(instances))
	for _, inst := range instances {
		info = append(info, inst.GetInfo())
	}
	return info
}

// GetInfo returns status information for one server.
func (m *Manager) GetInfo(name string) (InstanceInfo, error) {
	inst, ok := m.GetInstance(name)
	if !ok {
		return InstanceInfo{}, fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	return inst.GetInfo(), nil
}

// GetTotalServers returns the number of configured servers.
func (m *Manager) GetTotalServers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.servers)
}

// GetReadyCount returns the number of authenticated servers.
func (m *Manager) GetReadyCount() int {
	count := 0
	for _, inst := range m.Instances() {
		if inst.IsReady() {
			count++
		}
	}
	return count
}

func (m *Manager) onReconnectRequested(ctx context.Context, event events.Event) error {
	if event.Source == "" || event.Source == "*" {
		m.ReconnectDown(ctx)
		return nil
	}
	err := m.Reconnect(ctx, event.Source)
	if errors.Is(err, ErrUnknownServer) {
		return err
	}
	if err != nil {
		log.Warn().Err(err).Str("server", event.Source).Msg("requested reconnect failed")
	}
	return nil
}

func (m *Manager) onShutdown(ctx context.Context, event events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.DisconnectAll(ctx)
	return nil
}
