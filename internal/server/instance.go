package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconctl/internal/config"
	"github.com/energizer-project/rconctl/internal/events"
	"github.com/energizer-project/rconctl/internal/network"
	"github.com/energizer-project/rconctl/internal/protocol"
	"github.com/energizer-project/rconctl/internal/rcon"
)

var (
	// ErrUnknownServer is returned for a name the manager does not know.
	ErrUnknownServer = errors.New("unknown server")

	// ErrNotReady means the instance is not authenticated.
	ErrNotReady = errors.New("server is not authenticated")

	// ErrAuthRejected means the server refused the configured password.
	ErrAuthRejected = errors.New("rcon password rejected")

	// ErrDisabled is returned when connecting a disabled server.
	ErrDisabled = errors.New("server is disabled")
)

// Instance is one configured RCON server. It owns an rcon.Client, keeps it
// authenticated, and reports what happens on the event bus.
type Instance struct {
	cfg    config.ServerConfig
	bus    *events.Bus
	logger zerolog.Logger

	client *rcon.Client
	state  *State

	// connectMu serializes Connect and Reconnect.
	connectMu sync.Mutex
}

// NewInstance creates a disconnected instance for cfg. Extra client options
// are applied after the defaults derived from cfg.
func NewInstance(cfg config.ServerConfig, bus *events.Bus, opts ...rcon.Option) (*Instance, error) {
	if _, err := network.NewTCPTransport(cfg.Host, cfg.Port, cfg.DialTimeout()); err != nil {
		return nil, fmt.Errorf("server %s: %w", cfg.Name, err)
	}
	codec, err := protocol.CodecByName(cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("server %s: %w", cfg.Name, err)
	}

	logger := log.With().
		Str("component", "server").
		Str("server", cfg.Name).
		Str("address", cfg.Address()).
		Logger()

	factory := func() (network.Transport, error) {
		return network.NewTCPTransport(cfg.Host, cfg.Port, cfg.DialTimeout())
	}
	clientOpts := append([]rcon.Option{
		rcon.WithCodec(codec),
		rcon.WithLogger(logger.With().Str("component", "rcon").Logger()),
	}, opts...)

	inst := &Instance{
		cfg:    cfg,
		bus:    bus,
		logger: logger,
		client: rcon.NewClient(factory, clientOpts...),
		state:  NewState(),
	}
	if !cfg.Enabled {
		inst.state.SetStatus(StatusDisabled)
	}
	inst.client.OnClose(inst.onClose)
	return inst, nil
}

// Name returns the configured server name.
func (i *Instance) Name() string {
	return i.cfg.Name
}

// Config returns the server configuration.
func (i *Instance) Config() config.ServerConfig {
	return i.cfg
}

// State returns the live state tracker.
func (i *Instance) State() *State {
	return i.state
}

// IsEnabled reports whether the server is enabled in configuration.
func (i *Instance) IsEnabled() bool {
	return i.cfg.Enabled
}

// IsReady reports whether commands can be sent.
func (i *Instance) IsReady() bool {
	return i.client.IsConnected() && i.state.Status() == StatusAuthenticated
}

// NeedsReconnect reports whether the health check should bring the instance
// back. A rejected password is not retried until the next explicit reconnect.
func (i *Instance) NeedsReconnect() bool {
	if !i.cfg.Enabled {
		return false
	}
	switch i.state.Status() {
	case StatusDisconnected:
		return true
	case StatusAuthenticated:
		return !i.client.IsConnected()
	}
	return false
}

// Connect opens the connection and authenticates. It is a no-op when the
// instance is already authenticated.
func (i *Instance) Connect(ctx context.Context) error {
	if !i.cfg.Enabled {
		return fmt.Errorf("server %s: %w", i.cfg.Name, ErrDisabled)
	}

	i.connectMu.Lock()
	defer i.connectMu.Unlock()
	return i.connectLocked(ctx)
}

func (i *Instance) connectLocked(ctx context.Context) error {
	if i.IsReady() {
		return nil
	}

	i.state.SetStatus(StatusConnecting)
	if err := i.client.Connect(ctx); err != nil {
		i.state.SetStatus(StatusDisconnected)
		i.state.SetError(err)
		i.logger.Warn().Err(err).Msg("connect failed")
		return fmt.Errorf("server %s: %w", i.cfg.Name, err)
	}
	i.state.SetStatus(StatusConnected)
	i.emit(ctx, events.EventConnected, "")

	ok, err := i.client.Authenticate(ctx, i.cfg.Password)
	if err != nil {
		i.state.SetError(err)
		i.client.Disconnect()
		i.logger.Warn().Err(err).Msg("authentication did not complete")
		return fmt.Errorf("server %s: authenticate: %w", i.cfg.Name, err)
	}
	if !ok {
		i.state.SetStatus(StatusAuthFailed)
		i.state.SetError(ErrAuthRejected)
		i.client.Disconnect()
		i.emit(ctx, events.EventAuthFailed, ErrAuthRejected.Error())
		i.logger.Error().Msg("rcon password rejected")
		return fmt.Errorf("server %s: %w", i.cfg.Name, ErrAuthRejected)
	}

	i.state.SetStatus(StatusAuthenticated)
	i.emit(ctx, events.EventAuthenticated, "")
	i.logger.Info().Msg("authenticated")
	return nil
}

// Disconnect closes the connection and waits for pending commands to be
// cancelled.
func (i *Instance) Disconnect(ctx context.Context) error {
	done := i.client.Done()
	if err := i.client.Disconnect(); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconnect drops the current connection, if any, and connects again.
func (i *Instance) Reconnect(ctx context.Context) error {
	if !i.cfg.Enabled {
		return fmt.Errorf("server %s: %w", i.cfg.Name, ErrDisabled)
	}

	i.connectMu.Lock()
	defer i.connectMu.Unlock()

	i.state.RecordReconnect()
	if err := i.Disconnect(ctx); err != nil {
		return err
	}
	// The close observer may still be settling the status.
	i.state.SetStatus(StatusDisconnected)
	return i.connectLocked(ctx)
}

// Execute runs command and returns the server's response. The wait is bounded
// by the configured command timeout.
func (i *Instance) Execute(ctx context.Context, command string, multiPacket bool) (string, error) {
	if !i.IsReady() {
		return "", fmt.Errorf("server %s: %w", i.cfg.Name, ErrNotReady)
	}

	ctx, cancel := context.WithTimeout(ctx, i.cfg.CommandTimeout())
	defer cancel()

	requestID := uuid.New().String()
	start := time.Now()
	resp, err := i.client.ExecuteCommand(ctx, command, multiPacket)
	elapsed := time.Since(start)

	i.state.RecordCommand(elapsed, err)

	payload := events.CommandPayload{
		RequestID:   requestID,
		Server:      i.cfg.Name,
		Command:     command,
		MultiPacket: multiPacket,
		Response:    resp,
		Duration:    elapsed,
		At:          start,
	}
	if err != nil {
		payload.Error = err.Error()
		i.bus.Emit(context.Background(), events.Event{Type: events.EventCommandFailed, Source: i.cfg.Name, Payload: payload})
		i.logger.Warn().Err(err).Str("request_id", requestID).Str("command", command).Msg("command failed")
		return "", fmt.Errorf("server %s: %w", i.cfg.Name, err)
	}

	i.bus.Emit(context.Background(), events.Event{Type: events.EventCommandExecuted, Source: i.cfg.Name, Payload: payload})
	i.logger.Debug().
		Str("request_id", requestID).
		Str("command", command).
		Dur("elapsed", elapsed).
		Int("response_len", len(resp)).
		Msg("command executed")
	return resp, nil
}

func (i *Instance) onClose(cause error) {
	i.state.MarkDisconnected()

	msg := ""
	if cause != nil {
		msg = cause.Error()
		i.state.SetError(cause)
		i.logger.Warn().Err(cause).Msg("connection lost")
	} else {
		i.logger.Info().Msg("disconnected")
	}
	i.emit(context.Background(), events.EventDisconnected, msg)
}

func (i *Instance) emit(ctx context.Context, t events.EventType, errMsg string) {
	i.bus.Emit(ctx, events.Event{
		Type:   t,
		Source: i.cfg.Name,
		Payload: events.ConnectionPayload{
			Server:  i.cfg.Name,
			Address: i.cfg.Address(),
			Error:   errMsg,
			At:      time.Now(),
		},
	})
}

// GetInfo returns a summary of the instance for API and console output.
func (i *Instance) GetInfo() InstanceInfo {
	info := InstanceInfo{
		Name:        i.cfg.Name,
		Address:     i.cfg.Address(),
		Enabled:     i.cfg.Enabled,
		Connected:   i.client.IsConnected(),
		Pending:     i.client.Pending(),
		Encoding:    encodingName(i.cfg.Encoding),
		MultiPacket: i.cfg.MultiPacket,
		State:       i.state.Snapshot(),
	}
	if last := i.client.LastActivity(); !last.IsZero() {
		info.LastActivity = &last
	}
	return info
}

func encodingName(name string) string {
	if name == "" {
		return "utf-8"
	}
	return name
}

// InstanceInfo is a JSON-serializable summary of an instance.
type InstanceInfo struct {
	Name        string        `json:"name"`
	Address     string        `json:"address"`
	Enabled     bool          `json:"enabled"`
	Connected   bool          `json:"connected"`
	Pending     int           `json:"pending"`
	Encoding    string        `json:"encoding"`
	MultiPacket bool          `json:"multi_packet"`
	State       StateSnapshot `json:"state"`

	LastActivity *time.Time `json:"last_activity,omitempty"`
}
