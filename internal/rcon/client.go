// Package rcon implements a Source RCON client: request issue, the inbound
// pump, and the correlation of responses to requests, including multi-packet
// reassembly and authentication failure detection.
//
// Responses are matched to requests strictly by arrival order. Every request
// is enqueued and written under one lock, so queue order always equals wire
// order.
package rcon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconctl/internal/network"
	"github.com/energizer-project/rconctl/internal/protocol"
	"github.com/energizer-project/rconctl/internal/util"
)

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// TransportFactory builds a fresh transport for each Connect.
type TransportFactory func() (network.Transport, error)

// Option configures a Client.
type Option func(*Client)

// WithCodec sets the text codec for packet bodies.
func WithCodec(codec protocol.TextCodec) Option {
	return func(c *Client) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithIDGenerator replaces the client's id generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(c *Client) {
		if ids != nil {
			c.ids = ids
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client is a Source RCON client bound to one server. It can be connected,
// disconnected and connected again; each connection gets a new transport,
// queue and framer.
type Client struct {
	factory TransportFactory
	codec   protocol.TextCodec
	ids     IDGenerator
	logger  zerolog.Logger

	// connectMu serializes Connect calls.
	connectMu sync.Mutex

	// writeMu makes enqueue + send one step.
	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	transport network.Transport
	queue     *operationQueue
	done      chan struct{}

	obsMu        sync.Mutex
	observers    map[uint64]func(error)
	nextObserver uint64
}

// NewClient creates a disconnected client.
func NewClient(factory TransportFactory, opts ...Option) *Client {
	done := make(chan struct{})
	close(done)

	c := &Client{
		factory:   factory,
		codec:     protocol.UTF8,
		ids:       NewSequentialIDs(),
		logger:    util.ComponentLogger("rcon"),
		state:     StateDisconnected,
		done:      done,
		observers: make(map[uint64]func(error)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewTCPClient creates a client that dials host:port over TCP.
func NewTCPClient(host string, port int, opts ...Option) (*Client, error) {
	if _, err := network.NewTCPTransport(host, port, 0); err != nil {
		return nil, err
	}
	factory := func() (network.Transport, error) {
		return network.NewTCPTransport(host, port, 0)
	}
	return NewClient(factory, opts...), nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	q := c.queue
	c.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.size()
}

// LastActivity returns when the current transport last sent or received
// bytes. It is zero when not connected or when the transport does not track
// activity.
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if r, ok := t.(network.ActivityReporter); ok {
		return r.LastActivity()
	}
	return time.Time{}
}

// Done returns a channel closed when the current connection has ended and
// every close observer has returned. On a client that is not connected it is
// already closed.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// OnClose registers fn to run each time a connection ends. fn receives the
// error that ended the pump, or nil for a clean close. fn must not wait on
// Done. The returned function removes the registration.
func (c *Client) OnClose(fn func(error)) func() {
	c.obsMu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = fn
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// Connect opens a new transport and starts the inbound pump. It is a no-op
// when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	prev := c.done
	c.state = StateConnecting
	c.mu.Unlock()

	// The previous pump must finish notifying observers first.
	select {
	case <-prev:
	case <-ctx.Done():
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return ctx.Err()
	}

	t, err := c.factory()
	if err == nil {
		err = t.Connect(ctx)
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("rcon connect: %w", err)
	}

	queue := newOperationQueue()
	done := make(chan struct{})

	c.mu.Lock()
	c.transport = t
	c.queue = queue
	c.done = done
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Debug().Msg("connected")

	go c.pump(t, queue, done)
	return nil
}

// Disconnect closes the transport. The client reports StateDisconnected as
// soon as Disconnect returns, so a following Connect opens a new transport.
// Queued requests are cancelled by the pump once it observes the end of the
// stream; use Done to wait for that.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		return nil
	}
	return c.drop(t)
}

// drop detaches t from the client and closes it. A transport that was
// already replaced by a newer connection is only closed.
func (c *Client) drop(t network.Transport) error {
	c.mu.Lock()
	if c.transport == t {
		c.transport = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	return t.Disconnect()
}

// Authenticate sends the password. A rejected password yields false and a nil
// error; errors are reserved for transport and connection failures.
func (c *Client) Authenticate(ctx context.Context, password string) (bool, error) {
	if password == "" {
		return false, fmt.Errorf("%w: password is required", ErrInvalidArgument)
	}

	req := protocol.Packet{ID: c.ids.Next(), Type: protocol.TypeAuth, Body: password}
	if _, err := c.issue(ctx, req, false); err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			c.logger.Warn().Msg("authentication rejected")
			return false, nil
		}
		return false, err
	}

	c.logger.Debug().Msg("authenticated")
	return true, nil
}

// ExecuteCommand runs command and returns the response body. With
// expectMultiPacket the command is followed by a sentinel request, and every
// non-empty packet up to the server's reply to that sentinel is concatenated.
func (c *Client) ExecuteCommand(ctx context.Context, command string, expectMultiPacket bool) (string, error) {
	req := protocol.Packet{ID: c.ids.Next(), Type: protocol.TypeExecCommand, Body: command}
	return c.issue(ctx, req, expectMultiPacket)
}

// issue enqueues and writes req, then waits for its resolution. If ctx ends
// first the operation stays queued so later responses still line up.
func (c *Client) issue(ctx context.Context, req protocol.Packet, multiPacket bool) (string, error) {
	data, err := protocol.Encode(req, c.codec)
	if err != nil {
		return "", err
	}

	var dummy []byte
	if multiPacket {
		if dummy, err = protocol.Encode(protocol.NewDummy(), c.codec); err != nil {
			return "", err
		}
	}

	op, err := c.send(req, multiPacket, data, dummy)
	if err != nil {
		return "", err
	}
	return op.Wait(ctx)
}

func (c *Client) send(req protocol.Packet, multiPacket bool, data, dummy []byte) (*Operation, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	state, t, queue := c.state, c.transport, c.queue
	c.mu.Unlock()

	if state != StateConnected || t == nil {
		return nil, ErrNotConnected
	}

	op := newOperation(req, multiPacket)
	if err := queue.push(op); err != nil {
		return nil, err
	}

	if err := t.Send(data); err != nil {
		c.logger.Warn().Err(err).Int32("id", req.ID).Msg("request write failed, dropping connection")
		c.drop(t)
		return nil, fmt.Errorf("rcon send: %w", err)
	}
	if dummy != nil {
		if err := t.Send(dummy); err != nil {
			c.logger.Warn().Err(err).Int32("id", req.ID).Msg("sentinel write failed, dropping connection")
			c.drop(t)
			return nil, fmt.Errorf("rcon send sentinel: %w", err)
		}
	}

	c.logger.Trace().
		Int32("id", req.ID).
		Str("type", req.Type.String()).
		Bool("multi_packet", multiPacket).
		Msg("request sent")
	return op, nil
}

// pump reads packets until the stream ends, then tears the connection down:
// state reset, queued operations cancelled in order, observers notified.
func (c *Client) pump(t network.Transport, queue *operationQueue, done chan struct{}) {
	framer := protocol.NewFramer(t, c.codec)
	corr := newCorrelator(queue, c.logger)

	var cause error
	for {
		p, err := framer.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				cause = err
			}
			if n := framer.Buffered(); n > 0 {
				c.logger.Debug().Int("bytes", n).Msg("discarding partial packet")
			}
			break
		}
		if err := corr.handle(p); err != nil {
			c.logger.Warn().Err(err).Msg("dropping packet")
		}
	}

	c.drop(t)

	closeErr := ErrConnectionClosed
	if cause != nil {
		closeErr = fmt.Errorf("%w: %v", ErrConnectionClosed, cause)
		c.logger.Warn().Err(cause).Msg("connection lost")
	} else {
		c.logger.Debug().Msg("connection closed")
	}

	pending := queue.closeAndDrain()
	for _, op := range pending {
		op.fail(closeErr)
	}
	if len(pending) > 0 {
		c.logger.Debug().Int("cancelled", len(pending)).Msg("cancelled pending requests")
	}

	c.notifyClosed(cause)
	close(done)
}

func (c *Client) notifyClosed(cause error) {
	c.obsMu.Lock()
	fns := make([]func(error), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range fns {
		fn(cause)
	}
}
