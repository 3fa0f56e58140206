// Package network provides the byte transport the RCON client runs on.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultDialTimeout = 10 * time.Second

var (
	// ErrInvalidArgument reports a bad host, port or timeout.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotConnected is returned by Send on a transport that is not connected.
	ErrNotConnected = errors.New("transport is not connected")
)

// Transport is an ordered, reliable byte pipe to a single peer.
type Transport interface {
	Connect(ctx context.Context) error
	Send(p []byte) error
	// Receive reads available bytes into buf; 0 bytes and a nil error mean
	// the stream has ended.
	Receive(buf []byte) (int, error)
	// Disconnect is idempotent.
	Disconnect() error
	IsConnected() bool
}

// ActivityReporter is implemented by transports that track when bytes last
// moved.
type ActivityReporter interface {
	LastActivity() time.Time
}

// TCPTransport is a Transport over a TCP connection.
type TCPTransport struct {
	mu      sync.Mutex
	addr    string
	timeout time.Duration
	conn    net.Conn
	logger  zerolog.Logger

	lastActivity time.Time

	connected bool
}

// NewTCPTransport validates the endpoint and returns an unconnected transport.
// A zero timeout selects the default dial and write timeout.
func NewTCPTransport(host string, port int, timeout time.Duration) (*TCPTransport, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidArgument)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidArgument, port)
	}
	if timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout %s", ErrInvalidArgument, timeout)
	}
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return &TCPTransport{
		addr:    addr,
		timeout: timeout,
		logger:  log.With().Str("component", "transport").Str("remote", addr).Logger(),
	}, nil
}

// Connect dials the remote endpoint.
func (t *TCPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.addr, err)
	}

	t.conn = conn
	t.connected = true
	t.lastActivity = time.Now()

	t.logger.Debug().Msg("transport connected")
	return nil
}

// Send writes p in full.
func (t *TCPTransport) Send(p []byte) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	conn.SetWriteDeadline(time.Now().Add(t.timeout))
	if _, err := conn.Write(p); err != nil {
		return fmt.Errorf("failed to write %d bytes: %w", len(p), err)
	}

	t.touch()
	return nil
}

// Receive reads from the connection. A remote close or a local Disconnect is
// reported as end of stream.
func (t *TCPTransport) Receive(buf []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return 0, nil
	}

	n, err := conn.Read(buf)
	if n > 0 {
		t.touch()
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

// Disconnect closes the connection.
func (t *TCPTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}

	t.connected = false
	t.logger.Debug().Msg("transport closed")
	return t.conn.Close()
}

// IsConnected reports whether the transport holds an open connection.
func (t *TCPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// LastActivity returns the time of the last read or write.
func (t *TCPTransport) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

func (t *TCPTransport) touch() {
	t.mu.Lock()
	t.lastActivity = time.Now()
	t.mu.Unlock()
}
