package rcontest

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/energizer-project/rconctl/internal/protocol"
)

// PipeTransport is an in-memory network.Transport backed by net.Pipe. Writes
// block until the Peer reads them.
type PipeTransport struct {
	mu        sync.Mutex
	conn      net.Conn
	connected bool
}

// Peer is the server end of a PipeTransport, driven by the test.
type Peer struct {
	t      testing.TB
	conn   net.Conn
	framer *protocol.Framer
}

// NewPipe returns a connected transport pair.
func NewPipe(t testing.TB) (*PipeTransport, *Peer) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return &PipeTransport{conn: client}, &Peer{
		t:      t,
		conn:   server,
		framer: protocol.NewFramer(protocol.ReaderReceiver(server), protocol.UTF8),
	}
}

func (p *PipeTransport) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

func (p *PipeTransport) Send(data []byte) error {
	_, err := p.conn.Write(data)
	return err
}

func (p *PipeTransport) Receive(buf []byte) (int, error) {
	n, err := p.conn.Read(buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return 0, nil
	}
	return n, err
}

func (p *PipeTransport) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return p.conn.Close()
}

func (p *PipeTransport) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Expect reads the next request written by the client.
func (p *Peer) Expect() protocol.Packet {
	p.t.Helper()
	pkt, err := p.framer.Next()
	if err != nil {
		p.t.Fatalf("rcontest: read request: %v", err)
	}
	return pkt
}

// Reply writes packets to the client.
func (p *Peer) Reply(packets ...protocol.Packet) {
	p.t.Helper()
	for _, pkt := range packets {
		data, err := protocol.Encode(pkt, protocol.UTF8)
		if err != nil {
			p.t.Fatalf("rcontest: encode: %v", err)
		}
		p.Write(data)
	}
}

// Write sends raw bytes to the client.
func (p *Peer) Write(data []byte) {
	p.t.Helper()
	if _, err := p.conn.Write(data); err != nil {
		p.t.Fatalf("rcontest: write: %v", err)
	}
}

// Close ends the stream from the server side.
func (p *Peer) Close() {
	p.conn.Close()
}
