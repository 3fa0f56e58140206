// Package rcontest runs an in-process Source RCON server for tests. It
// behaves like srcds: auth is answered with an empty RESPONSE_VALUE followed
// by the AUTH_RESPONSE, long bodies are split across packets, and a
// RESPONSE_VALUE request is mirrored back followed by a 0x01 marker packet.
package rcontest

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/energizer-project/rconctl/internal/protocol"
)

// Server is a fake RCON server listening on 127.0.0.1.
type Server struct {
	// ChunkSize splits response bodies longer than this many bytes.
	ChunkSize int

	password string
	ln       net.Listener

	mu       sync.Mutex
	commands map[string]string
	silent   map[string]bool
	conns    map[net.Conn]*sync.Mutex
	received []protocol.Packet

	wg sync.WaitGroup
}

// NewServer starts a server that accepts password. It is closed when the
// test ends.
func NewServer(t testing.TB, password string) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("rcontest: listen: %v", err)
	}

	s := &Server{
		ChunkSize: 4096,
		password:  password,
		ln:        ln,
		commands:  make(map[string]string),
		silent:    make(map[string]bool),
		conns:     make(map[net.Conn]*sync.Mutex),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Host returns the listening host.
func (s *Server) Host() string {
	return "127.0.0.1"
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Handle sets the response body for command.
func (s *Server) Handle(command, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[command] = response
}

// Silence makes the server swallow command without answering.
func (s *Server) Silence(command string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[command] = true
}

// Received returns every packet the server has read, in order.
func (s *Server) Received() []protocol.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Packet, len(s.received))
	copy(out, s.received)
	return out
}

// ConnCount returns the number of open client connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Inject writes raw bytes to every open connection.
func (s *Server) Inject(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, wmu := range s.conns {
		wmu.Lock()
		conn.Write(data)
		wmu.Unlock()
	}
}

// DropConnections closes every open client connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// Close stops the listener and drops all connections.
func (s *Server) Close() {
	s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		wmu := &sync.Mutex{}
		s.mu.Lock()
		s.conns[conn] = wmu
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn, wmu)
	}
}

func (s *Server) serve(conn net.Conn, wmu *sync.Mutex) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	authed := s.password == ""
	framer := protocol.NewFramer(protocol.ReaderReceiver(conn), protocol.UTF8)

	for {
		req, err := framer.Next()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.received = append(s.received, req)
		s.mu.Unlock()

		var out []protocol.Packet
		switch req.Type {
		case protocol.TypeAuth:
			id := req.ID
			if req.Body != s.password {
				id = protocol.AuthFailedID
			} else {
				authed = true
			}
			out = append(out,
				protocol.Packet{ID: req.ID, Type: protocol.TypeResponse},
				protocol.Packet{ID: id, Type: protocol.TypeAuthResponse},
			)
		case protocol.TypeExecCommand:
			out = s.execute(req, authed)
		case protocol.TypeResponse:
			out = append(out,
				protocol.Packet{ID: req.ID, Type: protocol.TypeResponse},
				protocol.Packet{ID: req.ID, Type: protocol.TypeResponse, Body: "\x00\x01\x00\x00"},
			)
		}

		if err := s.write(conn, wmu, out); err != nil {
			return
		}
	}
}

func (s *Server) execute(req protocol.Packet, authed bool) []protocol.Packet {
	s.mu.Lock()
	silent := s.silent[req.Body]
	body, ok := s.commands[req.Body]
	chunk := s.ChunkSize
	s.mu.Unlock()

	if silent {
		return nil
	}
	if !authed || !ok {
		return []protocol.Packet{{ID: req.ID, Type: protocol.TypeResponse}}
	}
	if chunk <= 0 || len(body) <= chunk {
		return []protocol.Packet{{ID: req.ID, Type: protocol.TypeResponse, Body: body}}
	}

	var out []protocol.Packet
	for len(body) > 0 {
		n := min(chunk, len(body))
		out = append(out, protocol.Packet{ID: req.ID, Type: protocol.TypeResponse, Body: body[:n]})
		body = body[n:]
	}
	return out
}

func (s *Server) write(conn net.Conn, wmu *sync.Mutex, packets []protocol.Packet) error {
	wmu.Lock()
	defer wmu.Unlock()
	for _, p := range packets {
		data, err := protocol.Encode(p, protocol.UTF8)
		if err != nil {
			return err
		}
		if _, err := conn.Write(data); err != nil {
			return err
		}
	}
	return nil
}
