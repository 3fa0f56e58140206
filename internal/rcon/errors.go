package rcon

import (
	"errors"

	"github.com/energizer-project/rconctl/internal/network"
)

var (
	// ErrInvalidArgument is returned before any I/O for unusable input.
	ErrInvalidArgument = network.ErrInvalidArgument

	// ErrAuthenticationFailed means the server answered an auth request with
	// id -1. Authenticate reports it as false instead of an error.
	ErrAuthenticationFailed = errors.New("rcon: authentication failed")

	// ErrUnexpectedPacket is a packet that arrived with nothing in flight.
	ErrUnexpectedPacket = errors.New("rcon: unexpected packet")

	// ErrConnectionClosed resolves every operation still queued when the
	// connection ends.
	ErrConnectionClosed = errors.New("rcon: connection closed")

	// ErrNotConnected is returned by requests issued while disconnected.
	ErrNotConnected = errors.New("rcon: not connected")
)
