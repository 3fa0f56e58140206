// Package protocol implements the Source RCON wire format: the packet codec,
// the pluggable text codec used for packet bodies, and the stream framer that
// cuts a TCP byte stream into packets. All integers are little-endian signed
// 32-bit values.
package protocol

import "errors"

// PacketType is the packet type field.
type PacketType int32

// Packet types. TypeExecCommand and TypeAuthResponse share a wire value; which
// one a packet is depends on the request it answers.
const (
	TypeResponse     PacketType = 0
	TypeExecCommand  PacketType = 2
	TypeAuthResponse PacketType = 2
	TypeAuth         PacketType = 3
)

func (t PacketType) String() string {
	switch t {
	case TypeResponse:
		return "response"
	case TypeExecCommand:
		return "exec_command"
	case TypeAuth:
		return "auth"
	default:
		return "unknown"
	}
}

const (
	// SizeFieldLen is the length of the leading size field.
	SizeFieldLen = 4

	// HeaderLen covers size, id and type.
	HeaderLen = 12

	// PacketOverhead is added to the encoded body length (which already holds
	// the body terminator) to get the declared size: id + type + trailing pad.
	PacketOverhead = 9

	// MinPacketSize is the declared size of an empty-body packet.
	MinPacketSize = 10

	// MaxPacketSize bounds the declared size accepted by the framer.
	MaxPacketSize = 1 << 20

	// AuthFailedID is the id a server answers with when authentication fails.
	AuthFailedID int32 = -1

	dummyBody = "\x01"
)

// ErrMalformedPacket reports a buffer that cannot hold the packet it declares.
var ErrMalformedPacket = errors.New("protocol: malformed packet")

// Packet is a single RCON packet.
type Packet struct {
	ID   int32
	Type PacketType
	Body string
}

// IsDummy reports whether p is the sentinel packet that terminates a
// multi-packet response. Sentinels never reach callers.
func (p Packet) IsDummy() bool {
	return p.ID == 0 && p.Body == dummyBody
}

// NewDummy returns the sentinel request written after a multi-packet command.
func NewDummy() Packet {
	return Packet{ID: 0, Type: TypeResponse, Body: dummyBody}
}
