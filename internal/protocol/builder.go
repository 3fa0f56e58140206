package protocol

import (
	"bytes"
	"encoding/binary"
)

// PacketBuilder accumulates the little-endian fields of an outgoing packet,
// everything after the size field.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a builder with room for the id and type fields
// plus an empty body.
func NewPacketBuilder() *PacketBuilder {
	b := &PacketBuilder{}
	b.buf.Grow(MinPacketSize)
	return b
}

// WriteInt32 appends a signed 32-bit little-endian integer.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	b.buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(v)))
	return b
}

// WriteBytes appends raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// WriteNull appends the 0x00 packet terminator.
func (b *PacketBuilder) WriteNull() *PacketBuilder {
	b.buf.WriteByte(0)
	return b
}

// BuildWithSize returns the fields prefixed by their length, which is how the
// size field of a packet frames everything after it.
func (b *PacketBuilder) BuildWithSize() []byte {
	data := b.buf.Bytes()
	out := make([]byte, 0, SizeFieldLen+len(data))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	return append(out, data...)
}
