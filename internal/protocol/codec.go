package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// TextCodec converts packet bodies between strings and wire bytes.
type TextCodec interface {
	Encode(s string) ([]byte, error)
	Decode(b []byte) (string, error)
}

// EncodingCodec adapts a golang.org/x/text encoding to TextCodec.
type EncodingCodec struct {
	name string
	enc  encoding.Encoding
}

// NewEncodingCodec wraps enc under a display name.
func NewEncodingCodec(name string, enc encoding.Encoding) *EncodingCodec {
	return &EncodingCodec{name: name, enc: enc}
}

// UTF8 is the default body codec.
var UTF8 TextCodec = NewEncodingCodec("utf-8", unicode.UTF8)

// CodecByName resolves a WHATWG encoding label such as "utf-8",
// "windows-1252" or "latin1". An empty name selects UTF-8.
func CodecByName(name string) (TextCodec, error) {
	if strings.TrimSpace(name) == "" {
		return UTF8, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown text encoding %q: %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = name
	}
	return NewEncodingCodec(canonical, enc), nil
}

// Encode implements TextCodec.
func (c *EncodingCodec) Encode(s string) ([]byte, error) {
	return c.enc.NewEncoder().Bytes([]byte(s))
}

// Decode implements TextCodec.
func (c *EncodingCodec) Decode(b []byte) (string, error) {
	out, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// String returns the codec name.
func (c *EncodingCodec) String() string {
	return c.name
}

// Encode serializes p as size | id | type | body | NUL | NUL.
func Encode(p Packet, codec TextCodec) ([]byte, error) {
	if codec == nil {
		codec = UTF8
	}
	body, err := codec.Encode(p.Body + "\x00")
	if err != nil {
		return nil, fmt.Errorf("failed to encode packet body: %w", err)
	}

	b := NewPacketBuilder()
	b.WriteInt32(p.ID)
	b.WriteInt32(int32(p.Type))
	b.WriteBytes(body)
	b.WriteNull()
	return b.BuildWithSize(), nil
}

// Decode parses one packet from buf, which starts at the size field.
func Decode(buf []byte, codec TextCodec) (Packet, error) {
	if codec == nil {
		codec = UTF8
	}
	if len(buf) < SizeFieldLen {
		return Packet{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPacket, len(buf), SizeFieldLen)
	}

	size := int32(binary.LittleEndian.Uint32(buf[0:4]))
	if int64(size) > int64(len(buf)-SizeFieldLen) {
		return Packet{}, fmt.Errorf("%w: declared size %d exceeds %d available bytes", ErrMalformedPacket, size, len(buf)-SizeFieldLen)
	}
	if size < HeaderLen-SizeFieldLen {
		return Packet{}, fmt.Errorf("%w: declared size %d too small for id and type", ErrMalformedPacket, size)
	}

	p := Packet{
		ID:   int32(binary.LittleEndian.Uint32(buf[4:8])),
		Type: PacketType(int32(binary.LittleEndian.Uint32(buf[8:12]))),
	}

	body, err := codec.Decode(buf[HeaderLen : SizeFieldLen+int(size)])
	if err != nil {
		return Packet{}, fmt.Errorf("%w: body: %v", ErrMalformedPacket, err)
	}
	p.Body = strings.ReplaceAll(body, "\x00", "")

	return p, nil
}
