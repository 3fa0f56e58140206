package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestEncodeWireLayout(t *testing.T) {
	data, err := Encode(Packet{ID: 42, Type: TypeExecCommand, Body: "info"}, UTF8)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want, _ := hex.DecodeString("0e0000002a00000002000000696e666f0000")
	if !bytes.Equal(data, want) {
		t.Fatalf("wire mismatch:\n got=%x\nwant=%x", data, want)
	}
}

func TestEncodeEmptyBodySize(t *testing.T) {
	data, err := Encode(Packet{ID: 1, Type: TypeResponse}, UTF8)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) != SizeFieldLen+MinPacketSize {
		t.Fatalf("expected %d bytes, got %d", SizeFieldLen+MinPacketSize, len(data))
	}
	if size := binary.LittleEndian.Uint32(data[:4]); size != MinPacketSize {
		t.Fatalf("expected declared size %d, got %d", MinPacketSize, size)
	}
	if !bytes.Equal(data[12:], []byte{0, 0}) {
		t.Fatalf("expected two trailing nulls, got %x", data[12:])
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Packet{
		{ID: 1, Type: TypeAuth, Body: "hunter2"},
		{ID: 7, Type: TypeExecCommand, Body: "status"},
		{ID: 0, Type: TypeResponse, Body: ""},
		{ID: -1, Type: TypeAuthResponse, Body: ""},
		{ID: 2147483647, Type: TypeResponse, Body: "héllo wörld ✓"},
		{ID: 9, Type: TypeResponse, Body: strings.Repeat("x", 4096)},
	}
	for _, in := range cases {
		data, err := Encode(in, UTF8)
		if err != nil {
			t.Fatalf("encode %+v: %v", in, err)
		}
		size := int(binary.LittleEndian.Uint32(data[:4]))
		body, _ := UTF8.Encode(in.Body + "\x00")
		if size != len(body)+PacketOverhead {
			t.Fatalf("size invariant: got %d want %d", size, len(body)+PacketOverhead)
		}
		out, err := Decode(data, UTF8)
		if err != nil {
			t.Fatalf("decode %+v: %v", in, err)
		}
		if out != in {
			t.Fatalf("round trip mismatch: got=%+v want=%+v", out, in)
		}
	}
}

func TestDecodeStripsEmbeddedNulls(t *testing.T) {
	b := NewPacketBuilder()
	b.WriteInt32(0).WriteInt32(int32(TypeResponse)).WriteBytes([]byte{0x00, 0x01, 0x00, 0x00})
	p, err := Decode(b.BuildWithSize(), UTF8)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !p.IsDummy() {
		t.Fatalf("expected sentinel packet, got %+v", p)
	}
}

func TestDecodeMalformed(t *testing.T) {
	full, _ := Encode(Packet{ID: 3, Type: TypeResponse, Body: "abc"}, UTF8)
	cases := map[string][]byte{
		"empty":            nil,
		"three bytes":      {1, 2, 3},
		"truncated body":   full[:len(full)-1],
		"size below ids":   {4, 0, 0, 0, 1, 0, 0, 0},
		"negative size":    {0xff, 0xff, 0xff, 0xff, 1, 0, 0, 0, 0, 0, 0, 0},
		"header truncated": full[:10],
	}
	for name, buf := range cases {
		if _, err := Decode(buf, UTF8); !errors.Is(err, ErrMalformedPacket) {
			t.Fatalf("%s: expected ErrMalformedPacket, got %v", name, err)
		}
	}
}

func TestIsDummy(t *testing.T) {
	if !NewDummy().IsDummy() {
		t.Fatal("NewDummy must be recognized as a sentinel")
	}
	if (Packet{ID: 1, Body: "\x01"}).IsDummy() {
		t.Fatal("non-zero id is not a sentinel")
	}
	if (Packet{ID: 0, Body: ""}).IsDummy() {
		t.Fatal("empty body is not a sentinel")
	}
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("windows-1252")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	data, err := Encode(Packet{ID: 5, Type: TypeExecCommand, Body: "café"}, c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// é is a single byte in windows-1252
	if size := binary.LittleEndian.Uint32(data[:4]); size != 4+1+PacketOverhead {
		t.Fatalf("unexpected size %d", size)
	}
	p, err := Decode(data, c)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Body != "café" {
		t.Fatalf("body mismatch: %q", p.Body)
	}

	if c, err := CodecByName(""); err != nil || c != UTF8 {
		t.Fatalf("empty name should select UTF-8, got %v %v", c, err)
	}
	if _, err := CodecByName("no-such-charset"); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}
