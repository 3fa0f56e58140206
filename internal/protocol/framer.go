package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"iter"
)

const defaultReadChunk = 4096

// Receiver is the byte source a Framer reads from. A return of 0 bytes with a
// nil error marks the end of the stream.
type Receiver interface {
	Receive(buf []byte) (int, error)
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(buf []byte) (int, error)

// Receive implements Receiver.
func (f ReceiverFunc) Receive(buf []byte) (int, error) {
	return f(buf)
}

// ReaderReceiver adapts an io.Reader, mapping io.EOF to the end of stream.
func ReaderReceiver(r io.Reader) Receiver {
	return ReceiverFunc(func(buf []byte) (int, error) {
		n, err := r.Read(buf)
		if err == io.EOF {
			return n, nil
		}
		return n, err
	})
}

// Framer turns a byte stream into decoded packets. Partial packets stay
// buffered across reads; a Framer serves exactly one connection.
type Framer struct {
	src   Receiver
	codec TextCodec
	buf   []byte
	chunk []byte
	err   error
}

// NewFramer creates a framer reading from src.
func NewFramer(src Receiver, codec TextCodec) *Framer {
	if codec == nil {
		codec = UTF8
	}
	return &Framer{
		src:   src,
		codec: codec,
		chunk: make([]byte, defaultReadChunk),
	}
}

// Buffered returns the number of bytes held but not yet framed.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Next returns the next packet. It returns io.EOF when the stream ended on a
// packet boundary and io.ErrUnexpectedEOF when it ended inside a packet.
// Decode errors wrap ErrMalformedPacket and are terminal.
func (f *Framer) Next() (Packet, error) {
	for {
		if len(f.buf) >= SizeFieldLen {
			size := int32(binary.LittleEndian.Uint32(f.buf[:SizeFieldLen]))
			if size < 0 || size > MaxPacketSize {
				f.err = fmt.Errorf("%w: declared size %d out of range", ErrMalformedPacket, size)
				return Packet{}, f.err
			}

			total := SizeFieldLen + int(size)
			if len(f.buf) >= total {
				p, err := Decode(f.buf[:total], f.codec)
				f.advance(total)
				if err != nil {
					f.err = err
					return Packet{}, err
				}
				return p, nil
			}
		}

		if f.err != nil {
			if f.err == io.EOF && len(f.buf) > 0 {
				return Packet{}, io.ErrUnexpectedEOF
			}
			return Packet{}, f.err
		}

		n, err := f.src.Receive(f.chunk)
		if n > 0 {
			f.buf = append(f.buf, f.chunk[:n]...)
		}
		switch {
		case err != nil:
			f.err = err
		case n == 0:
			f.err = io.EOF
		}
	}
}

// All yields packets until the stream ends. A clean end of stream is not
// reported as an error.
func (f *Framer) All() iter.Seq2[Packet, error] {
	return func(yield func(Packet, error) bool) {
		for {
			p, err := f.Next()
			if err == io.EOF {
				return
			}
			if !yield(p, err) || err != nil {
				return
			}
		}
	}
}

func (f *Framer) advance(n int) {
	f.buf = f.buf[n:]
	if len(f.buf) == 0 {
		f.buf = nil
	}
}
