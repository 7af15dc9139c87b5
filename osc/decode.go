package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/scalarwaves/oscquery/errors"
)

// maxBundleDepth bounds recursion on nested bundles from untrusted peers.
const maxBundleDepth = 8

// Decode parses a binary OSC packet. Any structural problem yields an error wrapping
// errors.ErrDecodeFailure; callers on the network path drop the packet.
func Decode(data []byte) (Packet, error) {
	return decodePacket(data, 0)
}

func decodePacket(data []byte, depth int) (Packet, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, decodeErr("packet size %d is not a positive multiple of 4", len(data))
	}
	switch data[0] {
	case '/':
		return decodeMessage(data)
	case '#':
		if depth >= maxBundleDepth {
			return nil, decodeErr("bundle nesting deeper than %d", maxBundleDepth)
		}
		return decodeBundle(data, depth)
	default:
		return nil, decodeErr("packet starts with %q", data[0])
	}
}

func decodeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errors.ErrDecodeFailure, fmt.Sprintf(format, args...))
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) remaining() int { return len(r.data) - r.off }

func (r *reader) readString() (string, error) {
	end := bytes.IndexByte(r.data[r.off:], 0)
	if end < 0 {
		return "", decodeErr("unterminated string at offset %d", r.off)
	}
	s := string(r.data[r.off : r.off+end])
	next := r.off + paddedLen(end)
	if next > len(r.data) {
		return "", decodeErr("string padding overruns packet at offset %d", r.off)
	}
	r.off = next
	return s, nil
}

func (r *reader) readUint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, decodeErr("short read at offset %d", r.off)
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) readUint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, decodeErr("short read at offset %d", r.off)
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) readBlob() (Blob, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	size := int(n)
	if size < 0 || size > r.remaining() {
		return nil, decodeErr("blob of %d bytes overruns packet", n)
	}
	b := make(Blob, size)
	copy(b, r.data[r.off:r.off+size])
	r.off += size
	for r.off%4 != 0 {
		r.off++
	}
	if r.off > len(r.data) {
		return nil, decodeErr("blob padding overruns packet")
	}
	return b, nil
}

func decodeMessage(data []byte) (*Message, error) {
	r := &reader{data: data}
	address, err := r.readString()
	if err != nil {
		return nil, err
	}
	msg := &Message{Address: address}

	// Messages without a type tag string carry no arguments.
	if r.remaining() == 0 {
		return msg, nil
	}
	tags, err := r.readString()
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 || tags[0] != ',' {
		return nil, decodeErr("type tag string %q does not start with ','", tags)
	}

	if len(tags) > 1 {
		msg.Arguments = make([]any, 0, len(tags)-1)
	}
	for _, tag := range []byte(tags[1:]) {
		arg, err := r.readArgument(tag)
		if err != nil {
			return nil, err
		}
		msg.Arguments = append(msg.Arguments, arg)
	}
	return msg, nil
}

func (r *reader) readArgument(tag byte) (any, error) {
	switch tag {
	case 'i':
		v, err := r.readUint32()
		return int32(v), err
	case 'f':
		v, err := r.readUint32()
		return math.Float32frombits(v), err
	case 's', 'S':
		return r.readString()
	case 'b':
		return r.readBlob()
	case 'h':
		v, err := r.readUint64()
		return int64(v), err
	case 't':
		sec, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		frac, err := r.readUint32()
		return TimeTag{Seconds: sec, Fraction: frac}, err
	case 'd':
		v, err := r.readUint64()
		return math.Float64frombits(v), err
	case 'c':
		v, err := r.readUint32()
		return Char(rune(v)), err
	case 'm':
		if r.remaining() < 4 {
			return nil, decodeErr("short MIDI argument at offset %d", r.off)
		}
		m := MIDI{Port: r.data[r.off], Status: r.data[r.off+1], Data1: r.data[r.off+2], Data2: r.data[r.off+3]}
		r.off += 4
		return m, nil
	case 'T':
		return true, nil
	case 'F':
		return false, nil
	case 'N':
		return Nil{}, nil
	case 'I':
		return Infinitum{}, nil
	default:
		return nil, fmt.Errorf("%w: %w %q", errors.ErrDecodeFailure, errors.ErrUnknownType, tag)
	}
}

func decodeBundle(data []byte, depth int) (*Bundle, error) {
	r := &reader{data: data}
	tag, err := r.readString()
	if err != nil {
		return nil, err
	}
	if tag != bundleTag {
		return nil, decodeErr("bundle tag %q", tag)
	}
	sec, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	frac, err := r.readUint32()
	if err != nil {
		return nil, err
	}

	b := &Bundle{Time: TimeTag{Seconds: sec, Fraction: frac}}
	for r.remaining() > 0 {
		n, err := r.readUint32()
		if err != nil {
			return nil, err
		}
		size := int(n)
		if size <= 0 || size > r.remaining() {
			return nil, decodeErr("bundle element of %d bytes overruns packet", n)
		}
		elem, err := decodePacket(r.data[r.off:r.off+size], depth+1)
		if err != nil {
			return nil, err
		}
		r.off += size
		b.Elements = append(b.Elements, elem)
	}
	return b, nil
}
