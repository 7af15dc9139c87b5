package osc

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/scalarwaves/oscquery/errors"
)

const bundleTag = "#bundle"

// TypeTag returns the OSC type tag for a Go argument value.
func TypeTag(arg any) (byte, error) {
	switch v := arg.(type) {
	case int32:
		return 'i', nil
	case float32:
		return 'f', nil
	case string:
		return 's', nil
	case Blob, []byte:
		return 'b', nil
	case int64:
		return 'h', nil
	case TimeTag:
		return 't', nil
	case float64:
		return 'd', nil
	case Char:
		return 'c', nil
	case MIDI:
		return 'm', nil
	case bool:
		if v {
			return 'T', nil
		}
		return 'F', nil
	case Nil, nil:
		return 'N', nil
	case Infinitum:
		return 'I', nil
	default:
		return 0, fmt.Errorf("%w: %T", errors.ErrUnknownType, arg)
	}
}

// Encode serializes a packet to its binary form.
func Encode(p Packet) ([]byte, error) {
	switch v := p.(type) {
	case *Message:
		return v.MarshalBinary()
	case *Bundle:
		return v.MarshalBinary()
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("unsupported packet %T", p), "osc", "Encode", "packet dispatch")
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *Message) MarshalBinary() ([]byte, error) {
	tags, err := m.TypeTags()
	if err != nil {
		return nil, errors.WrapInvalid(err, "osc", "Message.MarshalBinary", "type tags")
	}

	buf := make([]byte, 0, paddedLen(len(m.Address))+paddedLen(len(tags))+8*len(m.Arguments))
	buf = appendString(buf, m.Address)
	buf = appendString(buf, tags)

	for _, arg := range m.Arguments {
		switch v := arg.(type) {
		case int32:
			buf = binary.BigEndian.AppendUint32(buf, uint32(v))
		case float32:
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(v))
		case string:
			buf = appendString(buf, v)
		case Blob:
			buf = appendBlob(buf, v)
		case []byte:
			buf = appendBlob(buf, v)
		case int64:
			buf = binary.BigEndian.AppendUint64(buf, uint64(v))
		case TimeTag:
			buf = binary.BigEndian.AppendUint32(buf, v.Seconds)
			buf = binary.BigEndian.AppendUint32(buf, v.Fraction)
		case float64:
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
		case Char:
			buf = binary.BigEndian.AppendUint32(buf, uint32(v))
		case MIDI:
			buf = append(buf, v.Port, v.Status, v.Data1, v.Data2)
		}
	}
	return buf, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (b *Bundle) MarshalBinary() ([]byte, error) {
	buf := appendString(nil, bundleTag)
	buf = binary.BigEndian.AppendUint32(buf, b.Time.Seconds)
	buf = binary.BigEndian.AppendUint32(buf, b.Time.Fraction)

	for _, e := range b.Elements {
		data, err := Encode(e)
		if err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}
	return buf, nil
}

// paddedLen is the size of a null-terminated string of n bytes padded to 4.
func paddedLen(n int) int {
	return (n + 4) &^ 3
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	for pad := paddedLen(len(s)) - len(s); pad > 0; pad-- {
		buf = append(buf, 0)
	}
	return buf
}

func appendBlob(buf []byte, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	buf = append(buf, b...)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}
