// Package osc implements the OSC 1.0 binary encoding used on every transport of the
// server: UDP datagrams and WebSocket binary frames carry the same packets.
//
// Arguments are plain Go values. The supported set is int32, float32, string, Blob,
// TimeTag, int64, float64, Char, MIDI, bool, Nil and Infinitum.
package osc

import (
	"fmt"
	"strings"
)

// Char is an OSC 'c' argument, a 32-bit ASCII character. It is a distinct type so that
// it does not collide with int32 arguments.
type Char rune

// MIDI is an OSC 'm' argument: port id, status byte, data1, data2.
type MIDI struct {
	Port   uint8
	Status uint8
	Data1  uint8
	Data2  uint8
}

// TimeTag is an NTP-style timestamp: seconds since 1900 and a 32-bit fraction.
type TimeTag struct {
	Seconds  uint32
	Fraction uint32
}

// Immediately is the special time tag meaning "execute on receipt".
var Immediately = TimeTag{Seconds: 0, Fraction: 1}

// Blob is an OSC 'b' argument.
type Blob []byte

// Nil is the OSC 'N' argument.
type Nil struct{}

// Infinitum is the OSC 'I' argument (impulse in OSC 1.1).
type Infinitum struct{}

// Packet is either a *Message or a *Bundle.
type Packet interface {
	packet()
}

// Message is a single OSC message.
type Message struct {
	Address   string
	Arguments []any
}

// Bundle groups packets under one time tag. Elements may themselves be bundles.
type Bundle struct {
	Time     TimeTag
	Elements []Packet
}

func (*Message) packet() {}
func (*Bundle) packet()  {}

// NewMessage builds a message for address with the given arguments.
func NewMessage(address string, args ...any) *Message {
	return &Message{Address: address, Arguments: args}
}

// Append adds arguments to the message.
func (m *Message) Append(args ...any) {
	m.Arguments = append(m.Arguments, args...)
}

// TypeTags returns the type tag string of the message, including the leading comma.
func (m *Message) TypeTags() (string, error) {
	var sb strings.Builder
	sb.WriteByte(',')
	for _, arg := range m.Arguments {
		tag, err := TypeTag(arg)
		if err != nil {
			return "", err
		}
		sb.WriteByte(tag)
	}
	return sb.String(), nil
}

func (m *Message) String() string {
	tags, err := m.TypeTags()
	if err != nil {
		tags = ",?"
	}
	return fmt.Sprintf("%s %s %v", m.Address, tags, m.Arguments)
}

// Walk calls fn for every message in p, flattening nested bundles. The time tag is the
// one of the innermost enclosing bundle, or nil for a bare message.
func Walk(p Packet, fn func(msg *Message, at *TimeTag)) {
	walk(p, nil, fn)
}

func walk(p Packet, at *TimeTag, fn func(*Message, *TimeTag)) {
	switch v := p.(type) {
	case *Message:
		fn(v, at)
	case *Bundle:
		tt := v.Time
		for _, e := range v.Elements {
			walk(e, &tt, fn)
		}
	}
}
