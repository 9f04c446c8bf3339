// Package proto implements the wire-format protocol event:
//
//	Enter(Position) | Leave | Ack(u64) | Input(Event) | Ping | Pong | Disconnect
//
// The byte layout is this repo's own small fixed-width binary framing,
// built around the tags and fields the core state machines require.
package proto

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/breeze-rmm/lanmouse/internal/ioevent"
)

// Position is the screen edge a client is configured at.
type Position uint8

const (
	Left Position = iota
	Right
	Top
	Bottom
)

func (p Position) String() string {
	switch p {
	case Left:
		return "left"
	case Right:
		return "right"
	case Top:
		return "top"
	case Bottom:
		return "bottom"
	default:
		return fmt.Sprintf("position(%d)", uint8(p))
	}
}

// EventType tags a Message on the wire.
type EventType byte

const (
	TypeEnter EventType = iota + 1
	TypeLeave
	TypeAck
	TypeInput
	TypePing
	TypePong
	TypeDisconnect
)

func (t EventType) String() string {
	switch t {
	case TypeEnter:
		return "Enter"
	case TypeLeave:
		return "Leave"
	case TypeAck:
		return "Ack"
	case TypeInput:
		return "Input"
	case TypePing:
		return "Ping"
	case TypePong:
		return "Pong"
	case TypeDisconnect:
		return "Disconnect"
	default:
		return fmt.Sprintf("EventType(%d)", byte(t))
	}
}

// Message is the decoded form of a protocol event. Only the fields relevant
// to Type are meaningful:
//
//	TypeEnter      -> Position
//	TypeAck        -> Ack (opaque; its mere presence is what matters, not
//	                  its value)
//	TypeInput      -> Event
//	Leave/Ping/Pong/Disconnect carry no payload
type Message struct {
	Type     EventType
	Position Position
	Ack      uint64
	Event    ioevent.Event
}

func Enter(pos Position) Message  { return Message{Type: TypeEnter, Position: pos} }
func Leave() Message               { return Message{Type: TypeLeave} }
func Ack(token uint64) Message     { return Message{Type: TypeAck, Ack: token} }
func Input(e ioevent.Event) Message { return Message{Type: TypeInput, Event: e} }
func Ping() Message                { return Message{Type: TypePing} }
func Pong() Message                { return Message{Type: TypePong} }
func Disconnect() Message          { return Message{Type: TypeDisconnect} }

// event kind tags used only inside an Input payload.
const (
	kindKey byte = iota + 1
	kindModifiers
	kindMotion
	kindButton
	kindScroll
)

// Encode serializes a Message to its wire form.
func Encode(m Message) ([]byte, error) {
	buf := []byte{byte(m.Type)}
	switch m.Type {
	case TypeEnter:
		buf = append(buf, byte(m.Position))
	case TypeAck:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], m.Ack)
		buf = append(buf, tmp[:]...)
	case TypeInput:
		payload, err := encodeEvent(m.Event)
		if err != nil {
			return nil, err
		}
		buf = append(buf, payload...)
	case TypeLeave, TypePing, TypePong, TypeDisconnect:
		// no payload
	default:
		return nil, fmt.Errorf("proto: encode: unknown event type %d", m.Type)
	}
	return buf, nil
}

// Decode parses a wire message produced by Encode.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, fmt.Errorf("proto: decode: empty datagram")
	}
	typ := EventType(data[0])
	rest := data[1:]
	switch typ {
	case TypeEnter:
		if len(rest) < 1 {
			return Message{}, fmt.Errorf("proto: decode: short Enter")
		}
		return Message{Type: TypeEnter, Position: Position(rest[0])}, nil
	case TypeLeave, TypePing, TypePong, TypeDisconnect:
		return Message{Type: typ}, nil
	case TypeAck:
		if len(rest) < 8 {
			return Message{}, fmt.Errorf("proto: decode: short Ack")
		}
		return Message{Type: TypeAck, Ack: binary.BigEndian.Uint64(rest[:8])}, nil
	case TypeInput:
		ev, err := decodeEvent(rest)
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeInput, Event: ev}, nil
	default:
		return Message{}, fmt.Errorf("proto: decode: unknown event type %d", typ)
	}
}

func encodeEvent(e ioevent.Event) ([]byte, error) {
	switch v := e.(type) {
	case ioevent.KeyEvent:
		buf := make([]byte, 1+4+1)
		buf[0] = kindKey
		binary.BigEndian.PutUint32(buf[1:5], v.Key)
		buf[5] = boolByte(v.Pressed)
		return buf, nil
	case ioevent.ModifiersEvent:
		buf := make([]byte, 1+16)
		buf[0] = kindModifiers
		binary.BigEndian.PutUint32(buf[1:5], v.Depressed)
		binary.BigEndian.PutUint32(buf[5:9], v.Latched)
		binary.BigEndian.PutUint32(buf[9:13], v.Locked)
		binary.BigEndian.PutUint32(buf[13:17], v.Group)
		return buf, nil
	case ioevent.MotionEvent:
		buf := make([]byte, 1+16)
		buf[0] = kindMotion
		putFloat(buf[1:9], v.Dx)
		putFloat(buf[9:17], v.Dy)
		return buf, nil
	case ioevent.ButtonEvent:
		buf := make([]byte, 1+4+1)
		buf[0] = kindButton
		binary.BigEndian.PutUint32(buf[1:5], v.Button)
		buf[5] = boolByte(v.Pressed)
		return buf, nil
	case ioevent.ScrollEvent:
		buf := make([]byte, 1+16)
		buf[0] = kindScroll
		putFloat(buf[1:9], v.Dx)
		putFloat(buf[9:17], v.Dy)
		return buf, nil
	default:
		return nil, fmt.Errorf("proto: encode: unknown ioevent type %T", e)
	}
}

func decodeEvent(data []byte) (ioevent.Event, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("proto: decode: empty input payload")
	}
	kind, rest := data[0], data[1:]
	switch kind {
	case kindKey:
		if len(rest) < 5 {
			return nil, fmt.Errorf("proto: decode: short key event")
		}
		return ioevent.KeyEvent{
			Key:     binary.BigEndian.Uint32(rest[0:4]),
			Pressed: rest[4] != 0,
		}, nil
	case kindModifiers:
		if len(rest) < 16 {
			return nil, fmt.Errorf("proto: decode: short modifiers event")
		}
		return ioevent.ModifiersEvent{
			Depressed: binary.BigEndian.Uint32(rest[0:4]),
			Latched:   binary.BigEndian.Uint32(rest[4:8]),
			Locked:    binary.BigEndian.Uint32(rest[8:12]),
			Group:     binary.BigEndian.Uint32(rest[12:16]),
		}, nil
	case kindMotion:
		if len(rest) < 16 {
			return nil, fmt.Errorf("proto: decode: short motion event")
		}
		return ioevent.MotionEvent{Dx: getFloat(rest[0:8]), Dy: getFloat(rest[8:16])}, nil
	case kindButton:
		if len(rest) < 5 {
			return nil, fmt.Errorf("proto: decode: short button event")
		}
		return ioevent.ButtonEvent{
			Button:  binary.BigEndian.Uint32(rest[0:4]),
			Pressed: rest[4] != 0,
		}, nil
	case kindScroll:
		if len(rest) < 16 {
			return nil, fmt.Errorf("proto: decode: short scroll event")
		}
		return ioevent.ScrollEvent{Dx: getFloat(rest[0:8]), Dy: getFloat(rest[8:16])}, nil
	default:
		return nil, fmt.Errorf("proto: decode: unknown input kind %d", kind)
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func putFloat(b []byte, f float64) {
	binary.BigEndian.PutUint64(b, math.Float64bits(f))
}

func getFloat(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}
