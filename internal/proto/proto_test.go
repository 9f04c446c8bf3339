package proto

import (
	"testing"

	"github.com/breeze-rmm/lanmouse/internal/ioevent"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode(%+v): %v", m, err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(%x): %v", data, err)
	}
	return got
}

func TestRoundTripSimple(t *testing.T) {
	cases := []Message{
		Enter(Left),
		Enter(Bottom),
		Leave(),
		Ack(42),
		Ping(),
		Pong(),
		Disconnect(),
	}
	for _, m := range cases {
		got := roundTrip(t, m)
		if got.Type != m.Type {
			t.Errorf("Type = %v, want %v", got.Type, m.Type)
		}
		if m.Type == TypeEnter && got.Position != m.Position {
			t.Errorf("Position = %v, want %v", got.Position, m.Position)
		}
		if m.Type == TypeAck && got.Ack != m.Ack {
			t.Errorf("Ack = %v, want %v", got.Ack, m.Ack)
		}
	}
}

func TestRoundTripInputEvents(t *testing.T) {
	events := []ioevent.Event{
		ioevent.KeyEvent{Key: 30, Pressed: true},
		ioevent.KeyEvent{Key: 30, Pressed: false},
		ioevent.ModifiersEvent{Depressed: 1, Latched: 2, Locked: 3, Group: 4},
		ioevent.MotionEvent{Dx: 1.5, Dy: -2.25},
		ioevent.ButtonEvent{Button: 272, Pressed: true},
		ioevent.ScrollEvent{Dx: 0, Dy: 3.0},
	}
	for _, e := range events {
		got := roundTrip(t, Input(e))
		if got.Type != TypeInput {
			t.Fatalf("Type = %v, want TypeInput", got.Type)
		}
		if got.Event != e {
			t.Errorf("Event = %#v, want %#v", got.Event, e)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := [][]byte{
		{},
		{byte(TypeEnter)},
		{byte(TypeAck), 1, 2, 3},
		{byte(TypeInput)},
		{byte(TypeInput), 0xFF},
		{0xFF},
	}
	for _, data := range cases {
		if _, err := Decode(data); err == nil {
			t.Errorf("Decode(%x): expected error, got nil", data)
		}
	}
}
