package ipc

import (
	"net"
	"testing"
)

func TestConnRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	sc := NewConn(server)
	cc := NewConn(client)
	defer sc.Close()
	defer cc.Close()

	done := make(chan error, 1)
	go func() {
		done <- cc.Send(Envelope{ID: "abc", Type: TypeListClients})
	}()

	env, err := sc.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if env.ID != "abc" || env.Type != TypeListClients {
		t.Errorf("Recv = %+v", env)
	}
}

func TestConnRejectsOversizedFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	sc := NewConn(server)

	go func() {
		var header [4]byte
		header[0] = 0x7f // far beyond maxEnvelopeSize
		client.Write(header[:])
	}()

	if _, err := sc.Recv(); err == nil {
		t.Fatal("expected an error for an oversized frame")
	}
}
