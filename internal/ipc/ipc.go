// Package ipc implements the frontend control protocol: a length-prefixed
// JSON envelope over a Unix domain socket, grounded on the teacher's
// internal/ipc (Envelope, length-prefixed Conn.Send/Recv), trimmed of its
// HMAC/UID-handshake machinery since the socket's own file permissions are
// the trust boundary for a control channel that never leaves the host.
package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
)

const maxEnvelopeSize = 1 << 20 // 1MiB, generous for this protocol's tiny payloads

// Envelope is the wire message exchanged over the control socket.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Request/response type tags.
const (
	TypeListClients       = "list_clients"
	TypeListClientsResult = "list_clients_result"
	TypeSetCapture        = "set_capture_enabled"
	TypeSetEmulation      = "set_emulation_enabled"
	TypeRequestRelease    = "request_release"
	TypeAck               = "ack"
	TypeStatus            = "status"
	TypeError             = "error"
)

// ClientInfo describes one registered peer for TypeListClientsResult.
type ClientInfo struct {
	Handle   uint32 `json:"handle"`
	Hostname string `json:"hostname"`
	Position string `json:"position"`
	Alive    bool   `json:"alive"`
}

// ListClientsResult is the payload of TypeListClientsResult.
type ListClientsResult struct {
	Clients []ClientInfo `json:"clients"`
}

// SetEnabledRequest is the payload of TypeSetCapture/TypeSetEmulation.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// StatusPush is the payload of a server-initiated TypeStatus envelope.
type StatusPush struct {
	CaptureStatus   string `json:"capture_status"`
	EmulationStatus string `json:"emulation_status"`
	Mode            string `json:"mode"`
}

// Conn wraps net.Conn with 4-byte-big-endian-length-prefixed JSON framing.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader
}

// NewConn wraps nc for framed Envelope exchange.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// Send writes env as a length-prefixed JSON frame.
func (c *Conn) Send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ipc: marshal: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := c.nc.Write(header[:]); err != nil {
		return fmt.Errorf("ipc: write header: %w", err)
	}
	if _, err := c.nc.Write(data); err != nil {
		return fmt.Errorf("ipc: write body: %w", err)
	}
	return nil
}

// Recv reads the next length-prefixed JSON frame.
func (c *Conn) Recv() (Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return Envelope{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxEnvelopeSize {
		return Envelope{}, fmt.Errorf("ipc: envelope of %d bytes exceeds limit", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return Envelope{}, fmt.Errorf("ipc: unmarshal: %w", err)
	}
	return env, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// Decode unmarshals env's Payload into v.
func (env Envelope) Decode(v any) error {
	return json.Unmarshal(env.Payload, v)
}
