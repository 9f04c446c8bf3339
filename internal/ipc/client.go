package ipc

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/google/uuid"
)

// Dial connects to the control socket at path.
func Dial(path string) (*Conn, error) {
	nc, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", path, err)
	}
	return NewConn(nc), nil
}

// Call sends a request envelope of typ with the given payload and waits for
// the matching response, skipping any server-initiated TypeStatus pushes
// that arrive first.
func (c *Conn) Call(typ string, payload any) (Envelope, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	req := Envelope{ID: uuid.NewString(), Type: typ, Payload: data}
	if err := c.Send(req); err != nil {
		return Envelope{}, err
	}
	for {
		resp, err := c.Recv()
		if err != nil {
			return Envelope{}, err
		}
		if resp.ID != req.ID {
			continue
		}
		if resp.Type == TypeError {
			return resp, fmt.Errorf("ipc: %s", resp.Error)
		}
		return resp, nil
	}
}

func marshalPayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}
