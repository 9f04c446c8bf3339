package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/lanmouse/internal/corectx"
	"github.com/breeze-rmm/lanmouse/internal/logging"
	"github.com/breeze-rmm/lanmouse/internal/registry"
)

var log = logging.L("ipc")

// CaptureController is the subset of capture.Controller the server drives.
type CaptureController interface {
	Release()
}

// EmulationController is the subset of emulation.Controller the server
// drives. There is no process-wide "release all" request in the core
// protocol, so disabling emulation releases every registered handle's stuck
// keys instead of tearing down the backend.
type EmulationController interface {
	ReleaseKeys(h registry.Handle)
}

// Server listens on a Unix domain socket and serves the control protocol.
// The socket's owner/permissions are the only authentication boundary,
// grounded on the teacher's ipc listener minus its HMAC/UID handshake.
type Server struct {
	path    string
	reg     *registry.Registry
	core    *corectx.Context
	capture CaptureController
	emul    EmulationController

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewServer builds a Server that will listen at path once Run is called.
func NewServer(path string, reg *registry.Registry, core *corectx.Context, capture CaptureController, emul EmulationController) *Server {
	return &Server{
		path:    path,
		reg:     reg,
		core:    core,
		capture: capture,
		emul:    emul,
		conns:   make(map[*Conn]struct{}),
	}
}

// Run listens on the configured socket path and serves connections until
// ctx is cancelled. It also runs a status-push loop broadcasting Status
// changes to every connected frontend.
func (s *Server) Run(ctx context.Context) error {
	_ = os.Remove(s.path)
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "unix", s.path)
	if err != nil {
		return fmt.Errorf("ipc: listen %s: %w", s.path, err)
	}
	defer ln.Close()
	if err := os.Chmod(s.path, 0o600); err != nil {
		log.Warn("chmod control socket failed", "path", s.path, "err", err)
	}

	go s.statusPushLoop(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("ipc: accept: %w", err)
			}
		}
		conn := NewConn(nc)
		s.register(conn)
		go s.serve(ctx, conn)
	}
}

func (s *Server) register(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unregister(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) serve(ctx context.Context, c *Conn) {
	defer c.Close()
	defer s.unregister(c)
	for {
		env, err := c.Recv()
		if err != nil {
			return
		}
		resp := s.handle(env)
		if err := c.Send(resp); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Server) handle(env Envelope) Envelope {
	switch env.Type {
	case TypeListClients:
		return s.handleListClients(env)
	case TypeSetCapture:
		return s.handleSetCapture(env)
	case TypeSetEmulation:
		return s.handleSetEmulation(env)
	case TypeRequestRelease:
		return s.handleRequestRelease(env)
	default:
		return errorEnvelope(env.ID, fmt.Errorf("unknown request type %q", env.Type))
	}
}

func (s *Server) handleListClients(env Envelope) Envelope {
	handles := s.reg.AllClients()
	result := ListClientsResult{Clients: make([]ClientInfo, 0, len(handles))}
	for _, h := range handles {
		cfg, ok := s.reg.Config(h)
		if !ok {
			continue
		}
		result.Clients = append(result.Clients, ClientInfo{
			Handle:   uint32(h),
			Hostname: cfg.Hostname,
			Position: cfg.Position.String(),
			Alive:    s.reg.AnyPressed(h) || hasHandle(s.core.ActiveClients(), h),
		})
	}
	return jsonEnvelope(env.ID, TypeListClientsResult, result)
}

func hasHandle(handles []registry.Handle, h registry.Handle) bool {
	for _, x := range handles {
		if x == h {
			return true
		}
	}
	return false
}

func (s *Server) handleSetCapture(env Envelope) Envelope {
	var req SetEnabledRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errorEnvelope(env.ID, fmt.Errorf("decoding payload: %w", err))
	}
	if req.Enabled {
		s.core.NotifyCaptureEnabled()
	} else if s.capture != nil {
		s.capture.Release()
	}
	return ackEnvelope(env.ID)
}

func (s *Server) handleSetEmulation(env Envelope) Envelope {
	var req SetEnabledRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errorEnvelope(env.ID, fmt.Errorf("decoding payload: %w", err))
	}
	if req.Enabled {
		s.core.NotifyEmulationEnabled()
	} else if s.emul != nil {
		for _, h := range s.reg.AllClients() {
			s.emul.ReleaseKeys(h)
		}
	}
	return ackEnvelope(env.ID)
}

func (s *Server) handleRequestRelease(env Envelope) Envelope {
	s.core.RequestRelease()
	return ackEnvelope(env.ID)
}

// statusPushLoop polls published Status/Mode and broadcasts on change, since
// neither corectx.Context nor the controllers expose a change-notification
// channel for these fields beyond the re-enable notifiers.
func (s *Server) statusPushLoop(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var last StatusPush
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := StatusPush{
				CaptureStatus:   s.core.CaptureStatus().String(),
				EmulationStatus: s.core.EmulationStatus().String(),
				Mode:            s.core.GetMode().String(),
			}
			if first || cur != last {
				s.broadcast(cur)
				last = cur
				first = false
			}
		}
	}
}

func (s *Server) broadcast(push StatusPush) {
	env := Envelope{ID: uuid.NewString(), Type: TypeStatus}
	data, err := json.Marshal(push)
	if err != nil {
		log.Warn("marshal status push", "err", err)
		return
	}
	env.Payload = data

	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.Send(env); err != nil {
			log.Debug("status push failed, dropping connection", "err", err)
			_ = c.Close()
		}
	}
}

func jsonEnvelope(id, typ string, payload any) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorEnvelope(id, err)
	}
	return Envelope{ID: id, Type: typ, Payload: data}
}

func ackEnvelope(id string) Envelope {
	return Envelope{ID: id, Type: TypeAck}
}

func errorEnvelope(id string, err error) Envelope {
	if id == "" {
		id = uuid.NewString()
	}
	return Envelope{ID: id, Type: TypeError, Error: err.Error()}
}
