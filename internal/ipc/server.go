//go:build linux

package ipc

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/oidc-agent/agent/internal/agenterr"
	"github.com/oidc-agent/agent/internal/logger"
)

// Handler processes one decoded Request and returns the value to place in
// Response.Result, or an error to report as a failure response. Handlers
// never see framing; AgentLoop supplies one handler per verb.
type Handler func(ctx context.Context, raw json.RawMessage) (any, error)

// Server is IpcServer: it owns the listening socket and dispatches each
// connection's requests to registered verb Handlers (spec §4.8).
type Server struct {
	listener *net.UnixListener
	handlers map[string]Handler

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Listen binds a unix-domain stream socket at path (spec §6 "unix-domain
// stream socket in a user-private directory with 0700 permissions; the
// socket file itself 0600"). The parent directory is created if absent.
func Listen(path string) (*Server, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, agenterr.Wrap(agenterr.IOError, "create socket directory", err)
	}
	_ = os.Remove(path) // a stale socket from a crashed prior run

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.IOError, "resolve socket address", err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.IOError, "bind socket", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		_ = ln.Close()
		return nil, agenterr.Wrap(agenterr.IOError, "chmod socket", err)
	}

	return &Server{
		listener: ln,
		handlers: map[string]Handler{},
		conns:    map[net.Conn]struct{}{},
	}, nil
}

// Handle registers handler for verb. Must be called before Serve.
func (s *Server) Handle(verb string, handler Handler) {
	s.handlers[verb] = handler
}

// Close stops accepting and closes every open connection (spec §4.9
// "stop accepting ... close the socket").
func (s *Server) Close() error {
	err := s.listener.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	return err
}

// Serve accepts connections until ctx is cancelled or the listener closes.
// Each connection is served on its own goroutine per AgentLoop's cooperative
// suspension model (spec §5: blocking only happens at network suspension
// points inside handlers, never in the accept loop itself).
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return agenterr.Wrap(agenterr.IOError, "accept", err)
			}
		}
		if err := authorizePeer(conn); err != nil {
			logger.Warnf("rejected IPC peer: %v", err)
			_ = conn.Close()
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn *net.UnixConn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		payload, err := readFrame(conn)
		if err != nil {
			if agenterr.KindOf(err) == agenterr.FrameTooLarge {
				resp, _ := json.Marshal(failureResponse(err))
				_ = writeFrame(conn, resp)
			}
			return // connection close, EOF, or frame error: spec §4.8/§6
		}

		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			resp, _ := json.Marshal(failureResponse(agenterr.Wrap(agenterr.FormatInvalid, "malformed request", err)))
			_ = writeFrame(conn, resp)
			continue
		}
		req.Args = payload

		resp := s.dispatch(ctx, &req)
		out, err := json.Marshal(resp)
		if err != nil {
			logger.Errorf("marshal response: %v", err)
			return
		}
		if err := writeFrame(conn, out); err != nil {
			return
		}
	}
}

// dispatch runs the handler for req.Verb. Requests on a single connection
// are processed strictly in order (spec §5 "responses on that connection
// are emitted in order"); serveConn's read-dispatch-write loop is
// sequential by construction.
func (s *Server) dispatch(ctx context.Context, req *Request) Response {
	h, ok := s.handlers[req.Verb]
	if !ok {
		return failureResponse(agenterr.New(agenterr.ArgInvalid, "unknown verb: "+req.Verb))
	}
	result, err := h(ctx, req.Args)
	if err != nil {
		return failureResponse(err)
	}
	return successResponse(result)
}

// authorizePeer enforces spec §4.8 "only processes with the same effective
// user ID as the agent may connect" using SO_PEERCRED.
func authorizePeer(conn *net.UnixConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return agenterr.Wrap(agenterr.IOError, "inspect peer connection", err)
	}
	var cred *syscall.Ucred
	var credErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, credErr = syscall.GetsockoptUcred(int(fd), syscall.SOL_SOCKET, syscall.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return agenterr.Wrap(agenterr.IOError, "read peer credentials", ctrlErr)
	}
	if credErr != nil {
		return agenterr.Wrap(agenterr.IOError, "read peer credentials", credErr)
	}
	if int(cred.Uid) != os.Geteuid() {
		return agenterr.New(agenterr.UnauthorizedPeer, "peer does not share the agent's effective UID")
	}
	return nil
}
