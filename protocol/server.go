package protocol

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"qatmgr-go/logging"
)

// getPeerPID returns the pid of the process on the other end of a Unix
// domain socket connection via SO_PEERCRED, mirroring the
// getsockopt(SOL_SOCKET, SO_PEERCRED) pattern other daemons in the pack use
// to identify clients without a handshake message. Declared as a package
// variable so tests can substitute a fake.
var getPeerPID = func(conn *net.UnixConn) (int32, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var ucred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return 0, err
	}
	if sockErr != nil {
		return 0, sockErr
	}
	return ucred.Pid, nil
}

// Server listens on a Unix domain socket and dispatches each connection's
// requests against a shared Broker, one goroutine per connection serving
// its requests strictly in order.
type Server struct {
	SocketPath string
	Broker     *Broker
	Debug      bool

	listener net.Listener
}

// Listen creates (or replaces) the Unix socket at SocketPath. Any stale
// socket file left behind by a previous, uncleanly terminated run is
// removed first.
func (s *Server) Listen() error {
	if err := os.Remove(s.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	l, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.SocketPath, err)
	}
	s.listener = l
	return nil
}

// Serve accepts connections until ctx is canceled or the listener errors.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		uconn, ok := conn.(*net.UnixConn)
		if !ok {
			conn.Close()
			continue
		}
		go s.serveConn(uconn)
	}
}

func (s *Server) serveConn(conn *net.UnixConn) {
	defer conn.Close()
	cs := newClientState()

	for {
		frame, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				logging.Error("connection read failed", "error", err)
			}
			break
		}

		pid, err := getPeerPID(conn)
		if err == nil {
			s.Broker.observePID(cs, pid)
		}

		req, err := decodeRequest(frame)
		if err != nil {
			logging.Warn("malformed request frame", "error", err)
			continue
		}

		if s.Debug {
			logging.Debug("request", "type", req.Header.Type, "bytes", fmt.Sprintf("%x", frame))
		}

		resp := Dispatch(s.Broker, cs, req)
		out := Encode(resp)

		if s.Debug {
			logging.Debug("response", "type", resp.Header.Type, "bytes", fmt.Sprintf("%x", out))
		}

		if _, err := conn.Write(out); err != nil {
			logging.Error("connection write failed", "error", err)
			break
		}
	}

	if cs.sectionIndex >= 0 {
		s.Broker.Registry.Release(cs.sectionIndex, cs.pid, cs.sectionName)
	}
}

// readFrame reads one full request frame: the 8-byte header, then exactly
// len(header)-8 more bytes of payload.
func readFrame(conn *net.UnixConn) ([]byte, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return nil, err
	}
	h, err := decodeHeader(hdr)
	if err != nil {
		return nil, err
	}
	if int(h.Len) < HeaderSize {
		return nil, fmt.Errorf("header declares length %d shorter than header itself", h.Len)
	}
	rest := make([]byte, int(h.Len)-HeaderSize)
	if len(rest) > 0 {
		if _, err := io.ReadFull(conn, rest); err != nil {
			return nil, err
		}
	}
	return append(hdr, rest...), nil
}
