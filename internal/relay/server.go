//go:build linux

package relay

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type Config struct {
	// Port to bind on 127.0.0.1. Zero asks the kernel for an ephemeral
	// port; Port() reports the one actually bound.
	Port uint16
}

// Server is the whole relay: one listening socket, one epoll instance and
// one goroutine driving both. All sockets are nonblocking; the only call
// that ever blocks is the poller's wait.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	poller   *Poller
	registry *Registry
	listenFD int
	port     uint16
	stopping atomic.Bool
}

func NewServer(cfg Config, logger *slog.Logger, metrics *Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		registry: NewRegistry(),
		listenFD: -1,
	}
}

// Start binds the listening socket and registers it with the poller. Any
// failure here is fatal to startup and is returned to the caller.
func (s *Server) Start() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: int(s.cfg.Port), Addr: [4]byte{127, 0, 0, 1}}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return fmt.Errorf("bind 127.0.0.1:%d: %w", s.cfg.Port, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return fmt.Errorf("listen: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("getsockname: %w", err)
	}
	s.port = uint16(bound.(*unix.SockaddrInet4).Port)

	poller, err := NewPoller(s.logger)
	if err != nil {
		unix.Close(fd)
		return err
	}
	if err := poller.Add(fd); err != nil {
		poller.Close()
		unix.Close(fd)
		return fmt.Errorf("register listener: %w", err)
	}

	s.listenFD = fd
	s.poller = poller
	s.logger.Info("listening", "addr", fmt.Sprintf("127.0.0.1:%d", s.port))
	return nil
}

// Port reports the bound port.
func (s *Server) Port() uint16 {
	return s.port
}

// Run drives the event loop until Stop is called or the poller fails.
func (s *Server) Run() error {
	ready := make([]int, 0, maxEvents)
	for {
		ready = ready[:0]
		if err := s.poller.Wait(&ready); err != nil {
			return err
		}
		if s.stopping.Load() {
			s.shutdown()
			return nil
		}
		for _, fd := range ready {
			if fd == s.listenFD {
				s.accept()
			} else {
				s.handleReadable(fd)
			}
		}
	}
}

// Stop asks Run to exit. Safe to call from another goroutine; teardown of
// the sockets happens on the loop goroutine itself.
func (s *Server) Stop() {
	if !s.stopping.CompareAndSwap(false, true) {
		return
	}
	s.poller.Wake()
}

func (s *Server) shutdown() {
	s.logger.Info("shutting down")
	s.registry.Each(func(fd int, c *Conn) {
		_ = c.tr.Close()
	})
	s.poller.Close()
	unix.Close(s.listenFD)
}

// accept takes one pending connection off the listener. Level-triggered
// epoll re-reports the listener while more are queued, so one accept per
// event is enough. A failed accept never stops the loop.
func (s *Server) accept() {
	nfd, _, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err != unix.EAGAIN {
			s.logger.Warn("accept failed", "error", err)
		}
		return
	}
	if err := s.poller.Add(nfd); err != nil {
		s.logger.Warn("rejecting client, registration failed", "fd", nfd, "error", err)
		unix.Close(nfd)
		return
	}
	s.registry.Insert(nfd, newConn(nfd, fdTransport{fd: nfd}))
	s.metrics.ConnectedClients.Set(float64(s.registry.Len()))
	s.logger.Info("client connected", "fd", nfd)
}

// handleReadable performs a single read for one ready client and, when a
// line completes, fans it out.
func (s *Server) handleReadable(fd int) {
	c := s.registry.Get(fd)
	if c == nil {
		// Stale event for an fd removed earlier in this batch.
		return
	}

	n, err := c.tr.Read(c.buf.writable())
	switch {
	case err == errWouldBlock:
		return
	case err != nil:
		s.logger.Warn("read failed", "fd", fd, "error", err)
		s.remove(fd)
		return
	case n == 0:
		s.logger.Info("client disconnected", "fd", fd)
		s.remove(fd)
		return
	}

	if !c.buf.appendAndScan(n) {
		if c.buf.full() {
			// A full buffer with no newline anywhere: the line is
			// dropped and the client is never told.
			c.buf.reset()
			s.metrics.LinesDropped.Inc()
			s.logger.Warn("oversized line dropped", "fd", fd)
		}
		return
	}

	// Copy the framed region out before compacting so broadcast never
	// needs a second view of this connection's buffer.
	msg := append([]byte(nil), c.buf.framed()...)
	c.buf.compact()
	s.dispatch(fd, msg)
}

// dispatch fans out each complete line in msg as its own broadcast,
// preserving their order. msg always ends with a newline.
func (s *Server) dispatch(sender int, msg []byte) {
	for len(msg) > 0 {
		i := bytes.IndexByte(msg, '\n')
		line := msg[:i+1]
		msg = msg[i+1:]
		sent := broadcast(sender, line, s.registry, s.logger)
		s.metrics.LinesBroadcast.Inc()
		s.metrics.BytesBroadcast.Add(float64(sent))
	}
}

// remove tears one connection down: deregistered, dropped from the
// registry, transport closed. Calling it again for the same fd is a no-op.
func (s *Server) remove(fd int) {
	c := s.registry.Remove(fd)
	if c == nil {
		return
	}
	s.poller.Remove(fd)
	if err := c.tr.Close(); err != nil {
		s.logger.Warn("close failed", "fd", fd, "error", err)
	}
	s.metrics.ConnectedClients.Set(float64(s.registry.Len()))
	s.logger.Info("client removed", "fd", fd)
}
