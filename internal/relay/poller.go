//go:build linux

package relay

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// maxEvents caps how many readiness events one wait call can return.
const maxEvents = 256

// Poller is a thin epoll wrapper tracking read readiness only. Writes are
// single best-effort attempts, so write readiness is never registered.
//
// An eventfd is registered alongside the sockets so another goroutine can
// wake a blocked Wait (the only blocking call in the whole server).
type Poller struct {
	epfd   int
	wakeFD int
	events []unix.EpollEvent
	logger *slog.Logger
}

func NewPoller(logger *slog.Logger) (*Poller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	p := &Poller{
		epfd:   epfd,
		wakeFD: wakeFD,
		events: make([]unix.EpollEvent, maxEvents),
		logger: logger,
	}
	if err := p.Add(wakeFD); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Add registers fd for read readiness.
func (p *Poller) Add(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

// Remove is best-effort: the fd is being torn down anyway, so a failure is
// only worth a log line.
func (p *Poller) Remove(fd int) {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		p.logger.Warn("epoll deregister failed", "fd", fd, "error", err)
	}
}

// Wait blocks until at least one registered fd is readable and appends the
// ready fds to *fds. Interrupted waits are retried internally; any other
// failure is returned to the caller. A wakeup via Wake may yield an empty
// batch.
func (p *Poller) Wait(fds *[]int) error {
	for {
		n, err := unix.EpollWait(p.epfd, p.events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			fd := int(p.events[i].Fd)
			if fd == p.wakeFD {
				p.drainWake()
				continue
			}
			*fds = append(*fds, fd)
		}
		return nil
	}
}

// Wake unblocks a Wait in progress on another goroutine.
func (p *Poller) Wake() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(p.wakeFD, buf[:]); err != nil && err != unix.EAGAIN {
		p.logger.Warn("poller wake failed", "error", err)
	}
}

func (p *Poller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakeFD, buf[:])
}

func (p *Poller) Close() error {
	unix.Close(p.wakeFD)
	return unix.Close(p.epfd)
}
