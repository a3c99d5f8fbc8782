//go:build linux

package relay

import "golang.org/x/sys/unix"

// fdTransport adapts a nonblocking socket fd to the transport interface.
type fdTransport struct {
	fd int
}

func (t fdTransport) Read(p []byte) (int, error) {
	n, err := unix.Read(t.fd, p)
	if err == unix.EAGAIN {
		return 0, errWouldBlock
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

func (t fdTransport) Write(p []byte) (int, error) {
	n, err := unix.Write(t.fd, p)
	if err == unix.EAGAIN {
		return 0, errWouldBlock
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

func (t fdTransport) Close() error {
	return unix.Close(t.fd)
}
