package relay

import "errors"

// errWouldBlock is returned by a transport when the operation cannot
// proceed right now; the event loop treats it as "wait for the next
// readiness notification", never as a failure.
var errWouldBlock = errors.New("operation would block")

// transport is one end of a reliable ordered byte stream. Calls must never
// block the event loop; both Read and Write surface errWouldBlock instead.
type transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Conn is one accepted client: its identifier, its stream and the bytes
// accumulated toward the next complete line. A Conn is only ever touched
// from the event-loop goroutine.
type Conn struct {
	fd  int
	tr  transport
	buf lineBuffer
}

func newConn(fd int, tr transport) *Conn {
	return &Conn{fd: fd, tr: tr}
}
