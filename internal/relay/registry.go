package relay

// Registry owns the set of live connections, keyed by fd.
//
// Single-writer ownership: the map is only accessed from the event-loop
// goroutine, so no locking is needed. Iteration order is unspecified and
// nothing may depend on it.
type Registry struct {
	conns map[int]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[int]*Conn)}
}

func (r *Registry) Insert(fd int, c *Conn) {
	r.conns[fd] = c
}

// Remove deletes and returns the connection for fd. Removing an fd that is
// already gone is a no-op returning nil; a readiness event for a dead fd
// can legitimately land in the same wait batch as the one that removed it.
func (r *Registry) Remove(fd int) *Conn {
	c, ok := r.conns[fd]
	if !ok {
		return nil
	}
	delete(r.conns, fd)
	return c
}

func (r *Registry) Get(fd int) *Conn {
	return r.conns[fd]
}

func (r *Registry) Len() int {
	return len(r.conns)
}

// Each visits every live connection.
func (r *Registry) Each(fn func(fd int, c *Conn)) {
	for fd, c := range r.conns {
		fn(fd, c)
	}
}
