package relay

import "log/slog"

// broadcast writes msg once to every connection except the sender. A peer
// that cannot take the bytes right now simply misses them: no retry, no
// queueing, no partial-write completion. A failing peer is left to its own
// read path for removal, so one bad peer never disturbs delivery to the
// rest. Returns the total bytes the transports accepted, for
// instrumentation only.
func broadcast(sender int, msg []byte, reg *Registry, logger *slog.Logger) int {
	total := 0
	reg.Each(func(fd int, c *Conn) {
		if fd == sender {
			return
		}
		n, err := c.tr.Write(msg)
		if err != nil && err != errWouldBlock {
			logger.Warn("broadcast write failed", "fd", fd, "error", err)
		}
		total += n
	})
	return total
}
