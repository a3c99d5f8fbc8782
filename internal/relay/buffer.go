package relay

// bufferSize is the fixed capacity of a connection's line buffer. A line
// that grows past it without a newline is dropped.
const bufferSize = 256

// lineBuffer accumulates bytes read from one connection until at least one
// newline-terminated line is present.
//
// filled counts the valid bytes from index 0; lineEnd is one past the last
// newline found in the valid region, or 0 when no line is pending.
// 0 <= lineEnd <= filled <= bufferSize always holds.
type lineBuffer struct {
	buf     [bufferSize]byte
	filled  int
	lineEnd int
}

// writable is the free region the next read should copy into.
func (b *lineBuffer) writable() []byte {
	return b.buf[b.filled:]
}

func (b *lineBuffer) full() bool {
	return b.filled == bufferSize
}

// appendAndScan extends the valid region by n freshly read bytes and looks
// for the last newline in the whole valid region. It reports whether at
// least one complete line is now pending.
func (b *lineBuffer) appendAndScan(n int) bool {
	b.filled += n
	for i := b.filled - 1; i >= 0; i-- {
		if b.buf[i] == '\n' {
			b.lineEnd = i + 1
			break
		}
	}
	return b.lineEnd > 0
}

// framed is the pending region ending at the last discovered newline.
func (b *lineBuffer) framed() []byte {
	return b.buf[:b.lineEnd]
}

// compact moves any bytes after the last newline to the front so the next
// read appends to them. Bytes at or before the newline are gone for good.
func (b *lineBuffer) compact() {
	if b.lineEnd < b.filled {
		b.filled = copy(b.buf[:], b.buf[b.lineEnd:b.filled])
	} else {
		b.filled = 0
	}
	b.lineEnd = 0
}

// reset discards everything buffered. Used when the buffer fills without a
// newline ever showing up.
func (b *lineBuffer) reset() {
	b.filled = 0
	b.lineEnd = 0
}
