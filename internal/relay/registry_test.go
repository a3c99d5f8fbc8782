package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_InsertGetRemove(t *testing.T) {
	r := NewRegistry()
	c := newConn(7, nil)

	r.Insert(7, c)
	assert.Equal(t, 1, r.Len())
	assert.Same(t, c, r.Get(7))

	removed := r.Remove(7)
	require.Same(t, c, removed)
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Get(7))
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Insert(3, newConn(3, nil))

	require.NotNil(t, r.Remove(3))
	// A second removal, as from a stale event in the same batch, is a
	// plain no-op.
	assert.Nil(t, r.Remove(3))
	assert.Nil(t, r.Remove(99))
}

func TestRegistry_EachVisitsAll(t *testing.T) {
	r := NewRegistry()
	for _, fd := range []int{4, 5, 6} {
		r.Insert(fd, newConn(fd, nil))
	}

	seen := make(map[int]bool)
	r.Each(func(fd int, c *Conn) {
		assert.Equal(t, fd, c.fd)
		seen[fd] = true
	})
	assert.Equal(t, map[int]bool{4: true, 5: true, 6: true}, seen)
}
