//go:build linux

package relay

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(Config{Port: 0}, discardLogger(), NewMetrics(nil))
	require.NoError(t, s.Start())

	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	t.Cleanup(func() {
		s.Stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("event loop did not stop")
		}
	})
	return s
}

type testClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, s *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(t *testing.T, s string) {
	t.Helper()
	_, err := c.conn.Write([]byte(s))
	require.NoError(t, err)
}

func (c *testClient) recvLine(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func (c *testClient) assertSilent(t *testing.T) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, err := c.r.ReadByte()
	require.ErrorIs(t, err, os.ErrDeadlineExceeded, "expected no data")
}

// waitForClients polls the connected-clients gauge until the loop has
// caught up with connects or disconnects.
func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if int(testutil.ToFloat64(s.metrics.ConnectedClients)) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never reached %d connected clients", n)
}

func TestServer_BroadcastReachesOthersNotSender(t *testing.T) {
	s := startTestServer(t)
	a, b, c := dial(t, s), dial(t, s), dial(t, s)
	waitForClients(t, s, 3)

	a.send(t, "hi\n")

	assert.Equal(t, "hi\n", b.recvLine(t))
	assert.Equal(t, "hi\n", c.recvLine(t))
	a.assertSilent(t)
}

func TestServer_LineSplitAcrossReads(t *testing.T) {
	s := startTestServer(t)
	a, b := dial(t, s), dial(t, s)
	waitForClients(t, s, 2)

	a.send(t, "hel")
	b.assertSilent(t)

	a.send(t, "lo\n")
	assert.Equal(t, "hello\n", b.recvLine(t))
}

func TestServer_TwoLinesOneWriteArriveInOrder(t *testing.T) {
	s := startTestServer(t)
	a, b := dial(t, s), dial(t, s)
	waitForClients(t, s, 2)

	a.send(t, "x\ny\n")

	assert.Equal(t, "x\n", b.recvLine(t))
	assert.Equal(t, "y\n", b.recvLine(t))
}

func TestServer_OversizedLineDropped(t *testing.T) {
	s := startTestServer(t)
	a, b := dial(t, s), dial(t, s)
	waitForClients(t, s, 2)

	a.send(t, strings.Repeat("z", bufferSize))
	b.assertSilent(t)

	// The buffer must be empty again: the next line goes through clean,
	// with no leftover of the dropped bytes.
	time.Sleep(50 * time.Millisecond)
	a.send(t, "ok\n")
	assert.Equal(t, "ok\n", b.recvLine(t))
}

func TestServer_ClosedPeerDoesNotBreakFanout(t *testing.T) {
	s := startTestServer(t)
	a, b, c := dial(t, s), dial(t, s), dial(t, s)
	waitForClients(t, s, 3)

	require.NoError(t, c.conn.Close())
	a.send(t, "still here\n")

	assert.Equal(t, "still here\n", b.recvLine(t))
	waitForClients(t, s, 2)
}

func TestServer_DisconnectRemovesClient(t *testing.T) {
	s := startTestServer(t)
	a, b := dial(t, s), dial(t, s)
	waitForClients(t, s, 2)

	require.NoError(t, a.conn.Close())
	waitForClients(t, s, 1)

	// The survivor keeps working with no peers left to hear it.
	b.send(t, "anyone\n")
	b.assertSilent(t)
}

func TestServer_PartialThenPeerJoins(t *testing.T) {
	s := startTestServer(t)
	a := dial(t, s)
	waitForClients(t, s, 1)

	a.send(t, "early")
	time.Sleep(50 * time.Millisecond)

	b := dial(t, s)
	waitForClients(t, s, 2)

	a.send(t, " bird\n")
	assert.Equal(t, "early bird\n", b.recvLine(t))
}

func TestServer_StaleEventIsNoOp(t *testing.T) {
	s := startTestServer(t)
	waitForClients(t, s, 0)

	// An event for an fd the registry has never seen (or already
	// removed) must be ignored, not crash the loop.
	s.handleReadable(12345)
}

func TestServer_BindFailureIsFatal(t *testing.T) {
	s := startTestServer(t)

	dup := NewServer(Config{Port: s.Port()}, discardLogger(), NewMetrics(nil))
	err := dup.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind")
}
