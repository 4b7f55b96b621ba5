package smtp

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// testServer is a tiny scripted SMTP peer driving the other end of a
// net.Pipe, used to exercise Connection without a real socket.
type testServer struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newTestServer(conn net.Conn) *testServer {
	return &testServer{conn: conn, reader: bufio.NewReader(conn)}
}

func (s *testServer) send(t *testing.T, line string) {
	t.Helper()
	_, err := s.conn.Write([]byte(line))
	require.NoError(t, err)
}

func (s *testServer) expectLine(t *testing.T) string {
	t.Helper()
	line, err := s.reader.ReadString('\n')
	require.NoError(t, err)
	return line
}

func dialTestConnection(t *testing.T) (*Connection, *testServer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	server := newTestServer(serverConn)

	resultCh := make(chan struct {
		conn *Connection
		err  error
	}, 1)
	go func() {
		c, err := newConnection(clientConn, Config{}.withDefaults())
		resultCh <- struct {
			conn *Connection
			err  error
		}{c, err}
	}()

	server.send(t, "220 example.com ESMTP\r\n")
	res := <-resultCh
	require.NoError(t, res.err)
	return res.conn, server
}

func TestConnectConsumesGreeting(t *testing.T) {
	conn, server := dialTestConnection(t)
	defer conn.conn.Close()
	_ = server
	require.True(t, conn.IsConnected())
}

func TestConnectRejectsNonGreetingReply(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	server := newTestServer(serverConn)

	resultCh := make(chan error, 1)
	go func() {
		_, err := newConnection(clientConn, Config{}.withDefaults())
		resultCh <- err
	}()

	server.send(t, "554 no service here\r\n")
	err := <-resultCh
	var ire *InvalidReplyError
	require.ErrorAs(t, err, &ire)
}

func TestWriteMatchesRepliesInFIFOOrder(t *testing.T) {
	conn, server := dialTestConnection(t)
	defer conn.conn.Close()

	ctx := context.Background()
	type result struct {
		label string
		reply Reply
		err   error
	}
	results := make(chan result, 2)

	go func() {
		r, err := conn.Write(ctx, SingleOutbound(NOOP()))
		results <- result{"noop", r, err}
	}()
	line := server.expectLine(t)
	require.Equal(t, "NOOP\r\n", line)
	server.send(t, "250 OK\r\n")

	first := <-results
	require.NoError(t, first.err)
	require.Equal(t, 250, first.reply.Code.Value())

	go func() {
		r, err := conn.Write(ctx, SingleOutbound(RSET()))
		results <- result{"rset", r, err}
	}()
	line = server.expectLine(t)
	require.Equal(t, "RSET\r\n", line)
	server.send(t, "250 OK\r\n")

	second := <-results
	require.NoError(t, second.err)
	require.Equal(t, 250, second.reply.Code.Value())
}

func TestCloseDrivesQuitAndIsIdempotent(t *testing.T) {
	conn, server := dialTestConnection(t)

	ctx := context.Background()
	closeErrCh := make(chan error, 1)
	go func() {
		closeErrCh <- conn.Close(ctx)
	}()

	line := server.expectLine(t)
	require.Equal(t, "QUIT\r\n", line)
	server.send(t, "221 2.0.0 Bye\r\n")

	require.NoError(t, <-closeErrCh)
	require.False(t, conn.IsConnected())

	// A second Close must return the same cached result without attempting
	// to write QUIT again.
	require.NoError(t, conn.Close(ctx))
}

func TestCascadeFailsEveryOutstandingRequest(t *testing.T) {
	conn, server := dialTestConnection(t)

	ctx := context.Background()
	results := make(chan error, 2)
	go func() {
		_, err := conn.Write(ctx, SingleOutbound(NOOP()))
		results <- err
	}()
	require.Equal(t, "NOOP\r\n", server.expectLine(t))

	go func() {
		_, err := conn.Write(ctx, SingleOutbound(RSET()))
		results <- err
	}()
	require.Equal(t, "RSET\r\n", server.expectLine(t))

	// Both commands are now on the wire, waiting for replies that never
	// come: sever the connection and confirm every outstanding request is
	// failed and the connection is torn down.
	server.conn.Close()

	err1 := <-results
	err2 := <-results
	require.Error(t, err1)
	require.Error(t, err2)
	require.False(t, conn.IsConnected())
}

func TestWriteAfterCloseIsRejected(t *testing.T) {
	conn, server := dialTestConnection(t)
	_ = server

	ctx := context.Background()
	atomic.StoreInt32(&conn.state, int32(stateClosed))
	_, err := conn.Write(ctx, SingleOutbound(NOOP()))
	var cce *ConnectionClosedError
	require.ErrorAs(t, err, &cce)
}

// A write rejected after a cascade must carry the cascade's actual cause,
// not a bare ConnectionClosedError with no Cause, per spec.md §4.4's "the
// promise is failed immediately with the stored terminal error."
func TestWriteAfterCascadeCarriesTerminalCause(t *testing.T) {
	conn, server := dialTestConnection(t)

	ctx := context.Background()
	go func() {
		_, _ = conn.Write(ctx, SingleOutbound(NOOP()))
	}()
	require.Equal(t, "NOOP\r\n", server.expectLine(t))

	server.conn.Close()
	<-conn.CloseFuture()

	_, err := conn.Write(ctx, SingleOutbound(NOOP()))
	var cce *ConnectionClosedError
	require.ErrorAs(t, err, &cce)
	require.NotNil(t, cce.Cause)
}

// doubleCloseConn wraps a net.Conn so its second Close call reports the same
// "already closed" shape a real socket would (wrapping net.ErrClosed),
// unlike net.Pipe's own Close, which is always nil.
type doubleCloseConn struct {
	net.Conn
	closed int32
}

func (d *doubleCloseConn) Close() error {
	if atomic.SwapInt32(&d.closed, 1) == 1 {
		return &net.OpError{Op: "close", Net: "pipe", Err: net.ErrClosed}
	}
	return d.Conn.Close()
}

// If the driver loop has already torn down the transport (e.g. the peer
// disconnected with nothing outstanding) before the caller gets around to
// calling Close, Close's own transport-close call observes an
// already-closed channel. Per spec.md §4.4 that must be folded into success,
// not reported as a composite ConnectionCloseError.
func TestCloseTreatsAlreadyClosedTransportAsSuccess(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	wrapped := &doubleCloseConn{Conn: clientConn}
	server := newTestServer(serverConn)

	type dialResult struct {
		conn *Connection
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		c, err := newConnection(wrapped, Config{}.withDefaults())
		resultCh <- dialResult{c, err}
	}()
	server.send(t, "220 example.com ESMTP\r\n")
	res := <-resultCh
	require.NoError(t, res.err)
	conn := res.conn

	server.conn.Close()
	<-conn.CloseFuture()

	require.NoError(t, conn.Close(context.Background()))
}
