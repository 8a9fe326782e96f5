package rdmnet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConnection() *Connection {
	cfg := DefaultConfig()
	return newConnection(NewCID(), cfg, nil)
}

func TestConnectFromNotStartedMovesToConnectPending(t *testing.T) {
	c := testConnection()
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8888}

	err := c.Connect(addr, ClientConnectData{Scope: "default"})
	require.NoError(t, err)
	assert.Equal(t, StateConnectPending, c.StateLocked())
}

func TestConnectRejectsWhenAlreadyConnecting(t *testing.T) {
	c := testConnection()
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8888}
	require.NoError(t, c.Connect(addr, ClientConnectData{}))

	err := c.Connect(addr, ClientConnectData{})
	require.Error(t, err)
	rErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeIsConn, rErr.Code)
}

func TestAttachExistingSocketJumpsToHeartbeat(t *testing.T) {
	c := testConnection()
	server, client := socketPair(t)
	defer client.Close()
	defer server.Close()

	fd, err := fdOf(client)
	require.NoError(t, err)

	err = c.AttachExistingSocket(fd, client.RemoteAddr().(*net.TCPAddr), time.Now())
	require.NoError(t, err)
	assert.Equal(t, StateHeartbeat, c.StateLocked())
	assert.True(t, c.socketValid())
}

func TestSendRejectedBeforeHeartbeat(t *testing.T) {
	c := testConnection()
	_, err := c.Send([]byte("hello"))
	require.Error(t, err)
	rErr := err.(*Error)
	assert.Equal(t, CodeNotConn, rErr.Code)
}

func TestSendRejectsZeroLength(t *testing.T) {
	c := testConnection()
	server, client := socketPair(t)
	defer client.Close()
	defer server.Close()
	fd, err := fdOf(client)
	require.NoError(t, err)
	require.NoError(t, c.AttachExistingSocket(fd, client.RemoteAddr().(*net.TCPAddr), time.Now()))

	_, err = c.Send(nil)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidArg, err.(*Error).Code)
}

func TestStartMessageHoldsMutexAcrossSends(t *testing.T) {
	c := testConnection()
	server, client := socketPair(t)
	defer client.Close()
	defer server.Close()
	fd, err := fdOf(client)
	require.NoError(t, err)
	require.NoError(t, c.AttachExistingSocket(fd, client.RemoteAddr().(*net.TCPAddr), time.Now()))

	tok := c.StartMessage()
	locked := make(chan struct{})
	go func() {
		c.mu.Lock()
		close(locked)
		c.mu.Unlock()
	}()

	select {
	case <-locked:
		t.Fatal("another goroutine acquired the connection mutex while StartMessage held it")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = tok.Send([]byte("part-one"))
	assert.NoError(t, err)
	tok.End()

	select {
	case <-locked:
	case <-time.After(time.Second):
		t.Fatal("mutex was not released by End")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	c := testConnection()
	c.Destroy(nil)
	assert.Equal(t, StateMarkedForDestruction, c.StateLocked())
	assert.NotPanics(t, func() { c.Destroy(nil) })
}

func TestTickLockedHeartbeatTimeoutConsumesBudgetOnce(t *testing.T) {
	// nil callbacks would make TickLocked return a nil pendingCallback, so
	// this test needs a real Callbacks implementation.
	c := newConnection(NewCID(), DefaultConfig(), newEventRecorder(t, nil))
	server, client := socketPair(t)
	defer server.Close()
	defer client.Close()
	fd, err := fdOf(client)
	require.NoError(t, err)
	require.NoError(t, c.AttachExistingSocket(fd, client.RemoteAddr().(*net.TCPAddr), time.Now()))

	past := time.Now().Add(-time.Hour)
	c.hbDeadline = past

	budget := true
	cb := c.TickLocked(time.Now(), &budget)
	require.NotNil(t, cb)
	assert.False(t, budget)
	assert.Equal(t, StateNotStarted, c.StateLocked())
}

func TestTickLockedHeartbeatTimeoutDeferredWhenBudgetExhausted(t *testing.T) {
	c := testConnection()
	server, client := socketPair(t)
	defer server.Close()
	defer client.Close()
	fd, err := fdOf(client)
	require.NoError(t, err)
	require.NoError(t, c.AttachExistingSocket(fd, client.RemoteAddr().(*net.TCPAddr), time.Now()))
	c.hbDeadline = time.Now().Add(-time.Hour)

	budget := false
	cb := c.TickLocked(time.Now(), &budget)
	assert.Nil(t, cb)
	assert.Equal(t, StateHeartbeat, c.StateLocked(), "connection must stay in Heartbeat until budget is available")
}

// socketPair returns a connected TCP client/server pair over loopback.
func socketPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	select {
	case server := <-acceptCh:
		return server.(*net.TCPConn), client.(*net.TCPConn)
	case err := <-errCh:
		t.Fatalf("accept failed: %v", err)
		return nil, nil
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for loopback accept")
		return nil, nil
	}
}

func fdOf(c *net.TCPConn) (int, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return invalidFD, err
	}
	var fd int
	err = raw.Control(func(descriptor uintptr) {
		fd = int(descriptor)
	})
	return fd, err
}
