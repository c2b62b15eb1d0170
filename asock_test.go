package asock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/y001j/asock/fake"
)

func TestSocketUnconnected(t *testing.T) {
	backend := fake.NewBackend()
	s, err := NewSocket(backend)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Read(make([]byte, 4))
	assert.Equal(t, unix.ENOTCONN, err)
	_, err = s.Write([]byte("x"))
	assert.Equal(t, unix.ENOTCONN, err)
	_, _, err = s.Accept()
	assert.Equal(t, unix.EINVAL, err)
}

func TestSocketShutdownBadHow(t *testing.T) {
	backend := fake.NewBackend()
	s, err := NewSocket(backend)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, unix.EINVAL, s.Shutdown(42))
}

func TestSocketConnectReadWrite(t *testing.T) {
	backend := fake.NewBackend()
	s, err := NewSocket(backend, WithSendBufferCap(4096), WithRecvBufferCap(4096))
	require.NoError(t, err)
	defer s.Close()

	connErr := make(chan error, 1)
	go func() { connErr <- s.Connect("127.0.0.1:7000") }()

	op := backend.WaitNext(fake.Connect, time.Second)
	require.NotNil(t, op)
	backend.Complete(op, 0)
	require.NoError(t, <-connErr)

	// The stream halves came up with the connection and the receiver is
	// already pre-filling.
	require.NotNil(t, backend.Next(fake.Readv))

	n, err := s.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	wop := backend.Next(fake.Writev)
	require.NotNil(t, wop)
	assert.Equal(t, "ping", string(wop.Gather()))
	backend.Complete(wop, 4)

	rop := backend.Next(fake.Readv)
	require.NotNil(t, rop)
	rop.CopyIn([]byte("pong"))
	backend.Complete(rop, 4)

	buf := make([]byte, 16)
	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))

	// A second connect on the same socket is rejected.
	assert.Equal(t, unix.EISCONN, s.Connect("127.0.0.1:7000"))
}

func TestSocketReadEOF(t *testing.T) {
	backend := fake.NewBackend()
	s, err := NewSocket(backend)
	require.NoError(t, err)
	defer s.Close()

	connErr := make(chan error, 1)
	go func() { connErr <- s.Connect("127.0.0.1:7000") }()
	backend.Complete(backend.WaitNext(fake.Connect, time.Second), 0)
	require.NoError(t, <-connErr)

	backend.Complete(backend.Next(fake.Readv), 0)

	// End-of-file surfaces as (0, nil), not as an error.
	n, err := s.Read(make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSocketListenAccept(t *testing.T) {
	backend := fake.NewBackend()
	s, err := NewSocket(backend, WithReuseAddr())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Bind("127.0.0.1:0"))
	require.NoError(t, s.Listen(2))
	require.Len(t, backend.Pending(fake.Accept), 2)

	// Stand in for the kernel: hand the acceptor a real connected fd.
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	op := backend.Next(fake.Accept)
	var peer unix.RawSockaddrInet4
	peer.Family = unix.AF_INET
	peer.Addr = [4]byte{192, 0, 2, 1}
	putPort(&peer, 31337)
	op.SetPeer(peer)
	backend.Complete(op, int32(fds[0]))

	conn, addr, err := s.Accept()
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, fds[0], conn.Fd())
	assert.Equal(t, "192.0.2.1:31337", addr.String())

	// The accepted socket is live: its receiver is pre-filling and its
	// writes flow.
	require.NotNil(t, backend.Next(fake.Readv))
	n, err := conn.Write([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSocketShutdownUnblocksConnect(t *testing.T) {
	backend := fake.NewBackend()
	s, err := NewSocket(backend)
	require.NoError(t, err)
	defer s.Close()

	connErr := make(chan error, 1)
	go func() { connErr <- s.Connect("127.0.0.1:7000") }()
	op := backend.WaitNext(fake.Connect, time.Second)
	require.NotNil(t, op)

	require.NoError(t, s.Shutdown(unix.SHUT_RDWR))
	select {
	case err := <-connErr:
		assert.Equal(t, unix.EPIPE, err)
	case <-time.After(time.Second):
		t.Fatal("Connect not unblocked by Shutdown")
	}
	backend.Complete(op, -int32(unix.ECANCELED))
}
