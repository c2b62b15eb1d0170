package asock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/y001j/asock/fake"
	"github.com/y001j/asock/iobuf"
)

func newTestConnector(t *testing.T) (*Connector, *fake.Backend) {
	t.Helper()
	backend := fake.NewBackend()
	common := newCommonFd(backend, 101)
	return newConnector(common, iobuf.HeapArena{}), backend
}

func testAddr() unix.RawSockaddrInet4 {
	var raw unix.RawSockaddrInet4
	raw.Family = unix.AF_INET
	raw.Addr = [4]byte{127, 0, 0, 1}
	putPort(&raw, 8080)
	return raw
}

func TestConnectorSuccess(t *testing.T) {
	c, backend := newTestConnector(t)
	addr := testAddr()

	got := make(chan int32, 1)
	go func() { got <- c.Connect(&addr) }()

	op := backend.WaitNext(fake.Connect, time.Second)
	require.NotNil(t, op)
	// The target address was copied into pinned storage for the kernel.
	assert.Equal(t, addr, *op.Addr)

	backend.Complete(op, 0)
	select {
	case ret := <-got:
		assert.Equal(t, int32(0), ret)
	case <-time.After(time.Second):
		t.Fatal("Connect not woken by completion")
	}
}

func TestConnectorFailure(t *testing.T) {
	c, backend := newTestConnector(t)
	addr := testAddr()

	got := make(chan int32, 1)
	go func() { got <- c.Connect(&addr) }()

	op := backend.WaitNext(fake.Connect, time.Second)
	require.NotNil(t, op)
	backend.Complete(op, -int32(unix.ECONNREFUSED))

	select {
	case ret := <-got:
		assert.Equal(t, -int32(unix.ECONNREFUSED), ret)
	case <-time.After(time.Second):
		t.Fatal("Connect not woken by completion")
	}
}

func TestConnectorSingleShot(t *testing.T) {
	c, backend := newTestConnector(t)
	addr := testAddr()

	go c.Connect(&addr)
	op := backend.WaitNext(fake.Connect, time.Second)
	require.NotNil(t, op)

	// A second attempt while the first is in flight or done is rejected.
	assert.Equal(t, -int32(unix.EISCONN), c.Connect(&addr))
	backend.Complete(op, 0)
	assert.Equal(t, -int32(unix.EISCONN), c.Connect(&addr))
}

func TestConnectorShutdownBeforeConnect(t *testing.T) {
	c, backend := newTestConnector(t)
	addr := testAddr()

	c.Shutdown()
	assert.True(t, c.IsShutdown())
	assert.Equal(t, -int32(unix.EPIPE), c.Connect(&addr))
	assert.Nil(t, backend.Next(fake.Connect))
}

// Shutdown unblocks a goroutine parked inside Connect.
func TestConnectorShutdownDuringConnect(t *testing.T) {
	c, backend := newTestConnector(t)
	addr := testAddr()

	got := make(chan int32, 1)
	go func() { got <- c.Connect(&addr) }()

	op := backend.WaitNext(fake.Connect, time.Second)
	require.NotNil(t, op)

	c.Shutdown()
	select {
	case ret := <-got:
		assert.Equal(t, -int32(unix.EPIPE), ret)
	case <-time.After(time.Second):
		t.Fatal("Connect not unblocked by Shutdown")
	}

	// The backend still owes the completion; delivering it must not
	// disturb anything.
	backend.Complete(op, -int32(unix.ECANCELED))
}
