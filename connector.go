package asock

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/y001j/asock/iobuf"
	"github.com/y001j/asock/iouring"
	"github.com/y001j/asock/poll"
)

// Connector drives the single connect attempt a socket supports. It waits
// on a private pollee rather than the shared socket pollee: connect's
// IN/ERR events do not correspond to ordinary data readiness.
type Connector struct {
	common *Common
	priv   *poll.Pollee

	mu         sync.Mutex
	pending    *iouring.Handle
	isShutdown bool
	// addr is the pinned copy of the target address the kernel reads.
	addr *unix.RawSockaddrInet4
}

func newConnector(common *Common, arena iobuf.Arena) *Connector {
	store := arenaSlice[unix.RawSockaddrInet4](arena, 1)
	return &Connector{
		common: common,
		priv:   poll.NewPollee(0),
		addr:   &store[0],
	}
}

// Connect starts connecting to addr and suspends until the completion
// fires, returning the raw completion result: 0 on success, a negated
// errno on failure. It is single-shot: a second call returns -EISCONN, and
// any call after Shutdown returns -EPIPE without submitting anything.
func (c *Connector) Connect(addr *unix.RawSockaddrInet4) int32 {
	c.mu.Lock()
	if c.isShutdown {
		c.mu.Unlock()
		return -int32(unix.EPIPE)
	}
	if c.pending != nil {
		c.mu.Unlock()
		return -int32(unix.EISCONN)
	}
	*c.addr = *addr
	handle := c.common.Backend().Connect(c.common.Fd(), c.addr, c.onConnect)
	c.pending = handle
	c.mu.Unlock()

	poller := poll.NewPoller()
	for {
		ev := c.priv.Poll(poll.In, poller)
		if handle.Completed() {
			return handle.Result()
		}
		if ev&poll.Hup != 0 {
			// Shutdown raced the in-flight connect; fail the caller
			// now. The pinned address lives for the socket lifetime,
			// so the late completion dangles nothing.
			return -int32(unix.EPIPE)
		}
		poller.Wait()
	}
}

// onConnect runs on the backend's reactor context.
func (c *Connector) onConnect(res int32) {
	if res == 0 {
		c.priv.Add(poll.In)
	} else {
		c.priv.Add(poll.Err)
	}
}

// IsShutdown reports whether Shutdown has been called.
func (c *Connector) IsShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isShutdown
}

// Shutdown fails future Connect calls and unblocks a task currently
// waiting inside Connect by raising HUP on the private pollee.
func (c *Connector) Shutdown() {
	c.mu.Lock()
	c.isShutdown = true
	c.mu.Unlock()

	c.priv.Add(poll.Hup)
}
