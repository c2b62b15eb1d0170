// Package asock implements asynchronous, buffered TCP sockets over a
// completion-queue backend. Application goroutines get ordinary
// blocking-call ergonomics (Read, Write, Connect, Accept, Shutdown) while
// every kernel interaction is a submitted operation whose completion
// callback updates per-socket state and readiness.
package asock

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/y001j/asock/iouring"
	"github.com/y001j/asock/poll"
)

// Common is the per-socket state shared by every operation component: the
// file descriptor, the readiness pollee and the sticky error. It also
// carries the backend reference the components submit through.
type Common struct {
	fd      int
	pollee  *poll.Pollee
	backend iouring.Backend
	err     int32 // sticky; 0 means none

	closed uint32
}

// newCommon creates a fresh TCP socket and its shared state.
func newCommon(backend iouring.Backend) (*Common, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return newCommonFd(backend, fd), nil
}

// newCommonFd wraps an existing descriptor, e.g. one returned by accept.
func newCommonFd(backend iouring.Backend, fd int) *Common {
	return &Common{
		fd:      fd,
		pollee:  poll.NewPollee(0),
		backend: backend,
	}
}

// Fd returns the underlying file descriptor.
func (c *Common) Fd() int {
	return c.fd
}

// Backend returns the completion-queue backend shared by the components.
func (c *Common) Backend() iouring.Backend {
	return c.backend
}

// Pollee returns the readiness state shared by every component that
// multiplexes over this socket.
func (c *Common) Pollee() *poll.Pollee {
	return c.pollee
}

// Error returns the sticky error code, 0 if none.
func (c *Common) Error() int32 {
	return atomic.LoadInt32(&c.err)
}

// SetError latches a sticky error. code must be negative. The last write
// wins: a later failure overwrites an earlier one.
func (c *Common) SetError(code int32) {
	if code >= 0 {
		panic("asock: sticky error code must be negative")
	}
	atomic.StoreInt32(&c.err, code)
}

// Close releases the descriptor. Safe to call more than once.
func (c *Common) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil
	}
	return unix.Close(c.fd)
}
