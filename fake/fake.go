// Package fake provides an in-memory completion-queue backend for tests.
// Submitted operations queue up instead of reaching a kernel; the test
// plays the reactor role by completing them explicitly, which makes
// completion ordering fully deterministic.
package fake

import (
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/y001j/asock/iouring"
)

// Kind discriminates queued operations.
type Kind uint8

const (
	Accept Kind = iota + 1
	Connect
	Readv
	Writev
)

func (k Kind) String() string {
	switch k {
	case Accept:
		return "accept"
	case Connect:
		return "connect"
	case Readv:
		return "readv"
	case Writev:
		return "writev"
	default:
		return "unknown"
	}
}

// Op is one submitted, not-yet-completed operation.
type Op struct {
	Kind Kind
	Fd   int
	// Addr is the pinned peer-address slot of an accept or the pinned
	// target address of a connect.
	Addr *unix.RawSockaddrInet4
	// Iovs are the pinned scatter/gather segments of a readv/writev.
	Iovs []unix.Iovec

	handle *iouring.Handle
	cb     iouring.Callback
	done   bool
}

// Backend implements iouring.Backend by queueing operations.
type Backend struct {
	mu  sync.Mutex
	ops []*Op
}

// NewBackend creates an empty fake backend.
func NewBackend() *Backend {
	return &Backend{}
}

func (b *Backend) push(op *Op) *iouring.Handle {
	op.handle = iouring.NewHandle()
	b.mu.Lock()
	b.ops = append(b.ops, op)
	b.mu.Unlock()
	return op.handle
}

// Accept implements iouring.Backend.
func (b *Backend) Accept(fd int, addr *unix.RawSockaddrInet4, cb iouring.Callback) *iouring.Handle {
	return b.push(&Op{Kind: Accept, Fd: fd, Addr: addr, cb: cb})
}

// Connect implements iouring.Backend.
func (b *Backend) Connect(fd int, addr *unix.RawSockaddrInet4, cb iouring.Callback) *iouring.Handle {
	return b.push(&Op{Kind: Connect, Fd: fd, Addr: addr, cb: cb})
}

// Readv implements iouring.Backend.
func (b *Backend) Readv(fd int, iovs []unix.Iovec, cb iouring.Callback) *iouring.Handle {
	return b.push(&Op{Kind: Readv, Fd: fd, Iovs: iovs, cb: cb})
}

// Writev implements iouring.Backend.
func (b *Backend) Writev(fd int, iovs []unix.Iovec, cb iouring.Callback) *iouring.Handle {
	return b.push(&Op{Kind: Writev, Fd: fd, Iovs: iovs, cb: cb})
}

// Pending returns the uncompleted operations of the given kind in
// submission order.
func (b *Backend) Pending(k Kind) []*Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Op
	for _, op := range b.ops {
		if !op.done && op.Kind == k {
			out = append(out, op)
		}
	}
	return out
}

// Next returns the oldest uncompleted operation of the given kind, or nil.
func (b *Backend) Next(k Kind) *Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, op := range b.ops {
		if !op.done && op.Kind == k {
			return op
		}
	}
	return nil
}

// WaitNext polls for the oldest uncompleted operation of the given kind,
// for tests where submission happens on another goroutine.
func (b *Backend) WaitNext(k Kind, timeout time.Duration) *Op {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if op := b.Next(k); op != nil {
			return op
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// Complete finishes op with res, latching the handle result and invoking
// the callback the way a reactor would.
func (b *Backend) Complete(op *Op, res int32) {
	b.mu.Lock()
	if op.done {
		b.mu.Unlock()
		panic("fake: operation completed twice")
	}
	op.done = true
	b.mu.Unlock()

	op.handle.Complete(res)
	op.cb(res)
}

// CopyIn writes p into the operation's iovec segments, simulating the
// kernel filling a readv. It returns the number of bytes written.
func (op *Op) CopyIn(p []byte) int {
	n := 0
	for _, iov := range op.Iovs {
		if n == len(p) {
			break
		}
		dst := unsafe.Slice(iov.Base, int(iov.Len))
		n += copy(dst, p[n:])
	}
	return n
}

// Gather collects the bytes referenced by the operation's iovec segments,
// simulating the kernel consuming a writev.
func (op *Op) Gather() []byte {
	var out []byte
	for _, iov := range op.Iovs {
		out = append(out, unsafe.Slice(iov.Base, int(iov.Len))...)
	}
	return out
}

// SetPeer fills the accept's pinned peer-address slot, as the production
// backend does before completing an accept.
func (op *Op) SetPeer(sa unix.RawSockaddrInet4) {
	if op.Addr != nil {
		*op.Addr = sa
	}
}
