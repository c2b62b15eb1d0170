// Package iouring defines the completion-queue backend contract the socket
// engine is layered over: an operation is submitted once and a callback
// fires exactly once with its result, instead of the classic
// readiness-then-blocking-call model. Ring is the production Linux
// implementation; tests substitute the fake package's backend.
package iouring

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Callback is invoked exactly once per submitted operation, from the
// backend's reactor context. res >= 0 is a byte count (or an accepted fd);
// res < 0 is a negated errno. The backend guarantees delivery even when the
// underlying transport is shut down, so every operation reaches a terminal
// state.
type Callback func(res int32)

// Backend submits asynchronous socket operations. Pointers passed in (the
// peer-address slot, the iovec segments and the memory they reference) must
// stay valid and immovable until the operation's callback has fired.
type Backend interface {
	// Accept arms one accept on a listening fd. On success the peer
	// address is written into addr before the callback runs; the result
	// is the accepted fd.
	Accept(fd int, addr *unix.RawSockaddrInet4, cb Callback) *Handle

	// Connect starts connecting fd to addr. The result is 0 or a negated
	// errno.
	Connect(fd int, addr *unix.RawSockaddrInet4, cb Callback) *Handle

	// Readv reads into the iovec segments. The result is the byte count
	// (0 means end-of-file) or a negated errno.
	Readv(fd int, iovs []unix.Iovec, cb Callback) *Handle

	// Writev writes from the iovec segments. The result is the byte
	// count or a negated errno.
	Writev(fd int, iovs []unix.Iovec, cb Callback) *Handle
}

// Handle tracks one submitted operation. The backend latches the result
// into the handle before invoking the callback, so any task woken by the
// callback's readiness update observes Completed() == true.
type Handle struct {
	done uint32
	res  int32
}

// NewHandle creates an incomplete handle. Only Backend implementations
// construct handles.
func NewHandle() *Handle {
	return &Handle{}
}

// Complete latches the result. Called by Backend implementations, exactly
// once, before the operation's callback.
func (h *Handle) Complete(res int32) {
	atomic.StoreInt32(&h.res, res)
	if !atomic.CompareAndSwapUint32(&h.done, 0, 1) {
		panic("iouring: operation completed twice")
	}
}

// Completed reports whether the operation has reached its terminal state.
func (h *Handle) Completed() bool {
	return atomic.LoadUint32(&h.done) == 1
}

// Result returns the latched result. Valid only after Completed reports
// true.
func (h *Handle) Result() int32 {
	if !h.Completed() {
		panic("iouring: result of an incomplete operation")
	}
	return atomic.LoadInt32(&h.res)
}
