package asock

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/y001j/asock/iobuf"
	"github.com/y001j/asock/iouring"
	"github.com/y001j/asock/poll"
)

// Sender buffers outgoing bytes in a ring buffer and drives a chain of
// asynchronous flushes against the kernel: at most one writev is in flight
// at any time, and its completion immediately chains the next one while the
// buffer is non-empty.
type Sender struct {
	common *Common

	mu sync.Mutex
	// buf's storage and iovs are arena-pinned because an in-flight
	// writev references them.
	buf        *iobuf.CircularBuf
	iovs       []unix.Iovec
	pending    *iouring.Handle
	isShutdown bool
}

func newSender(common *Common, bufSize int, arena iobuf.Arena) *Sender {
	return &Sender{
		common: common,
		buf:    iobuf.NewCircularBuf(arena.Alloc(bufSize)),
		iovs:   arenaSlice[unix.Iovec](arena, 2),
	}
}

// Write buffers as many bytes of p as fit, suspending while the buffer is
// full, and returns the number buffered or a negated errno. Partial writes
// are normal; the bytes reach the kernel through the background flush
// chain.
func (s *Sender) Write(p []byte) int32 {
	var poller *poll.Poller
	for {
		ret := s.tryWrite(p)
		if ret != -int32(unix.EAGAIN) {
			return ret
		}

		if poller == nil {
			poller = poll.NewPoller()
		}
		if ev := s.common.Pollee().Poll(poll.Out, poller); ev == 0 {
			poller.Wait()
		}
	}
}

func (s *Sender) tryWrite(p []byte) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isShutdown {
		return -int32(unix.EPIPE)
	}
	if code := s.common.Error(); code != 0 {
		return code
	}
	if len(p) == 0 {
		return 0
	}

	n := s.buf.Produce(p)

	if s.buf.IsFull() {
		// Mark the socket as non-writable.
		s.common.Pollee().Remove(poll.Out)
	}

	if n == 0 {
		return -int32(unix.EAGAIN)
	}

	if s.pending == nil {
		s.flushLocked()
	}
	return int32(n)
}

// flushLocked submits one writev over the buffer's consumer segments.
// Called with s.mu held, either from tryWrite or from a completion
// callback chaining the next flush; the held lock is passed down rather
// than re-acquired.
func (s *Sender) flushLocked() {
	if s.buf.IsEmpty() {
		panic("asock: flush with an empty send buffer")
	}
	if s.pending != nil {
		panic("asock: flush while another flush is in flight")
	}

	iovlen := 1
	s.buf.WithConsumerView(func(part0, part1 []byte) int {
		s.iovs[0].Base = &part0[0]
		s.iovs[0].SetLen(len(part0))
		if len(part1) > 0 {
			s.iovs[1].Base = &part1[0]
			s.iovs[1].SetLen(len(part1))
			iovlen = 2
		}
		// Only viewing the segments; nothing consumed yet.
		return 0
	})

	s.pending = s.common.Backend().Writev(s.common.Fd(), s.iovs[:iovlen], s.onFlush)
}

// onFlush runs on the backend's reactor context.
func (s *Sender) onFlush(res int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil

	if res >= 0 {
		s.buf.ConsumeWithoutCopy(int(res))
		if !s.isShutdown {
			s.common.Pollee().Add(poll.Out)
		}
	} else {
		// Discard everything still buffered.
		s.buf.ConsumeWithoutCopy(s.buf.Consumable())

		s.common.SetError(res)
		s.common.Pollee().Add(poll.Err)
	}

	if !s.buf.IsEmpty() {
		s.flushLocked()
	} else if s.isShutdown {
		// Deferred half-close: everything buffered has drained.
		unix.Shutdown(s.common.Fd(), unix.SHUT_WR)
	}
}

// Shutdown stops accepting new writes. The OS-level half-close is deferred
// until all already-buffered bytes have been flushed; with nothing in
// flight and nothing buffered it happens immediately.
func (s *Sender) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.isShutdown = true
	if s.pending == nil && s.buf.IsEmpty() {
		unix.Shutdown(s.common.Fd(), unix.SHUT_WR)
	}
}
