package asock

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/y001j/asock/iobuf"
	"github.com/y001j/asock/iouring"
	"github.com/y001j/asock/poll"
)

// Receiver buffers incoming bytes in a ring buffer kept filled by a chain
// of asynchronous reads: at most one readv is in flight at any time, and a
// successful completion chains the next one while the buffer has space.
// The first fill is issued eagerly at construction.
type Receiver struct {
	common *Common

	mu sync.Mutex
	// buf's storage and iovs are arena-pinned because an in-flight
	// readv references them.
	buf       *iobuf.CircularBuf
	iovs      []unix.Iovec
	pending   *iouring.Handle
	endOfFile bool
}

func newReceiver(common *Common, bufSize int, arena iobuf.Arena) *Receiver {
	r := &Receiver{
		common: common,
		buf:    iobuf.NewCircularBuf(arena.Alloc(bufSize)),
		iovs:   arenaSlice[unix.Iovec](arena, 2),
	}

	r.mu.Lock()
	r.fillLocked()
	r.mu.Unlock()
	return r
}

// Read consumes buffered bytes into p, suspending while nothing is
// available. The result is the byte count (0 means end-of-file, sticky
// once observed) or a negated errno. Partial reads are normal.
func (r *Receiver) Read(p []byte) int32 {
	var poller *poll.Poller
	for {
		ret := r.tryRead(p)
		if ret != -int32(unix.EAGAIN) {
			return ret
		}

		if poller == nil {
			poller = poll.NewPoller()
		}
		if ev := r.common.Pollee().Poll(poll.In, poller); ev == 0 {
			poller.Wait()
		}
	}
}

func (r *Receiver) tryRead(p []byte) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(p) == 0 {
		return 0
	}

	n := r.buf.Consume(p)

	if r.buf.IsEmpty() {
		// Mark the socket as non-readable.
		r.common.Pollee().Remove(poll.In)
	}

	if r.endOfFile {
		return int32(n)
	}

	if n == 0 {
		if code := r.common.Error(); code != 0 {
			return code
		}
		return -int32(unix.EAGAIN)
	}

	if r.pending == nil {
		r.fillLocked()
	}
	return int32(n)
}

// fillLocked submits one readv into the buffer's producer segments.
// Called with r.mu held, either from tryRead or from a completion callback
// chaining the next fill; the held lock is passed down rather than
// re-acquired.
func (r *Receiver) fillLocked() {
	if r.buf.IsFull() {
		panic("asock: fill with a full receive buffer")
	}
	if r.endOfFile {
		panic("asock: fill after end-of-file")
	}
	if r.pending != nil {
		panic("asock: fill while another fill is in flight")
	}

	iovlen := 1
	r.buf.WithProducerView(func(part0, part1 []byte) int {
		r.iovs[0].Base = &part0[0]
		r.iovs[0].SetLen(len(part0))
		if len(part1) > 0 {
			r.iovs[1].Base = &part1[0]
			r.iovs[1].SetLen(len(part1))
			iovlen = 2
		}
		// Only viewing the segments; nothing produced yet.
		return 0
	})

	r.pending = r.common.Backend().Readv(r.common.Fd(), r.iovs[:iovlen], r.onFill)
}

// onFill runs on the backend's reactor context.
func (r *Receiver) onFill(res int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = nil

	if res < 0 {
		r.common.SetError(res)
		r.common.Pollee().Add(poll.Err)
		return
	}
	if res == 0 {
		// End-of-file is sticky; wake blocked readers so they observe
		// it.
		r.endOfFile = true
		r.common.Pollee().Add(poll.In)
		return
	}

	r.buf.ProduceWithoutCopy(int(res))

	if !r.buf.IsFull() {
		r.fillLocked()
	}

	r.common.Pollee().Add(poll.In)
}

// Shutdown half-closes the read direction at the OS level immediately.
// Bytes already buffered remain readable; only further kernel-side
// delivery stops.
func (r *Receiver) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	unix.Shutdown(r.common.Fd(), unix.SHUT_RD)
}
