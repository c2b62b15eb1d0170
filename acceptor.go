package asock

import (
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/y001j/asock/iobuf"
	"github.com/y001j/asock/iouring"
	"github.com/y001j/asock/poll"
)

// Accept backlog bounds: the number of concurrently in-flight accept
// operations is clamped to this range regardless of the listen(2) backlog.
const (
	minBacklog = 1
	maxBacklog = 16
)

type acceptState uint8

const (
	acceptVacant acceptState = iota
	acceptPending
	acceptCompleted
)

// acceptSlot is one entry of the accept table. A slot transitions
// Pending -> Completed exactly once, then back to Vacant when consumed.
type acceptSlot struct {
	state acceptState
	// addr is the pinned peer-address slot the kernel fills.
	addr   *unix.RawSockaddrInet4
	handle *iouring.Handle
	fd     int32
}

// Acceptor keeps up to backlog accept operations in flight on a listening
// socket and a FIFO queue of completed-but-unconsumed connections.
//
// Invariant: pending + completed == backlog, restored by re-arming a fresh
// accept whenever a completed one is consumed.
type Acceptor struct {
	common *Common

	mu          sync.Mutex
	slots       []acceptSlot
	freeIndexes []int
	addrSlab    *iobuf.RawSlab[unix.RawSockaddrInet4]
	// completed holds ready slot indexes in completion order.
	completed *queue.Queue
	backlog   int
}

// newAcceptor creates the acceptor and eagerly arms its entire backlog.
func newAcceptor(common *Common, backlog int, arena iobuf.Arena) *Acceptor {
	if backlog < minBacklog {
		backlog = minBacklog
	}
	if backlog > maxBacklog {
		backlog = maxBacklog
	}

	a := &Acceptor{
		common:      common,
		slots:       make([]acceptSlot, backlog),
		freeIndexes: make([]int, 0, backlog),
		addrSlab:    iobuf.NewRawSlab(arenaSlice[unix.RawSockaddrInet4](arena, backlog)),
		completed:   queue.New(),
		backlog:     backlog,
	}
	for i := backlog - 1; i >= 0; i-- {
		a.freeIndexes = append(a.freeIndexes, i)
	}

	a.mu.Lock()
	a.initiateAcceptsLocked()
	a.mu.Unlock()
	return a
}

// Accept returns the next accepted descriptor in completion order, copying
// the peer address into outputAddr when it is non-nil. It suspends the
// calling goroutine until a connection or a sticky error is available; the
// result is the fd or a negated errno.
func (a *Acceptor) Accept(outputAddr *unix.RawSockaddrInet4) int32 {
	var poller *poll.Poller
	for {
		ret := a.tryAccept(outputAddr)
		if ret != -int32(unix.EAGAIN) {
			return ret
		}

		if poller == nil {
			poller = poll.NewPoller()
		}
		if ev := a.common.Pollee().Poll(poll.In, poller); ev == 0 {
			poller.Wait()
		}
	}
}

// tryAccept pops one completed slot in FIFO order, frees its resources and
// re-arms the backlog. With no completed slot it returns the sticky error
// if set, else -EAGAIN.
func (a *Acceptor) tryAccept(outputAddr *unix.RawSockaddrInet4) int32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.completed.Length() == 0 {
		if code := a.common.Error(); code != 0 {
			return code
		}
		return -int32(unix.EAGAIN)
	}
	idx := a.completed.Remove().(int)

	if a.completed.Length() == 0 {
		// No more completed connections to consume.
		a.common.Pollee().Remove(poll.In)
	}

	slot := &a.slots[idx]
	if slot.state != acceptCompleted {
		panic("asock: consuming an accept slot that has not completed")
	}
	fd := slot.fd
	if outputAddr != nil {
		*outputAddr = *slot.addr
	}

	a.addrSlab.Dealloc(slot.addr)
	*slot = acceptSlot{}
	a.freeIndexes = append(a.freeIndexes, idx)

	a.initiateAcceptsLocked()
	return fd
}

// initiateAcceptsLocked refills the accept table until the whole backlog is
// in flight or completed. Called with a.mu held.
func (a *Acceptor) initiateAcceptsLocked() {
	for len(a.freeIndexes) > 0 {
		idx := a.freeIndexes[len(a.freeIndexes)-1]
		a.freeIndexes = a.freeIndexes[:len(a.freeIndexes)-1]

		addr := a.addrSlab.Alloc()
		if addr == nil {
			panic("asock: address slab exhausted with free accept slots")
		}

		slotIndex := idx
		handle := a.common.Backend().Accept(a.common.Fd(), addr, func(res int32) {
			a.onAccept(slotIndex, res)
		})
		a.slots[idx] = acceptSlot{state: acceptPending, addr: addr, handle: handle}
	}
}

// onAccept is the completion callback of one pending accept slot. It runs
// on the backend's reactor context.
func (a *Acceptor) onAccept(idx int, res int32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot := &a.slots[idx]
	if slot.state != acceptPending {
		panic("asock: accept slot completed twice")
	}

	if res < 0 {
		a.common.SetError(res)
		a.common.Pollee().Add(poll.Err)

		// A failed slot is abandoned permanently; the refill on the
		// next consumption restores the backlog invariant.
		a.addrSlab.Dealloc(slot.addr)
		*slot = acceptSlot{}
		a.freeIndexes = append(a.freeIndexes, idx)
		return
	}

	slot.state = acceptCompleted
	slot.fd = res
	slot.handle = nil
	a.completed.Add(idx)

	a.common.Pollee().Add(poll.In)
}

// Backlog returns the clamped number of concurrently armed accepts.
func (a *Acceptor) Backlog() int {
	return a.backlog
}

// counts reports (pending, completed) slots, for invariant checks.
func (a *Acceptor) counts() (pending, completed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.slots {
		switch a.slots[i].state {
		case acceptPending:
			pending++
		case acceptCompleted:
			completed++
		}
	}
	return pending, completed
}
