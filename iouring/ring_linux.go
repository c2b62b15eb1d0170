//go:build linux
// +build linux

package iouring

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	uring "github.com/dshulyak/uring"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Ring is the production Backend over an io_uring instance. A single
// reactor goroutine drains the completion queue and dispatches callbacks
// registered under each SQE's user data.
type Ring struct {
	ring *uring.Ring
	log  *zap.Logger

	// mu serializes submission-queue access between submitting tasks.
	mu sync.Mutex
	// ops maps SQE user data to the in-flight operation.
	ops    sync.Map
	nextID uint64

	closed uint32
}

type ringOp struct {
	accept bool
	// addr is the pinned peer-address slot of an accept, filled at
	// completion time.
	addr *unix.RawSockaddrInet4
	h    *Handle
	cb   Callback
}

// NewRing sets up an io_uring instance with the given submission-queue size
// and starts its reactor goroutine. A nil logger disables logging.
func NewRing(entries uint, logger *zap.Logger) (*Ring, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ur, err := uring.Setup(entries, nil)
	if err != nil {
		return nil, err
	}
	r := &Ring{ring: ur, log: logger}
	logger.Info("io_uring instance initiated", zap.Uint("entries", entries))
	go r.reactor()
	return r, nil
}

// Close tears down the ring. Operations still in flight complete with
// -ECANCELED. Each operation is claimed with LoadAndDelete so that the
// reactor, which claims the same way while dispatching late CQEs, and
// Close never both complete the same operation.
func (r *Ring) Close() error {
	atomic.StoreUint32(&r.closed, 1)
	r.mu.Lock()
	err := r.ring.Close()
	r.mu.Unlock()
	r.ops.Range(func(key, value any) bool {
		op, ok := r.claim(key.(uint64))
		if !ok {
			return true
		}
		op.h.Complete(-int32(unix.ECANCELED))
		op.cb(-int32(unix.ECANCELED))
		return true
	})
	return err
}

// claim removes and returns the operation registered under id. The
// reactor, Close's cancel sweep and a submit racing Close all claim
// before completing, so exactly one of them delivers each operation.
func (r *Ring) claim(id uint64) (*ringOp, bool) {
	v, ok := r.ops.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(*ringOp), true
}

// reactor drains the completion queue and invokes callbacks. It is the
// "completion delivery" execution context: callbacks run here, never on a
// submitting task.
func (r *Ring) reactor() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for {
		cqe, err := r.ring.GetCQEntry(1)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			if atomic.LoadUint32(&r.closed) == 1 {
				return
			}
			r.log.Warn("completion queue wait failed", zap.Error(err))
			continue
		}

		op, ok := r.claim(cqe.UserData())
		if !ok {
			r.log.Warn("completion without matching operation",
				zap.Uint64("userdata", cqe.UserData()))
			continue
		}

		res := cqe.Result()
		if op.accept && res >= 0 && op.addr != nil {
			fillPeerAddr(int(res), op.addr)
		}
		op.h.Complete(res)
		op.cb(res)
	}
}

// submit registers op, preps one SQE under the submission lock and pushes
// it to the kernel. Submission failures complete the operation immediately
// so the callback contract holds.
func (r *Ring) submit(op *ringOp, prep func(sqe *uring.SQEntry)) *Handle {
	id := atomic.AddUint64(&r.nextID, 1)
	r.ops.Store(id, op)

	// The closed check runs under the submission lock, which Close also
	// holds while tearing down the ring: once registered, an operation
	// is either pushed to a live ring, drained by Close's cancel sweep,
	// or claimed back here, never lost and never completed twice.
	r.mu.Lock()
	if atomic.LoadUint32(&r.closed) == 1 {
		r.mu.Unlock()
		if _, ok := r.claim(id); ok {
			res := -int32(unix.ECANCELED)
			go func() {
				op.h.Complete(res)
				op.cb(res)
			}()
		}
		return op.h
	}
	sqe := r.ring.GetSQEntry()
	prep(sqe)
	sqe.SetUserData(id)
	_, err := r.ring.Submit(0)
	r.mu.Unlock()

	if err != nil {
		r.log.Warn("submission failed", zap.Error(err))
		if _, ok := r.claim(id); ok {
			// Deliver off the submitting goroutine: the submitter may
			// hold the component lock the callback acquires.
			res := submitErrno(err)
			go func() {
				op.h.Complete(res)
				op.cb(res)
			}()
		}
	}
	return op.h
}

// Accept implements Backend. The pinned uring version ships no accept
// prep helper, so the SQE is built with the generic setters; the peer
// address slot is filled via Getpeername at completion time instead of
// through the accept's own out-parameters.
func (r *Ring) Accept(fd int, addr *unix.RawSockaddrInet4, cb Callback) *Handle {
	op := &ringOp{accept: true, addr: addr, h: NewHandle(), cb: cb}
	return r.submit(op, func(sqe *uring.SQEntry) {
		sqe.SetOpcode(uring.IORING_OP_ACCEPT)
		sqe.SetFD(int32(fd))
		sqe.SetAddr(0)
		sqe.SetLen(0)
		sqe.SetOffset(0)
	})
}

// Connect implements Backend. The connect itself runs on a dedicated
// goroutine (one per socket lifetime): the pinned uring version lacks a
// connect opcode wrapper, and a blocking connect behind the same
// callback contract is indistinguishable to the engine.
func (r *Ring) Connect(fd int, addr *unix.RawSockaddrInet4, cb Callback) *Handle {
	h := NewHandle()
	sa := &unix.SockaddrInet4{
		Port: int(binary.BigEndian.Uint16((*[2]byte)(unsafe.Pointer(&addr.Port))[:])),
	}
	sa.Addr = addr.Addr
	go func() {
		var res int32
		if err := unix.Connect(fd, sa); err != nil {
			res = submitErrno(err)
		}
		h.Complete(res)
		cb(res)
	}()
	return h
}

// Readv implements Backend.
func (r *Ring) Readv(fd int, iovs []unix.Iovec, cb Callback) *Handle {
	op := &ringOp{h: NewHandle(), cb: cb}
	vecs := sysIovecs(iovs)
	return r.submit(op, func(sqe *uring.SQEntry) {
		uring.Readv(sqe, uintptr(fd), vecs, 0, 0)
	})
}

// Writev implements Backend.
func (r *Ring) Writev(fd int, iovs []unix.Iovec, cb Callback) *Handle {
	op := &ringOp{h: NewHandle(), cb: cb}
	vecs := sysIovecs(iovs)
	return r.submit(op, func(sqe *uring.SQEntry) {
		uring.Writev(sqe, uintptr(fd), vecs, 0, 0)
	})
}

// sysIovecs reinterprets x/sys iovecs as syscall iovecs; the layouts are
// identical and the underlying array is pinned by the caller.
func sysIovecs(iovs []unix.Iovec) []syscall.Iovec {
	return *(*[]syscall.Iovec)(unsafe.Pointer(&iovs))
}

// fillPeerAddr writes the accepted connection's peer address into the
// pinned slot before the accept callback observes it.
func fillPeerAddr(fd int, out *unix.RawSockaddrInet4) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return
	}
	out.Family = unix.AF_INET
	binary.BigEndian.PutUint16((*[2]byte)(unsafe.Pointer(&out.Port))[:], uint16(sa4.Port))
	out.Addr = sa4.Addr
}

func submitErrno(err error) int32 {
	if errno, ok := err.(syscall.Errno); ok {
		return -int32(errno)
	}
	return -int32(unix.EIO)
}
