package asock

import (
	"net"
	"sync"

	gmath "github.com/panjf2000/gnet/v2/pkg/math"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/y001j/asock/iobuf"
	"github.com/y001j/asock/iouring"
)

// DefaultBufferCap is the default sender/receiver ring capacity. Buffer
// caps are always converted to the least power of two greater than or
// equal to the requested amount.
const DefaultBufferCap = 64 * 1024

type config struct {
	sendBufCap int
	recvBufCap int
	arena      iobuf.Arena
	reuseAddr  bool
	reusePort  bool
	noDelay    bool
	keepAlive  int
	logger     *zap.Logger
}

// Option configures a socket at creation.
type Option func(*config)

// WithSendBufferCap sets the send ring capacity (rounded up to a power of
// two).
func WithSendBufferCap(n int) Option {
	return func(c *config) { c.sendBufCap = n }
}

// WithRecvBufferCap sets the receive ring capacity (rounded up to a power
// of two).
func WithRecvBufferCap(n int) Option {
	return func(c *config) { c.recvBufCap = n }
}

// WithArena injects the backing-storage allocator for all kernel-visible
// buffers: ring storage, iovec vectors and peer-address slots.
func WithArena(a iobuf.Arena) Option {
	return func(c *config) { c.arena = a }
}

// WithReuseAddr sets SO_REUSEADDR at creation.
func WithReuseAddr() Option {
	return func(c *config) { c.reuseAddr = true }
}

// WithReusePort sets SO_REUSEPORT at creation.
func WithReusePort() Option {
	return func(c *config) { c.reusePort = true }
}

// WithNoDelay disables Nagle's algorithm at creation.
func WithNoDelay() Option {
	return func(c *config) { c.noDelay = true }
}

// WithKeepAlive sets SO_KEEPALIVE with the given idle period in seconds.
func WithKeepAlive(secs int) Option {
	return func(c *config) { c.keepAlive = secs }
}

// WithLogger sets the logger for socket lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

func (c *config) normalize() {
	if c.sendBufCap <= 0 {
		c.sendBufCap = DefaultBufferCap
	}
	if c.recvBufCap <= 0 {
		c.recvBufCap = DefaultBufferCap
	}
	c.sendBufCap = gmath.CeilToPowerOfTwo(c.sendBufCap)
	c.recvBufCap = gmath.CeilToPowerOfTwo(c.recvBufCap)
	if c.arena == nil {
		c.arena = iobuf.HeapArena{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
}

// Socket is an asynchronous, buffered TCP socket. Its operations have
// blocking-call ergonomics but are internally driven through the
// completion-queue backend: a fast path against local buffers, then a
// poll-and-suspend retry when the fast path cannot make progress.
type Socket struct {
	common    *Common
	connector *Connector
	cfg       config

	// mu guards the lazily-created components below.
	mu       sync.Mutex
	acceptor *Acceptor
	sender   *Sender
	receiver *Receiver
}

// NewSocket creates a fresh TCP socket driven by the given backend.
func NewSocket(backend iouring.Backend, opts ...Option) (*Socket, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	cfg.normalize()

	common, err := newCommon(backend)
	if err != nil {
		return nil, err
	}
	if err := applySockOpts(common.Fd(), &cfg); err != nil {
		unix.Close(common.Fd())
		return nil, err
	}

	return &Socket{
		common:    common,
		connector: newConnector(common, cfg.arena),
		cfg:       cfg,
	}, nil
}

// newAcceptedSocket wraps a descriptor returned by Accept. The socket is
// already connected, so its stream halves come up immediately and the
// receiver starts pre-filling.
func newAcceptedSocket(backend iouring.Backend, fd int, cfg config) *Socket {
	common := newCommonFd(backend, fd)
	s := &Socket{
		common:    common,
		connector: newConnector(common, cfg.arena),
		cfg:       cfg,
	}
	s.sender = newSender(common, cfg.sendBufCap, cfg.arena)
	s.receiver = newReceiver(common, cfg.recvBufCap, cfg.arena)
	return s
}

// Fd returns the underlying file descriptor.
func (s *Socket) Fd() int {
	return s.common.Fd()
}

// Bind binds the socket to a local "host:port" address.
func (s *Socket) Bind(addr string) error {
	raw, err := ResolveInet4(addr)
	if err != nil {
		return err
	}
	return unix.Bind(s.common.Fd(), sockaddrInet4(&raw))
}

// Listen marks the socket as passive and arms the acceptor: the full
// in-flight accept pool (backlog clamped to [1, 16]) is submitted here,
// before the first Accept call, to minimize acceptance latency.
func (s *Socket) Listen(backlog int) error {
	if err := unix.Listen(s.common.Fd(), backlog); err != nil {
		return err
	}
	s.mu.Lock()
	if s.acceptor == nil {
		s.acceptor = newAcceptor(s.common, backlog, s.cfg.arena)
	}
	s.mu.Unlock()
	s.cfg.logger.Debug("listening", zap.Int("fd", s.common.Fd()),
		zap.Int("backlog", backlog))
	return nil
}

// Accept returns the next accepted connection and its peer address,
// suspending the calling goroutine until one is available. Connections
// are returned in completion order.
func (s *Socket) Accept() (*Socket, *net.TCPAddr, error) {
	s.mu.Lock()
	acceptor := s.acceptor
	s.mu.Unlock()
	if acceptor == nil {
		return nil, nil, unix.EINVAL
	}

	var raw unix.RawSockaddrInet4
	ret := acceptor.Accept(&raw)
	if ret < 0 {
		return nil, nil, unix.Errno(-ret)
	}

	conn := newAcceptedSocket(s.common.Backend(), int(ret), s.cfg)
	peer := TCPAddr(&raw)
	s.cfg.logger.Debug("accepted connection", zap.Int("fd", int(ret)),
		zap.Stringer("peer", peer))
	return conn, peer, nil
}

// Connect connects to a remote "host:port" address. It is single-shot: a
// second call fails with EISCONN, and a call after Shutdown fails with
// EPIPE. On success the stream halves come up and the receiver starts
// pre-filling.
func (s *Socket) Connect(addr string) error {
	raw, err := ResolveInet4(addr)
	if err != nil {
		return err
	}
	if ret := s.connector.Connect(&raw); ret < 0 {
		return unix.Errno(-ret)
	}

	s.mu.Lock()
	if s.sender == nil {
		s.sender = newSender(s.common, s.cfg.sendBufCap, s.cfg.arena)
		s.receiver = newReceiver(s.common, s.cfg.recvBufCap, s.cfg.arena)
	}
	s.mu.Unlock()
	s.cfg.logger.Debug("connected", zap.Int("fd", s.common.Fd()),
		zap.String("addr", addr))
	return nil
}

// Read reads buffered bytes into p, suspending until data, end-of-file or
// an error is available. It returns (0, nil) at end-of-file, matching
// blocking-socket semantics; EAGAIN is never surfaced.
func (s *Socket) Read(p []byte) (int, error) {
	s.mu.Lock()
	receiver := s.receiver
	s.mu.Unlock()
	if receiver == nil {
		return 0, unix.ENOTCONN
	}
	ret := receiver.Read(p)
	if ret < 0 {
		return 0, unix.Errno(-ret)
	}
	return int(ret), nil
}

// Write buffers bytes from p, suspending while the send buffer is full.
// It returns the number of bytes buffered, which may be less than len(p).
func (s *Socket) Write(p []byte) (int, error) {
	s.mu.Lock()
	sender := s.sender
	s.mu.Unlock()
	if sender == nil {
		return 0, unix.ENOTCONN
	}
	ret := sender.Write(p)
	if ret < 0 {
		return 0, unix.Errno(-ret)
	}
	return int(ret), nil
}

// Shutdown half-closes the socket. SHUT_RD takes effect at the OS level
// immediately; SHUT_WR is deferred until the send buffer drains. Either
// direction also unblocks a goroutine waiting inside Connect.
func (s *Socket) Shutdown(how int) error {
	if how != unix.SHUT_RD && how != unix.SHUT_WR && how != unix.SHUT_RDWR {
		return unix.EINVAL
	}

	s.connector.Shutdown()

	s.mu.Lock()
	sender, receiver := s.sender, s.receiver
	s.mu.Unlock()

	if how == unix.SHUT_RD || how == unix.SHUT_RDWR {
		if receiver != nil {
			receiver.Shutdown()
		}
	}
	if how == unix.SHUT_WR || how == unix.SHUT_RDWR {
		if sender != nil {
			sender.Shutdown()
		}
	}
	return nil
}

// Close releases the descriptor. Outstanding operations complete through
// the backend's guaranteed callbacks.
func (s *Socket) Close() error {
	s.connector.Shutdown()
	return s.common.Close()
}
