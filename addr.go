package asock

import (
	"encoding/binary"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/y001j/asock/iobuf"
)

// The wire representation of an endpoint is unix.RawSockaddrInet4: family,
// port in network byte order, address, padding. These helpers convert at
// the public API boundary.

// ResolveInet4 resolves a "host:port" string to the raw IPv4 form.
func ResolveInet4(addr string) (unix.RawSockaddrInet4, error) {
	var raw unix.RawSockaddrInet4
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return raw, err
	}
	raw.Family = unix.AF_INET
	putPort(&raw, uint16(tcpAddr.Port))
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(raw.Addr[:], ip4)
	}
	return raw, nil
}

// TCPAddr converts the raw IPv4 form back to a net.TCPAddr.
func TCPAddr(raw *unix.RawSockaddrInet4) *net.TCPAddr {
	return &net.TCPAddr{
		IP:   net.IPv4(raw.Addr[0], raw.Addr[1], raw.Addr[2], raw.Addr[3]),
		Port: int(port(raw)),
	}
}

func sockaddrInet4(raw *unix.RawSockaddrInet4) *unix.SockaddrInet4 {
	sa := &unix.SockaddrInet4{Port: int(port(raw))}
	sa.Addr = raw.Addr
	return sa
}

func putPort(raw *unix.RawSockaddrInet4, p uint16) {
	binary.BigEndian.PutUint16((*[2]byte)(unsafe.Pointer(&raw.Port))[:], p)
}

func port(raw *unix.RawSockaddrInet4) uint16 {
	return binary.BigEndian.Uint16((*[2]byte)(unsafe.Pointer(&raw.Port))[:])
}

// arenaSlice carves n values of type T from arena-pinned storage, so the
// kernel may hold pointers into the result across completions.
func arenaSlice[T any](arena iobuf.Arena, n int) []T {
	var zero T
	raw := arena.Alloc(n * int(unsafe.Sizeof(zero)))
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), n)
}
