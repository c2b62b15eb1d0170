package asock

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestResolveInet4(t *testing.T) {
	raw, err := ResolveInet4("192.168.1.20:8080")
	require.NoError(t, err)
	assert.Equal(t, uint16(unix.AF_INET), raw.Family)
	assert.Equal(t, [4]byte{192, 168, 1, 20}, raw.Addr)
	assert.Equal(t, uint16(8080), port(&raw))
}

func TestResolveInet4Invalid(t *testing.T) {
	_, err := ResolveInet4("not an address")
	assert.Error(t, err)
}

func TestTCPAddrRoundTrip(t *testing.T) {
	raw, err := ResolveInet4("10.1.2.3:443")
	require.NoError(t, err)

	addr := TCPAddr(&raw)
	assert.Equal(t, "10.1.2.3:443", addr.String())
}

// The port travels in network byte order inside the raw form.
func TestPortByteOrder(t *testing.T) {
	var raw unix.RawSockaddrInet4
	putPort(&raw, 0x1234)
	assert.Equal(t, uint16(0x1234), port(&raw))

	b := (*[2]byte)(unsafe.Pointer(&raw.Port))
	assert.Equal(t, byte(0x12), b[0])
	assert.Equal(t, byte(0x34), b[1])
}
