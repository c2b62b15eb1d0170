package iobuf

// Arena allocates backing storage whose address stays fixed for as long as
// the storage is referenced. The socket components carve their ring storage,
// iovec vectors and peer-address slots from an Arena so that an in-flight
// kernel operation can keep a raw pointer into them.
//
// The ordinary implementation is HeapArena. Deployments that must place
// kernel-visible buffers in a dedicated region (e.g. untrusted memory
// outside a trusted execution environment) substitute their own Arena at
// socket construction.
type Arena interface {
	// Alloc returns n zeroed bytes that will not move or be reclaimed
	// while referenced.
	Alloc(n int) []byte
}

// HeapArena allocates from the ordinary heap. Go heap objects do not move,
// so a plain allocation already satisfies the pinning contract.
type HeapArena struct{}

// Alloc implements Arena.
func (HeapArena) Alloc(n int) []byte {
	return make([]byte, n)
}
