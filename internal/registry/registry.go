// Package registry tracks per-peer state for the lifetime of a single BMP
// connection: the peer's content-addressed hash, whether its FIRST record
// has been emitted, and the BGP capabilities negotiated on its last PEER_UP.
package registry

import (
	"sync"

	"github.com/route-beacon/bmp-collector/internal/bgp"
)

// Key identifies a peer within a connection by its BMP per-peer header
// address and route distinguisher. Using a struct key rather than string
// concatenation (as the address+RD are variable-width byte strings) avoids
// the ambiguity a naive `addr+rd` join can introduce when two different
// (addr, rd) pairs happen to concatenate to the same bytes.
type Key struct {
	PeerAddr string // net.IP.String() of the per-peer header address
	PeerRD   string // hex-encoded 8-byte route distinguisher
}

// Info holds everything the dispatcher needs to remember about a peer
// across messages on one connection.
type Info struct {
	Hash         [16]byte
	FirstEmitted bool
	Capabilities bgp.Capabilities
	HasAddPath   bool // negotiated for IPv4/IPv6 unicast, used for ParseUpdate
}

// Registry is a per-connection peer table. Its methods take a mutex, so
// the map itself is safe for concurrent use; the *Info values it hands
// out are not guarded and are read and written by the connection's
// single-threaded dispatch loop.
type Registry struct {
	mu    sync.Mutex
	peers map[Key]*Info
}

// New returns an empty peer registry, scoped to one connection's lifetime.
func New() *Registry {
	return &Registry{peers: make(map[Key]*Info)}
}

// GetOrCreate returns the Info for key, creating a zero-value entry if this
// is the first time the peer has been seen on this connection. The second
// return value reports whether the entry already existed.
func (r *Registry) GetOrCreate(key Key) (*Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.peers[key]; ok {
		return info, true
	}
	info := &Info{}
	r.peers[key] = info
	return info, false
}

// Len reports the number of peers currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
