package identity

import (
	"crypto/md5"
	"testing"
)

func TestPeerHash_MatchesManualConcatenation(t *testing.T) {
	addr := []byte{192, 168, 1, 1}
	rd := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	var routerHash [16]byte
	copy(routerHash[:], []byte("0123456789abcdef"))

	got := PeerHash(addr, rd, routerHash)

	want := md5.Sum(append(append(append([]byte{}, addr...), rd...), routerHash[:]...))
	if got != want {
		t.Fatalf("PeerHash mismatch: got %x, want %x", got, want)
	}
}

func TestPeerHash_DifferentAddrDifferentHash(t *testing.T) {
	rd := make([]byte, 8)
	var routerHash [16]byte

	h1 := PeerHash([]byte{10, 0, 0, 1}, rd, routerHash)
	h2 := PeerHash([]byte{10, 0, 0, 2}, rd, routerHash)

	if h1 == h2 {
		t.Fatal("expected different peer addresses to produce different hashes")
	}
}

func TestPeerHash_DifferentRouterSameAddr(t *testing.T) {
	addr := []byte{10, 0, 0, 1}
	rd := make([]byte, 8)

	var routerHashA, routerHashB [16]byte
	routerHashA[0] = 1
	routerHashB[0] = 2

	h1 := PeerHash(addr, rd, routerHashA)
	h2 := PeerHash(addr, rd, routerHashB)

	if h1 == h2 {
		t.Fatal("expected the same peer on different routers to produce different hashes")
	}
}

func TestPeerHash_IPv6AddrLength(t *testing.T) {
	addr := make([]byte, 16)
	addr[15] = 1
	rd := make([]byte, 8)
	var routerHash [16]byte

	h := PeerHash(addr, rd, routerHash)
	if h == ([16]byte{}) {
		t.Fatal("expected non-zero hash for IPv6 peer address")
	}
}
