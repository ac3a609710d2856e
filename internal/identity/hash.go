// Package identity derives the content-addressed hashes that key router
// and peer records across the bus, independent of any database's
// auto-increment identifiers.
package identity

import "crypto/md5"

// PeerHash computes a peer's content-addressed identity as
// MD5(peerAddr || peerRD || routerHash). The peer's BGP identifier is
// deliberately excluded: a known upstream defect on some IOS-XR releases
// resends 0.0.0.0 as the peer BGP ID on subsequent PEER_UP notifications
// for the same session, which would otherwise churn the hash.
func PeerHash(peerAddr, peerRD []byte, routerHash [16]byte) [16]byte {
	h := md5.New()
	h.Write(peerAddr)
	h.Write(peerRD)
	h.Write(routerHash[:])

	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}
