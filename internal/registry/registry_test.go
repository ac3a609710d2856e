package registry

import "testing"

func TestGetOrCreate_FirstSeenThenExisting(t *testing.T) {
	r := New()
	key := Key{PeerAddr: "10.0.0.1", PeerRD: "0000000000000000"}

	info, existed := r.GetOrCreate(key)
	if existed {
		t.Fatal("expected first GetOrCreate to report not existed")
	}
	info.FirstEmitted = true

	again, existed := r.GetOrCreate(key)
	if !existed {
		t.Fatal("expected second GetOrCreate to report existed")
	}
	if !again.FirstEmitted {
		t.Fatal("expected the same Info pointer to be returned")
	}
}

func TestGetOrCreate_DistinctRDsAreDistinctPeers(t *testing.T) {
	r := New()
	a, _ := r.GetOrCreate(Key{PeerAddr: "10.0.0.1", PeerRD: "0000000000000000"})
	b, _ := r.GetOrCreate(Key{PeerAddr: "10.0.0.1", PeerRD: "0000000000000001"})

	if a == b {
		t.Fatal("expected distinct route distinguishers to yield distinct peer entries")
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 tracked peers, got %d", r.Len())
	}
}
