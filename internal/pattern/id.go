package pattern

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/minio/highwayhash"
)

// idKey is fixed: branch identifiers must be stable across processes and
// runs, not unique per host.
var idKey = []byte("loom.branch.id.v1...loom.branch.")

// BranchID derives the deterministic identifier of a branch from its owning
// target and its ordered input slices. The identifier is stable across runs
// when the inputs are unchanged and changes predictably when they change;
// it is not meant to be human-friendly.
func BranchID(owner string, slices []SliceRef) string {
	h, err := highwayhash.New64(idKey)
	if err != nil {
		// The key is a compile-time constant of the required length.
		panic(fmt.Sprintf("pattern: bad branch id key: %v", err))
	}

	writeField := func(data []byte) {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(data)))
		h.Write(length[:])
		h.Write(data)
	}

	writeField([]byte(owner))
	for _, s := range slices {
		writeField([]byte(s.Target))
		var idx [8]byte
		binary.BigEndian.PutUint64(idx[:], uint64(s.Index))
		writeField(idx[:])
	}

	sum := h.Sum(nil)
	return owner + "@" + hex.EncodeToString(sum)
}
