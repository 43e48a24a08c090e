// Package fingerprint computes and persists per-node content fingerprints
// and answers whether a node's cached result is still valid.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"

	"github.com/minio/highwayhash"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// hashKey is fixed: fingerprints must compare equal across processes and
// machines.
var hashKey = []byte("loom.fingerprint.v1..loom.fingpr")

func newHasher() *fieldHasher {
	h, err := highwayhash.New(hashKey)
	if err != nil {
		// The key is a compile-time constant of the required length.
		panic(fmt.Sprintf("fingerprint: bad hash key: %v", err))
	}
	return &fieldHasher{h: h}
}

// fieldHasher hashes length-prefixed fields so that adjacent fields can
// never be confused for one another.
type fieldHasher struct {
	h hash.Hash
}

func (f *fieldHasher) field(data []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	f.h.Write(length[:])
	f.h.Write(data)
}

func (f *fieldHasher) sum() string {
	return hex.EncodeToString(f.h.Sum(nil))
}

// HashBytes returns the content hash of a byte string.
func HashBytes(data []byte) string {
	f := newHasher()
	f.field(data)
	return f.sum()
}

// HashCommand fingerprints command (or pattern) source text.
func HashCommand(src string) string {
	return HashBytes([]byte(src))
}

// HashValue fingerprints a value by content, not identity: the value is
// first reduced to its canonical JSON encoding (cty serializes object and
// map entries in sorted key order), so two equal values always hash
// identically regardless of how they were produced.
func HashValue(v cty.Value) (string, error) {
	data, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize value for hashing: %w", err)
	}
	typeData, err := ctyjson.MarshalType(v.Type())
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize value type for hashing: %w", err)
	}
	f := newHasher()
	f.field(typeData)
	f.field(data)
	return f.sum(), nil
}

// sortedKeys returns map keys in deterministic order for hashing.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
