package fingerprint

// Record is the persisted fingerprint of one node (target or branch) at its
// last successful run.
//
// A record is valid only if every field was computed in the same execution.
// The Sum field covers all other fields; a record whose Sum does not verify
// (including one that was never fully written) is treated as absent.
type Record struct {
	// CommandHash covers the command source text, and for dynamic targets
	// the pattern source text as well.
	CommandHash string `json:"command_hash"`

	// DepHashes maps each dependency to the fingerprint it had when this
	// node last ran. For a branch, the keys are its input slice
	// identities and the values are content hashes of the slices.
	DepHashes map[string]string `json:"dep_hashes,omitempty"`

	// DataHash is the content hash of the value the node returned.
	DataHash string `json:"data_hash"`

	// Format is the storage format tag the value was persisted with.
	Format string `json:"format"`

	// Location is the opaque result store location of the value.
	Location string `json:"location"`

	// Messages holds warning and error text from the recorded run.
	Messages []string `json:"messages,omitempty"`

	// Sum seals the record.
	Sum string `json:"sum"`
}

// seal computes the hash covering every other field of the record.
func (r *Record) seal() string {
	f := newHasher()
	f.field([]byte(r.CommandHash))
	for _, k := range sortedKeys(r.DepHashes) {
		f.field([]byte(k))
		f.field([]byte(r.DepHashes[k]))
	}
	f.field([]byte(r.DataHash))
	f.field([]byte(r.Format))
	f.field([]byte(r.Location))
	for _, m := range r.Messages {
		f.field([]byte(m))
	}
	return f.sum()
}

// Seal fills in the Sum field. Write calls this; it is exported for tests
// that construct records by hand.
func (r *Record) Seal() {
	r.Sum = r.seal()
}

// Valid reports whether the record's seal verifies.
func (r *Record) Valid() bool {
	return r.Sum != "" && r.Sum == r.seal()
}
