package fingerprint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/loomworks/loom/internal/ctxlog"
	"github.com/loomworks/loom/internal/pipeline"
	"github.com/loomworks/loom/internal/store"
)

// StoreIOError reports a fingerprint or result store failure. It is fatal
// for the affected node and propagates downstream as a dependency failure.
type StoreIOError struct {
	NodeID string
	Err    error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("store I/O failure for %s: %v", e.NodeID, e.Err)
}

func (e *StoreIOError) Unwrap() error { return e.Err }

// Store persists one fingerprint record per node under a directory.
type Store struct {
	dir string
}

// NewStore opens (creating if needed) a fingerprint store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create fingerprint store directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Read returns the valid record for a node, or ok=false when the record is
// missing, unreadable, or fails its seal check. A partially-written record
// is indistinguishable from an absent one.
func (s *Store) Read(id string) (*Record, bool) {
	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	if !rec.Valid() {
		return nil, false
	}
	return &rec, true
}

// Write seals and atomically persists a node's record. The rename-based
// commit guarantees a crash mid-write never leaves a readable half-record.
func (s *Store) Write(id string, rec *Record) error {
	rec.Seal()
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &StoreIOError{NodeID: id, Err: err}
	}
	if err := renameio.WriteFile(s.pathFor(id), data, 0o644); err != nil {
		return &StoreIOError{NodeID: id, Err: err}
	}
	return nil
}

// Delete removes a node's record. A missing record is not an error.
func (s *Store) Delete(id string) error {
	err := os.Remove(s.pathFor(id))
	if err != nil && !os.IsNotExist(err) {
		return &StoreIOError{NodeID: id, Err: err}
	}
	return nil
}

// Check is the result of an up-to-date decision.
type Check struct {
	UpToDate bool
	// Reason explains a stale decision for reporting: "no record",
	// "command changed", "dependency changed", "data missing",
	// "data changed", or "cue=always".
	Reason string
	// Record is the prior record when one exists, regardless of outcome.
	Record *Record
	// Value is the stored value, loaded as a side effect of verifying the
	// data hash. Only meaningful when UpToDate is true and the cue policy
	// required the data check.
	Value cty.Value
	// Loaded reports whether Value was populated.
	Loaded bool
}

// IsUpToDate decides whether a node may skip execution.
//
// A node is up to date iff a valid record exists, the command hash matches,
// every dependency's current fingerprint matches the recorded one, and the
// stored data still exists and re-hashes to the recorded data hash. The cue
// policy can tighten (always) or loosen (never) the decision. Callers must
// additionally treat any node with a stale dependency as stale; that
// propagation is scheduling state this package cannot see.
func (s *Store) IsUpToDate(ctx context.Context, id string, cue pipeline.Cue, cmdHash string, depHashes map[string]string, format string, rs store.Store) Check {
	logger := ctxlog.FromContext(ctx)

	if cue == pipeline.CueAlways {
		return Check{Reason: "cue=always"}
	}

	rec, ok := s.Read(id)
	if !ok {
		return Check{Reason: "no record"}
	}

	if cue == pipeline.CueNever {
		return Check{UpToDate: true, Record: rec}
	}

	if rec.CommandHash != cmdHash {
		return Check{Reason: "command changed", Record: rec}
	}
	if len(rec.DepHashes) != len(depHashes) {
		return Check{Reason: "dependency changed", Record: rec}
	}
	for dep, h := range depHashes {
		if rec.DepHashes[dep] != h {
			return Check{Reason: "dependency changed", Record: rec}
		}
	}
	if rec.Format != format {
		return Check{Reason: "format changed", Record: rec}
	}

	exists, err := rs.Exists(ctx, rec.Location)
	if err != nil || !exists {
		return Check{Reason: "data missing", Record: rec}
	}
	v, err := rs.Load(ctx, rec.Location, rec.Format)
	if err != nil {
		logger.Warn("Stored data unreadable, treating node as stale.", "node", id, "error", err)
		return Check{Reason: "data missing", Record: rec}
	}
	dataHash, err := HashValue(v)
	if err != nil || dataHash != rec.DataHash {
		return Check{Reason: "data changed", Record: rec}
	}

	return Check{UpToDate: true, Record: rec, Value: v, Loaded: true}
}
