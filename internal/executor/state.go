package executor

import (
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/loomworks/loom/internal/fingerprint"
)

// State is a node's position in the execution state machine.
//
//	Pending → Stale|UpToDate
//	Stale → Expanding (dynamic targets only) → Ready → Running → Done|Errored
//	UpToDate → Done (short-circuit, no Running)
type State int

const (
	Pending State = iota
	Stale
	UpToDate
	Expanding
	Ready
	Running
	Done
	Errored
)

// String returns the state name for logs and reports.
func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Stale:
		return "Stale"
	case UpToDate:
		return "UpToDate"
	case Expanding:
		return "Expanding"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Done:
		return "Done"
	case Errored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	return s == Done || s == Errored
}

// Status is the externally visible snapshot of one node, consumed by
// progress reporting.
type Status struct {
	ID      string
	State   State
	Started time.Time
	Elapsed time.Duration
	Err     error
}

// nodeState is the coordinator-owned execution state of one node. Fields
// mirrored into Status are guarded by the executor mutex; the bookkeeping
// fields are touched by the coordinator goroutine only.
type nodeState struct {
	state   State
	err     error
	started time.Time
	elapsed time.Duration

	// value is the node's materialized result, set once Done.
	value    cty.Value
	hasValue bool
	// fp is the node's current fingerprint sum, set once Done.
	fp string
	// ran records whether the node performed a Running transition this
	// session. Staleness propagates: a dependent of a node that ran is
	// unconditionally stale.
	ran bool
	// record is the committed (or reused) fingerprint record.
	record *fingerprint.Record

	// remainingDeps counts not-yet-Done dependencies; a node resolves at
	// zero. Splicing branches raises the owner's count.
	remainingDeps int
	// sliceVals binds pattern input names to this branch's slice values.
	sliceVals map[string]cty.Value
	// sliceRefVals holds the same slice values positionally, aligned with
	// the branch node's Slices, for per-slice content hashing.
	sliceRefVals []cty.Value
}
