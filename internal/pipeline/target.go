// Package pipeline defines the declaration model for the engine: a set of
// named targets loaded from HCL files.
//
// Why store raw hcl.Expression fields?
//
// A target's command references other targets by name, and those values do
// not exist until the referenced targets have run. The model therefore
// captures the user's intent as an unevaluated expression; the executor
// resolves it against an hcl.EvalContext once dependency values are
// available. The same applies to the pattern expression, which can only be
// expanded once the sizes of its inputs are known.
package pipeline

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
)

// Mode is the iteration mode of a target: how its value is partitioned into
// slices when it feeds a pattern, and how branch results are recombined when
// the target is referenced as a whole.
type Mode int

const (
	// ModeVector slices element-wise and combines by order-preserving
	// concatenation with homogeneous-type semantics.
	ModeVector Mode = iota
	// ModeList slices by index and combines into a tuple; heterogeneity
	// between slices is never an error.
	ModeList
	// ModeGroup slices by the group keys attached to the value (one branch
	// per key) and combines by merging the groups back into one object.
	ModeGroup
)

// String returns the declaration-surface spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeVector:
		return "vector"
	case ModeList:
		return "list"
	case ModeGroup:
		return "group"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a declaration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "vector":
		return ModeVector, nil
	case "list":
		return ModeList, nil
	case "group":
		return ModeGroup, nil
	default:
		return 0, fmt.Errorf("invalid iterate mode %q: must be 'vector', 'list', or 'group'", s)
	}
}

// Cue is the policy deciding when a target's cached result may be trusted.
type Cue int

const (
	// CueContent trusts a cached result only when command, dependency, and
	// data fingerprints all match. This is the default.
	CueContent Cue = iota
	// CueAlways never trusts a cached result; the target runs every time.
	CueAlways
	// CueNever trusts any valid cached record, skipping dependency and
	// data checks.
	CueNever
)

// String returns the declaration-surface spelling of the cue policy.
func (c Cue) String() string {
	switch c {
	case CueContent:
		return "content"
	case CueAlways:
		return "always"
	case CueNever:
		return "never"
	default:
		return fmt.Sprintf("Cue(%d)", int(c))
	}
}

// ParseCue converts a declaration string into a Cue policy.
func ParseCue(s string) (Cue, error) {
	switch s {
	case "content":
		return CueContent, nil
	case "always":
		return CueAlways, nil
	case "never":
		return CueNever, nil
	default:
		return 0, fmt.Errorf("invalid cue policy %q: must be 'content', 'always', or 'never'", s)
	}
}

// Target is the format-agnostic representation of a `target` block. It is
// immutable for the duration of one execution and replaced wholesale on the
// next declaration load.
type Target struct {
	Name string

	// Command is the unevaluated computation expression.
	Command hcl.Expression
	// CommandSrc is the exact source text of the command, captured for
	// fingerprinting. Whitespace-only edits count as changes.
	CommandSrc string

	// Pattern is the branching expression, or nil for a static target.
	Pattern hcl.Expression
	// PatternSrc is the exact source text of the pattern, empty when static.
	PatternSrc string

	Iterate Mode
	Format  string
	Cue     Cue

	DeclRange hcl.Range
}

// IsDynamic reports whether the target declares a branching pattern.
func (t *Target) IsDynamic() bool {
	return t.Pattern != nil
}

// Pipeline is the root container for all targets loaded from a declaration
// path. Declaration order is preserved.
type Pipeline struct {
	Targets []*Target

	byName map[string]*Target
}

// Target returns the declared target with the given name, if any.
func (p *Pipeline) Target(name string) (*Target, bool) {
	t, ok := p.byName[name]
	return t, ok
}

// Names returns the set of declared target identifiers in declaration order.
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.Targets))
	for _, t := range p.Targets {
		names = append(names, t.Name)
	}
	return names
}
