package pipeline

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/loomworks/loom/internal/ctxlog"
	"github.com/loomworks/loom/internal/fsutil"
)

// Defaults are applied to declarations that omit optional attributes. They
// come from the run configuration, not from package-level state.
type Defaults struct {
	Iterate Mode
	Format  string
}

// hclTarget represents a single 'target' block for initial decoding.
type hclTarget struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// hclPipelineFile represents the top-level structure of a declaration file.
type hclPipelineFile struct {
	Targets []*hclTarget `hcl:"target,block"`
}

var targetBodySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "command", Required: true},
		{Name: "pattern"},
		{Name: "iterate"},
		{Name: "format"},
		{Name: "cue"},
	},
}

// Load finds and parses all HCL declaration files under path into a
// Pipeline. Duplicate target names and invalid identifiers are load errors.
func Load(ctx context.Context, path string, defaults Defaults) (*Pipeline, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading pipeline declarations.", "path", path)

	files, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("failed to find declaration files in %s: %w", path, err)
	}

	p := &Pipeline{byName: make(map[string]*Target)}
	if len(files) == 0 {
		logger.Warn("No .hcl declaration files found in path, returning empty pipeline.", "path", path)
		return p, nil
	}

	parser := hclparse.NewParser()
	for _, file := range files {
		targets, err := loadFile(file, parser, defaults)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if prev, exists := p.byName[t.Name]; exists {
				return nil, fmt.Errorf("duplicate target %q: declared at %s and %s",
					t.Name, prev.DeclRange.String(), t.DeclRange.String())
			}
			p.byName[t.Name] = t
			p.Targets = append(p.Targets, t)
		}
	}

	logger.Debug("Pipeline loaded.", "target_count", len(p.Targets))
	return p, nil
}

// loadFile parses a single HCL file and returns the targets found within it.
func loadFile(filePath string, parser *hclparse.Parser, defaults Defaults) ([]*Target, error) {
	hclFile, diags := parser.ParseHCLFile(filePath)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse declaration file %s: %w", filePath, diags)
	}

	var parsedFile hclPipelineFile
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &parsedFile); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode declaration file %s: %w", filePath, diags)
	}

	targets := make([]*Target, 0, len(parsedFile.Targets))
	for _, block := range parsedFile.Targets {
		t, err := newTargetFromHCL(block, hclFile, defaults)
		if err != nil {
			return nil, fmt.Errorf("error in declaration file %s: %w", filePath, err)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// newTargetFromHCL builds a Target from a parsed HCL target block.
func newTargetFromHCL(block *hclTarget, file *hcl.File, defaults Defaults) (*Target, error) {
	if !hclsyntax.ValidIdentifier(block.Name) {
		return nil, fmt.Errorf("invalid target name %q: must be a valid identifier", block.Name)
	}

	content, diags := block.Body.Content(targetBodySchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid target %q: %w", block.Name, diags)
	}

	t := &Target{
		Name:      block.Name,
		Iterate:   defaults.Iterate,
		Format:    defaults.Format,
		Cue:       CueContent,
		DeclRange: content.MissingItemRange,
	}

	cmdAttr := content.Attributes["command"]
	t.Command = cmdAttr.Expr
	t.CommandSrc = exprSource(file, cmdAttr.Expr)
	t.DeclRange = cmdAttr.Range

	if attr, ok := content.Attributes["pattern"]; ok {
		t.Pattern = attr.Expr
		t.PatternSrc = exprSource(file, attr.Expr)
	}

	if s, err := literalString(content.Attributes, "iterate"); err != nil {
		return nil, fmt.Errorf("target %q: %w", block.Name, err)
	} else if s != "" {
		mode, err := ParseMode(s)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", block.Name, err)
		}
		t.Iterate = mode
	}

	if s, err := literalString(content.Attributes, "format"); err != nil {
		return nil, fmt.Errorf("target %q: %w", block.Name, err)
	} else if s != "" {
		switch s {
		case "json", "text":
			t.Format = s
		default:
			return nil, fmt.Errorf("target %q: invalid format %q: must be 'json' or 'text'", block.Name, s)
		}
	}

	if s, err := literalString(content.Attributes, "cue"); err != nil {
		return nil, fmt.Errorf("target %q: %w", block.Name, err)
	} else if s != "" {
		cue, err := ParseCue(s)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", block.Name, err)
		}
		t.Cue = cue
	}

	return t, nil
}

// literalString evaluates the named attribute as a constant string. The
// iterate/format/cue attributes cannot reference other targets.
func literalString(attrs hcl.Attributes, name string) (string, error) {
	attr, ok := attrs[name]
	if !ok {
		return "", nil
	}
	if len(attr.Expr.Variables()) > 0 {
		return "", fmt.Errorf("the %q attribute must be a literal string", name)
	}
	val, diags := attr.Expr.Value(nil)
	if diags.HasErrors() {
		return "", fmt.Errorf("invalid %q attribute: %w", name, diags)
	}
	if val.Type() != cty.String {
		return "", fmt.Errorf("the %q attribute must be a string", name)
	}
	return val.AsString(), nil
}

// exprSource extracts the exact source text of an expression from its file.
func exprSource(file *hcl.File, expr hcl.Expression) string {
	rng := expr.Range()
	if rng.Start.Byte < 0 || rng.End.Byte > len(file.Bytes) || rng.Start.Byte > rng.End.Byte {
		return ""
	}
	return string(file.Bytes[rng.Start.Byte:rng.End.Byte])
}
