// Package block implements the typed markdown block parser: spec §4.1.
// Grounded on line-oriented tokenizing style in
// internal/processing/log_processor.go and internal/monitors'
// per-line-diagnostic parsing, generalized from log-line pipelines to
// markdown block headers/fields.
package block

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"mem-os/pkg/types"
)

// Diagnostic is one parse-time finding, sharing its shape with the
// Validator's output (spec §6.5) so both surfaces render identically.
type Diagnostic struct {
	Severity string // "info", "warn", "fail"
	File     string
	Line     int
	Message  string
}

// Result is everything ParseFile/ParseBytes produces.
type Result struct {
	Blocks      []*types.Block
	Diagnostics []Diagnostic
}

// ParseFile reads path and parses it. The returned Result.Blocks carry
// SourceFile set to path.
func ParseFile(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	return ParseBytes(path, data), nil
}

// ParseBytes parses an in-memory buffer. sourceFile is recorded on every
// produced block for traceability; it need not exist on disk.
//
// Parsing is deterministic: identical bytes always produce identical
// blocks in identical order (spec §4.1, §8 invariant 5).
func ParseBytes(sourceFile string, data []byte) Result {
	p := &parser{sourceFile: sourceFile}
	p.run(data)
	return Result{Blocks: p.blocks, Diagnostics: p.diags}
}

type parser struct {
	sourceFile string
	blocks     []*types.Block
	diags      []Diagnostic
}

func (p *parser) warn(line int, format string, args ...interface{}) {
	p.diags = append(p.diags, Diagnostic{
		Severity: "warn", File: p.sourceFile, Line: line,
		Message: fmt.Sprintf(format, args...),
	})
}

func (p *parser) run(data []byte) {
	lines := splitLines(data)
	i := 0
	for i < len(lines) {
		id, ok := matchHeader(lines[i])
		if !ok {
			i++
			continue
		}
		startLine := i + 1 // 1-indexed
		parsed, valid := types.ParseBlockID(id)
		if !valid {
			p.warn(startLine, "malformed block id %q, dropping block", id)
			i = p.skipBody(lines, i+1)
			continue
		}
		blk := &types.Block{
			Kind:       parsed.Kind,
			ID:         id,
			SourceFile: p.sourceFile,
			Lines:      types.LineRange{Start: startLine},
		}
		end := p.parseBody(lines, i+1, blk)
		blk.Lines.End = end // 1-indexed, inclusive
		p.blocks = append(p.blocks, blk)
		i = end
	}
}

// parseBody consumes Key: Value lines and an optional ConstraintSignatures
// block starting at lines[from] (0-indexed), stopping at a blank line or
// the next header. Returns the 0-indexed index of the last consumed line
// + 1 (i.e. the next unconsumed index), matching call-site expectations.
func (p *parser) parseBody(lines []string, from int, blk *types.Block) int {
	i := from
	lastConsumed := from - 1
	seen := map[string]bool{}
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			break
		}
		if _, ok := matchHeader(line); ok {
			break
		}
		if strings.TrimSpace(line) == "ConstraintSignatures:" {
			next := p.parseSignatures(lines, i+1, blk)
			lastConsumed = next - 1
			i = next
			continue
		}
		key, val, ok := splitField(line)
		if !ok {
			p.warn(i+1, "unrecognized line in block %s, skipping", blk.ID)
			i++
			lastConsumed = i - 1
			continue
		}
		if seen[key] {
			p.warn(i+1, "duplicate key %q in block %s, keeping first", key, blk.ID)
			i++
			lastConsumed = i - 1
			continue
		}
		seen[key] = true
		blk.Set(key, val)
		i++
		lastConsumed = i - 1
	}
	if lastConsumed < from {
		return from
	}
	return lastConsumed + 1
}

// parseSignatures consumes 2-space-indented `- key: value` records until
// dedent, blank line, or next header.
func (p *parser) parseSignatures(lines []string, from int, blk *types.Block) int {
	i := from
	var cur *types.ConstraintSignature
	flush := func() {
		if cur != nil {
			cur.OwnerBlockID = blk.ID
			blk.Signatures = append(blk.Signatures, *cur)
			cur = nil
		}
	}
	for i < len(lines) {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			break
		}
		if _, ok := matchHeader(line); ok {
			break
		}
		if !strings.HasPrefix(line, "  ") {
			break // dedent ends the list
		}
		rest := line[2:]
		if strings.HasPrefix(rest, "- ") {
			flush()
			cur = &types.ConstraintSignature{}
			rest = rest[2:]
			applySignatureField(cur, rest)
		} else if cur != nil {
			applySignatureField(cur, strings.TrimSpace(rest))
		} else {
			p.warn(i+1, "constraint signature continuation with no owning record in block %s", blk.ID)
		}
		i++
	}
	flush()
	return i
}

func applySignatureField(sig *types.ConstraintSignature, kv string) {
	k, v, ok := splitField(kv)
	if !ok {
		return
	}
	switch k {
	case "axis.key":
		sig.AxisKey = v
	case "relation":
		sig.Relation = types.Relation(v)
	case "object":
		if strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]") {
			sig.ObjectList = splitListLiteral(v)
		} else {
			sig.Object = v
		}
	case "enforcement":
		sig.Enforcement = types.Enforcement(v)
	case "domain":
		sig.Domain = v
	case "subject":
		sig.Subject = v
	case "predicate":
		sig.Predicate = v
	case "scope":
		sig.Scope = types.Scope(v)
	case "modality":
		sig.Modality = types.Modality(v)
	case "priority":
		fmt.Sscanf(v, "%d", &sig.Priority)
	default:
		if strings.HasPrefix(k, "lifecycle.") {
			if sig.Lifecycle == nil {
				sig.Lifecycle = map[string]string{}
			}
			sig.Lifecycle[strings.TrimPrefix(k, "lifecycle.")] = v
		}
	}
}

func splitListLiteral(v string) []string {
	inner := strings.TrimSuffix(strings.TrimPrefix(v, "["), "]")
	if strings.TrimSpace(inner) == "" {
		return []string{}
	}
	parts := strings.Split(inner, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.Trim(strings.TrimSpace(p), `"`))
	}
	return out
}

// skipBody advances past a malformed block's body (to the next blank line
// or header), used to keep scanning after dropping a bad ID (spec §4.1:
// "parsing continues").
func (p *parser) skipBody(lines []string, from int) int {
	i := from
	for i < len(lines) {
		if strings.TrimSpace(lines[i]) == "" {
			return i
		}
		if _, ok := matchHeader(lines[i]); ok {
			return i
		}
		i++
	}
	return i
}

func matchHeader(line string) (string, bool) {
	trimmed := strings.TrimRight(line, " \t")
	if !strings.HasSuffix(trimmed, "]") {
		return "", false
	}
	start := strings.Index(trimmed, "[")
	if start < 0 {
		return "", false
	}
	prefix := strings.TrimSpace(trimmed[:start])
	for _, c := range prefix {
		if c != '#' {
			return "", false
		}
	}
	id := trimmed[start+1 : len(trimmed)-1]
	if id == "" || strings.ContainsAny(id, " \t[]") {
		return "", false
	}
	return id, true
}

// splitField splits a `Key: Value` line. Returns ok=false for anything
// else (used both for top-level fields and signature sub-fields).
func splitField(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	k := strings.TrimSpace(line[:idx])
	if k == "" {
		return "", "", false
	}
	for _, c := range k {
		if c == ' ' || c == '\t' {
			return "", "", false
		}
	}
	v := strings.TrimSpace(line[idx+1:])
	return k, v, true
}

func splitLines(data []byte) []string {
	data = bytes.TrimRight(data, "\n")
	if len(data) == 0 {
		return nil
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}
