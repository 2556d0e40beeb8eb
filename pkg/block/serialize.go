package block

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mem-os/pkg/types"
)

// Serialize renders a block back to its markdown form. Field order and
// signature order are preserved, satisfying the round-trip invariant
// parse(serialize(blocks)) == blocks (spec §8).
func Serialize(b *types.Block) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]\n", b.ID)
	for _, f := range b.Fields {
		fmt.Fprintf(&sb, "%s: %s\n", f.Key, f.Value)
	}
	if len(b.Signatures) > 0 {
		sb.WriteString("ConstraintSignatures:\n")
		for _, s := range b.Signatures {
			serializeSignature(&sb, s)
		}
	}
	return sb.String()
}

func serializeSignature(sb *strings.Builder, s types.ConstraintSignature) {
	first := true
	emit := func(k, v string) {
		if v == "" {
			return
		}
		if first {
			fmt.Fprintf(sb, "  - %s: %s\n", k, v)
			first = false
		} else {
			fmt.Fprintf(sb, "    %s: %s\n", k, v)
		}
	}
	emit("axis.key", s.AxisKey)
	emit("relation", string(s.Relation))
	if s.ObjectList != nil {
		quoted := make([]string, len(s.ObjectList))
		for i, v := range s.ObjectList {
			quoted[i] = `"` + v + `"`
		}
		emit("object", "["+strings.Join(quoted, ", ")+"]")
	} else {
		emit("object", s.Object)
	}
	emit("enforcement", string(s.Enforcement))
	emit("domain", s.Domain)
	emit("subject", s.Subject)
	emit("predicate", s.Predicate)
	emit("scope", string(s.Scope))
	emit("modality", string(s.Modality))
	if s.Priority != 0 {
		emit("priority", strconv.Itoa(s.Priority))
	}
	lifecycleKeys := make([]string, 0, len(s.Lifecycle))
	for k := range s.Lifecycle {
		lifecycleKeys = append(lifecycleKeys, k)
	}
	sort.Strings(lifecycleKeys)
	for _, k := range lifecycleKeys {
		emit("lifecycle."+k, s.Lifecycle[k])
	}
	if first {
		// Signature had no populated fields at all; still emit the dash
		// so the list entry isn't silently dropped.
		fmt.Fprintf(sb, "  - axis.key: %s\n", s.AxisKey)
	}
}

// SerializeAll renders a slice of blocks, separated by a single blank
// line, in the shape a daily log or DECISIONS.md file holds them.
func SerializeAll(blocks []*types.Block) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(Serialize(b))
	}
	return sb.String()
}
