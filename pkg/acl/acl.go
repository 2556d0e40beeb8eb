// Package acl implements spec §4.8's namespace/ACL layer: per-agent
// pattern-based (exact, glob, or wildcard) read/write authorization over
// workspace namespaces. Grounded on pkg/security/auth.go
// role-permission table (`rolePermissions["admin"] = {Resource: "*",
// Action: "*"}`), generalized from a fixed three-role table to an
// ACL file read from mem-os-acl.json, and from HTTP resource/action pairs
// to workspace path patterns.
package acl

import (
	"encoding/json"
	"os"
	"path"
	"sort"
	"strings"
)

// Rule is one ACL entry: an agent ID pattern (exact, glob with `*`, or
// the bare wildcard `*` matching any agent) paired with the namespace
// patterns it may read and write.
type Rule struct {
	AgentPattern string   `json:"agent_pattern"`
	Read         []string `json:"read"`
	Write        []string `json:"write"`
}

// ACL is the parsed mem-os-acl.json document.
type ACL struct {
	Rules []Rule `json:"rules"`
}

// Load reads and parses the ACL file at path. A missing file is not an
// error: it resolves to an empty ACL, under which every agent can read
// the shared root and its own namespace but no other agent's namespace
// (see CanRead), and can write only its own namespace, not the shared
// root (see CanWrite).
func Load(filePath string) (*ACL, error) {
	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return &ACL{}, nil
	}
	if err != nil {
		return nil, err
	}
	var a ACL
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// matchPattern reports whether candidate matches pattern, where pattern
// is an exact string, a bare "*" wildcard, or a glob understood by
// path.Match (e.g. "agents/alice/*").
func matchPattern(pattern, candidate string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == candidate {
		return true
	}
	ok, err := path.Match(pattern, candidate)
	return err == nil && ok
}

// rulesFor returns every rule whose AgentPattern matches agentID, in
// file order (later, more specific rules don't implicitly override
// earlier ones — all matching rules' namespace sets are unioned, per
// spec §4.8: "Read resolution: union of agent-visible namespaces").
func (a *ACL) rulesFor(agentID string) []Rule {
	var out []Rule
	for _, r := range a.Rules {
		if matchPattern(r.AgentPattern, agentID) {
			out = append(out, r)
		}
	}
	return out
}

// namespaceOf returns the leading path segment a workspace-relative path
// falls under (e.g. "agents/alice/notes.md" -> "agents/alice"), or "" for
// the shared root's top-level files.
func namespaceOf(relPath string) string {
	clean := strings.TrimPrefix(path.Clean(relPath), "/")
	parts := strings.SplitN(clean, "/", 3)
	if len(parts) >= 2 && parts[0] == "agents" {
		return parts[0] + "/" + parts[1]
	}
	return ""
}

// CanRead reports whether agentID may read relPath: the shared root
// (anything not under agents/<id>/) is always readable; an agents/<id>/
// namespace is readable if some rule matching agentID lists a Read
// pattern matching that namespace, OR if relPath is the agent's own
// namespace (agents always implicitly read their own space).
func (a *ACL) CanRead(agentID, relPath string) bool {
	ns := namespaceOf(relPath)
	if ns == "" {
		return true
	}
	if ns == "agents/"+agentID {
		return true
	}
	for _, r := range a.rulesFor(agentID) {
		for _, pattern := range r.Read {
			if matchPattern(pattern, ns) {
				return true
			}
		}
	}
	return false
}

// CanWrite is the pure predicate spec §4.8 names directly: "can_write(
// agent_id, path) is a pure predicate consulted by the apply engine
// pre-check and by retrieval to filter corpus." The shared root is
// writable only if some rule grants it explicitly (shared decisions/tasks
// files are not implicitly writable by every agent); an agent's own
// namespace is always writable.
func (a *ACL) CanWrite(agentID, relPath string) bool {
	ns := namespaceOf(relPath)
	if ns == "agents/"+agentID {
		return true
	}
	target := ns
	if target == "" {
		target = "/"
	}
	for _, r := range a.rulesFor(agentID) {
		for _, pattern := range r.Write {
			if matchPattern(pattern, target) {
				return true
			}
		}
	}
	return false
}

// VisibleNamespaces returns the sorted, deduplicated set of namespace
// patterns agentID can read, for diagnostics and for retrieval to
// pre-filter without re-evaluating CanRead per block.
func (a *ACL) VisibleNamespaces(agentID string) []string {
	seen := map[string]bool{"agents/" + agentID: true}
	for _, r := range a.rulesFor(agentID) {
		for _, p := range r.Read {
			seen[p] = true
		}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}
