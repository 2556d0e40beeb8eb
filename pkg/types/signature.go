package types

// Relation is the closed set of constraint relations a ConstraintSignature
// may express (spec §3.2).
type Relation string

const (
	RelationMustBe     Relation = "must_be"
	RelationMustNotBe  Relation = "must_not_be"
	RelationShouldBe   Relation = "should_be"
	RelationShouldNotBe Relation = "should_not_be"
	RelationPrefers    Relation = "prefers"
	RelationRequires   Relation = "requires"
	RelationExcludes   Relation = "excludes"
	RelationReplaces   Relation = "replaces"
)

// Enforcement is how strictly a signature's relation is meant to be held.
type Enforcement string

const (
	EnforcementHard      Enforcement = "hard"
	EnforcementSoft      Enforcement = "soft"
	EnforcementAdvisory  Enforcement = "advisory"
)

// Scope is the breadth a signature's intent applies over.
type Scope string

const (
	ScopeModule    Scope = "module"
	ScopeProject   Scope = "project"
	ScopeWorkspace Scope = "workspace"
	ScopeOrg       Scope = "org"
)

// scopeSpecificity orders scopes from most to least specific, used by the
// contradiction tie-break rule in spec §4.6 ("more specific scope... wins").
var scopeSpecificity = map[Scope]int{
	ScopeModule:    4,
	ScopeProject:   3,
	ScopeWorkspace: 2,
	ScopeOrg:       1,
}

// MoreSpecificThan reports whether s is strictly more specific than other.
// Unknown/empty scopes are treated as least specific.
func (s Scope) MoreSpecificThan(other Scope) bool {
	return scopeSpecificity[s] > scopeSpecificity[other]
}

// Modality is the optional deontic strength of a signature.
type Modality string

const (
	ModalityMust   Modality = "must"
	ModalityShould Modality = "should"
	ModalityMay    Modality = "may"
)

// ConstraintSignature is a structured record attached to a decision
// (spec §3.2). Object holds either a scalar string or, for list-valued
// constraints, a JSON-encoded array string — parsers normalize into
// ObjectList for comparison.
type ConstraintSignature struct {
	AxisKey     string      `json:"axis.key"`
	Relation    Relation    `json:"relation"`
	Object      string      `json:"object"`
	ObjectList  []string    `json:"object_list,omitempty"`
	Enforcement Enforcement `json:"enforcement"`
	Domain      string      `json:"domain"`

	Subject   string   `json:"subject,omitempty"`
	Predicate string   `json:"predicate,omitempty"`
	Scope     Scope    `json:"scope,omitempty"`
	Modality  Modality `json:"modality,omitempty"`
	Priority  int      `json:"priority,omitempty"` // 1-10
	Lifecycle map[string]string `json:"lifecycle,omitempty"`

	// OwnerBlockID is the Decision this signature was parsed from. Not part
	// of the on-disk record; populated by the parser for traversal.
	OwnerBlockID string `json:"-"`
}

// ObjectEqual reports whether two signatures' objects are equal, comparing
// the list form when either side carries one.
func (c ConstraintSignature) ObjectEqual(o ConstraintSignature) bool {
	if c.ObjectList != nil || o.ObjectList != nil {
		a, b := c.ObjectList, o.ObjectList
		if a == nil {
			a = []string{c.Object}
		}
		if b == nil {
			b = []string{o.Object}
		}
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	return c.Object == o.Object
}

// Contradicts reports whether c and o contradict per spec §4.6: same
// axis.key, unequal object, both enforcement=hard.
func (c ConstraintSignature) Contradicts(o ConstraintSignature) bool {
	if c.AxisKey != o.AxisKey {
		return false
	}
	if c.Enforcement != EnforcementHard || o.Enforcement != EnforcementHard {
		return false
	}
	return !c.ObjectEqual(o)
}
