// Package mode implements spec §4.9's governance mode state machine:
// detect_only -> propose -> enforce, with unconditional downgrade and no
// automatic upward transition. Grounded on
// pkg/degradation/manager.go, whose Manager holds a mutex-protected
// current level plus a levelChanged timestamp and only ever moves
// between adjacent levels under an explicit transition call — the same
// shape generalized from a backpressure-driven feature-degradation
// ladder to an operator-driven governance-capability ladder.
package mode

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	memerrors "mem-os/pkg/errors"
)

// Mode is one governance mode, spec §4.9's closed three-state set.
type Mode string

const (
	DetectOnly Mode = "detect_only"
	Propose    Mode = "propose"
	Enforce    Mode = "enforce"
)

// rank orders modes for upgrade/downgrade comparison; higher rank has
// more capability.
var rank = map[Mode]int{DetectOnly: 0, Propose: 1, Enforce: 2}

// Capabilities is the set of operations a mode permits (spec §4.9:
// "detect_only disables proposal generation and apply; propose enables
// proposal generation and manual apply; enforce additionally permits
// auto-apply of proposals flagged low-risk").
type Capabilities struct {
	ProposalGeneration bool
	ManualApply        bool
	AutoApplyLowRisk   bool
}

// CapabilitiesFor returns the capability set for a mode.
func CapabilitiesFor(m Mode) Capabilities {
	switch m {
	case Propose:
		return Capabilities{ProposalGeneration: true, ManualApply: true}
	case Enforce:
		return Capabilities{ProposalGeneration: true, ManualApply: true, AutoApplyLowRisk: true}
	default:
		return Capabilities{}
	}
}

// Transition is one recorded mode change, for the audit trail spec
// §6.1's intelligence/AUDIT.md is meant to carry.
type Transition struct {
	From   Mode
	To     Mode
	At     time.Time
	Reason string
}

// Machine is the mutex-protected current mode plus its transition
// history, mirroring Manager.currentLevel/levelChanged
// fields and RWMutex discipline.
type Machine struct {
	mu      sync.RWMutex
	current Mode
	since   time.Time
	history []Transition
	logger  *logrus.Logger
}

// New constructs a Machine starting in detect_only, spec §4.9's initial
// state.
func New(logger *logrus.Logger) *Machine {
	return &Machine{current: DetectOnly, since: time.Now(), logger: logger}
}

// Current returns the active mode.
func (m *Machine) Current() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current mode took effect.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// History returns a copy of every recorded transition, oldest first.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Transition(nil), m.history...)
}

// Upgrade moves the machine to a strictly higher-capability mode. Per
// spec §4.9, this always requires an explicit operator action (never
// automatic) and the caller is responsible for having verified the
// window/streak precondition (clean observation window for
// detect_only->propose, two clean weeks for propose->enforce) before
// calling Upgrade — this package only enforces that the transition is
// adjacent and upward, not the precondition itself, since clean-window
// tracking lives with the integrity scanner, not the mode machine.
func (m *Machine) Upgrade(to Mode, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	toRank, ok := rank[to]
	if !ok {
		return memerrors.Validation("mode", "upgrade", "unknown mode "+string(to))
	}
	fromRank := rank[m.current]
	if toRank <= fromRank {
		return memerrors.Validation("mode", "upgrade", "upgrade target is not higher than current mode").
			WithMetadata("from", string(m.current)).WithMetadata("to", string(to))
	}
	if toRank != fromRank+1 {
		return memerrors.Validation("mode", "upgrade", "mode transitions must move one step at a time").
			WithMetadata("from", string(m.current)).WithMetadata("to", string(to))
	}
	m.transition(to, reason)
	return nil
}

// Downgrade moves the machine to any lower (or equal) mode. Per spec
// §4.9 this is unconditional: no precondition, no adjacency requirement
// ("any -> any-lower"), since a downgrade is always safe to apply
// immediately regardless of current state.
func (m *Machine) Downgrade(to Mode, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	toRank, ok := rank[to]
	if !ok {
		return memerrors.Validation("mode", "downgrade", "unknown mode "+string(to))
	}
	if toRank > rank[m.current] {
		return memerrors.Validation("mode", "downgrade", "downgrade target must not exceed current mode").
			WithMetadata("from", string(m.current)).WithMetadata("to", string(to))
	}
	m.transition(to, reason)
	return nil
}

func (m *Machine) transition(to Mode, reason string) {
	from := m.current
	now := time.Now()
	m.history = append(m.history, Transition{From: from, To: to, At: now, Reason: reason})
	m.current = to
	m.since = now
	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{"from": from, "to": to, "reason": reason}).Info("governance mode transition")
	}
}

// Can reports whether the machine's current mode grants a capability
// check, a convenience wrapper over CapabilitiesFor(m.Current()).
func (m *Machine) CanGenerateProposals() bool { return CapabilitiesFor(m.Current()).ProposalGeneration }
func (m *Machine) CanManualApply() bool       { return CapabilitiesFor(m.Current()).ManualApply }
func (m *Machine) CanAutoApplyLowRisk() bool  { return CapabilitiesFor(m.Current()).AutoApplyLowRisk }
