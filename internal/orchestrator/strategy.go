package orchestrator

import "github.com/danielpatrickdp/meshsync/internal/transfer"

// #region scope

// Scope selects which targets a plan step runs against.
type Scope int

const (
	ScopeAll       Scope = iota // every session target
	ScopeStrong                 // targets classified strong
	ScopeUnreached              // targets not yet reached by earlier steps
)

// Step is one strategy invocation within a plan.
type Step struct {
	Strategy transfer.Kind
	Scope    Scope
}

// #endregion

// #region plans

// Plans maps each mode to its ordered steps. Adaptive runs corrected transfer
// on strong links, then weighted distribution on everything left (weak links
// plus strong failures), then a wave over whatever is still unreached.
var Plans = map[Mode][]Step{
	ModeAdaptive: {
		{Strategy: transfer.KindCorrected, Scope: ScopeStrong},
		{Strategy: transfer.KindWeighted, Scope: ScopeUnreached},
		{Strategy: transfer.KindWave, Scope: ScopeUnreached},
	},
	ModeCorrectedFirst: {
		{Strategy: transfer.KindCorrected, Scope: ScopeAll},
		{Strategy: transfer.KindWeighted, Scope: ScopeUnreached},
		{Strategy: transfer.KindWave, Scope: ScopeUnreached},
	},
	ModeWeightedOnly: {
		{Strategy: transfer.KindWeighted, Scope: ScopeAll},
	},
	ModeWaveOnly: {
		{Strategy: transfer.KindWave, Scope: ScopeAll},
	},
	ModeCoherenceOnly: {
		{Strategy: transfer.KindCorrected, Scope: ScopeAll},
	},
}

// #endregion

// #region resolve-scope

func scopeTargets(scope Scope, sess *transfer.Session, class Classification) []string {
	switch scope {
	case ScopeStrong:
		return class.Strong
	case ScopeUnreached:
		return sess.Unreached()
	default:
		return sess.Targets
	}
}

// #endregion
