package orchestrator

// #region imports
import (
	"log"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/meshsync/internal/clock"
	"github.com/danielpatrickdp/meshsync/internal/codec"
	"github.com/danielpatrickdp/meshsync/internal/state"
	"github.com/danielpatrickdp/meshsync/internal/topology"
	"github.com/danielpatrickdp/meshsync/internal/transfer"
)

// #endregion

// #region orchestrator-struct

// Orchestrator routes each target to the cheapest strategy likely to reach
// it. Sync is synchronous; one Orchestrator may serve sequential calls but
// each call builds its own session.
type Orchestrator struct {
	config     Config
	links      topology.Provider
	clock      clock.Clock
	memory     *OutcomeMemory
	strategies map[transfer.Kind]transfer.Strategy

	corrected *transfer.CorrectedTransfer
	weighted  *transfer.WeightedDistribution
}

// #endregion

// #region constructor

// New creates an orchestrator over links. memory may be nil to skip outcome
// persistence; clk nil uses the wall clock.
func New(cfg Config, links topology.Provider, clk clock.Clock, memory *OutcomeMemory) *Orchestrator {
	if clk == nil {
		clk = clock.Real{}
	}
	if _, ok := Plans[cfg.Mode]; !ok {
		cfg.Mode = ModeAdaptive
	}
	if cfg.Budget <= 0 {
		cfg.Budget = transfer.DefaultBudget
	}

	corrected := transfer.NewCorrectedTransfer(cfg.Corrected)
	weighted := transfer.NewWeightedDistribution(cfg.Weighted, nil)
	wave := transfer.NewWaveBroadcast(cfg.Wave, clk)

	return &Orchestrator{
		config: cfg,
		links:  links,
		clock:  clk,
		memory: memory,
		strategies: map[transfer.Kind]transfer.Strategy{
			transfer.KindCorrected: corrected,
			transfer.KindWeighted:  weighted,
			transfer.KindWave:      wave,
		},
		corrected: corrected,
		weighted:  weighted,
	}
}

// SetDelivery installs the hooks that hand payloads to the transport.
// Either may be nil to treat every delivery as successful.
func (o *Orchestrator) SetDelivery(corrected transfer.DeliverFunc, fragments transfer.FragmentDeliverFunc) {
	o.corrected.Deliver = corrected
	o.weighted.Deliver = fragments
}

// Mode returns the routing mode in effect.
func (o *Orchestrator) Mode() Mode {
	return o.config.Mode
}

// #endregion

// #region sync

// Sync propagates s from source to targets and returns the finished session.
// Targets no strategy could reach end in Failed unless the budget ran out,
// in which case they stay Pending.
func (o *Orchestrator) Sync(source string, s state.State, targets []string) *transfer.Session {
	start := o.clock.Now()
	sess := transfer.NewSession(uuid.New().String(), source, codec.StateHash(s), targets, start)
	sess.Strategy = string(o.config.Mode)
	sess.Budget = o.config.Budget

	class := ClassifyLinks(o.links, source, sess.Targets, o.config.Corrected.StrongThreshold)
	log.Printf("[SYNC] session=%s mode=%s targets=%d strong=%d weak=%d hash=%s",
		sess.ID, o.config.Mode, len(sess.Targets), len(class.Strong), len(class.Weak), sess.StateHash)
	o.logAdvice(class)

	for _, step := range Plans[o.config.Mode] {
		if sess.Expired(o.clock.Now()) {
			log.Printf("[SYNC] session=%s budget spent before %s", sess.ID, step.Strategy)
			break
		}
		stepTargets := scopeTargets(step.Scope, sess, class)
		if len(stepTargets) == 0 {
			continue
		}

		sub := sess.Sub(step.Strategy, stepTargets)
		o.strategies[step.Strategy].Run(s, stepTargets, o.links, sub)
		sess.Merge(sub)

		log.Printf("[SYNC] session=%s step=%s attempted=%d reached=%d failed=%d",
			sess.ID, step.Strategy, len(stepTargets), len(sub.Reached), len(sub.Failed))
		o.recordStep(sess, step.Strategy, sub, class)
	}

	sess.Finish(o.clock.Now())
	log.Printf("[SYNC] session=%s done: reached=%d/%d coverage=%.2f hops=%.2f corrected=%d fragments=%d",
		sess.ID, sess.Metrics.NodesReached, len(sess.Targets), sess.Metrics.CoverageRatio,
		sess.Metrics.AverageHopCount, sess.Metrics.CorrectedTransfersUsed, sess.Metrics.FragmentsDistributed)
	return sess
}

// #endregion

// #region outcome-memory

func (o *Orchestrator) recordStep(sess *transfer.Session, kind transfer.Kind, sub *transfer.Session, class Classification) {
	if o.memory == nil {
		return
	}
	attempted := map[LinkClass]int{}
	reached := map[LinkClass]int{}
	for _, t := range sub.Targets {
		c := class.Class(t)
		attempted[c]++
		if _, ok := sub.Reached[t]; ok {
			reached[c]++
		}
	}
	now := o.clock.Now()
	for _, c := range []LinkClass{LinkStrong, LinkWeak} {
		if attempted[c] == 0 {
			continue
		}
		rec := OutcomeRecord{
			SessionID: sess.ID,
			Mode:      o.config.Mode,
			Strategy:  kind,
			LinkClass: c,
			Attempted: attempted[c],
			Reached:   reached[c],
			CreatedAt: now,
		}
		if err := o.memory.RecordOutcome(rec); err != nil {
			log.Printf("[SYNC] failed to record outcome: %v", err)
		}
	}
}

// logAdvice reports the historically best strategy for the weak bucket.
// Routing itself never changes: the plan for the mode is fixed.
func (o *Orchestrator) logAdvice(class Classification) {
	if o.memory == nil || len(class.Weak) == 0 {
		return
	}
	best, rate, err := o.memory.BestStrategy(LinkWeak, o.clock.Now())
	if err != nil {
		log.Printf("[SYNC] outcome memory: %v", err)
		return
	}
	if best != "" {
		log.Printf("[SYNC] weak links historically best served by %s (%.2f)", best, rate)
	}
}

// #endregion
