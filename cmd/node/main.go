package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"math"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"

	"github.com/danielpatrickdp/meshsync/internal/clock"
	"github.com/danielpatrickdp/meshsync/internal/codec"
	"github.com/danielpatrickdp/meshsync/internal/consensus"
	"github.com/danielpatrickdp/meshsync/internal/eval"
	"github.com/danielpatrickdp/meshsync/internal/gate"
	"github.com/danielpatrickdp/meshsync/internal/logging"
	"github.com/danielpatrickdp/meshsync/internal/orchestrator"
	"github.com/danielpatrickdp/meshsync/internal/state"
	"github.com/danielpatrickdp/meshsync/internal/topology"
	"github.com/danielpatrickdp/meshsync/internal/transfer"
	"github.com/danielpatrickdp/meshsync/internal/transport"
	"github.com/danielpatrickdp/meshsync/internal/update"
)

// pendingCommit is a proposed version waiting on its consensus round.
type pendingCommit struct {
	delta   update.Delta
	update  update.UpdateResult
	session *transfer.Session
}

// node bundles everything one mesh participant runs.
type node struct {
	id        string
	store     *state.Store
	topoStore *topology.Store
	links     *topology.Static
	orch      *orchestrator.Orchestrator
	validator *consensus.Validator
	peers     []*transport.Client
	gate      *gate.Gate
	eval      *eval.EvalHarness
	gateCfg   gate.GateConfig
	evalCfg   eval.EvalConfig
	pending   map[string]pendingCommit
}

// #region main
func main() {
	dbPath := envOr("SYNC_DB", "meshsync.db")
	nodeID := envOr("NODE_ID", "node-1")
	voteAddr := envOr("VOTE_ADDR", "localhost:50061")
	peerAddrs := splitList(os.Getenv("VOTE_PEERS"))

	// Initialize state store
	store, err := state.NewStore(dbPath, codec.StateHash)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	// Ensure initial state exists
	if _, err := store.GetCurrent(); err != nil {
		log.Println("No active state found, creating initial state...")
		if _, err := store.CreateInitialState(state.State{1: 1.0}); err != nil {
			log.Fatalf("failed to create initial state: %v", err)
		}
	}

	topoStore, err := topology.NewStore(store.DB())
	if err != nil {
		log.Fatalf("failed to init topology store: %v", err)
	}
	links, err := topoStore.Load()
	if err != nil {
		log.Fatalf("failed to load topology: %v", err)
	}
	memory, err := orchestrator.NewOutcomeMemory(store.DB())
	if err != nil {
		log.Fatalf("failed to init outcome memory: %v", err)
	}

	clk := clock.Real{}
	validator := consensus.NewValidator(nodeID, consensus.DefaultConfig(), clk)
	validator.SetRecorder(logging.NewRoundRecorder(store.DB()))

	// Vote service for peers
	lis, err := net.Listen("tcp", voteAddr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", voteAddr, err)
	}
	srv := grpc.NewServer()
	transport.RegisterVoteServiceServer(srv, transport.NewServer(validator))
	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Printf("[RPC] vote service stopped: %v", err)
		}
	}()
	defer srv.GracefulStop()

	var peers []*transport.Client
	for _, addr := range peerAddrs {
		c, err := transport.NewVoteClient(addr)
		if err != nil {
			log.Fatalf("failed to connect to peer %s: %v", addr, err)
		}
		defer c.Close()
		peers = append(peers, c)
	}

	gateCfg := gate.DefaultGateConfig()
	evalCfg := eval.DefaultEvalConfig()
	n := &node{
		id:        nodeID,
		store:     store,
		topoStore: topoStore,
		links:     links,
		orch:      orchestrator.New(orchestrator.DefaultConfig(), links, clk, memory),
		validator: validator,
		peers:     peers,
		gate:      gate.NewGate(gateCfg),
		eval:      eval.NewEvalHarness(evalCfg),
		gateCfg:   gateCfg,
		evalCfg:   evalCfg,
		pending:   make(map[string]pendingCommit),
	}

	fmt.Println("Mesh sync node ready.")
	fmt.Printf("  Node: %s | DB: %s | Votes: %s | Peers: %d | Mode: %s\n",
		nodeID, dbPath, voteAddr, len(peers), n.orch.Mode())
	fmt.Println("Commands: status | link <a> <b> <q> | propose <participants> <algo> <id>=<delta>... | vote <round> <hash> <score> | poll | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			break
		}
		if err := n.dispatch(fields); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

// #endregion main

// #region commands
func (n *node) dispatch(fields []string) error {
	switch fields[0] {
	case "status":
		return n.status()
	case "link":
		return n.link(fields[1:])
	case "propose":
		return n.propose(fields[1:])
	case "vote":
		return n.vote(fields[1:])
	case "poll":
		return n.poll()
	}
	return fmt.Errorf("unknown command %q", fields[0])
}

func (n *node) status() error {
	current, err := n.store.GetCurrent()
	if err != nil {
		return err
	}
	fmt.Printf("version=%s hash=%s components=%d\n", current.VersionID, current.StateHash, len(current.Components))
	for _, id := range current.Components.SortedIDs() {
		fmt.Printf("  %d: %+.6f\n", id, current.Components[id])
	}
	for _, id := range n.validator.Pending() {
		fmt.Printf("  pending round %s\n", id)
	}
	return nil
}

func (n *node) link(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: link <a> <b> <quality>")
	}
	q, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("quality: %w", err)
	}
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return fmt.Errorf("quality: %s is not finite", args[2])
	}
	if err := n.topoStore.Connect(args[0], args[1], q); err != nil {
		return err
	}
	n.links.Connect(args[0], args[1], q)
	return nil
}

// propose applies a delta, propagates the new version and opens a round on it.
func (n *node) propose(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: propose <participants> <algo> <id>=<delta>...")
	}
	participants, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("participants: %w", err)
	}
	algo, err := consensus.ParseAlgorithm(args[1])
	if err != nil {
		return err
	}
	delta := update.Delta{Source: n.id, Changes: make(map[int]float64)}
	for _, kv := range args[2:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("bad change %q", kv)
		}
		id, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("component %q: %w", k, err)
		}
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("delta %q: %w", v, err)
		}
		delta.Changes[id] = d
	}

	current, err := n.store.GetCurrent()
	if err != nil {
		return err
	}
	result := update.Update(current, delta, update.DefaultUpdateConfig())
	if result.Decision.Action == "no_op" {
		fmt.Println("no change")
		return nil
	}

	sess := n.orch.Sync(n.id, result.NewState.Components, n.meshNodes())
	round, err := n.validator.Propose(result.NewState.StateHash, participants, algo)
	if err != nil {
		return err
	}
	n.pending[round.ID] = pendingCommit{delta: delta, update: result, session: sess}
	fmt.Printf("round=%s hash=%s coverage=%.2f reached=%v failed=%v\n",
		round.ID, round.ProposedHash, sess.Metrics.CoverageRatio, sess.ReachedSet(), sess.FailedSet())
	return nil
}

func (n *node) vote(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: vote <round> <hash> <score>")
	}
	score, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("score: %w", err)
	}
	v := consensus.NewVote(n.id, args[1], score, time.Now().UTC())

	// A locally proposed round takes the vote directly.
	if n.validator.SubmitVote(args[0], v) {
		fmt.Println("vote counted locally")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	acks, err := transport.Broadcast(ctx, n.peers, args[0], v)
	fmt.Printf("vote acknowledged by %d/%d peers\n", acks, len(n.peers))
	return err
}

// poll resolves due rounds and runs eval and gate on the ones this node proposed.
func (n *node) poll() error {
	for _, res := range n.validator.Poll() {
		pc, ok := n.pending[res.RoundID]
		if !ok {
			continue
		}
		delete(n.pending, res.RoundID)
		if err := n.finish(res, pc); err != nil {
			log.Printf("finish round %s: %v", res.RoundID, err)
		}
	}
	return nil
}

func (n *node) finish(res consensus.Result, pc pendingCommit) error {
	proposed := pc.update.NewState
	evalResult := n.eval.Run(proposed, pc.session.Metrics.CoverageRatio)
	decision := n.gate.Evaluate(proposed, res, pc.session, evalResult, pc.update.Metrics)

	if decision.Action == "commit" {
		current, err := n.store.GetCurrent()
		if err != nil {
			return err
		}
		// Another round may have committed since this one was proposed.
		if current.VersionID != proposed.ParentID {
			decision.Action = "reject"
			decision.Reason = fmt.Sprintf("stale parent %s, active %s", proposed.ParentID, current.VersionID)
		} else if err := n.store.CommitState(proposed); err != nil {
			return err
		}
	}

	round, _ := n.validator.Round(res.RoundID)
	record := logging.NewGateRecord(logging.GateInputs{
		Delta:      pc.delta,
		Update:     pc.update,
		Session:    pc.session,
		Round:      round,
		Result:     res,
		Eval:       evalResult,
		GateConfig: n.gateCfg,
		EvalConfig: n.evalCfg,
		Decision:   decision,
	})
	err := logging.LogGateDecision(n.store.DB(), logging.DecisionEntry{
		VersionID:   proposed.VersionID,
		StateHash:   proposed.StateHash,
		RoundID:     res.RoundID,
		Status:      string(res.Status),
		Confidence:  res.Confidence,
		TriggerType: "commit",
		Decision:    decision.Action,
		Reason:      decision.Reason,
		CreatedAt:   time.Now().UTC(),
	}, record)
	fmt.Printf("[%s] round=%s status=%s decision=%s\n", proposed.VersionID[:8], res.RoundID[:8], res.Status, decision.Action)
	return err
}

// meshNodes lists every node the topology knows about except this one.
func (n *node) meshNodes() []string {
	seen := make(map[string]bool)
	for _, l := range n.links.Links() {
		seen[l.Source] = true
		seen[l.Target] = true
	}
	delete(seen, n.id)
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// #endregion commands

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// #endregion helpers
