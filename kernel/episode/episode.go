// Package episode wires env ↔ proposer ↔ governor ↔ GMI into the
// per-tick loop: one receipt per tick, strictly sequential, the
// episode handle exclusively owning state, chain tip,
// RNG derivation, and the receipt log.
package episode

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cohkernel/gmk/kernel/gmi"
	"github.com/cohkernel/gmk/kernel/governor"
	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/options"
	"github.com/cohkernel/gmk/kernel/planner"
	"github.com/cohkernel/gmk/kernel/prng"
	"github.com/cohkernel/gmk/kernel/proposer"
	"github.com/cohkernel/gmk/kernel/receipt"
	"github.com/cohkernel/gmk/kernel/state"
)

// ErrDone is returned by Tick once the environment reported a terminal
// observation.
var ErrDone = errors.New("episode: terminal")

// Environment is the task-environment seam the kernel consumes.
// Implementations must be deterministic: no randomness outside the
// seed, drift idempotent on a fixed step index.
type Environment interface {
	Reset(seed []byte) (*state.State, *state.Observation, error)
	Step(s *state.State, a *state.Action) (*state.State, *state.Observation, error)
	Drift(s *state.State, stepIndex uint64) (*state.State, error)
	HazardMask(s *state.State) []uint64
}

// ReceiptSink receives every published receipt, in order. The
// persistence layer implements it; tests use an in-memory slice.
type ReceiptSink interface {
	Append(r *receipt.StepReceipt) error
}

// Recorder is an optional metrics hook invoked once per published
// receipt. It must not influence any kernel output.
type Recorder interface {
	Tick(decision receipt.Decision, code kerrors.RejectCode)
}

// VisitObserver is implemented by proposers that track accepted-action
// visit counts for their exploration bonus.
type VisitObserver interface {
	Observe(actionHash khash.Digest)
}

// Config assembles an episode. Chain0 defaults to khash.GenesisZero;
// Safety, Planner, Sink, Logger, and Recorder are optional.
type Config struct {
	Params   *state.Parameters
	Env      Environment
	Proposer proposer.Proposer
	Safety   governor.SafetyChecker
	Planner  *planner.Planner
	Seed     []byte
	Chain0   khash.Digest
	Sink     ReceiptSink
	Logger   *slog.Logger
	Recorder Recorder
}

// Episode is one live run. Not safe for concurrent use; a step cannot
// begin until the previous receipt is published.
type Episode struct {
	cfg        Config
	st         *state.State
	obs        *state.Observation
	chainTip   khash.Digest
	seedCommit khash.Digest
	receipts   []*receipt.StepReceipt
	done       bool
}

// New validates parameters, resets the environment, and returns a
// ready episode at its genesis chain tip.
func New(cfg Config) (*Episode, error) {
	if cfg.Params == nil || cfg.Env == nil || cfg.Proposer == nil {
		return nil, errors.New("episode: params, env, and proposer are required")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Chain0 == "" {
		cfg.Chain0 = khash.GenesisZero
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s, obs, err := cfg.Env.Reset(cfg.Seed)
	if err != nil {
		return nil, err
	}
	return &Episode{
		cfg:        cfg,
		st:         s,
		obs:        obs,
		chainTip:   cfg.Chain0,
		seedCommit: prng.SeedCommit(cfg.Seed),
	}, nil
}

// State returns the episode's current state. Implements options.Runner.
func (e *Episode) State() *state.State { return e.st }

// ChainTip returns the current chain tip. Implements options.Runner.
func (e *Episode) ChainTip() khash.Digest { return e.chainTip }

// Receipts returns the receipts published so far.
func (e *Episode) Receipts() []*receipt.StepReceipt { return e.receipts }

// Observation returns the most recent environment observation.
func (e *Episode) Observation() *state.Observation { return e.obs }

// Tick runs one full tick: drift, propose (through the planner when
// configured), govern, step, observe, publish. Exactly one receipt is
// produced whether or not an action was accepted.
func (e *Episode) Tick(ctx context.Context) (*receipt.StepReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.done {
		return nil, ErrDone
	}

	drifted, err := e.cfg.Env.Drift(e.st, e.st.T)
	if err != nil {
		return nil, err
	}
	e.st = drifted

	rng, err := prng.New(e.chainTip, e.cfg.Seed, e.st.T)
	if err != nil {
		return nil, err
	}

	plan := planCommit{index: -1}
	var set *proposer.ProposalSet
	if e.cfg.Planner != nil {
		pr, err := e.cfg.Planner.Plan(e.st, e.obs, e.cfg.Params, rng)
		if err != nil {
			return nil, err
		}
		if pr.WorkQ > 0 {
			e.st.B -= pr.WorkQ
			if e.st.B < 0 {
				e.st.B = 0
			}
		}
		plan = planCommit{root: pr.PlanSetRoot, index: pr.ChosenIndex, hash: pr.ChosenHash}
		set, err = planProposalSet(pr, e.st)
		if err != nil {
			return nil, err
		}
	} else {
		set, err = e.cfg.Proposer.Propose(e.st, e.obs, e.cfg.Params, rng)
		if err != nil {
			return nil, err
		}
	}

	return e.commit(set, plan)
}

// planCommit carries the tick's planner commitments into the receipt.
type planCommit struct {
	root  khash.Digest
	index int
	hash  khash.Digest
}

// TickWithAction runs one governed tick for a fixed action, the seam
// the option runtime drives: the action still passes the full
// governor pipeline before the engine sees it.
func (e *Episode) TickWithAction(a *state.Action) (*receipt.StepReceipt, error) {
	if e.done {
		return nil, ErrDone
	}
	set, err := proposer.NewProposalSet([]*proposer.Proposal{{Action: a}})
	if err != nil {
		return nil, err
	}
	return e.commit(set, planCommit{index: -1})
}

// commit runs governor → GMI → env observation → publish for an
// already-committed proposal set.
func (e *Episode) commit(set *proposer.ProposalSet, plan planCommit) (*receipt.StepReceipt, error) {
	verdict, err := governor.Evaluate(set, e.st, e.cfg.Params, e.cfg.Safety)
	if err != nil {
		return nil, err
	}

	stepCtx := &gmi.Context{
		ProposalSetRoot: set.Root(),
		ChosenIndex:     verdict.ChosenIndex,
		ChosenHash:      verdict.ChosenHash,
		PlanSetRoot:     plan.root,
		ChosenPlanIndex: plan.index,
		ChosenPlanHash:  plan.hash,
		GovernorReject:  verdict.Reject,
		SeedCommit:      e.seedCommit,
	}

	next, r, err := gmi.Step(e.st, verdict.Action, stepCtx, e.cfg.Params, e.chainTip)
	if err != nil {
		return nil, err
	}

	if r.Decision == receipt.Accepted {
		if vo, ok := e.cfg.Proposer.(VisitObserver); ok {
			vo.Observe(r.ActionHash)
		}
		envState, obs, err := e.cfg.Env.Step(next, verdict.Action)
		if err != nil {
			return nil, err
		}
		if envState != nil {
			next = envState
		}
		if obs != nil {
			e.obs = obs
			if obs.Terminal {
				e.done = true
			}
		}
	}

	if e.cfg.Sink != nil {
		if err := e.cfg.Sink.Append(r); err != nil {
			return nil, err
		}
	}
	e.st = next
	e.chainTip = r.ChainNext
	e.receipts = append(e.receipts, r)

	if e.cfg.Recorder != nil {
		e.cfg.Recorder.Tick(r.Decision, r.RejectCode)
	}
	e.cfg.Logger.Debug("tick published",
		"step", r.StepIndex,
		"decision", string(r.Decision),
		"reject_code", string(r.RejectCode),
		"chain_next", string(r.ChainNext),
	)
	return r, nil
}

// RunOption unfolds a skill option from the current state, with the
// termination stream derived from the chain tip at initiation.
func (e *Episode) RunOption(omega *options.Option) (*options.Trace, error) {
	rng, err := prng.New(e.chainTip, e.cfg.Seed, e.st.T)
	if err != nil {
		return nil, err
	}
	return options.Unfold(omega, e, rng)
}

// Run drives up to maxTicks ticks, stopping early on a terminal
// observation. Cancellation is cooperative and lands only between
// ticks.
func (e *Episode) Run(ctx context.Context, maxTicks int) ([]*receipt.StepReceipt, error) {
	var out []*receipt.StepReceipt
	for i := 0; i < maxTicks; i++ {
		r, err := e.Tick(ctx)
		if errors.Is(err, ErrDone) {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// planProposalSet wraps a planner result as the tick's proposal set:
// the chosen plan's first action ranked above the Stay fallback, so the
// governor can still refuse it.
func planProposalSet(pr *planner.Result, s *state.State) (*proposer.ProposalSet, error) {
	rows, cols := s.Rho.Rows(), s.Rho.Cols()
	stay := state.Zero(rows, cols)
	proposals := []*proposer.Proposal{
		{Action: pr.First, ScoreQ: 1 << 18},
		{Action: stay, ScoreQ: 0},
	}
	return proposer.NewProposalSet(proposals)
}
