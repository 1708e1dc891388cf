// Package planner implements the bounded MPC layer:
// m candidate plans of horizon H, both budget-adaptive, each scored by
// a deterministic rollout, the full plan set Merkle-committed.
package planner

import (
	"github.com/cohkernel/gmk/kernel/canon"
	"github.com/cohkernel/gmk/kernel/gmi"
	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/merkle"
	"github.com/cohkernel/gmk/kernel/prng"
	"github.com/cohkernel/gmk/kernel/proposer"
	"github.com/cohkernel/gmk/kernel/state"
)

// Plan is one candidate action sequence and its rollout score.
type Plan struct {
	Actions []*state.Action
	ScoreQ  int64
}

// ToCanonical renders the plan for leaf hashing.
func (p *Plan) ToCanonical() map[string]any {
	actions := make([]any, len(p.Actions))
	for i, a := range p.Actions {
		actions[i] = a.ToCanonical()
	}
	return map[string]any{
		"actions": actions,
		"score_q": p.ScoreQ,
	}
}

// Hash returns sha256(JCS(plan)), recorded as chosen_plan_hash.
func (p *Plan) Hash() (khash.Digest, error) {
	return khash.SumJCS(p.ToCanonical())
}

// Result carries the planner's commitments for the tick's receipt. When
// the planner degraded all the way to Stay, ChosenIndex is -1 and the
// root is empty.
type Result struct {
	First       *state.Action
	PlanSetRoot khash.Digest
	ChosenIndex int
	ChosenHash  khash.Digest
	WorkQ       int64
	Degraded    bool
}

// Adapt computes budget-adaptive (m, H): m scales with floor(b/BUnit)
// and H with floor(b/HUnit), both clipped to their caps and floored at
// one.
func Adapt(b int64, p *state.Parameters) (int, int) {
	m := int(b / p.BUnit)
	h := int(b / p.HUnit)
	if m > p.MMax {
		m = p.MMax
	}
	if h > p.HMax {
		h = p.HMax
	}
	if m < 1 {
		m = 1
	}
	if h < 1 {
		h = 1
	}
	return m, h
}

// Cost returns W_plan = κ_plan·m·H + κ_gate·m + κ_exec in Q18.
func Cost(m, h int, p *state.Parameters) (int64, error) {
	planTerm, err := mulCount(p.KappaPlan, int64(m)*int64(h))
	if err != nil {
		return 0, err
	}
	gateTerm, err := mulCount(p.KappaGate, int64(m))
	if err != nil {
		return 0, err
	}
	sum, err := addChecked(planTerm, gateTerm)
	if err != nil {
		return 0, err
	}
	return addChecked(sum, p.KappaExec)
}

// Planner generates and scores candidate plans using a proposer for
// per-step candidates. It owns no state; the rollout RNG is the tick's
// ChaCha20 stream, so planning is replayable.
type Planner struct {
	Prop proposer.Proposer
}

// Plan builds the budget-adaptive plan set, scores each plan by
// rollout, commits the set, and returns the winning plan's first
// action. If even the minimal (1,1) plan is unaffordable the planner
// degrades to Stay with no commitment and no charge.
func (pl *Planner) Plan(s *state.State, obs *state.Observation, p *state.Parameters, rng *prng.Source) (*Result, error) {
	m, h := Adapt(s.B, p)
	work, err := Cost(m, h, p)
	if err != nil {
		return nil, err
	}
	for s.B < work && (m > 1 || h > 1) {
		if m > 1 {
			m--
		} else {
			h--
		}
		work, err = Cost(m, h, p)
		if err != nil {
			return nil, err
		}
	}
	if s.B < work {
		rows, cols := s.Rho.Rows(), s.Rho.Cols()
		return &Result{First: state.Zero(rows, cols), ChosenIndex: -1, Degraded: true}, nil
	}

	plans := make([]*Plan, 0, m)
	for k := 0; k < m; k++ {
		plan, err := pl.rollout(s, obs, p, rng, h, k == 0)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}

	leaves := make([][]byte, len(plans))
	for i, plan := range plans {
		b, err := canon.Marshal(plan.ToCanonical())
		if err != nil {
			return nil, err
		}
		leaves[i] = b
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return nil, err
	}

	bestIdx := 0
	bestHash, err := plans[0].Hash()
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(plans); i++ {
		hash, err := plans[i].Hash()
		if err != nil {
			return nil, err
		}
		if plans[i].ScoreQ > plans[bestIdx].ScoreQ ||
			(plans[i].ScoreQ == plans[bestIdx].ScoreQ && hash < bestHash) {
			bestIdx = i
			bestHash = hash
		}
	}

	return &Result{
		First:       plans[bestIdx].Actions[0],
		PlanSetRoot: tree.Root(),
		ChosenIndex: bestIdx,
		ChosenHash:  bestHash,
		WorkQ:       work,
	}, nil
}

// rollout unfolds one plan of horizon h. The first plan is greedy (max
// proposal score each step); the rest sample a proposal index from the
// rng for diversity. A step whose previewed transition the engine would
// reject contributes Stay instead, so every rolled-out trajectory is
// admissible. The plan score is -V of the final rollout state.
func (pl *Planner) rollout(s *state.State, obs *state.Observation, p *state.Parameters, rng *prng.Source, h int, greedy bool) (*Plan, error) {
	cur := s.Clone()
	rows, cols := s.Rho.Rows(), s.Rho.Cols()
	actions := make([]*state.Action, 0, h)

	for step := 0; step < h; step++ {
		set, err := pl.Prop.Propose(cur, obs, p, rng)
		if err != nil {
			return nil, err
		}
		var pick *state.Action
		if greedy {
			best := 0
			for i := 1; i < len(set.Proposals); i++ {
				if set.Proposals[i].ScoreQ > set.Proposals[best].ScoreQ {
					best = i
				}
			}
			pick = set.Proposals[best].Action
		} else {
			pick = set.Proposals[int(rng.Uint32()%uint32(len(set.Proposals)))].Action
		}

		next, _, _, err := gmi.Preview(cur, pick, p)
		if err != nil {
			return nil, err
		}
		code, _, err := gmi.Evaluate(cur, next, p)
		if err != nil {
			return nil, err
		}
		if code != kerrors.RejectNone {
			pick = state.Zero(rows, cols)
			next, _, _, err = gmi.Preview(cur, pick, p)
			if err != nil {
				return nil, err
			}
		}
		actions = append(actions, pick)
		cur = next
	}

	v, err := state.V(cur, p)
	if err != nil {
		return nil, err
	}
	return &Plan{Actions: actions, ScoreQ: -v}, nil
}

func mulCount(q int64, count int64) (int64, error) {
	if q == 0 || count == 0 {
		return 0, nil
	}
	product := q * count
	if product/q != count {
		return 0, kerrors.WrapOverflow("planner.mulCount")
	}
	return product, nil
}

func addChecked(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, kerrors.WrapOverflow("planner.addChecked")
	}
	return sum, nil
}
