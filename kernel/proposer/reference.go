package proposer

import (
	"github.com/cohkernel/gmk/kernel/gmi"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/prng"
	"github.com/cohkernel/gmk/kernel/q18"
	"github.com/cohkernel/gmk/kernel/state"
)

// Reference is the deterministic reference proposer: it samples a small
// set of single-cell lattice tweaks from the tick's ChaCha20 stream,
// scores each by score_q = -V_task + α(b)·exploration_bonus, and always
// includes the Stay action. Visit counts feed the exploration bonus;
// they are advanced only through Observe, so a replay that feeds the
// proposer the same accept sequence reproduces the same scores.
type Reference struct {
	// Candidates is how many lattice cells are sampled per tick.
	Candidates int

	visits map[khash.Digest]uint64
}

// NewReference returns a Reference sampling the given number of
// candidate cells per tick (minimum 1).
func NewReference(candidates int) *Reference {
	if candidates < 1 {
		candidates = 1
	}
	return &Reference{Candidates: candidates, visits: make(map[khash.Digest]uint64)}
}

// Observe records that the action with the given hash was accepted,
// advancing its visit count for future exploration bonuses.
func (r *Reference) Observe(actionHash khash.Digest) {
	r.visits[actionHash]++
}

// Propose implements Proposer. The returned set always has the Stay
// action last, so the set is never empty; Stay itself can still be
// removed by the governor's filters.
func (r *Reference) Propose(s *state.State, obs *state.Observation, p *state.Parameters, rng *prng.Source) (*ProposalSet, error) {
	rows, cols := s.Th.Rows(), s.Th.Cols()
	var proposals []*Proposal

	for c := 0; c < r.Candidates; c++ {
		i := int(rng.Uint32() % uint32(rows))
		j := int(rng.Uint32() % uint32(cols))

		// θ-smoothing: step the sampled cell one unit toward its
		// neighbor mean, the move most likely to shrink Σ|Δθ|².
		smooth := state.Zero(rows, cols)
		smooth.DTh[i][j] = thetaStep(s.Th, i, j)

		// ρ-step: a ±1 density nudge at the sampled cell.
		nudge := state.Zero(rows, cols)
		if rng.Uint32()%2 == 0 {
			nudge.DRho[i][j] = 1
		} else {
			nudge.DRho[i][j] = -1
		}

		for _, a := range []*state.Action{smooth, nudge} {
			score, err := r.score(s, a, p)
			if err != nil {
				return nil, err
			}
			proposals = append(proposals, &Proposal{Action: a, ScoreQ: score})
		}
	}

	stay := state.Zero(rows, cols)
	stayScore, err := r.score(s, stay, p)
	if err != nil {
		return nil, err
	}
	proposals = append(proposals, &Proposal{Action: stay, ScoreQ: stayScore})

	return NewProposalSet(proposals)
}

// score computes -V_task(s⁺) + α(b)·bonus for a candidate action, where
// V_task is the kernel Lyapunov functional evaluated on the previewed
// next state and bonus = ONE / isqrt(N_visits+1) in Q18 (floor sqrt).
func (r *Reference) score(s *state.State, a *state.Action, p *state.Parameters) (int64, error) {
	next, _, _, err := gmi.Preview(s, a, p)
	if err != nil {
		return 0, err
	}
	vTask, err := state.V(next, p)
	if err != nil {
		return 0, err
	}

	actionHash, err := khash.SumJCS(a.ToCanonical())
	if err != nil {
		return 0, err
	}
	n := int64(r.visits[actionHash])
	sqrtQ, err := q18.ISqrt((n + 1) * q18.One)
	if err != nil {
		return 0, err
	}
	bonus, err := q18.Div(q18.One, sqrtQ, q18.Down)
	if err != nil {
		return 0, err
	}

	alpha, err := alphaOfBudget(s.B, p)
	if err != nil {
		return 0, err
	}
	weighted, err := q18.Mul(alpha, bonus, q18.Down)
	if err != nil {
		return 0, err
	}
	return q18.Add(-vTask, weighted)
}

// alphaOfBudget is the Q18 exploration scale α(b): monotone
// non-increasing in the remaining budget, reaching AlphaTau at b = 0
// and zero at b >= BMax. Exploration is cheapest relative to remaining
// work when the budget is nearly spent.
func alphaOfBudget(b int64, p *state.Parameters) (int64, error) {
	if p.BMax <= 0 {
		return p.AlphaTau, nil
	}
	if b >= p.BMax {
		return 0, nil
	}
	frac, err := q18.Div(b, p.BMax, q18.Down)
	if err != nil {
		return 0, err
	}
	rem, err := q18.Sub(q18.One, frac)
	if err != nil {
		return 0, err
	}
	return q18.Mul(p.AlphaTau, rem, q18.Down)
}

// thetaStep returns a one-unit move toward the neighbor mean of θ at
// (i, j), or zero when the cell already sits at its mean.
func thetaStep(th state.Grid, i, j int) int64 {
	rows, cols := th.Rows(), th.Cols()
	var sum, count int64
	if i > 0 {
		sum += th[i-1][j]
		count++
	}
	if i+1 < rows {
		sum += th[i+1][j]
		count++
	}
	if j > 0 {
		sum += th[i][j-1]
		count++
	}
	if j+1 < cols {
		sum += th[i][j+1]
		count++
	}
	if count == 0 {
		return 0
	}
	mean := floorDiv(sum, count)
	switch {
	case th[i][j] < mean:
		return 1
	case th[i][j] > mean:
		return -1
	default:
		return 0
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
