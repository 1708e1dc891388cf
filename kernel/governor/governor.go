// Package governor implements the lexicographic filter pipeline that
// turns a ProposalSet into at most one accepted action: safety, then
// admissibility, then Lyapunov, then absorption,
// then score selection with hash tie-break.
package governor

import (
	"github.com/cohkernel/gmk/kernel/gmi"
	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/proposer"
	"github.com/cohkernel/gmk/kernel/state"
)

// SafetyChecker is the environment-safety seam the governor consults
// first. Check returns RejectNone when the action is safe, or the
// environment's rejection code (REJECT_HAZARD,
// REJECT_OUT_OF_BOUNDS) when it is not.
type SafetyChecker interface {
	Check(s *state.State, a *state.Action) kerrors.RejectCode
}

// Verdict is the governor's decision for one tick. When Reject is
// RejectNone the verdict names the accepted proposal; otherwise Action
// is the synthetic Stay action and ChosenIndex is -1.
type Verdict struct {
	Action      *state.Action
	ChosenIndex int
	ChosenHash  khash.Digest
	Reject      kerrors.RejectCode
}

// Evaluate filters the proposal set in the fixed lexicographic order
// and selects the maximum-score survivor, tie-broken by the smallest
// proposal hash. With no survivors it returns the Stay action and
// REJECT_NO_SAFE_ACTION; the engine still produces a receipt for the
// tick.
func Evaluate(set *proposer.ProposalSet, s *state.State, p *state.Parameters, safety SafetyChecker) (*Verdict, error) {
	type survivor struct {
		index int
		hash  khash.Digest
		score int64
	}
	var survivors []survivor

	for i, prop := range set.Proposals {
		// Taint gate rides on the safety filter: an untrusted tag above
		// the configured threshold never reaches admissibility.
		if p.TaintThreshold > 0 && prop.Taint > p.TaintThreshold {
			continue
		}
		if safety != nil {
			if code := safety.Check(s, prop.Action); code != kerrors.RejectNone {
				continue
			}
		}

		next, _, _, err := gmi.Preview(s, prop.Action, p)
		if err != nil {
			return nil, err
		}
		if !state.InK(next, p) {
			continue
		}

		code, _, err := gmi.Evaluate(s, next, p)
		if err != nil {
			return nil, err
		}
		if code != kerrors.RejectNone {
			continue
		}

		hash, err := prop.Hash()
		if err != nil {
			return nil, err
		}
		survivors = append(survivors, survivor{index: i, hash: hash, score: prop.ScoreQ})
	}

	if len(survivors) == 0 {
		rows, cols := s.Rho.Rows(), s.Rho.Cols()
		return &Verdict{
			Action:      state.Zero(rows, cols),
			ChosenIndex: -1,
			Reject:      kerrors.RejectNoSafeAction,
		}, nil
	}

	best := survivors[0]
	for _, cand := range survivors[1:] {
		if cand.score > best.score || (cand.score == best.score && cand.hash < best.hash) {
			best = cand
		}
	}
	return &Verdict{
		Action:      set.Proposals[best.index].Action,
		ChosenIndex: best.index,
		ChosenHash:  best.hash,
		Reject:      kerrors.RejectNone,
	}, nil
}
