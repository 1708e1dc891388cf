// Package gmi implements the governed micro-step engine:
// propose next state, project onto the feasible set K, evaluate the
// Lyapunov delta, accept or reject, and emit one StepReceipt per tick.
package gmi

import (
	"fmt"

	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/receipt"
	"github.com/cohkernel/gmk/kernel/state"
)

// Context carries the tick's commitments and the governor's verdict
// into the step. A non-empty GovernorReject forces a rejected tick with
// that code regardless of the engine's own evaluation.
type Context struct {
	ProposalSetRoot khash.Digest
	ChosenIndex     int
	ChosenHash      khash.Digest

	// Planner commitments; ChosenPlanIndex is -1 when no planner ran.
	PlanSetRoot     khash.Digest
	ChosenPlanIndex int
	ChosenPlanHash  khash.Digest

	GovernorReject kerrors.RejectCode
	SeedCommit     khash.Digest
}

// Preview computes the candidate next state s⁺ for action a without
// committing: increments applied, C diffused, work debited, then the
// whole state projected onto K. Returns s⁺, the projection flags, and
// the Q18 work charge. Shared by Step, the governor's admissibility
// filter, and the planner's rollouts so all three see identical math.
func Preview(s *state.State, a *state.Action, p *state.Parameters) (*state.State, state.ProjectionFlags, int64, error) {
	if !s.Rho.SameShape(a.DRho) || !s.Th.SameShape(a.DTh) {
		return nil, state.ProjectionFlags{}, 0, fmt.Errorf("gmi: action shape mismatch: %w", kerrors.ErrInvalidParams)
	}
	work, err := state.Work(s, a, p)
	if err != nil {
		return nil, state.ProjectionFlags{}, 0, err
	}
	next := s.Clone()
	for i := range next.Rho {
		for j := range next.Rho[i] {
			next.Rho[i][j] += a.DRho[i][j]
			next.Th[i][j] += a.DTh[i][j]
		}
	}
	next.C = state.DiffuseC(next.C, p)
	next.B = s.B - work
	next.T = s.T + 1
	flags := state.Project(next, p)
	return next, flags, work, nil
}

// Evaluate runs the engine's accept/reject rules on a previewed
// transition and returns the rejection code (RejectNone on accept) and
// the Lyapunov delta.
func Evaluate(s *state.State, next *state.State, p *state.Parameters) (kerrors.RejectCode, int64, error) {
	if !state.InK(next, p) {
		return kerrors.RejectInfeasible, 0, nil
	}
	vPrev, err := state.V(s, p)
	if err != nil {
		return "", 0, err
	}
	vNext, err := state.V(next, p)
	if err != nil {
		return "", 0, err
	}
	dv := vNext - vPrev
	if s.B == 0 && dv > 0 && p.AbsorbOnB0 {
		return kerrors.RejectAbsorbB0DVPos, dv, nil
	}
	if dv > 0 {
		return kerrors.RejectLyapunovIncrease, dv, nil
	}
	return kerrors.RejectNone, dv, nil
}

// Step executes one governed micro-step: gmi_step(s, a, ctx, P,
// chain_prev) -> (s', receipt). On accept, s' is the projected
// candidate state. On reject, s' equals s with only the step counter
// advanced, making rejected ticks auditable without a state change.
func Step(s *state.State, a *state.Action, ctx *Context, p *state.Parameters, chainPrev khash.Digest) (*state.State, *receipt.StepReceipt, error) {
	vPrev, err := state.V(s, p)
	if err != nil {
		return nil, nil, err
	}
	stateHashPrev, err := khash.SumJCS(s.ToCanonical())
	if err != nil {
		return nil, nil, err
	}
	actionHash, err := khash.SumJCS(a.ToCanonical())
	if err != nil {
		return nil, nil, err
	}

	decision := receipt.Accepted
	code := kerrors.RejectNone
	var next *state.State
	var work int64
	var projected state.ProjectionFlags

	if ctx.GovernorReject != kerrors.RejectNone {
		decision = receipt.Rejected
		code = ctx.GovernorReject
	} else {
		candidate, flags, w, err := Preview(s, a, p)
		if err != nil {
			return nil, nil, err
		}
		evalCode, _, err := Evaluate(s, candidate, p)
		if err != nil {
			return nil, nil, err
		}
		projected = flags
		if evalCode != kerrors.RejectNone {
			decision = receipt.Rejected
			code = evalCode
		} else {
			next = candidate
			work = w
		}
	}

	if decision == receipt.Rejected {
		next = s.Clone()
		next.T = s.T + 1
	}

	vNext, err := state.V(next, p)
	if err != nil {
		return nil, nil, err
	}
	dv := int64(0)
	db := int64(0)
	workUnits := receipt.WorkUnits{}
	if decision == receipt.Accepted {
		dv = vNext - vPrev
		db = s.B - next.B
		moveCost := work - p.TickCostQ
		if moveCost < 0 {
			moveCost = 0
		}
		workUnits = receipt.WorkUnits{TickCostQ: p.TickCostQ, MoveCostQ: moveCost, TotalQ: work}
	}

	kkt := Residual(next, p)
	if !kkt.Feasible() {
		return nil, nil, fmt.Errorf("gmi: feasibility residual nonzero after step %d: %w", s.T, kerrors.ErrKKTFeasibilityNonzero)
	}

	stateHashNext, err := khash.SumJCS(next.ToCanonical())
	if err != nil {
		return nil, nil, err
	}

	r := &receipt.StepReceipt{
		SchemaID:            receipt.SchemaID,
		StepIndex:           s.T,
		ChainPrev:           chainPrev,
		StateHashPrev:       stateHashPrev,
		StateHashNext:       stateHashNext,
		ActionHash:          actionHash,
		ProposalSetRoot:     ctx.ProposalSetRoot,
		ChosenProposalIndex: ctx.ChosenIndex,
		ChosenProposalHash:  ctx.ChosenHash,
		PlanSetRoot:         ctx.PlanSetRoot,
		ChosenPlanIndex:     ctx.ChosenPlanIndex,
		ChosenPlanHash:      ctx.ChosenPlanHash,
		VPrevQ:              vPrev,
		VNextQ:              vNext,
		DVQ:                 dv,
		BPrevQ:              s.B,
		BNextQ:              next.B,
		DBQ:                 db,
		Decision:            decision,
		RejectCode:          code,
		KKT:                 kkt,
		Work:                workUnits,
		Projected:           receipt.Projected{Rho: projected.RhoProjected, C: projected.CProjected, B: projected.BProjected},
		SeedCommit:          ctx.SeedCommit,
	}
	if err := r.FinalizeChainHash(); err != nil {
		return nil, nil, err
	}
	return next, r, nil
}

// Residual computes the KKT residual on a post-step state.
// Feasibility residuals measure how far each field sits
// outside K — a strong invariant requires them to be zero after
// projection. The stationarity residual is the summed magnitude of the
// discrete Laplacian of θ, a diagnostic only.
func Residual(s *state.State, p *state.Parameters) receipt.KKTResidual {
	var res receipt.KKTResidual
	for _, row := range s.Rho {
		for _, v := range row {
			if v < 0 {
				res.FeasRho += -v
			} else if v > p.RhoMax {
				res.FeasRho += v - p.RhoMax
			}
		}
	}
	for _, row := range s.C {
		for _, v := range row {
			if v < 0 {
				res.FeasC += -v
			}
		}
	}
	if s.B < 0 {
		res.FeasB = -s.B
	}
	rows, cols := s.Th.Rows(), s.Th.Cols()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			lap := int64(0)
			center := s.Th[i][j]
			if i > 0 {
				lap += s.Th[i-1][j] - center
			}
			if i+1 < rows {
				lap += s.Th[i+1][j] - center
			}
			if j > 0 {
				lap += s.Th[i][j-1] - center
			}
			if j+1 < cols {
				lap += s.Th[i][j+1] - center
			}
			if lap < 0 {
				lap = -lap
			}
			res.StationarityTh += lap
		}
	}
	return res
}
