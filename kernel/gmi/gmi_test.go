package gmi_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cohkernel/gmk/kernel/gmi"
	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/receipt"
	"github.com/cohkernel/gmk/kernel/state"
)

func testParams() *state.Parameters {
	return &state.Parameters{
		Version:    "v1",
		Rows:       2,
		Cols:       2,
		RhoMax:     8,
		WGradTheta: 1 << 18,
		WC:         1 << 18,
		WBudget:    0, // budget barrier off so the Stay action stays acceptable
		BMax:       100 << 18,
		DC:         1 << 16,
		LambdaC:    1 << 15,
		AbsorbOnB0: true,
		TickCostQ:  1 << 10,
		MoveCostQ:  1 << 8,
		MMax:       2,
		HMax:       2,
		BUnit:      1 << 18,
		HUnit:      1 << 18,
	}
}

func baseState(p *state.Parameters) *state.State {
	mk := func() state.Grid {
		g := make(state.Grid, p.Rows)
		for i := range g {
			g[i] = make([]int64, p.Cols)
		}
		return g
	}
	return &state.State{Rho: mk(), Th: mk(), C: mk(), B: 10 << 18}
}

func stepCtx() *gmi.Context {
	return &gmi.Context{
		ProposalSetRoot: khash.GenesisZero,
		ChosenIndex:     0,
		ChosenHash:      khash.GenesisZero,
		ChosenPlanIndex: -1,
		SeedCommit:      khash.GenesisZero,
	}
}

// Determinism: two identical calls yield byte-identical receipts and
// states.
func TestStepDeterminism(t *testing.T) {
	p := testParams()
	a := state.Zero(p.Rows, p.Cols)
	a.DTh[0][0] = 1

	s1 := baseState(p)
	s2 := baseState(p)
	next1, r1, err := gmi.Step(s1, a, stepCtx(), p, khash.GenesisZero)
	require.NoError(t, err)
	next2, r2, err := gmi.Step(s2, a, stepCtx(), p, khash.GenesisZero)
	require.NoError(t, err)

	require.Equal(t, r1.ChainNext, r2.ChainNext)
	require.Equal(t, r1.Core(), r2.Core())
	require.Equal(t, next1.ToCanonical(), next2.ToCanonical())
}

// Admissibility: after any step, accepted or rejected, the resulting
// state lies in K.
func TestStepStaysInK(t *testing.T) {
	p := testParams()
	s := baseState(p)
	a := state.Zero(p.Rows, p.Cols)
	a.DRho[0][0] = 100 // far past RhoMax; projection must clamp

	next, r, err := gmi.Step(s, a, stepCtx(), p, khash.GenesisZero)
	require.NoError(t, err)
	require.True(t, state.InK(next, p))
	require.True(t, r.KKT.Feasible())
	require.True(t, r.Projected.Rho)
}

// Lyapunov non-increase on accept.
func TestAcceptedStepHasNonPositiveDV(t *testing.T) {
	p := testParams()
	s := baseState(p)
	s.C[0][0] = 4 << 18 // decay gives the step something to improve

	next, r, err := gmi.Step(s, state.Zero(p.Rows, p.Cols), stepCtx(), p, khash.GenesisZero)
	require.NoError(t, err)
	require.Equal(t, receipt.Accepted, r.Decision)
	require.LessOrEqual(t, r.DVQ, int64(0))
	require.Equal(t, s.T+1, next.T)
}

// A Lyapunov-increasing action is rejected with state unchanged and
// time advanced.
func TestLyapunovIncreaseRejected(t *testing.T) {
	p := testParams()
	s := baseState(p)
	a := state.Zero(p.Rows, p.Cols)
	a.DTh[0][0] = 50 // creates a steep gradient, raising V

	next, r, err := gmi.Step(s, a, stepCtx(), p, khash.GenesisZero)
	require.NoError(t, err)
	require.Equal(t, receipt.Rejected, r.Decision)
	require.Equal(t, kerrors.RejectLyapunovIncrease, r.RejectCode)
	require.Equal(t, int64(0), r.DVQ)
	require.Equal(t, int64(0), r.DBQ)
	require.Equal(t, s.B, next.B)
	require.Equal(t, s.T+1, next.T)
	require.Equal(t, s.Th[0][0], next.Th[0][0])
}

// Zero-budget absorption: at b = 0, an action raising V is rejected
// with REJECT_ABSORB_B0_DV_POS, dV_q = 0, b_next_q = 0.
func TestAbsorptionAtZeroBudget(t *testing.T) {
	p := testParams()
	s := baseState(p)
	s.B = 0
	a := state.Zero(p.Rows, p.Cols)
	a.DTh[1][1] = 7

	next, r, err := gmi.Step(s, a, stepCtx(), p, khash.GenesisZero)
	require.NoError(t, err)
	require.Equal(t, receipt.Rejected, r.Decision)
	require.Equal(t, kerrors.RejectAbsorbB0DVPos, r.RejectCode)
	require.Equal(t, int64(0), r.DVQ)
	require.Equal(t, int64(0), r.BNextQ)
	require.Equal(t, int64(0), next.B)
}

// Projection clamp: ρ at the cap plus a +1 increment stays at the cap
// and the step may still be accepted.
func TestProjectionClampAtRhoMax(t *testing.T) {
	p := testParams()
	s := baseState(p)
	s.Rho[0][0] = p.RhoMax
	a := state.Zero(p.Rows, p.Cols)
	a.DRho[0][0] = 1

	next, flags, _, err := gmi.Preview(s, a, p)
	require.NoError(t, err)
	require.True(t, flags.RhoProjected)
	require.Equal(t, p.RhoMax, next.Rho[0][0])

	stepped, r, err := gmi.Step(s, a, stepCtx(), p, khash.GenesisZero)
	require.NoError(t, err)
	require.Equal(t, receipt.Accepted, r.Decision)
	require.Equal(t, p.RhoMax, stepped.Rho[0][0])
	require.True(t, r.Projected.Rho)
	require.False(t, r.Projected.C)
}

// Budget monotonicity: b never increases across a run of steps.
func TestBudgetMonotone(t *testing.T) {
	p := testParams()
	s := baseState(p)
	tip := khash.GenesisZero
	prevB := s.B
	for i := 0; i < 8; i++ {
		next, r, err := gmi.Step(s, state.Zero(p.Rows, p.Cols), stepCtx(), p, tip)
		require.NoError(t, err)
		require.LessOrEqual(t, next.B, prevB)
		prevB = next.B
		s = next
		tip = r.ChainNext
	}
}

// A governor verdict forces a rejected tick regardless of the engine's
// own evaluation; the receipt still chains.
func TestGovernorRejectOverrides(t *testing.T) {
	p := testParams()
	s := baseState(p)
	ctx := stepCtx()
	ctx.ChosenIndex = -1
	ctx.GovernorReject = kerrors.RejectNoSafeAction

	next, r, err := gmi.Step(s, state.Zero(p.Rows, p.Cols), ctx, p, khash.GenesisZero)
	require.NoError(t, err)
	require.Equal(t, receipt.Rejected, r.Decision)
	require.Equal(t, kerrors.RejectNoSafeAction, r.RejectCode)
	require.Equal(t, s.B, next.B)
	ok, err := r.VerifyChainHash()
	require.NoError(t, err)
	require.True(t, ok)
}
