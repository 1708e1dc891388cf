package replay_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cohkernel/gmk/kernel/gmi"
	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/prng"
	"github.com/cohkernel/gmk/kernel/receipt"
	"github.com/cohkernel/gmk/kernel/replay"
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
		WBudget:    0,
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
	s := &state.State{Rho: mk(), Th: mk(), C: mk(), B: 10 << 18}
	s.C[0][0] = 4 << 18
	return s
}

// record drives the engine over a scripted action sequence, applying
// drift before each step when given, and returns the receipts.
func record(t *testing.T, p *state.Parameters, s0 *state.State, seed []byte, actions []*state.Action, drift func(*state.State, uint64) (*state.State, error)) []*receipt.StepReceipt {
	t.Helper()
	s := s0.Clone()
	tip := khash.GenesisZero
	commit := prng.SeedCommit(seed)
	var out []*receipt.StepReceipt
	for _, a := range actions {
		if drift != nil {
			drifted, err := drift(s, s.T)
			require.NoError(t, err)
			s = drifted
		}
		ctx := &gmi.Context{
			ProposalSetRoot: khash.GenesisZero,
			ChosenHash:      khash.GenesisZero,
			ChosenPlanIndex: -1,
			SeedCommit:      commit,
		}
		next, r, err := gmi.Step(s, a, ctx, p, tip)
		require.NoError(t, err)
		out = append(out, r)
		s = next
		tip = r.ChainNext
	}
	return out
}

func scriptedActions(p *state.Parameters) []*state.Action {
	stay := state.Zero(p.Rows, p.Cols)
	nudge := state.Zero(p.Rows, p.Cols)
	nudge.DRho[1][1] = 1
	worsen := state.Zero(p.Rows, p.Cols)
	worsen.DTh[0][0] = 30 // rejected tick in the middle of the log
	return []*state.Action{stay, nudge, worsen, stay}
}

// Replay idempotence: a faithful log verifies.
func TestVerifyFaithfulLog(t *testing.T) {
	p := testParams()
	s0 := baseState(p)
	seed := []byte("replay-seed")
	actions := scriptedActions(p)
	receipts := record(t, p, s0, seed, actions, nil)

	err := replay.Verify(&replay.Trace{
		Params:   p,
		S0:       s0,
		Chain0:   khash.GenesisZero,
		Seed:     seed,
		Receipts: receipts,
		Actions:  actions,
	})
	require.NoError(t, err)
}

// Tampering with any core field is caught, and the error names the
// field.
func TestVerifyDetectsTamperedField(t *testing.T) {
	p := testParams()
	s0 := baseState(p)
	seed := []byte("replay-seed")
	actions := scriptedActions(p)
	receipts := record(t, p, s0, seed, actions, nil)

	receipts[1].BNextQ += 1 << 10

	err := replay.Verify(&replay.Trace{
		Params:   p,
		S0:       s0,
		Chain0:   khash.GenesisZero,
		Seed:     seed,
		Receipts: receipts,
		Actions:  actions,
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, kerrors.ErrReplayDivergence))

	var div *replay.DivergenceError
	require.True(t, errors.As(err, &div))
	require.Equal(t, "b_next_q", div.Field)
	require.Equal(t, uint64(1), div.StepIndex)
}

// A wrong seed changes seed_commit and the chain hash at the first
// step.
func TestVerifyDetectsWrongSeed(t *testing.T) {
	p := testParams()
	s0 := baseState(p)
	actions := scriptedActions(p)
	receipts := record(t, p, s0, []byte("seed-one"), actions, nil)

	err := replay.Verify(&replay.Trace{
		Params:   p,
		S0:       s0,
		Chain0:   khash.GenesisZero,
		Seed:     []byte("seed-two"),
		Receipts: receipts,
		Actions:  actions,
	})
	require.Error(t, err)
	var div *replay.DivergenceError
	require.True(t, errors.As(err, &div))
	require.Equal(t, uint64(0), div.StepIndex)
}

// A drifted trajectory verifies when the trace carries the same drift
// hook the recording used, and diverges without it.
func TestVerifyWithDriftHook(t *testing.T) {
	p := testParams()
	s0 := baseState(p)
	seed := []byte("replay-seed")
	actions := scriptedActions(p)

	// Refresh the cost potential at one cell every other step, purely
	// as a function of the step index.
	drift := func(s *state.State, stepIndex uint64) (*state.State, error) {
		if stepIndex%2 != 0 {
			return s, nil
		}
		next := s.Clone()
		next.C[0][0] = 2 << 18
		return next, nil
	}
	receipts := record(t, p, s0, seed, actions, drift)

	err := replay.Verify(&replay.Trace{
		Params:   p,
		S0:       s0,
		Chain0:   khash.GenesisZero,
		Seed:     seed,
		Receipts: receipts,
		Actions:  actions,
		Drift:    drift,
	})
	require.NoError(t, err)

	err = replay.Verify(&replay.Trace{
		Params:   p,
		S0:       s0,
		Chain0:   khash.GenesisZero,
		Seed:     seed,
		Receipts: receipts,
		Actions:  actions,
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, kerrors.ErrReplayDivergence))
}

func TestCompareLogsLengthMismatch(t *testing.T) {
	p := testParams()
	s0 := baseState(p)
	seed := []byte("replay-seed")
	actions := scriptedActions(p)
	receipts := record(t, p, s0, seed, actions, nil)

	err := replay.CompareLogs(receipts, receipts[:len(receipts)-1])
	require.Error(t, err)
	require.True(t, errors.Is(err, kerrors.ErrReplayDivergence))
}
