package state_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cohkernel/gmk/kernel/state"
)

func testParams() *state.Parameters {
	return &state.Parameters{
		Version:    "v1",
		Rows:       2,
		Cols:       2,
		RhoMax:     10 * (1 << 18),
		WGradTheta: 1 << 18,
		WC:         1 << 18,
		WBudget:    1 << 18,
		BMax:       100 * (1 << 18),
		DC:         1 << 16,
		LambdaC:    1 << 15,
		TickCostQ:  1 << 10,
		MoveCostQ:  1 << 8,
		HysteresisBandQ: 0,
		FatigueDecayQ:   0,
		MMax:   4,
		HMax:   8,
		BUnit:  1 << 18,
		HUnit:  1 << 18,
	}
}

func zeroState(p *state.Parameters) *state.State {
	mk := func() state.Grid {
		g := make(state.Grid, p.Rows)
		for i := range g {
			g[i] = make([]int64, p.Cols)
		}
		return g
	}
	return &state.State{Rho: mk(), Th: mk(), C: mk(), B: 10 * (1 << 18)}
}

func TestParametersValidate(t *testing.T) {
	p := testParams()
	require.NoError(t, p.Validate())

	bad := testParams()
	bad.Version = ""
	require.Error(t, bad.Validate())
}

func TestInK(t *testing.T) {
	p := testParams()
	s := zeroState(p)
	require.True(t, state.InK(s, p))

	s.Rho[0][0] = p.RhoMax + 1
	require.False(t, state.InK(s, p))
}

func TestProjectClampsRho(t *testing.T) {
	p := testParams()
	s := zeroState(p)
	s.Rho[0][0] = p.RhoMax + 5
	flags := state.Project(s, p)
	require.True(t, flags.RhoProjected)
	require.Equal(t, p.RhoMax, s.Rho[0][0])
}

func TestProjectClampsBudget(t *testing.T) {
	p := testParams()
	s := zeroState(p)
	s.B = -1
	flags := state.Project(s, p)
	require.True(t, flags.BProjected)
	require.Equal(t, int64(0), s.B)
}

func TestVNonNegativeAndMonotoneInC(t *testing.T) {
	p := testParams()
	s := zeroState(p)
	v0, err := state.V(s, p)
	require.NoError(t, err)
	require.GreaterOrEqual(t, v0, int64(0))

	s2 := s.Clone()
	s2.C[0][0] = 5
	v1, err := state.V(s2, p)
	require.NoError(t, err)
	require.Greater(t, v1, v0)
}

func TestWorkChargesTickAndMoveCost(t *testing.T) {
	p := testParams()
	s := zeroState(p)
	a := state.Zero(p.Rows, p.Cols)
	base, err := state.Work(s, a, p)
	require.NoError(t, err)
	require.Equal(t, p.TickCostQ, base)

	a.DRho[0][0] = 3
	moved, err := state.Work(s, a, p)
	require.NoError(t, err)
	require.Greater(t, moved, base)
}

func TestCloneIsDeep(t *testing.T) {
	p := testParams()
	s := zeroState(p)
	c := s.Clone()
	c.Rho[0][0] = 99
	require.NotEqual(t, s.Rho[0][0], c.Rho[0][0])
}
