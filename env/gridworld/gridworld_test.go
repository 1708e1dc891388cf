package gridworld_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cohkernel/gmk/env/gridworld"
	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/state"
)

func newWorld(t *testing.T) *gridworld.World {
	t.Helper()
	w, err := gridworld.New(gridworld.Default())
	require.NoError(t, err)
	return w
}

func TestResetDeterministic(t *testing.T) {
	w := newWorld(t)
	s1, o1, err := w.Reset([]byte("seed"))
	require.NoError(t, err)
	s2, o2, err := w.Reset([]byte("seed"))
	require.NoError(t, err)

	require.Equal(t, s1.ToCanonical(), s2.ToCanonical())
	require.Equal(t, o1.Readings, o2.Readings)
	require.False(t, o1.Terminal)
}

func TestResetLayoutIsSeedIndependent(t *testing.T) {
	w := newWorld(t)
	s1, _, err := w.Reset([]byte("seed-aaaaaaa"))
	require.NoError(t, err)
	s2, _, err := w.Reset([]byte("seed-bbbbbbb"))
	require.NoError(t, err)
	// The seed's first 8 bytes only pick the phase slope; the layout
	// (density, cost) is seed-independent.
	require.Equal(t, s1.Rho, s2.Rho)
	require.Equal(t, s1.C, s2.C)
}

func TestHazardCheck(t *testing.T) {
	sc := gridworld.Default()
	w, err := gridworld.New(sc)
	require.NoError(t, err)
	s, _, err := w.Reset([]byte("seed"))
	require.NoError(t, err)

	onto := state.Zero(sc.Rows, sc.Cols)
	onto.DRho[1][2] = 1 // the default scenario's hazard cell
	require.Equal(t, kerrors.RejectHazard, w.Check(s, onto))

	away := state.Zero(sc.Rows, sc.Cols)
	away.DRho[2][2] = 1
	require.Equal(t, kerrors.RejectNone, w.Check(s, away))
}

func TestOutOfBoundsCheck(t *testing.T) {
	sc := gridworld.Default()
	w, err := gridworld.New(sc)
	require.NoError(t, err)
	s, _, err := w.Reset([]byte("seed"))
	require.NoError(t, err)

	over := state.Zero(sc.Rows, sc.Cols)
	over.DRho[2][2] = sc.RhoMax + 1
	require.Equal(t, kerrors.RejectOutOfBounds, w.Check(s, over))
}

func TestDriftIdempotentOnStepIndex(t *testing.T) {
	sc := gridworld.Default()
	w, err := gridworld.New(sc)
	require.NoError(t, err)
	s, _, err := w.Reset([]byte("seed"))
	require.NoError(t, err)

	idx := uint64(sc.DriftPeriod)
	d1, err := w.Drift(s, idx)
	require.NoError(t, err)
	d2, err := w.Drift(s, idx)
	require.NoError(t, err)
	require.Equal(t, d1.ToCanonical(), d2.ToCanonical())

	// Off-period indexes are a no-op.
	same, err := w.Drift(s, idx+1)
	require.NoError(t, err)
	require.Equal(t, s.ToCanonical(), same.ToCanonical())
}

func TestHazardMaskBits(t *testing.T) {
	sc := gridworld.Default()
	w, err := gridworld.New(sc)
	require.NoError(t, err)
	s, _, err := w.Reset([]byte("seed"))
	require.NoError(t, err)

	mask := w.HazardMask(s)
	idx := 1*sc.Cols + 2
	require.NotZero(t, mask[idx/64]&(1<<(idx%64)))
}

func TestLoadScenarioYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yml")
	doc := `rows: 3
cols: 3
agent_row: 0
agent_col: 0
goal_row: 2
goal_col: 2
hazards:
  - row: 1
    col: 1
rho_max: 4
budget_q: 1048576
hazard_cost_q: 262144
drift_period: 8
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	sc, err := gridworld.LoadScenario(path)
	require.NoError(t, err)
	require.Equal(t, 3, sc.Rows)
	require.Len(t, sc.Hazards, 1)
	require.Equal(t, int64(4), sc.RhoMax)

	_, err = gridworld.New(sc)
	require.NoError(t, err)
}

func TestScenarioValidation(t *testing.T) {
	sc := gridworld.Default()
	sc.GoalRow = 99
	require.Error(t, sc.Validate())
}
