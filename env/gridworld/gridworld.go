// Package gridworld is an example task environment for the kernel: a
// hazard-bearing 2-D lattice with deterministic drift. It implements
// the environment seam of the episode runtime and the governor's safety
// checker. It is one example of a task domain, not a contract.
package gridworld

import (
	"encoding/binary"

	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/state"
)

// World is a deterministic gridworld task. All randomness derives from
// the reset seed; drift is a pure function of the step index.
type World struct {
	scenario *Scenario
	hazards  map[[2]int]bool
}

// New builds a World from a validated scenario.
func New(sc *Scenario) (*World, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	w := &World{scenario: sc, hazards: make(map[[2]int]bool)}
	for _, h := range sc.Hazards {
		w.hazards[[2]int{h.Row, h.Col}] = true
	}
	return w, nil
}

// Reset produces the deterministic initial state: a density spike at
// the agent start, a phase ramp seeded from the episode seed, and cost
// potential concentrated on hazard cells.
func (w *World) Reset(seed []byte) (*state.State, *state.Observation, error) {
	sc := w.scenario
	s := &state.State{
		Rho: zeroGrid(sc.Rows, sc.Cols),
		Th:  zeroGrid(sc.Rows, sc.Cols),
		C:   zeroGrid(sc.Rows, sc.Cols),
		B:   sc.BudgetQ,
	}
	s.Rho[sc.AgentRow][sc.AgentCol] = 1

	// Phase ramp: a small seed-derived slope so different seeds give
	// different (but fully determined) initial gradients.
	slope := int64(1)
	if len(seed) >= 8 {
		slope = 1 + int64(binary.BigEndian.Uint64(seed[:8])%3)
	}
	for i := 0; i < sc.Rows; i++ {
		for j := 0; j < sc.Cols; j++ {
			s.Th[i][j] = slope * int64(i+j)
		}
	}
	for cell := range w.hazards {
		s.C[cell[0]][cell[1]] = sc.HazardCostQ
	}

	return s, w.observe(s), nil
}

// Step observes the post-transition state. The gridworld does not
// mutate kernel state on its own; it only reads it back out.
func (w *World) Step(s *state.State, a *state.Action) (*state.State, *state.Observation, error) {
	return s, w.observe(s), nil
}

// Drift applies the deterministic non-stationarity hook: every
// DriftPeriod steps the hazard cost field is refreshed, purely as a
// function of the step index so a replayed drift is byte-identical.
func (w *World) Drift(s *state.State, stepIndex uint64) (*state.State, error) {
	sc := w.scenario
	if sc.DriftPeriod == 0 || stepIndex == 0 || stepIndex%uint64(sc.DriftPeriod) != 0 {
		return s, nil
	}
	next := s.Clone()
	for cell := range w.hazards {
		next.C[cell[0]][cell[1]] = sc.HazardCostQ
	}
	return next, nil
}

// HazardMask returns the hazard bitmap, row-major, one bit per cell.
func (w *World) HazardMask(s *state.State) []uint64 {
	sc := w.scenario
	bits := sc.Rows * sc.Cols
	mask := make([]uint64, (bits+63)/64)
	for cell := range w.hazards {
		idx := cell[0]*sc.Cols + cell[1]
		mask[idx/64] |= 1 << (idx % 64)
	}
	return mask
}

// Check is the governor's environment-safety filter: an action that
// deposits density onto a hazard cell collides (REJECT_HAZARD); one
// that would push density past the lattice bound before projection
// leaves the domain (REJECT_OUT_OF_BOUNDS).
func (w *World) Check(s *state.State, a *state.Action) kerrors.RejectCode {
	for i := range a.DRho {
		for j := range a.DRho[i] {
			d := a.DRho[i][j]
			if d > 0 && w.hazards[[2]int{i, j}] {
				return kerrors.RejectHazard
			}
			if d != 0 {
				v := s.Rho[i][j] + d
				if v < 0 || v > w.scenario.RhoMax {
					return kerrors.RejectOutOfBounds
				}
			}
		}
	}
	return kerrors.RejectNone
}

// observe reads the agent position (density argmax) and goal distance
// back out of the state.
func (w *World) observe(s *state.State) *state.Observation {
	sc := w.scenario
	ar, ac := argmax(s.Rho)
	dist := abs(ar-sc.GoalRow) + abs(ac-sc.GoalCol)
	return &state.Observation{
		RewardQ:   -int64(dist) << 18,
		HazardHit: w.hazards[[2]int{ar, ac}],
		Terminal:  dist == 0 || s.B == 0,
		Readings: map[string]int64{
			"agent_row": int64(ar),
			"agent_col": int64(ac),
			"goal_row":  int64(sc.GoalRow),
			"goal_col":  int64(sc.GoalCol),
			"goal_dist": int64(dist),
		},
	}
}

func argmax(g state.Grid) (int, int) {
	bi, bj := 0, 0
	best := g[0][0]
	for i := range g {
		for j := range g[i] {
			if g[i][j] > best {
				best = g[i][j]
				bi, bj = i, j
			}
		}
	}
	return bi, bj
}

func zeroGrid(rows, cols int) state.Grid {
	g := make(state.Grid, rows)
	for i := range g {
		g[i] = make([]int64, cols)
	}
	return g
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
