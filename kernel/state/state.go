// Package state defines the kernel's State, Action, and Parameters
// types and the feasible-set K membership check.
package state

import (
	"github.com/cohkernel/gmk/kernel/kerrors"
)

// Grid is a dense 2-D integer lattice, row-major. All of ρ, θ, and C
// share this shape.
type Grid [][]int64

// Clone returns a deep copy of g.
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = append([]int64(nil), row...)
	}
	return out
}

// Rows/Cols report the lattice shape.
func (g Grid) Rows() int { return len(g) }
func (g Grid) Cols() int {
	if len(g) == 0 {
		return 0
	}
	return len(g[0])
}

// SameShape reports whether g and other have identical dimensions.
func (g Grid) SameShape(other Grid) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if len(g[i]) != len(other[i]) {
			return false
		}
	}
	return true
}

// ToCanonical renders g as a []any of []any rows, the shape canon.Marshal
// accepts for JCS encoding.
func (g Grid) ToCanonical() []any {
	rows := make([]any, len(g))
	for i, row := range g {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		rows[i] = cells
	}
	return rows
}

// State is the kernel's cognitive state vector s = (ρ, θ, C, b, t).
type State struct {
	Rho Grid  // density, each cell in [0, RhoMax]
	Th  Grid  // phase, unbounded
	C   Grid  // cost potential, each cell >= 0
	B   int64 // remaining metabolic budget, Q18, >= 0
	T   uint64
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	return &State{
		Rho: s.Rho.Clone(),
		Th:  s.Th.Clone(),
		C:   s.C.Clone(),
		B:   s.B,
		T:   s.T,
	}
}

// ToCanonical renders s as the map[string]any shape canon.Marshal
// accepts, in the exact field set that feeds state_hash.
func (s *State) ToCanonical() map[string]any {
	return map[string]any{
		"rho": s.Rho.ToCanonical(),
		"th":  s.Th.ToCanonical(),
		"c":   s.C.ToCanonical(),
		"b":   s.B,
		"t":   int64(s.T),
	}
}

// Action is a = (Δρ, Δθ, u_glyph?): integer-valued increments to ρ and
// θ, shaped like the state, plus an optional discrete tag.
type Action struct {
	DRho   Grid
	DTh    Grid
	UGlyph string // optional discrete tag; "" means absent
}

// ToCanonical renders a for action_hash.
func (a *Action) ToCanonical() map[string]any {
	return map[string]any{
		"d_rho":   a.DRho.ToCanonical(),
		"d_th":    a.DTh.ToCanonical(),
		"u_glyph": a.UGlyph,
	}
}

// Zero returns the additive-identity action (the synthetic Stay
// action used by the governor) for a grid of the given
// shape.
func Zero(rows, cols int) *Action {
	return &Action{DRho: newGrid(rows, cols), DTh: newGrid(rows, cols)}
}

func newGrid(rows, cols int) Grid {
	g := make(Grid, rows)
	for i := range g {
		g[i] = make([]int64, cols)
	}
	return g
}

// Parameters P is the kernel's immutable configuration.
// Receipts do not commit to P itself: receipt_core has no parameter
// field, so a change to P shows in downstream hashes only where it
// changes a recorded value (V, budget, state).
type Parameters struct {
	Version string

	Rows, Cols int
	RhoMax     int64

	// Lyapunov weights (all Q18).
	WGradTheta int64
	WC         int64
	WBudget    int64
	BMax       int64 // budget cap feeding the barrier Φ(b) = BMax - b, clipped at 0

	// Cost-potential diffusion.
	DC      int64 // diffusion coefficient, Q18
	LambdaC int64 // decay, Q18
	AlphaTau int64 // Q18 exploration-bonus scale α_τ, consumed by kernel/proposer
	BetaC    int64 // Q18; carried in P and its canonical form, read by no kernel computation

	AbsorbOnB0 bool

	// Work/budget charge per tick.
	TickCostQ int64 // Q18 fixed per-tick charge
	MoveCostQ int64 // Q18 charge per unit of |Δρ|+|Δθ| moved

	// Policy thresholds surfaced as configuration.
	HysteresisBandQ int64
	FatigueDecayQ   int64

	// Taint policy: 0 disables the filter.
	TaintThreshold uint8

	// Planner budget-adaptive sizing.
	MMax, HMax                      int
	BUnit, HUnit                    int64 // Q18 budget units driving m, H scaling
	KappaPlan, KappaGate, KappaExec int64 // Q18 per-unit planning costs
}

// Validate checks structural and numeric invariants of P, returning a
// wrapped kerrors.ErrInvalidParams naming the first violated field.
func (p *Parameters) Validate() error {
	switch {
	case p.Version == "":
		return invalidParam("version must not be empty")
	case p.Rows <= 0 || p.Cols <= 0:
		return invalidParam("rows and cols must be positive")
	case p.RhoMax < 0:
		return invalidParam("rho_max must be non-negative")
	case p.WGradTheta < 0 || p.WC < 0 || p.WBudget < 0:
		return invalidParam("lyapunov weights must be non-negative")
	case p.BMax < 0:
		return invalidParam("b_max must be non-negative")
	case p.DC < 0 || p.LambdaC < 0:
		return invalidParam("diffusion coefficient and decay must be non-negative")
	case p.TickCostQ < 0 || p.MoveCostQ < 0:
		return invalidParam("tick and move costs must be non-negative")
	case p.HysteresisBandQ < 0 || p.FatigueDecayQ < 0:
		return invalidParam("hysteresis band and fatigue decay must be non-negative")
	case p.MMax <= 0 || p.HMax <= 0:
		return invalidParam("m_max and h_max must be positive")
	case p.BUnit <= 0 || p.HUnit <= 0:
		return invalidParam("b_unit and h_unit must be positive")
	case p.KappaPlan < 0 || p.KappaGate < 0 || p.KappaExec < 0:
		return invalidParam("planning costs must be non-negative")
	}
	return nil
}

// ToCanonical renders p as a canonical map for hashing. No kernel
// package calls it, and step receipts do not include it.
func (p *Parameters) ToCanonical() map[string]any {
	return map[string]any{
		"version":           p.Version,
		"rows":              int64(p.Rows),
		"cols":              int64(p.Cols),
		"rho_max":           p.RhoMax,
		"w_grad_theta":      p.WGradTheta,
		"w_c":               p.WC,
		"w_budget":          p.WBudget,
		"b_max":             p.BMax,
		"d_c":               p.DC,
		"lambda_c":          p.LambdaC,
		"alpha_tau":         p.AlphaTau,
		"beta_c":            p.BetaC,
		"absorb_on_b0":      p.AbsorbOnB0,
		"tick_cost_q":       p.TickCostQ,
		"move_cost_q":       p.MoveCostQ,
		"hysteresis_band_q": p.HysteresisBandQ,
		"fatigue_decay_q":   p.FatigueDecayQ,
		"taint_threshold":   int64(p.TaintThreshold),
		"m_max":             int64(p.MMax),
		"h_max":             int64(p.HMax),
		"b_unit":            p.BUnit,
		"h_unit":            p.HUnit,
		"kappa_plan":        p.KappaPlan,
		"kappa_gate":        p.KappaGate,
		"kappa_exec":        p.KappaExec,
	}
}

// InK reports whether s lies in the feasible set K: every ρ cell in
// [0, RhoMax], every C cell >= 0, and b >= 0.
func InK(s *State, p *Parameters) bool {
	for _, row := range s.Rho {
		for _, v := range row {
			if v < 0 || v > p.RhoMax {
				return false
			}
		}
	}
	for _, row := range s.C {
		for _, v := range row {
			if v < 0 {
				return false
			}
		}
	}
	return s.B >= 0
}

func invalidParam(msg string) error {
	return &paramError{msg: msg}
}

type paramError struct{ msg string }

func (e *paramError) Error() string { return "state: invalid parameters: " + e.msg }
func (e *paramError) Unwrap() error { return kerrors.ErrInvalidParams }
