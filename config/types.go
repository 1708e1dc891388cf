package config

import "github.com/cohkernel/gmk/kernel/state"

// Params mirrors kernel/state.Parameters in TOML form. Receipts do not
// commit to the parameter set directly; an edit to a params file
// changes downstream hashes only through the recorded values it changes.
type Params struct {
	Version string `toml:"Version"`

	Rows   int   `toml:"Rows"`
	Cols   int   `toml:"Cols"`
	RhoMax int64 `toml:"RhoMax"`

	WGradTheta int64 `toml:"WGradTheta"`
	WC         int64 `toml:"WC"`
	WBudget    int64 `toml:"WBudget"`
	BMax       int64 `toml:"BMax"`

	DC       int64 `toml:"DC"`
	LambdaC  int64 `toml:"LambdaC"`
	AlphaTau int64 `toml:"AlphaTau"`
	BetaC    int64 `toml:"BetaC"`

	AbsorbOnB0 bool `toml:"AbsorbOnB0"`

	TickCostQ int64 `toml:"TickCostQ"`
	MoveCostQ int64 `toml:"MoveCostQ"`

	HysteresisBandQ int64 `toml:"HysteresisBandQ"`
	FatigueDecayQ   int64 `toml:"FatigueDecayQ"`

	TaintThreshold uint8 `toml:"TaintThreshold"`

	MMax      int   `toml:"MMax"`
	HMax      int   `toml:"HMax"`
	BUnit     int64 `toml:"BUnit"`
	HUnit     int64 `toml:"HUnit"`
	KappaPlan int64 `toml:"KappaPlan"`
	KappaGate int64 `toml:"KappaGate"`
	KappaExec int64 `toml:"KappaExec"`
}

// ToKernel converts the TOML mirror into the kernel's immutable
// parameter record.
func (p *Params) ToKernel() *state.Parameters {
	return &state.Parameters{
		Version:         p.Version,
		Rows:            p.Rows,
		Cols:            p.Cols,
		RhoMax:          p.RhoMax,
		WGradTheta:      p.WGradTheta,
		WC:              p.WC,
		WBudget:         p.WBudget,
		BMax:            p.BMax,
		DC:              p.DC,
		LambdaC:         p.LambdaC,
		AlphaTau:        p.AlphaTau,
		BetaC:           p.BetaC,
		AbsorbOnB0:      p.AbsorbOnB0,
		TickCostQ:       p.TickCostQ,
		MoveCostQ:       p.MoveCostQ,
		HysteresisBandQ: p.HysteresisBandQ,
		FatigueDecayQ:   p.FatigueDecayQ,
		TaintThreshold:  p.TaintThreshold,
		MMax:            p.MMax,
		HMax:            p.HMax,
		BUnit:           p.BUnit,
		HUnit:           p.HUnit,
		KappaPlan:       p.KappaPlan,
		KappaGate:       p.KappaGate,
		KappaExec:       p.KappaExec,
	}
}

// defaultParams is the parameter set written when no params file
// exists: a small lattice with Lyapunov weights that keep the demo
// episode well inside int64 range.
func defaultParams() Params {
	return Params{
		Version:    "gmk-params-v1",
		Rows:       4,
		Cols:       4,
		RhoMax:     8,
		WGradTheta: 1 << 18,
		WC:         1 << 18,
		WBudget:    1 << 16,
		BMax:       64 << 18,
		DC:         1 << 16,
		LambdaC:    1 << 14,
		AlphaTau:   1 << 17,
		BetaC:      1 << 16,
		AbsorbOnB0: true,
		TickCostQ:  1 << 16,
		MoveCostQ:  1 << 15,

		HysteresisBandQ: 1 << 14,
		FatigueDecayQ:   1 << 12,

		MMax:      4,
		HMax:      6,
		BUnit:     8 << 18,
		HUnit:     4 << 18,
		KappaPlan: 1 << 12,
		KappaGate: 1 << 11,
		KappaExec: 1 << 10,
	}
}
