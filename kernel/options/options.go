// Package options implements skill options: temporally extended
// actions ω = (I, β, π_ω, max_steps) unfolded into governed
// primitive ticks. The governor stays active on every internal step; a
// governor rejection aborts the option.
package options

import (
	"fmt"

	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/prng"
	"github.com/cohkernel/gmk/kernel/q18"
	"github.com/cohkernel/gmk/kernel/receipt"
	"github.com/cohkernel/gmk/kernel/state"
)

// Option is a skill: Initiate gates where it may start, Policy yields
// the next primitive action, and termination is either stochastic
// (BetaQ, a Q18 probability sampled from the tick's deterministic
// stream) or hard (Terminate). MaxSteps bounds the unfolding.
type Option struct {
	Name      string
	Initiate  func(s *state.State) bool
	BetaQ     int64
	Terminate func(s *state.State) bool
	Policy    func(s *state.State) *state.Action
	MaxSteps  int
}

// MarkerSchemaID versions the option start/end marker records.
const MarkerSchemaID = "gmk.option_marker.v1"

// Marker kinds.
const (
	KindStart = "OPTION_START"
	KindEnd   = "OPTION_END"
)

// Marker is the OptionStart / OptionEnd record bracketing an unfolding.
// Markers are content-hashed audit records carried beside the receipt
// chain; the internal steps themselves are ordinary chained
// StepReceipts.
type Marker struct {
	SchemaID  string
	Kind      string
	Name      string
	StepIndex uint64
	ChainTip  khash.Digest
	Reason    string // end markers only: "", "terminated", "max_steps", or an abort code
}

// Core returns the marker's canonical field set.
func (m *Marker) Core() map[string]any {
	return map[string]any{
		"schema_id":  m.SchemaID,
		"kind":       m.Kind,
		"name":       m.Name,
		"step_index": int64(m.StepIndex),
		"chain_tip":  string(m.ChainTip),
		"reason":     m.Reason,
	}
}

// Hash returns the marker's content hash.
func (m *Marker) Hash() (khash.Digest, error) {
	return khash.SumJCS(m.Core())
}

// Runner is the single-tick execution seam the unfolding drives: one
// governed tick for a fixed action, returning the tick's receipt. The
// episode runtime implements it.
type Runner interface {
	TickWithAction(a *state.Action) (*receipt.StepReceipt, error)
	State() *state.State
	ChainTip() khash.Digest
}

// Trace is the full record of one unfolding.
type Trace struct {
	Start   *Marker
	Steps   []*receipt.StepReceipt
	End     *Marker
	Aborted bool
}

// Unfold runs ω from the runner's current state until termination,
// MaxSteps, or a governor abort. Returns an error only on contract
// violations; a governor rejection is data (Trace.Aborted plus the
// OPTION_ABORTED_BY_GOVERNOR reason on the end marker).
func Unfold(omega *Option, run Runner, rng *prng.Source) (*Trace, error) {
	s := run.State()
	if omega.Initiate != nil && !omega.Initiate(s) {
		return nil, fmt.Errorf("options: %s: initiation predicate false at step %d: %w",
			omega.Name, s.T, kerrors.ErrInvalidParams)
	}

	tr := &Trace{
		Start: &Marker{
			SchemaID:  MarkerSchemaID,
			Kind:      KindStart,
			Name:      omega.Name,
			StepIndex: s.T,
			ChainTip:  run.ChainTip(),
		},
	}

	reason := "terminated"
	maxSteps := omega.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1
	}

	for i := 0; i < maxSteps; i++ {
		cur := run.State()
		a := omega.Policy(cur)
		r, err := run.TickWithAction(a)
		if err != nil {
			return nil, err
		}
		tr.Steps = append(tr.Steps, r)

		if r.Decision == receipt.Rejected {
			tr.Aborted = true
			reason = string(kerrors.OptionAbortedByGovernor)
			break
		}
		if omega.Terminate != nil && omega.Terminate(run.State()) {
			break
		}
		if omega.BetaQ > 0 && sampleTerminate(omega.BetaQ, rng) {
			break
		}
		if i == maxSteps-1 {
			reason = "max_steps"
		}
	}

	tr.End = &Marker{
		SchemaID:  MarkerSchemaID,
		Kind:      KindEnd,
		Name:      omega.Name,
		StepIndex: run.State().T,
		ChainTip:  run.ChainTip(),
		Reason:    reason,
	}
	return tr, nil
}

// sampleTerminate draws a uniform Q18 sample from the stream and
// reports whether it fell under the termination probability.
func sampleTerminate(betaQ int64, rng *prng.Source) bool {
	draw := int64(rng.Uint32() & (q18.Scale - 1))
	return draw < betaQ
}
