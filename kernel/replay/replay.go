// Package replay recomputes a trajectory from receipts plus parameters
// and seed, asserting byte equality of every chain hash, state hash,
// proposal-set root, and numeric receipt field.
package replay

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/cohkernel/gmk/kernel/canon"
	"github.com/cohkernel/gmk/kernel/gmi"
	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/prng"
	"github.com/cohkernel/gmk/kernel/proposer"
	"github.com/cohkernel/gmk/kernel/receipt"
	"github.com/cohkernel/gmk/kernel/state"
)

// Trace is the replay input: parameters, genesis state and chain tip,
// the episode seed, and the recorded receipts. Actions are resolved
// from the committed ProposalSets when present, otherwise from the
// Actions log.
//
// Drift re-applies the environment's deterministic drift hook before
// each step, exactly where the episode runtime applies it. An episode
// whose environment drifts folds that drift into every hashed state;
// verifying such a log with a nil Drift diverges at the first drifted
// tick, so a nil Drift is only sound for drift-free trajectories.
type Trace struct {
	Params *state.Parameters
	S0     *state.State
	Chain0 khash.Digest
	Seed   []byte

	Receipts     []*receipt.StepReceipt
	ProposalSets []*proposer.ProposalSet
	Actions      []*state.Action

	Drift func(s *state.State, stepIndex uint64) (*state.State, error)
}

// DivergenceError names the first divergent field and carries the two
// differing byte strings hex-prefixed.
type DivergenceError struct {
	StepIndex uint64
	Field     string
	Want      string // recorded, hex-prefixed
	Got       string // recomputed, hex-prefixed
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("replay: step %d: field %q diverged: recorded %s, recomputed %s",
		e.StepIndex, e.Field, e.Want, e.Got)
}

func (e *DivergenceError) Unwrap() error { return kerrors.ErrReplayDivergence }

// Verify replays the trace and returns nil iff every recomputed receipt
// matches the recorded one bytewise. The first mismatch fails with
// E_REPLAY_DIVERGENCE naming the divergent field.
func Verify(tr *Trace) error {
	if tr.Params == nil || tr.S0 == nil {
		return fmt.Errorf("replay: nil parameters or genesis state: %w", kerrors.ErrInvalidParams)
	}
	if err := tr.Params.Validate(); err != nil {
		return err
	}

	s := tr.S0.Clone()
	tip := tr.Chain0
	seedCommit := prng.SeedCommit(tr.Seed)

	for i, rec := range tr.Receipts {
		if tr.Drift != nil {
			drifted, err := tr.Drift(s, s.T)
			if err != nil {
				return err
			}
			s = drifted
		}

		action, err := tr.resolveAction(i, rec)
		if err != nil {
			return err
		}

		ctx := &gmi.Context{
			ProposalSetRoot: rec.ProposalSetRoot,
			ChosenIndex:     rec.ChosenProposalIndex,
			ChosenHash:      rec.ChosenProposalHash,
			PlanSetRoot:     rec.PlanSetRoot,
			ChosenPlanIndex: rec.ChosenPlanIndex,
			ChosenPlanHash:  rec.ChosenPlanHash,
			SeedCommit:      seedCommit,
		}
		if rec.Decision == receipt.Rejected && isGovernorCode(rec.RejectCode) {
			ctx.GovernorReject = rec.RejectCode
		}

		next, computed, err := gmi.Step(s, action, ctx, tr.Params, tip)
		if err != nil {
			return err
		}
		if err := compareCores(rec, computed); err != nil {
			return err
		}
		if computed.ChainNext != rec.ChainNext {
			return &DivergenceError{
				StepIndex: rec.StepIndex,
				Field:     "chain_next",
				Want:      hexOf([]byte(rec.ChainNext)),
				Got:       hexOf([]byte(computed.ChainNext)),
			}
		}

		s = next
		tip = computed.ChainNext
	}
	return nil
}

// resolveAction recovers the tick's action: from the committed
// ProposalSet (checking the recorded root and chosen hash), from the
// Actions log, or the Stay action for a governor-rejected tick.
func (tr *Trace) resolveAction(i int, rec *receipt.StepReceipt) (*state.Action, error) {
	rows, cols := tr.S0.Rho.Rows(), tr.S0.Rho.Cols()

	if i < len(tr.ProposalSets) && tr.ProposalSets[i] != nil {
		set := tr.ProposalSets[i]
		if root := set.Root(); root != rec.ProposalSetRoot {
			return nil, &DivergenceError{
				StepIndex: rec.StepIndex,
				Field:     "proposalset_root",
				Want:      hexOf([]byte(rec.ProposalSetRoot)),
				Got:       hexOf([]byte(root)),
			}
		}
		if rec.ChosenProposalIndex < 0 {
			return state.Zero(rows, cols), nil
		}
		if rec.ChosenProposalIndex >= len(set.Proposals) {
			return nil, fmt.Errorf("replay: step %d: chosen index %d out of range: %w",
				rec.StepIndex, rec.ChosenProposalIndex, kerrors.ErrSchemaMismatch)
		}
		prop := set.Proposals[rec.ChosenProposalIndex]
		hash, err := prop.Hash()
		if err != nil {
			return nil, err
		}
		if hash != rec.ChosenProposalHash {
			return nil, &DivergenceError{
				StepIndex: rec.StepIndex,
				Field:     "chosen_proposal_hash",
				Want:      hexOf([]byte(rec.ChosenProposalHash)),
				Got:       hexOf([]byte(hash)),
			}
		}
		return prop.Action, nil
	}

	if i < len(tr.Actions) && tr.Actions[i] != nil {
		return tr.Actions[i], nil
	}
	if rec.ChosenProposalIndex < 0 {
		return state.Zero(rows, cols), nil
	}
	return nil, fmt.Errorf("replay: step %d: no action source: %w", rec.StepIndex, kerrors.ErrSchemaMismatch)
}

// CompareLogs checks a recorded receipt log against a freshly
// recomputed one, field by field, failing with E_REPLAY_DIVERGENCE on
// the first mismatch. Hosts use this when they re-derive the whole
// trajectory (proposer included) instead of replaying recorded actions.
func CompareLogs(recorded, recomputed []*receipt.StepReceipt) error {
	n := len(recorded)
	if len(recomputed) < n {
		n = len(recomputed)
	}
	for i := 0; i < n; i++ {
		if err := compareCores(recorded[i], recomputed[i]); err != nil {
			return err
		}
		if recorded[i].ChainNext != recomputed[i].ChainNext {
			return &DivergenceError{
				StepIndex: recorded[i].StepIndex,
				Field:     "chain_next",
				Want:      hexOf([]byte(recorded[i].ChainNext)),
				Got:       hexOf([]byte(recomputed[i].ChainNext)),
			}
		}
	}
	if len(recorded) != len(recomputed) {
		return fmt.Errorf("replay: length mismatch: recorded %d, recomputed %d: %w",
			len(recorded), len(recomputed), kerrors.ErrReplayDivergence)
	}
	return nil
}

// compareCores walks both receipt cores in sorted key order and fails
// on the first field whose canonical encoding differs.
func compareCores(recorded, computed *receipt.StepReceipt) error {
	want := recorded.Core()
	got := computed.Core()
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		wb, err := canon.Marshal(want[k])
		if err != nil {
			return err
		}
		gb, err := canon.Marshal(got[k])
		if err != nil {
			return err
		}
		if string(wb) != string(gb) {
			return &DivergenceError{
				StepIndex: recorded.StepIndex,
				Field:     k,
				Want:      hexOf(wb),
				Got:       hexOf(gb),
			}
		}
	}
	return nil
}

// isGovernorCode reports whether a rejection originated in the governor
// rather than the engine; engine-class codes are rederived by gmi.Step
// during replay instead of being replayed as verdicts.
func isGovernorCode(code kerrors.RejectCode) bool {
	switch code {
	case kerrors.RejectNoSafeAction,
		kerrors.RejectHazard,
		kerrors.RejectOutOfBounds,
		kerrors.RejectTaintUntrusted,
		kerrors.OptionAbortedByGovernor:
		return true
	default:
		return false
	}
}

func hexOf(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
