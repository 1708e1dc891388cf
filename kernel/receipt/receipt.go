// Package receipt defines the kernel's StepReceipt and SlabReceipt
// structures and their canonical-core hashing.
package receipt

import (
	"github.com/cohkernel/gmk/kernel/canon"
	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
)

// SchemaID is the fixed, versioned schema identifier carried in every
// StepReceipt.
const SchemaID = "gmk.step_receipt.v1"

// Decision is the step-level accept/reject outcome.
type Decision string

const (
	Accepted Decision = "ACCEPTED"
	Rejected Decision = "REJECTED"
)

// KKTResidual carries the feasibility and stationarity residuals
// computed on s' after a step. Feasibility residuals are a strong
// invariant and must be zero; stationarity is a diagnostic only.
type KKTResidual struct {
	FeasRho        int64
	FeasC          int64
	FeasB          int64
	StationarityTh int64
}

// ToCanonical renders k for JCS encoding.
func (k KKTResidual) ToCanonical() map[string]any {
	return map[string]any{
		"feas_rho":        k.FeasRho,
		"feas_c":          k.FeasC,
		"feas_b":          k.FeasB,
		"stationarity_th": k.StationarityTh,
	}
}

// Feasible reports whether all feasibility residuals are zero, the
// strong invariant the engine enforces after projection.
func (k KKTResidual) Feasible() bool {
	return k.FeasRho == 0 && k.FeasC == 0 && k.FeasB == 0
}

// Projected records which state fields the projection onto K actually
// clamped while previewing the step, one boolean per field. It is part
// of receipt_core, so a clamp is auditable and folds into the chain
// hash.
type Projected struct {
	Rho bool
	C   bool
	B   bool
}

func (p Projected) ToCanonical() map[string]any {
	return map[string]any{
		"rho": p.Rho,
		"c":   p.C,
		"b":   p.B,
	}
}

// Any reports whether any field was clamped.
func (p Projected) Any() bool {
	return p.Rho || p.C || p.B
}

// WorkUnits is the per-tick budget charge breakdown.
type WorkUnits struct {
	TickCostQ int64
	MoveCostQ int64
	TotalQ    int64
}

func (w WorkUnits) ToCanonical() map[string]any {
	return map[string]any{
		"tick_cost_q": w.TickCostQ,
		"move_cost_q": w.MoveCostQ,
		"total_q":     w.TotalQ,
	}
}

// StepReceipt is the per-tick receipt emitted by gmi.Step.
// Core() returns the canonical subset that feeds chain_hash_next;
// Envelope fields below it are transport metadata and are never hashed.
type StepReceipt struct {
	SchemaID  string
	StepIndex uint64

	ChainPrev khash.Digest
	ChainNext khash.Digest

	StateHashPrev khash.Digest
	StateHashNext khash.Digest
	ActionHash    khash.Digest

	ProposalSetRoot      khash.Digest
	ChosenProposalIndex  int
	ChosenProposalHash   khash.Digest

	// Planner commitments. When no planner ran this tick, PlanSetRoot
	// and ChosenPlanHash are empty and ChosenPlanIndex is -1;
	// the fields still enter receipt_core so planner and non-planner
	// ticks hash under one schema.
	PlanSetRoot     khash.Digest
	ChosenPlanIndex int
	ChosenPlanHash  khash.Digest

	VPrevQ int64
	VNextQ int64
	DVQ    int64

	BPrevQ int64
	BNextQ int64
	DBQ    int64

	Decision   Decision
	RejectCode kerrors.RejectCode

	KKT        KKTResidual
	Work       WorkUnits
	Projected  Projected
	SeedCommit khash.Digest

	// Envelope: transport metadata, deliberately excluded from Core().
	Timestamp    int64  // host-assigned; not part of receipt_core
	SignerAddr   string // bech32 signer identity, not part of receipt_core
	Signature    []byte // signature over Core()'s hash, not part of receipt_core
}

// Core returns the canonical subset of the receipt — receipt_core —
// that chain_hash_next folds over. Transport metadata (Timestamp,
// SignerAddr, Signature) is excluded and can never perturb the chain.
func (r *StepReceipt) Core() map[string]any {
	return map[string]any{
		"schema_id":              r.SchemaID,
		"step_index":             int64(r.StepIndex),
		"chain_prev":             string(r.ChainPrev),
		"state_hash_prev":        string(r.StateHashPrev),
		"state_hash_next":        string(r.StateHashNext),
		"action_hash":            string(r.ActionHash),
		"proposalset_root":       string(r.ProposalSetRoot),
		"chosen_proposal_index":  int64(r.ChosenProposalIndex),
		"chosen_proposal_hash":   string(r.ChosenProposalHash),
		"planset_root":           string(r.PlanSetRoot),
		"chosen_plan_index":      int64(r.ChosenPlanIndex),
		"chosen_plan_hash":       string(r.ChosenPlanHash),
		"v_prev_q":               r.VPrevQ,
		"v_next_q":               r.VNextQ,
		"dv_q":                   r.DVQ,
		"b_prev_q":               r.BPrevQ,
		"b_next_q":               r.BNextQ,
		"db_q":                   r.DBQ,
		"decision":               string(r.Decision),
		"reject_code":            string(r.RejectCode),
		"kkt_residual":           r.KKT.ToCanonical(),
		"work_units":             r.Work.ToCanonical(),
		"projected":              r.Projected.ToCanonical(),
		"seed_commit":            string(r.SeedCommit),
	}
}

// FinalizeChainHash computes and sets r.ChainNext from r.ChainPrev and
// the receipt's own core via the domain-separated chain fold.
// Must be called after every other field is set.
func (r *StepReceipt) FinalizeChainHash() error {
	next, err := khash.ChainHashNext(r.ChainPrev, r.Core())
	if err != nil {
		return err
	}
	r.ChainNext = next
	return nil
}

// Leaf returns the Merkle leaf payload for this receipt when it is
// included in a slab: the JCS bytes of receipt_core.
func (r *StepReceipt) Leaf() ([]byte, error) {
	return canon.Marshal(r.Core())
}

// VerifyChainHash recomputes chain_next from chain_prev and the core and
// reports whether it matches the recorded value.
func (r *StepReceipt) VerifyChainHash() (bool, error) {
	want, err := khash.ChainHashNext(r.ChainPrev, r.Core())
	if err != nil {
		return false, err
	}
	return want == r.ChainNext, nil
}
