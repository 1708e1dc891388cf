package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
)

// coreWire mirrors the receipt_core field set for JSON decoding. Parsing
// is not canonicalization-sensitive; only emission must be JCS.
type coreWire struct {
	SchemaID            string `json:"schema_id"`
	StepIndex           int64  `json:"step_index"`
	ChainPrev           string `json:"chain_prev"`
	StateHashPrev       string `json:"state_hash_prev"`
	StateHashNext       string `json:"state_hash_next"`
	ActionHash          string `json:"action_hash"`
	ProposalSetRoot     string `json:"proposalset_root"`
	ChosenProposalIndex int64  `json:"chosen_proposal_index"`
	ChosenProposalHash  string `json:"chosen_proposal_hash"`
	PlanSetRoot         string `json:"planset_root"`
	ChosenPlanIndex     int64  `json:"chosen_plan_index"`
	ChosenPlanHash      string `json:"chosen_plan_hash"`
	VPrevQ              int64  `json:"v_prev_q"`
	VNextQ              int64  `json:"v_next_q"`
	DVQ                 int64  `json:"dv_q"`
	BPrevQ              int64  `json:"b_prev_q"`
	BNextQ              int64  `json:"b_next_q"`
	DBQ                 int64  `json:"db_q"`
	Decision            string `json:"decision"`
	RejectCode          string `json:"reject_code"`
	KKT                 struct {
		FeasRho        int64 `json:"feas_rho"`
		FeasC          int64 `json:"feas_c"`
		FeasB          int64 `json:"feas_b"`
		StationarityTh int64 `json:"stationarity_th"`
	} `json:"kkt_residual"`
	Work struct {
		TickCostQ int64 `json:"tick_cost_q"`
		MoveCostQ int64 `json:"move_cost_q"`
		TotalQ    int64 `json:"total_q"`
	} `json:"work_units"`
	Projected struct {
		Rho bool `json:"rho"`
		C   bool `json:"c"`
		B   bool `json:"b"`
	} `json:"projected"`
	SeedCommit string `json:"seed_commit"`
}

// ParseCore decodes JCS receipt_core bytes back into a StepReceipt with
// every core field populated (ChainNext is not part of the core and is
// left empty). Schema mismatches fail with kerrors.ErrSchemaMismatch.
func ParseCore(data []byte) (*StepReceipt, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w coreWire
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("receipt: malformed core: %v: %w", err, kerrors.ErrSchemaMismatch)
	}
	if w.SchemaID != SchemaID {
		return nil, fmt.Errorf("receipt: schema %q: %w", w.SchemaID, kerrors.ErrSchemaMismatch)
	}
	r := &StepReceipt{
		SchemaID:            w.SchemaID,
		StepIndex:           uint64(w.StepIndex),
		ChainPrev:           khash.Digest(w.ChainPrev),
		StateHashPrev:       khash.Digest(w.StateHashPrev),
		StateHashNext:       khash.Digest(w.StateHashNext),
		ActionHash:          khash.Digest(w.ActionHash),
		ProposalSetRoot:     khash.Digest(w.ProposalSetRoot),
		ChosenProposalIndex: int(w.ChosenProposalIndex),
		ChosenProposalHash:  khash.Digest(w.ChosenProposalHash),
		PlanSetRoot:         khash.Digest(w.PlanSetRoot),
		ChosenPlanIndex:     int(w.ChosenPlanIndex),
		ChosenPlanHash:      khash.Digest(w.ChosenPlanHash),
		VPrevQ:              w.VPrevQ,
		VNextQ:              w.VNextQ,
		DVQ:                 w.DVQ,
		BPrevQ:              w.BPrevQ,
		BNextQ:              w.BNextQ,
		DBQ:                 w.DBQ,
		Decision:            Decision(w.Decision),
		RejectCode:          kerrors.RejectCode(w.RejectCode),
		KKT: KKTResidual{
			FeasRho:        w.KKT.FeasRho,
			FeasC:          w.KKT.FeasC,
			FeasB:          w.KKT.FeasB,
			StationarityTh: w.KKT.StationarityTh,
		},
		Work: WorkUnits{
			TickCostQ: w.Work.TickCostQ,
			MoveCostQ: w.Work.MoveCostQ,
			TotalQ:    w.Work.TotalQ,
		},
		Projected: Projected{
			Rho: w.Projected.Rho,
			C:   w.Projected.C,
			B:   w.Projected.B,
		},
		SeedCommit: khash.Digest(w.SeedCommit),
	}
	return r, nil
}
