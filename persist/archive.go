package persist

import (
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/cohkernel/gmk/kernel/receipt"
)

// archiveRow flattens one step receipt into a parquet record. Hash
// columns keep their "sha256:" prefixes so archived rows remain
// self-describing.
type archiveRow struct {
	StepIndex      int64  `parquet:"name=step_index, type=INT64"`
	ChainPrev      string `parquet:"name=chain_prev, type=UTF8"`
	ChainNext      string `parquet:"name=chain_next, type=UTF8"`
	StateHashPrev  string `parquet:"name=state_hash_prev, type=UTF8"`
	StateHashNext  string `parquet:"name=state_hash_next, type=UTF8"`
	ActionHash     string `parquet:"name=action_hash, type=UTF8"`
	ProposalRoot   string `parquet:"name=proposalset_root, type=UTF8"`
	ChosenProposal int64  `parquet:"name=chosen_proposal_index, type=INT64"`
	VPrevQ         int64  `parquet:"name=v_prev_q, type=INT64"`
	VNextQ         int64  `parquet:"name=v_next_q, type=INT64"`
	DVQ            int64  `parquet:"name=dv_q, type=INT64"`
	BPrevQ         int64  `parquet:"name=b_prev_q, type=INT64"`
	BNextQ         int64  `parquet:"name=b_next_q, type=INT64"`
	DBQ            int64  `parquet:"name=db_q, type=INT64"`
	Decision       string `parquet:"name=decision, type=UTF8"`
	RejectCode     string `parquet:"name=reject_code, type=UTF8"`
	WorkTotalQ     int64  `parquet:"name=work_total_q, type=INT64"`
	ProjectedRho   bool   `parquet:"name=projected_rho, type=BOOLEAN"`
	ProjectedC     bool   `parquet:"name=projected_c, type=BOOLEAN"`
	ProjectedB     bool   `parquet:"name=projected_b, type=BOOLEAN"`
	SeedCommit     string `parquet:"name=seed_commit, type=UTF8"`
}

// ArchiveSlab writes the receipts of a finalized slab to a columnar
// parquet file at path, the cold-storage step before the slab
// transitions Finalized → Deleted. Deletion in the live store then
// means "archived", not "gone".
func ArchiveSlab(path string, receipts []*receipt.StepReceipt) error {
	if len(receipts) == 0 {
		return fmt.Errorf("persist: nothing to archive")
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("persist: create archive %s: %w", path, err)
	}
	pw, err := writer.NewParquetWriter(fw, new(archiveRow), 2)
	if err != nil {
		fw.Close()
		return fmt.Errorf("persist: parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range receipts {
		row := archiveRow{
			StepIndex:      int64(r.StepIndex),
			ChainPrev:      string(r.ChainPrev),
			ChainNext:      string(r.ChainNext),
			StateHashPrev:  string(r.StateHashPrev),
			StateHashNext:  string(r.StateHashNext),
			ActionHash:     string(r.ActionHash),
			ProposalRoot:   string(r.ProposalSetRoot),
			ChosenProposal: int64(r.ChosenProposalIndex),
			VPrevQ:         r.VPrevQ,
			VNextQ:         r.VNextQ,
			DVQ:            r.DVQ,
			BPrevQ:         r.BPrevQ,
			BNextQ:         r.BNextQ,
			DBQ:            r.DBQ,
			Decision:       string(r.Decision),
			RejectCode:     string(r.RejectCode),
			WorkTotalQ:     r.Work.TotalQ,
			ProjectedRho:   r.Projected.Rho,
			ProjectedC:     r.Projected.C,
			ProjectedB:     r.Projected.B,
			SeedCommit:     string(r.SeedCommit),
		}
		if err := pw.Write(row); err != nil {
			fw.Close()
			return fmt.Errorf("persist: write row %d: %w", r.StepIndex, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("persist: finish archive: %w", err)
	}
	return fw.Close()
}
