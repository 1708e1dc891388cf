package retention

import (
	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
)

// FinalizeSchemaID versions the finalize receipt.
const FinalizeSchemaID = "gmk.finalize_receipt.v1"

// FinalizeReceipt claims that a slab's retention window has elapsed
// clean and the slab may move to Finalized, authorizing deletion.
type FinalizeReceipt struct {
	SchemaID        string
	SlabID          uint64
	WindowEndHeight uint64
	BudgetQ         int64
}

// Core returns the finalize receipt's canonical field set.
func (f *FinalizeReceipt) Core() map[string]any {
	return map[string]any{
		"schema_id":         f.SchemaID,
		"slab_id":           int64(f.SlabID),
		"window_end_height": int64(f.WindowEndHeight),
		"budget_q":          f.BudgetQ,
	}
}

// Hash returns the finalize receipt's content hash, recorded in the
// finalized registry.
func (f *FinalizeReceipt) Hash() (khash.Digest, error) {
	return khash.SumJCS(f.Core())
}

// Finalize verifies a finalize claim against the slab, the current
// height, and the slab's retention policy, and on success moves the
// slab to Finalized. Verification order: recompute the
// expected finalize height, check height, check the dispute registry,
// check the minimum budget threshold. Idempotent: finalizing an
// already-Finalized slab is a no-op success; finalizing a Disputed slab
// always fails with REJECT_DISPUTED.
func Finalize(store Store, fin *FinalizeReceipt, height uint64) (bool, kerrors.RetentionCode, error) {
	slab, ok, err := store.GetSlab(fin.SlabID)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, kerrors.RejectWindowMismatch, nil
	}

	if slab.State == Disputed {
		return false, kerrors.RejectDisputed, nil
	}
	if slab.State == Finalized || slab.State == Deleted {
		return true, kerrors.RetentionOK, nil
	}

	if fin.WindowEndHeight != slab.Receipt.WindowEnd {
		return false, kerrors.RejectWindowMismatch, nil
	}

	policy, ok, err := store.GetPolicy(slab.Receipt.PolicyID)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, kerrors.RejectWindowMismatch, nil
	}

	if height < policy.FinalizeHeight(slab.Receipt.WindowEnd) {
		return false, kerrors.RejectPrematureFinalize, nil
	}

	disputed, err := store.IsDisputed(fin.SlabID)
	if err != nil {
		return false, "", err
	}
	if disputed {
		return false, kerrors.RejectDisputed, nil
	}

	if fin.BudgetQ < policy.DeletionAuthorization.MinBudgetQ {
		return false, kerrors.RejectBudgetInsufficient, nil
	}

	finHash, err := fin.Hash()
	if err != nil {
		return false, "", err
	}
	if err := store.RegisterFinalized(fin.SlabID, finHash); err != nil {
		return false, "", err
	}
	slab.State = Finalized
	if err := store.PutSlab(slab); err != nil {
		return false, "", err
	}
	return true, kerrors.RetentionOK, nil
}

// AuthorizeDeletion moves a Finalized slab to Deleted. The deletion
// conditions themselves were checked at finalize time; this transition
// only requires that finalization actually happened. Idempotent on an
// already-Deleted slab; a Disputed slab never deletes.
func AuthorizeDeletion(store Store, slabID uint64) (bool, kerrors.RetentionCode, error) {
	slab, ok, err := store.GetSlab(slabID)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, kerrors.RejectWindowMismatch, nil
	}
	switch slab.State {
	case Deleted:
		return true, kerrors.RetentionOK, nil
	case Disputed:
		return false, kerrors.RejectDisputed, nil
	case Finalized:
		slab.State = Deleted
		if err := store.PutSlab(slab); err != nil {
			return false, "", err
		}
		return true, kerrors.RetentionOK, nil
	default:
		return false, kerrors.RejectPrematureFinalize, nil
	}
}
