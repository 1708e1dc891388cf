package retention

import (
	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/merkle"
	"github.com/cohkernel/gmk/kernel/receipt"
)

// ViolationType tags what a fraud proof alleges about the disputed
// micro-receipt.
type ViolationType string

const (
	VMaxUnderreported      ViolationType = "V_MAX_UNDERREPORTED"
	MMaxUnderreported      ViolationType = "M_MAX_UNDERREPORTED"
	BudgetUnderreported    ViolationType = "BUDGET_UNDERREPORTED"
	InvalidStateTransition ViolationType = "INVALID_STATE_TRANSITION"
	InvalidReceipt         ViolationType = "INVALID_RECEIPT"
)

// FraudProof disputes one micro-receipt inside a slab: the receipt's
// canonical bytes, a violation tag, the claimed bound the receipt
// breaches, and a directed Merkle path proving the receipt's membership
// in the slab's advertised root.
type FraudProof struct {
	SlabID        uint64
	LeafIndex     int
	ReceiptJSON   []byte
	Violation     ViolationType
	ClaimedBoundQ int64
	Path          []merkle.ProofStep
}

// Hash returns the proof's content hash, recorded in the dispute
// registry.
func (fp *FraudProof) Hash() (khash.Digest, error) {
	steps := make([]any, len(fp.Path))
	for i, s := range fp.Path {
		steps[i] = map[string]any{"side": string(s.Side), "sibling": string(s.Sibling)}
	}
	return khash.SumJCS(map[string]any{
		"slab_id":         int64(fp.SlabID),
		"leaf_index":      int64(fp.LeafIndex),
		"receipt":         string(fp.ReceiptJSON),
		"violation":       string(fp.Violation),
		"claimed_bound_q": fp.ClaimedBoundQ,
		"path":            steps,
	})
}

// Verify checks the proof against a slab's advertised root: membership
// first (INVALID_MERKLE_PROOF on failure), then the per-violation
// predicate against the receipt's own fields (INVALID_VIOLATION when
// the alleged breach is not actually shown).
func (fp *FraudProof) Verify(root khash.Digest, leafCount int) (bool, kerrors.RetentionCode) {
	if fp.LeafIndex < 0 || fp.LeafIndex >= leafCount {
		return false, kerrors.InvalidMerkleProof
	}
	ok, err := merkle.VerifyProof(fp.ReceiptJSON, fp.Path, root)
	if err != nil || !ok {
		return false, kerrors.InvalidMerkleProof
	}

	r, parseErr := receipt.ParseCore(fp.ReceiptJSON)
	if fp.Violation == InvalidReceipt {
		// A receipt that fails schema parsing is itself the violation.
		if parseErr != nil {
			return true, kerrors.RetentionOK
		}
		if !r.KKT.Feasible() {
			return true, kerrors.RetentionOK
		}
		return false, kerrors.InvalidViolation
	}
	if parseErr != nil {
		return false, kerrors.InvalidViolation
	}

	switch fp.Violation {
	case VMaxUnderreported:
		if r.VNextQ > fp.ClaimedBoundQ {
			return true, kerrors.RetentionOK
		}
	case MMaxUnderreported:
		if r.Work.TotalQ > fp.ClaimedBoundQ {
			return true, kerrors.RetentionOK
		}
	case BudgetUnderreported:
		if r.BPrevQ-r.BNextQ != r.DBQ {
			return true, kerrors.RetentionOK
		}
	case InvalidStateTransition:
		if r.Decision == receipt.Accepted && r.DVQ > 0 {
			return true, kerrors.RetentionOK
		}
		if r.Decision == receipt.Rejected && (r.DVQ != 0 || r.DBQ != 0) {
			return true, kerrors.RetentionOK
		}
	default:
		return false, kerrors.InvalidViolation
	}
	return false, kerrors.InvalidViolation
}

// SubmitFraudProof verifies a proof against the named slab and, on
// success, moves the slab to Disputed and registers the dispute.
// Returned as an (ok, code) pair; err is
// reserved for store failures.
func SubmitFraudProof(store Store, fp *FraudProof, height uint64) (bool, kerrors.RetentionCode, error) {
	slab, ok, err := store.GetSlab(fp.SlabID)
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, kerrors.RejectWindowMismatch, nil
	}

	disputed, err := store.IsDisputed(fp.SlabID)
	if err != nil {
		return false, "", err
	}
	if disputed {
		return false, kerrors.RejectAlreadyDisputed, nil
	}

	policy, ok, err := store.GetPolicy(slab.Receipt.PolicyID)
	if err != nil {
		return false, "", err
	}
	if ok && policy.DisputeWindowBlocks > 0 {
		if height > slab.Receipt.WindowEnd+policy.DisputeWindowBlocks {
			return false, kerrors.RejectWindowMismatch, nil
		}
	}

	// A slab already past the point of no return cannot be disputed.
	if slab.State == Finalized || slab.State == Deleted {
		return false, kerrors.RejectWindowMismatch, nil
	}

	valid, code := fp.Verify(slab.Receipt.ReceiptsRoot, slab.Receipt.ReceiptCount)
	if !valid {
		return false, code, nil
	}

	proofHash, err := fp.Hash()
	if err != nil {
		return false, "", err
	}
	if err := store.RegisterDispute(fp.SlabID, proofHash); err != nil {
		return false, "", err
	}
	slab.State = Disputed
	if err := store.PutSlab(slab); err != nil {
		return false, "", err
	}
	return true, kerrors.RetentionOK, nil
}
