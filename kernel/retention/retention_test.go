package retention_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/merkle"
	"github.com/cohkernel/gmk/kernel/receipt"
	"github.com/cohkernel/gmk/kernel/retention"
)

func testPolicy() *retention.Policy {
	return &retention.Policy{
		Version:               "v1",
		RetentionPeriodBlocks: 100,
		DisputeWindowBlocks:   0, // no dispute deadline in these tests
		DeletionAuthorization: retention.DeletionAuthorization{
			MinBudgetQ:        1 << 18,
			NoDisputes:        true,
			WindowEndVerified: true,
		},
	}
}

// makeReceipt builds a consistent micro-receipt for slab tests.
func makeReceipt(i uint64) *receipt.StepReceipt {
	return &receipt.StepReceipt{
		SchemaID:           receipt.SchemaID,
		StepIndex:          i,
		ChainPrev:          khash.GenesisZero,
		ChainNext:          khash.GenesisZero,
		StateHashPrev:      khash.GenesisZero,
		StateHashNext:      khash.GenesisZero,
		ActionHash:         khash.GenesisZero,
		ProposalSetRoot:    khash.GenesisZero,
		ChosenProposalHash: khash.GenesisZero,
		ChosenPlanIndex:    -1,
		VPrevQ:             10 << 18,
		VNextQ:             9 << 18,
		DVQ:                -1 << 18,
		BPrevQ:             int64(20-i) << 18,
		BNextQ:             int64(19-i) << 18,
		DBQ:                1 << 18,
		Decision:           receipt.Accepted,
		Work:               receipt.WorkUnits{TickCostQ: 1 << 18, TotalQ: 1 << 18},
		SeedCommit:         khash.GenesisZero,
	}
}

// setup registers a policy and a slab of three micro-receipts.
func setup(t *testing.T) (*retention.MemStore, *receipt.SlabReceipt, []*receipt.StepReceipt, *merkle.Tree) {
	t.Helper()
	store := retention.NewMemStore()
	policyID, err := store.RegisterPolicy(testPolicy())
	require.NoError(t, err)

	receipts := []*receipt.StepReceipt{makeReceipt(0), makeReceipt(1), makeReceipt(2)}
	slab, tree, err := receipt.BuildSlab(receipts, 7, 900, 1000, policyID)
	require.NoError(t, err)
	require.NoError(t, retention.Register(store, slab))
	return store, slab, receipts, tree
}

func TestLifecycleAdvance(t *testing.T) {
	store, slab, _, _ := setup(t)

	st, err := retention.Advance(store, slab.SlabID, 100)
	require.NoError(t, err)
	require.Equal(t, retention.Pending, st)

	st, err = retention.Advance(store, slab.SlabID, 950)
	require.NoError(t, err)
	require.Equal(t, retention.Active, st)

	// retention period (100) not yet elapsed past window_end (1000)
	st, err = retention.Advance(store, slab.SlabID, 1050)
	require.NoError(t, err)
	require.Equal(t, retention.Active, st)

	st, err = retention.Advance(store, slab.SlabID, 1100)
	require.NoError(t, err)
	require.Equal(t, retention.Finalizable, st)
}

// A fraud proof with a genuine violation and a valid path disputes the
// slab.
func TestFraudProofAccepted(t *testing.T) {
	store, slab, receipts, _ := setup(t)
	_, err := retention.Advance(store, slab.SlabID, 950)
	require.NoError(t, err)

	// Misreport the budget delta on receipt 1.
	bad := makeReceipt(1)
	bad.DBQ = 0
	badLeaf, err := bad.Leaf()
	require.NoError(t, err)

	badReceipts := []*receipt.StepReceipt{receipts[0], bad, receipts[2]}
	badSlab, badTree, err := receipt.BuildSlab(badReceipts, 8, 900, 1000, slab.PolicyID)
	require.NoError(t, err)
	require.NoError(t, retention.Register(store, badSlab))
	_, err = retention.Advance(store, badSlab.SlabID, 950)
	require.NoError(t, err)

	path, err := badTree.Proof(1)
	require.NoError(t, err)
	fp := &retention.FraudProof{
		SlabID:      badSlab.SlabID,
		LeafIndex:   1,
		ReceiptJSON: badLeaf,
		Violation:   retention.BudgetUnderreported,
		Path:        path,
	}
	ok, code, err := retention.SubmitFraudProof(store, fp, 1010)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kerrors.RetentionOK, code)

	got, found, err := store.GetSlab(badSlab.SlabID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, retention.Disputed, got.State)
}

// Mutating the disputed leaf invalidates its directed path.
func TestFraudProofTamperedLeafRejected(t *testing.T) {
	store, slab, _, tree := setup(t)
	_, err := retention.Advance(store, slab.SlabID, 950)
	require.NoError(t, err)

	mutated := makeReceipt(1)
	mutated.BNextQ++ // not what the slab committed
	mutatedLeaf, err := mutated.Leaf()
	require.NoError(t, err)

	path, err := tree.Proof(1)
	require.NoError(t, err)
	fp := &retention.FraudProof{
		SlabID:      slab.SlabID,
		LeafIndex:   1,
		ReceiptJSON: mutatedLeaf,
		Violation:   retention.BudgetUnderreported,
		Path:        path,
	}
	ok, code, err := retention.SubmitFraudProof(store, fp, 1010)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, kerrors.InvalidMerkleProof, code)
}

// A well-formed membership proof whose alleged violation is not shown
// by the receipt's own fields is rejected as INVALID_VIOLATION.
func TestFraudProofUnsupportedClaimRejected(t *testing.T) {
	store, slab, receipts, tree := setup(t)
	_, err := retention.Advance(store, slab.SlabID, 950)
	require.NoError(t, err)

	leaf, err := receipts[1].Leaf()
	require.NoError(t, err)
	path, err := tree.Proof(1)
	require.NoError(t, err)

	fp := &retention.FraudProof{
		SlabID:        slab.SlabID,
		LeafIndex:     1,
		ReceiptJSON:   leaf,
		Violation:     retention.VMaxUnderreported,
		ClaimedBoundQ: 100 << 18, // receipt's v_next_q is well under this
		Path:          path,
	}
	ok, code, err := retention.SubmitFraudProof(store, fp, 1010)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, kerrors.InvalidViolation, code)
}

// Finalize before the retention period has elapsed: window_end 1000,
// retention 100, height 1050.
func TestFinalizeBeforeRetentionRejected(t *testing.T) {
	store, slab, _, _ := setup(t)
	_, err := retention.Advance(store, slab.SlabID, 1050)
	require.NoError(t, err)

	fin := &retention.FinalizeReceipt{
		SchemaID:        retention.FinalizeSchemaID,
		SlabID:          slab.SlabID,
		WindowEndHeight: 1000,
		BudgetQ:         5 << 18,
	}
	ok, code, err := retention.Finalize(store, fin, 1050)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, kerrors.RejectPrematureFinalize, code)
}

// A dispute blocks finalize forever.
func TestDisputeBlocksFinalize(t *testing.T) {
	store, slab, receipts, _ := setup(t)
	_, err := retention.Advance(store, slab.SlabID, 950)
	require.NoError(t, err)

	// Dispute with an INVALID_STATE_TRANSITION violation actually shown
	// by a rejected-decision receipt carrying a nonzero delta.
	bad := makeReceipt(1)
	bad.Decision = receipt.Rejected
	bad.RejectCode = kerrors.RejectLyapunovIncrease
	badReceipts := []*receipt.StepReceipt{receipts[0], bad, receipts[2]}
	badSlab, badTree, err := receipt.BuildSlab(badReceipts, 9, 1400, 1500, slab.PolicyID)
	require.NoError(t, err)
	require.NoError(t, retention.Register(store, badSlab))
	_, err = retention.Advance(store, badSlab.SlabID, 1450)
	require.NoError(t, err)

	badLeaf, err := bad.Leaf()
	require.NoError(t, err)
	path, err := badTree.Proof(1)
	require.NoError(t, err)
	ok, code, err := retention.SubmitFraudProof(store, &retention.FraudProof{
		SlabID:      badSlab.SlabID,
		LeafIndex:   1,
		ReceiptJSON: badLeaf,
		Violation:   retention.InvalidStateTransition,
		Path:        path,
	}, 1500)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kerrors.RetentionOK, code)

	fin := &retention.FinalizeReceipt{
		SchemaID:        retention.FinalizeSchemaID,
		SlabID:          badSlab.SlabID,
		WindowEndHeight: 1500,
		BudgetQ:         5 << 18,
	}
	ok, code, err = retention.Finalize(store, fin, 2200)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, kerrors.RejectDisputed, code)

	// And deletion never happens on a disputed slab.
	ok, code, err = retention.AuthorizeDeletion(store, badSlab.SlabID)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, kerrors.RejectDisputed, code)
}

func TestFinalizeAndDeleteHappyPath(t *testing.T) {
	store, slab, _, _ := setup(t)
	_, err := retention.Advance(store, slab.SlabID, 1100)
	require.NoError(t, err)

	fin := &retention.FinalizeReceipt{
		SchemaID:        retention.FinalizeSchemaID,
		SlabID:          slab.SlabID,
		WindowEndHeight: 1000,
		BudgetQ:         5 << 18,
	}
	ok, code, err := retention.Finalize(store, fin, 1100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kerrors.RetentionOK, code)

	// Idempotent: a replayed finalize on a Finalized slab is a no-op
	// success.
	ok, _, err = retention.Finalize(store, fin, 1200)
	require.NoError(t, err)
	require.True(t, ok)

	ok, code, err = retention.AuthorizeDeletion(store, slab.SlabID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kerrors.RetentionOK, code)

	got, found, err := store.GetSlab(slab.SlabID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, retention.Deleted, got.State)
}

func TestFinalizeBudgetInsufficient(t *testing.T) {
	store, slab, _, _ := setup(t)
	_, err := retention.Advance(store, slab.SlabID, 1100)
	require.NoError(t, err)

	fin := &retention.FinalizeReceipt{
		SchemaID:        retention.FinalizeSchemaID,
		SlabID:          slab.SlabID,
		WindowEndHeight: 1000,
		BudgetQ:         0, // under the policy's 1.0 Q18 minimum
	}
	ok, code, err := retention.Finalize(store, fin, 1100)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, kerrors.RejectBudgetInsufficient, code)
}

func TestFinalizeWindowMismatch(t *testing.T) {
	store, slab, _, _ := setup(t)
	_, err := retention.Advance(store, slab.SlabID, 1100)
	require.NoError(t, err)

	fin := &retention.FinalizeReceipt{
		SchemaID:        retention.FinalizeSchemaID,
		SlabID:          slab.SlabID,
		WindowEndHeight: 999, // wrong window end
		BudgetQ:         5 << 18,
	}
	ok, code, err := retention.Finalize(store, fin, 1100)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, kerrors.RejectWindowMismatch, code)
}

func TestSecondDisputeRejected(t *testing.T) {
	store, slab, receipts, _ := setup(t)
	_, err := retention.Advance(store, slab.SlabID, 950)
	require.NoError(t, err)

	bad := makeReceipt(1)
	bad.DBQ = 0
	badReceipts := []*receipt.StepReceipt{receipts[0], bad, receipts[2]}
	badSlab, badTree, err := receipt.BuildSlab(badReceipts, 10, 900, 1000, slab.PolicyID)
	require.NoError(t, err)
	require.NoError(t, retention.Register(store, badSlab))
	_, err = retention.Advance(store, badSlab.SlabID, 950)
	require.NoError(t, err)

	badLeaf, err := bad.Leaf()
	require.NoError(t, err)
	path, err := badTree.Proof(1)
	require.NoError(t, err)
	fp := &retention.FraudProof{
		SlabID:      badSlab.SlabID,
		LeafIndex:   1,
		ReceiptJSON: badLeaf,
		Violation:   retention.BudgetUnderreported,
		Path:        path,
	}
	ok, _, err := retention.SubmitFraudProof(store, fp, 1000)
	require.NoError(t, err)
	require.True(t, ok)

	ok, code, err := retention.SubmitFraudProof(store, fp, 1001)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, kerrors.RejectAlreadyDisputed, code)
}

func TestPolicyIDContentAddressed(t *testing.T) {
	p1 := testPolicy()
	p2 := testPolicy()
	id1, err := p1.ID()
	require.NoError(t, err)
	id2, err := p2.ID()
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	p2.RetentionPeriodBlocks++
	id3, err := p2.ID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id3)
}
