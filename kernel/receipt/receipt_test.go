package receipt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cohkernel/gmk/kernel/kerrors"
	"github.com/cohkernel/gmk/kernel/khash"
	"github.com/cohkernel/gmk/kernel/receipt"
)

func sampleReceipt() *receipt.StepReceipt {
	r := &receipt.StepReceipt{
		SchemaID:           receipt.SchemaID,
		StepIndex:          3,
		ChainPrev:          khash.GenesisZero,
		StateHashPrev:      khash.GenesisZero,
		StateHashNext:      khash.GenesisZero,
		ActionHash:         khash.GenesisZero,
		ProposalSetRoot:    khash.GenesisZero,
		ChosenProposalHash: khash.GenesisZero,
		ChosenPlanIndex:    -1,
		VPrevQ:             5 << 18,
		VNextQ:             4 << 18,
		DVQ:                -1 << 18,
		BPrevQ:             9 << 18,
		BNextQ:             8 << 18,
		DBQ:                1 << 18,
		Decision:           receipt.Accepted,
		Work:               receipt.WorkUnits{TickCostQ: 1 << 18, TotalQ: 1 << 18},
		SeedCommit:         khash.GenesisZero,
	}
	return r
}

// Tamper detection: mutating any receipt_core field changes chain_next;
// mutating transport metadata does not.
func TestCoreTamperChangesChainHash(t *testing.T) {
	r := sampleReceipt()
	require.NoError(t, r.FinalizeChainHash())
	original := r.ChainNext

	r.BNextQ++
	require.NoError(t, r.FinalizeChainHash())
	require.NotEqual(t, original, r.ChainNext)
}

func TestEnvelopeDoesNotAffectChainHash(t *testing.T) {
	r := sampleReceipt()
	require.NoError(t, r.FinalizeChainHash())
	original := r.ChainNext

	r.Timestamp = 1234567890
	r.SignerAddr = "gmk1qqqq"
	r.Signature = []byte{1, 2, 3}
	require.NoError(t, r.FinalizeChainHash())
	require.Equal(t, original, r.ChainNext)
}

// The projection record is part of receipt_core: flipping a clamp flag
// changes chain_next.
func TestProjectedFlagsEnterChainHash(t *testing.T) {
	r := sampleReceipt()
	require.NoError(t, r.FinalizeChainHash())
	original := r.ChainNext

	r.Projected.Rho = true
	require.NoError(t, r.FinalizeChainHash())
	require.NotEqual(t, original, r.ChainNext)
}

func TestVerifyChainHash(t *testing.T) {
	r := sampleReceipt()
	require.NoError(t, r.FinalizeChainHash())
	ok, err := r.VerifyChainHash()
	require.NoError(t, err)
	require.True(t, ok)

	r.DVQ = 0
	ok, err = r.VerifyChainHash()
	require.NoError(t, err)
	require.False(t, ok)
}

// ParseCore round-trips a receipt through its canonical bytes.
func TestParseCoreRoundTrip(t *testing.T) {
	r := sampleReceipt()
	r.RejectCode = kerrors.RejectNone
	leaf, err := r.Leaf()
	require.NoError(t, err)

	parsed, err := receipt.ParseCore(leaf)
	require.NoError(t, err)
	require.Equal(t, r.Core(), parsed.Core())

	reLeaf, err := parsed.Leaf()
	require.NoError(t, err)
	require.Equal(t, leaf, reLeaf)
}

func TestParseCoreRejectsUnknownSchema(t *testing.T) {
	r := sampleReceipt()
	r.SchemaID = "gmk.step_receipt.v999"
	leaf, err := r.Leaf()
	require.NoError(t, err)

	_, err = receipt.ParseCore(leaf)
	require.ErrorIs(t, err, kerrors.ErrSchemaMismatch)
}

func TestBuildSlabAnchorsLastReceipt(t *testing.T) {
	r1 := sampleReceipt()
	require.NoError(t, r1.FinalizeChainHash())
	r2 := sampleReceipt()
	r2.StepIndex = 4
	r2.ChainPrev = r1.ChainNext
	require.NoError(t, r2.FinalizeChainHash())

	slab, tree, err := receipt.BuildSlab([]*receipt.StepReceipt{r1, r2}, 1, 0, 10, khash.GenesisZero)
	require.NoError(t, err)
	require.Equal(t, 2, slab.ReceiptCount)
	require.Equal(t, r2.ChainNext, slab.ChainAnchor)
	require.Equal(t, tree.Root(), slab.ReceiptsRoot)

	hash, err := slab.Hash()
	require.NoError(t, err)
	require.NotEmpty(t, hash)
}
